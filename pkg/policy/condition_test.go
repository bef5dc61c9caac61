package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

func TestEvaluateCondition(t *testing.T) {
	ctx := domain.EvalContext{
		"mfa_enabled":   false,
		"name":          "prod-db-01",
		"instance_size": 8,
		"count_text":    "12",
		"owner":         nil,
	}

	tests := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"equals bool", domain.Condition{Field: "mfa_enabled", Operator: domain.OpEquals, Value: false}, true},
		{"equals cross-type numeric", domain.Condition{Field: "instance_size", Operator: domain.OpEquals, Value: "8"}, true},
		{"equals string numeric", domain.Condition{Field: "count_text", Operator: domain.OpEquals, Value: 12}, true},
		{"not_equals", domain.Condition{Field: "name", Operator: domain.OpNotEquals, Value: "other"}, true},
		{"contains", domain.Condition{Field: "name", Operator: domain.OpContains, Value: "prod"}, true},
		{"not_contains", domain.Condition{Field: "name", Operator: domain.OpNotContains, Value: "dev"}, true},
		{"regex match", domain.Condition{Field: "name", Operator: domain.OpRegex, Value: `^prod-.*-\d+$`}, true},
		{"regex invalid pattern fails closed", domain.Condition{Field: "name", Operator: domain.OpRegex, Value: "("}, false},
		{"greater_than", domain.Condition{Field: "instance_size", Operator: domain.OpGreaterThan, Value: 4}, true},
		{"greater_than false", domain.Condition{Field: "instance_size", Operator: domain.OpGreaterThan, Value: 8}, false},
		{"less_than string coercion", domain.Condition{Field: "count_text", Operator: domain.OpLessThan, Value: 20}, true},
		{"numeric on non-numeric fails closed", domain.Condition{Field: "name", Operator: domain.OpGreaterThan, Value: 1}, false},
		{"exists", domain.Condition{Field: "mfa_enabled", Operator: domain.OpExists}, true},
		{"exists nil value", domain.Condition{Field: "owner", Operator: domain.OpExists}, true},
		{"not_exists", domain.Condition{Field: "missing", Operator: domain.OpNotExists}, true},
		{"unresolved path fails other operators", domain.Condition{Field: "missing", Operator: domain.OpEquals, Value: "x"}, false},
		{"unresolved not_equals also fails", domain.Condition{Field: "missing", Operator: domain.OpNotEquals, Value: "x"}, false},
		{"unknown operator fails closed", domain.Condition{Field: "name", Operator: "between", Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, EvaluateCondition(tt.cond, ctx))
		})
	}
}

func TestEvaluateConditionsFoldOrder(t *testing.T) {
	ctx := domain.EvalContext{"a": true, "b": false, "c": true}

	isTrue := func(field string, logical domain.LogicalOperator) domain.Condition {
		return domain.Condition{Field: field, Operator: domain.OpEquals, Value: true, Logical: logical}
	}

	// (a AND b) OR c: left-to-right fold, no precedence.
	require.True(t, EvaluateConditions([]domain.Condition{
		isTrue("a", ""),
		isTrue("b", domain.LogicalAnd),
		isTrue("c", domain.LogicalOr),
	}, ctx))

	// (a OR c) AND b evaluates false.
	require.False(t, EvaluateConditions([]domain.Condition{
		isTrue("a", ""),
		isTrue("c", domain.LogicalOr),
		isTrue("b", domain.LogicalAnd),
	}, ctx))

	// Missing logical operator means AND.
	require.False(t, EvaluateConditions([]domain.Condition{
		isTrue("a", ""),
		isTrue("b", ""),
	}, ctx))
}

func TestEvaluateConditionsEmptyNeverFires(t *testing.T) {
	require.False(t, EvaluateConditions(nil, domain.EvalContext{"a": true}))
	require.False(t, EvaluateConditions([]domain.Condition{}, domain.EvalContext{}))
}

// The first condition's own logical operator never affects a single-condition
// verdict.
func TestSingleConditionIgnoresLogicalOperator(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.Bool().Draw(t, "value")
		logical := rapid.SampledFrom([]domain.LogicalOperator{
			"", domain.LogicalAnd, domain.LogicalOr,
		}).Draw(t, "logical")

		ctx := domain.EvalContext{"flag": value}
		cond := domain.Condition{Field: "flag", Operator: domain.OpEquals, Value: true, Logical: logical}

		require.Equal(t, value, EvaluateConditions([]domain.Condition{cond}, ctx))
	})
}
