package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

// EvaluateCondition resolves the condition's field path against the context
// and applies its comparison operator. Evaluation fails closed: an unresolved
// path satisfies only not_exists, and an unknown operator yields false.
func EvaluateCondition(cond domain.Condition, ctx domain.EvalContext) bool {
	value, found := ctx.Get(cond.Field)

	switch cond.Operator {
	case domain.OpExists:
		return found
	case domain.OpNotExists:
		return !found
	}

	if !found {
		return false
	}

	switch cond.Operator {
	case domain.OpEquals:
		return looseEquals(value, cond.Value)
	case domain.OpNotEquals:
		return !looseEquals(value, cond.Value)
	case domain.OpContains:
		return strings.Contains(toText(value), toText(cond.Value))
	case domain.OpNotContains:
		return !strings.Contains(toText(value), toText(cond.Value))
	case domain.OpRegex:
		re, err := regexp.Compile(toText(cond.Value))
		if err != nil {
			return false
		}
		return re.MatchString(toText(value))
	case domain.OpGreaterThan:
		left, lok := toFloat(value)
		right, rok := toFloat(cond.Value)
		return lok && rok && left > right
	case domain.OpLessThan:
		left, lok := toFloat(value)
		right, rok := toFloat(cond.Value)
		return lok && rok && left < right
	default:
		return false
	}
}

// EvaluateConditions folds condition verdicts strictly left to right: the
// first condition seeds the accumulator and each subsequent condition combines
// with it using that condition's own logical operator (AND when absent).
// There is no operator precedence beyond declaration order.
func EvaluateConditions(conds []domain.Condition, ctx domain.EvalContext) bool {
	if len(conds) == 0 {
		return false
	}

	acc := EvaluateCondition(conds[0], ctx)
	for _, cond := range conds[1:] {
		result := EvaluateCondition(cond, ctx)
		if cond.Logical == domain.LogicalOr {
			acc = acc || result
		} else {
			acc = acc && result
		}
	}
	return acc
}

// looseEquals compares values the way rule authors expect: cross-type numeric
// equality, then native string/bool comparison, then textual fallback.
func looseEquals(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}

	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
	}

	switch l := left.(type) {
	case string:
		if r, ok := right.(string); ok {
			return l == r
		}
	case bool:
		if r, ok := right.(bool); ok {
			return l == r
		}
	}

	return toText(left) == toText(right)
}

func toText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
