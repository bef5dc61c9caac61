package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

// regoQuery is the decision path rego-typed rules must populate: a module in
// `package compliance` exposing a boolean `violation` rule.
const regoQuery = "data.compliance.violation"

// regoEvaluator compiles and caches prepared queries for rego-typed rules.
type regoEvaluator struct {
	mu      sync.RWMutex
	queries map[string]*rego.PreparedEvalQuery
}

func newRegoEvaluator() *regoEvaluator {
	return &regoEvaluator{queries: make(map[string]*rego.PreparedEvalQuery)}
}

// Fires evaluates the rule's embedded Rego module against the context and
// reports whether it flags a violation. Modules are compiled once per source
// revision and reused across evaluations.
func (e *regoEvaluator) Fires(ctx context.Context, rule domain.Rule, evalCtx domain.EvalContext) (bool, error) {
	if rule.Module == "" {
		return false, fmt.Errorf("%w: rego rule %s has no module", domain.ErrValidation, rule.ID)
	}

	prepared, err := e.prepared(ctx, rule)
	if err != nil {
		return false, err
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(map[string]any(evalCtx)))
	if err != nil {
		return false, fmt.Errorf("rego decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	fired, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("rego decision: expected boolean, got %T", results[0].Expressions[0].Value)
	}
	return fired, nil
}

func (e *regoEvaluator) prepared(ctx context.Context, rule domain.Rule) (*rego.PreparedEvalQuery, error) {
	sum := sha256.Sum256([]byte(rule.Module))
	key := rule.ID + ":" + hex.EncodeToString(sum[:8])

	e.mu.RLock()
	if prepared, ok := e.queries[key]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	module, err := ast.ParseModuleWithOpts(rule.ID+".rego", rule.Module, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego module for rule %s: %w", rule.ID, err)
	}

	r := rego.New(
		rego.Query(regoQuery),
		rego.ParsedModule(module),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego module for rule %s: %w", rule.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[key]; ok {
		return existing, nil
	}
	e.queries[key] = &prepared
	return &prepared, nil
}
