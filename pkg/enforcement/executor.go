// Package enforcement executes enforcement actions against resources and
// keeps a bounded history of outcomes for statistics queries.
package enforcement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/telemetry"
)

const (
	// DefaultActionTimeout bounds each individual action execution.
	DefaultActionTimeout = 5 * time.Second

	historyLimit = 1000
)

// Target identifies the resource an action batch applies to.
type Target struct {
	ResourceID   string
	ResourceType string
	Context      domain.EvalContext
}

// ActionHandler is the capability interface behind the executor, one method
// per action family. The shipped implementation simulates external calls; a
// real integration substitutes behind the same interface.
type ActionHandler interface {
	Block(ctx context.Context, target Target, params map[string]any) error
	Notify(ctx context.Context, target Target, params map[string]any) error
	Tag(ctx context.Context, target Target, params map[string]any) error
	Quarantine(ctx context.Context, target Target, params map[string]any) error
	Remediate(ctx context.Context, target Target, params map[string]any) error
}

// Options configure executor construction.
type Options struct {
	Handler       ActionHandler
	Logger        *slog.Logger
	Metrics       *telemetry.Metrics
	ActionTimeout time.Duration
	Clock         func() time.Time
}

// Executor runs enforcement actions with per-action isolation: one action's
// failure never prevents the rest of the batch from executing.
type Executor struct {
	handler ActionHandler
	logger  *slog.Logger
	metrics *telemetry.Metrics
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	history []domain.EnforcementResult
}

// NewExecutor constructs an Executor applying defaults for unset options.
func NewExecutor(opts Options) *Executor {
	handler := opts.Handler
	if handler == nil {
		handler = NewSimulatedHandler(opts.Logger)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Executor{
		handler: handler,
		logger:  logger,
		metrics: opts.Metrics,
		timeout: timeout,
		now:     clock,
	}
}

// Execute runs every action independently against the target and records the
// invocation in the enforcement history. The result's Success is the logical
// AND over all individual outcomes; an unknown action type fails only that
// action.
func (x *Executor) Execute(ctx context.Context, actions []domain.EnforcementAction, target Target) domain.EnforcementResult {
	result := domain.EnforcementResult{
		ID:           uuid.NewString(),
		ResourceID:   target.ResourceID,
		ResourceType: target.ResourceType,
		Success:      true,
		Actions:      make([]domain.ActionOutcome, 0, len(actions)),
		ExecutedAt:   x.now().UTC(),
	}

	for _, action := range actions {
		outcome := domain.ActionOutcome{
			Type:    string(action.Type),
			Params:  action.Params,
			Success: true,
		}

		if err := x.runOne(ctx, action, target); err != nil {
			outcome.Success = false
			outcome.Error = err.Error()
			result.Success = false
			x.logger.Warn("enforcement action failed",
				"action_type", action.Type, "resource_id", target.ResourceID, "error", err)
		}

		x.metrics.RecordEnforcement(string(action.Type), outcome.Success)
		result.Actions = append(result.Actions, outcome)
	}

	x.record(result)
	return result
}

// runOne dispatches a single action under the per-action timeout. A timed-out
// action is recorded as failed, never retried.
func (x *Executor) runOne(ctx context.Context, action domain.EnforcementAction, target Target) error {
	actionCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- x.dispatch(actionCtx, action, target)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &domain.ExecutionError{ActionType: string(action.Type), Err: err}
		}
		return nil
	case <-actionCtx.Done():
		return &domain.ExecutionError{ActionType: string(action.Type), Err: actionCtx.Err()}
	}
}

func (x *Executor) dispatch(ctx context.Context, action domain.EnforcementAction, target Target) error {
	switch action.Type {
	case domain.ActionBlock:
		return x.handler.Block(ctx, target, action.Params)
	case domain.ActionNotify:
		return x.handler.Notify(ctx, target, action.Params)
	case domain.ActionTag:
		return x.handler.Tag(ctx, target, action.Params)
	case domain.ActionQuarantine:
		return x.handler.Quarantine(ctx, target, action.Params)
	case domain.ActionRemediate:
		return x.handler.Remediate(ctx, target, action.Params)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (x *Executor) record(result domain.EnforcementResult) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.history = append(x.history, result)
	if len(x.history) > historyLimit {
		x.history = x.history[len(x.history)-historyLimit:]
	}
}

// History returns a copy of the bounded enforcement history, oldest first.
func (x *Executor) History() []domain.EnforcementResult {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]domain.EnforcementResult(nil), x.history...)
}

// Statistics aggregates the enforcement history.
type Statistics struct {
	TotalInvocations int            `json:"total_invocations"`
	TotalActions     int            `json:"total_actions"`
	ByActionType     map[string]int `json:"by_action_type"`
	ByResourceType   map[string]int `json:"by_resource_type"`
	SuccessRate      float64        `json:"success_rate"`
}

// Statistics computes counts by action and resource type and the per-action
// success rate across the retained history.
func (x *Executor) Statistics() Statistics {
	x.mu.RLock()
	defer x.mu.RUnlock()

	stats := Statistics{
		TotalInvocations: len(x.history),
		ByActionType:     make(map[string]int),
		ByResourceType:   make(map[string]int),
	}

	succeeded := 0
	for _, result := range x.history {
		if result.ResourceType != "" {
			stats.ByResourceType[result.ResourceType] += len(result.Actions)
		}
		for _, outcome := range result.Actions {
			stats.TotalActions++
			stats.ByActionType[outcome.Type]++
			if outcome.Success {
				succeeded++
			}
		}
	}
	if stats.TotalActions > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.TotalActions)
	}
	return stats
}
