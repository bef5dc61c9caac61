package enforcement

import (
	"context"
	"log/slog"
	"time"
)

// SimulatedHandler implements ActionHandler by logging intended outcomes
// instead of calling external systems. Delay, when set, models call latency
// and makes timeout behaviour testable.
type SimulatedHandler struct {
	logger *slog.Logger

	// Delay is applied before each simulated call completes.
	Delay time.Duration
}

// NewSimulatedHandler constructs a logging no-op handler.
func NewSimulatedHandler(logger *slog.Logger) *SimulatedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedHandler{logger: logger}
}

func (h *SimulatedHandler) Block(ctx context.Context, target Target, params map[string]any) error {
	return h.simulate(ctx, "block", target, params)
}

func (h *SimulatedHandler) Notify(ctx context.Context, target Target, params map[string]any) error {
	return h.simulate(ctx, "notify", target, params)
}

func (h *SimulatedHandler) Tag(ctx context.Context, target Target, params map[string]any) error {
	return h.simulate(ctx, "tag", target, params)
}

func (h *SimulatedHandler) Quarantine(ctx context.Context, target Target, params map[string]any) error {
	return h.simulate(ctx, "quarantine", target, params)
}

func (h *SimulatedHandler) Remediate(ctx context.Context, target Target, params map[string]any) error {
	return h.simulate(ctx, "remediate", target, params)
}

func (h *SimulatedHandler) simulate(ctx context.Context, kind string, target Target, params map[string]any) error {
	if h.Delay > 0 {
		select {
		case <-time.After(h.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.logger.Info("simulated enforcement action",
		"action", kind, "resource_id", target.ResourceID, "resource_type", target.ResourceType, "params", params)
	return nil
}
