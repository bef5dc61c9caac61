package enforcement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

func TestExecuteMixedBatch(t *testing.T) {
	ctx := context.Background()
	x := NewExecutor(Options{})

	target := Target{ResourceID: "db-1", ResourceType: "database"}
	result := x.Execute(ctx, []domain.EnforcementAction{
		{Type: domain.ActionNotify, Params: map[string]any{"channel": "sec"}},
		{Type: "self_destruct"},
		{Type: domain.ActionTag},
	}, target)

	// The unknown action fails alone; the batch result is the AND.
	require.False(t, result.Success)
	require.Len(t, result.Actions, 3)
	require.True(t, result.Actions[0].Success)
	require.False(t, result.Actions[1].Success)
	require.Contains(t, result.Actions[1].Error, "self_destruct")
	require.True(t, result.Actions[2].Success)
	require.Equal(t, "db-1", result.ResourceID)
}

func TestExecuteAllSucceed(t *testing.T) {
	ctx := context.Background()
	x := NewExecutor(Options{})

	result := x.Execute(ctx, []domain.EnforcementAction{
		{Type: domain.ActionBlock},
		{Type: domain.ActionQuarantine},
		{Type: domain.ActionRemediate},
	}, Target{ResourceID: "vm-1", ResourceType: "virtual_machine"})

	require.True(t, result.Success)
	for _, outcome := range result.Actions {
		require.True(t, outcome.Success)
		require.Empty(t, outcome.Error)
	}
}

func TestExecuteActionTimeout(t *testing.T) {
	ctx := context.Background()

	slow := NewSimulatedHandler(nil)
	slow.Delay = 200 * time.Millisecond
	x := NewExecutor(Options{Handler: slow, ActionTimeout: 20 * time.Millisecond})

	result := x.Execute(ctx, []domain.EnforcementAction{
		{Type: domain.ActionNotify},
	}, Target{ResourceID: "db-1"})

	require.False(t, result.Success)
	require.Contains(t, result.Actions[0].Error, "deadline")
}

func TestExecutorStatistics(t *testing.T) {
	ctx := context.Background()
	x := NewExecutor(Options{})

	x.Execute(ctx, []domain.EnforcementAction{
		{Type: domain.ActionNotify},
		{Type: domain.ActionTag},
	}, Target{ResourceID: "db-1", ResourceType: "database"})
	x.Execute(ctx, []domain.EnforcementAction{
		{Type: "bogus"},
	}, Target{ResourceID: "vm-1", ResourceType: "virtual_machine"})

	stats := x.Statistics()
	require.Equal(t, 2, stats.TotalInvocations)
	require.Equal(t, 3, stats.TotalActions)
	require.Equal(t, 1, stats.ByActionType["notify"])
	require.Equal(t, 1, stats.ByActionType["bogus"])
	require.Equal(t, 2, stats.ByResourceType["database"])
	require.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.001)

	require.Len(t, x.History(), 2)
}
