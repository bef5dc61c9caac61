// Package storage provides arena-style repositories for the engine's working
// set. The core holds entities in memory behind these narrow load/save
// interfaces so a durable datastore can be substituted without touching
// evaluation logic.
package storage

import (
	"context"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

// Store is the load-all/save-one contract every entity repository satisfies.
// Keys are opaque identifiers, never positional indices.
type Store[T any] interface {
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context) ([]T, error)
	Save(ctx context.Context, entity T) error
	Delete(ctx context.Context, id string) error
}

// Per-entity aliases keep call sites readable.
type (
	PolicyStore              = Store[*domain.Policy]
	ViolationStore           = Store[*domain.Violation]
	IncidentStore            = Store[*domain.Incident]
	RemediationPlanStore     = Store[*domain.RemediationPlan]
	AutoRemediationRuleStore = Store[*domain.AutoRemediationRule]
)
