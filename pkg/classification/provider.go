// Package classification defines the data-classification collaborator
// consumed by the validation orchestrator. Detection itself is external; this
// package only carries the lookup contract and a static in-memory provider.
package classification

import (
	"context"
	"sync"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

// Classification describes how a resource's data is classified. The retention
// period uses the definition grammar ("90d", "1y") when serialized.
type Classification struct {
	Level           string        `json:"level"`
	ContainsPII     bool          `json:"contains_pii"`
	RetentionPeriod domain.Period `json:"retention_period,omitempty"`
}

// Provider looks up the classification recorded for a resource. The boolean
// is false when no classification exists.
type Provider interface {
	GetClassification(ctx context.Context, resourceID string) (Classification, bool, error)
}

// StaticProvider is a mutex-guarded map provider, used standalone and as the
// test double for real integrations.
type StaticProvider struct {
	mu      sync.RWMutex
	entries map[string]Classification
}

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{entries: make(map[string]Classification)}
}

// Set records a classification for the resource.
func (p *StaticProvider) Set(resourceID string, c Classification) {
	p.mu.Lock()
	p.entries[resourceID] = c
	p.mu.Unlock()
}

// GetClassification implements Provider.
func (p *StaticProvider) GetClassification(_ context.Context, resourceID string) (Classification, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.entries[resourceID]
	return c, ok, nil
}
