package storage

import (
	"context"
	"sync"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

// Memory is a mutex-guarded in-memory Store implementation.
type Memory[T any] struct {
	mu       sync.RWMutex
	kind     string
	entities map[string]T
	id       func(T) string
	clone    func(T) T
}

// NewMemory constructs a memory store. kind names the entity in NotFound
// errors; id extracts an entity's key; clone guards against shared mutable
// state and may be nil for entities treated as immutable by callers.
func NewMemory[T any](kind string, id func(T) string, clone func(T) T) *Memory[T] {
	return &Memory[T]{
		kind:     kind,
		entities: make(map[string]T),
		id:       id,
		clone:    clone,
	}
}

// Get retrieves one entity by id.
func (s *Memory[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		var zero T
		return zero, domain.NewNotFound(s.kind, id)
	}
	return s.copyOf(entity), nil
}

// List returns every stored entity in unspecified order.
func (s *Memory[T]) List(_ context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.entities))
	for _, entity := range s.entities {
		out = append(out, s.copyOf(entity))
	}
	return out, nil
}

// Save inserts or replaces the entity under its id. Last writer wins.
func (s *Memory[T]) Save(_ context.Context, entity T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[s.id(entity)] = s.copyOf(entity)
	return nil
}

// Delete removes the entity; deleting a missing id is a NotFound error.
func (s *Memory[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return domain.NewNotFound(s.kind, id)
	}
	delete(s.entities, id)
	return nil
}

// Len reports the number of stored entities.
func (s *Memory[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func (s *Memory[T]) copyOf(entity T) T {
	if s.clone == nil {
		return entity
	}
	return s.clone(entity)
}

// NewMemoryPolicyStore creates an in-memory policy repository.
func NewMemoryPolicyStore() *Memory[*domain.Policy] {
	return NewMemory("policy", func(p *domain.Policy) string { return p.ID }, (*domain.Policy).Clone)
}

// NewMemoryViolationStore creates an in-memory violation repository.
// Violations are immutable apart from status, which callers update through
// Save, so no clone hook is needed.
func NewMemoryViolationStore() *Memory[*domain.Violation] {
	return NewMemory("violation", func(v *domain.Violation) string { return v.ID }, nil)
}

// NewMemoryIncidentStore creates an in-memory incident repository.
func NewMemoryIncidentStore() *Memory[*domain.Incident] {
	return NewMemory("incident", func(i *domain.Incident) string { return i.ID }, (*domain.Incident).Clone)
}

// NewMemoryPlanStore creates an in-memory remediation plan repository.
func NewMemoryPlanStore() *Memory[*domain.RemediationPlan] {
	return NewMemory("remediation plan", func(p *domain.RemediationPlan) string { return p.ID }, (*domain.RemediationPlan).Clone)
}

// NewMemoryAutoRemediationRuleStore creates an in-memory rule repository.
func NewMemoryAutoRemediationRuleStore() *Memory[*domain.AutoRemediationRule] {
	return NewMemory("auto-remediation rule", func(r *domain.AutoRemediationRule) string { return r.ID }, (*domain.AutoRemediationRule).Clone)
}
