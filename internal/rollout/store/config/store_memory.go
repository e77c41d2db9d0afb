// Package config stores rollout percentages per experiment.
package config

import (
	"context"
	"sync"

	id "pqshield/pkg/domain"
)

// InMemoryConfigStore keeps percentages in process memory. Suitable for
// single-instance deployments and tests; use RedisConfigStore when multiple
// instances must agree on rollout configuration.
type InMemoryConfigStore struct {
	mu          sync.RWMutex
	percentages map[id.ExperimentID]float64
}

// New creates an empty in-memory config store.
func New() *InMemoryConfigStore {
	return &InMemoryConfigStore{
		percentages: make(map[id.ExperimentID]float64),
	}
}

// NewWithDefaults creates a store preloaded with experiment percentages.
func NewWithDefaults(defaults map[id.ExperimentID]float64) *InMemoryConfigStore {
	s := New()
	for exp, pct := range defaults {
		s.percentages[exp] = pct
	}
	return s
}

// GetPercentage returns the configured percentage; unknown experiments are
// fully disabled.
func (s *InMemoryConfigStore) GetPercentage(_ context.Context, experimentID id.ExperimentID) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.percentages[experimentID], nil
}

// SetPercentage updates an experiment's percentage.
func (s *InMemoryConfigStore) SetPercentage(_ context.Context, experimentID id.ExperimentID, percentage float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.percentages[experimentID] = percentage
	return nil
}

// SeedPercentage stores the percentage unless the experiment already has
// one. A stored 0 counts as configured and is kept.
func (s *InMemoryConfigStore) SeedPercentage(_ context.Context, experimentID id.ExperimentID, percentage float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.percentages[experimentID]; !ok {
		s.percentages[experimentID] = percentage
	}
	return nil
}

// List returns a copy of all configured experiments.
func (s *InMemoryConfigStore) List(_ context.Context) (map[id.ExperimentID]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[id.ExperimentID]float64, len(s.percentages))
	for exp, pct := range s.percentages {
		out[exp] = pct
	}
	return out, nil
}
