// Package sink delivers experiment exposure tuples to a metrics backend.
package sink

import (
	"context"
	"sync"

	"pqshield/internal/rollout/models"
)

// InMemorySink collects exposures in memory. Used in tests and as the
// default when no Kafka brokers are configured.
type InMemorySink struct {
	mu        sync.Mutex
	exposures []models.Exposure
}

// NewInMemory creates an empty in-memory sink.
func NewInMemory() *InMemorySink {
	return &InMemorySink{}
}

// Record appends the exposure.
func (s *InMemorySink) Record(_ context.Context, exposure models.Exposure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposures = append(s.exposures, exposure)
	return nil
}

// Exposures returns a copy of everything recorded.
func (s *InMemorySink) Exposures() []models.Exposure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Exposure, len(s.exposures))
	copy(out, s.exposures)
	return out
}
