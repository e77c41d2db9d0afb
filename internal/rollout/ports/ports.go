// Package ports defines shared interfaces for the rollout module.
package ports

import (
	"context"

	"pqshield/internal/rollout/models"
	id "pqshield/pkg/domain"
)

// ConfigStore holds rollout percentages per experiment. Read-mostly;
// updated only by administrative action. The Redis implementation is the
// cross-instance consistency extension point.
type ConfigStore interface {
	// GetPercentage returns the configured rollout percentage in [0,100].
	// Unknown experiments return 0 (fully disabled), not an error.
	GetPercentage(ctx context.Context, experimentID id.ExperimentID) (float64, error)

	// SetPercentage updates the rollout percentage for an experiment.
	SetPercentage(ctx context.Context, experimentID id.ExperimentID, percentage float64) error

	// SeedPercentage writes the percentage only when the experiment has no
	// stored value at all. An explicitly stored value, including 0, is never
	// overwritten; startup defaults must not undo administrative changes.
	SeedPercentage(ctx context.Context, experimentID id.ExperimentID, percentage float64) error

	// List returns all configured experiments.
	List(ctx context.Context) (map[id.ExperimentID]float64, error)
}

// ExposureSink accepts experiment observation tuples. Implementations must
// not block the request path on delivery.
type ExposureSink interface {
	Record(ctx context.Context, exposure models.Exposure) error
}
