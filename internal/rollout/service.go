// Package rollout deterministically buckets user identifiers into control
// or treatment groups per experiment, enabling staged percentage-based
// enablement without persisted per-user state.
package rollout

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"

	"pqshield/internal/rollout/models"
	"pqshield/internal/rollout/ports"
	id "pqshield/pkg/domain"
	dErrors "pqshield/pkg/domain-errors"
)

// bucketGranularity slices [0,100) into 0.01% buckets.
const bucketGranularity = 10000

// Service answers enablement questions from a stable hash and the
// configured percentage. Raising a percentage only ever adds users to
// treatment: a user's bucket value is fixed, so everyone below the old
// threshold stays below the new one.
type Service struct {
	store  ports.ConfigStore
	sink   ports.ExposureSink
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithExposureSink forwards exposure tuples to an experiment metrics sink.
func WithExposureSink(sink ports.ExposureSink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// New creates a rollout service backed by a config store.
func New(store ports.ConfigStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("rollout config store is required")
	}

	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IsEnabled reports whether the user is in the treatment group for the
// experiment. Deterministic for fixed inputs across restarts and languages.
func (s *Service) IsEnabled(ctx context.Context, experimentID id.ExperimentID, userID id.UserID) (bool, error) {
	variant, err := s.Assignment(ctx, experimentID, userID)
	if err != nil {
		return false, err
	}
	return variant == models.VariantTreatment, nil
}

// Assignment returns the user's variant for the experiment.
func (s *Service) Assignment(ctx context.Context, experimentID id.ExperimentID, userID id.UserID) (models.Variant, error) {
	if experimentID == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "experiment_id is required")
	}
	if userID.IsEmpty() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}

	percentage, err := s.store.GetPercentage(ctx, experimentID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load rollout percentage")
	}

	if Bucket(experimentID, userID) < percentage {
		return models.VariantTreatment, nil
	}
	return models.VariantControl, nil
}

// SetRolloutPercentage updates an experiment's percentage. Administrative
// operation; [0,100] inclusive.
func (s *Service) SetRolloutPercentage(ctx context.Context, experimentID id.ExperimentID, percentage float64) error {
	if experimentID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "experiment_id is required")
	}
	if percentage < 0 || percentage > 100 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "percentage must be in [0,100], got %v", percentage)
	}

	if err := s.store.SetPercentage(ctx, experimentID, percentage); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update rollout percentage")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "rollout percentage updated",
			"experiment_id", experimentID,
			"percentage", percentage,
		)
	}
	return nil
}

// Percentages returns all configured experiments for health reporting.
func (s *Service) Percentages(ctx context.Context) (map[id.ExperimentID]float64, error) {
	configured, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list experiments")
	}
	return configured, nil
}

// RecordMetric forwards an observation tuple to the exposure sink, if one
// is configured. Sink failures are logged, never propagated: losing a
// metric must not fail the protected operation.
func (s *Service) RecordMetric(ctx context.Context, userID id.UserID, experimentID id.ExperimentID, variant models.Variant, metric string, value float64) {
	if s.sink == nil {
		return
	}
	err := s.sink.Record(ctx, models.Exposure{
		UserID:       userID,
		ExperimentID: experimentID,
		Variant:      variant,
		Metric:       metric,
		Value:        value,
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to record exposure metric",
			"experiment_id", experimentID,
			"metric", metric,
			"error", err,
		)
	}
}

// Bucket maps (experimentID, userID) to a stable value in [0,100).
// SHA-256 rather than a language-default hash, so other services bucketing
// the same user agree on the assignment.
func Bucket(experimentID id.ExperimentID, userID id.UserID) float64 {
	sum := sha256.Sum256([]byte(experimentID.String() + ":" + userID.String()))
	h := binary.BigEndian.Uint64(sum[:8])
	return float64(h%bucketGranularity) / (bucketGranularity / 100)
}
