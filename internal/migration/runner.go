// Package migration walks the protected-record store and re-protects
// records under a target algorithm family. Runs are batch-oriented and
// restartable: batches page by keyset cursor, each record is swapped
// atomically, and records already under the target family are skipped, so
// a re-run after interruption converges without double work.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/service"
	"pqshield/internal/record"
	id "pqshield/pkg/domain"
	dErrors "pqshield/pkg/domain-errors"
)

// Mode selects the migration direction.
type Mode string

const (
	// ModeUpgrade re-protects records under the post-quantum family.
	ModeUpgrade Mode = "UPGRADE"
	// ModeRollback re-protects records under the classical family.
	ModeRollback Mode = "ROLLBACK"
)

// Options tune a migration run. Zero values take defaults.
type Options struct {
	// BatchSize is how many records each page fetches. Default 100.
	BatchSize int
	// Workers bounds concurrent re-protections within a batch. Default 4.
	Workers int
	// MaxAttempts caps retries per record. Default 3.
	MaxAttempts int
	// DryRun walks and re-protects without writing anything back.
	DryRun bool
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// RecordError is one record's terminal failure after exhausting retries.
type RecordError struct {
	RecordID id.RecordID `json:"record_id"`
	Attempts int         `json:"attempts"`
	Err      error       `json:"-"`
	Message  string      `json:"message"`
}

// Result summarizes a completed run. A run completes even when individual
// records fail; failures are listed, not fatal.
type Result struct {
	Mode      Mode          `json:"mode"`
	Target    string        `json:"target_algorithm"`
	DryRun    bool          `json:"dry_run"`
	Processed int           `json:"processed"`
	Migrated  int           `json:"migrated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Errors    []RecordError `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Crypto is the re-protection capability the runner needs from the hybrid
// orchestrator.
type Crypto interface {
	Unprotect(ctx context.Context, envelope *models.EncryptedEnvelope, userID id.UserID) ([]byte, error)
	Reprotect(ctx context.Context, payload []byte, userID id.UserID, target models.Algorithm) (*service.Protection, error)
}

// Runner drives batch migrations over the record store.
type Runner struct {
	store  record.Store
	crypto Crypto
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a Runner. Store and crypto are required.
func New(store record.Store, crypto Crypto, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if crypto == nil {
		return nil, fmt.Errorf("crypto service is required")
	}
	r := &Runner{store: store, crypto: crypto}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Rollback re-protects every record under the classical family. Shorthand
// for Migrate with ModeRollback.
func (r *Runner) Rollback(ctx context.Context, opts Options) (*Result, error) {
	return r.Migrate(ctx, ModeRollback, opts)
}

// Migrate walks every record and re-protects those not already under the
// mode's target family. Returns an error only for invalid input, store
// paging failures, or context cancellation; per-record failures land in
// the result.
func (r *Runner) Migrate(ctx context.Context, mode Mode, opts Options) (*Result, error) {
	target, err := targetAlgorithm(mode)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	start := time.Now()

	result := &Result{Mode: mode, Target: target.String(), DryRun: opts.DryRun}
	var mu sync.Mutex

	var cursor id.RecordID
	for {
		batch, err := r.store.FindBatch(ctx, cursor, opts.BatchSize)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fetch migration batch")
		}
		if len(batch) == 0 {
			break
		}
		cursor = batch[len(batch)-1].ID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for _, rec := range batch {
			rec := rec
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}

				mu.Lock()
				result.Processed++
				mu.Unlock()

				if rec.Envelope.Algorithm == target {
					mu.Lock()
					result.Skipped++
					mu.Unlock()
					return nil
				}

				attempts, err := r.migrateRecord(gctx, rec, target, opts)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
					result.Errors = append(result.Errors, RecordError{
						RecordID: rec.ID,
						Attempts: attempts,
						Err:      err,
						Message:  err.Error(),
					})
					if r.logger != nil {
						r.logger.WarnContext(gctx, "record migration failed",
							"record_id", rec.ID,
							"target", target,
							"attempts", attempts,
							"error", err,
						)
					}
					return nil
				}
				result.Migrated++
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	if r.logger != nil {
		r.logger.InfoContext(ctx, "migration run complete",
			"mode", mode,
			"target", target,
			"dry_run", opts.DryRun,
			"processed", result.Processed,
			"migrated", result.Migrated,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"duration", result.Duration,
		)
	}
	return result, nil
}

// migrateRecord re-protects one record with retries. Returns the attempt
// count alongside the terminal error, if any.
func (r *Runner) migrateRecord(ctx context.Context, rec *record.ProtectedRecord, target models.Algorithm, opts Options) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = r.attempt(ctx, rec, target, opts.DryRun)
		if lastErr == nil {
			return attempt, nil
		}
	}
	return opts.MaxAttempts, lastErr
}

func (r *Runner) attempt(ctx context.Context, rec *record.ProtectedRecord, target models.Algorithm, dryRun bool) error {
	payload, err := r.crypto.Unprotect(ctx, &rec.Envelope, rec.UserID)
	if err != nil {
		return fmt.Errorf("unprotect: %w", err)
	}

	protection, err := r.crypto.Reprotect(ctx, payload, rec.UserID, target)
	if err != nil {
		return fmt.Errorf("reprotect: %w", err)
	}

	if dryRun {
		return nil
	}
	if err := r.store.ReplaceProtection(ctx, rec.ID, protection.Envelope, protection.Integrity); err != nil {
		return fmt.Errorf("replace protection: %w", err)
	}
	return nil
}

func targetAlgorithm(mode Mode) (models.Algorithm, error) {
	switch mode {
	case ModeUpgrade:
		return models.AlgorithmPQCKEM, nil
	case ModeRollback:
		return models.AlgorithmClassicalSymmetric, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown migration mode %q", mode)
	}
}
