// Package handler exposes migration runs over HTTP. Runs execute
// synchronously; callers size batches accordingly or use dry runs first.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pqshield/internal/migration"
	"pqshield/internal/platform/middleware"
	"pqshield/internal/transport/http/shared"
	dErrors "pqshield/pkg/domain-errors"
)

// Runner is the migration capability the handler needs.
type Runner interface {
	Migrate(ctx context.Context, mode migration.Mode, opts migration.Options) (*migration.Result, error)
}

// Handler handles migration endpoints.
type Handler struct {
	runner Runner
	logger *slog.Logger
}

// New creates a migration Handler.
func New(runner Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// Register registers the migration routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	migrationRouter := chi.NewRouter()
	migrationRouter.Use(middleware.Recovery(h.logger))
	migrationRouter.Use(middleware.RequestID)
	migrationRouter.Use(middleware.Logger(h.logger))
	migrationRouter.Use(middleware.ContentTypeJSON)
	migrationRouter.Post("/runs", h.handleRun)

	r.Mount("/migrations", migrationRouter)
}

type runRequest struct {
	Mode        migration.Mode `json:"mode"`
	BatchSize   int            `json:"batch_size,omitempty"`
	Workers     int            `json:"workers,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	start := time.Now()
	result, err := h.runner.Migrate(ctx, req.Mode, migration.Options{
		BatchSize:   req.BatchSize,
		Workers:     req.Workers,
		MaxAttempts: req.MaxAttempts,
		DryRun:      req.DryRun,
	})
	if err != nil {
		if dErrors.Is(err, dErrors.CodeInvalidInput) {
			shared.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "migration run failed",
			"request_id", middleware.GetRequestID(ctx),
			"mode", req.Mode,
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "migration run failed"))
		return
	}

	h.logger.InfoContext(ctx, "migration run served",
		"request_id", middleware.GetRequestID(ctx),
		"mode", req.Mode,
		"processed", result.Processed,
		"failed", result.Failed,
		"elapsed", time.Since(start),
	)
	shared.WriteJSON(w, http.StatusOK, result)
}
