// Package handler exposes rollout administration over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pqshield/internal/platform/middleware"
	"pqshield/internal/rollout"
	"pqshield/internal/rollout/models"
	"pqshield/internal/transport/http/shared"
	id "pqshield/pkg/domain"
	dErrors "pqshield/pkg/domain-errors"
)

// Service is the rollout surface the handler needs.
type Service interface {
	Assignment(ctx context.Context, experimentID id.ExperimentID, userID id.UserID) (models.Variant, error)
	SetRolloutPercentage(ctx context.Context, experimentID id.ExperimentID, percentage float64) error
	Percentages(ctx context.Context) (map[id.ExperimentID]float64, error)
}

// Handler handles rollout admin endpoints.
type Handler struct {
	rollout Service
	logger  *slog.Logger
}

// New creates a rollout Handler.
func New(rollout Service, logger *slog.Logger) *Handler {
	return &Handler{rollout: rollout, logger: logger}
}

// Register registers the rollout routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	rolloutRouter := chi.NewRouter()
	rolloutRouter.Use(middleware.Recovery(h.logger))
	rolloutRouter.Use(middleware.RequestID)
	rolloutRouter.Use(middleware.Logger(h.logger))
	rolloutRouter.Use(middleware.Timeout(10 * time.Second))
	rolloutRouter.Use(middleware.ContentTypeJSON)
	rolloutRouter.Get("/experiments", h.handleListExperiments)
	rolloutRouter.Put("/experiments/{experimentID}", h.handleSetPercentage)
	rolloutRouter.Get("/experiments/{experimentID}/assignment", h.handleAssignment)

	r.Mount("/rollout", rolloutRouter)
}

func (h *Handler) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	percentages, err := h.rollout.Percentages(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list experiments failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, percentages)
}

type setPercentageRequest struct {
	Percentage float64 `json:"percentage"`
}

func (h *Handler) handleSetPercentage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	experimentID, err := id.ParseExperimentID(chi.URLParam(r, "experimentID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid experiment id"))
		return
	}

	var req setPercentageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.rollout.SetRolloutPercentage(ctx, experimentID, req.Percentage); err != nil {
		if dErrors.Is(err, dErrors.CodeInvalidInput) {
			shared.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "set rollout percentage failed",
			"request_id", middleware.GetRequestID(ctx),
			"experiment_id", experimentID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "rollout percentage updated",
		"experiment_id", experimentID,
		"percentage", req.Percentage,
	)
	w.WriteHeader(http.StatusNoContent)
}

type assignmentResponse struct {
	ExperimentID id.ExperimentID `json:"experiment_id"`
	UserID       id.UserID       `json:"user_id"`
	Variant      models.Variant  `json:"variant"`
	Bucket       float64         `json:"bucket"`
}

func (h *Handler) handleAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	experimentID, err := id.ParseExperimentID(chi.URLParam(r, "experimentID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid experiment id"))
		return
	}
	userID, err := id.ParseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "user_id query parameter is required"))
		return
	}

	variant, err := h.rollout.Assignment(ctx, experimentID, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "assignment lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"experiment_id", experimentID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, assignmentResponse{
		ExperimentID: experimentID,
		UserID:       userID,
		Variant:      variant,
		Bucket:       rollout.Bucket(experimentID, userID),
	})
}
