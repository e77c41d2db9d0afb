// Package handler exposes protected-record storage over HTTP. All record
// routes require a bearer token; the authenticated user owns the records
// they create and can only read their own.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/service"
	"pqshield/internal/platform/middleware"
	"pqshield/internal/record"
	"pqshield/internal/transport/http/shared"
	id "pqshield/pkg/domain"
	dErrors "pqshield/pkg/domain-errors"
	"pqshield/pkg/platform/sentinel"
)

// Crypto is the protection surface the record handler needs.
type Crypto interface {
	Protect(ctx context.Context, payload []byte, userID id.UserID, operation string) (*service.Protection, error)
	Unprotect(ctx context.Context, envelope *models.EncryptedEnvelope, userID id.UserID) ([]byte, error)
}

// Handler handles protected-record endpoints.
type Handler struct {
	store    record.Store
	crypto   Crypto
	verifier middleware.TokenVerifier
	logger   *slog.Logger
}

// New creates a record Handler.
func New(store record.Store, crypto Crypto, verifier middleware.TokenVerifier, logger *slog.Logger) *Handler {
	return &Handler{store: store, crypto: crypto, verifier: verifier, logger: logger}
}

// Register registers the record routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	recordRouter := chi.NewRouter()
	recordRouter.Use(middleware.Recovery(h.logger))
	recordRouter.Use(middleware.RequestID)
	recordRouter.Use(middleware.Logger(h.logger))
	recordRouter.Use(middleware.Timeout(30 * time.Second))
	recordRouter.Use(middleware.ContentTypeJSON)
	recordRouter.Use(middleware.RequireAuth(h.verifier, h.logger))
	recordRouter.Post("/", h.handleCreateRecord)
	recordRouter.Get("/{recordID}", h.handleGetRecord)

	r.Mount("/records", recordRouter)
}

type createRecordRequest struct {
	RecordID  id.RecordID `json:"record_id,omitempty"`
	Payload   []byte      `json:"payload"`
	Operation string      `json:"operation"`
}

type createRecordResponse struct {
	RecordID  id.RecordID      `json:"record_id"`
	Algorithm models.Algorithm `json:"algorithm"`
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID.IsEmpty() {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if len(req.Payload) == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "payload is required"))
		return
	}
	if req.RecordID.IsEmpty() {
		req.RecordID = id.RecordID(uuid.NewString())
	}
	if req.Operation == "" {
		req.Operation = "protect_record"
	}

	protection, err := h.crypto.Protect(ctx, req.Payload, userID, req.Operation)
	if err != nil {
		h.logger.ErrorContext(ctx, "record protection failed",
			"request_id", middleware.GetRequestID(ctx),
			"record_id", req.RecordID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	err = h.store.Insert(ctx, &record.ProtectedRecord{
		ID:        req.RecordID,
		UserID:    userID,
		Envelope:  *protection.Envelope,
		Integrity: *protection.Integrity,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			shared.WriteError(w, dErrors.New(dErrors.CodeConflict, "record already exists"))
			return
		}
		h.logger.ErrorContext(ctx, "record insert failed",
			"request_id", middleware.GetRequestID(ctx),
			"record_id", req.RecordID,
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to store record"))
		return
	}

	shared.WriteJSON(w, http.StatusCreated, createRecordResponse{
		RecordID:  req.RecordID,
		Algorithm: protection.Envelope.Algorithm,
	})
}

type getRecordResponse struct {
	RecordID  id.RecordID      `json:"record_id"`
	Payload   []byte           `json:"payload"`
	Algorithm models.Algorithm `json:"algorithm"`
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID.IsEmpty() {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	recordID := id.RecordID(chi.URLParam(r, "recordID"))
	rec, err := h.store.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "record not found"))
			return
		}
		h.logger.ErrorContext(ctx, "record lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"record_id", recordID,
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to load record"))
		return
	}

	// Ownership check before any decryption work.
	if rec.UserID != userID {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "record not found"))
		return
	}

	payload, err := h.crypto.Unprotect(ctx, &rec.Envelope, rec.UserID)
	if err != nil {
		h.logger.ErrorContext(ctx, "record decryption failed",
			"request_id", middleware.GetRequestID(ctx),
			"record_id", recordID,
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to decrypt record"))
		return
	}

	shared.WriteJSON(w, http.StatusOK, getRecordResponse{
		RecordID:  rec.ID,
		Payload:   payload,
		Algorithm: rec.Envelope.Algorithm,
	})
}
