// Package handler exposes the protection layer over HTTP. Handlers stay
// thin and delegate to the hybrid orchestrator.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/service"
	"pqshield/internal/platform/middleware"
	"pqshield/internal/transport/http/shared"
	id "pqshield/pkg/domain"
	dErrors "pqshield/pkg/domain-errors"
	"pqshield/pkg/platform/circuit"
)

// Service is the orchestrator surface the handler needs.
type Service interface {
	Protect(ctx context.Context, payload []byte, userID id.UserID, operation string) (*service.Protection, error)
	Unprotect(ctx context.Context, envelope *models.EncryptedEnvelope, userID id.UserID) ([]byte, error)
	CreateIntegrity(ctx context.Context, payload any, userID id.UserID, operation string) (*models.IntegrityRecord, error)
	ValidateIntegrity(ctx context.Context, payload any, record *models.IntegrityRecord, userID id.UserID) (*models.ValidationResult, error)
	SignToken(ctx context.Context, userID id.UserID, extra map[string]any) (string, error)
	VerifyToken(ctx context.Context, token string) (*service.TokenClaims, error)
	CircuitStatus() circuit.Status
	ResetCircuit()
}

// Handler handles protection endpoints.
type Handler struct {
	crypto Service
	logger *slog.Logger
}

// New creates a crypto Handler.
func New(crypto Service, logger *slog.Logger) *Handler {
	return &Handler{crypto: crypto, logger: logger}
}

// Register registers the crypto routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	cryptoRouter := chi.NewRouter()
	cryptoRouter.Use(middleware.Recovery(h.logger))
	cryptoRouter.Use(middleware.RequestID)
	cryptoRouter.Use(middleware.Logger(h.logger))
	cryptoRouter.Use(middleware.Timeout(30 * time.Second))
	cryptoRouter.Use(middleware.ContentTypeJSON)
	cryptoRouter.Post("/protect", h.handleProtect)
	cryptoRouter.Post("/unprotect", h.handleUnprotect)
	cryptoRouter.Post("/integrity", h.handleCreateIntegrity)
	cryptoRouter.Post("/integrity/validate", h.handleValidateIntegrity)
	cryptoRouter.Post("/tokens", h.handleSignToken)
	cryptoRouter.Post("/tokens/verify", h.handleVerifyToken)
	cryptoRouter.Get("/circuit", h.handleCircuitStatus)
	cryptoRouter.Post("/circuit/reset", h.handleCircuitReset)

	r.Mount("/crypto", cryptoRouter)
}

type protectRequest struct {
	UserID    id.UserID `json:"user_id"`
	Payload   []byte    `json:"payload"`
	Operation string    `json:"operation"`
}

func (h *Handler) handleProtect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req protectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	protection, err := h.crypto.Protect(ctx, req.Payload, req.UserID, req.Operation)
	if err != nil {
		h.writeServiceError(ctx, w, "protect failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, protection)
}

type unprotectRequest struct {
	UserID   id.UserID                 `json:"user_id"`
	Envelope *models.EncryptedEnvelope `json:"envelope"`
}

type unprotectResponse struct {
	Payload []byte `json:"payload"`
}

func (h *Handler) handleUnprotect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req unprotectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	payload, err := h.crypto.Unprotect(ctx, req.Envelope, req.UserID)
	if err != nil {
		h.writeServiceError(ctx, w, "unprotect failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, unprotectResponse{Payload: payload})
}

type integrityRequest struct {
	UserID    id.UserID       `json:"user_id"`
	Payload   json.RawMessage `json:"payload"`
	Operation string          `json:"operation"`
}

func (h *Handler) handleCreateIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req integrityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	payload, err := decodePayload(req.Payload)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	record, err := h.crypto.CreateIntegrity(ctx, payload, req.UserID, req.Operation)
	if err != nil {
		h.writeServiceError(ctx, w, "create integrity failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, record)
}

type validateIntegrityRequest struct {
	UserID  id.UserID               `json:"user_id"`
	Payload json.RawMessage         `json:"payload"`
	Record  *models.IntegrityRecord `json:"record"`
}

func (h *Handler) handleValidateIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req validateIntegrityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	payload, err := decodePayload(req.Payload)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	result, err := h.crypto.ValidateIntegrity(ctx, payload, req.Record, req.UserID)
	if err != nil {
		h.writeServiceError(ctx, w, "validate integrity failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

type signTokenRequest struct {
	UserID id.UserID      `json:"user_id"`
	Claims map[string]any `json:"claims"`
}

type signTokenResponse struct {
	Token string `json:"token"`
}

func (h *Handler) handleSignToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	token, err := h.crypto.SignToken(ctx, req.UserID, req.Claims)
	if err != nil {
		h.writeServiceError(ctx, w, "sign token failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, signTokenResponse{Token: token})
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	claims, err := h.crypto.VerifyToken(ctx, req.Token)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, claims)
}

func (h *Handler) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	shared.WriteJSON(w, http.StatusOK, h.crypto.CircuitStatus())
}

func (h *Handler) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	h.crypto.ResetCircuit()
	w.WriteHeader(http.StatusNoContent)
}

// decodePayload turns a raw JSON payload into the canonicalizable form the
// integrity validator hashes.
func decodePayload(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payload is required")
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payload is not valid JSON")
	}
	return payload, nil
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	var unavailable *service.ProtectionUnavailableError
	if errors.As(err, &unavailable) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "protection unavailable"))
		return
	}
	if dErrors.Is(err, dErrors.CodeBadRequest) || dErrors.Is(err, dErrors.CodeInvalidInput) || dErrors.Is(err, dErrors.CodeUnauthorized) {
		h.logger.WarnContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	h.logger.ErrorContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
	shared.WriteError(w, err)
}
