// Package integrity computes and verifies hash+signature records over
// protected payloads, independent of which provider produced the ciphertext.
package integrity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider"
	"pqshield/pkg/canonicaljson"
	id "pqshield/pkg/domain"
)

const hashAlgorithm = "SHA-256"

// Signer is the signing capability the validator uses when available.
// Both providers satisfy it.
type Signer interface {
	Sign(ctx context.Context, payload []byte, pc provider.Context) (*models.Signature, error)
	Verify(ctx context.Context, payload []byte, sig *models.Signature, pc provider.Context) (bool, error)
}

// Validator creates and checks integrity records. Creation and validation
// share one canonicalization rule; using different rules on either side
// makes signatures non-reproducible across service boundaries.
type Validator struct {
	signer Signer
	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithSigner enables signing of content hashes.
func WithSigner(s Signer) Option {
	return func(v *Validator) {
		v.signer = s
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// New creates a Validator. Without a signer it produces hash-only records.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CreateIntegrity canonicalizes the payload, hashes it, and signs the hash
// when a signer is configured.
func (v *Validator) CreateIntegrity(ctx context.Context, payload any, userID id.UserID) (*models.IntegrityRecord, error) {
	if userID.IsEmpty() {
		return nil, fmt.Errorf("user id is required")
	}

	hash, err := contentHash(payload)
	if err != nil {
		return nil, err
	}

	record := &models.IntegrityRecord{
		ContentHash:   hash,
		HashAlgorithm: hashAlgorithm,
		Status:        models.IntegrityValid,
		ComputedAt:    time.Now().UTC(),
	}

	if v.signer != nil {
		sig, err := v.signer.Sign(ctx, hash, provider.Context{UserID: userID})
		if err != nil {
			return nil, fmt.Errorf("sign content hash: %w", err)
		}
		record.Signature = sig
	}
	return record, nil
}

// Validate recomputes the hash from the live payload and compares it to the
// record; a present signature is verified against the recorded algorithm.
// Mismatches are reported in the result, never as an error; a failed check
// is an expected outcome. The record's Status and LastVerifiedAt are
// updated to reflect the check.
func (v *Validator) Validate(ctx context.Context, payload any, record *models.IntegrityRecord, userID id.UserID) (*models.ValidationResult, error) {
	if record == nil {
		return nil, fmt.Errorf("integrity record is required")
	}

	hash, err := contentHash(payload)
	if err != nil {
		return nil, err
	}

	result := &models.ValidationResult{IsValid: true}

	if subtle.ConstantTimeCompare(hash, record.ContentHash) != 1 {
		result.IsValid = false
		result.Errors = append(result.Errors, models.ValidationErrHashMismatch)
	}

	if record.Signature != nil && v.signer != nil {
		ok, err := v.signer.Verify(ctx, record.ContentHash, record.Signature, provider.Context{UserID: userID})
		if err != nil {
			return nil, fmt.Errorf("verify content signature: %w", err)
		}
		if !ok {
			result.IsValid = false
			result.Errors = append(result.Errors, models.ValidationErrSignatureInvalid)
		}
	}

	now := time.Now().UTC()
	record.LastVerifiedAt = &now
	if result.IsValid {
		record.Status = models.IntegrityValid
	} else {
		record.Status = models.IntegrityInvalid
		if v.logger != nil {
			v.logger.WarnContext(ctx, "integrity check failed",
				"user_id", userID,
				"errors", result.Errors,
			)
		}
	}
	return result, nil
}

// contentHash canonicalizes and hashes a payload. Raw byte payloads are
// hashed as-is; structured payloads go through canonical JSON first.
func contentHash(payload any) ([]byte, error) {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	default:
		canonical, err := canonicaljson.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("canonicalize payload: %w", err)
		}
		data = canonical
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
