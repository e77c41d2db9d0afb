// Package models defines the data model of the protection layer: encryption
// envelopes, signatures, and integrity records.
package models

import (
	"time"

	id "pqshield/pkg/domain"
)

// Algorithm tags an envelope with the family that produced it. Decryption
// dispatches strictly on this tag, never on current rollout or circuit state,
// so envelopes created under either mode stay readable.
type Algorithm string

const (
	// AlgorithmPQCKEM is ML-KEM-768 encapsulation with AES-256-GCM payload
	// encryption (keys derived via HKDF-SHA-512).
	AlgorithmPQCKEM Algorithm = "PQC_KEM"

	// AlgorithmClassicalSymmetric is AES-256-GCM under a per-user key
	// derived from the master key.
	AlgorithmClassicalSymmetric Algorithm = "CLASSICAL_SYMMETRIC"

	// AlgorithmClassicalAsymmetric is accepted on decrypt dispatch for
	// forward compatibility; the classical provider does not produce it.
	AlgorithmClassicalAsymmetric Algorithm = "CLASSICAL_ASYMMETRIC"
)

// IsValid checks that the algorithm is a known envelope tag.
func (a Algorithm) IsValid() bool {
	switch a {
	case AlgorithmPQCKEM, AlgorithmClassicalSymmetric, AlgorithmClassicalAsymmetric:
		return true
	}
	return false
}

// IsPQC reports whether the algorithm belongs to the post-quantum family.
func (a Algorithm) IsPQC() bool {
	return a == AlgorithmPQCKEM
}

func (a Algorithm) String() string {
	return string(a)
}

// Signature algorithm identifiers recorded in envelopes and integrity records.
const (
	SigAlgMLDSA65 = "ML-DSA-65"
	SigAlgEd25519 = "Ed25519"
)

// Metadata keys used by providers. Values are always printable strings so
// envelopes stay safe to log field-by-field (ciphertext excluded).
const (
	// MetaKEMCiphertext holds the base64url ML-KEM ciphertext a PQC
	// envelope needs for decapsulation.
	MetaKEMCiphertext = "ct_kem"
)

// EncryptedEnvelope is the serialized result of one encryption operation.
// Immutable once created; re-encryption produces a new envelope rather than
// mutating this one in place. Key material is referenced by KeyID only.
type EncryptedEnvelope struct {
	Algorithm  Algorithm         `json:"algorithm"`
	Ciphertext []byte            `json:"ciphertext"`
	KeyID      id.KeyID          `json:"key_id"`
	Nonce      []byte            `json:"nonce"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Meta returns a metadata value, tolerating a nil map.
func (e *EncryptedEnvelope) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Signature is a detached signature over a payload hash.
type Signature struct {
	Bytes     []byte `json:"bytes"`
	Algorithm string `json:"algorithm"`
	// PublicKeyHash is the first 16 hex characters of the SHA-256 of the
	// signing public key, enough to pick the verification key without
	// shipping the key itself.
	PublicKeyHash string `json:"public_key_hash"`
}

// IntegrityStatus is the lifecycle state of an integrity record.
type IntegrityStatus string

const (
	IntegrityValid   IntegrityStatus = "VALID"
	IntegrityInvalid IntegrityStatus = "INVALID"
	IntegrityPending IntegrityStatus = "PENDING"
)

// IntegrityRecord proves a payload has not been altered since protection.
// The hash is always computed over the canonical serialization of the
// payload, so it must be recomputable byte-for-byte by any verifier.
type IntegrityRecord struct {
	ContentHash    []byte          `json:"content_hash"`
	HashAlgorithm  string          `json:"hash_algorithm"`
	Signature      *Signature      `json:"signature,omitempty"`
	Status         IntegrityStatus `json:"status"`
	ComputedAt     time.Time       `json:"computed_at"`
	LastVerifiedAt *time.Time      `json:"last_verified_at,omitempty"`
}

// Validation error labels. These are reportable outcomes, not faults.
const (
	ValidationErrHashMismatch     = "HASH_MISMATCH"
	ValidationErrSignatureInvalid = "SIGNATURE_INVALID"
)

// ValidationResult is the structured outcome of an integrity check.
// A failed check is expected and reportable, never a thrown fault.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}
