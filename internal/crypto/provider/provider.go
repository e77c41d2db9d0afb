// Package provider defines the contract both crypto families implement.
// The hybrid service selects between implementations at call time; callers
// never depend on a concrete family.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"pqshield/internal/crypto/models"
	id "pqshield/pkg/domain"
)

// Context carries per-operation parameters into a provider. KeyID is
// optional; providers derive or look up key material for the user when it
// is empty.
type Context struct {
	UserID id.UserID
	KeyID  id.KeyID
}

// Provider is implemented by each algorithm family. Encrypt embeds the
// family's algorithm tag and a fresh nonce in every envelope; Decrypt
// rejects envelopes carrying a foreign tag with *EnvelopeMismatchError
// rather than silently accepting them.
type Provider interface {
	// Algorithm returns the envelope tag this provider produces.
	Algorithm() models.Algorithm

	Encrypt(ctx context.Context, plaintext []byte, pc Context) (*models.EncryptedEnvelope, error)
	Decrypt(ctx context.Context, envelope *models.EncryptedEnvelope, pc Context) ([]byte, error)

	Sign(ctx context.Context, payload []byte, pc Context) (*models.Signature, error)
	Verify(ctx context.Context, payload []byte, sig *models.Signature, pc Context) (bool, error)
}

// EnvelopeMismatchError reports a decrypt call routed to the wrong provider.
// Fatal for the call; never retried against the same provider.
type EnvelopeMismatchError struct {
	Want models.Algorithm
	Got  models.Algorithm
}

func (e *EnvelopeMismatchError) Error() string {
	return fmt.Sprintf("envelope algorithm mismatch: provider handles %s, envelope is %s", e.Want, e.Got)
}

// CheckAlgorithm returns an *EnvelopeMismatchError unless the envelope
// carries one of the accepted tags. Providers call this before touching
// ciphertext.
func CheckAlgorithm(envelope *models.EncryptedEnvelope, accepted ...models.Algorithm) error {
	for _, a := range accepted {
		if envelope.Algorithm == a {
			return nil
		}
	}
	want := models.Algorithm("")
	if len(accepted) > 0 {
		want = accepted[0]
	}
	return &EnvelopeMismatchError{Want: want, Got: envelope.Algorithm}
}

// PublicKeyHash returns the first 16 hex characters of SHA-256 of a public
// key: the short fingerprint recorded in signatures so verifiers can pick
// the right key without shipping the key itself.
func PublicKeyHash(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:16]
}
