// Package classical implements the conventional-algorithm provider: the
// universal fallback when the post-quantum path is disabled or unhealthy.
// Payloads are encrypted with AES-256-GCM under per-user keys derived from a
// master key; signatures use Ed25519.
package classical

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"pqshield/internal/crypto/keys"
	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider"
	id "pqshield/pkg/domain"
)

const (
	aesKeySize = 32

	encryptionInfo = "pqshield/classical/encryption/v1"
	signingInfo    = "pqshield/classical/signing/v1"

	signingKeyTTL = 24 * time.Hour
)

// Provider derives all key material from a single master key, so decryption
// only needs the same master key version that encrypted. The envelope KeyID
// records that version.
type Provider struct {
	masterKey   []byte
	masterKeyID id.KeyID
	keyCache    *keys.Cache
	randReader  io.Reader
}

// Option configures a Provider.
type Option func(*Provider)

// WithKeyCache injects a shared key cache.
func WithKeyCache(cache *keys.Cache) Option {
	return func(p *Provider) {
		if cache != nil {
			p.keyCache = cache
		}
	}
}

// WithRand injects a random source for tests.
func WithRand(r io.Reader) Option {
	return func(p *Provider) {
		if r != nil {
			p.randReader = r
		}
	}
}

// New creates a classical provider. The master key must be 32 bytes.
func New(masterKey []byte, masterKeyID id.KeyID, opts ...Option) (*Provider, error) {
	if len(masterKey) != aesKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", aesKeySize, len(masterKey))
	}
	if masterKeyID.IsEmpty() {
		return nil, fmt.Errorf("master key id is required")
	}

	p := &Provider{
		masterKey:   masterKey,
		masterKeyID: masterKeyID,
		keyCache:    keys.NewCache(),
		randReader:  rand.Reader,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Algorithm returns the envelope tag this provider produces.
func (p *Provider) Algorithm() models.Algorithm {
	return models.AlgorithmClassicalSymmetric
}

// Encrypt seals plaintext with AES-256-GCM under the user's derived key.
// A fresh nonce is generated per call; the user ID is bound in as AAD so an
// envelope cannot be replayed for a different user.
func (p *Provider) Encrypt(_ context.Context, plaintext []byte, pc provider.Context) (*models.EncryptedEnvelope, error) {
	if pc.UserID.IsEmpty() {
		return nil, fmt.Errorf("user id is required")
	}

	gcm, err := p.userCipher(pc.UserID)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(p.randReader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(pc.UserID))

	return &models.EncryptedEnvelope{
		Algorithm:  models.AlgorithmClassicalSymmetric,
		Ciphertext: ciphertext,
		KeyID:      p.masterKeyID,
		Nonce:      nonce,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Decrypt opens an envelope produced by this provider. Both classical tags
// are accepted; anything else is rejected with
// *provider.EnvelopeMismatchError before any key derivation happens.
func (p *Provider) Decrypt(_ context.Context, envelope *models.EncryptedEnvelope, pc provider.Context) ([]byte, error) {
	if err := provider.CheckAlgorithm(envelope, models.AlgorithmClassicalSymmetric, models.AlgorithmClassicalAsymmetric); err != nil {
		return nil, err
	}
	if pc.UserID.IsEmpty() {
		return nil, fmt.Errorf("user id is required")
	}
	if envelope.KeyID != p.masterKeyID {
		return nil, fmt.Errorf("unknown key id %q", envelope.KeyID)
	}

	gcm, err := p.userCipher(pc.UserID)
	if err != nil {
		return nil, err
	}
	if len(envelope.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size %d", len(envelope.Nonce))
	}

	plaintext, err := gcm.Open(nil, envelope.Nonce, envelope.Ciphertext, []byte(pc.UserID))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Sign produces an Ed25519 signature with the user's derived signing key.
func (p *Provider) Sign(_ context.Context, payload []byte, pc provider.Context) (*models.Signature, error) {
	if pc.UserID.IsEmpty() {
		return nil, fmt.Errorf("user id is required")
	}

	priv, err := p.userSigningKey(pc.UserID)
	if err != nil {
		return nil, err
	}

	pub := priv.Public().(ed25519.PublicKey)
	return &models.Signature{
		Bytes:         ed25519.Sign(priv, payload),
		Algorithm:     models.SigAlgEd25519,
		PublicKeyHash: provider.PublicKeyHash(pub),
	}, nil
}

// Verify checks an Ed25519 signature against the user's derived public key.
// An unknown key hash or wrong algorithm yields false, not an error: a
// failed verification is a reportable outcome.
func (p *Provider) Verify(_ context.Context, payload []byte, sig *models.Signature, pc provider.Context) (bool, error) {
	if sig == nil || sig.Algorithm != models.SigAlgEd25519 {
		return false, nil
	}
	if pc.UserID.IsEmpty() {
		return false, fmt.Errorf("user id is required")
	}

	priv, err := p.userSigningKey(pc.UserID)
	if err != nil {
		return false, err
	}
	pub := priv.Public().(ed25519.PublicKey)

	if sig.PublicKeyHash != "" &&
		subtle.ConstantTimeCompare([]byte(sig.PublicKeyHash), []byte(provider.PublicKeyHash(pub))) != 1 {
		return false, nil
	}
	return ed25519.Verify(pub, payload, sig.Bytes), nil
}

// userCipher builds the AES-GCM AEAD for a user's derived encryption key.
func (p *Provider) userCipher(userID id.UserID) (cipher.AEAD, error) {
	key, err := p.deriveKey(encryptionInfo, userID, aesKeySize)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

// userSigningKey returns the user's Ed25519 key, deriving and caching it on
// first use. Derivation is deterministic, so verification reproduces the
// same key on any instance holding the master key.
func (p *Provider) userSigningKey(userID id.UserID) (ed25519.PrivateKey, error) {
	cacheKey := keys.SigningKeyPrefix + userID.String()
	if cached := p.keyCache.Get(cacheKey); cached != nil {
		return cached.(ed25519.PrivateKey), nil
	}

	seed, err := p.deriveKey(signingInfo, userID, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)

	p.keyCache.Put(cacheKey, priv, signingKeyTTL)
	return priv, nil
}

func (p *Provider) deriveKey(info string, userID id.UserID, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, p.masterKey, nil, []byte(info+":"+userID.String()))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
