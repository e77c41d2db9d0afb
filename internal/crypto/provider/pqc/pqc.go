// Package pqc implements the post-quantum provider: ML-KEM-768 key
// encapsulation feeding HKDF-SHA-512 into AES-256-GCM for payloads, and
// ML-DSA-65 for signatures. Keypairs are derived deterministically per user
// from the master key, so any instance holding the master key can decrypt
// and verify; the key cache only saves rederivation work.
package pqc

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/hkdf"

	"pqshield/internal/crypto/keys"
	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider"
	id "pqshield/pkg/domain"
)

const (
	aesKeySize = 32

	kemSeedInfo = "pqshield/pqc/kem-seed/v1"
	sigSeedInfo = "pqshield/pqc/sig-seed/v1"
	hkdfContext = "pqshield/pqc/aead/v1"

	kemKeyTTL     = time.Hour
	signingKeyTTL = 24 * time.Hour
)

type kemKeypair struct {
	public  kem.PublicKey
	private kem.PrivateKey
	keyID   id.KeyID
}

type sigKeypair struct {
	public  *mldsa65.PublicKey
	private *mldsa65.PrivateKey
}

// Provider is the post-quantum crypto provider. When an Invoker is
// configured, signing operations delegate to the remote capability; the
// KEM/AEAD path is always native.
type Provider struct {
	masterKey  []byte
	keyCache   *keys.Cache
	invoker    Invoker
	randReader io.Reader
	scheme     kem.Scheme
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

// WithInvoker delegates signature operations to a remote post-quantum
// capability instead of the native implementation.
func WithInvoker(inv Invoker) Option {
	return func(p *Provider) {
		p.invoker = inv
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

// New creates a post-quantum provider. The master key must be 32 bytes.
func New(masterKey []byte, opts ...Option) (*Provider, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}

	p := &Provider{
		masterKey:  masterKey,
		keyCache:   keys.NewCache(),
		randReader: rand.Reader,
		scheme:     mlkem768.Scheme(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Algorithm returns the envelope tag this provider produces.
func (p *Provider) Algorithm() models.Algorithm {
	return models.AlgorithmPQCKEM
}

// Encrypt encapsulates a fresh shared secret against the user's ML-KEM
// public key, derives an AES-256-GCM key from it, and seals the plaintext.
// The KEM ciphertext rides in envelope metadata; the user ID is bound in as
// AAD.
func (p *Provider) Encrypt(_ context.Context, plaintext []byte, pc provider.Context) (*models.EncryptedEnvelope, error) {
	if pc.UserID.IsEmpty() {
		return nil, fmt.Errorf("user id is required")
	}

	kp, err := p.kemKeypair(pc.UserID)
	if err != nil {
		return nil, err
	}

	ctKEM, sharedSecret, err := p.scheme.Encapsulate(kp.public)
	if err != nil {
		return nil, fmt.Errorf("encapsulate: %w", err)
	}

	aad := []byte(pc.UserID)
	gcm, err := aeadFromSecret(sharedSecret, aad, ctKEM)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(p.randReader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, aad)

	return &models.EncryptedEnvelope{
		Algorithm:  models.AlgorithmPQCKEM,
		Ciphertext: ciphertext,
		KeyID:      kp.keyID,
		Nonce:      nonce,
		CreatedAt:  time.Now().UTC(),
		Metadata: map[string]string{
			models.MetaKEMCiphertext: base64.RawURLEncoding.EncodeToString(ctKEM),
		},
	}, nil
}

// Decrypt decapsulates the envelope's KEM ciphertext with the user's
// private key and opens the AEAD. Foreign algorithm tags are rejected with
// *provider.EnvelopeMismatchError.
func (p *Provider) Decrypt(_ context.Context, envelope *models.EncryptedEnvelope, pc provider.Context) ([]byte, error) {
	if err := provider.CheckAlgorithm(envelope, models.AlgorithmPQCKEM); err != nil {
		return nil, err
	}
	if pc.UserID.IsEmpty() {
		return nil, fmt.Errorf("user id is required")
	}

	encoded := envelope.Meta(models.MetaKEMCiphertext)
	if encoded == "" {
		return nil, fmt.Errorf("envelope is missing KEM ciphertext")
	}
	ctKEM, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode KEM ciphertext: %w", err)
	}

	kp, err := p.kemKeypair(pc.UserID)
	if err != nil {
		return nil, err
	}

	sharedSecret, err := p.scheme.Decapsulate(kp.private, ctKEM)
	if err != nil {
		return nil, fmt.Errorf("decapsulate: %w", err)
	}

	aad := []byte(pc.UserID)
	gcm, err := aeadFromSecret(sharedSecret, aad, ctKEM)
	if err != nil {
		return nil, err
	}
	if len(envelope.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size %d", len(envelope.Nonce))
	}

	plaintext, err := gcm.Open(nil, envelope.Nonce, envelope.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Sign produces an ML-DSA-65 signature with the user's derived signing key,
// or delegates to the remote capability when an invoker is configured.
func (p *Provider) Sign(ctx context.Context, payload []byte, pc provider.Context) (*models.Signature, error) {
	if pc.UserID.IsEmpty() {
		return nil, fmt.Errorf("user id is required")
	}
	if p.invoker != nil {
		return p.remoteSign(ctx, payload, pc.UserID)
	}

	kp, err := p.sigKeypair(pc.UserID)
	if err != nil {
		return nil, err
	}

	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(kp.private, payload, nil, false, sig); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	pub, err := kp.public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return &models.Signature{
		Bytes:         sig,
		Algorithm:     models.SigAlgMLDSA65,
		PublicKeyHash: provider.PublicKeyHash(pub),
	}, nil
}

// Verify checks an ML-DSA-65 signature against the user's derived public
// key. Wrong algorithm or unknown key hash yields false, not an error.
func (p *Provider) Verify(ctx context.Context, payload []byte, sig *models.Signature, pc provider.Context) (bool, error) {
	if sig == nil || sig.Algorithm != models.SigAlgMLDSA65 {
		return false, nil
	}
	if pc.UserID.IsEmpty() {
		return false, fmt.Errorf("user id is required")
	}
	if p.invoker != nil {
		return p.remoteVerify(ctx, payload, sig, pc.UserID)
	}

	kp, err := p.sigKeypair(pc.UserID)
	if err != nil {
		return false, err
	}

	pub, err := kp.public.MarshalBinary()
	if err != nil {
		return false, fmt.Errorf("marshal public key: %w", err)
	}
	if sig.PublicKeyHash != "" && sig.PublicKeyHash != provider.PublicKeyHash(pub) {
		return false, nil
	}

	return mldsa65.Verify(kp.public, payload, nil, sig.Bytes), nil
}

// kemKeypair returns the user's ML-KEM-768 keypair, deriving it from the
// master key on cache miss. Derivation is deterministic per user.
func (p *Provider) kemKeypair(userID id.UserID) (*kemKeypair, error) {
	cacheKey := keys.KEMKeyPrefix + userID.String()
	if cached := p.keyCache.Get(cacheKey); cached != nil {
		return cached.(*kemKeypair), nil
	}

	seed, err := p.deriveSeed(kemSeedInfo, userID, p.scheme.SeedSize())
	if err != nil {
		return nil, err
	}
	public, private := p.scheme.DeriveKeyPair(seed)

	pubBytes, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	kp := &kemKeypair{
		public:  public,
		private: private,
		keyID:   id.KeyID("mlkem768:" + provider.PublicKeyHash(pubBytes)),
	}
	p.keyCache.Put(cacheKey, kp, kemKeyTTL)
	return kp, nil
}

// sigKeypair returns the user's ML-DSA-65 keypair, deriving it from the
// master key on cache miss.
func (p *Provider) sigKeypair(userID id.UserID) (*sigKeypair, error) {
	cacheKey := keys.SigningKeyPrefix + userID.String()
	if cached := p.keyCache.Get(cacheKey); cached != nil {
		return cached.(*sigKeypair), nil
	}

	raw, err := p.deriveSeed(sigSeedInfo, userID, mldsa65.SeedSize)
	if err != nil {
		return nil, err
	}
	var seed [mldsa65.SeedSize]byte
	copy(seed[:], raw)
	public, private := mldsa65.NewKeyFromSeed(&seed)

	kp := &sigKeypair{public: public, private: private}
	p.keyCache.Put(cacheKey, kp, signingKeyTTL)
	return kp, nil
}

func (p *Provider) deriveSeed(info string, userID id.UserID, length int) ([]byte, error) {
	reader := hkdf.New(sha512.New, p.masterKey, nil, []byte(info+":"+userID.String()))
	seed := make([]byte, length)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}

// aeadFromSecret derives the AES-256-GCM key from the KEM shared secret.
// Salt is SHA-256 of the KEM ciphertext; info binds the context string and
// length-prefixed AAD, so a transplanted KEM ciphertext derives a different
// key.
func aeadFromSecret(sharedSecret, aad, ctKEM []byte) (cipher.AEAD, error) {
	salt := sha256.Sum256(ctKEM)

	info := make([]byte, 0, len(hkdfContext)+4+len(aad))
	info = append(info, []byte(hkdfContext)...)
	info = binary.BigEndian.AppendUint32(info, uint32(len(aad)))
	info = append(info, aad...)

	reader := hkdf.New(sha512.New, sharedSecret, salt[:], info)
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
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
