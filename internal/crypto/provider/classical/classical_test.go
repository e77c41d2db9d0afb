package classical

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider"
)

func testMasterKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(testMasterKey(), "master-v1")
	require.NoError(t, err)
	return p
}

func TestNew_RejectsBadMasterKey(t *testing.T) {
	_, err := New([]byte("short"), "master-v1")
	assert.Error(t, err)

	_, err = New(testMasterKey(), "")
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	pc := provider.Context{UserID: "user-1"}

	plaintext := []byte(`{"email":"ada@example.com","tier":"premium"}`)
	envelope, err := p.Encrypt(ctx, plaintext, pc)
	require.NoError(t, err)

	assert.Equal(t, models.AlgorithmClassicalSymmetric, envelope.Algorithm)
	assert.EqualValues(t, "master-v1", envelope.KeyID)
	assert.NotEmpty(t, envelope.Nonce)
	assert.NotEqual(t, plaintext, envelope.Ciphertext)

	decrypted, err := p.Decrypt(ctx, envelope, pc)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	pc := provider.Context{UserID: "user-1"}

	e1, err := p.Encrypt(ctx, []byte("payload"), pc)
	require.NoError(t, err)
	e2, err := p.Encrypt(ctx, []byte("payload"), pc)
	require.NoError(t, err)

	assert.NotEqual(t, e1.Nonce, e2.Nonce)
	assert.NotEqual(t, e1.Ciphertext, e2.Ciphertext)
}

func TestDecrypt_RejectsForeignEnvelope(t *testing.T) {
	p := newTestProvider(t)

	envelope := &models.EncryptedEnvelope{Algorithm: models.AlgorithmPQCKEM}
	_, err := p.Decrypt(context.Background(), envelope, provider.Context{UserID: "user-1"})

	var mismatch *provider.EnvelopeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, models.AlgorithmPQCKEM, mismatch.Got)
}

// CLASSICAL_ASYMMETRIC is a reserved tag this provider never produces, but
// envelopes carrying it stay decryptable here for forward compatibility.
func TestDecrypt_AcceptsReservedAsymmetricTag(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	pc := provider.Context{UserID: "user-1"}

	plaintext := []byte("secret")
	envelope, err := p.Encrypt(ctx, plaintext, pc)
	require.NoError(t, err)
	envelope.Algorithm = models.AlgorithmClassicalAsymmetric

	decrypted, err := p.Decrypt(ctx, envelope, pc)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecrypt_WrongUserFails(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	envelope, err := p.Encrypt(ctx, []byte("secret"), provider.Context{UserID: "user-1"})
	require.NoError(t, err)

	_, err = p.Decrypt(ctx, envelope, provider.Context{UserID: "user-2"})
	assert.Error(t, err, "per-user key derivation and AAD binding")
}

func TestDecrypt_UnknownKeyID(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	pc := provider.Context{UserID: "user-1"}

	envelope, err := p.Encrypt(ctx, []byte("secret"), pc)
	require.NoError(t, err)
	envelope.KeyID = "rotated-away"

	_, err = p.Decrypt(ctx, envelope, pc)
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	pc := provider.Context{UserID: "user-1"}
	payload := []byte("content hash bytes")

	sig, err := p.Sign(ctx, payload, pc)
	require.NoError(t, err)
	assert.Equal(t, models.SigAlgEd25519, sig.Algorithm)
	assert.Len(t, sig.PublicKeyHash, 16)

	ok, err := p.Verify(ctx, payload, sig, pc)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Verify(ctx, []byte("tampered"), sig, pc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_WrongAlgorithmIsFalseNotError(t *testing.T) {
	p := newTestProvider(t)

	ok, err := p.Verify(context.Background(), []byte("payload"), &models.Signature{
		Algorithm: models.SigAlgMLDSA65,
	}, provider.Context{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSign_DeterministicAcrossInstances(t *testing.T) {
	ctx := context.Background()
	pc := provider.Context{UserID: "user-1"}
	payload := []byte("payload")

	p1 := newTestProvider(t)
	sig, err := p1.Sign(ctx, payload, pc)
	require.NoError(t, err)

	// A second instance with the same master key verifies the signature.
	p2 := newTestProvider(t)
	ok, err := p2.Verify(ctx, payload, sig, pc)
	require.NoError(t, err)
	assert.True(t, ok)
}
