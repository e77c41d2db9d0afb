package integrity

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider/classical"
)

func newSignedValidator(t *testing.T) *Validator {
	t.Helper()
	signer, err := classical.New(bytes.Repeat([]byte{0x01}, 32), "master-v1")
	require.NoError(t, err)
	return New(WithSigner(signer))
}

func TestCreateValidate_RoundTrip(t *testing.T) {
	v := newSignedValidator(t)
	ctx := context.Background()
	payload := map[string]any{"email": "ada@example.com", "tier": "premium"}

	record, err := v.CreateIntegrity(ctx, payload, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "SHA-256", record.HashAlgorithm)
	assert.Len(t, record.ContentHash, 32)
	assert.NotNil(t, record.Signature)
	assert.Equal(t, models.IntegrityValid, record.Status)

	result, err := v.Validate(ctx, payload, record, "user-1")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.NotNil(t, record.LastVerifiedAt)
}

func TestValidate_KeyOrderIrrelevant(t *testing.T) {
	v := New()
	ctx := context.Background()

	record, err := v.CreateIntegrity(ctx, map[string]any{"b": 1, "a": 2}, "user-1")
	require.NoError(t, err)

	// Same logical payload, different construction order.
	result, err := v.Validate(ctx, map[string]any{"a": 2, "b": 1}, record, "user-1")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestValidate_TamperedPayload(t *testing.T) {
	v := newSignedValidator(t)
	ctx := context.Background()

	record, err := v.CreateIntegrity(ctx, map[string]any{"granted": true}, "user-1")
	require.NoError(t, err)

	result, err := v.Validate(ctx, map[string]any{"granted": false}, record, "user-1")
	require.NoError(t, err, "mismatch is a reportable outcome, not a fault")
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, models.ValidationErrHashMismatch)
	assert.Equal(t, models.IntegrityInvalid, record.Status)
}

func TestValidate_TamperedRecordHash(t *testing.T) {
	v := newSignedValidator(t)
	ctx := context.Background()
	payload := map[string]any{"granted": true}

	record, err := v.CreateIntegrity(ctx, payload, "user-1")
	require.NoError(t, err)
	record.ContentHash[0] ^= 0xFF

	result, err := v.Validate(ctx, payload, record, "user-1")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, models.ValidationErrHashMismatch)
	// The signature was made over the original hash, so it no longer
	// verifies against the doctored one.
	assert.Contains(t, result.Errors, models.ValidationErrSignatureInvalid)
}

func TestValidate_ForgedSignature(t *testing.T) {
	v := newSignedValidator(t)
	ctx := context.Background()
	payload := map[string]any{"granted": true}

	record, err := v.CreateIntegrity(ctx, payload, "user-1")
	require.NoError(t, err)
	record.Signature.Bytes[0] ^= 0xFF

	result, err := v.Validate(ctx, payload, record, "user-1")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, []string{models.ValidationErrSignatureInvalid}, result.Errors)
}

func TestCreateIntegrity_RawBytes(t *testing.T) {
	v := New()
	ctx := context.Background()

	record, err := v.CreateIntegrity(ctx, []byte("opaque blob"), "user-1")
	require.NoError(t, err)

	result, err := v.Validate(ctx, []byte("opaque blob"), record, "user-1")
	require.NoError(t, err)
	assert.True(t, result.IsValid)

	result, err = v.Validate(ctx, []byte("opaque blo0"), record, "user-1")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
}

func TestCreateIntegrity_UnsignedWithoutSigner(t *testing.T) {
	v := New()

	record, err := v.CreateIntegrity(context.Background(), map[string]any{"a": 1}, "user-1")
	require.NoError(t, err)
	assert.Nil(t, record.Signature)
}
