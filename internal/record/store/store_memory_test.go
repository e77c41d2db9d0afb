package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqshield/internal/crypto/models"
	"pqshield/internal/record"
	id "pqshield/pkg/domain"
	"pqshield/pkg/platform/sentinel"
)

func testRecord(n int) *record.ProtectedRecord {
	return &record.ProtectedRecord{
		ID:     id.RecordID(fmt.Sprintf("rec-%04d", n)),
		UserID: id.UserID(fmt.Sprintf("user-%d", n%5)),
		Envelope: models.EncryptedEnvelope{
			Algorithm:  models.AlgorithmClassicalSymmetric,
			Ciphertext: []byte{0x01},
			KeyID:      "master-v1",
			Nonce:      []byte{0x02},
			CreatedAt:  time.Now().UTC(),
		},
		Integrity: models.IntegrityRecord{
			ContentHash:   []byte{0x03},
			HashAlgorithm: "SHA-256",
			Status:        models.IntegrityValid,
			ComputedAt:    time.Now().UTC(),
		},
	}
}

func TestInMemoryStore_InsertGet(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	rec := testRecord(1)
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.UserID, got.UserID)

	assert.ErrorIs(t, s.Insert(ctx, rec), sentinel.ErrConflict)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_FindBatchPagination(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	for i := range 7 {
		require.NoError(t, s.Insert(ctx, testRecord(i)))
	}

	batch1, err := s.FindBatch(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, batch1, 3)
	assert.EqualValues(t, "rec-0000", batch1[0].ID)

	batch2, err := s.FindBatch(ctx, batch1[len(batch1)-1].ID, 3)
	require.NoError(t, err)
	require.Len(t, batch2, 3)
	assert.EqualValues(t, "rec-0003", batch2[0].ID)

	batch3, err := s.FindBatch(ctx, batch2[len(batch2)-1].ID, 3)
	require.NoError(t, err)
	assert.Len(t, batch3, 1)

	batch4, err := s.FindBatch(ctx, batch3[len(batch3)-1].ID, 3)
	require.NoError(t, err)
	assert.Empty(t, batch4)
}

func TestInMemoryStore_ReplaceProtection(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	rec := testRecord(1)
	require.NoError(t, s.Insert(ctx, rec))

	newEnvelope := &models.EncryptedEnvelope{
		Algorithm:  models.AlgorithmPQCKEM,
		Ciphertext: []byte{0xAA},
		KeyID:      "mlkem768:abc",
		Nonce:      []byte{0xBB},
		CreatedAt:  time.Now().UTC(),
	}
	newIntegrity := &models.IntegrityRecord{
		ContentHash:   []byte{0xCC},
		HashAlgorithm: "SHA-256",
		Status:        models.IntegrityValid,
		ComputedAt:    time.Now().UTC(),
	}

	require.NoError(t, s.ReplaceProtection(ctx, rec.ID, newEnvelope, newIntegrity))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmPQCKEM, got.Envelope.Algorithm)
	assert.Equal(t, []byte{0xCC}, got.Integrity.ContentHash)
	assert.False(t, got.UpdatedAt.IsZero())

	assert.ErrorIs(t, s.ReplaceProtection(ctx, "missing", newEnvelope, newIntegrity), sentinel.ErrNotFound)
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testRecord(1)))

	got, err := s.Get(ctx, "rec-0001")
	require.NoError(t, err)
	got.Envelope.Algorithm = models.AlgorithmPQCKEM

	again, err := s.Get(ctx, "rec-0001")
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmClassicalSymmetric, again.Envelope.Algorithm, "mutating a returned record must not affect the store")
}

func TestInMemoryStore_Count(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for i := range 4 {
		require.NoError(t, s.Insert(ctx, testRecord(i)))
	}
	count, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
