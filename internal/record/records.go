// Package record defines protected records and the store the migration
// runner walks. A record's envelope and integrity record are replaced
// together, never mutated in place.
package record

import (
	"context"
	"time"

	"pqshield/internal/crypto/models"
	id "pqshield/pkg/domain"
)

// ProtectedRecord couples a ciphertext envelope with the integrity record
// computed over the original payload.
type ProtectedRecord struct {
	ID        id.RecordID              `json:"id"`
	UserID    id.UserID                `json:"user_id"`
	Envelope  models.EncryptedEnvelope `json:"envelope"`
	Integrity models.IntegrityRecord   `json:"integrity"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Store is the persistence contract for protected records. FindBatch pages
// with a keyset cursor so migration runs are restartable; ReplaceProtection
// is atomic per record: the old envelope is only discarded once the new
// one is durably written.
type Store interface {
	// Insert creates a record. Returns sentinel.ErrConflict if the ID exists.
	Insert(ctx context.Context, rec *ProtectedRecord) error

	// Get returns a record or sentinel.ErrNotFound.
	Get(ctx context.Context, recordID id.RecordID) (*ProtectedRecord, error)

	// FindBatch returns up to limit records with IDs after afterID, in
	// ascending ID order. An empty afterID starts from the beginning.
	FindBatch(ctx context.Context, afterID id.RecordID, limit int) ([]*ProtectedRecord, error)

	// ReplaceProtection atomically swaps a record's envelope and integrity
	// record. Returns sentinel.ErrNotFound for unknown records.
	ReplaceProtection(ctx context.Context, recordID id.RecordID, envelope *models.EncryptedEnvelope, integrity *models.IntegrityRecord) error

	// Count returns the number of protected records.
	Count(ctx context.Context) (int, error)
}
