package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"pqshield/internal/crypto/models"
	"pqshield/internal/record"
	id "pqshield/pkg/domain"
	"pqshield/pkg/platform/sentinel"
)

// Schema is the DDL for the protected records table. Applied by migrations
// in deployments; tests apply it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS protected_records (
	record_id  TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	envelope   JSONB NOT NULL,
	integrity  JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_protected_records_user ON protected_records (user_id);
`

// PostgresStore implements record.Store on PostgreSQL. Envelope and
// integrity are stored as JSONB columns and replaced in a single UPDATE, so
// per-record replacement is atomic.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL-backed record store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert creates a record.
func (s *PostgresStore) Insert(ctx context.Context, rec *record.ProtectedRecord) error {
	envelope, integrity, err := marshalProtection(&rec.Envelope, &rec.Integrity)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO protected_records (record_id, user_id, envelope, integrity, updated_at)
		VALUES ($1, $2, $3, $4, now())
	`, rec.ID.String(), rec.UserID.String(), envelope, integrity)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get returns a record or sentinel.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, recordID id.RecordID) (*record.ProtectedRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, user_id, envelope, integrity, updated_at
		FROM protected_records
		WHERE record_id = $1
	`, recordID.String())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// FindBatch pages records by keyset cursor in ascending ID order.
func (s *PostgresStore) FindBatch(ctx context.Context, afterID id.RecordID, limit int) ([]*record.ProtectedRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, user_id, envelope, integrity, updated_at
		FROM protected_records
		WHERE record_id > $1
		ORDER BY record_id ASC
		LIMIT $2
	`, afterID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("find batch: %w", err)
	}
	defer rows.Close()

	var out []*record.ProtectedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// ReplaceProtection swaps envelope and integrity in one UPDATE.
func (s *PostgresStore) ReplaceProtection(ctx context.Context, recordID id.RecordID, envelope *models.EncryptedEnvelope, integrity *models.IntegrityRecord) error {
	envelopeJSON, integrityJSON, err := marshalProtection(envelope, integrity)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE protected_records
		SET envelope = $2, integrity = $3, updated_at = now()
		WHERE record_id = $1
	`, recordID.String(), envelopeJSON, integrityJSON)
	if err != nil {
		return fmt.Errorf("replace protection: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace protection: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Count returns the number of protected records.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM protected_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.ProtectedRecord, error) {
	var rec record.ProtectedRecord
	var recordID, userID string
	var envelope, integrity []byte

	if err := row.Scan(&recordID, &userID, &envelope, &integrity, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.ID = id.RecordID(recordID)
	rec.UserID = id.UserID(userID)

	if err := json.Unmarshal(envelope, &rec.Envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := json.Unmarshal(integrity, &rec.Integrity); err != nil {
		return nil, fmt.Errorf("unmarshal integrity: %w", err)
	}
	return &rec, nil
}

func marshalProtection(envelope *models.EncryptedEnvelope, integrity *models.IntegrityRecord) ([]byte, []byte, error) {
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal envelope: %w", err)
	}
	integrityJSON, err := json.Marshal(integrity)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal integrity: %w", err)
	}
	return envelopeJSON, integrityJSON, nil
}
