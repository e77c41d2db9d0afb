// Package store provides record.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"pqshield/internal/crypto/models"
	"pqshield/internal/record"
	id "pqshield/pkg/domain"
	"pqshield/pkg/platform/sentinel"
)

// InMemoryStore implements record.Store with a mutex-guarded map. Used in
// tests and single-instance deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.RecordID]*record.ProtectedRecord
}

// NewInMemory creates an empty in-memory record store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[id.RecordID]*record.ProtectedRecord),
	}
}

// Insert creates a record.
func (s *InMemoryStore) Insert(_ context.Context, rec *record.ProtectedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	cloned := *rec
	s.records[rec.ID] = &cloned
	return nil
}

// Get returns a copy of the record.
func (s *InMemoryStore) Get(_ context.Context, recordID id.RecordID) (*record.ProtectedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cloned := *rec
	return &cloned, nil
}

// FindBatch returns records after the cursor in ascending ID order.
func (s *InMemoryStore) FindBatch(_ context.Context, afterID id.RecordID, limit int) ([]*record.ProtectedRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]id.RecordID, 0, len(s.records))
	for rid := range s.records {
		if afterID == "" || rid > afterID {
			ids = append(ids, rid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*record.ProtectedRecord, 0, len(ids))
	for _, rid := range ids {
		cloned := *s.records[rid]
		out = append(out, &cloned)
	}
	return out, nil
}

// ReplaceProtection swaps envelope and integrity under the lock, so the
// replacement is atomic with respect to concurrent readers.
func (s *InMemoryStore) ReplaceProtection(_ context.Context, recordID id.RecordID, envelope *models.EncryptedEnvelope, integrity *models.IntegrityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.Envelope = *envelope
	rec.Integrity = *integrity
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of records.
func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
