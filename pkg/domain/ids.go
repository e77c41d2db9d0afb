// Package domain holds shared identifier types. Typed IDs prevent
// cross-type assignment at compile time: a UserID can never be passed
// where a RecordID is expected.
package domain

import (
	dErrors "pqshield/pkg/domain-errors"
)

// UserID identifies the subject whose data is being protected. It is an
// opaque external identifier, not necessarily a UUID.
type UserID string

// RecordID identifies a protected record in the record store.
type RecordID string

// KeyID references key material held by a provider's keyring. Key bytes are
// never embedded in envelopes; only the KeyID travels with the ciphertext.
type KeyID string

// ExperimentID names a staged-rollout experiment or feature.
type ExperimentID string

func (id UserID) String() string       { return string(id) }
func (id RecordID) String() string     { return string(id) }
func (id KeyID) String() string        { return string(id) }
func (id ExperimentID) String() string { return string(id) }

func (id UserID) IsEmpty() bool   { return id == "" }
func (id RecordID) IsEmpty() bool { return id == "" }
func (id KeyID) IsEmpty() bool    { return id == "" }

// ParseUserID constructs a UserID from external input.
func ParseUserID(s string) (UserID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user_id cannot be empty")
	}
	return UserID(s), nil
}

// ParseExperimentID constructs an ExperimentID from external input.
func ParseExperimentID(s string) (ExperimentID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "experiment_id cannot be empty")
	}
	return ExperimentID(s), nil
}
