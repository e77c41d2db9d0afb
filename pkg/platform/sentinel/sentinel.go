package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and provider backends
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: cached key material has passed its TTL
// - ErrConflict: concurrent replacement lost the race
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: provider or backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
