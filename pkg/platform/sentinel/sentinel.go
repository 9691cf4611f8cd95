package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors.
//
//   - ErrNotFound: key does not exist in the store
//   - ErrConflict: a create hit an existing key, or a compare-and-set saw a
//     different value than the caller expected
//   - ErrExpired: record is past its expiry
//   - ErrInvalidState: record is in the wrong state for the requested mutation
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
