package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and collaborator adapters
// return these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store or ledger
//   - ErrAlreadyExists: unique key (claim id, certificate id, idempotency token) already taken
//   - ErrConflict: concurrent writer holds the resource
//   - ErrInvalidState: record in wrong state for the requested transition
//   - ErrUnavailable: backend temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
