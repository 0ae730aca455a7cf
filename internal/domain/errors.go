package domain

import "errors"

// Error taxonomy for batch operations.
//
// ErrValidation and ErrConfiguration abort the whole batch and surface to
// the caller. A field referenced by a predicate but absent from a record is
// a tolerated gap, not an error: in lenient mode it is substituted with 0
// and never surfaced.
var (
	// ErrValidation marks a malformed input batch (non-tabular, unparsable,
	// or violating strict field mode).
	ErrValidation = errors.New("validation error")

	// ErrConfiguration marks an invalid rule policy.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound marks a missing persisted entity.
	ErrNotFound = errors.New("not found")
)
