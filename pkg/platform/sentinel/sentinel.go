package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (usually
// wrapped with %w) so services can translate them into domain errors:
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: uniqueness violated (duplicate registry entry, finalize key)
//   - ErrExpired: session or info request outlived its TTL
//   - ErrAlreadyUsed: one-shot value consumed twice
//   - ErrInvalidState: entity not in the state the compare-and-set expected
//   - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

// IsPermanent reports whether err is a fact that retrying cannot change.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrInvalidState)
}
