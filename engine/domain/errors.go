package domain

import "errors"

// Sentinel error kinds. Callers classify with errors.Is; context is added
// at the wrap site with fmt.Errorf("pkg: op: %w", ...).
var (
	// ErrInvalidConfiguration means a run cannot start (bad grid step,
	// bad radius, bad vector dims). Fatal, raised before any network call.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidInput is a per-request caller error (empty query,
	// malformed bounds). Returned without mutating any state.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExternalService marks a catalog or embedding call failure. The
	// affected sampling point or batch is skipped and counted; the run
	// continues.
	ErrExternalService = errors.New("external service error")

	// ErrDataIntegrity marks a record missing required key fields. Such
	// rows are dropped with a count, never fatal.
	ErrDataIntegrity = errors.New("data integrity")
)
