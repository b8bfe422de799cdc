package model

import "errors"

// Error taxonomy shared by the store, transports and the guest engine.
// Wrap these with fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrNotFound means the entry, session or restaurant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a conditional write lost: the row was not in the
	// required state, or a uniqueness rule rejected it.
	ErrConflict = errors.New("conflict")

	// ErrTransient means the store or feed could not be reached. Callers
	// retry on the next resync instead of treating it as fatal.
	ErrTransient = errors.New("transient failure")

	// ErrInvalidInput means the request was rejected before any write.
	ErrInvalidInput = errors.New("invalid input")
)
