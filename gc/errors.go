package gc

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is returned when the arena pool cannot supply a new
	// arena for an allocation.
	ErrOutOfMemory = errors.New("gc: out of memory")

	// ErrNotCollecting is returned when a slice is requested with no
	// incremental collection in progress.
	ErrNotCollecting = errors.New("gc: no collection in progress")

	// ErrAlreadyCollecting is returned when a collection is started while
	// another one is in progress.
	ErrAlreadyCollecting = errors.New("gc: collection already in progress")

	// ErrNoCompartments is returned when a collection set is empty.
	ErrNoCompartments = errors.New("gc: empty collection set")
)

// RootError reports a root tracer that failed; the collection it happened
// in was aborted.
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("gc: marking root %q: %v", e.Root, e.Err)
}

func (e *RootError) Unwrap() error {
	return e.Err
}
