package vm

import "errors"

var (
	// ErrStackOverflow is returned when a push needs more values than the
	// stack space has left.
	ErrStackOverflow = errors.New("vm: stack overflow")

	// ErrCorruptStack is returned by the stack root tracer when segment or
	// frame headers are inconsistent. It aborts the collection.
	ErrCorruptStack = errors.New("vm: corrupt stack")

	// ErrGeneratorRunning is returned when a running generator is resumed.
	ErrGeneratorRunning = errors.New("vm: generator already running")

	// ErrGeneratorClosed is returned when a finished generator is resumed.
	ErrGeneratorClosed = errors.New("vm: generator closed")

	// ErrNotInterpreted is returned when a frame is pushed for a callee that
	// is not an interpreted function.
	ErrNotInterpreted = errors.New("vm: callee is not an interpreted function")

	// ErrScopeMismatch is returned when a block or with scope is popped out
	// of order.
	ErrScopeMismatch = errors.New("vm: scope popped out of order")
)
