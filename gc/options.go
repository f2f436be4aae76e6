package gc

import "time"

// Options configure a Runtime.
type Options struct {
	// MaxArenas caps the arena pool; 0 means unlimited.
	MaxArenas int

	// MarkStackInitial and MarkStackLimit size the mark stack, in words.
	MarkStackInitial int
	MarkStackLimit   int

	// Incremental selects incremental collection for Collect. Each slice
	// runs for SliceSteps steps, or SliceTime when SliceSteps is 0.
	Incremental bool
	SliceSteps  int64
	SliceTime   time.Duration
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		MaxArenas:        0,
		MarkStackInitial: DefaultMarkStackInitial,
		MarkStackLimit:   DefaultMarkStackLimit,
		Incremental:      false,
		SliceSteps:       10000,
		SliceTime:        10 * time.Millisecond,
	}
}

// SliceBudget returns a fresh budget for one incremental slice.
func (o Options) SliceBudget() SliceBudget {
	if o.SliceSteps > 0 {
		return WorkBudget(o.SliceSteps)
	}
	if o.SliceTime > 0 {
		return TimeBudget(o.SliceTime)
	}
	return Unlimited()
}
