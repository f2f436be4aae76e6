package gc

import (
	"math"
	"time"
)

// SliceBudget bounds the work done in one incremental slice. A work budget
// counts steps; a time budget checks the clock every timeCheckInterval
// steps.
type SliceBudget struct {
	deadline time.Time
	counter  int64
	timed    bool
	used     int64
}

const timeCheckInterval = 1000

// Unlimited returns a budget that never runs out.
func Unlimited() SliceBudget {
	return SliceBudget{counter: math.MaxInt64}
}

// WorkBudget returns a budget of n steps.
func WorkBudget(n int64) SliceBudget {
	return SliceBudget{counter: n}
}

// TimeBudget returns a budget that runs out after d.
func TimeBudget(d time.Duration) SliceBudget {
	return SliceBudget{
		deadline: time.Now().Add(d),
		counter:  timeCheckInterval,
		timed:    true,
	}
}

// IsUnlimited reports whether the budget is unbounded.
func (b *SliceBudget) IsUnlimited() bool {
	return !b.timed && b.counter == math.MaxInt64
}

// Step consumes n units of work.
func (b *SliceBudget) Step(n int64) {
	b.used += n
	if b.IsUnlimited() {
		return
	}
	b.counter -= n
}

// IsOverBudget reports whether the slice should yield.
func (b *SliceBudget) IsOverBudget() bool {
	if b.counter > 0 {
		return false
	}
	if !b.timed {
		return true
	}
	if time.Now().After(b.deadline) {
		return true
	}
	b.counter = timeCheckInterval
	return false
}

// Used returns the number of steps consumed so far.
func (b *SliceBudget) Used() int64 {
	return b.used
}
