package gc

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Collection statistics
// ---------------------------------------------------------------------------

// CollectionStats holds statistics from a single collection.
type CollectionStats struct {
	ID           uuid.UUID
	Reason       string
	Incremental  bool
	Aborted      bool
	Compartments []string

	Slices         int
	ObjectsScanned int64
	DelayedArenas  int64
	SavedRanges    int64
	Barriers       int64

	CellsBefore     int
	CellsMarked     int
	CellsFreed      int
	ObjectsFreed    int
	ArenasReleased  int
	AtomsSwept      int
	WeakRefsCleared int

	Timestamp     time.Time
	MarkDuration  time.Duration
	SweepDuration time.Duration
	TotalDuration time.Duration
}

// runtimeCounters accumulate across collections.
type runtimeCounters struct {
	cellsAllocated int64
	barriersTaken  int64
}

// CellsAllocated returns the number of cells allocated since the runtime
// was created.
func (rt *Runtime) CellsAllocated() int64 {
	return rt.stats.cellsAllocated
}

// CollectionCount returns the number of collections that ran to
// completion.
func (rt *Runtime) CollectionCount() uint64 {
	return rt.collections.Load()
}

// LastStats returns statistics from the most recent collection, completed
// or aborted, or nil if none has run. It is safe to call from any
// goroutine.
func (rt *Runtime) LastStats() *CollectionStats {
	return rt.lastStats.Load()
}

// OnCollectionEnd registers fn to run after every collection, outside the
// collector, with that collection's statistics.
func (rt *Runtime) OnCollectionEnd(fn func(*CollectionStats)) {
	rt.endHooks = append(rt.endHooks, fn)
}

func (rt *Runtime) publishStats(st *CollectionStats) {
	rt.lastStats.Store(st)
	for _, fn := range rt.endHooks {
		fn(st)
	}
}
