package gc

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("marrow.gc")

// IncrementalState is the phase of the collection in progress.
type IncrementalState uint8

const (
	NoIncremental IncrementalState = iota
	MarkRoots
	Mark
	Sweep
)

func (s IncrementalState) String() string {
	switch s {
	case NoIncremental:
		return "no_incremental"
	case MarkRoots:
		return "mark_roots"
	case Mark:
		return "mark"
	case Sweep:
		return "sweep"
	}
	return fmt.Sprintf("IncrementalState(%d)", uint8(s))
}

// SliceStatus is the outcome of one incremental slice.
type SliceStatus uint8

const (
	SliceCompleted SliceStatus = iota
	SliceYielded
	SliceFailed
)

func (s SliceStatus) String() string {
	switch s {
	case SliceCompleted:
		return "completed"
	case SliceYielded:
		return "yielded"
	case SliceFailed:
		return "failed"
	}
	return "invalid"
}

// SliceResult reports what a slice did. Stats is set when the collection
// completed; Err is set when it failed.
type SliceResult struct {
	Status SliceStatus
	Stats  *CollectionStats
	Err    error
}

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

// Runtime owns a heap: its compartments, arenas, roots and the state of the
// collection in progress. A Runtime is used by one goroutine at a time;
// only LastStats and CollectionCount may be read concurrently.
type Runtime struct {
	opts   Options
	pool   *arenaPool
	marker *GCMarker

	comps     []*Compartment
	atomsComp *Compartment
	atoms     map[string]*String

	roots    []rootEntry
	weakRefs *WeakRefTable

	state      IncrementalState
	heapBusy   bool
	collecting []*Compartment
	current    *CollectionStats
	markStart  time.Time

	stats       runtimeCounters
	collections atomic.Uint64
	lastStats   atomic.Pointer[CollectionStats]
	endHooks    []func(*CollectionStats)
}

// NewRuntime creates an empty heap with an atoms compartment.
func NewRuntime(opts Options) *Runtime {
	rt := &Runtime{
		opts:     opts,
		pool:     newArenaPool(opts.MaxArenas),
		atoms:    make(map[string]*String),
		weakRefs: newWeakRefTable(),
	}
	rt.marker = newGCMarker(rt, opts.MarkStackInitial, opts.MarkStackLimit)
	rt.atomsComp = newCompartment(rt, "atoms")
	rt.atomsComp.isAtoms = true
	return rt
}

// Options returns the runtime's options.
func (rt *Runtime) Options() Options { return rt.opts }

// Marker returns the runtime's marker.
func (rt *Runtime) Marker() *GCMarker { return rt.marker }

// State returns the phase of the collection in progress.
func (rt *Runtime) State() IncrementalState { return rt.state }

// IsIncrementalInProgress reports whether an incremental collection is
// between slices.
func (rt *Runtime) IsIncrementalInProgress() bool { return rt.state != NoIncremental }

// IsHeapBusy reports whether the collector is running.
func (rt *Runtime) IsHeapBusy() bool { return rt.heapBusy }

// AtomsCompartment returns the compartment holding interned strings.
func (rt *Runtime) AtomsCompartment() *Compartment { return rt.atomsComp }

// Compartments returns the compartments created with NewCompartment.
func (rt *Runtime) Compartments() []*Compartment { return rt.comps }

// ArenaCount returns the number of arenas in use.
func (rt *Runtime) ArenaCount() int { return rt.pool.live }

// NewCompartment creates a compartment.
func (rt *Runtime) NewCompartment(name string) *Compartment {
	c := newCompartment(rt, name)
	rt.comps = append(rt.comps, c)
	return c
}

// ---------------------------------------------------------------------------
// Handle resolution
// ---------------------------------------------------------------------------

func (rt *Runtime) cellOf(ref CellRef) Cell {
	a := rt.pool.lookup(ref.ArenaID())
	assertf(a != nil, "stale handle: arena %d released", ref.ArenaID())
	c := a.cellAt(ref.Index())
	assertf(c != nil, "stale handle: slot %d of arena %d is free", ref.Index(), ref.ArenaID())
	return c
}

// CellOf returns the GC thing v holds, or nil for non-GC values.
func (rt *Runtime) CellOf(v Value) Cell {
	if !v.IsGCThing() {
		return nil
	}
	return rt.cellOf(v.CellRef())
}

// ObjectOf returns the object v holds.
func (rt *Runtime) ObjectOf(v Value) *Object {
	assertf(v.IsObject(), "ObjectOf: value is not an object")
	return rt.cellOf(v.CellRef()).(*Object)
}

// StringOf returns the string v holds.
func (rt *Runtime) StringOf(v Value) *String {
	assertf(v.IsString(), "StringOf: value is not a string")
	return rt.cellOf(v.CellRef()).(*String)
}

// ---------------------------------------------------------------------------
// Collection driver
// ---------------------------------------------------------------------------

// GC collects every compartment, atoms included, without yielding.
func (rt *Runtime) GC(reason string) (*CollectionStats, error) {
	return rt.GCCompartments(reason, rt.allCompartments()...)
}

// GCCompartments collects the given compartments without yielding. Cells
// in other compartments are neither marked nor swept; their edges into the
// collected compartments act as roots.
func (rt *Runtime) GCCompartments(reason string, comps ...*Compartment) (*CollectionStats, error) {
	if err := rt.begin(reason, comps, false); err != nil {
		return nil, err
	}
	if err := rt.markRuntime(); err != nil {
		rt.abort(err)
		return nil, err
	}
	res := rt.Slice(Unlimited())
	if res.Status == SliceFailed {
		return nil, res.Err
	}
	assertf(res.Status == SliceCompleted, "unlimited slice yielded")
	return res.Stats, nil
}

// Collect runs a full collection, incrementally when the runtime's options
// ask for it.
func (rt *Runtime) Collect(reason string) (*CollectionStats, error) {
	if !rt.opts.Incremental {
		return rt.GC(reason)
	}
	if err := rt.StartIncremental(reason, rt.allCompartments()...); err != nil {
		return nil, err
	}
	for {
		res := rt.Slice(rt.opts.SliceBudget())
		switch res.Status {
		case SliceCompleted:
			return res.Stats, nil
		case SliceFailed:
			return nil, res.Err
		}
	}
}

// StartIncremental begins an incremental collection of comps and marks
// their roots. Marking proceeds in calls to Slice; between slices the
// mutator runs with write barriers enabled in the collected compartments.
func (rt *Runtime) StartIncremental(reason string, comps ...*Compartment) error {
	if err := rt.begin(reason, comps, true); err != nil {
		return err
	}
	if err := rt.markRuntime(); err != nil {
		rt.abort(err)
		return err
	}
	for _, c := range rt.collecting {
		c.needsBarrier = true
	}
	return nil
}

// Slice runs one bounded quantum of marking. When marking finishes within
// the budget the slice also marks gray roots and sweeps.
func (rt *Runtime) Slice(budget SliceBudget) SliceResult {
	if rt.state == NoIncremental {
		return SliceResult{Status: SliceFailed, Err: ErrNotCollecting}
	}
	assertf(rt.state == Mark, "Slice in state %v", rt.state)
	assertf(!rt.heapBusy, "reentrant Slice")

	st := rt.current
	st.Slices++

	rt.heapBusy = true
	res, err := rt.marker.Drain(&budget)
	rt.heapBusy = false

	switch res {
	case DrainFailed:
		rt.abort(err)
		return SliceResult{Status: SliceFailed, Err: err}
	case DrainYielded:
		log.Debugf("collection %s: slice %d yielded after %d steps", st.ID, st.Slices, budget.Used())
		return SliceResult{Status: SliceYielded}
	}

	if err := rt.markGray(); err != nil {
		rt.abort(err)
		return SliceResult{Status: SliceFailed, Err: err}
	}
	st.MarkDuration = time.Since(rt.markStart)
	rt.sweep()
	return SliceResult{Status: SliceCompleted, Stats: rt.end()}
}

// FinishIncremental completes the collection in progress without yielding.
func (rt *Runtime) FinishIncremental() (*CollectionStats, error) {
	res := rt.Slice(Unlimited())
	if res.Status == SliceFailed {
		return nil, res.Err
	}
	return res.Stats, nil
}

// AbortIncremental abandons the collection in progress. Nothing is swept.
func (rt *Runtime) AbortIncremental() {
	if rt.state == NoIncremental {
		return
	}
	rt.abort(nil)
}

func (rt *Runtime) allCompartments() []*Compartment {
	all := make([]*Compartment, 0, len(rt.comps)+1)
	all = append(all, rt.atomsComp)
	return append(all, rt.comps...)
}

func (rt *Runtime) begin(reason string, comps []*Compartment, incremental bool) error {
	if rt.state != NoIncremental {
		return ErrAlreadyCollecting
	}
	if len(comps) == 0 {
		return ErrNoCompartments
	}

	st := &CollectionStats{
		ID:          uuid.New(),
		Reason:      reason,
		Incremental: incremental,
		Timestamp:   time.Now(),
	}
	rt.collecting = rt.collecting[:0]
	for _, c := range comps {
		assertf(c.rt == rt, "collecting compartment %q of another runtime", c.name)
		if c.collecting {
			continue
		}
		c.collecting = true
		rt.collecting = append(rt.collecting, c)
		st.Compartments = append(st.Compartments, c.name)
		st.CellsBefore += c.unmarkAll()
	}
	rt.current = st
	rt.markStart = st.Timestamp
	rt.stats.barriersTaken = 0
	rt.marker.start()
	rt.state = MarkRoots

	log.Infof("collection %s (%s): begin, %d compartments, %d cells", st.ID, reason, len(rt.collecting), st.CellsBefore)
	return nil
}

// markRuntime marks every root of the collection: compartment globals,
// pinned atoms, edges from compartments outside the collection, singleton
// objects of compartments running a type analysis, and the registered
// black root tracers.
func (rt *Runtime) markRuntime() error {
	assertf(rt.state == MarkRoots, "markRuntime in state %v", rt.state)
	rt.heapBusy = true
	defer func() { rt.heapBusy = false }()

	trc := rt.marker.Tracer()
	for _, c := range rt.collecting {
		c.markRoots(trc)
	}
	if rt.atomsComp.collecting {
		rt.markAtoms(trc)
	}
	rt.markCrossCompartmentEdges(trc)
	rt.marker.pushActiveAnalysisArenas(rt.collecting)
	if err := rt.traceRoots(trc, false); err != nil {
		return err
	}
	rt.state = Mark
	return nil
}

// markCrossCompartmentEdges treats every edge from a compartment outside
// the collection into one inside it as a root.
func (rt *Runtime) markCrossCompartmentEdges(trc *Tracer) {
	for _, c := range rt.allCompartments() {
		if c.collecting {
			continue
		}
		for k := AllocKind(0); k < AllocLimit; k++ {
			if a := c.arenas.heads[k]; a != nil {
				for it := NewArenaListCellIter(a); !it.Done(); it.Next() {
					TraceChildren(trc, it.Get())
				}
			}
		}
	}
}

// markGray marks the gray roots once black marking has drained.
func (rt *Runtime) markGray() error {
	rt.heapBusy = true
	defer func() { rt.heapBusy = false }()

	m := rt.marker
	m.setColor(Gray)
	if err := rt.traceRoots(m.Tracer(), true); err != nil {
		return err
	}
	budget := Unlimited()
	if _, err := m.Drain(&budget); err != nil {
		return fmt.Errorf("marking gray roots: %w", err)
	}
	m.setColor(Black)
	return nil
}

func (rt *Runtime) end() *CollectionStats {
	st := rt.current
	rt.marker.stop()
	st.ObjectsScanned = rt.marker.objectsScanned
	st.DelayedArenas = rt.marker.delayedArenas
	st.SavedRanges = rt.marker.savedRanges
	st.Barriers = rt.stats.barriersTaken
	st.TotalDuration = time.Since(st.Timestamp)

	rt.releaseCollecting()
	rt.collections.Add(1)
	log.Infof("collection %s: end, %d slices, %d marked, %d freed, %d arenas released in %s",
		st.ID, st.Slices, st.CellsMarked, st.CellsFreed, st.ArenasReleased, st.TotalDuration)

	rt.weakRefs.runFinalizers()
	rt.publishStats(st)
	return st
}

func (rt *Runtime) abort(err error) {
	st := rt.current
	rt.marker.reset()
	rt.heapBusy = false
	rt.releaseCollecting()
	st.Aborted = true
	st.TotalDuration = time.Since(st.Timestamp)
	if err != nil {
		log.Warningf("collection %s aborted: %s", st.ID, err.Error())
	} else {
		log.Warningf("collection %s aborted", st.ID)
	}
	rt.publishStats(st)
}

func (rt *Runtime) releaseCollecting() {
	for _, c := range rt.collecting {
		c.collecting = false
		c.needsBarrier = false
	}
	rt.collecting = rt.collecting[:0]
	rt.current = nil
	rt.state = NoIncremental
}
