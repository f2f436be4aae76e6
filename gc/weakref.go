package gc

// ---------------------------------------------------------------------------
// WeakRef: a reference that doesn't keep its target alive
// ---------------------------------------------------------------------------

// WeakRef holds a weak reference to an object. When the target is
// collected the reference becomes empty and its finalizer, if any, runs
// after the collection ends.
type WeakRef struct {
	id        uint64
	rt        *Runtime
	target    *Object
	finalizer func(ref CellRef)
}

// ID returns the reference's unique identifier.
func (wr *WeakRef) ID() uint64 { return wr.id }

// Get returns the target object, or nil if it has been collected. Reading
// a target during incremental marking marks it, since the caller may store
// it somewhere already scanned.
func (wr *WeakRef) Get() *Object {
	if wr.target != nil {
		wr.rt.cellBarrierPre(wr.target)
	}
	return wr.target
}

// IsAlive reports whether the target has not been collected.
func (wr *WeakRef) IsAlive() bool {
	return wr.target != nil
}

// Clear empties the reference and returns the old target.
func (wr *WeakRef) Clear() *Object {
	old := wr.target
	wr.target = nil
	return old
}

// SetFinalizer sets a callback run after the target is collected. It
// receives the handle the target had.
func (wr *WeakRef) SetFinalizer(fn func(ref CellRef)) {
	wr.finalizer = fn
}

// ---------------------------------------------------------------------------
// WeakRefTable: the runtime's weak references
// ---------------------------------------------------------------------------

// WeakRefTable tracks every weak reference of a runtime.
type WeakRefTable struct {
	refs    map[uint64]*WeakRef
	nextID  uint64
	pending []pendingFinalizer
}

type pendingFinalizer struct {
	fn  func(CellRef)
	ref CellRef
}

func newWeakRefTable() *WeakRefTable {
	return &WeakRefTable{refs: make(map[uint64]*WeakRef)}
}

// NewWeakRef creates a weak reference to target.
func (rt *Runtime) NewWeakRef(target *Object) *WeakRef {
	t := rt.weakRefs
	t.nextID++
	wr := &WeakRef{id: t.nextID, rt: rt, target: target}
	t.refs[wr.id] = wr
	return wr
}

// WeakRefs returns the runtime's weak reference table.
func (rt *Runtime) WeakRefs() *WeakRefTable {
	return rt.weakRefs
}

// Unregister stops tracking wr. Its target is left as is.
func (t *WeakRefTable) Unregister(wr *WeakRef) {
	delete(t.refs, wr.id)
}

// Lookup finds a weak reference by id.
func (t *WeakRefTable) Lookup(id uint64) *WeakRef {
	return t.refs[id]
}

// Count returns the number of registered weak references.
func (t *WeakRefTable) Count() int {
	return len(t.refs)
}

// sweep clears references whose targets are about to be finalized and
// queues their finalizers. It returns the number cleared.
func (t *WeakRefTable) sweep() int {
	cleared := 0
	for _, wr := range t.refs {
		if !objectDying(wr.target) {
			continue
		}
		old := wr.Clear()
		cleared++
		if wr.finalizer != nil {
			t.pending = append(t.pending, pendingFinalizer{fn: wr.finalizer, ref: old.Ref()})
		}
	}
	return cleared
}

// runFinalizers invokes the queued finalizers outside the collector.
func (t *WeakRefTable) runFinalizers() {
	pending := t.pending
	t.pending = nil
	for _, p := range pending {
		p.fn(p.ref)
	}
}
