package gc

// DrainResult is the outcome of draining the mark stack.
type DrainResult uint8

const (
	// DrainCompleted means the stack is empty and no delayed arenas remain.
	DrainCompleted DrainResult = iota

	// DrainYielded means the budget ran out. Value ranges were saved and
	// the next Drain resumes where this one stopped.
	DrainYielded

	// DrainFailed means the marker could not run at all.
	DrainFailed
)

func (r DrainResult) String() string {
	switch r {
	case DrainCompleted:
		return "completed"
	case DrainYielded:
		return "yielded"
	case DrainFailed:
		return "failed"
	}
	return "invalid"
}

// GCMarker holds the marking state of one collection: the mark stack, the
// current mark color and the list of arenas whose children still need
// tracing.
type GCMarker struct {
	rt      *Runtime
	trc     Tracer
	stack   *MarkStack
	initial int
	color   MarkColor
	started bool

	// Arenas needing delayed marking, threaded through
	// ArenaHeader.nextDelayedMarking.
	unmarkedArenaStackTop *ArenaHeader
	markLaterArenas       int

	// Counters for the collection in progress.
	objectsScanned int64
	delayedArenas  int64
	savedRanges    int64
}

func newGCMarker(rt *Runtime, initial, limit int) *GCMarker {
	m := &GCMarker{
		rt:      rt,
		stack:   newMarkStack(initial, limit),
		initial: initial,
	}
	m.trc = Tracer{rt: rt, marker: m, edgeIndex: -1}
	return m
}

// Tracer returns the marking tracer.
func (m *GCMarker) Tracer() *Tracer { return &m.trc }

// Stack returns the mark stack.
func (m *GCMarker) Stack() *MarkStack { return m.stack }

// Color returns the color marking currently applies.
func (m *GCMarker) Color() MarkColor { return m.color }

// IsStarted reports whether a collection owns the marker.
func (m *GCMarker) IsStarted() bool { return m.started }

// HasDelayedChildren reports whether arenas wait for delayed marking.
func (m *GCMarker) HasDelayedChildren() bool { return m.unmarkedArenaStackTop != nil }

// IsDrained reports whether no marking work is outstanding.
func (m *GCMarker) IsDrained() bool {
	return m.stack.IsEmpty() && !m.HasDelayedChildren()
}

func (m *GCMarker) start() {
	assertf(!m.started, "GCMarker.start: marker already started")
	assertf(m.IsDrained(), "GCMarker.start: leftover marking work")
	m.started = true
	m.color = Black
	m.objectsScanned = 0
	m.delayedArenas = 0
	m.savedRanges = 0
}

func (m *GCMarker) stop() {
	assertf(m.IsDrained(), "GCMarker.stop: marking work outstanding")
	m.started = false
	m.stack.reset(m.initial)
}

// reset abandons all outstanding work.
func (m *GCMarker) reset() {
	m.stack.reset(m.initial)
	for a := m.unmarkedArenaStackTop; a != nil; {
		next := a.nextDelayedMarking
		a.nextDelayedMarking = nil
		a.hasDelayedMarking = false
		a.markOverflow = false
		a.allocatedDuringIncremental = false
		a = next
	}
	m.unmarkedArenaStackTop = nil
	m.markLaterArenas = 0
	m.color = Black
	m.started = false
}

func (m *GCMarker) setColor(c MarkColor) {
	assertf(m.IsDrained(), "GCMarker.setColor: marking work outstanding")
	m.color = c
}

// ---------------------------------------------------------------------------
// Pushing
// ---------------------------------------------------------------------------

// pushCell marks thing and either stages it on the stack or scans it in
// place, depending on its kind. Already marked things are left alone.
func (m *GCMarker) pushCell(thing Cell) {
	switch t := thing.(type) {
	case *Object:
		if t.markIfUnmarked(m.color) {
			m.pushObject(t)
		}
	case *TypeObject:
		if t.markIfUnmarked(m.color) {
			m.pushType(t)
		}
	case *XML:
		if t.markIfUnmarked(m.color) {
			m.pushXML(t)
		}
	case *Script:
		// Scripts reach other scripts only through function objects, which
		// are staged, so tracing them in place recurses at most once.
		if t.markIfUnmarked(m.color) {
			markScriptChildren(&m.trc, t)
		}
	case *Shape:
		if t.markIfUnmarked(m.color) {
			m.scanShape(t)
		}
	case *BaseShape:
		if t.markIfUnmarked(m.color) {
			m.scanBaseShape(t)
		}
	case *String:
		if t.markIfUnmarked(Black) {
			m.scanString(t)
		}
	default:
		assertf(false, "pushCell: unknown cell %T", thing)
	}
}

// mark is pushCell restricted to the collection set.
func (m *GCMarker) mark(thing Cell) {
	if !isNilCell(thing) && thing.header().isCollecting() {
		m.pushCell(thing)
	}
}

func (m *GCMarker) pushTagged(it markItem) {
	if !m.stack.push(it) {
		m.delayMarkingChildren(it.cell)
	}
}

func (m *GCMarker) pushObject(obj *Object) {
	m.pushTagged(markItem{tag: objectTag, cell: obj})
}

func (m *GCMarker) pushType(t *TypeObject) {
	m.pushTagged(markItem{tag: typeTag, cell: t})
}

func (m *GCMarker) pushXML(x *XML) {
	m.pushTagged(markItem{tag: xmlTag, cell: x})
}

// pushValueArray stages the remaining values of one slot region. index is
// the slot or element index of vals[0]. Empty ranges are not staged.
func (m *GCMarker) pushValueArray(obj *Object, region slotRegion, index int, vals []Value) {
	if len(vals) == 0 {
		return
	}
	m.pushTagged(markItem{tag: valueArrayTag, cell: obj, region: region, index: index, vals: vals})
}

// pushArenaList stages a bulk scan of a and the arenas after it. When the
// stack is full the scan happens in place, delaying each arena that gets a
// newly marked object.
func (m *GCMarker) pushArenaList(a *ArenaHeader) {
	if m.stack.push(markItem{tag: arenaTag, arena: a}) {
		return
	}
	for ; a != nil; a = a.next {
		for it := NewCellIter(a); !it.Done(); it.Next() {
			obj := it.Get().(*Object)
			if obj.HasSingletonType() && obj.markIfUnmarked(m.color) {
				m.delayMarkingChildren(obj)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Delayed marking
// ---------------------------------------------------------------------------

// delayMarkingArena links a onto the delayed list unless it is already
// there. The list lives in the arena headers, so this never allocates.
func (m *GCMarker) delayMarkingArena(a *ArenaHeader) {
	if a.hasDelayedMarking {
		return
	}
	a.hasDelayedMarking = true
	a.nextDelayedMarking = m.unmarkedArenaStackTop
	m.unmarkedArenaStackTop = a
	m.markLaterArenas++
	m.delayedArenas++
}

// delayMarkingChildren records that the children of a marked thing were not
// traced because the stack was full.
func (m *GCMarker) delayMarkingChildren(thing Cell) {
	a := thing.header().arena
	a.markOverflow = true
	m.delayMarkingArena(a)
}

// markDelayedChildren traces the children of delayed arenas until the list
// is empty or the budget runs out.
func (m *GCMarker) markDelayedChildren(budget *SliceBudget) bool {
	assertf(m.unmarkedArenaStackTop != nil, "markDelayedChildren: nothing delayed")
	log.Debugf("marking children of %d delayed arenas", m.markLaterArenas)
	for m.unmarkedArenaStackTop != nil {
		a := m.unmarkedArenaStackTop
		m.unmarkedArenaStackTop = a.nextDelayedMarking
		a.nextDelayedMarking = nil
		a.hasDelayedMarking = false
		m.markLaterArenas--

		m.markDelayedArena(a, budget)
		if budget.IsOverBudget() {
			return false
		}
	}
	return true
}

// markDelayedArena traces the children of every marked cell in a. Cells
// allocated during incremental marking are born marked, so they are
// covered too.
func (m *GCMarker) markDelayedArena(a *ArenaHeader, budget *SliceBudget) {
	a.markOverflow = false
	a.allocatedDuringIncremental = false
	for it := NewCellIter(a); !it.Done(); it.Next() {
		c := it.Get()
		if c.header().IsMarked() {
			TraceChildren(&m.trc, c)
		}
		budget.Step(1)
	}
}

// ---------------------------------------------------------------------------
// In-place scanning
// ---------------------------------------------------------------------------

// scanShape walks the previous chain iteratively, stopping at the first
// shape that is already marked.
func (m *GCMarker) scanShape(shape *Shape) {
	for {
		m.mark(shape.base)
		switch shape.propid.kind {
		case idString:
			m.mark(shape.propid.str)
		case idObject:
			m.mark(shape.propid.obj)
		}
		shape = shape.previous
		if shape == nil || !shape.isCollecting() || !shape.markIfUnmarked(m.color) {
			return
		}
	}
}

func (m *GCMarker) scanBaseShape(base *BaseShape) {
	base.assertConsistency()

	if base.HasGetterObject() {
		m.mark(base.getterObj)
	}
	if base.HasSetterObject() {
		m.mark(base.setterObj)
	}
	if base.parent != nil {
		m.mark(base.parent)
	} else if g := base.Compartment().global; g != nil {
		m.mark(g)
	}

	// An owned base shape has the same children as its unowned one.
	if base.IsOwned() {
		assertf(base.Compartment() == base.unowned.Compartment(), "owned and unowned base shapes in different compartments")
		base.unowned.markIfUnmarked(m.color)
	}
}

func (m *GCMarker) scanString(str *String) {
	if str.IsLinear() {
		m.scanLinearString(str)
	} else {
		m.scanRope(str)
	}
}

// scanLinearString marks the chain of bases of a dependent string.
func (m *GCMarker) scanLinearString(str *String) {
	assertf(str.IsMarked(), "scanLinearString: string not marked")
	for str.HasBase() {
		str = str.base
		assertf(str.IsLinear(), "scanLinearString: base is a rope")
		if !str.isCollecting() || !str.markIfUnmarked(Black) {
			return
		}
	}
}

// markStringChild marks a rope child, reporting whether it was newly
// marked.
func markStringChild(s *String) bool {
	return s.isCollecting() && s.markIfUnmarked(Black)
}

// scanRope scans a rope tree using the mark stack as temporary storage.
// Ropes it sets aside are popped again before it returns, so the stack is
// at the same depth on exit. When the stack is full the set-aside rope is
// delayed instead.
func (m *GCMarker) scanRope(rope *String) {
	savedPos := m.stack.position()
	for {
		assertf(rope.IsRope() && rope.IsMarked(), "scanRope: expected a marked rope")
		var next *String

		if right := rope.right; markStringChild(right) {
			if right.IsLinear() {
				m.scanLinearString(right)
			} else {
				next = right
			}
		}

		if left := rope.left; markStringChild(left) {
			if left.IsLinear() {
				m.scanLinearString(left)
			} else {
				// Both children are ropes: set the right one aside.
				if next != nil && !m.stack.push(markItem{tag: ropeTag, cell: next}) {
					m.delayMarkingChildren(next)
				}
				next = left
			}
		}

		switch {
		case next != nil:
			rope = next
		case m.stack.position() != savedPos:
			assertf(m.stack.position() > savedPos, "scanRope: stack below saved position")
			it := m.stack.pop()
			assertf(it.tag == ropeTag, "scanRope: popped %v entry", it.tag)
			rope = it.cell.(*String)
		default:
			return
		}
	}
}

// scanTypeObject marks a type object's children. Property names of
// singleton types are left for sweeping to purge.
func (m *GCMarker) scanTypeObject(t *TypeObject) {
	if t.singleton == nil {
		for _, id := range t.props {
			if id.IsString() {
				m.mark(id.str)
			}
		}
	}
	if t.proto != nil {
		m.mark(t.proto)
	}
	if t.singleton != nil && !t.lazy {
		m.mark(t.singleton)
	}
	if t.newScript != nil {
		m.mark(t.newScript.Fun)
		m.mark(t.newScript.Shape)
	}
	if t.interpretedFunction != nil {
		m.mark(t.interpretedFunction)
	}
}

// ---------------------------------------------------------------------------
// Saving and restoring value ranges
// ---------------------------------------------------------------------------

// saveValueRanges converts every live value-array entry into an index-based
// entry before the mutator runs, since the mutator may reallocate slot and
// element vectors. The class is recorded so a dense array made slow in the
// meantime is noticed on restore.
func (m *GCMarker) saveValueRanges() {
	for i := range m.stack.items {
		it := &m.stack.items[i]
		if it.tag != valueArrayTag {
			continue
		}
		obj := it.cell.(*Object)
		if strictChecks {
			end := it.index + len(it.vals)
			switch it.region {
			case regionElements:
				assertf(end == obj.initLen, "saveValueRanges: element range ends at %d, length %d", end, obj.initLen)
			case regionFixed:
				assertf(end == min(len(obj.fixed), obj.SlotSpan()), "saveValueRanges: fixed range ends at %d", end)
			case regionDynamic:
				assertf(end == obj.SlotSpan(), "saveValueRanges: dynamic range ends at %d, span %d", end, obj.SlotSpan())
			}
		}
		it.tag = savedValueArrayTag
		it.vals = nil
		it.clasp = obj.Class()
		m.savedRanges++
	}
}

// restoreValueArray rebuilds the range of a saved entry from the object's
// current storage. A range past the end of a shrunk object comes back
// empty. ok is false when a dense array became slow and must be rescanned
// whole.
func (m *GCMarker) restoreValueArray(it markItem) (region slotRegion, index int, vals []Value, ok bool) {
	obj := it.cell.(*Object)
	clasp := obj.Class()
	assertf(clasp == it.clasp || (it.clasp == ArrayClass && clasp == SlowArrayClass),
		"restoreValueArray: class changed from %s to %s", it.clasp.Name, clasp.Name)

	start := it.index
	if it.clasp == ArrayClass {
		if clasp != ArrayClass {
			return 0, 0, nil, false
		}
		if start < obj.initLen {
			return regionElements, start, obj.elements[start:obj.initLen], true
		}
		return regionElements, start, obj.elements[:0], true
	}

	nfixed := len(obj.fixed)
	nslots := obj.SlotSpan()
	if start >= nslots {
		return regionFixed, start, obj.fixed[:0], true
	}
	if start < nfixed {
		return regionFixed, start, obj.fixed[start:min(nfixed, nslots)], true
	}
	return regionDynamic, start, obj.slots[start-nfixed : nslots-nfixed], true
}

// ---------------------------------------------------------------------------
// Draining
// ---------------------------------------------------------------------------

type scanState uint8

const (
	scanValueArray scanState = iota
	scanObj
)

// processMarkStackTop pops one entry and scans it. Objects and value
// ranges are scanned by a two-state loop: the first unmarked object found
// in a range suspends the range back onto the stack and becomes the object
// being scanned, which keeps long object chains off the native stack.
func (m *GCMarker) processMarkStackTop(budget *SliceBudget) {
	it := m.stack.pop()

	var (
		obj    *Object
		vals   []Value
		region slotRegion
		index  int
		state  scanState
	)
	switch it.tag {
	case valueArrayTag:
		obj = it.cell.(*Object)
		vals, region, index = it.vals, it.region, it.index
		state = scanValueArray
	case objectTag:
		obj = it.cell.(*Object)
		state = scanObj
	default:
		m.processMarkStackOther(budget, it)
		return
	}

	for {
		switch state {
		case scanValueArray:
			next := m.scanValues(obj, region, &index, &vals)
			if next == nil {
				return
			}
			obj = next
			state = scanObj

		case scanObj:
			budget.Step(1)
			if budget.IsOverBudget() {
				m.pushObject(obj)
				return
			}
			m.objectsScanned++

			m.mark(obj.typ)
			m.mark(obj.shape)

			clasp := obj.Class()
			if clasp.Trace != nil {
				if clasp == ArrayClass {
					assertf(!obj.shape.IsNative(), "dense array with native shape")
					vals, region, index = obj.elements[:obj.initLen], regionElements, 0
					state = scanValueArray
					continue
				}
				clasp.Trace(&m.trc, obj)
			}
			if !obj.shape.IsNative() {
				return
			}

			nslots := obj.SlotSpan()
			nfixed := len(obj.fixed)
			if nslots > nfixed {
				m.pushValueArray(obj, regionFixed, 0, obj.fixed)
				vals, region, index = obj.slots[:nslots-nfixed], regionDynamic, nfixed
			} else {
				vals, region, index = obj.fixed[:nslots], regionFixed, 0
			}
			state = scanValueArray
		}
	}
}

// scanValues marks the values of a range until it finds an object that was
// not yet marked. That object is returned and what is left of the range
// is staged.
func (m *GCMarker) scanValues(owner *Object, region slotRegion, index *int, vals *[]Value) *Object {
	rt := m.rt
	for len(*vals) > 0 {
		v := (*vals)[0]
		*vals = (*vals)[1:]
		*index++
		switch {
		case v.IsString():
			m.mark(rt.StringOf(v))
		case v.IsObject():
			obj2 := rt.ObjectOf(v)
			if obj2.isCollecting() && obj2.markIfUnmarked(m.color) {
				m.pushValueArray(owner, region, *index, *vals)
				return obj2
			}
		}
	}
	return nil
}

func (m *GCMarker) processMarkStackOther(budget *SliceBudget, it markItem) {
	switch it.tag {
	case typeTag:
		m.scanTypeObject(it.cell.(*TypeObject))

	case savedValueArrayTag:
		obj := it.cell.(*Object)
		if region, index, vals, ok := m.restoreValueArray(it); ok {
			m.pushValueArray(obj, region, index, vals)
		} else {
			m.pushObject(obj)
		}

	case arenaTag:
		for a := it.arena; a != nil; a = a.next {
			for ci := NewCellIter(a); !ci.Done(); ci.Next() {
				obj := ci.Get().(*Object)
				if obj.HasSingletonType() && obj.markIfUnmarked(m.color) {
					m.pushObject(obj)
				}
				budget.Step(1)
			}
			if budget.IsOverBudget() {
				if a.next != nil {
					m.pushArenaList(a.next)
				}
				return
			}
		}

	case xmlTag:
		markXMLChildren(&m.trc, it.cell.(*XML))

	default:
		assertf(false, "processMarkStackOther: unexpected %v entry", it.tag)
	}
}

// Drain processes mark stack entries and delayed arenas until no work is
// left or the budget runs out.
func (m *GCMarker) Drain(budget *SliceBudget) (DrainResult, error) {
	if !m.started {
		return DrainFailed, ErrNotCollecting
	}
	if budget.IsOverBudget() {
		return DrainYielded, nil
	}

	for {
		for !m.stack.IsEmpty() {
			m.processMarkStackTop(budget)
			if budget.IsOverBudget() {
				m.saveValueRanges()
				return DrainYielded, nil
			}
		}

		if !m.HasDelayedChildren() {
			break
		}

		// Children of things that overflowed the stack are traced only once
		// everything else is done.
		if !m.markDelayedChildren(budget) {
			m.saveValueRanges()
			return DrainYielded, nil
		}
	}
	return DrainCompleted, nil
}

// pushActiveAnalysisArenas stages bulk scans of the object arenas of
// compartments running a type analysis, keeping their singleton-typed
// objects alive.
func (m *GCMarker) pushActiveAnalysisArenas(comps []*Compartment) {
	for _, c := range comps {
		if !c.ActiveAnalysis {
			continue
		}
		for k := AllocObject0; k <= AllocObject16; k++ {
			if a := c.arenas.heads[k]; a != nil {
				m.pushArenaList(a)
			}
		}
	}
}
