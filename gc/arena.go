package gc

// ---------------------------------------------------------------------------
// Arenas
// ---------------------------------------------------------------------------

// FreeSpan is an inclusive run of unallocated slot indexes in an arena.
type FreeSpan struct {
	First int
	Last  int
}

// Len returns the number of slots in the span.
func (s FreeSpan) Len() int {
	return s.Last - s.First + 1
}

// ArenaHeader describes one fixed-size page of same-kind cells.
type ArenaHeader struct {
	id   uint32
	kind AllocKind
	comp *Compartment

	things []Cell     // one entry per slot; nil when free
	free   []FreeSpan // sorted and disjoint

	// next links arenas of the same kind within a compartment.
	next *ArenaHeader

	// Incremental and overflow marking state. nextDelayedMarking threads
	// the marker's delayed list through the arenas themselves so delaying
	// never allocates.
	allocatedDuringIncremental bool
	markOverflow               bool
	hasDelayedMarking          bool
	nextDelayedMarking         *ArenaHeader
}

func newArenaHeader(id uint32, comp *Compartment, kind AllocKind) *ArenaHeader {
	n := kind.ThingsPerArena()
	return &ArenaHeader{
		id:     id,
		kind:   kind,
		comp:   comp,
		things: make([]Cell, n),
		free:   []FreeSpan{{First: 0, Last: n - 1}},
	}
}

// ID returns the arena's handle id.
func (a *ArenaHeader) ID() uint32 { return a.id }

// Kind returns the arena's allocation kind.
func (a *ArenaHeader) Kind() AllocKind { return a.kind }

// Compartment returns the owning compartment.
func (a *ArenaHeader) Compartment() *Compartment { return a.comp }

// Next returns the next arena of the same kind in the compartment.
func (a *ArenaHeader) Next() *ArenaHeader { return a.next }

// Capacity returns the number of slots.
func (a *ArenaHeader) Capacity() int { return len(a.things) }

// FreeSpans returns a copy of the free-span list.
func (a *ArenaHeader) FreeSpans() []FreeSpan {
	out := make([]FreeSpan, len(a.free))
	copy(out, a.free)
	return out
}

// CountFree returns the number of unallocated slots.
func (a *ArenaHeader) CountFree() int {
	n := 0
	for _, s := range a.free {
		n += s.Len()
	}
	return n
}

// CountLive returns the number of allocated slots.
func (a *ArenaHeader) CountLive() int {
	return len(a.things) - a.CountFree()
}

// IsEmpty reports whether no slot is allocated.
func (a *ArenaHeader) IsEmpty() bool {
	return len(a.free) == 1 && a.free[0].First == 0 && a.free[0].Last == len(a.things)-1
}

// IsFull reports whether every slot is allocated.
func (a *ArenaHeader) IsFull() bool {
	return len(a.free) == 0
}

// cellAt returns the cell in slot i, or nil if the slot is free.
func (a *ArenaHeader) cellAt(i int) Cell {
	if i < 0 || i >= len(a.things) {
		return nil
	}
	return a.things[i]
}

// allocate takes the first slot of the first free span.
func (a *ArenaHeader) allocate() (int, bool) {
	if len(a.free) == 0 {
		return 0, false
	}
	span := &a.free[0]
	i := span.First
	if span.First == span.Last {
		a.free = a.free[1:]
	} else {
		span.First++
	}
	return i, true
}

// place installs c into slot i and wires its header.
func (a *ArenaHeader) place(i int, c Cell) {
	h := c.header()
	h.arena = a
	h.index = i
	h.marks = 0
	a.things[i] = c
}

// rebuildFreeSpans recomputes the span list from slot occupancy.
func (a *ArenaHeader) rebuildFreeSpans() {
	a.free = a.free[:0]
	start := -1
	for i, c := range a.things {
		if c == nil {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			a.free = append(a.free, FreeSpan{First: start, Last: i - 1})
			start = -1
		}
	}
	if start >= 0 {
		a.free = append(a.free, FreeSpan{First: start, Last: len(a.things) - 1})
	}
}

// ---------------------------------------------------------------------------
// Cell iteration
// ---------------------------------------------------------------------------

// CellIter walks the allocated cells of one arena, or of an arena list,
// skipping free spans.
type CellIter struct {
	arena *ArenaHeader
	list  bool
	span  int
	index int
	cell  Cell
}

// NewCellIter iterates the cells of a single arena.
func NewCellIter(a *ArenaHeader) *CellIter {
	it := &CellIter{arena: a, index: -1}
	it.Next()
	return it
}

// NewArenaListCellIter iterates the cells of a and every arena after it.
func NewArenaListCellIter(a *ArenaHeader) *CellIter {
	it := &CellIter{arena: a, list: true, index: -1}
	it.Next()
	return it
}

// Done reports whether iteration is finished.
func (it *CellIter) Done() bool {
	return it.cell == nil
}

// Get returns the current cell.
func (it *CellIter) Get() Cell {
	assertf(it.cell != nil, "CellIter.Get: iterator is done")
	return it.cell
}

// Next advances to the next allocated cell.
func (it *CellIter) Next() {
	for it.arena != nil {
		it.index++
		if it.index >= len(it.arena.things) {
			if !it.list {
				it.arena = nil
				break
			}
			it.arena = it.arena.next
			it.span = 0
			it.index = -1
			continue
		}
		if it.span < len(it.arena.free) && it.index == it.arena.free[it.span].First {
			it.index = it.arena.free[it.span].Last
			it.span++
			continue
		}
		it.cell = it.arena.things[it.index]
		assertf(it.cell != nil, "CellIter: slot %d of arena %d outside free spans is empty", it.index, it.arena.id)
		return
	}
	it.cell = nil
}

// ---------------------------------------------------------------------------
// Arena pool
// ---------------------------------------------------------------------------

// arenaPool hands out arenas up to a fixed limit and resolves handles.
// Ids start at 1 and are never reused.
type arenaPool struct {
	arenas []*ArenaHeader
	live   int
	max    int
}

func newArenaPool(max int) *arenaPool {
	return &arenaPool{arenas: []*ArenaHeader{nil}, max: max}
}

func (p *arenaPool) allocate(comp *Compartment, kind AllocKind) *ArenaHeader {
	if p.max > 0 && p.live >= p.max {
		return nil
	}
	id := uint32(len(p.arenas))
	a := newArenaHeader(id, comp, kind)
	p.arenas = append(p.arenas, a)
	p.live++
	return a
}

func (p *arenaPool) release(a *ArenaHeader) {
	assertf(p.arenas[a.id] == a, "arenaPool.release: arena %d not owned by pool", a.id)
	p.arenas[a.id] = nil
	p.live--
}

func (p *arenaPool) lookup(id uint32) *ArenaHeader {
	if int(id) >= len(p.arenas) {
		return nil
	}
	return p.arenas[id]
}
