package gc

// ArenaLists holds a compartment's arenas, one list per allocation kind,
// plus the arena each kind is currently allocating from.
type ArenaLists struct {
	heads  [AllocLimit]*ArenaHeader
	cursor [AllocLimit]*ArenaHeader
}

// First returns the head of the arena list for kind.
func (l *ArenaLists) First(kind AllocKind) *ArenaHeader {
	return l.heads[kind]
}

// Count returns the number of arenas of kind.
func (l *ArenaLists) Count(kind AllocKind) int {
	n := 0
	for a := l.heads[kind]; a != nil; a = a.next {
		n++
	}
	return n
}

func (l *ArenaLists) prepend(a *ArenaHeader) {
	a.next = l.heads[a.kind]
	l.heads[a.kind] = a
}

// allocateCell places cell into a free slot of kind, refilling from the
// arena pool when the current arena is full.
func (c *Compartment) allocateCell(kind AllocKind, cell Cell) error {
	assertf(!c.rt.heapBusy, "allocation of %v while the heap is busy", kind)

	a := c.arenas.cursor[kind]
	if a == nil || a.IsFull() {
		a = c.refillFreeList(kind)
		if a == nil {
			return ErrOutOfMemory
		}
	}
	i, ok := a.allocate()
	assertf(ok, "allocateCell: refilled arena %d has no free span", a.id)
	a.place(i, cell)
	c.rt.stats.cellsAllocated++

	if c.needsBarrier {
		c.rt.arenaAllocatedDuringGC(a, cell)
	}
	return nil
}

// refillFreeList finds an arena of kind with free slots, taking a new one
// from the pool when none has room.
func (c *Compartment) refillFreeList(kind AllocKind) *ArenaHeader {
	for a := c.arenas.heads[kind]; a != nil; a = a.next {
		if !a.IsFull() {
			c.arenas.cursor[kind] = a
			return a
		}
	}
	a := c.rt.pool.allocate(c, kind)
	if a == nil {
		log.Warningf("arena pool exhausted allocating %v in compartment %q", kind, c.name)
		return nil
	}
	c.arenas.prepend(a)
	c.arenas.cursor[kind] = a
	return a
}

// arenaAllocatedDuringGC handles an allocation made while the compartment is
// being marked incrementally: the new cell is born black and its arena is
// queued so the cell's children get traced before marking finishes.
func (rt *Runtime) arenaAllocatedDuringGC(a *ArenaHeader, cell Cell) {
	cell.header().markIfUnmarked(Black)
	a.allocatedDuringIncremental = true
	rt.marker.delayMarkingArena(a)
}
