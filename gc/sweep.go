package gc

import "time"

// sweep frees the unmarked cells of the collected compartments, drops dead
// weak table entries and releases arenas left empty.
func (rt *Runtime) sweep() {
	start := time.Now()
	st := rt.current
	rt.state = Sweep
	rt.heapBusy = true
	defer func() { rt.heapBusy = false }()

	// Weak tables first: they test marks of cells still in place.
	for _, c := range rt.collecting {
		c.sweepTables()
	}
	if rt.atomsComp.collecting {
		before := len(rt.atoms)
		rt.sweepAtoms()
		st.AtomsSwept = before - len(rt.atoms)
	}
	st.WeakRefsCleared = rt.weakRefs.sweep()

	for _, c := range rt.collecting {
		c.sweepArenas(st)
	}
	st.SweepDuration = time.Since(start)
}

// sweepArenas finalizes and frees unmarked cells, rebuilds free spans and
// returns empty arenas to the pool.
func (c *Compartment) sweepArenas(st *CollectionStats) {
	for k := AllocKind(0); k < AllocLimit; k++ {
		var prev *ArenaHeader
		for a := c.arenas.heads[k]; a != nil; {
			next := a.next
			for i, cell := range a.things {
				if cell == nil {
					continue
				}
				if cell.header().IsMarked() {
					st.CellsMarked++
					continue
				}
				finalizeCell(cell)
				a.things[i] = nil
				st.CellsFreed++
				if k.IsObject() {
					st.ObjectsFreed++
				}
			}
			a.rebuildFreeSpans()

			if a.IsEmpty() {
				if prev == nil {
					c.arenas.heads[k] = next
				} else {
					prev.next = next
				}
				if c.arenas.cursor[k] == a {
					c.arenas.cursor[k] = nil
				}
				a.next = nil
				c.rt.pool.release(a)
				st.ArenasReleased++
			} else {
				prev = a
			}
			a = next
		}
	}
}

func finalizeCell(cell Cell) {
	obj, ok := cell.(*Object)
	if !ok {
		return
	}
	if fin := obj.Class().Finalize; fin != nil {
		fin(obj)
	}
}

// unmarkAll clears the mark bits of every cell and returns the number of
// cells.
func (c *Compartment) unmarkAll() int {
	n := 0
	for k := AllocKind(0); k < AllocLimit; k++ {
		for a := c.arenas.heads[k]; a != nil; a = a.next {
			a.markOverflow = false
			a.allocatedDuringIncremental = false
			for it := NewCellIter(a); !it.Done(); it.Next() {
				it.Get().header().unmark()
				n++
			}
		}
	}
	return n
}
