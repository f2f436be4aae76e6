package gc

// Pre-write barriers. While a compartment is marked incrementally, any GC
// thing about to become unreachable through an overwrite is marked first,
// so everything reachable when marking began stays marked.

// WriteBarrierPre runs the pre-write barrier for a value about to be
// overwritten.
func (rt *Runtime) WriteBarrierPre(v Value) {
	rt.valueBarrierPre(v)
}

// WriteBarrierPreRange runs the pre-write barrier for a range of values
// about to be overwritten or discarded.
func (rt *Runtime) WriteBarrierPreRange(vals []Value) {
	if rt.state == NoIncremental {
		return
	}
	for _, v := range vals {
		rt.valueBarrierPre(v)
	}
}

// CellBarrierPre runs the pre-write barrier for a cell edge about to be
// overwritten.
func (rt *Runtime) CellBarrierPre(c Cell) {
	rt.cellBarrierPre(c)
}

func (rt *Runtime) valueBarrierPre(v Value) {
	if rt.state == NoIncremental || !v.IsGCThing() {
		return
	}
	rt.cellBarrierPre(rt.CellOf(v))
}

func (rt *Runtime) cellBarrierPre(c Cell) {
	if rt.state == NoIncremental || isNilCell(c) {
		return
	}
	if !c.header().arena.comp.needsBarrier {
		return
	}
	assertf(!rt.heapBusy, "write barrier while the heap is busy")
	rt.stats.barriersTaken++
	rt.marker.pushCell(c)
}
