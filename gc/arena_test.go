package gc

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Arena geometry
// ---------------------------------------------------------------------------

func TestThingsPerArena(t *testing.T) {
	tests := []struct {
		kind AllocKind
		want int
	}{
		{AllocObject0, (ArenaSize - ArenaHeaderSize) / 32},
		{AllocObject4, (ArenaSize - ArenaHeaderSize) / 64},
		{AllocString, (ArenaSize - ArenaHeaderSize) / 32},
	}
	for _, tt := range tests {
		if got := tt.kind.ThingsPerArena(); got != tt.want {
			t.Errorf("%v.ThingsPerArena() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestObjectAllocKind(t *testing.T) {
	tests := []struct {
		n    int
		want AllocKind
	}{
		{0, AllocObject0},
		{1, AllocObject2},
		{4, AllocObject4},
		{9, AllocObject12},
		{40, AllocObject16},
	}
	for _, tt := range tests {
		if got := ObjectAllocKind(tt.n); got != tt.want {
			t.Errorf("ObjectAllocKind(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Cell iteration and free spans
// ---------------------------------------------------------------------------

func TestCellIterSkipsFreeSpans(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	objs := make([]*Object, 6)
	for i := range objs {
		objs[i] = newObject(t, comp)
	}
	// Keep 0, 2 and 5; free 1, 3 and 4.
	keep := []*Object{objs[0], objs[2], objs[5]}
	rt.AddRootTracer("keep", RootTracerFunc(func(trc *Tracer) error {
		for i := range keep {
			MarkObjectRoot(trc, &keep[i], "keep")
		}
		return nil
	}))
	mustGC(t, rt)

	a := comp.Arenas().First(AllocObject4)
	if a == nil {
		t.Fatal("object arena should survive")
	}
	if a.CountLive() != 3 {
		t.Fatalf("CountLive = %d, want 3", a.CountLive())
	}

	var seen []Cell
	for it := NewCellIter(a); !it.Done(); it.Next() {
		seen = append(seen, it.Get())
	}
	if len(seen) != 3 {
		t.Fatalf("iterated %d cells, want 3", len(seen))
	}
	for i, c := range seen {
		if c != Cell(keep[i]) {
			t.Errorf("cell %d is not the kept object", i)
		}
	}

	spans := a.FreeSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d free spans, want 3", len(spans))
	}
	if spans[0] != (FreeSpan{First: 1, Last: 1}) {
		t.Errorf("first span = %+v, want {1 1}", spans[0])
	}
	if spans[1] != (FreeSpan{First: 3, Last: 4}) {
		t.Errorf("second span = %+v, want {3 4}", spans[1])
	}
	if last := a.Capacity() - 1; spans[2] != (FreeSpan{First: 6, Last: last}) {
		t.Errorf("third span = %+v, want {6 %d}", spans[2], last)
	}
}

func TestFreedSlotsAreReused(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	a0 := newObject(t, comp)
	newObject(t, comp)
	rt.AddObjectRoot("a0", &a0)
	mustGC(t, rt)

	fresh := newObject(t, comp)
	if fresh.Arena() != a0.Arena() {
		t.Fatal("allocation should refill from the partially free arena")
	}
	if fresh.Ref().Index() != 1 {
		t.Errorf("fresh object took slot %d, want 1", fresh.Ref().Index())
	}
}

func TestEmptyArenasReleased(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	for i := 0; i < 200; i++ {
		newObject(t, comp)
	}
	if n := comp.Arenas().Count(AllocObject4); n != 4 {
		t.Fatalf("object arenas = %d, want 4", n)
	}
	before := rt.ArenaCount()

	st := mustGC(t, rt)
	if comp.Arenas().Count(AllocObject4) != 0 {
		t.Error("every object arena should be released")
	}
	if st.ArenasReleased < 4 {
		t.Errorf("ArenasReleased = %d, want at least 4", st.ArenasReleased)
	}
	if rt.ArenaCount() != before-st.ArenasReleased {
		t.Errorf("ArenaCount = %d, want %d", rt.ArenaCount(), before-st.ArenasReleased)
	}
}

func TestArenaIDsNeverReused(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	old := newObject(t, comp).Ref()
	mustGC(t, rt)

	fresh := newObject(t, comp).Ref()
	if fresh.ArenaID() == old.ArenaID() {
		t.Errorf("released arena id %d was handed out again", old.ArenaID())
	}
}

func TestArenaPoolLimit(t *testing.T) {
	rt, comp := newTestRuntime(t, Options{MaxArenas: 5})
	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		_, err = comp.NewPlainObject(nil)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
	if rt.ArenaCount() != 5 {
		t.Errorf("ArenaCount = %d, want 5", rt.ArenaCount())
	}

	// Collecting the garbage makes room again.
	mustGC(t, rt)
	if _, err := comp.NewPlainObject(nil); err != nil {
		t.Errorf("allocation after GC: %v", err)
	}
}
