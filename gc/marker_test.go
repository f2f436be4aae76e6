package gc

import (
	"math/rand/v2"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Pushing and idempotence
// ---------------------------------------------------------------------------

func TestMarkIsIdempotent(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	calls := 0
	counting := &Class{
		Name:  "Counting",
		Flags: ClassImplementsBarriers,
		Trace: func(trc *Tracer, obj *Object) { calls++ },
	}
	obj, err := comp.NewObject(counting, nil, nil)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	if err := rt.begin("test", rt.allCompartments(), true); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer rt.AbortIncremental()

	m := rt.Marker()
	m.mark(obj)
	m.mark(obj)
	if m.Stack().Len() != 1 {
		t.Fatalf("stack holds %d entries, want 1", m.Stack().Len())
	}

	budget := Unlimited()
	if res, err := m.Drain(&budget); res != DrainCompleted || err != nil {
		t.Fatalf("Drain = %v, %v", res, err)
	}
	if calls != 1 {
		t.Errorf("trace hook ran %d times, want 1", calls)
	}
	if !IsMarked(obj) {
		t.Error("object should be marked")
	}
}

func TestMarkSkipsCellsOutsideCollection(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	inside := rt.NewCompartment("inside")
	outside := rt.NewCompartment("outside")
	obj := newObject(t, outside)

	if err := rt.begin("test", []*Compartment{inside}, true); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer rt.AbortIncremental()

	rt.Marker().mark(obj)
	if !rt.Marker().Stack().IsEmpty() || IsMarked(obj) {
		t.Error("a cell outside the collection must not be marked")
	}
}

func TestDrainWithoutCollection(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultOptions())
	budget := Unlimited()
	res, err := rt.Marker().Drain(&budget)
	if res != DrainFailed || err != ErrNotCollecting {
		t.Errorf("Drain = %v, %v; want failed, ErrNotCollecting", res, err)
	}
}

// ---------------------------------------------------------------------------
// Reachability
// ---------------------------------------------------------------------------

func TestCycleCollected(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	a := newObject(t, comp)
	b := newObject(t, comp)
	c := newObject(t, comp)
	d := newObject(t, comp)
	link(t, a, 0, b)
	link(t, b, 0, c)
	link(t, c, 0, a)
	link(t, d, 0, a)
	rt.AddObjectRoot("a", &a)

	st := mustGC(t, rt)
	if n := comp.CountCells(TraceObject); n != 3 {
		t.Errorf("live objects = %d, want 3", n)
	}
	if st.ObjectsFreed != 1 {
		t.Errorf("ObjectsFreed = %d, want 1", st.ObjectsFreed)
	}
	for _, obj := range []*Object{a, b, c} {
		if !IsMarked(obj) {
			t.Error("object on the rooted cycle should be marked")
		}
	}
	if IsMarked(d) {
		t.Error("unreachable object should not be marked")
	}

	// Dropping the root frees the whole cycle.
	rt.RemoveRoot("a")
	st = mustGC(t, rt)
	if st.ObjectsFreed != 3 {
		t.Errorf("ObjectsFreed after unrooting = %d, want 3", st.ObjectsFreed)
	}
}

func TestLongObjectChain(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	const n = 100000
	head := newObject(t, comp)
	prev := head
	for i := 1; i < n; i++ {
		next := newObject(t, comp)
		link(t, prev, 0, next)
		prev = next
	}
	rt.AddObjectRoot("head", &head)

	st := mustGC(t, rt)
	if st.ObjectsFreed != 0 {
		t.Errorf("ObjectsFreed = %d, want 0", st.ObjectsFreed)
	}
	if !IsMarked(prev) {
		t.Error("tail of the chain should be marked")
	}
}

func TestLeftLeaningRope(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	const n = 100000
	leaves := make([]*String, n)
	for i := range leaves {
		s, err := comp.NewString("x")
		if err != nil {
			t.Fatalf("NewString: %v", err)
		}
		leaves[i] = s
	}
	rope := leaves[0]
	for _, leaf := range leaves[1:] {
		r, err := comp.NewRope(rope, leaf)
		if err != nil {
			t.Fatalf("NewRope: %v", err)
		}
		rope = r
	}
	rt.AddRootTracer("rope", RootTracerFunc(func(trc *Tracer) error {
		MarkStringRoot(trc, &rope, "rope")
		return nil
	}))

	st := mustGC(t, rt)
	if st.CellsFreed != 0 {
		t.Errorf("CellsFreed = %d, want 0", st.CellsFreed)
	}
	for i, leaf := range leaves {
		if !IsMarked(leaf) {
			t.Fatalf("leaf %d not marked", i)
		}
	}
	if rope.Length() != n {
		t.Errorf("rope length = %d, want %d", rope.Length(), n)
	}
}

func buildBalancedRope(t *testing.T, comp *Compartment, leaves []*String) *String {
	t.Helper()
	if len(leaves) == 1 {
		return leaves[0]
	}
	mid := len(leaves) / 2
	r, err := comp.NewRope(buildBalancedRope(t, comp, leaves[:mid]), buildBalancedRope(t, comp, leaves[mid:]))
	if err != nil {
		t.Fatalf("NewRope: %v", err)
	}
	return r
}

func TestBalancedRopeUnderTinyStack(t *testing.T) {
	rt, comp := newTestRuntime(t, Options{MarkStackInitial: 2, MarkStackLimit: 4})
	leaves := make([]*String, 1024)
	for i := range leaves {
		s, err := comp.NewString("leaf")
		if err != nil {
			t.Fatalf("NewString: %v", err)
		}
		leaves[i] = s
	}
	rope := buildBalancedRope(t, comp, leaves)
	rt.AddRootTracer("rope", RootTracerFunc(func(trc *Tracer) error {
		MarkStringRoot(trc, &rope, "rope")
		return nil
	}))

	st := mustGC(t, rt)
	if st.CellsFreed != 0 {
		t.Errorf("CellsFreed = %d, want 0", st.CellsFreed)
	}
	for i, leaf := range leaves {
		if !IsMarked(leaf) {
			t.Fatalf("leaf %d not marked", i)
		}
	}
	if st.DelayedArenas == 0 {
		t.Error("a four-word stack should have forced delayed marking")
	}
	if rope.Chars() != strings.Repeat("leaf", 1024) {
		t.Error("rope contents changed")
	}
}

func TestLongShapeChain(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	base, err := comp.NewBaseShape(ObjectClass, nil)
	if err != nil {
		t.Fatalf("NewBaseShape: %v", err)
	}
	last, err := comp.NewEmptyShape(base)
	if err != nil {
		t.Fatalf("NewEmptyShape: %v", err)
	}
	const n = 100000
	for i := 0; i < n; i++ {
		if last, err = comp.NewShape(last, IntID(int32(i))); err != nil {
			t.Fatalf("NewShape: %v", err)
		}
	}
	rt.AddRootTracer("shape", RootTracerFunc(func(trc *Tracer) error {
		MarkShape(trc, &last, "shape")
		return nil
	}))

	st := mustGC(t, rt)
	if st.CellsFreed != 0 {
		t.Errorf("CellsFreed = %d, want 0", st.CellsFreed)
	}
	marked := 0
	for s := last; s != nil; s = s.Previous() {
		if IsMarked(s) {
			marked++
		}
	}
	if marked != n+1 {
		t.Errorf("marked shapes = %d, want %d", marked, n+1)
	}
	if !IsMarked(base) {
		t.Error("base shape should be marked")
	}
}

func TestDependentStringChain(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	root, err := comp.NewString(strings.Repeat("ab", 600))
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	chain := []*String{root}
	s := root
	for s.Length() > 1 {
		if s, err = comp.NewDependentString(s, 1, s.Length()-1); err != nil {
			t.Fatalf("NewDependentString: %v", err)
		}
		chain = append(chain, s)
	}
	rt.AddRootTracer("tail", RootTracerFunc(func(trc *Tracer) error {
		MarkStringRoot(trc, &s, "tail")
		return nil
	}))

	mustGC(t, rt)
	for i, str := range chain {
		if !IsMarked(str) {
			t.Fatalf("string %d of the base chain not marked", i)
		}
	}
	if s.Chars() != "b" {
		t.Errorf("tail = %q, want %q", s.Chars(), "b")
	}
}

// ---------------------------------------------------------------------------
// Delayed marking
// ---------------------------------------------------------------------------

// buildRandomGraph allocates n objects with three edges each, chosen by a
// seeded generator, and returns them.
func buildRandomGraph(t *testing.T, comp *Compartment, n int, seed uint64) []*Object {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed))
	objs := make([]*Object, n)
	for i := range objs {
		objs[i] = newObject(t, comp)
	}
	for _, obj := range objs {
		for k := int32(0); k < 3; k++ {
			link(t, obj, k, objs[r.IntN(n)])
		}
	}
	return objs
}

func TestDelayedMarkingIsComplete(t *testing.T) {
	const n = 2000
	const seed = 42

	markedWith := func(opts Options) ([]bool, *CollectionStats) {
		rt, comp := newTestRuntime(t, opts)
		objs := buildRandomGraph(t, comp, n, seed)
		roots := objs[:5]
		rt.AddRootTracer("roots", RootTracerFunc(func(trc *Tracer) error {
			for i := range roots {
				MarkObjectRoot(trc, &roots[i], "root")
			}
			return nil
		}))
		st := mustGC(t, rt)
		marked := make([]bool, n)
		for i, obj := range objs {
			marked[i] = IsMarked(obj)
		}
		return marked, st
	}

	want, _ := markedWith(DefaultOptions())
	got, st := markedWith(Options{MarkStackLimit: 3})

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("object %d: marked = %v with a tiny stack, %v with the default", i, got[i], want[i])
		}
	}
	if st.DelayedArenas == 0 {
		t.Error("a three-word stack should have forced delayed marking")
	}
}

// ---------------------------------------------------------------------------
// Saving and restoring value ranges
// ---------------------------------------------------------------------------

func newObjectWithProps(t *testing.T, comp *Compartment, n int) *Object {
	t.Helper()
	obj := newObject(t, comp)
	for i := 0; i < n; i++ {
		if err := obj.DefineProperty(IntID(int32(i)), Int32Value(int32(i))); err != nil {
			t.Fatalf("DefineProperty: %v", err)
		}
	}
	return obj
}

func saveAndRestore(t *testing.T, m *GCMarker) (slotRegion, int, []Value, bool) {
	t.Helper()
	m.saveValueRanges()
	it := m.stack.pop()
	if it.tag != savedValueArrayTag {
		t.Fatalf("saved entry has tag %v", it.tag)
	}
	if it.vals != nil {
		t.Fatal("saved entry should not keep a view of the values")
	}
	return m.restoreValueArray(it)
}

func TestValueRangeRoundTrip(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	m := rt.Marker()
	obj := newObjectWithProps(t, comp, 10)
	if obj.NumFixedSlots() != 4 {
		t.Fatalf("NumFixedSlots = %d, want 4", obj.NumFixedSlots())
	}

	t.Run("fixed", func(t *testing.T) {
		m.pushValueArray(obj, regionFixed, 1, obj.fixed[1:4])
		region, index, vals, ok := saveAndRestore(t, m)
		if !ok || region != regionFixed || index != 1 {
			t.Fatalf("restore = %v, %d, ok %v", region, index, ok)
		}
		if len(vals) != 3 || &vals[0] != &obj.fixed[1] {
			t.Error("restored fixed range should view fixed[1:4]")
		}
	})

	t.Run("dynamic", func(t *testing.T) {
		m.pushValueArray(obj, regionDynamic, 6, obj.slots[2:6])
		region, index, vals, ok := saveAndRestore(t, m)
		if !ok || region != regionDynamic || index != 6 {
			t.Fatalf("restore = %v, %d, ok %v", region, index, ok)
		}
		if len(vals) != 4 || &vals[0] != &obj.slots[2] {
			t.Error("restored dynamic range should view slots 6 through 9")
		}
	})

	t.Run("elements", func(t *testing.T) {
		arr, err := comp.NewDenseArray(nil, []Value{Int32Value(0), Int32Value(1), Int32Value(2), Int32Value(3), Int32Value(4)})
		if err != nil {
			t.Fatalf("NewDenseArray: %v", err)
		}
		m.pushValueArray(arr, regionElements, 2, arr.elements[2:5])
		region, index, vals, ok := saveAndRestore(t, m)
		if !ok || region != regionElements || index != 2 {
			t.Fatalf("restore = %v, %d, ok %v", region, index, ok)
		}
		if len(vals) != 3 || &vals[0] != &arr.elements[2] {
			t.Error("restored element range should view elements[2:5]")
		}
	})
}

func TestRestoreAfterShrink(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	m := rt.Marker()
	obj := newObjectWithProps(t, comp, 10)

	m.pushValueArray(obj, regionDynamic, 8, obj.slots[4:6])
	m.saveValueRanges()
	for i := 0; i < 4; i++ {
		obj.RemoveLastProperty()
	}
	if obj.SlotSpan() != 6 {
		t.Fatalf("SlotSpan = %d, want 6", obj.SlotSpan())
	}

	_, _, vals, ok := m.restoreValueArray(m.stack.pop())
	if !ok {
		t.Fatal("a shrunk object should restore, not rescan")
	}
	if len(vals) != 0 {
		t.Errorf("restored %d values past the new span, want 0", len(vals))
	}
}

func TestRestoreAfterSlowification(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	m := rt.Marker()
	arr, err := comp.NewDenseArray(nil, []Value{True, False, Null})
	if err != nil {
		t.Fatalf("NewDenseArray: %v", err)
	}

	m.pushValueArray(arr, regionElements, 1, arr.elements[1:3])
	m.saveValueRanges()
	if err := arr.MakeSlowArray(); err != nil {
		t.Fatalf("MakeSlowArray: %v", err)
	}
	if arr.Class() != SlowArrayClass {
		t.Fatalf("class = %s, want the slow array class", arr.Class().Name)
	}
	if v := arr.GetSlot(2); v != Null {
		t.Errorf("slot 2 = %v, want null", v)
	}

	if _, _, _, ok := m.restoreValueArray(m.stack.pop()); ok {
		t.Error("a dense array made slow must be rescanned whole")
	}
}

// ---------------------------------------------------------------------------
// Type analysis roots
// ---------------------------------------------------------------------------

func TestActiveAnalysisKeepsSingletons(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	comp.ActiveAnalysis = true

	singleton := newObject(t, comp)
	if err := singleton.SetSingletonType(); err != nil {
		t.Fatalf("SetSingletonType: %v", err)
	}
	plain := newObject(t, comp)

	mustGC(t, rt)
	if !IsMarked(singleton) {
		t.Error("singleton-typed object should survive an active analysis")
	}
	if IsMarked(plain) {
		t.Error("plain unreachable object should be collected")
	}

	comp.ActiveAnalysis = false
	st := mustGC(t, rt)
	if st.ObjectsFreed != 1 {
		t.Errorf("ObjectsFreed = %d, want 1 once the analysis ends", st.ObjectsFreed)
	}
}

func TestActiveAnalysisUnderTinyStack(t *testing.T) {
	rt, comp := newTestRuntime(t, Options{MarkStackLimit: 1})
	comp.ActiveAnalysis = true

	singletons := make([]*Object, 150)
	for i := range singletons {
		singletons[i] = newObject(t, comp)
		if err := singletons[i].SetSingletonType(); err != nil {
			t.Fatalf("SetSingletonType: %v", err)
		}
	}

	mustGC(t, rt)
	for i, obj := range singletons {
		if !IsMarked(obj) {
			t.Fatalf("singleton %d collected", i)
		}
	}
}
