package heapdump

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/marrow/gc"
)

// heap builds a runtime where the root "held" reaches a, a reaches b
// through a property, and c is garbage.
func heap(t *testing.T) (rt *gc.Runtime, a, b, c *gc.Object) {
	t.Helper()
	rt = gc.NewRuntime(gc.DefaultOptions())
	comp := rt.NewCompartment("test")
	var err error
	newObject := func() *gc.Object {
		obj, err := comp.NewPlainObject(nil)
		if err != nil {
			t.Fatalf("NewPlainObject: %v", err)
		}
		return obj
	}
	global := newObject()
	comp.SetGlobal(global)
	a, b, c = newObject(), newObject(), newObject()

	atom, err := rt.Atomize("next")
	if err != nil {
		t.Fatalf("Atomize: %v", err)
	}
	if err := a.DefineProperty(gc.StringID(atom), gc.ObjectValue(b)); err != nil {
		t.Fatalf("DefineProperty: %v", err)
	}
	held := a
	rt.AddObjectRoot("held", &held)
	return rt, a, b, c
}

func ref(obj *gc.Object) uint64 { return uint64(gc.CellRefOf(obj)) }

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

func TestCaptureReachableCells(t *testing.T) {
	rt, a, b, c := heap(t)
	d, err := Capture(rt)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	for name, obj := range map[string]*gc.Object{"a": a, "b": b} {
		n, ok := d.Lookup(ref(obj))
		if !ok {
			t.Errorf("%s should be in the dump", name)
			continue
		}
		if n.Kind != "object" || n.Class != "Object" || n.Compartment != "test" {
			t.Errorf("%s = %+v, want an Object in compartment test", name, n)
		}
	}
	if _, ok := d.Lookup(ref(c)); ok {
		t.Error("unreachable object should not be in the dump")
	}

	var rooted bool
	for _, e := range d.Roots {
		if e.Name == "held" && e.Target == ref(a) {
			rooted = true
		}
	}
	if !rooted {
		t.Error("dump should list the held root edge to a")
	}

	n, _ := d.Lookup(ref(a))
	var found bool
	for _, e := range n.Edges {
		if e.Target == ref(b) {
			found = true
		}
	}
	if !found {
		t.Error("a should have an edge to b")
	}
}

func TestCaptureDoesNotMark(t *testing.T) {
	rt, _, _, c := heap(t)
	if _, err := Capture(rt); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	w := rt.NewWeakRef(c)
	if _, err := rt.GC("test"); err != nil {
		t.Fatalf("GC: %v", err)
	}
	if w.IsAlive() {
		t.Error("a dump should not keep unreachable cells alive")
	}
}

func TestPathTo(t *testing.T) {
	rt, a, b, c := heap(t)
	d, err := Capture(rt)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if path := d.PathTo(ref(a)); len(path) != 1 || path[0] != "held" {
		t.Errorf("path to a = %v, want [held]", path)
	}
	path := d.PathTo(ref(b))
	if len(path) < 2 || path[0] != "held" {
		t.Errorf("path to b = %v, want it to start at held", path)
	}
	if path := d.PathTo(ref(c)); path != nil {
		t.Errorf("path to c = %v, want nil", path)
	}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func TestDumpCBORRoundTrip(t *testing.T) {
	rt, a, _, _ := heap(t)
	d, err := Capture(rt)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	data, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("canonical encoding should be deterministic")
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != d.ID || len(got.Nodes) != len(d.Nodes) || len(got.Roots) != len(d.Roots) {
		t.Errorf("decoded dump %s with %d nodes, want %s with %d", got.ID, len(got.Nodes), d.ID, len(d.Nodes))
	}
	if _, ok := got.Lookup(ref(a)); !ok {
		t.Error("decoded dump should index a")
	}

	var buf bytes.Buffer
	if err := Encode(&buf, d); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("Encode and Marshal should agree")
	}
	if _, err := Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, err := Unmarshal([]byte{0xff}); err == nil {
		t.Error("Unmarshal of garbage should fail")
	}
}

func TestWriteText(t *testing.T) {
	rt, _, _, _ := heap(t)
	d, err := Capture(rt)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, d); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# roots", "# heap", " held\n", "object Object [test]", "> "} {
		if !strings.Contains(out, want) {
			t.Errorf("text dump missing %q", want)
		}
	}
}

// ---------------------------------------------------------------------------
// Census
// ---------------------------------------------------------------------------

func TestCensus(t *testing.T) {
	rt, _, _, _ := heap(t)
	before := TakeCensus(rt)
	if len(before.Compartments) != 2 || before.Compartments[0].Name != "atoms" {
		t.Fatalf("census compartments = %d, want atoms then test", len(before.Compartments))
	}
	test, ok := before.Compartment("test")
	if !ok {
		t.Fatal("census should include compartment test")
	}
	if test.Classes["Object"] != 4 {
		t.Errorf("Object count = %d, want 4", test.Classes["Object"])
	}
	if test.Arenas == 0 || test.Total() < 4 {
		t.Errorf("census = %+v, want arenas and at least four cells", test)
	}

	if _, err := rt.GC("test"); err != nil {
		t.Fatalf("GC: %v", err)
	}
	after, _ := TakeCensus(rt).Compartment("test")
	if after.Classes["Object"] != 3 {
		t.Errorf("Object count after GC = %d, want 3", after.Classes["Object"])
	}

	data, err := MarshalCensus(TakeCensus(rt))
	if err != nil {
		t.Fatalf("MarshalCensus: %v", err)
	}
	decoded, err := UnmarshalCensus(data)
	if err != nil {
		t.Fatalf("UnmarshalCensus: %v", err)
	}
	if got, _ := decoded.Compartment("test"); got.Total() != after.Total() {
		t.Errorf("decoded census total = %d, want %d", got.Total(), after.Total())
	}
}
