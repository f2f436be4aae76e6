package gc

import "testing"

// newTestRuntime returns a runtime with one compartment named "test".
func newTestRuntime(t *testing.T, opts Options) (*Runtime, *Compartment) {
	t.Helper()
	rt := NewRuntime(opts)
	return rt, rt.NewCompartment("test")
}

func newObject(t *testing.T, comp *Compartment) *Object {
	t.Helper()
	obj, err := comp.NewPlainObject(nil)
	if err != nil {
		t.Fatalf("NewPlainObject: %v", err)
	}
	return obj
}

// link stores to in from's integer property key.
func link(t *testing.T, from *Object, key int32, to *Object) {
	t.Helper()
	if err := from.DefineProperty(IntID(key), ObjectValue(to)); err != nil {
		t.Fatalf("DefineProperty: %v", err)
	}
}

func mustGC(t *testing.T, rt *Runtime) *CollectionStats {
	t.Helper()
	st, err := rt.GC("test")
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	return st
}

