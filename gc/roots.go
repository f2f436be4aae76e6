package gc

// RootTracer is implemented by holders of GC things outside the heap: the
// execution stack, native closures, embedder tables. TraceRoots must mark
// every thing it holds through the tracer and store back the results. An
// error aborts the collection.
type RootTracer interface {
	TraceRoots(trc *Tracer) error
}

// RootTracerFunc adapts a function to RootTracer.
type RootTracerFunc func(trc *Tracer) error

func (f RootTracerFunc) TraceRoots(trc *Tracer) error {
	return f(trc)
}

type rootEntry struct {
	name   string
	tracer RootTracer
	gray   bool
}

// AddRootTracer registers a black root tracer under name, replacing any
// root with the same name.
func (rt *Runtime) AddRootTracer(name string, r RootTracer) {
	rt.addRoot(rootEntry{name: name, tracer: r})
}

// AddGrayRootTracer registers a tracer whose things are marked gray after
// black marking finishes. Things reachable from both are black.
func (rt *Runtime) AddGrayRootTracer(name string, r RootTracer) {
	rt.addRoot(rootEntry{name: name, tracer: r, gray: true})
}

// AddValueRoot roots the value stored at vp.
func (rt *Runtime) AddValueRoot(name string, vp *Value) {
	rt.AddRootTracer(name, RootTracerFunc(func(trc *Tracer) error {
		MarkValueRoot(trc, vp, name)
		return nil
	}))
}

// AddObjectRoot roots the object stored at objp.
func (rt *Runtime) AddObjectRoot(name string, objp **Object) {
	rt.AddRootTracer(name, RootTracerFunc(func(trc *Tracer) error {
		MarkObjectRoot(trc, objp, name)
		return nil
	}))
}

// RemoveRoot unregisters the root named name.
func (rt *Runtime) RemoveRoot(name string) {
	for i, r := range rt.roots {
		if r.name == name {
			rt.roots = append(rt.roots[:i], rt.roots[i+1:]...)
			return
		}
	}
}

// RootNames returns the names of the registered roots in registration
// order.
func (rt *Runtime) RootNames() []string {
	names := make([]string, len(rt.roots))
	for i, r := range rt.roots {
		names[i] = r.name
	}
	return names
}

func (rt *Runtime) addRoot(e rootEntry) {
	for i, r := range rt.roots {
		if r.name == e.name {
			rt.roots[i] = e
			return
		}
	}
	rt.roots = append(rt.roots, e)
}

// traceRoots runs the registered tracers of one color.
func (rt *Runtime) traceRoots(trc *Tracer, gray bool) error {
	for _, r := range rt.roots {
		if r.gray != gray {
			continue
		}
		if err := r.tracer.TraceRoots(trc); err != nil {
			return &RootError{Root: r.name, Err: err}
		}
	}
	return nil
}

// TraceRuntime visits every root of the runtime with trc: compartment
// globals, pinned atoms and the registered root tracers of both colors.
// Heap dumps start from here.
func (rt *Runtime) TraceRuntime(trc *Tracer) error {
	assertf(!trc.IsMarking(), "TraceRuntime with the marking tracer")
	rt.atomsComp.markRoots(trc)
	for _, c := range rt.comps {
		c.markRoots(trc)
	}
	rt.markAtoms(trc)
	if err := rt.traceRoots(trc, false); err != nil {
		return err
	}
	return rt.traceRoots(trc, true)
}
