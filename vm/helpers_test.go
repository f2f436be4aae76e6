package vm

import (
	"testing"

	"github.com/chazu/marrow/gc"
)

// testEnv is a runtime with one compartment, a global object, a stack space
// and a context on it.
type testEnv struct {
	rt    *gc.Runtime
	comp  *gc.Compartment
	space *StackSpace
	cx    *ContextStack
}

func newTestEnv(t *testing.T, opts gc.Options, capacity int) *testEnv {
	t.Helper()
	rt := gc.NewRuntime(opts)
	comp := rt.NewCompartment("test")
	global, err := comp.NewPlainObject(nil)
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	comp.SetGlobal(global)
	space := NewStackSpace(rt, capacity)
	return &testEnv{rt: rt, comp: comp, space: space, cx: NewContextStack(space, comp)}
}

func (e *testEnv) object(t *testing.T) *gc.Object {
	t.Helper()
	obj, err := e.comp.NewPlainObject(nil)
	if err != nil {
		t.Fatalf("NewPlainObject: %v", err)
	}
	return obj
}

func (e *testEnv) script(t *testing.T, name string, nvars, nslots int) *gc.Script {
	t.Helper()
	s, err := e.comp.NewScript(name, 1, nvars, nslots)
	if err != nil {
		t.Fatalf("NewScript: %v", err)
	}
	return s
}

func (e *testEnv) function(t *testing.T, name string, nargs, nvars, nslots int, flags gc.FunFlags) *gc.Object {
	t.Helper()
	fun, err := e.comp.NewInterpretedFunction(e.script(t, name, nvars, nslots), e.comp.Global(), nargs, nil, flags)
	if err != nil {
		t.Fatalf("NewInterpretedFunction: %v", err)
	}
	return fun
}

func (e *testEnv) native(t *testing.T, fn gc.Native) *gc.Object {
	t.Helper()
	fun, err := e.comp.NewNativeFunction(fn, 0, nil)
	if err != nil {
		t.Fatalf("NewNativeFunction: %v", err)
	}
	return fun
}

// invoke pushes an argument vector for fun and its frame, and runs the
// prologue.
func (e *testEnv) invoke(t *testing.T, cx *ContextStack, fun *gc.Object, args ...gc.Value) (*CallArgsList, *StackFrame) {
	t.Helper()
	call, err := cx.PushInvokeArgs(len(args))
	if err != nil {
		t.Fatalf("PushInvokeArgs: %v", err)
	}
	call.SetCallee(gc.ObjectValue(fun))
	for i, v := range args {
		call.SetArg(i, v)
	}
	fp, err := cx.PushInvokeFrame(call, false)
	if err != nil {
		t.Fatalf("PushInvokeFrame: %v", err)
	}
	if err := fp.Prologue(); err != nil {
		t.Fatalf("Prologue: %v", err)
	}
	return call, fp
}

// global pushes a running global frame.
func (e *testEnv) global(t *testing.T, cx *ContextStack, nvars, nslots int) *StackFrame {
	t.Helper()
	fp, err := cx.PushExecuteFrame(e.script(t, "global.js", nvars, nslots), gc.Undefined, nil, GlobalFrame)
	if err != nil {
		t.Fatalf("PushExecuteFrame: %v", err)
	}
	if err := fp.Prologue(); err != nil {
		t.Fatalf("Prologue: %v", err)
	}
	return fp
}

func (e *testEnv) collect(t *testing.T) *gc.CollectionStats {
	t.Helper()
	st, err := e.rt.GC("test")
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	return st
}

func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s should panic", what)
		}
	}()
	fn()
}
