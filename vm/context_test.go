package vm

import (
	"errors"
	"testing"

	"github.com/chazu/marrow/gc"
)

// ---------------------------------------------------------------------------
// Frame life cycle
// ---------------------------------------------------------------------------

func TestFrameStateMachine(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	fun := e.function(t, "f.js", 0, 0, 1, 0)
	call, err := e.cx.PushInvokeArgs(0)
	if err != nil {
		t.Fatalf("PushInvokeArgs: %v", err)
	}
	call.SetCallee(gc.ObjectValue(fun))
	fp, err := e.cx.PushInvokeFrame(call, false)
	if err != nil {
		t.Fatalf("PushInvokeFrame: %v", err)
	}

	if fp.State() != FramePushed {
		t.Errorf("state = %v, want pushed", fp.State())
	}
	if err := fp.Prologue(); err != nil {
		t.Fatalf("Prologue: %v", err)
	}
	if fp.State() != FrameRunning {
		t.Errorf("state = %v, want running", fp.State())
	}
	mustPanic(t, "a second prologue", func() { fp.Prologue() })

	e.cx.PopFrame(fp)
	if fp.State() != FramePopped {
		t.Errorf("state = %v, want popped", fp.State())
	}
	mustPanic(t, "popping a popped frame", func() { e.cx.PopFrame(fp) })
	e.cx.PopInvokeArgs(call)
}

func TestHeavyweightPrologueCreatesCallObject(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	fun := e.function(t, "f.js", 0, 0, 1, gc.FunHeavyweight)
	_, fp := e.invoke(t, e.cx, fun)

	callobj := fp.ScopeChain()
	if !fp.HasCallObj() || callobj == nil || callobj.Class() != CallClass {
		t.Fatal("heavyweight frame should start its scope chain with a call object")
	}
	if callobj.Parent() != fun.Function().Environment() {
		t.Error("call object should be enclosed by the callee's environment")
	}
	if callobj.GetSlot(0) != gc.ObjectValue(fun) {
		t.Error("call object should hold the callee")
	}
}

func TestConstructingFrame(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	fun := e.function(t, "Point.js", 0, 0, 1, 0)
	proto := e.object(t)
	atom, err := e.rt.Atomize("prototype")
	if err != nil {
		t.Fatalf("Atomize: %v", err)
	}
	if err := fun.DefineProperty(gc.StringID(atom), gc.ObjectValue(proto)); err != nil {
		t.Fatalf("DefineProperty: %v", err)
	}

	call, err := e.cx.PushInvokeArgs(0)
	if err != nil {
		t.Fatalf("PushInvokeArgs: %v", err)
	}
	call.SetCallee(gc.ObjectValue(fun))
	fp, err := e.cx.PushInvokeFrame(call, true)
	if err != nil {
		t.Fatalf("PushInvokeFrame: %v", err)
	}
	if err := fp.Prologue(); err != nil {
		t.Fatalf("Prologue: %v", err)
	}

	this := e.rt.ObjectOf(fp.This())
	if this == nil || this.Proto() != proto {
		t.Fatal("constructing frame should get a this object inheriting from prototype")
	}

	fp.SetReturnValue(gc.Int32Value(7))
	e.cx.PopFrame(fp)
	if fp.ReturnValue() != gc.ObjectValue(this) {
		t.Error("a primitive return from a constructor should become this")
	}
	if call.This() != gc.ObjectValue(this) {
		t.Error("the caller should see the constructed object in the this slot")
	}
}

func TestFailedPrologueIsPoppable(t *testing.T) {
	opts := gc.DefaultOptions()
	opts.MaxArenas = 16
	e := newTestEnv(t, opts, 0)
	fun := e.function(t, "f.js", 0, 0, 1, gc.FunHeavyweight)
	call, err := e.cx.PushInvokeArgs(0)
	if err != nil {
		t.Fatalf("PushInvokeArgs: %v", err)
	}
	call.SetCallee(gc.ObjectValue(fun))
	fp, err := e.cx.PushInvokeFrame(call, false)
	if err != nil {
		t.Fatalf("PushInvokeFrame: %v", err)
	}

	// Exhaust the heap so the call object cannot be allocated.
	for i := 0; i < 10000; i++ {
		if _, err := e.comp.NewPlainObject(nil); err != nil {
			break
		}
	}
	err = fp.Prologue()
	if !errors.Is(err, gc.ErrOutOfMemory) {
		t.Fatalf("Prologue err = %v, want ErrOutOfMemory", err)
	}
	if fp.State() != FramePrologue {
		t.Errorf("state = %v, want prologue", fp.State())
	}
	if fp.HasCallObj() {
		t.Error("failed prologue should not record a call object")
	}

	e.cx.PopFrame(fp)
	e.cx.PopInvokeArgs(call)
	if e.space.FirstUnused() != 0 {
		t.Errorf("first unused = %d, want 0", e.space.FirstUnused())
	}
}

// ---------------------------------------------------------------------------
// Execute frames and native calls
// ---------------------------------------------------------------------------

func TestEvalFrameInheritsFunction(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	fun := e.function(t, "f.js", 0, 0, 1, 0)
	_, caller := e.invoke(t, e.cx, fun)

	fp, err := e.cx.PushExecuteFrame(e.script(t, "eval.js", 0, 1), caller.This(), caller.ScopeChain(), EvalFrame)
	if err != nil {
		t.Fatalf("PushExecuteFrame: %v", err)
	}
	if fp.Fun() != fun || fp.Prev() != caller {
		t.Error("eval frame should take the caller's function and link to it")
	}
	if fp.Callee() != gc.ObjectValue(fun) {
		t.Error("eval frame's callee slot should hold the function")
	}
	if fp.ScopeChain() != caller.ScopeChain() {
		t.Error("eval frame should run in the scope chain it was given")
	}
}

func TestGlobalFrameDefaultsToGlobalScope(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	fp := e.global(t, e.cx, 0, 1)
	if fp.ScopeChain() != e.comp.Global() {
		t.Error("global frame should run in the compartment's global")
	}
	if fp.Callee() != gc.Null {
		t.Error("global frame's callee slot should be null")
	}
	if fp.Kind() != GlobalFrame || fp.Fun() != nil {
		t.Errorf("kind = %v, fun = %v", fp.Kind(), fp.Fun())
	}
}

func TestCallNative(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	var sawActive bool
	var call *CallArgsList
	sum := e.native(t, func(args []gc.Value) (gc.Value, error) {
		sawActive = call.IsActive()
		return gc.Int32Value(args[2].Int32() + args[3].Int32()), nil
	})
	call, err := e.cx.PushInvokeArgs(2)
	if err != nil {
		t.Fatalf("PushInvokeArgs: %v", err)
	}
	call.SetCallee(gc.ObjectValue(sum))
	call.SetArg(0, gc.Int32Value(2))
	call.SetArg(1, gc.Int32Value(3))

	rval, err := e.cx.CallNative(call)
	if err != nil {
		t.Fatalf("CallNative: %v", err)
	}
	if rval != gc.Int32Value(5) || call.ReturnValue() != rval {
		t.Errorf("rval = %v, want 5 in the callee slot", rval)
	}
	if !sawActive || call.IsActive() {
		t.Error("call should be active only while the native runs")
	}
	e.cx.PopInvokeArgs(call)
}

func TestPushInvokeFrameRejectsNative(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	fn := e.native(t, func(args []gc.Value) (gc.Value, error) { return gc.Undefined, nil })
	call, err := e.cx.PushInvokeArgs(0)
	if err != nil {
		t.Fatalf("PushInvokeArgs: %v", err)
	}
	call.SetCallee(gc.ObjectValue(fn))
	if _, err := e.cx.PushInvokeFrame(call, false); !errors.Is(err, ErrNotInterpreted) {
		t.Errorf("err = %v, want ErrNotInterpreted", err)
	}
}

// ---------------------------------------------------------------------------
// Saved frame chains
// ---------------------------------------------------------------------------

func TestSaveAndRestoreFrameChain(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	outer := e.global(t, e.cx, 1, 1)
	held := e.object(t)
	outer.SetLocal(0, gc.ObjectValue(held))

	if err := e.cx.SaveFrameChain(); err != nil {
		t.Fatalf("SaveFrameChain: %v", err)
	}
	if e.cx.CurrentFrame() != nil {
		t.Fatal("no frame should be current after saving the chain")
	}
	inner := e.global(t, e.cx, 0, 1)
	if inner.Prev() != nil {
		t.Error("a frame pushed after saving should have no previous frame")
	}

	// Saved frames are still roots.
	w := e.rt.NewWeakRef(held)
	e.collect(t)
	if !w.IsAlive() {
		t.Error("local of the saved frame should survive")
	}

	mustPanic(t, "restoring with a frame pushed", func() { e.cx.RestoreFrameChain() })
	e.cx.PopFrame(inner)
	e.cx.RestoreFrameChain()
	if e.cx.CurrentFrame() != outer {
		t.Error("restoring should make the outer frame current again")
	}
}
