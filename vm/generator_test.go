package vm

import (
	"errors"
	"testing"

	"github.com/chazu/marrow/gc"
)

// suspended builds a newborn generator of a one-argument generator function
// whose frame holds arg, a local and an operand, and roots its object.
func suspended(t *testing.T, e *testEnv) (gen *Generator, arg, local, operand *gc.Object) {
	t.Helper()
	fun := e.function(t, "gen.js", 1, 1, 2, gc.FunGenerator)
	arg, local, operand = e.object(t), e.object(t), e.object(t)
	call, fp := e.invoke(t, e.cx, fun, gc.ObjectValue(arg))
	fp.SetLocal(0, gc.ObjectValue(local))
	if err := fp.Push(gc.ObjectValue(operand)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	gen, err := e.cx.NewGenerator(fp)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	fp.Pop()
	e.cx.PopFrame(fp)
	e.cx.PopInvokeArgs(call)

	obj := gen.Object()
	e.rt.AddObjectRoot("generator", &obj)
	t.Cleanup(func() { e.rt.RemoveRoot("generator") })
	return gen, arg, local, operand
}

func TestGeneratorSnapshotIsTraced(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	gen, arg, local, operand := suspended(t, e)
	if gen.State() != GeneratorNewborn {
		t.Fatalf("state = %v, want newborn", gen.State())
	}
	if e.space.FirstUnused() != 0 {
		t.Fatalf("first unused = %d, want the stack empty", e.space.FirstUnused())
	}

	wArg, wLocal, wOperand := e.rt.NewWeakRef(arg), e.rt.NewWeakRef(local), e.rt.NewWeakRef(operand)
	e.collect(t)
	if !wArg.IsAlive() || !wLocal.IsAlive() || !wOperand.IsAlive() {
		t.Error("values of a suspended generator should survive through its object")
	}
	if GeneratorOf(gen.Object()) != gen {
		t.Error("GeneratorOf should find the generator behind its object")
	}
}

func TestGeneratorResumeAndYield(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	gen, arg, local, operand := suspended(t, e)

	fp, err := e.cx.PushGeneratorFrame(gen)
	if err != nil {
		t.Fatalf("PushGeneratorFrame: %v", err)
	}
	if fp.State() != FrameRunning || fp.Generator() != gen || gen.LiveFrame() != fp {
		t.Fatal("resumed frame should be running and linked to its generator")
	}
	if fp.Arg(0) != gc.ObjectValue(arg) || fp.Local(0) != gc.ObjectValue(local) || fp.Peek(0) != gc.ObjectValue(operand) {
		t.Error("resumed frame should see the saved argument, local and operand")
	}
	if len(gen.Snapshot()) != 0 {
		t.Error("a running generator should not keep a snapshot")
	}
	if _, err := e.cx.PushGeneratorFrame(gen); !errors.Is(err, ErrGeneratorRunning) {
		t.Errorf("second resume err = %v, want ErrGeneratorRunning", err)
	}

	// While running, the stack holds the values.
	wLocal := e.rt.NewWeakRef(local)
	e.collect(t)
	if !wLocal.IsAlive() {
		t.Error("local of a running generator should survive")
	}

	fp.Pop()
	fp.Yield(gc.Int32Value(1))
	e.cx.PopGeneratorFrame(fp)
	if gen.State() != GeneratorOpen {
		t.Fatalf("state = %v, want open", gen.State())
	}
	if n := len(gen.Snapshot()); n != 2+1+1 {
		t.Errorf("snapshot holds %d values, want callee, this, one arg and one local", n)
	}

	fp, err = e.cx.PushGeneratorFrame(gen)
	if err != nil {
		t.Fatalf("PushGeneratorFrame: %v", err)
	}
	if fp.Depth() != 0 || fp.Local(0) != gc.ObjectValue(local) {
		t.Error("second resume should restore the state saved at the yield")
	}
	e.cx.PopGeneratorFrame(fp)
	if gen.State() != GeneratorClosed {
		t.Fatalf("state = %v, want closed", gen.State())
	}
	if _, err := e.cx.PushGeneratorFrame(gen); !errors.Is(err, ErrGeneratorClosed) {
		t.Errorf("err = %v, want ErrGeneratorClosed", err)
	}
	if e.space.FirstUnused() != 0 {
		t.Errorf("first unused = %d, want 0", e.space.FirstUnused())
	}
}

func TestGeneratorResumeUnderIncrementalMarking(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	gen, _, local, _ := suspended(t, e)
	wLocal := e.rt.NewWeakRef(local)

	if err := e.rt.StartIncremental("test", e.comp); err != nil {
		t.Fatalf("StartIncremental: %v", err)
	}
	fp, err := e.cx.PushGeneratorFrame(gen)
	if err != nil {
		t.Fatalf("PushGeneratorFrame: %v", err)
	}
	// Drop every reference the generator held before marking reaches it.
	fp.SetLocal(0, gc.Undefined)
	fp.Pop()
	e.cx.PopGeneratorFrame(fp)

	if _, err := e.rt.FinishIncremental(); err != nil {
		t.Fatalf("FinishIncremental: %v", err)
	}
	if !wLocal.IsAlive() {
		t.Error("a value reachable when marking started should survive it")
	}

	e.collect(t)
	if wLocal.IsAlive() {
		t.Error("the dropped local should be collected by the next collection")
	}
}

func TestNewGeneratorNeedsGeneratorFrame(t *testing.T) {
	e := newTestEnv(t, gc.DefaultOptions(), 0)
	fun := e.function(t, "f.js", 0, 0, 1, 0)
	_, fp := e.invoke(t, e.cx, fun)
	mustPanic(t, "NewGenerator of a plain function frame", func() { e.cx.NewGenerator(fp) })
}
