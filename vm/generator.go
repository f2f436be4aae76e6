package vm

import (
	"fmt"

	"github.com/chazu/marrow/gc"
)

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

// GeneratorState is the life cycle of a generator.
type GeneratorState uint8

const (
	GeneratorNewborn GeneratorState = iota
	GeneratorOpen
	GeneratorRunning
	GeneratorClosed
)

func (s GeneratorState) String() string {
	switch s {
	case GeneratorNewborn:
		return "newborn"
	case GeneratorOpen:
		return "open"
	case GeneratorRunning:
		return "running"
	case GeneratorClosed:
		return "closed"
	}
	return fmt.Sprintf("GeneratorState(%d)", uint8(s))
}

// GeneratorClass is the class of generator objects. While a generator is
// suspended its frame lives in the object and the trace hook marks it;
// while it runs the frame is on the stack and the stack marks it.
var GeneratorClass = &gc.Class{
	Name:  "Generator",
	Flags: gc.ClassHasPrivate | gc.ClassImplementsBarriers,
	Trace: traceGenerator,
}

// Generator holds the floating frame of a generator function activation.
// The snapshot is the argument vector (callee, this and the formals)
// followed by the frame's locals and operands.
type Generator struct {
	obj   *gc.Object
	state GeneratorState
	frame StackFrame
	nargv int
	vals  []gc.Value
	live  *StackFrame
}

func (gen *Generator) Object() *gc.Object     { return gen.obj }
func (gen *Generator) State() GeneratorState  { return gen.state }
func (gen *Generator) Snapshot() []gc.Value   { return gen.vals }
func (gen *Generator) LiveFrame() *StackFrame { return gen.live }

// GeneratorOf returns the generator behind a generator object.
func GeneratorOf(obj *gc.Object) *Generator {
	gen, _ := obj.Private().(*Generator)
	return gen
}

func traceGenerator(trc *gc.Tracer, obj *gc.Object) {
	gen := GeneratorOf(obj)
	if gen == nil || !gen.suspended() {
		return
	}
	gc.MarkValueRange(trc, gen.vals, "generator snapshot")
	gen.frame.mark(trc)
}

func (gen *Generator) suspended() bool {
	return gen.state == GeneratorNewborn || gen.state == GeneratorOpen
}

// writeBarrierPre marks everything the suspended frame holds before the
// frame moves to the stack, where no barrier covers it.
func (gen *Generator) writeBarrierPre(rt *gc.Runtime) {
	if !gen.suspended() {
		return
	}
	rt.CellBarrierPre(gen.obj)
	rt.WriteBarrierPreRange(gen.vals)
	gen.frame.barrier(rt)
}

// NewGenerator moves the innermost frame, a function frame of a generator
// function that has finished its prologue, into a new generator object.
// The caller pops the frame afterwards.
func (cx *ContextStack) NewGenerator(fp *StackFrame) (*Generator, error) {
	if cx.CurrentFrame() != fp || !fp.IsGenerator() || fp.state != FrameRunning {
		panic("vm: NewGenerator needs the running frame of a generator function")
	}
	obj, err := cx.comp.NewObject(GeneratorClass, nil, cx.comp.Global())
	if err != nil {
		return nil, fmt.Errorf("generator object: %w", err)
	}
	gen := &Generator{obj: obj, state: GeneratorNewborn}
	gen.save(fp)
	obj.SetPrivate(gen)
	return gen, nil
}

// save copies fp and its values into the floating frame.
func (gen *Generator) save(fp *StackFrame) {
	s := fp.space.slots
	gen.nargv = fp.base - fp.argv
	gen.vals = append(gen.vals[:0], s[fp.argv:fp.base]...)
	gen.vals = append(gen.vals, s[fp.slots():fp.sp]...)

	gen.frame = *fp
	gen.frame.cx = nil
	gen.frame.space = nil
	gen.frame.prev = nil
	gen.frame.prevRegs = nil
	gen.frame.pushedSeg = false
	gen.frame.gen = gen
}

// PushGeneratorFrame resumes gen: its floating frame and values are copied
// onto the stack as the new innermost frame, prev-linked to the current
// frame.
func (cx *ContextStack) PushGeneratorFrame(gen *Generator) (*StackFrame, error) {
	switch gen.state {
	case GeneratorRunning:
		return nil, ErrGeneratorRunning
	case GeneratorClosed:
		return nil, ErrGeneratorClosed
	}
	script := gen.frame.script
	nvals := gen.nargv + frameHeaderSlots + script.NumVars + script.NumSlots
	first, pushedSeg, err := cx.ensureOnTop(nvals, true)
	if err != nil {
		return nil, err
	}

	gen.writeBarrierPre(cx.space.rt)

	fp := new(StackFrame)
	*fp = gen.frame
	fp.cx = cx
	fp.space = cx.space
	fp.argv = first
	fp.base = first + gen.nargv
	fp.prev = cx.seg.fp
	fp.pushedSeg = pushedSeg
	fp.state = FrameRunning

	s := cx.space.slots
	copy(s[first:fp.base], gen.vals[:gen.nargv])
	cx.space.clear(fp.base, fp.slots())
	n := copy(s[fp.slots():], gen.vals[gen.nargv:])
	fp.sp = fp.slots() + n

	// The stack owns the frame until it is popped.
	gen.vals = gen.vals[:0]
	gen.frame = StackFrame{gen: gen}
	gen.state = GeneratorRunning
	gen.live = fp

	cx.seg.pushRegs(fp)
	return fp, nil
}

// PopGeneratorFrame suspends or finishes gen's frame and pops it. A
// yielding frame is copied back into the generator; any other frame closes
// it.
func (cx *ContextStack) PopGeneratorFrame(fp *StackFrame) {
	gen := fp.gen
	if gen == nil || gen.live != fp {
		panic("vm: PopGeneratorFrame of a frame that is not a running generator")
	}
	gen.live = nil
	if fp.IsYielding() {
		gen.save(fp)
		gen.frame.state = FrameYielding
		gen.state = GeneratorOpen
	} else {
		gen.state = GeneratorClosed
	}
	cx.PopFrame(fp)
}
