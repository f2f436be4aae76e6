package vm

import (
	"fmt"

	"github.com/chazu/marrow/gc"
)

// ---------------------------------------------------------------------------
// Frame kinds and states
// ---------------------------------------------------------------------------

// FrameKind tells which activation a frame holds. Function frames carry the
// callee; global frames carry a script; eval frames carry the eval script
// and the function of the frame they were called from, if any.
type FrameKind uint8

const (
	GlobalFrame FrameKind = iota
	FunctionFrame
	EvalFrame
)

func (k FrameKind) String() string {
	switch k {
	case GlobalFrame:
		return "global"
	case FunctionFrame:
		return "function"
	case EvalFrame:
		return "eval"
	}
	return fmt.Sprintf("FrameKind(%d)", uint8(k))
}

// FrameState is the life cycle of a frame:
// Pushed -> Prologue -> Running -> Epilogue -> Popped. A generator frame
// goes from Running to Yielding when it suspends.
type FrameState uint8

const (
	FramePushed FrameState = iota
	FramePrologue
	FrameRunning
	FrameEpilogue
	FramePopped
	FrameYielding
)

func (s FrameState) String() string {
	switch s {
	case FramePushed:
		return "pushed"
	case FramePrologue:
		return "prologue"
	case FrameRunning:
		return "running"
	case FrameEpilogue:
		return "epilogue"
	case FramePopped:
		return "popped"
	case FrameYielding:
		return "yielding"
	}
	return fmt.Sprintf("FrameState(%d)", uint8(s))
}

type frameFlags uint8

const (
	frameConstructing frameFlags = 1 << iota
	frameHasCallObj
	frameHasRval
	frameGenerator
)

// ---------------------------------------------------------------------------
// StackFrame
// ---------------------------------------------------------------------------

// StackFrame is one activation. Its header occupies frameHeaderSlots values
// of the stack space at base; the callee and this sit at argv, the actual
// and missing formal arguments follow them, and the local variables and
// operands start after the header.
type StackFrame struct {
	kind  FrameKind
	state FrameState
	flags frameFlags

	cx    *ContextStack
	space *StackSpace
	base  int
	argv  int
	argc  int
	nargs int
	sp    int
	pc    int

	prev      *StackFrame
	prevRegs  *StackFrame
	pushedSeg bool
	gen       *Generator

	script *gc.Script
	fun    *gc.Object

	// Owned references. A nil object or a clear frameHasRval means the
	// frame does not hold that reference.
	scopeChain *gc.Object
	argsObj    *gc.Object
	blockChain *gc.Object
	rval       gc.Value
}

func (fp *StackFrame) Kind() FrameKind    { return fp.kind }
func (fp *StackFrame) State() FrameState  { return fp.state }
func (fp *StackFrame) Script() *gc.Script { return fp.script }

// Fun returns the callee of a function frame or the calling function of an
// eval frame, nil otherwise.
func (fp *StackFrame) Fun() *gc.Object { return fp.fun }

// Prev returns the frame that was current when this one was pushed.
func (fp *StackFrame) Prev() *StackFrame { return fp.prev }

// Base returns the index of the frame header in the stack space.
func (fp *StackFrame) Base() int { return fp.base }

func (fp *StackFrame) IsFunctionFrame() bool { return fp.kind == FunctionFrame }
func (fp *StackFrame) IsConstructing() bool  { return fp.flags&frameConstructing != 0 }
func (fp *StackFrame) IsGenerator() bool     { return fp.flags&frameGenerator != 0 }
func (fp *StackFrame) IsYielding() bool      { return fp.state == FrameYielding }
func (fp *StackFrame) HasCallObj() bool      { return fp.flags&frameHasCallObj != 0 }

// Generator returns the generator whose frame this is, if any.
func (fp *StackFrame) Generator() *Generator { return fp.gen }

func (fp *StackFrame) ScopeChain() *gc.Object { return fp.scopeChain }
func (fp *StackFrame) ArgsObj() *gc.Object    { return fp.argsObj }
func (fp *StackFrame) BlockChain() *gc.Object { return fp.blockChain }

// HasReturnValue reports whether a return value was set.
func (fp *StackFrame) HasReturnValue() bool { return fp.flags&frameHasRval != 0 }

// ReturnValue returns the frame's return value, undefined if none was set.
func (fp *StackFrame) ReturnValue() gc.Value {
	if fp.flags&frameHasRval == 0 {
		return gc.Undefined
	}
	return fp.rval
}

// SetReturnValue sets the frame's return value.
func (fp *StackFrame) SetReturnValue(v gc.Value) {
	fp.rval = v
	fp.flags |= frameHasRval
}

func (fp *StackFrame) PC() int            { return fp.pc }
func (fp *StackFrame) SetPC(pc int)       { fp.pc = pc }
func (fp *StackFrame) SP() int            { return fp.sp }
func (fp *StackFrame) slots() int         { return fp.base + frameHeaderSlots }
func (fp *StackFrame) NumActualArgs() int { return fp.argc }

// NumFormalArgs returns the number of argument slots the frame can read:
// the actual arguments plus any missing formals, which read as undefined.
func (fp *StackFrame) NumFormalArgs() int { return max(fp.argc, fp.nargs) }

func (fp *StackFrame) Callee() gc.Value { return fp.space.slots[fp.argv] }
func (fp *StackFrame) This() gc.Value   { return fp.space.slots[fp.argv+1] }

// SetThis replaces the this value.
func (fp *StackFrame) SetThis(v gc.Value) { fp.space.slots[fp.argv+1] = v }

// Arg returns formal argument i.
func (fp *StackFrame) Arg(i int) gc.Value {
	fp.checkArg(i)
	return fp.space.slots[fp.argv+2+i]
}

// SetArg stores formal argument i.
func (fp *StackFrame) SetArg(i int, v gc.Value) {
	fp.checkArg(i)
	fp.space.slots[fp.argv+2+i] = v
}

func (fp *StackFrame) checkArg(i int) {
	if i < 0 || i >= fp.NumFormalArgs() {
		panic(fmt.Sprintf("vm: argument %d out of range %d", i, fp.NumFormalArgs()))
	}
}

// Local returns local variable i.
func (fp *StackFrame) Local(i int) gc.Value {
	fp.checkLocal(i)
	return fp.space.slots[fp.slots()+i]
}

// SetLocal stores local variable i.
func (fp *StackFrame) SetLocal(i int, v gc.Value) {
	fp.checkLocal(i)
	fp.space.slots[fp.slots()+i] = v
}

func (fp *StackFrame) checkLocal(i int) {
	if i < 0 || i >= fp.script.NumVars {
		panic(fmt.Sprintf("vm: local %d out of range %d", i, fp.script.NumVars))
	}
}

// Depth returns the number of operands on the frame's stack.
func (fp *StackFrame) Depth() int {
	return fp.sp - fp.slots() - fp.script.NumVars
}

// Push pushes an operand. The frame must be the innermost thing on the
// stack space, and the script's operand depth bounds the pushes.
func (fp *StackFrame) Push(v gc.Value) error {
	if fp.space.FirstUnused() != fp.sp {
		panic("vm: push onto a frame that is not on top of the stack")
	}
	if fp.Depth() >= fp.script.NumSlots {
		return fmt.Errorf("%w: operand depth %d exceeds %d in %s:%d",
			ErrStackOverflow, fp.Depth()+1, fp.script.NumSlots, fp.script.Filename, fp.script.Lineno)
	}
	fp.space.slots[fp.sp] = v
	fp.sp++
	return nil
}

// Pop pops an operand.
func (fp *StackFrame) Pop() gc.Value {
	if fp.Depth() <= 0 {
		panic("vm: operand stack underflow")
	}
	fp.sp--
	v := fp.space.slots[fp.sp]
	fp.space.slots[fp.sp] = gc.Undefined
	return v
}

// Peek returns the operand n places below the top.
func (fp *StackFrame) Peek(n int) gc.Value {
	if n < 0 || n >= fp.Depth() {
		panic("vm: operand stack underflow")
	}
	return fp.space.slots[fp.sp-1-n]
}

// Values returns a view of the frame's locals and operands.
func (fp *StackFrame) Values() []gc.Value {
	return fp.space.Values(fp.slots(), fp.sp)
}

// initSlots clears the header and the locals and points sp at the first
// operand.
func (fp *StackFrame) initSlots() {
	fp.space.clear(fp.base, fp.slots()+fp.script.NumVars)
	fp.sp = fp.slots() + fp.script.NumVars
}

// ---------------------------------------------------------------------------
// Prologue and epilogue
// ---------------------------------------------------------------------------

// Prologue runs the entry work of a pushed frame. A function frame whose
// callee is heavyweight gets a call object on its scope chain, and a
// constructing frame gets a fresh this object. Either allocation can fail;
// the frame then stays in the Prologue state and can still be popped.
func (fp *StackFrame) Prologue() error {
	if fp.state != FramePushed {
		panic(fmt.Sprintf("vm: prologue of a %s frame", fp.state))
	}
	fp.state = FramePrologue
	if fp.kind == FunctionFrame {
		if fp.fun.Function().IsHeavyweight() {
			callobj, err := NewCallObject(fp.cx.comp, fp.fun, fp.scopeChain)
			if err != nil {
				return fmt.Errorf("call object: %w", err)
			}
			fp.scopeChain = callobj
			fp.flags |= frameHasCallObj
		}
		if fp.IsConstructing() {
			obj, err := fp.createThis()
			if err != nil {
				return fmt.Errorf("this object: %w", err)
			}
			fp.SetThis(gc.ObjectValue(obj))
		}
	}
	fp.state = FrameRunning
	return nil
}

// createThis allocates the object a constructing call initializes. Its
// prototype is the callee's prototype property when that is an object.
func (fp *StackFrame) createThis() (*gc.Object, error) {
	rt := fp.space.rt
	atom, err := rt.Atomize("prototype")
	if err != nil {
		return nil, err
	}
	var proto *gc.Object
	if v, ok := fp.fun.GetProperty(gc.StringID(atom)); ok && v.IsObject() {
		proto = rt.ObjectOf(v)
	}
	return fp.cx.comp.NewPlainObject(proto)
}

// Epilogue runs the exit work of a running frame: a constructing frame that
// returns a primitive returns its this object instead.
func (fp *StackFrame) Epilogue() {
	if fp.state != FrameRunning {
		panic(fmt.Sprintf("vm: epilogue of a %s frame", fp.state))
	}
	fp.state = FrameEpilogue
	if fp.IsConstructing() && fp.ReturnValue().IsPrimitive() {
		fp.SetReturnValue(fp.This())
	}
}

// Yield suspends a running generator frame with v as the yielded value.
func (fp *StackFrame) Yield(v gc.Value) {
	if !fp.IsGenerator() || fp.state != FrameRunning {
		panic(fmt.Sprintf("vm: yield from a %s frame", fp.state))
	}
	fp.SetReturnValue(v)
	fp.state = FrameYielding
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

// mark marks the references the frame owns outside its value slots.
func (fp *StackFrame) mark(trc *gc.Tracer) {
	if fp.scopeChain != nil {
		gc.MarkObjectUnbarriered(trc, &fp.scopeChain, "scope chain")
	}
	if fp.argsObj != nil {
		gc.MarkObjectUnbarriered(trc, &fp.argsObj, "arguments")
	}
	if fp.blockChain != nil {
		gc.MarkObjectUnbarriered(trc, &fp.blockChain, "block chain")
	}
	switch fp.kind {
	case FunctionFrame:
		gc.MarkObjectUnbarriered(trc, &fp.fun, "fun")
	case EvalFrame:
		if fp.fun != nil {
			gc.MarkObjectUnbarriered(trc, &fp.fun, "fun")
		}
		gc.MarkScriptRoot(trc, &fp.script, "eval script")
	default:
		gc.MarkScriptRoot(trc, &fp.script, "script")
	}
	if fp.flags&frameHasRval != 0 {
		gc.MarkValueRoot(trc, &fp.rval, "rval")
	}
}

// barrier runs the pre-write barrier on every reference the frame owns.
func (fp *StackFrame) barrier(rt *gc.Runtime) {
	rt.CellBarrierPre(fp.scopeChain)
	rt.CellBarrierPre(fp.argsObj)
	rt.CellBarrierPre(fp.blockChain)
	rt.CellBarrierPre(fp.fun)
	rt.CellBarrierPre(fp.script)
	if fp.flags&frameHasRval != 0 {
		rt.WriteBarrierPre(fp.rval)
	}
}
