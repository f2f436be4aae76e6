package vm

import (
	"fmt"

	"github.com/chazu/marrow/gc"
)

// ---------------------------------------------------------------------------
// ContextStack: one thread of execution in a stack space
// ---------------------------------------------------------------------------

// ContextStack is the push/pop protocol for one execution context. Several
// contexts share a stack space; a context that is not on top of it, or
// that must not extend its current segment, pushes a new segment first.
type ContextStack struct {
	space *StackSpace
	comp  *gc.Compartment
	seg   *StackSegment
}

// NewContextStack returns a context allocating its scope objects in comp.
func NewContextStack(space *StackSpace, comp *gc.Compartment) *ContextStack {
	return &ContextStack{space: space, comp: comp}
}

func (cx *ContextStack) Space() *StackSpace           { return cx.space }
func (cx *ContextStack) Compartment() *gc.Compartment { return cx.comp }
func (cx *ContextStack) Segment() *StackSegment       { return cx.seg }

// OnTop reports whether the context's segment is the top of the stack space.
func (cx *ContextStack) OnTop() bool {
	return cx.seg != nil && cx.seg == cx.space.seg
}

// CurrentFrame returns the innermost frame, or nil when there is none or
// the frame chain is saved.
func (cx *ContextStack) CurrentFrame() *StackFrame {
	if cx.seg == nil {
		return nil
	}
	return cx.seg.fp
}

// CurrentCall returns the innermost argument list, or nil.
func (cx *ContextStack) CurrentCall() *CallArgsList {
	if cx.seg == nil {
		return nil
	}
	return cx.seg.calls
}

// ensureOnTop makes room for nvars values on top of the stack space,
// pushing a segment when the context is not on top or must not extend its
// segment. It returns the first usable index and whether a segment was
// pushed.
func (cx *ContextStack) ensureOnTop(nvars int, extend bool) (int, bool, error) {
	space := cx.space
	firstUnused := space.FirstUnused()

	if cx.OnTop() && extend {
		if err := space.EnsureSpace(firstUnused, nvars); err != nil {
			return 0, false, err
		}
		return firstUnused, false, nil
	}

	if err := space.EnsureSpace(firstUnused, segmentHeaderSlots+nvars); err != nil {
		return 0, false, err
	}
	seg := &StackSegment{
		space:         space,
		cx:            cx,
		start:         firstUnused,
		prevInMemory:  space.seg,
		prevInContext: cx.seg,
	}
	if cx.seg != nil && extend {
		seg.fp = cx.seg.fp
		seg.calls = cx.seg.calls
	}
	space.clear(seg.start, seg.slotsBegin())
	cx.seg = seg
	space.seg = seg
	log.Debugf("pushed segment at %d", seg.start)
	return seg.slotsBegin(), true, nil
}

func (cx *ContextStack) popSegment() {
	if !cx.OnTop() {
		panic("vm: popping a segment that is not on top of the stack space")
	}
	log.Debugf("popped segment at %d", cx.seg.start)
	cx.space.seg = cx.seg.prevInMemory
	cx.seg = cx.seg.prevInContext
}

// ---------------------------------------------------------------------------
// Argument vectors
// ---------------------------------------------------------------------------

// PushInvokeArgs pushes an argument vector for a call with argc arguments.
// The callee, this and the arguments start out undefined.
func (cx *ContextStack) PushInvokeArgs(argc int) (*CallArgsList, error) {
	if argc < 0 || argc > ArgsLengthMax {
		return nil, fmt.Errorf("%w: %d arguments", ErrStackOverflow, argc)
	}
	nvars := 2 + argc
	first, pushedSeg, err := cx.ensureOnTop(nvars, true)
	if err != nil {
		return nil, err
	}
	cx.space.clear(first, first+nvars)

	args := &CallArgsList{
		space:     cx.space,
		base:      first,
		argc:      argc,
		pushedSeg: pushedSeg,
	}
	cx.seg.pushCall(args)
	return args, nil
}

// PopInvokeArgs pops the innermost argument vector.
func (cx *ContextStack) PopInvokeArgs(args *CallArgsList) {
	if args.popped || !cx.OnTop() || cx.seg.calls != args || cx.space.FirstUnused() != args.end() {
		panic("vm: PopInvokeArgs out of order")
	}
	cx.seg.popCall()
	args.popped = true
	args.active = false
	if args.pushedSeg {
		cx.popSegment()
	}
}

// CallNative runs the native function in args' callee slot. The call is
// active while it runs, and its result replaces the callee.
func (cx *ContextStack) CallNative(args *CallArgsList) (gc.Value, error) {
	fun := cx.space.rt.ObjectOf(args.Callee())
	if fun == nil || !fun.IsFunction() || fun.Function().IsInterpreted() {
		panic("vm: CallNative without a native callee")
	}
	args.active = true
	rval, err := fun.Function().Native()(cx.space.Values(args.base, args.end()))
	args.active = false
	if err != nil {
		return gc.Undefined, err
	}
	args.SetCallee(rval)
	return rval, nil
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// PushInvokeFrame pushes the frame of a call to the interpreted function in
// args' callee slot. args must be the innermost thing on the stack. Missing
// formal arguments are filled with undefined.
func (cx *ContextStack) PushInvokeFrame(args *CallArgsList, constructing bool) (*StackFrame, error) {
	if !cx.OnTop() || cx.space.FirstUnused() != args.end() {
		panic("vm: PushInvokeFrame with arguments that are not on top")
	}
	rt := cx.space.rt
	fun := rt.ObjectOf(args.Callee())
	if fun == nil || !fun.IsFunction() || !fun.Function().IsInterpreted() {
		return nil, ErrNotInterpreted
	}
	fd := fun.Function()
	script := fd.Script()

	missing := max(fd.NArgs()-args.argc, 0)
	first := args.end()
	nvals := missing + frameHeaderSlots + script.NumVars + script.NumSlots
	if err := cx.space.EnsureSpace(first, nvals); err != nil {
		return nil, err
	}
	cx.space.clear(first, first+missing)

	fp := &StackFrame{
		kind:       FunctionFrame,
		cx:         cx,
		space:      cx.space,
		base:       first + missing,
		argv:       args.base,
		argc:       args.argc,
		nargs:      fd.NArgs(),
		prev:       cx.seg.fp,
		script:     script,
		fun:        fun,
		scopeChain: fd.Environment(),
	}
	if constructing {
		fp.flags |= frameConstructing
	}
	if fd.IsGenerator() {
		fp.flags |= frameGenerator
	}
	fp.initSlots()
	cx.seg.pushRegs(fp)
	return fp, nil
}

// PushExecuteFrame pushes a global or eval frame running script with thisv
// as its this value. A nil scope chain means the compartment's global. An
// eval frame takes the function of the frame it is called from.
func (cx *ContextStack) PushExecuteFrame(script *gc.Script, thisv gc.Value, scopeChain *gc.Object, kind FrameKind) (*StackFrame, error) {
	if kind == FunctionFrame {
		panic("vm: PushExecuteFrame of a function frame")
	}
	nvars := 2 + frameHeaderSlots + script.NumVars + script.NumSlots
	first, pushedSeg, err := cx.ensureOnTop(nvars, true)
	if err != nil {
		return nil, err
	}
	if scopeChain == nil {
		scopeChain = cx.comp.Global()
	}

	prev := cx.seg.fp
	fp := &StackFrame{
		kind:       kind,
		cx:         cx,
		space:      cx.space,
		base:       first + 2,
		argv:       first,
		prev:       prev,
		pushedSeg:  pushedSeg,
		script:     script,
		scopeChain: scopeChain,
	}
	if kind == EvalFrame && prev != nil {
		fp.fun = prev.fun
	}
	cx.space.slots[first] = gc.ObjectOrNullValue(fp.fun)
	cx.space.slots[first+1] = thisv
	fp.initSlots()
	cx.seg.pushRegs(fp)
	return fp, nil
}

// PopFrame pops the innermost frame. A running frame runs its epilogue
// first; a frame whose prologue failed is popped as is.
func (cx *ContextStack) PopFrame(fp *StackFrame) {
	if !cx.OnTop() || cx.seg.fp != fp || fp.state == FramePopped {
		panic("vm: PopFrame out of order")
	}
	if cx.space.FirstUnused() != fp.sp {
		panic("vm: PopFrame with values pushed above the frame")
	}
	if fp.state == FrameRunning {
		fp.Epilogue()
	}
	cx.seg.popRegs(fp)
	fp.state = FramePopped
	if fp.pushedSeg {
		cx.popSegment()
	}
}

// ---------------------------------------------------------------------------
// Saved frame chains
// ---------------------------------------------------------------------------

// SaveFrameChain hides the context's frames behind an empty segment, so
// code run next starts with no current frame.
func (cx *ContextStack) SaveFrameChain() error {
	if _, _, err := cx.ensureOnTop(0, false); err != nil {
		return err
	}
	return nil
}

// RestoreFrameChain pops the segment pushed by SaveFrameChain. Everything
// pushed since must have been popped.
func (cx *ContextStack) RestoreFrameChain() {
	if cx.seg == nil || !cx.seg.IsEmpty() || !cx.OnTop() {
		panic("vm: RestoreFrameChain with frames or calls still pushed")
	}
	cx.popSegment()
}
