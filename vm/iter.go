package vm

import "github.com/chazu/marrow/gc"

// ---------------------------------------------------------------------------
// StackIter: frames and native calls, innermost first
// ---------------------------------------------------------------------------

// IterState is what a StackIter is positioned on.
type IterState uint8

const (
	IterDone IterState = iota
	IterScripted
	IterNative
)

// SavedOption decides whether iteration continues past a saved frame chain.
type SavedOption uint8

const (
	StopAtSaved SavedOption = iota
	GoThroughSaved
)

// StackIter walks a context's activations from the innermost out: scripted
// frames and active native calls, in strictly descending stack order. When
// a frame and an argument vector are both candidates, the one at the higher
// index was pushed later and comes first. Argument vectors of scripted
// calls and inactive calls are skipped.
type StackIter struct {
	rt     *gc.Runtime
	option SavedOption
	state  IterState
	seg    *StackSegment
	fp     *StackFrame
	calls  *CallArgsList
}

// NewStackIter positions an iterator on cx's innermost activation.
func NewStackIter(cx *ContextStack, option SavedOption) *StackIter {
	it := &StackIter{rt: cx.space.rt, option: option}
	if cx.seg == nil {
		return it
	}
	it.startOnSegment(cx.seg)
	it.settle()
	return it
}

func (it *StackIter) Done() bool       { return it.state == IterDone }
func (it *StackIter) State() IterState { return it.state }
func (it *StackIter) IsScripted() bool { return it.state == IterScripted }
func (it *StackIter) IsNative() bool   { return it.state == IterNative }

// Frame returns the current scripted frame.
func (it *StackIter) Frame() *StackFrame {
	if it.state != IterScripted {
		panic("vm: StackIter.Frame on a " + it.stateName())
	}
	return it.fp
}

// Args returns the argument vector of the current native call.
func (it *StackIter) Args() *CallArgsList {
	if it.state != IterNative {
		panic("vm: StackIter.Args on a " + it.stateName())
	}
	return it.calls
}

// Segment returns the segment holding the current activation.
func (it *StackIter) Segment() *StackSegment { return it.seg }

// Next moves to the next outer activation.
func (it *StackIter) Next() {
	switch it.state {
	case IterScripted:
		it.fp = it.fp.prev
	case IterNative:
		it.calls = it.calls.prev
	default:
		panic("vm: StackIter.Next when done")
	}
	it.settle()
}

func (it *StackIter) stateName() string {
	switch it.state {
	case IterScripted:
		return "scripted frame"
	case IterNative:
		return "native call"
	}
	return "finished iterator"
}

func (it *StackIter) startOnSegment(seg *StackSegment) {
	it.seg = seg
	it.fp = seg.fp
	it.calls = seg.calls
}

// settle advances until the iterator rests on a reportable activation.
func (it *StackIter) settle() {
	for {
		if it.fp == nil && it.calls == nil {
			if it.option == GoThroughSaved && it.seg.prevInContext != nil {
				it.startOnSegment(it.seg.prevInContext)
				continue
			}
			it.state = IterDone
			return
		}

		// Popping may have left the current segment.
		containsFrame := it.seg.containsFrame(it.fp)
		containsCall := it.seg.containsCall(it.calls)
		for !containsFrame && !containsCall {
			it.seg = it.seg.prevInMemory
			if it.seg == nil {
				log.Warningf("stack iteration ran out of segments")
				it.state = IterDone
				return
			}
			containsFrame = it.seg.containsFrame(it.fp)
			containsCall = it.seg.containsCall(it.calls)
		}

		if containsFrame && (!containsCall || it.fp.base >= it.calls.base) {
			it.state = IterScripted
			return
		}
		if it.calls.active && it.isNativeCallee(it.calls.Callee()) {
			it.state = IterNative
			return
		}
		it.calls = it.calls.prev
	}
}

func (it *StackIter) isNativeCallee(v gc.Value) bool {
	if !v.IsObject() {
		return false
	}
	fun := it.rt.ObjectOf(v)
	return fun != nil && fun.IsFunction() && !fun.Function().IsInterpreted()
}
