package vm

import (
	"fmt"

	"github.com/chazu/marrow/gc"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("marrow.vm")

const (
	// DefaultCapacity is the stack space size, in values, used when none
	// is configured.
	DefaultCapacity = 1 << 18

	// ArgsLengthMax bounds the argument count of a single call.
	ArgsLengthMax = 500 * 1000

	// segmentHeaderSlots and frameHeaderSlots are the values a segment or
	// frame header occupies in the buffer.
	segmentHeaderSlots = 2
	frameHeaderSlots   = 4

	// RootName is the name the stack space registers its root tracer under.
	RootName = "vm_stack"
)

// ---------------------------------------------------------------------------
// StackSpace: the runtime's value buffer
// ---------------------------------------------------------------------------

// StackSpace owns one contiguous buffer shared by every ContextStack of a
// runtime. The most recently pushed segment is on top; segments below it
// belong to the same or to other contexts.
type StackSpace struct {
	rt    *gc.Runtime
	slots []gc.Value
	seg   *StackSegment
}

// NewStackSpace allocates a stack space of capacity values and registers it
// as a root tracer of rt. A capacity of 0 selects DefaultCapacity.
func NewStackSpace(rt *gc.Runtime, capacity int) *StackSpace {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &StackSpace{
		rt:    rt,
		slots: make([]gc.Value, capacity),
	}
	rt.AddRootTracer(RootName, s)
	return s
}

// Close unregisters the stack space from its runtime.
func (s *StackSpace) Close() {
	s.rt.RemoveRoot(RootName)
}

// Runtime returns the runtime the stack space belongs to.
func (s *StackSpace) Runtime() *gc.Runtime { return s.rt }

// Capacity returns the buffer size in values.
func (s *StackSpace) Capacity() int { return len(s.slots) }

// Segment returns the segment on top of the stack space.
func (s *StackSpace) Segment() *StackSegment { return s.seg }

// FirstUnused returns the index of the first free value.
func (s *StackSpace) FirstUnused() int {
	if s.seg == nil {
		return 0
	}
	return s.seg.end()
}

// Values returns a view of the buffer between begin and end.
func (s *StackSpace) Values(begin, end int) []gc.Value {
	return s.slots[begin:end:end]
}

// EnsureSpace checks that nvals values fit starting at from.
func (s *StackSpace) EnsureSpace(from, nvals int) error {
	if len(s.slots)-from < nvals {
		log.Debugf("stack overflow: %d values at %d, capacity %d", nvals, from, len(s.slots))
		return fmt.Errorf("%w: %d values requested at %d, capacity %d",
			ErrStackOverflow, nvals, from, len(s.slots))
	}
	return nil
}

// clear resets a range to undefined so a scan never sees stale values.
func (s *StackSpace) clear(begin, end int) {
	for i := begin; i < end; i++ {
		s.slots[i] = gc.Undefined
	}
}

// TraceRoots marks the stack for the collector.
func (s *StackSpace) TraceRoots(trc *gc.Tracer) error {
	return s.Mark(trc)
}

// Mark marks every value, frame and owned reference in the stack space.
//
// Native calls only push values, so for marking the stack reads as
// (segment slots (frame slots)*)* and is walked in reverse: within each
// segment every frame marks the values from its slots to the start of the
// next frame, then its own references, and the segment finally marks the
// values below its first frame.
func (s *StackSpace) Mark(trc *gc.Tracer) error {
	nextSegEnd := s.FirstUnused()
	for seg := s.seg; seg != nil; seg = seg.prevInMemory {
		if seg.slotsBegin() > nextSegEnd {
			return fmt.Errorf("%w: segment at %d overlaps the one above it at %d",
				ErrCorruptStack, seg.start, nextSegEnd)
		}
		slotsEnd := nextSegEnd
		for fp := seg.fp; fp != nil && fp.base > seg.start; fp = fp.prev {
			if fp.state == FramePopped || fp.slots() > slotsEnd {
				return fmt.Errorf("%w: frame at %d outside segment [%d, %d)",
					ErrCorruptStack, fp.base, seg.start, slotsEnd)
			}
			gc.MarkValueRootRange(trc, s.slots[fp.slots():slotsEnd], "vm_stack")
			fp.mark(trc)
			slotsEnd = fp.base
		}
		gc.MarkValueRootRange(trc, s.slots[seg.slotsBegin():slotsEnd], "vm_stack")
		nextSegEnd = seg.start
	}
	return nil
}

// ---------------------------------------------------------------------------
// StackSegment
// ---------------------------------------------------------------------------

// StackSegment is a contiguous run of the stack space pushed by one
// ContextStack. A segment that extends its context's chain starts out
// pointing at the frame and call of the segment below it.
type StackSegment struct {
	space         *StackSpace
	cx            *ContextStack
	start         int
	prevInMemory  *StackSegment
	prevInContext *StackSegment

	// fp is the innermost frame and calls the innermost argument list of
	// the context while this segment is its current one.
	fp    *StackFrame
	calls *CallArgsList
}

// Context returns the context that pushed the segment.
func (seg *StackSegment) Context() *ContextStack { return seg.cx }

// Start returns the index of the segment header.
func (seg *StackSegment) Start() int { return seg.start }

// PrevInMemory returns the segment directly below this one in the buffer.
func (seg *StackSegment) PrevInMemory() *StackSegment { return seg.prevInMemory }

// PrevInContext returns the previous segment of the same context.
func (seg *StackSegment) PrevInContext() *StackSegment { return seg.prevInContext }

// IsEmpty reports whether the segment has neither a frame nor a call.
func (seg *StackSegment) IsEmpty() bool {
	return seg.fp == nil && seg.calls == nil
}

func (seg *StackSegment) slotsBegin() int {
	return seg.start + segmentHeaderSlots
}

func (seg *StackSegment) containsFrame(fp *StackFrame) bool {
	if fp == nil || seg.fp == nil {
		return false
	}
	return fp.base >= seg.slotsBegin() && fp.base <= seg.fp.base
}

func (seg *StackSegment) containsCall(call *CallArgsList) bool {
	if call == nil || seg.calls == nil {
		return false
	}
	return call.base >= seg.slotsBegin() && call.base <= seg.calls.base
}

// end returns the index past the last value in use in the segment.
func (seg *StackSegment) end() int {
	end := seg.slotsBegin()
	if seg.containsFrame(seg.fp) {
		end = max(end, seg.fp.sp)
	}
	if seg.containsCall(seg.calls) {
		end = max(end, seg.calls.end())
	}
	return end
}

func (seg *StackSegment) pushRegs(fp *StackFrame) {
	fp.prevRegs = seg.fp
	seg.fp = fp
}

func (seg *StackSegment) popRegs(fp *StackFrame) {
	seg.fp = fp.prevRegs
}

func (seg *StackSegment) pushCall(call *CallArgsList) {
	call.prev = seg.calls
	seg.calls = call
}

func (seg *StackSegment) popCall() {
	seg.calls = seg.calls.prev
}

// ---------------------------------------------------------------------------
// CallArgsList: argument vectors on the stack
// ---------------------------------------------------------------------------

// CallArgsList is the argument vector of one call: the callee, this and the
// actual arguments, stored contiguously in the stack space. An active list
// belongs to a native call in progress.
type CallArgsList struct {
	space     *StackSpace
	base      int
	argc      int
	prev      *CallArgsList
	active    bool
	pushedSeg bool
	popped    bool
}

// Base returns the index of the callee slot.
func (c *CallArgsList) Base() int { return c.base }

// Argc returns the number of actual arguments.
func (c *CallArgsList) Argc() int { return c.argc }

// Prev returns the call pushed before this one in the same segment chain.
func (c *CallArgsList) Prev() *CallArgsList { return c.prev }

// IsActive reports whether a native call is running on the list.
func (c *CallArgsList) IsActive() bool { return c.active }

// SetActive marks the list as belonging to a running native call.
func (c *CallArgsList) SetActive(active bool) { c.active = active }

func (c *CallArgsList) end() int { return c.base + 2 + c.argc }

func (c *CallArgsList) Callee() gc.Value     { return c.space.slots[c.base] }
func (c *CallArgsList) SetCallee(v gc.Value) { c.space.slots[c.base] = v }
func (c *CallArgsList) This() gc.Value       { return c.space.slots[c.base+1] }
func (c *CallArgsList) SetThis(v gc.Value)   { c.space.slots[c.base+1] = v }

// Arg returns argument i.
func (c *CallArgsList) Arg(i int) gc.Value {
	if i < 0 || i >= c.argc {
		panic(fmt.Sprintf("vm: argument %d out of range %d", i, c.argc))
	}
	return c.space.slots[c.base+2+i]
}

// SetArg stores argument i.
func (c *CallArgsList) SetArg(i int, v gc.Value) {
	if i < 0 || i >= c.argc {
		panic(fmt.Sprintf("vm: argument %d out of range %d", i, c.argc))
	}
	c.space.slots[c.base+2+i] = v
}

// Args returns a view of the actual arguments.
func (c *CallArgsList) Args() []gc.Value {
	return c.space.Values(c.base+2, c.end())
}

// ReturnValue returns the result a native call left in the callee slot.
func (c *CallArgsList) ReturnValue() gc.Value { return c.space.slots[c.base] }
