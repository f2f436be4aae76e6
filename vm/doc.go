// Package vm implements the execution stack the collector scans for roots.
//
// This package contains:
//   - StackSpace: one contiguous buffer of values per runtime
//   - StackSegment: a run of the buffer owned by one ContextStack
//   - StackFrame: global, function and eval activations
//   - CallArgsList: argument vectors of pending and active calls
//   - ContextStack: the push/pop protocol for args, frames and segments
//   - StackIter: the most-recent-first walk over frames and native calls
//   - Scope objects (call, block, with) and generators
//
// Segments, frames and argument vectors all live in the same buffer, so a
// higher index means a more recent push. Marking and iteration rely on it.
package vm
