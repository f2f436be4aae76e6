package vm

import (
	"fmt"

	"github.com/chazu/marrow/gc"
)

// ---------------------------------------------------------------------------
// Scope classes
// ---------------------------------------------------------------------------

// Scope objects link to the scope enclosing them through their parent.
var (
	// CallClass is the class of call objects, the scopes of heavyweight
	// function activations. Reserved slot 0 holds the callee.
	CallClass = &gc.Class{Name: "Call", Flags: gc.ClassImplementsBarriers, ReservedSlots: 1}

	// StaticBlockClass describes a lexical block at compile time. Reserved
	// slot 0 holds the enclosing static block, slot 1 whether entering the
	// block clones it onto the scope chain.
	StaticBlockClass = &gc.Class{Name: "Block", Flags: gc.ClassImplementsBarriers, ReservedSlots: 2}

	// BlockClass is the class of cloned blocks. The prototype of a clone is
	// its static block.
	BlockClass = &gc.Class{Name: "Block", Flags: gc.ClassImplementsBarriers, ReservedSlots: 1}

	// WithClass is the class of with scopes. The prototype is the object the
	// statement names; reserved slot 0 holds the frame's block chain when
	// the scope was entered.
	WithClass = &gc.Class{Name: "With", Flags: gc.ClassImplementsBarriers, ReservedSlots: 1}

	// ArgumentsClass is the class of arguments objects. Reserved slot 0
	// holds the callee; the arguments are indexed properties.
	ArgumentsClass = &gc.Class{Name: "Arguments", Flags: gc.ClassImplementsBarriers, ReservedSlots: 1}
)

// NewCallObject allocates the call object of a heavyweight activation of
// callee, enclosed by scope.
func NewCallObject(comp *gc.Compartment, callee, scope *gc.Object) (*gc.Object, error) {
	obj, err := comp.NewObject(CallClass, nil, scope)
	if err != nil {
		return nil, err
	}
	obj.SetSlot(0, gc.ObjectValue(callee))
	return obj, nil
}

// NewStaticBlock allocates the compile-time description of a block nested
// in enclosing. A block that needs a clone puts a fresh scope object on the
// scope chain each time it is entered.
func NewStaticBlock(comp *gc.Compartment, enclosing *gc.Object, needsClone bool) (*gc.Object, error) {
	obj, err := comp.NewObject(StaticBlockClass, nil, nil)
	if err != nil {
		return nil, err
	}
	obj.SetSlot(0, gc.ObjectOrNullValue(enclosing))
	obj.SetSlot(1, gc.BooleanValue(needsClone))
	return obj, nil
}

// EnclosingBlock returns the static block enclosing block, or nil.
func EnclosingBlock(block *gc.Object) *gc.Object {
	return objectSlot(block, 0)
}

// BlockNeedsClone reports whether entering block clones it.
func BlockNeedsClone(block *gc.Object) bool {
	return block.GetSlot(1) == gc.True
}

func objectSlot(obj *gc.Object, i int) *gc.Object {
	v := obj.GetSlot(i)
	if !v.IsObject() {
		return nil
	}
	return obj.Compartment().Runtime().ObjectOf(v)
}

// ---------------------------------------------------------------------------
// Block and with scopes
// ---------------------------------------------------------------------------

// PushBlock enters the static block block, which must be nested directly
// in the frame's current block.
func (fp *StackFrame) PushBlock(block *gc.Object) error {
	if block.Class() != StaticBlockClass {
		panic("vm: PushBlock of a " + block.Class().Name + " object")
	}
	if EnclosingBlock(block) != fp.blockChain {
		return fmt.Errorf("%w: block is not nested in the current block", ErrScopeMismatch)
	}
	if BlockNeedsClone(block) {
		clone, err := fp.cx.comp.NewObject(BlockClass, block, fp.scopeChain)
		if err != nil {
			return fmt.Errorf("block clone: %w", err)
		}
		clone.SetSlot(0, gc.ObjectValue(block))
		fp.scopeChain = clone
	}
	fp.blockChain = block
	return nil
}

// PopBlock leaves the frame's current block. A with scope entered inside
// the block must be popped first.
func (fp *StackFrame) PopBlock() error {
	block := fp.blockChain
	if block == nil {
		return fmt.Errorf("%w: no block to pop", ErrScopeMismatch)
	}
	if fp.innermostWith() {
		return fmt.Errorf("%w: with scope still open", ErrScopeMismatch)
	}
	if BlockNeedsClone(block) {
		clone := fp.scopeChain
		if clone == nil || clone.Class() != BlockClass || clone.Proto() != block {
			return fmt.Errorf("%w: scope chain does not start with the block clone", ErrScopeMismatch)
		}
		fp.scopeChain = clone.Parent()
	}
	fp.blockChain = EnclosingBlock(block)
	return nil
}

// PushWith enters a with scope over target.
func (fp *StackFrame) PushWith(target *gc.Object) error {
	with, err := fp.cx.comp.NewObject(WithClass, target, fp.scopeChain)
	if err != nil {
		return fmt.Errorf("with scope: %w", err)
	}
	with.SetSlot(0, gc.ObjectOrNullValue(fp.blockChain))
	fp.scopeChain = with
	return nil
}

// PopWith leaves the innermost with scope. Blocks entered inside it must be
// popped first.
func (fp *StackFrame) PopWith() error {
	if !fp.innermostWith() {
		return fmt.Errorf("%w: no with scope to pop", ErrScopeMismatch)
	}
	fp.scopeChain = fp.scopeChain.Parent()
	return nil
}

// innermostWith reports whether the scope chain starts with a with scope
// entered at the current block depth.
func (fp *StackFrame) innermostWith() bool {
	sc := fp.scopeChain
	return sc != nil && sc.Class() == WithClass && objectSlot(sc, 0) == fp.blockChain
}

// ---------------------------------------------------------------------------
// Arguments objects
// ---------------------------------------------------------------------------

// ArgumentsObject returns the frame's arguments object, creating it on first
// use from the actual arguments.
func (fp *StackFrame) ArgumentsObject() (*gc.Object, error) {
	if fp.kind != FunctionFrame {
		panic("vm: arguments object of a " + fp.kind.String() + " frame")
	}
	if fp.argsObj != nil {
		return fp.argsObj, nil
	}
	obj, err := fp.cx.comp.NewObject(ArgumentsClass, nil, fp.cx.comp.Global())
	if err != nil {
		return nil, fmt.Errorf("arguments object: %w", err)
	}
	obj.SetSlot(0, gc.ObjectValue(fp.fun))
	for i := 0; i < fp.argc; i++ {
		if err := obj.DefineProperty(gc.IntID(int32(i)), fp.Arg(i)); err != nil {
			return nil, fmt.Errorf("arguments object: %w", err)
		}
	}
	fp.argsObj = obj
	return obj, nil
}
