package gc

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// ClassFlags describe how the collector treats objects of a class.
type ClassFlags uint8

const (
	// ClassHasPrivate marks classes whose objects carry a private value.
	ClassHasPrivate ClassFlags = 1 << iota

	// ClassNonNative marks classes whose objects keep no property slots in
	// the usual layout; the marker never scans their slots.
	ClassNonNative

	// ClassImplementsBarriers marks classes whose trace hook is safe under
	// incremental marking because every mutation of the traced state runs a
	// pre-write barrier.
	ClassImplementsBarriers
)

// TraceHook enumerates the GC things an object owns outside its slots.
type TraceHook func(trc *Tracer, obj *Object)

// FinalizeHook runs when an unreachable object is swept. It must not
// allocate.
type FinalizeHook func(obj *Object)

// Class is the static description of a kind of object. Collaborators
// (closures, proxies, generators) join the collector by supplying a Trace
// hook.
type Class struct {
	Name          string
	Flags         ClassFlags
	ReservedSlots int
	Trace         TraceHook
	Finalize      FinalizeHook
}

// IsNative reports whether objects of the class store properties in slots.
func (c *Class) IsNative() bool {
	return c.Flags&ClassNonNative == 0
}

// ImplementsBarriers reports whether the class's trace hook is safe during
// incremental marking.
func (c *Class) ImplementsBarriers() bool {
	return c.Flags&ClassImplementsBarriers != 0
}

var (
	// ObjectClass is the class of plain objects.
	ObjectClass = &Class{Name: "Object", Flags: ClassImplementsBarriers}

	// ArrayClass is the class of dense arrays. Its elements live in a
	// contiguous vector; the marker scans them as one value range.
	ArrayClass = &Class{
		Name:  "Array",
		Flags: ClassNonNative | ClassImplementsBarriers,
		Trace: traceDenseElements,
	}

	// SlowArrayClass is the class of arrays whose elements were converted
	// to ordinary indexed properties.
	SlowArrayClass = &Class{Name: "Array", Flags: ClassImplementsBarriers}
)

func traceDenseElements(trc *Tracer, obj *Object) {
	MarkValueRange(trc, obj.elements[:obj.initLen], "element")
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

// Object is a script object. Its slots are numbered fixed first, then
// dynamic; the shape's slot span bounds the slots in use. Dense arrays keep
// their elements in a separate vector.
type Object struct {
	cellHeader
	shape *Shape
	typ   *TypeObject

	fixed []Value
	slots []Value

	elements []Value
	initLen  int

	private any
	fun     *FunctionData
}

func (obj *Object) TraceKind() TraceKind { return TraceObject }

// Shape returns the object's last property.
func (obj *Object) Shape() *Shape { return obj.shape }

// Type returns the object's type object.
func (obj *Object) Type() *TypeObject { return obj.typ }

// Class returns the object's class.
func (obj *Object) Class() *Class { return obj.shape.base.clasp }

// Proto returns the object's prototype.
func (obj *Object) Proto() *Object { return obj.typ.proto }

// Parent returns the object's parent, usually a global.
func (obj *Object) Parent() *Object { return obj.shape.base.parent }

// IsNative reports whether the object stores properties in slots.
func (obj *Object) IsNative() bool { return obj.shape.IsNative() }

// IsDenseArray reports whether the object is a dense array.
func (obj *Object) IsDenseArray() bool { return obj.Class() == ArrayClass }

// HasSingletonType reports whether the object has a type of its own.
func (obj *Object) HasSingletonType() bool { return obj.typ != nil && obj.typ.singleton == obj }

func (obj *Object) runtime() *Runtime { return obj.arena.comp.rt }

// NumFixedSlots returns the inline slot count of the object's kind.
func (obj *Object) NumFixedSlots() int { return len(obj.fixed) }

// NumDynamicSlots returns the length of the out-of-line slot vector.
func (obj *Object) NumDynamicSlots() int { return len(obj.slots) }

// SlotSpan returns the number of slots in use.
func (obj *Object) SlotSpan() int { return obj.shape.slotSpan }

// GetSlot returns slot i.
func (obj *Object) GetSlot(i int) Value {
	assertf(i >= 0 && i < obj.SlotSpan(), "GetSlot: slot %d out of span %d", i, obj.SlotSpan())
	if i < len(obj.fixed) {
		return obj.fixed[i]
	}
	return obj.slots[i-len(obj.fixed)]
}

// SetSlot stores v in slot i, running the pre-write barrier on the value
// it replaces.
func (obj *Object) SetSlot(i int, v Value) {
	assertf(i >= 0 && i < obj.SlotSpan(), "SetSlot: slot %d out of span %d", i, obj.SlotSpan())
	p := obj.slotRef(i)
	obj.runtime().valueBarrierPre(*p)
	*p = v
}

func (obj *Object) slotRef(i int) *Value {
	if i < len(obj.fixed) {
		return &obj.fixed[i]
	}
	return &obj.slots[i-len(obj.fixed)]
}

// Slots returns views of the fixed and dynamic slots in use.
func (obj *Object) Slots() (fixed, dynamic []Value) {
	span := obj.SlotSpan()
	nfixed := len(obj.fixed)
	if span <= nfixed {
		return obj.fixed[:span], nil
	}
	return obj.fixed, obj.slots[:span-nfixed]
}

// setShape replaces the last property, barriering the old shape.
func (obj *Object) setShape(s *Shape) {
	if obj.shape != nil {
		obj.runtime().cellBarrierPre(obj.shape)
	}
	obj.shape = s
}

// dynamicSlotCapacity rounds the dynamic slot count for a span up to a
// power of two, at least minDynamicSlots.
func dynamicSlotCapacity(nfixed, span int) int {
	n := span - nfixed
	if n <= 0 {
		return 0
	}
	c := minDynamicSlots
	for c < n {
		c *= 2
	}
	return c
}

const minDynamicSlots = 8

// resizeSlots reallocates the dynamic slot vector when the span needs a
// different capacity. The old vector is never reused, so a marker holding
// it keeps a consistent (stale) view until it saves its ranges.
func (obj *Object) resizeSlots(span int) {
	n := dynamicSlotCapacity(len(obj.fixed), span)
	if n == len(obj.slots) {
		return
	}
	if n == 0 {
		obj.slots = nil
		return
	}
	slots := make([]Value, n)
	copied := copy(slots, obj.slots)
	for i := copied; i < n; i++ {
		slots[i] = Undefined
	}
	obj.slots = slots
}

// LookupProperty returns the shape for id, or nil.
func (obj *Object) LookupProperty(id PropertyID) *Shape {
	return obj.shape.Search(id)
}

// GetProperty returns the value of a data property.
func (obj *Object) GetProperty(id PropertyID) (Value, bool) {
	s := obj.LookupProperty(id)
	if s == nil || !s.HasSlot() {
		return Undefined, false
	}
	return obj.GetSlot(s.slot), true
}

// DefineProperty sets a data property, adding a shape and a slot when the
// property is new.
func (obj *Object) DefineProperty(id PropertyID, v Value) error {
	assertf(obj.IsNative(), "DefineProperty on non-native %s object", obj.Class().Name)
	if s := obj.LookupProperty(id); s != nil && s.HasSlot() {
		obj.SetSlot(s.slot, v)
		return nil
	}
	s, err := obj.Compartment().NewShape(obj.shape, id)
	if err != nil {
		return err
	}
	obj.resizeSlots(s.slotSpan)
	obj.setShape(s)
	*obj.slotRef(s.slot) = v
	return nil
}

// DefineAccessor adds an accessor property backed by getter and setter
// objects. Accessors take no slot.
func (obj *Object) DefineAccessor(id PropertyID, getter, setter *Object) error {
	assertf(obj.IsNative(), "DefineAccessor on non-native %s object", obj.Class().Name)
	s, err := obj.Compartment().NewAccessorShape(obj.shape, id, getter, setter)
	if err != nil {
		return err
	}
	obj.setShape(s)
	return nil
}

// RemoveLastProperty drops the most recently added property and shrinks
// the slot storage to the new span.
func (obj *Object) RemoveLastProperty() {
	assertf(!obj.shape.IsEmptyShape(), "RemoveLastProperty on object without properties")
	old := obj.shape
	rt := obj.runtime()
	for i := old.previous.slotSpan; i < old.slotSpan; i++ {
		rt.valueBarrierPre(obj.GetSlot(i))
		*obj.slotRef(i) = Undefined
	}
	obj.setShape(old.previous)
	obj.resizeSlots(obj.shape.slotSpan)
}

// Private returns the object's private value.
func (obj *Object) Private() any {
	return obj.private
}

// SetPrivate stores the private value. Classes whose private data holds GC
// things barrier it in their own setters.
func (obj *Object) SetPrivate(p any) {
	assertf(obj.Class().Flags&ClassHasPrivate != 0, "SetPrivate on %s object without private", obj.Class().Name)
	obj.private = p
}

// ---------------------------------------------------------------------------
// Dense elements
// ---------------------------------------------------------------------------

// DenseInitializedLength returns the number of initialized elements.
func (obj *Object) DenseInitializedLength() int {
	return obj.initLen
}

// DenseElements returns the initialized elements.
func (obj *Object) DenseElements() []Value {
	return obj.elements[:obj.initLen]
}

// DenseElement returns element i.
func (obj *Object) DenseElement(i int) Value {
	assertf(obj.IsDenseArray(), "DenseElement on %s object", obj.Class().Name)
	assertf(i >= 0 && i < obj.initLen, "DenseElement: index %d out of length %d", i, obj.initLen)
	return obj.elements[i]
}

// SetDenseElement stores v at initialized index i.
func (obj *Object) SetDenseElement(i int, v Value) {
	assertf(obj.IsDenseArray(), "SetDenseElement on %s object", obj.Class().Name)
	assertf(i >= 0 && i < obj.initLen, "SetDenseElement: index %d out of length %d", i, obj.initLen)
	obj.runtime().valueBarrierPre(obj.elements[i])
	obj.elements[i] = v
}

// PushDenseElement appends v, reallocating the element vector when full.
func (obj *Object) PushDenseElement(v Value) {
	assertf(obj.IsDenseArray(), "PushDenseElement on %s object", obj.Class().Name)
	if obj.initLen == len(obj.elements) {
		grown := make([]Value, max(2*len(obj.elements), 4))
		copy(grown, obj.elements)
		obj.elements = grown
	}
	obj.elements[obj.initLen] = v
	obj.initLen++
}

// SetDenseInitializedLength truncates the initialized elements to n. It
// never grows them.
func (obj *Object) SetDenseInitializedLength(n int) {
	assertf(obj.IsDenseArray(), "SetDenseInitializedLength on %s object", obj.Class().Name)
	assertf(n >= 0 && n <= obj.initLen, "SetDenseInitializedLength: %d exceeds length %d", n, obj.initLen)
	rt := obj.runtime()
	for i := n; i < obj.initLen; i++ {
		rt.valueBarrierPre(obj.elements[i])
		obj.elements[i] = Undefined
	}
	obj.initLen = n
}

// MakeSlowArray converts a dense array into a native object whose elements
// are integer-keyed properties. The class changes, which an incremental
// marker holding a saved element range observes on resume.
func (obj *Object) MakeSlowArray() error {
	assertf(obj.IsDenseArray(), "MakeSlowArray on %s object", obj.Class().Name)
	comp := obj.Compartment()
	empty, err := comp.initialShape(SlowArrayClass, obj.Proto(), obj.Parent(), len(obj.fixed))
	if err != nil {
		return err
	}
	typ, err := comp.getNewType(SlowArrayClass, obj.Proto())
	if err != nil {
		return err
	}

	last := empty
	for i := 0; i < obj.initLen; i++ {
		if last, err = comp.NewShape(last, IntID(int32(i))); err != nil {
			return err
		}
	}

	elems := obj.elements[:obj.initLen]
	obj.elements = nil
	obj.initLen = 0

	obj.setShape(last)
	obj.setType(typ)
	obj.resizeSlots(last.slotSpan)
	for i, v := range elems {
		*obj.slotRef(empty.slotSpan + i) = v
	}
	return nil
}

func (obj *Object) setType(t *TypeObject) {
	if obj.typ != nil {
		obj.runtime().cellBarrierPre(obj.typ)
	}
	obj.typ = t
}

// SetSingletonType gives the object a type of its own.
func (obj *Object) SetSingletonType() error {
	if obj.HasSingletonType() {
		return nil
	}
	t, err := obj.Compartment().NewTypeObject(obj.Class(), obj.Proto())
	if err != nil {
		return err
	}
	t.singleton = obj
	obj.setType(t)
	return nil
}

// ---------------------------------------------------------------------------
// Object creation
// ---------------------------------------------------------------------------

// NewObject allocates an object of clasp with the kind chosen from its
// reserved slot count.
func (c *Compartment) NewObject(clasp *Class, proto, parent *Object) (*Object, error) {
	kind := ObjectAllocKind(clasp.ReservedSlots)
	if clasp.IsNative() && kind < AllocObject4 {
		kind = AllocObject4
	}
	return c.NewObjectWithKind(clasp, proto, parent, kind)
}

// NewPlainObject allocates an object of ObjectClass.
func (c *Compartment) NewPlainObject(proto *Object) (*Object, error) {
	return c.NewObjectWithKind(ObjectClass, proto, c.global, AllocObject4)
}

// NewObjectWithKind allocates an object with an explicit size class.
func (c *Compartment) NewObjectWithKind(clasp *Class, proto, parent *Object, kind AllocKind) (*Object, error) {
	assertf(kind.IsObject(), "NewObjectWithKind: %v is not an object kind", kind)
	typ, err := c.getNewType(clasp, proto)
	if err != nil {
		return nil, err
	}
	nfixed := kind.FixedSlots()
	shape, err := c.initialShape(clasp, proto, parent, nfixed)
	if err != nil {
		return nil, err
	}
	obj := &Object{shape: shape, typ: typ}
	if nfixed > 0 {
		obj.fixed = make([]Value, nfixed)
		for i := range obj.fixed {
			obj.fixed[i] = Undefined
		}
	}
	obj.resizeSlots(shape.slotSpan)
	if err := c.allocateCell(kind, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// NewDenseArray allocates a dense array holding vals.
func (c *Compartment) NewDenseArray(proto *Object, vals []Value) (*Object, error) {
	obj, err := c.NewObjectWithKind(ArrayClass, proto, c.global, AllocObject0)
	if err != nil {
		return nil, err
	}
	obj.elements = make([]Value, max(len(vals), 4))
	copy(obj.elements, vals)
	obj.initLen = len(vals)
	return obj, nil
}
