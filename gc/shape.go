package gc

import "fmt"

// ---------------------------------------------------------------------------
// Property ids
// ---------------------------------------------------------------------------

type idKind uint8

const (
	idVoid idKind = iota
	idString
	idInt
	idObject
)

// PropertyID names a property: an atom, an integer index, or (rarely) an
// object such as a qualified name.
type PropertyID struct {
	kind  idKind
	str   *String
	obj   *Object
	index int32
}

// VoidID is the empty id used by empty shapes.
var VoidID = PropertyID{}

// StringID makes an id from an atom.
func StringID(s *String) PropertyID {
	return PropertyID{kind: idString, str: s}
}

// IntID makes an id from an integer index.
func IntID(i int32) PropertyID {
	return PropertyID{kind: idInt, index: i}
}

// ObjectID makes an id from an object.
func ObjectID(obj *Object) PropertyID {
	return PropertyID{kind: idObject, obj: obj}
}

func (id PropertyID) IsVoid() bool   { return id.kind == idVoid }
func (id PropertyID) IsString() bool { return id.kind == idString }
func (id PropertyID) IsInt() bool    { return id.kind == idInt }
func (id PropertyID) IsObject() bool { return id.kind == idObject }

// Atom returns the atom of a string id.
func (id PropertyID) Atom() *String {
	assertf(id.kind == idString, "PropertyID.Atom: id is not a string")
	return id.str
}

// Int returns the index of an integer id.
func (id PropertyID) Int() int32 {
	assertf(id.kind == idInt, "PropertyID.Int: id is not an integer")
	return id.index
}

// Object returns the object of an object id.
func (id PropertyID) Object() *Object {
	assertf(id.kind == idObject, "PropertyID.Object: id is not an object")
	return id.obj
}

// Equal compares ids by identity of their atom or object.
func (id PropertyID) Equal(other PropertyID) bool {
	return id == other
}

func (id PropertyID) describe() string {
	switch id.kind {
	case idString:
		return id.str.describe()
	case idInt:
		return fmt.Sprintf("%d", id.index)
	case idObject:
		return "[object id]"
	}
	return "<void>"
}

// ---------------------------------------------------------------------------
// BaseShape
// ---------------------------------------------------------------------------

type baseShapeFlags uint8

const (
	baseOwned baseShapeFlags = 1 << iota
	baseHasGetterObject
	baseHasSetterObject
)

// BaseShape holds the class, parent and accessor objects shared by a run of
// shapes. An owned base shape belongs to one dictionary object and links
// to the unowned base shape it was copied from.
type BaseShape struct {
	cellHeader
	clasp     *Class
	parent    *Object
	getterObj *Object
	setterObj *Object
	flags     baseShapeFlags
	unowned   *BaseShape
}

func (b *BaseShape) TraceKind() TraceKind { return TraceBaseShape }

func (b *BaseShape) Class() *Class         { return b.clasp }
func (b *BaseShape) Parent() *Object       { return b.parent }
func (b *BaseShape) IsOwned() bool         { return b.flags&baseOwned != 0 }
func (b *BaseShape) HasGetterObject() bool { return b.flags&baseHasGetterObject != 0 }
func (b *BaseShape) HasSetterObject() bool { return b.flags&baseHasSetterObject != 0 }
func (b *BaseShape) GetterObject() *Object { return b.getterObj }
func (b *BaseShape) SetterObject() *Object { return b.setterObj }
func (b *BaseShape) Unowned() *BaseShape   { return b.unowned }

func (b *BaseShape) assertConsistency() {
	if b.IsOwned() {
		assertf(b.unowned != nil && !b.unowned.IsOwned(), "owned base shape without unowned base")
		assertf(b.unowned.clasp == b.clasp && b.unowned.parent == b.parent, "owned base shape inconsistent with its unowned base")
	}
}

// NewBaseShape allocates an unowned base shape.
func (c *Compartment) NewBaseShape(clasp *Class, parent *Object) (*BaseShape, error) {
	b := &BaseShape{clasp: clasp, parent: parent}
	if err := c.allocateCell(AllocBaseShape, b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewAccessorBaseShape allocates a base shape carrying getter and/or setter
// objects.
func (c *Compartment) NewAccessorBaseShape(clasp *Class, parent, getter, setter *Object) (*BaseShape, error) {
	b := &BaseShape{clasp: clasp, parent: parent, getterObj: getter, setterObj: setter}
	if getter != nil {
		b.flags |= baseHasGetterObject
	}
	if setter != nil {
		b.flags |= baseHasSetterObject
	}
	if err := c.allocateCell(AllocBaseShape, b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewOwnedBaseShape allocates an owned copy of an unowned base shape.
func (c *Compartment) NewOwnedBaseShape(unowned *BaseShape) (*BaseShape, error) {
	assertf(!unowned.IsOwned(), "NewOwnedBaseShape: base shape is already owned")
	b := &BaseShape{
		clasp:     unowned.clasp,
		parent:    unowned.parent,
		getterObj: unowned.getterObj,
		setterObj: unowned.setterObj,
		flags:     unowned.flags | baseOwned,
		unowned:   unowned,
	}
	if err := c.allocateCell(AllocBaseShape, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Shape
// ---------------------------------------------------------------------------

// Shape records one property addition. Following previous leads back to the
// empty shape of the object's class.
type Shape struct {
	cellHeader
	base     *BaseShape
	propid   PropertyID
	slot     int
	previous *Shape
	slotSpan int
}

// invalidSlot marks shapes that own no slot: empty shapes and accessors.
const invalidSlot = -1

func (s *Shape) TraceKind() TraceKind { return TraceShape }

func (s *Shape) Base() *BaseShape   { return s.base }
func (s *Shape) PropID() PropertyID { return s.propid }
func (s *Shape) Slot() int          { return s.slot }
func (s *Shape) HasSlot() bool      { return s.slot != invalidSlot }
func (s *Shape) Previous() *Shape   { return s.previous }
func (s *Shape) SlotSpan() int      { return s.slotSpan }
func (s *Shape) IsEmptyShape() bool { return s.propid.IsVoid() }
func (s *Shape) Class() *Class      { return s.base.clasp }
func (s *Shape) IsNative() bool     { return s.base.clasp.IsNative() }

// Depth returns the number of shapes from s back to its empty shape.
func (s *Shape) Depth() int {
	n := 0
	for p := s; !p.IsEmptyShape(); p = p.previous {
		n++
	}
	return n
}

// Search looks up id along the previous chain.
func (s *Shape) Search(id PropertyID) *Shape {
	for p := s; p != nil && !p.IsEmptyShape(); p = p.previous {
		if p.propid == id {
			return p
		}
	}
	return nil
}

// NewEmptyShape allocates the root shape for objects of base's class.
func (c *Compartment) NewEmptyShape(base *BaseShape) (*Shape, error) {
	s := &Shape{
		base:     base,
		slot:     invalidSlot,
		slotSpan: base.clasp.ReservedSlots,
	}
	if err := c.allocateCell(AllocShape, s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewShape allocates a data property shape after previous. The property
// takes the next slot.
func (c *Compartment) NewShape(previous *Shape, id PropertyID) (*Shape, error) {
	assertf(!id.IsVoid(), "NewShape: void property id")
	s := &Shape{
		base:     previous.base,
		propid:   id,
		slot:     previous.slotSpan,
		previous: previous,
		slotSpan: previous.slotSpan + 1,
	}
	if err := c.allocateCell(AllocShape, s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewAccessorShape allocates an accessor property shape after previous. It
// takes no slot and carries its own base shape holding the accessors.
func (c *Compartment) NewAccessorShape(previous *Shape, id PropertyID, getter, setter *Object) (*Shape, error) {
	base, err := c.NewAccessorBaseShape(previous.base.clasp, previous.base.parent, getter, setter)
	if err != nil {
		return nil, err
	}
	s := &Shape{
		base:     base,
		propid:   id,
		slot:     invalidSlot,
		previous: previous,
		slotSpan: previous.slotSpan,
	}
	if err := c.allocateCell(AllocShape, s); err != nil {
		return nil, err
	}
	return s, nil
}

// initialShape returns the cached empty shape for the given class, proto,
// parent and fixed slot count.
func (c *Compartment) initialShape(clasp *Class, proto, parent *Object, nfixed int) (*Shape, error) {
	key := initialShapeKey{clasp: clasp, proto: proto, parent: parent, nfixed: nfixed}
	if s, ok := c.initialShapes[key]; ok {
		c.rt.cellBarrierPre(s)
		return s, nil
	}
	base, err := c.NewBaseShape(clasp, parent)
	if err != nil {
		return nil, err
	}
	s, err := c.NewEmptyShape(base)
	if err != nil {
		return nil, err
	}
	c.initialShapes[key] = s
	return s, nil
}
