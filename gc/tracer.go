package gc

import "strconv"

// ---------------------------------------------------------------------------
// Tracer
// ---------------------------------------------------------------------------

// TraceCallback receives every edge a callback tracer visits. It returns
// the thing to store back into the edge, normally thing itself.
type TraceCallback func(trc *Tracer, thing Cell, kind TraceKind) Cell

// Tracer visits the edges of the heap graph. The marking tracer belongs to
// the runtime's GCMarker; every other tracer carries a callback.
type Tracer struct {
	rt       *Runtime
	callback TraceCallback
	marker   *GCMarker

	edgeName  string
	edgeIndex int
}

// NewCallbackTracer returns a tracer that hands each edge to cb instead of
// marking.
func NewCallbackTracer(rt *Runtime, cb TraceCallback) *Tracer {
	assertf(cb != nil, "NewCallbackTracer: nil callback")
	return &Tracer{rt: rt, callback: cb, edgeIndex: -1}
}

// Runtime returns the runtime the tracer walks.
func (trc *Tracer) Runtime() *Runtime { return trc.rt }

// IsMarking reports whether the tracer is the collector's marking tracer.
func (trc *Tracer) IsMarking() bool { return trc.callback == nil }

// EdgeName describes the edge being visited, for callback tracers.
func (trc *Tracer) EdgeName() string {
	if trc.edgeIndex >= 0 {
		return trc.edgeName + "[" + strconv.Itoa(trc.edgeIndex) + "]"
	}
	return trc.edgeName
}

func (trc *Tracer) setEdge(name string, index int) {
	trc.edgeName = name
	trc.edgeIndex = index
}

// isNilCell reports whether c is nil or a typed nil pointer.
func isNilCell(c Cell) bool {
	switch t := c.(type) {
	case nil:
		return true
	case *Object:
		return t == nil
	case *String:
		return t == nil
	case *Script:
		return t == nil
	case *Shape:
		return t == nil
	case *BaseShape:
		return t == nil
	case *TypeObject:
		return t == nil
	case *XML:
		return t == nil
	}
	return false
}

func checkMarkedThing(trc *Tracer, thing Cell) {
	if !strictChecks {
		return
	}
	h := thing.header()
	assertf(h.arena != nil, "tracing unallocated %v", thing.TraceKind())
	assertf(h.arena.comp.rt == trc.rt, "tracing %v from another runtime", thing.TraceKind())
	assertf(h.arena.things[h.index] == thing, "tracing freed %v", thing.TraceKind())
}

// markThing is the single entry point every Mark function funnels into.
// Marking skips things outside the collection set; a callback tracer sees
// every edge and may replace the stored thing.
func markThing[T Cell](trc *Tracer, thingp *T, name string, index int) {
	thing := *thingp
	if isNilCell(thing) {
		return
	}
	checkMarkedThing(trc, thing)
	if trc.callback == nil {
		if thing.header().isCollecting() {
			trc.marker.pushCell(thing)
		}
		return
	}
	trc.setEdge(name, index)
	if r := trc.callback(trc, thing, thing.TraceKind()); !isNilCell(r) {
		*thingp = r.(T)
	}
	trc.setEdge("", -1)
}

// ---------------------------------------------------------------------------
// Mark entry points
// ---------------------------------------------------------------------------

// MarkObject marks a heap edge to an object. A nil edge is skipped.
func MarkObject(trc *Tracer, objp **Object, name string) {
	markThing(trc, objp, name, -1)
}

// MarkObjectRoot marks a root object.
func MarkObjectRoot(trc *Tracer, objp **Object, name string) {
	markThing(trc, objp, name, -1)
}

// MarkObjectUnbarriered marks an edge the holder does not barrier. The
// holder must store the result back.
func MarkObjectUnbarriered(trc *Tracer, objp **Object, name string) {
	markThing(trc, objp, name, -1)
}

// MarkString marks an edge to a string.
func MarkString(trc *Tracer, strp **String, name string) {
	markThing(trc, strp, name, -1)
}

// MarkStringRoot marks a root string.
func MarkStringRoot(trc *Tracer, strp **String, name string) {
	markThing(trc, strp, name, -1)
}

// MarkScript marks an edge to a script.
func MarkScript(trc *Tracer, scriptp **Script, name string) {
	markThing(trc, scriptp, name, -1)
}

// MarkScriptRoot marks a root script.
func MarkScriptRoot(trc *Tracer, scriptp **Script, name string) {
	markThing(trc, scriptp, name, -1)
}

// MarkShape marks an edge to a shape.
func MarkShape(trc *Tracer, shapep **Shape, name string) {
	markThing(trc, shapep, name, -1)
}

// MarkBaseShape marks an edge to a base shape.
func MarkBaseShape(trc *Tracer, basep **BaseShape, name string) {
	markThing(trc, basep, name, -1)
}

// MarkTypeObject marks an edge to a type object.
func MarkTypeObject(trc *Tracer, typep **TypeObject, name string) {
	markThing(trc, typep, name, -1)
}

// MarkXML marks an edge to an XML node.
func MarkXML(trc *Tracer, xmlp **XML, name string) {
	markThing(trc, xmlp, name, -1)
}

// MarkCell marks an edge of any kind. It returns the possibly replaced
// thing.
func MarkCell(trc *Tracer, c Cell, name string) Cell {
	markThing(trc, &c, name, -1)
	return c
}

// MarkValue marks the GC thing held by *vp, if any, and stores back the
// possibly replaced value.
func MarkValue(trc *Tracer, vp *Value, name string) {
	markValueIndexed(trc, vp, name, -1)
}

// MarkValueRoot marks a root value.
func MarkValueRoot(trc *Tracer, vp *Value, name string) {
	markValueIndexed(trc, vp, name, -1)
}

// MarkValueRange marks every value of vals.
func MarkValueRange(trc *Tracer, vals []Value, name string) {
	for i := range vals {
		markValueIndexed(trc, &vals[i], name, i)
	}
}

// MarkValueRootRange marks a range of root values.
func MarkValueRootRange(trc *Tracer, vals []Value, name string) {
	MarkValueRange(trc, vals, name)
}

func markValueIndexed(trc *Tracer, vp *Value, name string, index int) {
	v := *vp
	switch {
	case v.IsObject():
		obj := trc.rt.ObjectOf(v)
		markThing(trc, &obj, name, index)
		*vp = ObjectValue(obj)
	case v.IsString():
		str := trc.rt.StringOf(v)
		markThing(trc, &str, name, index)
		*vp = StringValue(str)
	}
}

// MarkID marks the atom or object a property id names.
func MarkID(trc *Tracer, idp *PropertyID, name string) {
	switch idp.kind {
	case idString:
		markThing(trc, &idp.str, name, -1)
	case idObject:
		markThing(trc, &idp.obj, name, -1)
	}
}

// ---------------------------------------------------------------------------
// Child enumeration
// ---------------------------------------------------------------------------

// TraceChildren visits every outgoing edge of thing. Dispatch is a closed
// switch over the cell kinds.
func TraceChildren(trc *Tracer, thing Cell) {
	switch t := thing.(type) {
	case *Object:
		markObjectChildren(trc, t)
	case *String:
		markStringChildren(trc, t)
	case *Script:
		markScriptChildren(trc, t)
	case *Shape:
		markShapeChildren(trc, t)
	case *BaseShape:
		markBaseShapeChildren(trc, t)
	case *TypeObject:
		markTypeObjectChildren(trc, t)
	case *XML:
		markXMLChildren(trc, t)
	default:
		assertf(false, "TraceChildren: unknown cell %T", thing)
	}
}

func markObjectChildren(trc *Tracer, obj *Object) {
	MarkTypeObject(trc, &obj.typ, "type")
	MarkShape(trc, &obj.shape, "shape")

	clasp := obj.Class()
	if clasp.Trace != nil {
		clasp.Trace(trc, obj)
	}
	if obj.shape.IsNative() {
		fixed, dynamic := obj.Slots()
		MarkValueRange(trc, fixed, "fixed_slot")
		MarkValueRange(trc, dynamic, "dynamic_slot")
	}
}

func markStringChildren(trc *Tracer, str *String) {
	if str.HasBase() {
		MarkString(trc, &str.base, "base")
	} else if str.IsRope() {
		MarkString(trc, &str.left, "left child")
		MarkString(trc, &str.right, "right child")
	}
}

func markScriptChildren(trc *Tracer, script *Script) {
	for i := range script.atoms {
		markThing(trc, &script.atoms[i], "atoms", i)
	}
	for i := range script.objects {
		markThing(trc, &script.objects[i], "objects", i)
	}
	MarkValueRange(trc, script.consts, "consts")
	MarkObject(trc, &script.function, "function")
}

func markShapeChildren(trc *Tracer, shape *Shape) {
	MarkBaseShape(trc, &shape.base, "base")
	MarkID(trc, &shape.propid, "propid")
	MarkShape(trc, &shape.previous, "parent")
}

func markBaseShapeChildren(trc *Tracer, base *BaseShape) {
	if base.HasGetterObject() {
		MarkObjectUnbarriered(trc, &base.getterObj, "getter")
	}
	if base.HasSetterObject() {
		MarkObjectUnbarriered(trc, &base.setterObj, "setter")
	}
	if base.parent != nil {
		MarkObject(trc, &base.parent, "parent")
	} else if g := base.Compartment().global; g != nil {
		MarkObjectUnbarriered(trc, &g, "global")
	}
	if base.IsOwned() {
		MarkBaseShape(trc, &base.unowned, "base")
	}
}

func markTypeObjectChildren(trc *Tracer, t *TypeObject) {
	for i := range t.props {
		MarkID(trc, &t.props[i], "type_prop")
	}
	MarkObject(trc, &t.proto, "type_proto")
	if t.singleton != nil && !t.lazy {
		MarkObject(trc, &t.singleton, "type_singleton")
	}
	if t.newScript != nil {
		MarkObject(trc, &t.newScript.Fun, "type_new_function")
		MarkShape(trc, &t.newScript.Shape, "type_new_shape")
	}
	MarkObject(trc, &t.interpretedFunction, "type_function")
}

func markXMLChildren(trc *Tracer, x *XML) {
	MarkString(trc, &x.name, "xml_name")
	MarkObject(trc, &x.object, "xml_object")
	MarkXML(trc, &x.parent, "xml_parent")
	for i := range x.kids {
		markThing(trc, &x.kids[i], "xml_kids", i)
	}
}

// ---------------------------------------------------------------------------
// Sweep queries
// ---------------------------------------------------------------------------

// IsAboutToBeFinalized reports whether thing is in the collection set and
// was not reached by marking. Weak tables use it after marking finishes.
func IsAboutToBeFinalized(thing Cell) bool {
	if isNilCell(thing) {
		return false
	}
	h := thing.header()
	return h.isCollecting() && !h.IsMarked()
}

func objectDying(obj *Object) bool {
	return obj != nil && IsAboutToBeFinalized(obj)
}
