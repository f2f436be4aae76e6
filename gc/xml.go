package gc

// XML is the legacy XML node kind. Only its edges matter to the collector:
// the qualified name, the wrapping object, the parent node and the kids.
type XML struct {
	cellHeader
	name   *String
	object *Object
	parent *XML
	kids   []*XML
}

func (x *XML) TraceKind() TraceKind { return TraceXML }

func (x *XML) Name() *String   { return x.name }
func (x *XML) Object() *Object { return x.object }
func (x *XML) Parent() *XML    { return x.parent }
func (x *XML) Kids() []*XML    { return x.kids }

// SetObject attaches the script object wrapping the node.
func (x *XML) SetObject(obj *Object) {
	if x.object != nil {
		x.arena.comp.rt.cellBarrierPre(x.object)
	}
	x.object = obj
}

// AppendChild adds kid as the last child of x.
func (x *XML) AppendChild(kid *XML) {
	if kid.parent != nil {
		x.arena.comp.rt.cellBarrierPre(kid.parent)
	}
	kid.parent = x
	x.kids = append(x.kids, kid)
}

// NewXML allocates a node named name.
func (c *Compartment) NewXML(name *String) (*XML, error) {
	x := &XML{name: name}
	if err := c.allocateCell(AllocXML, x); err != nil {
		return nil, err
	}
	return x, nil
}
