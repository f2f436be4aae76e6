package gc

// NewScript records the constructor function and initial shape of objects
// created by `new` on an interpreted function.
type NewScript struct {
	Fun   *Object
	Shape *Shape
}

// TypeObject describes the objects sharing a class and prototype, or a
// single object when it has a singleton type.
type TypeObject struct {
	cellHeader
	clasp *Class
	proto *Object
	props []PropertyID

	singleton           *Object
	lazy                bool
	newScript           *NewScript
	interpretedFunction *Object
}

func (t *TypeObject) TraceKind() TraceKind { return TraceTypeObject }

func (t *TypeObject) Class() *Class                { return t.clasp }
func (t *TypeObject) Proto() *Object               { return t.proto }
func (t *TypeObject) Singleton() *Object           { return t.singleton }
func (t *TypeObject) IsLazy() bool                 { return t.lazy }
func (t *TypeObject) NewScript() *NewScript        { return t.newScript }
func (t *TypeObject) InterpretedFunction() *Object { return t.interpretedFunction }

// Properties returns the ids of properties observed on the type.
func (t *TypeObject) Properties() []PropertyID {
	return t.props
}

// AddProperty records id on the type once.
func (t *TypeObject) AddProperty(id PropertyID) {
	for _, p := range t.props {
		if p == id {
			return
		}
	}
	t.props = append(t.props, id)
}

// SetLazy marks a singleton type whose singleton is not yet known to the
// type, so it is not traced through the type.
func (t *TypeObject) SetLazy(lazy bool) {
	t.lazy = lazy
}

// SetNewScript installs the `new` data for the type.
func (t *TypeObject) SetNewScript(fun *Object, shape *Shape) {
	rt := t.arena.comp.rt
	if t.newScript != nil {
		rt.cellBarrierPre(t.newScript.Fun)
		rt.cellBarrierPre(t.newScript.Shape)
	}
	if fun == nil {
		t.newScript = nil
		return
	}
	t.newScript = &NewScript{Fun: fun, Shape: shape}
}

// SetInterpretedFunction records the function a function object's type
// belongs to.
func (t *TypeObject) SetInterpretedFunction(fun *Object) {
	if t.interpretedFunction != nil {
		t.arena.comp.rt.cellBarrierPre(t.interpretedFunction)
	}
	t.interpretedFunction = fun
}

// NewTypeObject allocates an uncached type object.
func (c *Compartment) NewTypeObject(clasp *Class, proto *Object) (*TypeObject, error) {
	t := &TypeObject{clasp: clasp, proto: proto}
	if err := c.allocateCell(AllocTypeObject, t); err != nil {
		return nil, err
	}
	return t, nil
}

// getNewType returns the shared type for objects of clasp with proto.
func (c *Compartment) getNewType(clasp *Class, proto *Object) (*TypeObject, error) {
	key := newTypeKey{clasp: clasp, proto: proto}
	if t, ok := c.newTypes[key]; ok {
		c.rt.cellBarrierPre(t)
		return t, nil
	}
	t, err := c.NewTypeObject(clasp, proto)
	if err != nil {
		return nil, err
	}
	c.newTypes[key] = t
	return t, nil
}
