package gc

// Script is compiled code. The compiler is outside the collector; a script
// only exposes the GC things it holds: its atoms, nested objects (functions
// and regexps), constant values and the function it is the body of.
type Script struct {
	cellHeader
	Filename string
	Lineno   int

	// NumVars is the number of local variable slots a frame for the script
	// reserves; NumSlots is its maximum operand stack depth.
	NumVars  int
	NumSlots int
	Strict   bool

	atoms    []*String
	objects  []*Object
	consts   []Value
	function *Object
}

func (s *Script) TraceKind() TraceKind { return TraceScript }

func (s *Script) Atoms() []*String   { return s.atoms }
func (s *Script) Objects() []*Object { return s.objects }
func (s *Script) Consts() []Value    { return s.consts }
func (s *Script) Function() *Object  { return s.function }

// AddAtom appends an atom and returns its index.
func (s *Script) AddAtom(a *String) int {
	s.atoms = append(s.atoms, a)
	return len(s.atoms) - 1
}

// AddObject appends a nested object and returns its index.
func (s *Script) AddObject(obj *Object) int {
	s.objects = append(s.objects, obj)
	return len(s.objects) - 1
}

// AddConst appends a constant and returns its index.
func (s *Script) AddConst(v Value) int {
	s.consts = append(s.consts, v)
	return len(s.consts) - 1
}

// SetFunction records the function whose body the script is.
func (s *Script) SetFunction(fun *Object) {
	if s.function != nil {
		s.arena.comp.rt.cellBarrierPre(s.function)
	}
	s.function = fun
}

// NewScript allocates an empty script.
func (c *Compartment) NewScript(filename string, lineno, nvars, nslots int) (*Script, error) {
	s := &Script{
		Filename: filename,
		Lineno:   lineno,
		NumVars:  nvars,
		NumSlots: nslots,
	}
	if err := c.allocateCell(AllocScript, s); err != nil {
		return nil, err
	}
	return s, nil
}
