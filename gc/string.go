package gc

import (
	"strconv"
	"strings"
)

type stringKind uint8

const (
	stringFlat stringKind = iota
	stringDependent
	stringRope
	stringAtom
)

// String is an immutable script string. Linear strings hold their
// characters; a dependent string shares them with its base. A rope is an
// unflattened concatenation of two strings.
type String struct {
	cellHeader
	kind   stringKind
	chars  string
	length int
	base   *String
	left   *String
	right  *String
	pinned bool
}

func (s *String) TraceKind() TraceKind { return TraceString }

// Length returns the number of characters.
func (s *String) Length() int { return s.length }

// IsRope reports whether s is a concatenation node.
func (s *String) IsRope() bool { return s.kind == stringRope }

// IsLinear reports whether s holds its characters contiguously.
func (s *String) IsLinear() bool { return s.kind != stringRope }

// IsAtom reports whether s is interned in the runtime's atom table.
func (s *String) IsAtom() bool { return s.kind == stringAtom }

// IsPinned reports whether s is an atom kept alive regardless of
// reachability.
func (s *String) IsPinned() bool { return s.pinned }

// HasBase reports whether s is a dependent string.
func (s *String) HasBase() bool { return s.kind == stringDependent }

// Base returns the string a dependent string shares characters with.
func (s *String) Base() *String {
	assertf(s.HasBase(), "String.Base on string without base")
	return s.base
}

// Left returns a rope's left child.
func (s *String) Left() *String {
	assertf(s.IsRope(), "String.Left on linear string")
	return s.left
}

// Right returns a rope's right child.
func (s *String) Right() *String {
	assertf(s.IsRope(), "String.Right on linear string")
	return s.right
}

// Chars returns the string's characters. Ropes are concatenated with an
// explicit stack; the rope itself is left unflattened.
func (s *String) Chars() string {
	if s.IsLinear() {
		return s.chars
	}
	var b strings.Builder
	b.Grow(s.length)
	stack := []*String{s}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsLinear() {
			b.WriteString(n.chars)
			continue
		}
		stack = append(stack, n.right, n.left)
	}
	return b.String()
}

func (s *String) describe() string {
	if s.IsRope() {
		return "<rope:" + strconv.Itoa(s.length) + ">"
	}
	return s.chars
}

// NewString allocates a flat string.
func (c *Compartment) NewString(chars string) (*String, error) {
	s := &String{kind: stringFlat, chars: chars, length: len(chars)}
	if err := c.allocateCell(AllocString, s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewDependentString allocates a string sharing length characters of base
// starting at start.
func (c *Compartment) NewDependentString(base *String, start, length int) (*String, error) {
	assertf(base.IsLinear(), "NewDependentString: base is a rope")
	assertf(start >= 0 && start+length <= base.length, "NewDependentString: [%d,%d) outside base of length %d", start, start+length, base.length)
	s := &String{
		kind:   stringDependent,
		chars:  base.chars[start : start+length],
		length: length,
		base:   base,
	}
	if err := c.allocateCell(AllocString, s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRope allocates the concatenation of left and right.
func (c *Compartment) NewRope(left, right *String) (*String, error) {
	s := &String{
		kind:   stringRope,
		length: left.length + right.length,
		left:   left,
		right:  right,
	}
	if err := c.allocateCell(AllocString, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Atoms
// ---------------------------------------------------------------------------

// Atomize returns the interned string for chars, allocating it in the atoms
// compartment on first use.
func (rt *Runtime) Atomize(chars string) (*String, error) {
	if s, ok := rt.atoms[chars]; ok {
		rt.cellBarrierPre(s)
		return s, nil
	}
	s := &String{kind: stringAtom, chars: chars, length: len(chars)}
	if err := rt.atomsComp.allocateCell(AllocString, s); err != nil {
		return nil, err
	}
	rt.atoms[chars] = s
	return s, nil
}

// PinAtom interns chars and keeps the atom alive for the runtime's
// lifetime.
func (rt *Runtime) PinAtom(chars string) (*String, error) {
	s, err := rt.Atomize(chars)
	if err != nil {
		return nil, err
	}
	s.pinned = true
	return s, nil
}

// AtomCount returns the number of interned strings.
func (rt *Runtime) AtomCount() int {
	return len(rt.atoms)
}

// markAtoms marks the pinned atoms.
func (rt *Runtime) markAtoms(trc *Tracer) {
	for _, s := range rt.atoms {
		if s.pinned {
			atom := s
			MarkStringRoot(trc, &atom, "pinned_atom")
		}
	}
}

// sweepAtoms drops unmarked atoms from the atom table.
func (rt *Runtime) sweepAtoms() {
	for k, s := range rt.atoms {
		if IsAboutToBeFinalized(s) {
			delete(rt.atoms, k)
		}
	}
}
