package gc

// Compartment is an isolated region of the heap. Collections operate on a
// set of compartments; cells outside the set are never visited.
type Compartment struct {
	rt      *Runtime
	name    string
	isAtoms bool

	arenas ArenaLists
	global *Object

	collecting   bool
	needsBarrier bool

	// ActiveAnalysis keeps every singleton-typed object alive while a type
	// analysis is running in the compartment.
	ActiveAnalysis bool

	// Weak caches, swept after marking.
	initialShapes map[initialShapeKey]*Shape
	newTypes      map[newTypeKey]*TypeObject
}

type initialShapeKey struct {
	clasp  *Class
	proto  *Object
	parent *Object
	nfixed int
}

type newTypeKey struct {
	clasp *Class
	proto *Object
}

func newCompartment(rt *Runtime, name string) *Compartment {
	return &Compartment{
		rt:            rt,
		name:          name,
		initialShapes: make(map[initialShapeKey]*Shape),
		newTypes:      make(map[newTypeKey]*TypeObject),
	}
}

// Name returns the compartment's name.
func (c *Compartment) Name() string { return c.name }

// Runtime returns the owning runtime.
func (c *Compartment) Runtime() *Runtime { return c.rt }

// IsAtoms reports whether this is the runtime's atoms compartment.
func (c *Compartment) IsAtoms() bool { return c.isAtoms }

// Global returns the compartment's global object, if any.
func (c *Compartment) Global() *Object { return c.global }

// SetGlobal installs the global object. The global is a root for as long as
// the compartment exists.
func (c *Compartment) SetGlobal(obj *Object) {
	assertf(obj == nil || obj.Compartment() == c, "SetGlobal: object from compartment %q", obj.Compartment().name)
	c.global = obj
}

// Arenas returns the compartment's arena lists.
func (c *Compartment) Arenas() *ArenaLists { return &c.arenas }

// IsCollecting reports whether the compartment is in the current collection
// set.
func (c *Compartment) IsCollecting() bool { return c.collecting }

func (c *Compartment) isCollecting() bool { return c.collecting }

// NeedsBarrier reports whether incremental marking is in progress in the
// compartment, so pre-write barriers must run.
func (c *Compartment) NeedsBarrier() bool { return c.needsBarrier }

// CountCells returns the number of allocated cells of the given trace kind.
func (c *Compartment) CountCells(kind TraceKind) int {
	n := 0
	for k := AllocKind(0); k < AllocLimit; k++ {
		if k.TraceKind() != kind {
			continue
		}
		for a := c.arenas.heads[k]; a != nil; a = a.next {
			n += a.CountLive()
		}
	}
	return n
}

// CountAllCells returns the number of allocated cells of every kind.
func (c *Compartment) CountAllCells() int {
	n := 0
	for k := AllocKind(0); k < AllocLimit; k++ {
		for a := c.arenas.heads[k]; a != nil; a = a.next {
			n += a.CountLive()
		}
	}
	return n
}

// markRoots marks the compartment's own roots.
func (c *Compartment) markRoots(trc *Tracer) {
	if c.global != nil {
		MarkObjectRoot(trc, &c.global, "global")
	}
}

// sweepTables drops weak cache entries whose cells died.
func (c *Compartment) sweepTables() {
	for k, s := range c.initialShapes {
		if IsAboutToBeFinalized(s) || objectDying(k.proto) || objectDying(k.parent) {
			delete(c.initialShapes, k)
		}
	}
	for k, t := range c.newTypes {
		if IsAboutToBeFinalized(t) || objectDying(k.proto) {
			delete(c.newTypes, k)
		}
	}
}
