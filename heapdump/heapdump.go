// Package heapdump captures the heap graph of a runtime: every cell
// reachable from the roots, with its kind and outgoing edges. A dump can be
// encoded as canonical CBOR or written as text, and TakeCensus counts the
// cells of every compartment whether reachable or not.
package heapdump

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/marrow/gc"
)

var log = commonlog.GetLogger("marrow.heapdump")

// ErrHeapBusy is returned when a dump is requested from inside the
// collector.
var ErrHeapBusy = errors.New("heapdump: heap is busy")

// Edge is a named reference to a cell.
type Edge struct {
	Name   string `cbor:"1,keyasint"`
	Target uint64 `cbor:"2,keyasint"`
}

// Node is one reachable cell. Ref is its cell handle.
type Node struct {
	Ref         uint64 `cbor:"1,keyasint"`
	Kind        string `cbor:"2,keyasint"`
	Class       string `cbor:"3,keyasint,omitempty"` // objects only
	Compartment string `cbor:"4,keyasint"`
	Edges       []Edge `cbor:"5,keyasint,omitempty"`
}

// Dump is a snapshot of the reachable heap. Nodes are in discovery order,
// breadth first from the roots.
type Dump struct {
	ID    uuid.UUID `cbor:"1,keyasint"`
	Taken int64     `cbor:"2,keyasint"` // unix nanoseconds
	Roots []Edge    `cbor:"3,keyasint"`
	Nodes []Node    `cbor:"4,keyasint"`

	index map[uint64]int
}

type capture struct {
	seen    map[gc.CellRef]bool
	pending []gc.Cell
	edges   []Edge
}

func (c *capture) edge(trc *gc.Tracer, thing gc.Cell, _ gc.TraceKind) gc.Cell {
	ref := gc.CellRefOf(thing)
	c.edges = append(c.edges, Edge{Name: trc.EdgeName(), Target: uint64(ref)})
	if !c.seen[ref] {
		c.seen[ref] = true
		c.pending = append(c.pending, thing)
	}
	return thing
}

func (c *capture) take() []Edge {
	edges := c.edges
	c.edges = nil
	return edges
}

// Capture walks the heap of rt from its roots. It must not be called while
// the collector is running a slice.
func Capture(rt *gc.Runtime) (*Dump, error) {
	if rt.IsHeapBusy() {
		return nil, ErrHeapBusy
	}
	start := time.Now()
	c := &capture{seen: make(map[gc.CellRef]bool)}
	trc := gc.NewCallbackTracer(rt, c.edge)

	d := &Dump{ID: uuid.New(), Taken: start.UnixNano()}
	if err := rt.TraceRuntime(trc); err != nil {
		return nil, fmt.Errorf("heapdump: tracing roots: %w", err)
	}
	d.Roots = c.take()

	for i := 0; i < len(c.pending); i++ {
		thing := c.pending[i]
		gc.TraceChildren(trc, thing)
		d.Nodes = append(d.Nodes, describe(thing, c.take()))
	}
	log.Debugf("captured %d cells from %d root edges in %s", len(d.Nodes), len(d.Roots), time.Since(start))
	return d, nil
}

func describe(thing gc.Cell, edges []Edge) Node {
	n := Node{
		Ref:         uint64(gc.CellRefOf(thing)),
		Kind:        thing.TraceKind().String(),
		Compartment: gc.CellCompartment(thing).Name(),
		Edges:       edges,
	}
	if obj, ok := thing.(*gc.Object); ok {
		n.Class = obj.Class().Name
	}
	return n
}

// Lookup returns the node for a cell handle.
func (d *Dump) Lookup(ref uint64) (*Node, bool) {
	if d.index == nil {
		d.index = make(map[uint64]int, len(d.Nodes))
		for i := range d.Nodes {
			d.index[d.Nodes[i].Ref] = i
		}
	}
	i, ok := d.index[ref]
	if !ok {
		return nil, false
	}
	return &d.Nodes[i], true
}

// PathTo returns the edge names of a shortest path from a root to ref, the
// root's name first, or nil when ref is unreachable.
func (d *Dump) PathTo(ref uint64) []string {
	type step struct {
		name string
		prev uint64
		root bool
	}
	from := make(map[uint64]step)
	queue := make([]uint64, 0, len(d.Roots))
	for _, e := range d.Roots {
		if _, ok := from[e.Target]; !ok {
			from[e.Target] = step{name: e.Name, root: true}
			queue = append(queue, e.Target)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == ref {
			break
		}
		n, ok := d.Lookup(cur)
		if !ok {
			continue
		}
		for _, e := range n.Edges {
			if _, ok := from[e.Target]; !ok {
				from[e.Target] = step{name: e.Name, prev: cur}
				queue = append(queue, e.Target)
			}
		}
	}

	s, ok := from[ref]
	if !ok {
		return nil
	}
	var path []string
	for {
		path = append(path, s.name)
		if s.root {
			break
		}
		s = from[s.prev]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
