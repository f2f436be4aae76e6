package heapdump

import "github.com/chazu/marrow/gc"

// Census counts the allocated cells of every compartment, by allocation
// kind and, for objects, by class. Unreachable cells not yet swept are
// counted too.
type Census struct {
	Compartments []CompartmentCensus `cbor:"1,keyasint"`
}

// CompartmentCensus is the census of one compartment.
type CompartmentCensus struct {
	Name    string         `cbor:"1,keyasint"`
	Arenas  int            `cbor:"2,keyasint"`
	Cells   map[string]int `cbor:"3,keyasint"`
	Classes map[string]int `cbor:"4,keyasint,omitempty"`
}

// Total returns the number of cells counted in the compartment.
func (cc *CompartmentCensus) Total() int {
	n := 0
	for _, c := range cc.Cells {
		n += c
	}
	return n
}

// Compartment returns the census of the named compartment.
func (c *Census) Compartment(name string) (*CompartmentCensus, bool) {
	for i := range c.Compartments {
		if c.Compartments[i].Name == name {
			return &c.Compartments[i], true
		}
	}
	return nil, false
}

// TakeCensus counts the cells of rt, the atoms compartment first.
func TakeCensus(rt *gc.Runtime) *Census {
	comps := append([]*gc.Compartment{rt.AtomsCompartment()}, rt.Compartments()...)
	c := &Census{Compartments: make([]CompartmentCensus, 0, len(comps))}
	for _, comp := range comps {
		c.Compartments = append(c.Compartments, countCompartment(comp))
	}
	return c
}

func countCompartment(comp *gc.Compartment) CompartmentCensus {
	cc := CompartmentCensus{
		Name:    comp.Name(),
		Cells:   make(map[string]int),
		Classes: make(map[string]int),
	}
	lists := comp.Arenas()
	for kind := gc.AllocKind(0); kind < gc.AllocLimit; kind++ {
		first := lists.First(kind)
		if first == nil {
			continue
		}
		cc.Arenas += lists.Count(kind)
		for it := gc.NewArenaListCellIter(first); !it.Done(); it.Next() {
			cc.Cells[kind.String()]++
			if obj, ok := it.Get().(*gc.Object); ok {
				cc.Classes[obj.Class().Name]++
			}
		}
	}
	return cc
}
