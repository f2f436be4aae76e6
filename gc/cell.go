package gc

import "fmt"

// ---------------------------------------------------------------------------
// Trace kinds
// ---------------------------------------------------------------------------

// TraceKind identifies how a cell's children are enumerated. The set is
// closed; TraceChildren switches over it.
type TraceKind uint8

const (
	TraceObject TraceKind = iota
	TraceString
	TraceScript
	TraceShape
	TraceBaseShape
	TraceTypeObject
	TraceXML
)

func (k TraceKind) String() string {
	switch k {
	case TraceObject:
		return "object"
	case TraceString:
		return "string"
	case TraceScript:
		return "script"
	case TraceShape:
		return "shape"
	case TraceBaseShape:
		return "base_shape"
	case TraceTypeObject:
		return "type_object"
	case TraceXML:
		return "xml"
	default:
		return fmt.Sprintf("TraceKind(%d)", uint8(k))
	}
}

// ---------------------------------------------------------------------------
// Allocation kinds
// ---------------------------------------------------------------------------

// AllocKind is the size class of a cell. Arenas hold cells of one kind.
type AllocKind uint8

const (
	AllocObject0 AllocKind = iota
	AllocObject2
	AllocObject4
	AllocObject8
	AllocObject12
	AllocObject16
	AllocScript
	AllocShape
	AllocBaseShape
	AllocTypeObject
	AllocXML
	AllocString
	AllocLimit
)

// Arena geometry, in bytes.
const (
	ArenaSize       = 4096
	ArenaHeaderSize = 64
	valueSize       = 8
	objectBaseSize  = 32
)

var allocKindNames = [AllocLimit]string{
	"object0", "object2", "object4", "object8", "object12", "object16",
	"script", "shape", "base_shape", "type_object", "xml", "string",
}

var allocKindFixedSlots = [AllocLimit]int{0, 2, 4, 8, 12, 16}

var thingSizes = [AllocLimit]int{
	AllocObject0:    objectBaseSize,
	AllocObject2:    objectBaseSize + 2*valueSize,
	AllocObject4:    objectBaseSize + 4*valueSize,
	AllocObject8:    objectBaseSize + 8*valueSize,
	AllocObject12:   objectBaseSize + 12*valueSize,
	AllocObject16:   objectBaseSize + 16*valueSize,
	AllocScript:     128,
	AllocShape:      40,
	AllocBaseShape:  64,
	AllocTypeObject: 64,
	AllocXML:        64,
	AllocString:     32,
}

func (k AllocKind) String() string {
	if k < AllocLimit {
		return allocKindNames[k]
	}
	return fmt.Sprintf("AllocKind(%d)", uint8(k))
}

// IsObject reports whether k is one of the object size classes.
func (k AllocKind) IsObject() bool {
	return k <= AllocObject16
}

// TraceKind maps an allocation kind to its trace kind.
func (k AllocKind) TraceKind() TraceKind {
	switch {
	case k.IsObject():
		return TraceObject
	case k == AllocScript:
		return TraceScript
	case k == AllocShape:
		return TraceShape
	case k == AllocBaseShape:
		return TraceBaseShape
	case k == AllocTypeObject:
		return TraceTypeObject
	case k == AllocXML:
		return TraceXML
	case k == AllocString:
		return TraceString
	}
	panic(fmt.Sprintf("AllocKind.TraceKind: bad kind %d", k))
}

// ThingSize is the fixed cell size of the kind.
func (k AllocKind) ThingSize() int {
	return thingSizes[k]
}

// ThingsPerArena is the number of cells of this kind one arena holds.
func (k AllocKind) ThingsPerArena() int {
	return (ArenaSize - ArenaHeaderSize) / thingSizes[k]
}

// FixedSlots returns the number of inline slots of an object kind.
func (k AllocKind) FixedSlots() int {
	if !k.IsObject() {
		return 0
	}
	return allocKindFixedSlots[k]
}

// ObjectAllocKind returns the smallest object kind with at least n fixed
// slots, capped at AllocObject16.
func ObjectAllocKind(n int) AllocKind {
	for k := AllocObject0; k <= AllocObject16; k++ {
		if allocKindFixedSlots[k] >= n {
			return k
		}
	}
	return AllocObject16
}

// ---------------------------------------------------------------------------
// Cells and mark bits
// ---------------------------------------------------------------------------

// MarkColor selects which mark bit a marking pass sets.
type MarkColor uint8

const (
	Black MarkColor = iota
	Gray
)

func (c MarkColor) String() string {
	if c == Gray {
		return "gray"
	}
	return "black"
}

const (
	markBitBlack uint8 = 1 << iota
	markBitGray
)

// cellHeader is embedded by every cell kind.
type cellHeader struct {
	arena *ArenaHeader
	index int
	marks uint8
}

func (h *cellHeader) header() *cellHeader { return h }

// Cell is a garbage-collected thing. Only the kinds in this package
// implement it.
type Cell interface {
	header() *cellHeader
	TraceKind() TraceKind
}

// Ref returns the cell's handle.
func (h *cellHeader) Ref() CellRef {
	return MakeCellRef(h.arena.id, h.index)
}

// Arena returns the arena holding the cell.
func (h *cellHeader) Arena() *ArenaHeader {
	return h.arena
}

// Compartment returns the compartment owning the cell's arena.
func (h *cellHeader) Compartment() *Compartment {
	return h.arena.comp
}

// AllocKind returns the cell's size class.
func (h *cellHeader) AllocKind() AllocKind {
	return h.arena.kind
}

// IsMarked reports whether the black bit is set. Gray marking sets both
// bits, so a gray cell is also marked.
func (h *cellHeader) IsMarked() bool {
	return h.marks&markBitBlack != 0
}

// IsMarkedGray reports whether the cell was reached only from gray roots.
func (h *cellHeader) IsMarkedGray() bool {
	return h.marks&markBitGray != 0
}

// markIfUnmarked sets the bits for color and reports whether anything
// changed. A black cell is never re-marked gray.
func (h *cellHeader) markIfUnmarked(color MarkColor) bool {
	if h.marks&markBitBlack != 0 {
		return false
	}
	h.marks |= markBitBlack
	if color == Gray {
		if h.marks&markBitGray != 0 {
			return false
		}
		h.marks |= markBitGray
	}
	return true
}

func (h *cellHeader) unmark() {
	h.marks = 0
}

func (h *cellHeader) isCollecting() bool {
	return h.arena.comp.isCollecting()
}

// IsMarked reports whether c is marked black.
func IsMarked(c Cell) bool {
	return c.header().IsMarked()
}

// CellCompartment returns the compartment of any cell.
func CellCompartment(c Cell) *Compartment {
	return c.header().arena.comp
}

// CellRefOf returns the handle of any cell.
func CellRefOf(c Cell) CellRef {
	return c.header().Ref()
}

// CellAllocKind returns the allocation kind of any cell.
func CellAllocKind(c Cell) AllocKind {
	return c.header().arena.kind
}
