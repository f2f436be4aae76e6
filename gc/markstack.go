package gc

// ---------------------------------------------------------------------------
// Mark stack entries
// ---------------------------------------------------------------------------

// stackTag discriminates mark stack entries. The set is closed.
type stackTag uint8

const (
	valueArrayTag stackTag = iota
	objectTag
	typeTag
	xmlTag
	savedValueArrayTag
	arenaTag

	// ropeTag entries exist only while scanRope runs and are always popped
	// before it returns.
	ropeTag
)

func (t stackTag) String() string {
	switch t {
	case valueArrayTag:
		return "value_array"
	case objectTag:
		return "object"
	case typeTag:
		return "type"
	case xmlTag:
		return "xml"
	case savedValueArrayTag:
		return "saved_value_array"
	case arenaTag:
		return "arena"
	case ropeTag:
		return "rope"
	}
	return "invalid"
}

// words is the capacity the entry consumes. Value-array entries carry the
// object plus a two-word range; everything else is a single tagged word.
func (t stackTag) words() int {
	if t == valueArrayTag || t == savedValueArrayTag {
		return 3
	}
	return 1
}

// slotRegion says which storage of an object a value-array entry covers.
type slotRegion uint8

const (
	regionFixed slotRegion = iota
	regionDynamic
	regionElements
)

// markItem is one mark stack entry.
//
//	objectTag           cell = *Object
//	typeTag             cell = *TypeObject
//	xmlTag              cell = *XML
//	ropeTag             cell = *String
//	arenaTag            arena = first arena of the list to scan
//	valueArrayTag       cell = owner, region, index = slot index of vals[0],
//	                    vals = live view of the remaining values
//	savedValueArrayTag  cell = owner, index = slot index, clasp = owner's
//	                    class when saved
type markItem struct {
	tag    stackTag
	region slotRegion
	cell   Cell
	arena  *ArenaHeader
	vals   []Value
	index  int
	clasp  *Class
}

// ---------------------------------------------------------------------------
// MarkStack
// ---------------------------------------------------------------------------

// Default mark stack sizes, in words.
const (
	DefaultMarkStackInitial = 1024
	DefaultMarkStackLimit   = 32768
)

// MarkStack is a bounded LIFO of mark entries. Capacity is counted in words
// and grows by doubling up to the limit; a push that does not fit fails and
// the caller falls back to delayed marking.
type MarkStack struct {
	items    []markItem
	words    int
	capacity int
	limit    int
}

func newMarkStack(initial, limit int) *MarkStack {
	if limit <= 0 {
		limit = DefaultMarkStackLimit
	}
	if initial <= 0 || initial > limit {
		initial = min(DefaultMarkStackInitial, limit)
	}
	return &MarkStack{
		items:    make([]markItem, 0, initial),
		capacity: initial,
		limit:    limit,
	}
}

// IsEmpty reports whether no entries are pending.
func (s *MarkStack) IsEmpty() bool {
	return len(s.items) == 0
}

// Len returns the number of entries.
func (s *MarkStack) Len() int {
	return len(s.items)
}

// Words returns the capacity in use.
func (s *MarkStack) Words() int {
	return s.words
}

// Limit returns the maximum capacity in words.
func (s *MarkStack) Limit() int {
	return s.limit
}

// SetLimit changes the maximum capacity. It must not be called while
// entries are pending.
func (s *MarkStack) SetLimit(limit int) {
	assertf(s.IsEmpty(), "MarkStack.SetLimit: stack holds %d entries", len(s.items))
	if limit <= 0 {
		limit = DefaultMarkStackLimit
	}
	s.limit = limit
	s.capacity = min(s.capacity, limit)
}

func (s *MarkStack) position() int {
	return len(s.items)
}

// enlarge doubles capacity up to the limit.
func (s *MarkStack) enlarge(need int) bool {
	if s.capacity >= s.limit {
		return false
	}
	c := s.capacity * 2
	if c < s.words+need {
		c = s.words + need
	}
	if c > s.limit {
		c = s.limit
	}
	if s.words+need > c {
		return false
	}
	s.capacity = c
	return true
}

func (s *MarkStack) push(it markItem) bool {
	w := it.tag.words()
	if s.words+w > s.capacity && !s.enlarge(w) {
		return false
	}
	s.items = append(s.items, it)
	s.words += w
	return true
}

func (s *MarkStack) pop() markItem {
	assertf(len(s.items) > 0, "MarkStack.pop: empty stack")
	n := len(s.items) - 1
	it := s.items[n]
	s.items[n] = markItem{}
	s.items = s.items[:n]
	s.words -= it.tag.words()
	return it
}

// reset drops every entry and shrinks capacity back to initial.
func (s *MarkStack) reset(initial int) {
	clear(s.items)
	s.items = s.items[:0]
	s.words = 0
	if initial > 0 && initial <= s.limit {
		s.capacity = initial
	}
}
