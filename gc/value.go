package gc

import (
	"math"
)

// Value represents a script value using NaN-boxing.
//
// All values are 64-bit IEEE 754 doubles. Non-double values are encoded in
// the quiet NaN space with a 3-bit tag and a 48-bit payload.
//
// Encoding scheme:
//   - Double: native IEEE 754 double (NaNs are canonicalized to tag 0)
//   - Int32: quiet NaN + tagInt + 32-bit signed payload
//   - Object: quiet NaN + tagObject + CellRef
//   - String: quiet NaN + tagString + CellRef
//   - Special: quiet NaN + tagSpecial + undefined/null/true/false
//   - Magic: quiet NaN + tagMagic + why (engine-internal sentinels)
//
// GC-thing payloads are CellRef handles, not pointers. A handle names an
// arena slot; the Runtime resolves it.
type Value uint64

const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for handle/int/id
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000
	tagInt     uint64 = 0x0002000000000000
	tagSpecial uint64 = 0x0003000000000000
	tagString  uint64 = 0x0004000000000000
	tagMagic   uint64 = 0x0005000000000000
)

const (
	specialUndefined uint64 = 0
	specialNull      uint64 = 1
	specialTrue      uint64 = 2
	specialFalse     uint64 = 3
)

// Pre-defined special values
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	True      Value = Value(nanBits | tagSpecial | specialTrue)
	False     Value = Value(nanBits | tagSpecial | specialFalse)
)

// MagicWhy identifies engine-internal sentinel values.
type MagicWhy uint32

const (
	MagicGeneratorClosing MagicWhy = iota + 1
	MagicArgsElided
	MagicOptimizedOut
)

// ---------------------------------------------------------------------------
// Cell references
// ---------------------------------------------------------------------------

// CellRef is a handle to an arena slot: the arena id in the high 32 bits and
// the slot index in the low 16 bits.
type CellRef uint64

const refIndexBits = 16

// MakeCellRef builds a handle for the given arena id and slot index.
func MakeCellRef(arenaID uint32, index int) CellRef {
	return CellRef(uint64(arenaID)<<refIndexBits | uint64(index))
}

// ArenaID returns the arena id half of the handle.
func (r CellRef) ArenaID() uint32 {
	return uint32(uint64(r) >> refIndexBits)
}

// Index returns the slot index half of the handle.
func (r CellRef) Index() int {
	return int(uint64(r) & (1<<refIndexBits - 1))
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsDouble returns true if v holds a double (including canonical NaN).
func (v Value) IsDouble() bool {
	bits := uint64(v)
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}
	if bits&0x000FFFFFFFFFFFFF == 0 {
		// +Inf or -Inf
		return true
	}
	if (bits & nanBits) != nanBits {
		return true
	}
	return bits&tagMask == 0
}

// IsInt32 returns true if v holds a 32-bit integer.
func (v Value) IsInt32() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagInt
}

// IsNumber returns true for doubles and int32s.
func (v Value) IsNumber() bool {
	return v.IsDouble() || v.IsInt32()
}

// IsObject returns true if v references an object cell.
func (v Value) IsObject() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagObject
}

// IsString returns true if v references a string cell.
func (v Value) IsString() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagString
}

// IsGCThing returns true if v references a cell.
func (v Value) IsGCThing() bool {
	return v.IsObject() || v.IsString()
}

// IsUndefined returns true if v is undefined.
func (v Value) IsUndefined() bool {
	return v == Undefined
}

// IsNull returns true if v is null.
func (v Value) IsNull() bool {
	return v == Null
}

// IsBoolean returns true if v is true or false.
func (v Value) IsBoolean() bool {
	return v == True || v == False
}

// IsMagic returns true if v is an engine-internal sentinel.
func (v Value) IsMagic() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagMagic
}

// IsPrimitive returns true for everything except objects.
func (v Value) IsPrimitive() bool {
	return !v.IsObject()
}

// ---------------------------------------------------------------------------
// Constructors and accessors
// ---------------------------------------------------------------------------

// DoubleValue boxes a float64. NaNs are canonicalized.
func DoubleValue(f float64) Value {
	if math.IsNaN(f) {
		return Value(nanBits)
	}
	return Value(math.Float64bits(f))
}

// Int32Value boxes a 32-bit integer.
func Int32Value(i int32) Value {
	return Value(nanBits | tagInt | uint64(uint32(i)))
}

// BooleanValue boxes a bool.
func BooleanValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// MagicValue boxes an engine sentinel.
func MagicValue(why MagicWhy) Value {
	return Value(nanBits | tagMagic | uint64(why))
}

// ObjectValue boxes a reference to obj. obj must not be nil.
func ObjectValue(obj *Object) Value {
	return Value(nanBits | tagObject | uint64(obj.Ref())&payloadMask)
}

// StringValue boxes a reference to str. str must not be nil.
func StringValue(str *String) Value {
	return Value(nanBits | tagString | uint64(str.Ref())&payloadMask)
}

// ObjectOrNullValue boxes obj, or returns Null when obj is nil.
func ObjectOrNullValue(obj *Object) Value {
	if obj == nil {
		return Null
	}
	return ObjectValue(obj)
}

// Double returns v as a float64.
// Panics if v is not a double.
func (v Value) Double() float64 {
	if !v.IsDouble() {
		panic("Value.Double: not a double")
	}
	return math.Float64frombits(uint64(v))
}

// Int32 returns v as an int32.
// Panics if v is not an int32.
func (v Value) Int32() int32 {
	if !v.IsInt32() {
		panic("Value.Int32: not an int32")
	}
	return int32(uint32(uint64(v) & 0xFFFFFFFF))
}

// Boolean returns v as a bool.
// Panics if v is not a boolean.
func (v Value) Boolean() bool {
	if !v.IsBoolean() {
		panic("Value.Boolean: not a boolean")
	}
	return v == True
}

// Magic returns the sentinel reason.
// Panics if v is not a magic value.
func (v Value) Magic() MagicWhy {
	if !v.IsMagic() {
		panic("Value.Magic: not a magic value")
	}
	return MagicWhy(uint64(v) & payloadMask)
}

// CellRef returns the handle of a GC-thing value.
// Panics if v does not reference a cell.
func (v Value) CellRef() CellRef {
	if !v.IsGCThing() {
		panic("Value.CellRef: not a GC thing")
	}
	return CellRef(uint64(v) & payloadMask)
}
