package vm

import (
	"math"
	"strconv"
)

// Value represents a snap value using NaN-boxing.
//
// All values are 64-bit IEEE 754 doubles. Non-number values live in the
// quiet NaN space with tag bits selecting the variant.
//
// Encoding scheme:
//   - Number: native IEEE 754 double (NaNs are canonicalised on entry)
//   - Object: quiet NaN + tagObject + 48-bit heap handle
//   - Special: quiet NaN + tagSpecial + special value ID (nil/true/false/empty)
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	signBit uint64 = 0x8000000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for handles and special IDs
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000 // heap handle
	tagSpecial uint64 = 0x0003000000000000 // nil, true, false, empty

	boxMask = signBit | nanBits | tagMask
)

// Special value payloads
const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
	specialEmpty uint64 = 3
)

// Pre-defined special values
const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)

	// Empty marks a deleted table slot. Bytecode never produces it.
	Empty Value = Value(nanBits | tagSpecial | specialEmpty)
)

// canonicalNaN is the bit pattern every NaN number is stored as.
const canonicalNaN uint64 = nanBits

// ValueKind discriminates the variants of Value.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindBool
	KindNumber
	KindObject
	KindEmpty
)

// Kind returns the variant of v.
func (v Value) Kind() ValueKind {
	switch {
	case v.IsNumber():
		return KindNumber
	case v.IsObject():
		return KindObject
	case v == True || v == False:
		return KindBool
	case v == Empty:
		return KindEmpty
	default:
		return KindNil
	}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNumber returns true if v holds a float64.
func (v Value) IsNumber() bool {
	bits := uint64(v)
	if bits&boxMask == nanBits|tagObject || bits&boxMask == nanBits|tagSpecial {
		return false
	}
	return true
}

// IsObject returns true if v holds a heap handle.
func (v Value) IsObject() bool {
	return uint64(v)&boxMask == nanBits|tagObject
}

// IsNil returns true if v is the nil value.
func (v Value) IsNil() bool {
	return v == Nil
}

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// IsEmpty returns true if v is the tombstone marker.
func (v Value) IsEmpty() bool {
	return v == Empty
}

// ---------------------------------------------------------------------------
// Number operations
// ---------------------------------------------------------------------------

// Number returns v as a float64.
// Panics if v is not a number.
func (v Value) Number() float64 {
	if !v.IsNumber() {
		panic("Value.Number: not a number")
	}
	return math.Float64frombits(uint64(v))
}

// FromNumber creates a Value from a float64.
func FromNumber(f float64) Value {
	if f != f {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// ---------------------------------------------------------------------------
// Object handle operations
// ---------------------------------------------------------------------------

// Handle returns the heap handle stored in v.
// Panics if v is not an object.
func (v Value) Handle() Handle {
	if !v.IsObject() {
		panic("Value.Handle: not an object")
	}
	return Handle(uint64(v) & payloadMask)
}

// FromHandle creates an object Value from a heap handle.
func FromHandle(h Handle) Value {
	return Value(nanBits | tagObject | (uint64(h) & payloadMask))
}

// ---------------------------------------------------------------------------
// Boolean operations
// ---------------------------------------------------------------------------

// Bool returns v as a bool.
// Panics if v is not true or false.
func (v Value) Bool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	default:
		panic("Value.Bool: not a boolean")
	}
}

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Truthiness
// ---------------------------------------------------------------------------

// IsFalsy returns true for nil and false.
func (v Value) IsFalsy() bool {
	return v == False || v == Nil
}

// IsTruthy returns true for everything except nil and false.
func (v Value) IsTruthy() bool {
	return !v.IsFalsy()
}

// formatNumber renders a number the way print shows it.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
