package utf

import "fmt"

// ElementType is the wire type tag of a page column value.
type ElementType uint8

// Element type tags, fixed by the wire format.
const (
	TypeI8     ElementType = 0x10
	TypeU8     ElementType = 0x11
	TypeI16    ElementType = 0x12
	TypeU16    ElementType = 0x13
	TypeI32    ElementType = 0x14
	TypeU32    ElementType = 0x15
	TypeI64    ElementType = 0x16
	TypeU64    ElementType = 0x17
	TypeF32    ElementType = 0x18
	TypeF64    ElementType = 0x19
	TypeString ElementType = 0x1A
	TypeBytes  ElementType = 0x1B
)

// fixedSize returns the on-disk size of the element's array-cell
// representation. For String/Bytes that is the size of the pool
// offsets (4 and 8 bytes respectively); their true payload lives in
// the string/byte pool.
func (t ElementType) fixedSize() (int, error) {
	switch t {
	case TypeI8, TypeU8:
		return 1, nil
	case TypeI16, TypeU16:
		return 2, nil
	case TypeI32, TypeU32, TypeF32:
		return 4, nil
	case TypeI64, TypeU64, TypeF64:
		return 8, nil
	case TypeString:
		return 4, nil
	case TypeBytes:
		return 8, nil
	default:
		return 0, fmt.Errorf("unknown element type %#x", uint8(t))
	}
}

func (t ElementType) String() string {
	switch t {
	case TypeI8:
		return "I8"
	case TypeU8:
		return "U8"
	case TypeI16:
		return "I16"
	case TypeU16:
		return "U16"
	case TypeI32:
		return "I32"
	case TypeU32:
		return "U32"
	case TypeI64:
		return "I64"
	case TypeU64:
		return "U64"
	case TypeF32:
		return "F32"
	case TypeF64:
		return "F64"
	case TypeString:
		return "String"
	case TypeBytes:
		return "Bytes"
	default:
		return fmt.Sprintf("ElementType(%#x)", uint8(t))
	}
}

// Element is a single typed leaf value inside a Page.
type Element struct {
	Type  ElementType
	value any
}

// I64 and the other typed accessors below report whether the element
// actually carries the requested Go type. Round-tripping a page always
// goes through the accessor matching Type, so callers should switch on
// Type rather than guess.

// I8 returns the element's value as int8, and whether Type is TypeI8.
func (e Element) I8() (int8, bool) { v, ok := e.value.(int8); return v, ok && e.Type == TypeI8 }

// U8 returns the element's value as uint8, and whether Type is TypeU8.
func (e Element) U8() (uint8, bool) { v, ok := e.value.(uint8); return v, ok && e.Type == TypeU8 }

// I16 returns the element's value as int16, and whether Type is TypeI16.
func (e Element) I16() (int16, bool) { v, ok := e.value.(int16); return v, ok && e.Type == TypeI16 }

// U16 returns the element's value as uint16, and whether Type is TypeU16.
func (e Element) U16() (uint16, bool) { v, ok := e.value.(uint16); return v, ok && e.Type == TypeU16 }

// I32 returns the element's value as int32, and whether Type is TypeI32.
func (e Element) I32() (int32, bool) { v, ok := e.value.(int32); return v, ok && e.Type == TypeI32 }

// U32 returns the element's value as uint32, and whether Type is TypeU32.
func (e Element) U32() (uint32, bool) { v, ok := e.value.(uint32); return v, ok && e.Type == TypeU32 }

// I64 returns the element's value as int64, and whether Type is TypeI64.
func (e Element) I64() (int64, bool) { v, ok := e.value.(int64); return v, ok && e.Type == TypeI64 }

// U64 returns the element's value as uint64, and whether Type is TypeU64.
func (e Element) U64() (uint64, bool) { v, ok := e.value.(uint64); return v, ok && e.Type == TypeU64 }

// F32 returns the element's value as float32, and whether Type is TypeF32.
func (e Element) F32() (float32, bool) { v, ok := e.value.(float32); return v, ok && e.Type == TypeF32 }

// F64 returns the element's value as float64, and whether Type is TypeF64.
func (e Element) F64() (float64, bool) { v, ok := e.value.(float64); return v, ok && e.Type == TypeF64 }

// String returns the element's value as string, and whether Type is TypeString.
func (e Element) String() (string, bool) {
	v, ok := e.value.(string)
	return v, ok && e.Type == TypeString
}

// Bytes returns the element's value as []byte, and whether Type is TypeBytes.
func (e Element) Bytes() ([]byte, bool) {
	v, ok := e.value.([]byte)
	return v, ok && e.Type == TypeBytes
}

// Value returns the element's dynamic value, whatever its Type. Useful
// for display; typed callers should use the accessor matching Type.
func (e Element) Value() any { return e.value }

// Int returns any signed or unsigned integer element widened to int64,
// which is convenient for fields like chno whose sign matters but whose
// exact width doesn't.
func (e Element) Int() (int64, bool) {
	switch e.Type {
	case TypeI8:
		v, _ := e.I8()
		return int64(v), true
	case TypeU8:
		v, _ := e.U8()
		return int64(v), true
	case TypeI16:
		v, _ := e.I16()
		return int64(v), true
	case TypeU16:
		v, _ := e.U16()
		return int64(v), true
	case TypeI32:
		v, _ := e.I32()
		return int64(v), true
	case TypeU32:
		v, _ := e.U32()
		return int64(v), true
	case TypeI64:
		return e.I64()
	case TypeU64:
		v, ok := e.U64()
		return int64(v), ok
	default:
		return 0, false
	}
}

// NewI8 builds an I8 element.
func NewI8(v int8) Element { return Element{Type: TypeI8, value: v} }

// NewU8 builds a U8 element.
func NewU8(v uint8) Element { return Element{Type: TypeU8, value: v} }

// NewI16 builds an I16 element.
func NewI16(v int16) Element { return Element{Type: TypeI16, value: v} }

// NewU16 builds a U16 element.
func NewU16(v uint16) Element { return Element{Type: TypeU16, value: v} }

// NewI32 builds an I32 element.
func NewI32(v int32) Element { return Element{Type: TypeI32, value: v} }

// NewU32 builds a U32 element.
func NewU32(v uint32) Element { return Element{Type: TypeU32, value: v} }

// NewI64 builds an I64 element.
func NewI64(v int64) Element { return Element{Type: TypeI64, value: v} }

// NewU64 builds a U64 element.
func NewU64(v uint64) Element { return Element{Type: TypeU64, value: v} }

// NewF32 builds an F32 element.
func NewF32(v float32) Element { return Element{Type: TypeF32, value: v} }

// NewF64 builds an F64 element.
func NewF64(v float64) Element { return Element{Type: TypeF64, value: v} }

// NewString builds a String element.
func NewString(v string) Element { return Element{Type: TypeString, value: v} }

// NewBytes builds a Bytes element.
func NewBytes(v []byte) Element { return Element{Type: TypeBytes, value: v} }

// Equal reports whether two elements have the same type and value.
func (e Element) Equal(other Element) bool {
	if e.Type != other.Type {
		return false
	}
	if e.Type == TypeBytes {
		a, _ := e.Bytes()
		b, _ := other.Bytes()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return e.value == other.value
}
