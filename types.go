package concolic

import (
	"fmt"
)

// Type represents a C numeric type as reported by the instrumentation.
// The numeric values match the instrumentation's type ids.
type Type int8

// Types.
const (
	TypeBool      = Type(-1)
	TypeUChar     = Type(0)
	TypeChar      = Type(1)
	TypeUShort    = Type(2)
	TypeShort     = Type(3)
	TypeUInt      = Type(4)
	TypeInt       = Type(5)
	TypeULong     = Type(6)
	TypeLong      = Type(7)
	TypeULongLong = Type(8)
	TypeLongLong  = Type(9)
	TypeStruct    = Type(10)
)

type typeInfo struct {
	name   string
	size   uint // bytes
	signed bool
}

// typeInfos is indexed by Type+1.
var typeInfos = [...]typeInfo{
	{"bool", 1, false},
	{"uchar", 1, false},
	{"char", 1, true},
	{"ushort", 2, false},
	{"short", 2, true},
	{"uint", 4, false},
	{"int", 4, true},
	{"ulong", 8, false},
	{"long", 8, true},
	{"ulonglong", 8, false},
	{"longlong", 8, true},
	{"struct", 0, false},
}

// IsValid returns true if t is a known type.
func (t Type) IsValid() bool {
	return t >= TypeBool && t <= TypeStruct
}

// IsScalar returns true if t is a valid non-aggregate type.
func (t Type) IsScalar() bool {
	return t >= TypeBool && t < TypeStruct
}

// String returns the name of the type. Names are valid Go identifiers so
// they can appear as conversions in expression text.
func (t Type) String() string {
	if t.IsValid() {
		return typeInfos[t+1].name
	}
	return fmt.Sprintf("Type<%d>", t)
}

// Size returns the size of the type in bytes. Returns zero for TypeStruct
// since aggregates carry their own size.
func (t Type) Size() uint {
	assert(t.IsValid(), "size: invalid type: %d", t)
	return typeInfos[t+1].size
}

// Width returns the bit width of values of the type.
func (t Type) Width() uint {
	if t == TypeBool {
		return WidthBool
	}
	return t.Size() * 8
}

// Signed returns true if the type is a signed integer type.
func (t Type) Signed() bool {
	assert(t.IsValid(), "signed: invalid type: %d", t)
	return typeInfos[t+1].signed
}

// WithSign returns the integer type of the same width with the given
// signedness. Bool and struct are returned unchanged.
func (t Type) WithSign(signed bool) Type {
	if t < TypeUChar || t > TypeLongLong || typeInfos[t+1].signed == signed {
		return t
	} else if signed {
		return t + 1
	}
	return t - 1
}

// Normalize truncates v to the width of t and extends it back to 64 bits
// according to the signedness of t. Unsigned 64-bit values keep their bit
// pattern.
func (t Type) Normalize(v int64) int64 {
	switch t {
	case TypeBool:
		if v != 0 {
			return 1
		}
		return 0
	case TypeUChar:
		return int64(uint8(v))
	case TypeChar:
		return int64(int8(v))
	case TypeUShort:
		return int64(uint16(v))
	case TypeShort:
		return int64(int16(v))
	case TypeUInt:
		return int64(uint32(v))
	case TypeInt:
		return int64(int32(v))
	case TypeULong, TypeLong, TypeULongLong, TypeLongLong:
		return v
	default:
		panic(fmt.Sprintf("normalize: non-scalar type: %s", t))
	}
}

// ParseType returns the type with the given name.
func ParseType(name string) (Type, bool) {
	for i, info := range typeInfos {
		if info.name == name {
			return Type(i - 1), true
		}
	}
	return 0, false
}

// bitmask returns a mask of the low width bits.
func bitmask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}

// evalUnary computes op applied to x, where x is normalized to src and the
// result is normalized to t.
func evalUnary(op UnaryOp, t, src Type, x int64) int64 {
	switch op {
	case NEG:
		return t.Normalize(-x)
	case NOT:
		return t.Normalize(^x)
	case LNOT:
		if x == 0 {
			return t.Normalize(1)
		}
		return 0
	case CAST:
		return t.Normalize(x)
	default:
		panic(fmt.Sprintf("evalUnary: unexpected op: %s", op))
	}
}

// evalBinary computes x op y with the C semantics of type t.
// Operands must already be normalized to t.
func evalBinary(op BinaryOp, t Type, x, y int64) (int64, error) {
	switch op {
	case ADD:
		return t.Normalize(x + y), nil
	case SUB:
		return t.Normalize(x - y), nil
	case MUL:
		return t.Normalize(x * y), nil
	case DIV:
		if y == 0 {
			return 0, ErrDivideByZero
		} else if t.Signed() {
			return t.Normalize(x / y), nil
		}
		return t.Normalize(int64(uint64(x) / uint64(y))), nil
	case REM:
		if y == 0 {
			return 0, ErrDivideByZero
		} else if t.Signed() {
			return t.Normalize(x % y), nil
		}
		return t.Normalize(int64(uint64(x) % uint64(y))), nil
	case SHL:
		return t.Normalize(int64(uint64(x) << uint64(y))), nil
	case SHR:
		if t.Signed() {
			return t.Normalize(x >> uint64(y)), nil
		}
		return t.Normalize(int64(uint64(x) >> uint64(y))), nil
	case AND:
		return t.Normalize(x & y), nil
	case OR:
		return t.Normalize(x | y), nil
	case XOR:
		return t.Normalize(x ^ y), nil
	default:
		panic(fmt.Sprintf("evalBinary: unexpected op: %s", op))
	}
}

// evalCompare computes x op y using the signedness of t.
func evalCompare(op CompareOp, t Type, x, y int64) bool {
	switch op {
	case EQ:
		return x == y
	case NE:
		return x != y
	}

	var lt, eq bool
	if t.Signed() {
		lt, eq = x < y, x == y
	} else {
		lt, eq = uint64(x) < uint64(y), x == y
	}

	switch op {
	case LT:
		return lt
	case LE:
		return lt || eq
	case GT:
		return !lt && !eq
	case GE:
		return !lt
	default:
		panic(fmt.Sprintf("evalCompare: unexpected op: %s", op))
	}
}

// evalPointer computes a pointer operation. Pointers are unsigned machine words.
func evalPointer(op PointerOp, scale uint, x, y int64) int64 {
	switch op {
	case PTRADD:
		return x + y*int64(scale)
	case PTRSUB:
		return x - y*int64(scale)
	case PTRDIFF:
		if scale == 0 {
			return x - y
		}
		return (x - y) / int64(scale)
	default:
		panic(fmt.Sprintf("evalPointer: unexpected op: %s", op))
	}
}
