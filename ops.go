package concolic

import (
	"fmt"
)

// UnaryOp represents a unary expression operation.
type UnaryOp int

// UnaryExpr operations.
const (
	NEG  = UnaryOp(iota) // arithmetic negation
	LNOT                 // logical not
	NOT                  // bitwise not
	CAST                 // conversion to the node type
)

var unaryOps = [...]string{
	NEG:  "-",
	LNOT: "!",
	NOT:  "^",
	CAST: "cast",
}

// String returns the string representation of the operation.
func (op UnaryOp) String() string {
	if op >= 0 && op < UnaryOp(len(unaryOps)) {
		return unaryOps[op]
	}
	return fmt.Sprintf("UnaryOp<%d>", int(op))
}

// IsValid returns true if op is a known operation.
func (op UnaryOp) IsValid() bool {
	return op >= NEG && op <= CAST
}

// BinaryOp represents a binary arithmetic or bitwise operation. Signedness of
// DIV, REM and SHR is taken from the type of the expression.
type BinaryOp int

// BinaryExpr operations.
const (
	ADD = BinaryOp(iota)
	SUB
	MUL
	DIV
	REM
	SHL
	SHR
	AND
	OR
	XOR

	// CONCRETE marks an operation the engine does not model. Its result is
	// always treated as concrete.
	CONCRETE
)

var binaryOps = [...]string{
	ADD:      "+",
	SUB:      "-",
	MUL:      "*",
	DIV:      "/",
	REM:      "%",
	SHL:      "<<",
	SHR:      ">>",
	AND:      "&",
	OR:       "|",
	XOR:      "^",
	CONCRETE: "concrete",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", int(op))
}

// IsValid returns true if op is a known operation.
func (op BinaryOp) IsValid() bool {
	return op >= ADD && op <= CONCRETE
}

// IsDivision returns true for operations that trap on a zero divisor.
func (op BinaryOp) IsDivision() bool {
	return op == DIV || op == REM
}

// CompareOp represents a comparison operation. Ordered comparisons use the
// signedness of the operand type.
type CompareOp int

// CompareExpr operations.
const (
	EQ = CompareOp(iota)
	NE
	GT
	LE
	LT
	GE
)

var compareOps = [...]string{
	EQ: "==",
	NE: "!=",
	GT: ">",
	LE: "<=",
	LT: "<",
	GE: ">=",
}

// String returns the string representation of the operation.
func (op CompareOp) String() string {
	if op >= 0 && op < CompareOp(len(compareOps)) {
		return compareOps[op]
	}
	return fmt.Sprintf("CompareOp<%d>", int(op))
}

// IsValid returns true if op is a known operation.
func (op CompareOp) IsValid() bool {
	return op >= EQ && op <= GE
}

// Negate returns the operation that holds exactly when op does not.
func (op CompareOp) Negate() CompareOp {
	switch op {
	case EQ:
		return NE
	case NE:
		return EQ
	case GT:
		return LE
	case LE:
		return GT
	case LT:
		return GE
	case GE:
		return LT
	default:
		panic(fmt.Sprintf("negate: unexpected op: %s", op))
	}
}

// PointerOp represents pointer arithmetic. Integer operands are scaled by the
// size of the pointed-to type.
type PointerOp int

// PointerExpr operations.
const (
	PTRADD  = PointerOp(iota) // pointer + integer
	PTRSUB                    // pointer - integer
	PTRDIFF                   // pointer - pointer
)

var pointerOps = [...]string{
	PTRADD:  "ptradd",
	PTRSUB:  "ptrsub",
	PTRDIFF: "ptrdiff",
}

// String returns the string representation of the operation.
func (op PointerOp) String() string {
	if op >= 0 && op < PointerOp(len(pointerOps)) {
		return pointerOps[op]
	}
	return fmt.Sprintf("PointerOp<%d>", int(op))
}

// IsValid returns true if op is a known operation.
func (op PointerOp) IsValid() bool {
	return op >= PTRADD && op <= PTRDIFF
}
