package concolic

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/hashicorp/go-set"
)

// Expr represents a symbolic expression. Every node is exclusively owned by
// the tree it belongs to; use Clone() to obtain an independent copy.
type Expr interface {
	String() string
	expr()
}

func (*BinaryExpr) expr()   {}
func (*CompareExpr) expr()  {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*PointerExpr) expr()  {}
func (*UnaryExpr) expr()    {}
func (*VarExpr) expr()      {}

// ExprType returns the type of the value produced by the expression.
func ExprType(expr Expr) Type {
	switch expr := expr.(type) {
	case *VarExpr:
		return expr.Type
	case *ConstantExpr:
		return expr.Type
	case *UnaryExpr:
		return expr.Type
	case *BinaryExpr:
		return expr.Type
	case *CompareExpr:
		return TypeBool
	case *PointerExpr:
		if expr.Op == PTRDIFF {
			return TypeLong
		}
		return TypeULong
	case *ConcatExpr:
		return TypeStruct
	case *ExtractExpr:
		return expr.Type
	default:
		panic("unreachable")
	}
}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	if expr, ok := expr.(*ConcatExpr); ok {
		return expr.Size * 8
	}
	return ExprType(expr).Width()
}

// exprSize returns the size of the expression's value in bytes.
func exprSize(expr Expr) uint {
	if expr, ok := expr.(*ConcatExpr); ok {
		return expr.Size
	}
	return ExprType(expr).Size()
}

// VarExpr represents a free input variable bound to one slot of the seed vector.
// Variables always have an integer type.
type VarExpr struct {
	ID   VarID
	Type Type
}

// NewVarExpr returns a new instance of VarExpr.
func NewVarExpr(id VarID, typ Type) *VarExpr {
	assert(typ.IsScalar() && typ != TypeBool, "var: invalid type: %s", typ)
	return &VarExpr{ID: id, Type: typ}
}

// String returns the string representation of the expression.
func (e *VarExpr) String() string {
	return VarName(e.ID)
}

// VarName returns the name used for a variable in expression text and solver
// declarations.
func VarName(id VarID) string {
	return "var" + strconv.FormatUint(uint64(id), 10)
}

// ConstantExpr represents a concrete value of a given type. Value is always
// normalized to the type.
type ConstantExpr struct {
	Type  Type
	Value int64
}

// NewConstantExpr returns a new instance of ConstantExpr.
func NewConstantExpr(typ Type, value int64) *ConstantExpr {
	return &ConstantExpr{Type: typ, Value: typ.Normalize(value)}
}

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return &ConstantExpr{Type: TypeBool, Value: 1}
	}
	return &ConstantExpr{Type: TypeBool, Value: 0}
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	switch {
	case e.Type == TypeBool:
		return strconv.FormatBool(e.Value != 0)
	case e.Type.Signed():
		return strconv.FormatInt(e.Value, 10)
	default:
		return strconv.FormatUint(uint64(e.Value), 10)
	}
}

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Type == TypeBool && e.Value != 0
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Type == TypeBool && e.Value == 0
}

// Bits returns the value as an unsigned bit pattern of the type's width.
func (e *ConstantExpr) Bits() uint64 {
	return uint64(e.Value) & bitmask(e.Type.Width())
}

// UnaryExpr represents an operation on a single expression. For CAST, Type is
// the target type and the operand keeps its own type.
type UnaryExpr struct {
	Op   UnaryOp
	Type Type
	Expr Expr
}

// NewUnaryExpr returns a new instance of UnaryExpr.
func NewUnaryExpr(op UnaryOp, typ Type, x Expr) Expr {
	assert(op.IsValid(), "unary: invalid op: %d", op)
	assert(typ.IsScalar(), "unary: invalid type: %s", typ)

	if op == CAST && ExprType(x) == typ {
		return x // nop
	}

	if x, ok := x.(*ConstantExpr); ok {
		return NewConstantExpr(typ, evalUnary(op, typ, x.Type, x.Value))
	}
	return &UnaryExpr{Op: op, Type: typ, Expr: x}
}

// String returns the string representation of the expression.
func (e *UnaryExpr) String() string {
	var buf bytes.Buffer
	writeExpr(&buf, e, true)
	return buf.String()
}

// BinaryExpr represents an arithmetic or bitwise operation on two expressions
// of the same type.
type BinaryExpr struct {
	Op   BinaryOp
	Type Type
	LHS  Expr
	RHS  Expr
}

// NewBinaryExpr returns a new instance of BinaryExpr.
// Constant operands are folded unless the fold would trap.
func NewBinaryExpr(op BinaryOp, typ Type, lhs, rhs Expr) Expr {
	assert(op.IsValid() && op != CONCRETE, "binary: invalid op: %s", op)
	assert(typ.IsScalar(), "binary: invalid type: %s", typ)

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if v, err := evalBinary(op, typ, typ.Normalize(lhs.Value), typ.Normalize(rhs.Value)); err == nil {
				return NewConstantExpr(typ, v)
			}
		}
	}
	return &BinaryExpr{Op: op, Type: typ, LHS: lhs, RHS: rhs}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	var buf bytes.Buffer
	writeExpr(&buf, e, true)
	return buf.String()
}

// CompareExpr represents a comparison of two expressions. Type is the operand
// type and determines signedness; the expression itself is boolean.
type CompareExpr struct {
	Op   CompareOp
	Type Type
	LHS  Expr
	RHS  Expr
}

// NewCompareExpr returns a new instance of CompareExpr.
func NewCompareExpr(op CompareOp, typ Type, lhs, rhs Expr) Expr {
	assert(op.IsValid(), "compare: invalid op: %d", op)
	assert(typ.IsScalar(), "compare: invalid type: %s", typ)

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return NewBoolConstantExpr(evalCompare(op, typ, typ.Normalize(lhs.Value), typ.Normalize(rhs.Value)))
		}
	}
	return &CompareExpr{Op: op, Type: typ, LHS: lhs, RHS: rhs}
}

// String returns the string representation of the expression.
func (e *CompareExpr) String() string {
	var buf bytes.Buffer
	writeExpr(&buf, e, true)
	return buf.String()
}

// NewNegatedExpr returns the logical negation of a boolean expression.
// Comparisons are negated by inverting their operator so that negating twice
// yields a structurally equal expression.
func NewNegatedExpr(cond Expr) Expr {
	switch cond := cond.(type) {
	case *CompareExpr:
		return &CompareExpr{Op: cond.Op.Negate(), Type: cond.Type, LHS: cond.LHS, RHS: cond.RHS}
	case *ConstantExpr:
		if cond.Type == TypeBool {
			return NewBoolConstantExpr(cond.Value == 0)
		}
	}
	return NewCompareExpr(EQ, ExprType(cond), cond, NewConstantExpr(ExprType(cond), 0))
}

// NewConditionExpr returns cond as a boolean expression. Non-boolean values
// are compared against zero, matching C truth semantics.
func NewConditionExpr(cond Expr) Expr {
	if ExprType(cond) == TypeBool {
		return cond
	}
	return NewCompareExpr(NE, ExprType(cond), cond, NewConstantExpr(ExprType(cond), 0))
}

// PointerExpr represents pointer arithmetic. The pointer operand is an
// unsigned machine word; the integer operand of PTRADD/PTRSUB is scaled.
type PointerExpr struct {
	Op    PointerOp
	Scale uint
	LHS   Expr
	RHS   Expr
}

// NewPointerExpr returns a new instance of PointerExpr.
func NewPointerExpr(op PointerOp, scale uint, lhs, rhs Expr) Expr {
	assert(op.IsValid(), "pointer: invalid op: %d", op)

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			typ := TypeULong
			if op == PTRDIFF {
				typ = TypeLong
			}
			return NewConstantExpr(typ, evalPointer(op, scale, lhs.Value, rhs.Value))
		}
	}
	return &PointerExpr{Op: op, Scale: scale, LHS: lhs, RHS: rhs}
}

// String returns the string representation of the expression.
func (e *PointerExpr) String() string {
	var buf bytes.Buffer
	writeExpr(&buf, e, true)
	return buf.String()
}

// ConcatExpr represents a partially symbolic aggregate of Size bytes. Bytes
// not covered by a part are concrete.
type ConcatExpr struct {
	Size  uint
	Parts []ConcatPart
}

// ConcatPart is a scalar expression stored at a byte offset of an aggregate.
type ConcatPart struct {
	Offset uint
	Expr   Expr
}

// NewConcatExpr returns a new instance of ConcatExpr with parts sorted by offset.
func NewConcatExpr(size uint, parts []ConcatPart) *ConcatExpr {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Offset < parts[j].Offset })
	for i, part := range parts {
		end := part.Offset + exprSize(part.Expr)
		assert(end <= size, "concat: part out of bounds: %d > %d", end, size)
		assert(i == 0 || parts[i-1].Offset+exprSize(parts[i-1].Expr) <= part.Offset, "concat: overlapping parts at offset %d", part.Offset)
	}
	return &ConcatExpr{Size: size, Parts: parts}
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string {
	var buf bytes.Buffer
	writeExpr(&buf, e, true)
	return buf.String()
}

// ExtractExpr represents a value of Type read at a byte offset of a wider
// expression. Byte order is little-endian.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Type   Type
}

// NewExtractExpr returns a new instance of ExtractExpr.
func NewExtractExpr(x Expr, offset uint, typ Type) Expr {
	assert(typ.IsScalar(), "extract: invalid type: %s", typ)
	sz := exprSize(x)
	assert(offset+typ.Size() <= sz, "extract out of bounds: %d+%d > %d", offset, typ.Size(), sz)

	switch x := x.(type) {
	case *ConstantExpr:
		return NewConstantExpr(typ, int64(x.Bits()>>(offset*8)))
	case *ConcatExpr:
		for _, part := range x.Parts {
			if offset >= part.Offset && offset+typ.Size() <= part.Offset+exprSize(part.Expr) {
				return NewExtractExpr(part.Expr, offset-part.Offset, typ)
			}
		}
	default:
		if offset == 0 && typ.Size() == sz {
			return NewUnaryExpr(CAST, typ, x)
		}
	}
	return &ExtractExpr{Expr: x, Offset: offset, Type: typ}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	var buf bytes.Buffer
	writeExpr(&buf, e, true)
	return buf.String()
}

// writeExpr writes the text form of expr. Nested arithmetic and comparisons
// are parenthesized so the text parses back without precedence rules.
func writeExpr(buf *bytes.Buffer, expr Expr, top bool) {
	switch expr := expr.(type) {
	case *VarExpr, *ConstantExpr:
		buf.WriteString(expr.String())

	case *UnaryExpr:
		if expr.Op == CAST {
			buf.WriteString(expr.Type.String())
			buf.WriteByte('(')
			writeExpr(buf, expr.Expr, true)
			buf.WriteByte(')')
			return
		}
		buf.WriteString(expr.Op.String())
		if needsUnaryParens(expr.Expr) {
			buf.WriteByte('(')
			writeExpr(buf, expr.Expr, true)
			buf.WriteByte(')')
		} else {
			writeExpr(buf, expr.Expr, false)
		}

	case *BinaryExpr:
		writeInfix(buf, expr.LHS, expr.Op.String(), expr.RHS, top)

	case *CompareExpr:
		writeInfix(buf, expr.LHS, expr.Op.String(), expr.RHS, top)

	case *PointerExpr:
		fmt.Fprintf(buf, "%s(", expr.Op)
		writeExpr(buf, expr.LHS, true)
		buf.WriteString(", ")
		writeExpr(buf, expr.RHS, true)
		fmt.Fprintf(buf, ", %d)", expr.Scale)

	case *ConcatExpr:
		fmt.Fprintf(buf, "concat(%d", expr.Size)
		for _, part := range expr.Parts {
			fmt.Fprintf(buf, ", %d, ", part.Offset)
			writeExpr(buf, part.Expr, true)
		}
		buf.WriteByte(')')

	case *ExtractExpr:
		buf.WriteString("extract(")
		writeExpr(buf, expr.Expr, true)
		fmt.Fprintf(buf, ", %d, %s)", expr.Offset, expr.Type)

	default:
		panic("unreachable")
	}
}

func writeInfix(buf *bytes.Buffer, lhs Expr, op string, rhs Expr, top bool) {
	if !top {
		buf.WriteByte('(')
	}
	writeExpr(buf, lhs, false)
	buf.WriteByte(' ')
	buf.WriteString(op)
	buf.WriteByte(' ')
	writeExpr(buf, rhs, false)
	if !top {
		buf.WriteByte(')')
	}
}

// needsUnaryParens returns true if x must be parenthesized as a unary operand.
// Adjacent prefix operators would otherwise scan as "--".
func needsUnaryParens(x Expr) bool {
	switch x := x.(type) {
	case *BinaryExpr, *CompareExpr:
		return true
	case *UnaryExpr:
		return x.Op != CAST
	case *ConstantExpr:
		return x.Type.Signed() && x.Value < 0
	}
	return false
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Executed for every visited node. Return nil to skip the node's children.
	Visit(expr Expr) ExprVisitor
}

// WalkExpr traverses expr in depth-first order.
func WalkExpr(v ExprVisitor, expr Expr) {
	if v = v.Visit(expr); v == nil {
		return
	}

	switch expr := expr.(type) {
	case *VarExpr, *ConstantExpr:
		// nop
	case *UnaryExpr:
		WalkExpr(v, expr.Expr)
	case *BinaryExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *CompareExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *PointerExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *ConcatExpr:
		for _, part := range expr.Parts {
			WalkExpr(v, part.Expr)
		}
	case *ExtractExpr:
		WalkExpr(v, expr.Expr)
	default:
		panic("unreachable")
	}
}

// inspector adapts a function to the ExprVisitor interface.
type inspector func(Expr) bool

func (fn inspector) Visit(expr Expr) ExprVisitor {
	if fn(expr) {
		return fn
	}
	return nil
}

// Size returns the number of nodes in the expression tree.
func Size(expr Expr) int {
	var n int
	WalkExpr(inspector(func(Expr) bool { n++; return true }), expr)
	return n
}

// AppendVars adds the ids of all free variables in expr to vars.
func AppendVars(vars *set.Set[VarID], expr Expr) {
	WalkExpr(inspector(func(expr Expr) bool {
		if v, ok := expr.(*VarExpr); ok {
			vars.Insert(v.ID)
		}
		return true
	}), expr)
}

// Vars returns the sorted ids of all free variables in the expressions.
func Vars(exprs ...Expr) []VarID {
	vars := set.New[VarID](0)
	for _, expr := range exprs {
		AppendVars(vars, expr)
	}
	a := vars.Slice()
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

// DependsOn returns true if some free variable of expr is a key of vars.
func DependsOn(expr Expr, vars map[VarID]Type) bool {
	var found bool
	WalkExpr(inspector(func(expr Expr) bool {
		if v, ok := expr.(*VarExpr); ok {
			if _, ok := vars[v.ID]; ok {
				found = true
			}
		}
		return !found
	}), expr)
	return found
}

// IsConcrete returns true if expr contains no free variables.
func IsConcrete(expr Expr) bool {
	concrete := true
	WalkExpr(inspector(func(expr Expr) bool {
		if _, ok := expr.(*VarExpr); ok {
			concrete = false
		}
		return concrete
	}), expr)
	return concrete
}

// Clone returns a deep copy of expr that shares no nodes with it.
func Clone(expr Expr) Expr {
	switch expr := expr.(type) {
	case nil:
		return nil
	case *VarExpr:
		other := *expr
		return &other
	case *ConstantExpr:
		other := *expr
		return &other
	case *UnaryExpr:
		return &UnaryExpr{Op: expr.Op, Type: expr.Type, Expr: Clone(expr.Expr)}
	case *BinaryExpr:
		return &BinaryExpr{Op: expr.Op, Type: expr.Type, LHS: Clone(expr.LHS), RHS: Clone(expr.RHS)}
	case *CompareExpr:
		return &CompareExpr{Op: expr.Op, Type: expr.Type, LHS: Clone(expr.LHS), RHS: Clone(expr.RHS)}
	case *PointerExpr:
		return &PointerExpr{Op: expr.Op, Scale: expr.Scale, LHS: Clone(expr.LHS), RHS: Clone(expr.RHS)}
	case *ConcatExpr:
		parts := make([]ConcatPart, len(expr.Parts))
		for i, part := range expr.Parts {
			parts[i] = ConcatPart{Offset: part.Offset, Expr: Clone(part.Expr)}
		}
		return &ConcatExpr{Size: expr.Size, Parts: parts}
	case *ExtractExpr:
		return &ExtractExpr{Expr: Clone(expr.Expr), Offset: expr.Offset, Type: expr.Type}
	default:
		panic("unreachable")
	}
}

// Equal returns true if a and b are structurally equal.
func Equal(a, b Expr) bool {
	return Compare(a, b) == 0
}

// Compare returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func Compare(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *VarExpr:
		return compareVarExpr(a, b.(*VarExpr))
	case *UnaryExpr:
		return compareUnaryExpr(a, b.(*UnaryExpr))
	case *BinaryExpr:
		return compareBinaryExpr(a, b.(*BinaryExpr))
	case *CompareExpr:
		return compareCompareExpr(a, b.(*CompareExpr))
	case *PointerExpr:
		return comparePointerExpr(a, b.(*PointerExpr))
	case *ConcatExpr:
		return compareConcatExpr(a, b.(*ConcatExpr))
	case *ExtractExpr:
		return compareExtractExpr(a, b.(*ExtractExpr))
	default:
		panic("unreachable")
	}
}

func compareInt(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if cmp := compareInt(int64(a.Type), int64(b.Type)); cmp != 0 {
		return cmp
	}
	return compareInt(a.Value, b.Value)
}

func compareVarExpr(a, b *VarExpr) int {
	if cmp := compareInt(int64(a.ID), int64(b.ID)); cmp != 0 {
		return cmp
	}
	return compareInt(int64(a.Type), int64(b.Type))
}

func compareUnaryExpr(a, b *UnaryExpr) int {
	if cmp := compareInt(int64(a.Op), int64(b.Op)); cmp != 0 {
		return cmp
	} else if cmp := compareInt(int64(a.Type), int64(b.Type)); cmp != 0 {
		return cmp
	}
	return Compare(a.Expr, b.Expr)
}

func compareBinaryExpr(a, b *BinaryExpr) int {
	if cmp := compareInt(int64(a.Op), int64(b.Op)); cmp != 0 {
		return cmp
	} else if cmp := compareInt(int64(a.Type), int64(b.Type)); cmp != 0 {
		return cmp
	} else if cmp := Compare(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return Compare(a.RHS, b.RHS)
}

func compareCompareExpr(a, b *CompareExpr) int {
	if cmp := compareInt(int64(a.Op), int64(b.Op)); cmp != 0 {
		return cmp
	} else if cmp := compareInt(int64(a.Type), int64(b.Type)); cmp != 0 {
		return cmp
	} else if cmp := Compare(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return Compare(a.RHS, b.RHS)
}

func comparePointerExpr(a, b *PointerExpr) int {
	if cmp := compareInt(int64(a.Op), int64(b.Op)); cmp != 0 {
		return cmp
	} else if cmp := compareInt(int64(a.Scale), int64(b.Scale)); cmp != 0 {
		return cmp
	} else if cmp := Compare(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return Compare(a.RHS, b.RHS)
}

func compareConcatExpr(a, b *ConcatExpr) int {
	if cmp := compareInt(int64(a.Size), int64(b.Size)); cmp != 0 {
		return cmp
	} else if cmp := compareInt(int64(len(a.Parts)), int64(len(b.Parts))); cmp != 0 {
		return cmp
	}
	for i := range a.Parts {
		if cmp := compareInt(int64(a.Parts[i].Offset), int64(b.Parts[i].Offset)); cmp != 0 {
			return cmp
		} else if cmp := Compare(a.Parts[i].Expr, b.Parts[i].Expr); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func compareExtractExpr(a, b *ExtractExpr) int {
	if cmp := compareInt(int64(a.Offset), int64(b.Offset)); cmp != 0 {
		return cmp
	} else if cmp := compareInt(int64(a.Type), int64(b.Type)); cmp != 0 {
		return cmp
	}
	return Compare(a.Expr, b.Expr)
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *VarExpr:
		return 2
	case *UnaryExpr:
		return 3
	case *BinaryExpr:
		return 4
	case *CompareExpr:
		return 5
	case *PointerExpr:
		return 6
	case *ConcatExpr:
		return 7
	case *ExtractExpr:
		return 8
	default:
		panic("unreachable")
	}
}
