package concolic

import (
	"github.com/pkg/errors"
)

// TermOp represents a solver-level operation on bit-vector or boolean terms.
type TermOp int

// Unary term operations.
const (
	BVNeg = TermOp(iota)
	BVNot
	Not
)

// Binary term operations.
const (
	BVAdd = TermOp(iota + 16)
	BVSub
	BVMul
	BVUDiv
	BVSDiv
	BVURem
	BVSRem
	BVShl
	BVLShr
	BVAShr
	BVAnd
	BVOr
	BVXor
	Eq
	BVUlt
	BVUle
	BVSlt
	BVSle
)

// TermBuilder represents a solver backend that constructs terms of type T.
// Boolean terms and bit-vector terms share T; it is up to the lowering to
// only combine terms of matching sorts.
type TermBuilder[T any] interface {
	// Var returns the term for a fresh bit-vector variable.
	// Called at most once per variable within a lowering session.
	Var(id VarID, width uint) T

	BoolConst(value bool) T
	BVConst(value uint64, width uint) T

	Unary(op TermOp, x T) T
	Binary(op TermOp, x, y T) T

	// Extend widens x by the given number of bits.
	Extend(x T, by uint, signed bool) T

	// Extract returns bits hi through lo of x, inclusive.
	Extract(x T, hi, lo uint) T

	Ite(cond, x, y T) T
	And(terms ...T) T
}

// Lower returns the solver term for expr. Variables are looked up in decls
// and declared through b only on first use, so a decls map shared by several
// calls yields exactly one declaration per variable.
//
// Returns ErrUnsupported if expr contains an aggregate that cannot be lowered.
func Lower[T any](b TermBuilder[T], expr Expr, decls map[VarID]T) (T, error) {
	l := &lowerer[T]{b: b, decls: decls}
	return l.lower(expr)
}

// LowerCondition lowers expr as a boolean term. Non-boolean expressions are
// true when non-zero.
func LowerCondition[T any](b TermBuilder[T], expr Expr, decls map[VarID]T) (T, error) {
	l := &lowerer[T]{b: b, decls: decls}
	return l.lowerBool(expr)
}

// LowerPath lowers a sequence of path constraints and returns their
// conjunction. Constraints that cannot be lowered are left out and their
// indices returned as unconstrained.
func LowerPath[T any](b TermBuilder[T], exprs []Expr, decls map[VarID]T) (term T, unconstrained []int, err error) {
	l := &lowerer[T]{b: b, decls: decls}

	terms := make([]T, 0, len(exprs))
	for i, expr := range exprs {
		t, err := l.lowerBool(expr)
		if errors.Is(err, ErrUnsupported) {
			unconstrained = append(unconstrained, i)
			continue
		} else if err != nil {
			return term, nil, errors.Wrapf(err, "constraint %d", i)
		}
		terms = append(terms, t)
	}

	if len(terms) == 0 {
		return b.BoolConst(true), unconstrained, nil
	}
	return b.And(terms...), unconstrained, nil
}

type lowerer[T any] struct {
	b     TermBuilder[T]
	decls map[VarID]T
}

// lower returns a boolean term for boolean expressions and a bit-vector term
// of the expression's width otherwise.
func (l *lowerer[T]) lower(expr Expr) (t T, err error) {
	b := l.b

	switch expr := expr.(type) {
	case *ConstantExpr:
		if expr.Type == TypeBool {
			return b.BoolConst(expr.Value != 0), nil
		}
		return b.BVConst(expr.Bits(), expr.Type.Width()), nil

	case *VarExpr:
		if t, ok := l.decls[expr.ID]; ok {
			return t, nil
		}
		t = b.Var(expr.ID, expr.Type.Width())
		l.decls[expr.ID] = t
		return t, nil

	case *UnaryExpr:
		return l.lowerUnary(expr)

	case *BinaryExpr:
		if expr.Type == TypeBool {
			return t, errors.Wrapf(ErrUnsupported, "boolean arithmetic: %s", expr)
		}
		x, y, err := l.lowerPair(expr.LHS, expr.RHS)
		if err != nil {
			return t, err
		}
		return b.Binary(binaryTermOp(expr.Op, expr.Type.Signed()), x, y), nil

	case *CompareExpr:
		x, y, err := l.lowerPair(expr.LHS, expr.RHS)
		if err != nil {
			return t, err
		}
		return l.compare(expr.Op, expr.Type.Signed(), x, y), nil

	case *PointerExpr:
		x, y, err := l.lowerPair(expr.LHS, expr.RHS)
		if err != nil {
			return t, err
		}
		scale := b.BVConst(uint64(expr.Scale), Width64)
		switch expr.Op {
		case PTRADD:
			return b.Binary(BVAdd, x, b.Binary(BVMul, y, scale)), nil
		case PTRSUB:
			return b.Binary(BVSub, x, b.Binary(BVMul, y, scale)), nil
		default:
			if expr.Scale == 0 {
				return b.Binary(BVSub, x, y), nil
			}
			return b.Binary(BVSDiv, b.Binary(BVSub, x, y), scale), nil
		}

	case *ExtractExpr:
		if _, ok := expr.Expr.(*ConcatExpr); ok {
			return t, errors.Wrapf(ErrUnsupported, "extract from aggregate: %s", expr)
		}
		x, err := l.lowerBV(expr.Expr)
		if err != nil {
			return t, err
		}
		lo := expr.Offset * 8
		if expr.Type == TypeBool {
			x = b.Extract(x, lo+Width8-1, lo)
			return b.Unary(Not, b.Binary(Eq, x, b.BVConst(0, Width8))), nil
		}
		return b.Extract(x, lo+expr.Type.Width()-1, lo), nil

	case *ConcatExpr:
		return t, errors.Wrapf(ErrUnsupported, "aggregate: %s", expr)

	default:
		panic("unreachable")
	}
}

func (l *lowerer[T]) lowerUnary(expr *UnaryExpr) (t T, err error) {
	b := l.b
	src := ExprType(expr.Expr)

	switch expr.Op {
	case CAST:
		if expr.Type == TypeBool {
			return l.lowerBool(expr.Expr)
		}
		x, err := l.lowerBV(expr.Expr)
		if err != nil {
			return t, err
		}
		return l.resize(x, src.Width(), expr.Type.Width(), src.Signed()), nil

	case LNOT:
		cond, err := l.lowerBool(expr.Expr)
		if err != nil {
			return t, err
		}
		if expr.Type == TypeBool {
			return b.Unary(Not, cond), nil
		}
		w := expr.Type.Width()
		return b.Ite(cond, b.BVConst(0, w), b.BVConst(1, w)), nil

	default:
		if expr.Type == TypeBool {
			return t, errors.Wrapf(ErrUnsupported, "boolean arithmetic: %s", expr)
		}
		x, err := l.lowerBV(expr.Expr)
		if err != nil {
			return t, err
		}
		x = l.resize(x, src.Width(), expr.Type.Width(), src.Signed())
		if expr.Op == NEG {
			return b.Unary(BVNeg, x), nil
		}
		return b.Unary(BVNot, x), nil
	}
}

// lowerBV lowers expr as a bit-vector. Booleans become a single bit.
func (l *lowerer[T]) lowerBV(expr Expr) (t T, err error) {
	if t, err = l.lower(expr); err != nil {
		return t, err
	} else if ExprType(expr) == TypeBool {
		return l.b.Ite(t, l.b.BVConst(1, WidthBool), l.b.BVConst(0, WidthBool)), nil
	}
	return t, nil
}

// lowerBool lowers expr as a boolean. Bit-vectors are true when non-zero.
func (l *lowerer[T]) lowerBool(expr Expr) (t T, err error) {
	if t, err = l.lower(expr); err != nil {
		return t, err
	} else if typ := ExprType(expr); typ != TypeBool {
		return l.b.Unary(Not, l.b.Binary(Eq, t, l.b.BVConst(0, ExprWidth(expr)))), nil
	}
	return t, nil
}

func (l *lowerer[T]) lowerPair(lhs, rhs Expr) (x, y T, err error) {
	if x, err = l.lowerBV(lhs); err != nil {
		return x, y, err
	} else if y, err = l.lowerBV(rhs); err != nil {
		return x, y, err
	}
	return x, y, nil
}

// resize truncates or extends x from one width to another.
func (l *lowerer[T]) resize(x T, from, to uint, signed bool) T {
	switch {
	case to > from:
		return l.b.Extend(x, to-from, signed)
	case to < from:
		return l.b.Extract(x, to-1, 0)
	default:
		return x
	}
}

func (l *lowerer[T]) compare(op CompareOp, signed bool, x, y T) T {
	lt, le := BVUlt, BVUle
	if signed {
		lt, le = BVSlt, BVSle
	}

	b := l.b
	switch op {
	case EQ:
		return b.Binary(Eq, x, y)
	case NE:
		return b.Unary(Not, b.Binary(Eq, x, y))
	case LT:
		return b.Binary(lt, x, y)
	case LE:
		return b.Binary(le, x, y)
	case GT:
		return b.Binary(lt, y, x)
	case GE:
		return b.Binary(le, y, x)
	default:
		panic("unreachable")
	}
}

func binaryTermOp(op BinaryOp, signed bool) TermOp {
	switch op {
	case ADD:
		return BVAdd
	case SUB:
		return BVSub
	case MUL:
		return BVMul
	case DIV:
		if signed {
			return BVSDiv
		}
		return BVUDiv
	case REM:
		if signed {
			return BVSRem
		}
		return BVURem
	case SHL:
		return BVShl
	case SHR:
		if signed {
			return BVAShr
		}
		return BVLShr
	case AND:
		return BVAnd
	case OR:
		return BVOr
	case XOR:
		return BVXor
	default:
		panic("unreachable")
	}
}
