package concolic

import (
	"github.com/pkg/errors"
)

// Evaluate computes the concrete value of expr when every variable is bound
// to the seed value at its index in inputs. The result is normalized to the
// type of expr; booleans evaluate to 0 or 1.
func Evaluate(expr Expr, inputs []int64) (int64, error) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Value, nil

	case *VarExpr:
		if int(expr.ID) >= len(inputs) {
			return 0, errors.Wrapf(ErrUnboundVar, "%s", VarName(expr.ID))
		}
		return expr.Type.Normalize(inputs[expr.ID]), nil

	case *UnaryExpr:
		x, err := Evaluate(expr.Expr, inputs)
		if err != nil {
			return 0, err
		}
		return evalUnary(expr.Op, expr.Type, ExprType(expr.Expr), x), nil

	case *BinaryExpr:
		x, y, err := evaluatePair(expr.LHS, expr.RHS, inputs)
		if err != nil {
			return 0, err
		}
		v, err := evalBinary(expr.Op, expr.Type, expr.Type.Normalize(x), expr.Type.Normalize(y))
		if err != nil {
			return 0, errors.Wrapf(err, "evaluate %s", expr)
		}
		return v, nil

	case *CompareExpr:
		x, y, err := evaluatePair(expr.LHS, expr.RHS, inputs)
		if err != nil {
			return 0, err
		}
		if evalCompare(expr.Op, expr.Type, expr.Type.Normalize(x), expr.Type.Normalize(y)) {
			return 1, nil
		}
		return 0, nil

	case *PointerExpr:
		x, y, err := evaluatePair(expr.LHS, expr.RHS, inputs)
		if err != nil {
			return 0, err
		}
		return evalPointer(expr.Op, expr.Scale, x, y), nil

	case *ExtractExpr:
		if concat, ok := expr.Expr.(*ConcatExpr); ok {
			for _, part := range concat.Parts {
				if expr.Offset >= part.Offset && expr.Offset+expr.Type.Size() <= part.Offset+exprSize(part.Expr) {
					return Evaluate(NewExtractExpr(part.Expr, expr.Offset-part.Offset, expr.Type), inputs)
				}
			}
			return 0, errors.Wrapf(ErrAggregate, "evaluate %s", expr)
		}
		x, err := Evaluate(expr.Expr, inputs)
		if err != nil {
			return 0, err
		}
		bits := uint64(x) & bitmask(ExprWidth(expr.Expr))
		return expr.Type.Normalize(int64(bits >> (expr.Offset * 8))), nil

	case *ConcatExpr:
		return 0, errors.Wrapf(ErrAggregate, "evaluate %s", expr)

	default:
		panic("unreachable")
	}
}

func evaluatePair(lhs, rhs Expr, inputs []int64) (x, y int64, err error) {
	if x, err = Evaluate(lhs, inputs); err != nil {
		return 0, 0, err
	} else if y, err = Evaluate(rhs, inputs); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// EvaluateCondition evaluates a boolean expression under inputs.
func EvaluateCondition(expr Expr, inputs []int64) (bool, error) {
	v, err := Evaluate(expr, inputs)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
