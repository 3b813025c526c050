package concolic_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/concolic"
	"github.com/benbjohnson/concolic/smtlib"
	"github.com/google/go-cmp/cmp"
)

func TestLower(t *testing.T) {
	for _, tt := range []struct {
		expr concolic.Expr
		want string
	}{
		{var0, "var0"},
		{intConst(-1), "(_ bv4294967295 32)"},
		{concolic.NewBoolConstantExpr(false), "false"},
		{concolic.NewUnaryExpr(concolic.NEG, concolic.TypeInt, var0), "(bvneg var0)"},
		{concolic.NewUnaryExpr(concolic.NOT, concolic.TypeUInt, var4), "(bvnot var4)"},
		{concolic.NewUnaryExpr(concolic.CAST, concolic.TypeLong, var0), "((_ sign_extend 32) var0)"},
		{concolic.NewUnaryExpr(concolic.CAST, concolic.TypeLong, var4), "((_ zero_extend 32) var4)"},
		{concolic.NewUnaryExpr(concolic.CAST, concolic.TypeChar, var0), "((_ extract 7 0) var0)"},
		{concolic.NewUnaryExpr(concolic.LNOT, concolic.TypeInt, var0), "(ite (not (= var0 (_ bv0 32))) (_ bv0 32) (_ bv1 32))"},
		{concolic.NewBinaryExpr(concolic.SUB, concolic.TypeInt, var0, var1), "(bvsub var0 var1)"},
		{concolic.NewBinaryExpr(concolic.DIV, concolic.TypeInt, var0, intConst(3)), "(bvsdiv var0 (_ bv3 32))"},
		{concolic.NewBinaryExpr(concolic.DIV, concolic.TypeUInt, var4, concolic.NewConstantExpr(concolic.TypeUInt, 3)), "(bvudiv var4 (_ bv3 32))"},
		{concolic.NewBinaryExpr(concolic.REM, concolic.TypeInt, var0, var1), "(bvsrem var0 var1)"},
		{concolic.NewBinaryExpr(concolic.SHR, concolic.TypeInt, var0, intConst(2)), "(bvashr var0 (_ bv2 32))"},
		{concolic.NewBinaryExpr(concolic.SHR, concolic.TypeUInt, var4, concolic.NewConstantExpr(concolic.TypeUInt, 2)), "(bvlshr var4 (_ bv2 32))"},
		{concolic.NewCompareExpr(concolic.GT, concolic.TypeInt, var0, var1), "(bvslt var1 var0)"},
		{concolic.NewCompareExpr(concolic.GE, concolic.TypeUInt, var4, concolic.NewConstantExpr(concolic.TypeUInt, 5)), "(bvule (_ bv5 32) var4)"},
		{concolic.NewCompareExpr(concolic.LT, concolic.TypeUInt, var4, concolic.NewConstantExpr(concolic.TypeUInt, 5)), "(bvult var4 (_ bv5 32))"},
		{concolic.NewCompareExpr(concolic.NE, concolic.TypeInt, var0, var1), "(not (= var0 var1))"},
		{concolic.NewPointerExpr(concolic.PTRADD, 4, var2, var3), "(bvadd var2 (bvmul var3 (_ bv4 64)))"},
		{concolic.NewPointerExpr(concolic.PTRDIFF, 4, var2, var3), "(bvsdiv (bvsub var2 var3) (_ bv4 64))"},
		{concolic.NewExtractExpr(var0, 1, concolic.TypeUChar), "((_ extract 15 8) var0)"},
	} {
		t.Run(tt.expr.String(), func(t *testing.T) {
			term, err := concolic.Lower[string](smtlib.NewBuilder(), tt.expr, make(map[concolic.VarID]string))
			if err != nil {
				t.Fatal(err)
			} else if term != tt.want {
				t.Fatalf("unexpected term: %s", term)
			}
		})
	}

	t.Run("ErrAggregate", func(t *testing.T) {
		concat := concolic.NewConcatExpr(8, []concolic.ConcatPart{{Offset: 0, Expr: var0}})
		if _, err := concolic.Lower[string](smtlib.NewBuilder(), concat, make(map[concolic.VarID]string)); !errors.Is(err, concolic.ErrUnsupported) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrBoolArithmetic", func(t *testing.T) {
		cond := concolic.NewCompareExpr(concolic.EQ, concolic.TypeInt, var0, var1)
		expr := concolic.NewBinaryExpr(concolic.ADD, concolic.TypeBool, cond, cond)
		if _, err := concolic.Lower[string](smtlib.NewBuilder(), expr, make(map[concolic.VarID]string)); !errors.Is(err, concolic.ErrUnsupported) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	// Variables shared by several expressions are declared once.
	t.Run("Declarations", func(t *testing.T) {
		b := smtlib.NewBuilder()
		decls := make(map[concolic.VarID]string)
		for _, expr := range []concolic.Expr{
			concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, var0, var1),
			concolic.NewBinaryExpr(concolic.MUL, concolic.TypeInt, var1, var0),
			concolic.NewUnaryExpr(concolic.CAST, concolic.TypeInt, var5),
		} {
			if _, err := concolic.Lower[string](b, expr, decls); err != nil {
				t.Fatal(err)
			}
		}
		if diff := cmp.Diff([]string{
			"(declare-fun var0 () (_ BitVec 32))",
			"(declare-fun var1 () (_ BitVec 32))",
			"(declare-fun var5 () (_ BitVec 8))",
		}, b.Declarations()); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestLowerCondition(t *testing.T) {
	if term, err := concolic.LowerCondition[string](smtlib.NewBuilder(), var0, make(map[concolic.VarID]string)); err != nil {
		t.Fatal(err)
	} else if term != "(not (= var0 (_ bv0 32)))" {
		t.Fatalf("unexpected term: %s", term)
	}

	cond := concolic.NewCompareExpr(concolic.LE, concolic.TypeInt, var0, intConst(3))
	if term, err := concolic.LowerCondition[string](smtlib.NewBuilder(), cond, make(map[concolic.VarID]string)); err != nil {
		t.Fatal(err)
	} else if term != "(bvsle var0 (_ bv3 32))" {
		t.Fatalf("unexpected term: %s", term)
	}
}

func TestLowerPath(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		term, unconstrained, err := concolic.LowerPath[string](smtlib.NewBuilder(), []concolic.Expr{
			concolic.NewCompareExpr(concolic.GT, concolic.TypeInt, var0, intConst(0)),
			concolic.NewExtractExpr(concolic.NewConcatExpr(8, []concolic.ConcatPart{{Offset: 0, Expr: var0}, {Offset: 4, Expr: var1}}), 2, concolic.TypeInt),
			concolic.NewCompareExpr(concolic.LT, concolic.TypeInt, var1, intConst(10)),
		}, make(map[concolic.VarID]string))
		if err != nil {
			t.Fatal(err)
		} else if term != "(and (bvslt (_ bv0 32) var0) (bvslt var1 (_ bv10 32)))" {
			t.Fatalf("unexpected term: %s", term)
		} else if diff := cmp.Diff([]int{1}, unconstrained); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if term, unconstrained, err := concolic.LowerPath[string](smtlib.NewBuilder(), nil, make(map[concolic.VarID]string)); err != nil {
			t.Fatal(err)
		} else if term != "true" {
			t.Fatalf("unexpected term: %s", term)
		} else if len(unconstrained) != 0 {
			t.Fatalf("unexpected unconstrained: %v", unconstrained)
		}
	})
}
