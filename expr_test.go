package concolic_test

import (
	"testing"

	"github.com/benbjohnson/concolic"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-set"
)

var (
	var0 = concolic.NewVarExpr(0, concolic.TypeInt)
	var1 = concolic.NewVarExpr(1, concolic.TypeInt)
	var2 = concolic.NewVarExpr(2, concolic.TypeULong)
	var3 = concolic.NewVarExpr(3, concolic.TypeLong)
	var4 = concolic.NewVarExpr(4, concolic.TypeUInt)
	var5 = concolic.NewVarExpr(5, concolic.TypeChar)
)

// testVars holds the types of the package-level test variables.
var testVars = map[concolic.VarID]concolic.Type{
	0: concolic.TypeInt,
	1: concolic.TypeInt,
	2: concolic.TypeULong,
	3: concolic.TypeLong,
	4: concolic.TypeUInt,
	5: concolic.TypeChar,
}

func intConst(v int64) *concolic.ConstantExpr {
	return concolic.NewConstantExpr(concolic.TypeInt, v)
}

func TestExprType(t *testing.T) {
	t.Run("Compare", func(t *testing.T) {
		if typ := concolic.ExprType(concolic.NewCompareExpr(concolic.LT, concolic.TypeInt, var0, var1)); typ != concolic.TypeBool {
			t.Fatalf("unexpected type: %s", typ)
		}
	})
	t.Run("Pointer", func(t *testing.T) {
		if typ := concolic.ExprType(concolic.NewPointerExpr(concolic.PTRADD, 4, var2, var3)); typ != concolic.TypeULong {
			t.Fatalf("unexpected type: %s", typ)
		}
		if typ := concolic.ExprType(concolic.NewPointerExpr(concolic.PTRDIFF, 4, var2, var2)); typ != concolic.TypeLong {
			t.Fatalf("unexpected type: %s", typ)
		}
	})
	t.Run("Concat", func(t *testing.T) {
		expr := concolic.NewConcatExpr(12, []concolic.ConcatPart{{Offset: 0, Expr: var0}})
		if typ := concolic.ExprType(expr); typ != concolic.TypeStruct {
			t.Fatalf("unexpected type: %s", typ)
		} else if w := concolic.ExprWidth(expr); w != 96 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("Cast", func(t *testing.T) {
		if w := concolic.ExprWidth(concolic.NewUnaryExpr(concolic.CAST, concolic.TypeShort, var0)); w != 16 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
}

func TestNewUnaryExpr(t *testing.T) {
	t.Run("CastSameType", func(t *testing.T) {
		if expr := concolic.NewUnaryExpr(concolic.CAST, concolic.TypeInt, var0); expr != concolic.Expr(var0) {
			t.Fatalf("unexpected expr: %s", expr)
		}
	})
	t.Run("ConstantCast", func(t *testing.T) {
		if diff := cmp.Diff(
			concolic.NewConstantExpr(concolic.TypeChar, 44),
			concolic.NewUnaryExpr(concolic.CAST, concolic.TypeChar, intConst(300)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConstantSignExtend", func(t *testing.T) {
		if diff := cmp.Diff(
			concolic.NewConstantExpr(concolic.TypeUInt, 0xFFFFFFFF),
			concolic.NewUnaryExpr(concolic.CAST, concolic.TypeUInt, concolic.NewConstantExpr(concolic.TypeChar, -1)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConstantNEG", func(t *testing.T) {
		if diff := cmp.Diff(
			concolic.NewConstantExpr(concolic.TypeChar, -128),
			concolic.NewUnaryExpr(concolic.NEG, concolic.TypeChar, concolic.NewConstantExpr(concolic.TypeChar, -128)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConstantLNOT", func(t *testing.T) {
		if diff := cmp.Diff(intConst(1), concolic.NewUnaryExpr(concolic.LNOT, concolic.TypeInt, intConst(0))); diff != "" {
			t.Fatal(diff)
		}
		if diff := cmp.Diff(intConst(0), concolic.NewUnaryExpr(concolic.LNOT, concolic.TypeInt, intConst(-7))); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		if diff := cmp.Diff(
			&concolic.UnaryExpr{Op: concolic.NOT, Type: concolic.TypeInt, Expr: var0},
			concolic.NewUnaryExpr(concolic.NOT, concolic.TypeInt, var0),
		); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewBinaryExpr(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		for _, tt := range []struct {
			name string
			op   concolic.BinaryOp
			typ  concolic.Type
			x, y int64
			want int64
		}{
			{"ADD", concolic.ADD, concolic.TypeInt, 6, 4, 10},
			{"ADDOverflow", concolic.ADD, concolic.TypeUChar, 200, 100, 44},
			{"SUB", concolic.SUB, concolic.TypeUInt, 1, 2, 0xFFFFFFFF},
			{"MUL", concolic.MUL, concolic.TypeShort, 300, 300, 24464},
			{"SDIV", concolic.DIV, concolic.TypeInt, -7, 2, -3},
			{"UDIV", concolic.DIV, concolic.TypeUChar, -2, 2, 127},
			{"SREM", concolic.REM, concolic.TypeInt, -7, 2, -1},
			{"UREM", concolic.REM, concolic.TypeUShort, -1, 10, 5},
			{"SHL", concolic.SHL, concolic.TypeChar, 1, 7, -128},
			{"ASHR", concolic.SHR, concolic.TypeInt, -16, 2, -4},
			{"LSHR", concolic.SHR, concolic.TypeUInt, -16, 2, 0x3FFFFFFC},
			{"AND", concolic.AND, concolic.TypeInt, 0xF0, 0x3C, 0x30},
			{"OR", concolic.OR, concolic.TypeInt, 0xF0, 0x0F, 0xFF},
			{"XOR", concolic.XOR, concolic.TypeLong, -1, 0xFF, -256},
		} {
			t.Run(tt.name, func(t *testing.T) {
				if diff := cmp.Diff(
					concolic.NewConstantExpr(tt.typ, tt.want),
					concolic.NewBinaryExpr(tt.op, tt.typ, concolic.NewConstantExpr(tt.typ, tt.x), concolic.NewConstantExpr(tt.typ, tt.y)),
				); diff != "" {
					t.Fatal(diff)
				}
			})
		}
	})

	// Folding a division by zero would trap, so the node is kept.
	t.Run("DivideByZero", func(t *testing.T) {
		if diff := cmp.Diff(
			&concolic.BinaryExpr{Op: concolic.DIV, Type: concolic.TypeInt, LHS: intConst(1), RHS: intConst(0)},
			concolic.NewBinaryExpr(concolic.DIV, concolic.TypeInt, intConst(1), intConst(0)),
		); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Symbolic", func(t *testing.T) {
		if diff := cmp.Diff(
			&concolic.BinaryExpr{Op: concolic.SUB, Type: concolic.TypeInt, LHS: var0, RHS: var1},
			concolic.NewBinaryExpr(concolic.SUB, concolic.TypeInt, var0, var1),
		); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrCONCRETE", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		concolic.NewBinaryExpr(concolic.CONCRETE, concolic.TypeInt, var0, var1)
	})
}

func TestNewCompareExpr(t *testing.T) {
	t.Run("Signed", func(t *testing.T) {
		if diff := cmp.Diff(
			concolic.NewBoolConstantExpr(false),
			concolic.NewCompareExpr(concolic.GT, concolic.TypeInt, intConst(-1), intConst(0)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Unsigned", func(t *testing.T) {
		if diff := cmp.Diff(
			concolic.NewBoolConstantExpr(true),
			concolic.NewCompareExpr(concolic.GT, concolic.TypeUInt, concolic.NewConstantExpr(concolic.TypeUInt, -1), concolic.NewConstantExpr(concolic.TypeUInt, 0)),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		expr := concolic.NewCompareExpr(concolic.LE, concolic.TypeInt, var0, intConst(3))
		if diff := cmp.Diff(&concolic.CompareExpr{Op: concolic.LE, Type: concolic.TypeInt, LHS: var0, RHS: intConst(3)}, expr); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewNegatedExpr(t *testing.T) {
	t.Run("Compare", func(t *testing.T) {
		for _, tt := range []struct {
			op, neg concolic.CompareOp
		}{
			{concolic.EQ, concolic.NE},
			{concolic.NE, concolic.EQ},
			{concolic.GT, concolic.LE},
			{concolic.LE, concolic.GT},
			{concolic.LT, concolic.GE},
			{concolic.GE, concolic.LT},
		} {
			t.Run(tt.op.String(), func(t *testing.T) {
				cond := concolic.NewCompareExpr(tt.op, concolic.TypeInt, var0, var1)
				neg := concolic.NewNegatedExpr(cond)
				if diff := cmp.Diff(concolic.NewCompareExpr(tt.neg, concolic.TypeInt, var0, var1), neg); diff != "" {
					t.Fatal(diff)
				} else if !concolic.Equal(cond, concolic.NewNegatedExpr(neg)) {
					t.Fatalf("double negation: %s", concolic.NewNegatedExpr(neg))
				}
			})
		}
	})

	// The negation holds on exactly the inputs where the condition does not.
	t.Run("Complement", func(t *testing.T) {
		cond := concolic.NewCompareExpr(concolic.LT, concolic.TypeChar, var5, concolic.NewConstantExpr(concolic.TypeChar, 10))
		neg := concolic.NewNegatedExpr(cond)
		for v := int64(-128); v < 128; v++ {
			inputs := []int64{0, 0, 0, 0, 0, v}
			a, err := concolic.EvaluateCondition(cond, inputs)
			if err != nil {
				t.Fatal(err)
			}
			b, err := concolic.EvaluateCondition(neg, inputs)
			if err != nil {
				t.Fatal(err)
			} else if a == b {
				t.Fatalf("v=%d: cond=%v neg=%v", v, a, b)
			}
		}
	})

	t.Run("BoolConstant", func(t *testing.T) {
		if diff := cmp.Diff(concolic.NewBoolConstantExpr(false), concolic.NewNegatedExpr(concolic.NewBoolConstantExpr(true))); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Value", func(t *testing.T) {
		if s := concolic.NewNegatedExpr(var0).String(); s != "var0 == 0" {
			t.Fatalf("unexpected string: %s", s)
		}
	})
}

func TestNewConditionExpr(t *testing.T) {
	if s := concolic.NewConditionExpr(concolic.NewBinaryExpr(concolic.AND, concolic.TypeInt, var0, intConst(1))).String(); s != "(var0 & 1) != 0" {
		t.Fatalf("unexpected string: %s", s)
	}

	cond := concolic.NewCompareExpr(concolic.EQ, concolic.TypeInt, var0, var1)
	if expr := concolic.NewConditionExpr(cond); expr != cond {
		t.Fatalf("unexpected expr: %s", expr)
	}
}

func TestNewConcatExpr(t *testing.T) {
	t.Run("Sorted", func(t *testing.T) {
		expr := concolic.NewConcatExpr(8, []concolic.ConcatPart{{Offset: 4, Expr: var1}, {Offset: 0, Expr: var0}})
		if diff := cmp.Diff(&concolic.ConcatExpr{Size: 8, Parts: []concolic.ConcatPart{{Offset: 0, Expr: var0}, {Offset: 4, Expr: var1}}}, expr); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ErrOverlap", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		concolic.NewConcatExpr(8, []concolic.ConcatPart{{Offset: 0, Expr: var0}, {Offset: 2, Expr: var1}})
	})
	t.Run("ErrOutOfBounds", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		concolic.NewConcatExpr(6, []concolic.ConcatPart{{Offset: 4, Expr: var1}})
	})
}

func TestNewExtractExpr(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		if diff := cmp.Diff(
			concolic.NewConstantExpr(concolic.TypeUChar, 0x34),
			concolic.NewExtractExpr(intConst(0x345612), 2, concolic.TypeUChar),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("FullWidth", func(t *testing.T) {
		if diff := cmp.Diff(
			concolic.NewUnaryExpr(concolic.CAST, concolic.TypeUInt, var0),
			concolic.NewExtractExpr(var0, 0, concolic.TypeUInt),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConcatPart", func(t *testing.T) {
		concat := concolic.NewConcatExpr(8, []concolic.ConcatPart{{Offset: 0, Expr: var0}, {Offset: 4, Expr: var1}})
		if diff := cmp.Diff(
			&concolic.ExtractExpr{Expr: var1, Offset: 2, Type: concolic.TypeShort},
			concolic.NewExtractExpr(concat, 6, concolic.TypeShort),
		); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConcatStraddle", func(t *testing.T) {
		concat := concolic.NewConcatExpr(8, []concolic.ConcatPart{{Offset: 0, Expr: var0}, {Offset: 4, Expr: var1}})
		expr := concolic.NewExtractExpr(concat, 2, concolic.TypeInt)
		if _, ok := expr.(*concolic.ExtractExpr); !ok {
			t.Fatalf("unexpected expr: %s", spew.Sdump(expr))
		}
	})
	t.Run("ErrOutOfBounds", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		concolic.NewExtractExpr(var0, 2, concolic.TypeInt)
	})
}

func TestExpr_String(t *testing.T) {
	for _, tt := range []struct {
		expr concolic.Expr
		s    string
	}{
		{var0, "var0"},
		{intConst(-5), "-5"},
		{concolic.NewConstantExpr(concolic.TypeUInt, -1), "4294967295"},
		{concolic.NewConstantExpr(concolic.TypeULong, -1), "18446744073709551615"},
		{concolic.NewBoolConstantExpr(true), "true"},
		{concolic.NewUnaryExpr(concolic.NEG, concolic.TypeInt, var0), "-var0"},
		{concolic.NewUnaryExpr(concolic.NOT, concolic.TypeInt, var0), "^var0"},
		{concolic.NewUnaryExpr(concolic.NEG, concolic.TypeInt, concolic.NewUnaryExpr(concolic.NEG, concolic.TypeInt, var0)), "-(-var0)"},
		{concolic.NewUnaryExpr(concolic.LNOT, concolic.TypeBool, concolic.NewCompareExpr(concolic.EQ, concolic.TypeInt, var0, intConst(1))), "!(var0 == 1)"},
		{concolic.NewUnaryExpr(concolic.CAST, concolic.TypeChar, var0), "char(var0)"},
		{concolic.NewUnaryExpr(concolic.NEG, concolic.TypeInt, concolic.NewUnaryExpr(concolic.CAST, concolic.TypeInt, var5)), "-int(var5)"},
		{concolic.NewBinaryExpr(concolic.MUL, concolic.TypeInt, concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, var0, intConst(1)), var1), "(var0 + 1) * var1"},
		{concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, var0, intConst(-5)), "var0 + -5"},
		{concolic.NewCompareExpr(concolic.GT, concolic.TypeInt, concolic.NewBinaryExpr(concolic.SUB, concolic.TypeInt, var0, var1), intConst(0)), "(var0 - var1) > 0"},
		{concolic.NewCompareExpr(concolic.GT, concolic.TypeUInt, var4, concolic.NewConstantExpr(concolic.TypeUInt, -1)), "var4 > 4294967295"},
		{concolic.NewCompareExpr(concolic.EQ, concolic.TypeULong, var2, concolic.NewConstantExpr(concolic.TypeULong, -1)), "var2 == 18446744073709551615"},
		{concolic.NewPointerExpr(concolic.PTRADD, 4, var2, var3), "ptradd(var2, var3, 4)"},
		{concolic.NewPointerExpr(concolic.PTRDIFF, 8, var2, concolic.NewConstantExpr(concolic.TypeULong, 4096)), "ptrdiff(var2, 4096, 8)"},
		{concolic.NewConcatExpr(8, []concolic.ConcatPart{{Offset: 4, Expr: var1}, {Offset: 0, Expr: var0}}), "concat(8, 0, var0, 4, var1)"},
		{concolic.NewExtractExpr(var0, 1, concolic.TypeChar), "extract(var0, 1, char)"},
	} {
		t.Run(tt.s, func(t *testing.T) {
			if s := tt.expr.String(); s != tt.s {
				t.Fatalf("unexpected string: %s", s)
			}
		})
	}
}

func TestIsConcrete(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		for _, expr := range []concolic.Expr{
			intConst(1),
			&concolic.BinaryExpr{Op: concolic.ADD, Type: concolic.TypeInt, LHS: intConst(1), RHS: intConst(2)},
			&concolic.UnaryExpr{Op: concolic.NEG, Type: concolic.TypeInt, Expr: &concolic.BinaryExpr{Op: concolic.DIV, Type: concolic.TypeInt, LHS: intConst(1), RHS: intConst(0)}},
			&concolic.PointerExpr{Op: concolic.PTRSUB, Scale: 2, LHS: intConst(1), RHS: intConst(2)},
		} {
			if !concolic.IsConcrete(expr) {
				t.Fatalf("expected concrete: %s", expr)
			}

			vars := set.New[concolic.VarID](0)
			concolic.AppendVars(vars, expr)
			if vars.Size() != 0 {
				t.Fatalf("unexpected vars: %v", vars)
			}
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		expr := concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, intConst(1), concolic.NewUnaryExpr(concolic.NEG, concolic.TypeInt, var1))
		if concolic.IsConcrete(expr) {
			t.Fatal("expected symbolic")
		}
	})
}

func TestVars(t *testing.T) {
	a := concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, var1, var0)
	b := concolic.NewCompareExpr(concolic.EQ, concolic.TypeInt, var1, concolic.NewUnaryExpr(concolic.CAST, concolic.TypeInt, var5))
	if diff := cmp.Diff([]concolic.VarID{0, 1, 5}, concolic.Vars(a, b)); diff != "" {
		t.Fatal(diff)
	}
}

func TestDependsOn(t *testing.T) {
	expr := concolic.NewCompareExpr(concolic.LT, concolic.TypeInt, concolic.NewBinaryExpr(concolic.SUB, concolic.TypeInt, var0, var1), var0)

	vars := map[concolic.VarID]concolic.Type{0: concolic.TypeInt, 1: concolic.TypeInt}
	if !concolic.DependsOn(expr, vars) {
		t.Fatal("expected dependency")
	}

	delete(vars, 0)
	if !concolic.DependsOn(expr, vars) {
		t.Fatal("expected dependency on var1")
	}

	delete(vars, 1)
	if concolic.DependsOn(expr, vars) {
		t.Fatal("unexpected dependency")
	}
}

func TestSize(t *testing.T) {
	expr := concolic.NewCompareExpr(concolic.GT, concolic.TypeInt, concolic.NewBinaryExpr(concolic.SUB, concolic.TypeInt, var0, var1), intConst(0))
	if n := concolic.Size(expr); n != 5 {
		t.Fatalf("unexpected size: %d", n)
	}
}

func TestClone(t *testing.T) {
	expr := concolic.NewCompareExpr(concolic.GT, concolic.TypeInt, concolic.NewBinaryExpr(concolic.SUB, concolic.TypeInt, var0, var1), intConst(0))
	other := concolic.Clone(expr)
	if diff := cmp.Diff(expr, other); diff != "" {
		t.Fatal(diff)
	}

	// Mutating the copy must not affect the original.
	other.(*concolic.CompareExpr).LHS.(*concolic.BinaryExpr).LHS.(*concolic.VarExpr).ID = 9
	if s := expr.String(); s != "(var0 - var1) > 0" {
		t.Fatalf("original modified: %s", s)
	}

	if concolic.Clone(nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestCompare(t *testing.T) {
	t.Run("Equal", func(t *testing.T) {
		a := concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, var0, intConst(1))
		b := concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, concolic.NewVarExpr(0, concolic.TypeInt), intConst(1))
		if !concolic.Equal(a, b) {
			t.Fatal("expected structural equality")
		}
	})
	t.Run("Kind", func(t *testing.T) {
		if cmp := concolic.Compare(intConst(100), var0); cmp != -1 {
			t.Fatalf("unexpected result: %d", cmp)
		}
	})
	t.Run("Operand", func(t *testing.T) {
		a := concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, var0, intConst(1))
		b := concolic.NewBinaryExpr(concolic.ADD, concolic.TypeInt, var0, intConst(2))
		if cmp := concolic.Compare(a, b); cmp != -1 {
			t.Fatalf("unexpected result: %d", cmp)
		} else if cmp := concolic.Compare(b, a); cmp != 1 {
			t.Fatalf("unexpected result: %d", cmp)
		}
	})
	t.Run("Type", func(t *testing.T) {
		if concolic.Equal(concolic.NewConstantExpr(concolic.TypeInt, 1), concolic.NewConstantExpr(concolic.TypeUInt, 1)) {
			t.Fatal("expected types to differ")
		}
	})
	t.Run("Nil", func(t *testing.T) {
		if cmp := concolic.Compare(nil, var0); cmp != -1 {
			t.Fatalf("unexpected result: %d", cmp)
		} else if !concolic.Equal(nil, nil) {
			t.Fatal("expected equality")
		}
	})
}
