package concolic

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseExpr parses the text form produced by Expr.String(). The type of every
// variable must be present in vars. Untyped literals take the type of the
// operand they are combined with.
func ParseExpr(text string, vars map[VarID]Type) (Expr, error) {
	node, err := parser.ParseExpr(text)
	if err != nil {
		return nil, errors.Wrapf(err, "parse expr %q", text)
	}

	p := &exprParser{vars: vars}
	expr, err := p.parse(node, typeUnknown)
	if err != nil {
		return nil, errors.Wrapf(err, "parse expr %q", text)
	}
	return expr, nil
}

// MustParseExpr is like ParseExpr but panics on error.
func MustParseExpr(text string, vars map[VarID]Type) Expr {
	expr, err := ParseExpr(text, vars)
	if err != nil {
		panic(err)
	}
	return expr
}

// typeUnknown is the hint passed when the surrounding context has no type.
const typeUnknown = Type(-2)

type exprParser struct {
	vars map[VarID]Type
}

func (p *exprParser) parse(node ast.Expr, hint Type) (Expr, error) {
	switch node := node.(type) {
	case *ast.ParenExpr:
		return p.parse(node.X, hint)

	case *ast.Ident:
		return p.parseIdent(node)

	case *ast.BasicLit:
		return p.parseLiteral(node, false, hint)

	case *ast.UnaryExpr:
		return p.parseUnary(node, hint)

	case *ast.BinaryExpr:
		return p.parseBinary(node, hint)

	case *ast.CallExpr:
		return p.parseCall(node)

	default:
		return nil, errors.Errorf("unexpected syntax at offset %d", node.Pos()-1)
	}
}

func (p *exprParser) parseIdent(node *ast.Ident) (Expr, error) {
	switch node.Name {
	case "true":
		return NewBoolConstantExpr(true), nil
	case "false":
		return NewBoolConstantExpr(false), nil
	}

	if !strings.HasPrefix(node.Name, "var") {
		return nil, errors.Errorf("unexpected identifier: %s", node.Name)
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(node.Name, "var"), 10, 32)
	if err != nil {
		return nil, errors.Errorf("invalid variable name: %s", node.Name)
	}
	typ, ok := p.vars[VarID(id)]
	if !ok {
		return nil, errors.Wrapf(ErrUnboundVar, "%s", node.Name)
	}
	return NewVarExpr(VarID(id), typ), nil
}

func (p *exprParser) parseLiteral(node *ast.BasicLit, negative bool, hint Type) (Expr, error) {
	if node.Kind != token.INT {
		return nil, errors.Errorf("unexpected literal: %s", node.Value)
	} else if !hint.IsScalar() {
		return nil, errors.Errorf("untyped literal: %s", node.Value)
	}

	if negative {
		v, err := strconv.ParseInt("-"+node.Value, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "literal")
		}
		return NewConstantExpr(hint, v), nil
	}

	v, err := strconv.ParseUint(node.Value, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "literal")
	}
	return NewConstantExpr(hint, int64(v)), nil
}

func (p *exprParser) parseUnary(node *ast.UnaryExpr, hint Type) (Expr, error) {
	if lit, ok := node.X.(*ast.BasicLit); ok && node.Op == token.SUB {
		return p.parseLiteral(lit, true, hint)
	}

	var op UnaryOp
	switch node.Op {
	case token.SUB:
		op = NEG
	case token.XOR:
		op = NOT
	case token.NOT:
		op = LNOT
	default:
		return nil, errors.Errorf("unexpected unary operator: %s", node.Op)
	}

	x, err := p.parse(node.X, hint)
	if err != nil {
		return nil, err
	}
	return NewUnaryExpr(op, ExprType(x), x), nil
}

var binaryTokens = map[token.Token]BinaryOp{
	token.ADD: ADD,
	token.SUB: SUB,
	token.MUL: MUL,
	token.QUO: DIV,
	token.REM: REM,
	token.SHL: SHL,
	token.SHR: SHR,
	token.AND: AND,
	token.OR:  OR,
	token.XOR: XOR,
}

var compareTokens = map[token.Token]CompareOp{
	token.EQL: EQ,
	token.NEQ: NE,
	token.GTR: GT,
	token.LEQ: LE,
	token.LSS: LT,
	token.GEQ: GE,
}

func (p *exprParser) parseBinary(node *ast.BinaryExpr, hint Type) (Expr, error) {
	binaryOp, isBinary := binaryTokens[node.Op]
	compareOp, isCompare := compareTokens[node.Op]
	if !isBinary && !isCompare {
		return nil, errors.Errorf("unexpected binary operator: %s", node.Op)
	}

	// Comparisons produce bool, so the outer hint says nothing about operands.
	if isCompare {
		hint = typeUnknown
	}

	lhs, rhs, err := p.parseOperands(node.X, node.Y, hint)
	if err != nil {
		return nil, err
	}

	typ := ExprType(lhs)
	if isCompare {
		return NewCompareExpr(compareOp, typ, lhs, rhs), nil
	}
	return NewBinaryExpr(binaryOp, typ, lhs, rhs), nil
}

// parseOperands parses a pair of operands that share a type. The side that
// is not a literal is parsed first so its type can be given to the literal.
func (p *exprParser) parseOperands(x, y ast.Expr, hint Type) (lhs, rhs Expr, err error) {
	if isLiteral(x) && !isLiteral(y) {
		if rhs, err = p.parse(y, hint); err != nil {
			return nil, nil, err
		} else if lhs, err = p.parse(x, ExprType(rhs)); err != nil {
			return nil, nil, err
		}
		return lhs, rhs, nil
	}

	if lhs, err = p.parse(x, hint); err != nil {
		return nil, nil, err
	} else if rhs, err = p.parse(y, ExprType(lhs)); err != nil {
		return nil, nil, err
	}
	return lhs, rhs, nil
}

func isLiteral(node ast.Expr) bool {
	switch node := node.(type) {
	case *ast.BasicLit:
		return true
	case *ast.ParenExpr:
		return isLiteral(node.X)
	case *ast.UnaryExpr:
		_, ok := node.X.(*ast.BasicLit)
		return ok && node.Op == token.SUB
	}
	return false
}

func (p *exprParser) parseCall(node *ast.CallExpr) (Expr, error) {
	ident, ok := node.Fun.(*ast.Ident)
	if !ok {
		return nil, errors.Errorf("unexpected call at offset %d", node.Pos()-1)
	}

	// Conversions are written as calls to the type name.
	if typ, ok := ParseType(ident.Name); ok {
		if len(node.Args) != 1 || !typ.IsScalar() {
			return nil, errors.Errorf("invalid conversion to %s", ident.Name)
		}
		x, err := p.parse(node.Args[0], typeUnknown)
		if err != nil {
			return nil, err
		}
		return NewUnaryExpr(CAST, typ, x), nil
	}

	switch ident.Name {
	case "ptradd", "ptrsub", "ptrdiff":
		return p.parsePointer(ident.Name, node.Args)
	case "extract":
		return p.parseExtract(node.Args)
	case "concat":
		return p.parseConcat(node.Args)
	default:
		return nil, errors.Errorf("unknown function: %s", ident.Name)
	}
}

func (p *exprParser) parsePointer(name string, args []ast.Expr) (Expr, error) {
	if len(args) != 3 {
		return nil, errors.Errorf("%s: expected 3 arguments, got %d", name, len(args))
	}

	op, rhsType := PTRADD, TypeLong
	switch name {
	case "ptrsub":
		op = PTRSUB
	case "ptrdiff":
		op, rhsType = PTRDIFF, TypeULong
	}

	lhs, err := p.parse(args[0], TypeULong)
	if err != nil {
		return nil, err
	}
	rhs, err := p.parse(args[1], rhsType)
	if err != nil {
		return nil, err
	}
	scale, err := parseUint(args[2])
	if err != nil {
		return nil, errors.Wrapf(err, "%s scale", name)
	}
	return NewPointerExpr(op, scale, lhs, rhs), nil
}

func (p *exprParser) parseExtract(args []ast.Expr) (Expr, error) {
	if len(args) != 3 {
		return nil, errors.Errorf("extract: expected 3 arguments, got %d", len(args))
	}

	x, err := p.parse(args[0], typeUnknown)
	if err != nil {
		return nil, err
	}
	offset, err := parseUint(args[1])
	if err != nil {
		return nil, errors.Wrap(err, "extract offset")
	}

	ident, ok := args[2].(*ast.Ident)
	if !ok {
		return nil, errors.New("extract: expected type name")
	}
	typ, ok := ParseType(ident.Name)
	if !ok || !typ.IsScalar() {
		return nil, errors.Errorf("extract: invalid type: %s", ident.Name)
	} else if offset+typ.Size() > exprSize(x) {
		return nil, errors.Errorf("extract: out of bounds: %d+%d > %d", offset, typ.Size(), exprSize(x))
	}
	return NewExtractExpr(x, offset, typ), nil
}

func (p *exprParser) parseConcat(args []ast.Expr) (Expr, error) {
	if len(args) == 0 || len(args)%2 != 1 {
		return nil, errors.New("concat: expected size followed by offset/expr pairs")
	}

	size, err := parseUint(args[0])
	if err != nil {
		return nil, errors.Wrap(err, "concat size")
	}

	var parts []ConcatPart
	var end uint
	for i := 1; i < len(args); i += 2 {
		offset, err := parseUint(args[i])
		if err != nil {
			return nil, errors.Wrap(err, "concat offset")
		}
		x, err := p.parse(args[i+1], typeUnknown)
		if err != nil {
			return nil, err
		}
		if offset < end || offset+exprSize(x) > size {
			return nil, errors.Errorf("concat: invalid part at offset %d", offset)
		}
		end = offset + exprSize(x)
		parts = append(parts, ConcatPart{Offset: offset, Expr: x})
	}
	return NewConcatExpr(size, parts), nil
}

func parseUint(node ast.Expr) (uint, error) {
	lit, ok := node.(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return 0, errors.New("expected integer literal")
	}
	v, err := strconv.ParseUint(lit.Value, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
