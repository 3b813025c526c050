// Package smtlib lowers symbolic expressions to SMT-LIB2 scripts in the QF_BV logic.
package smtlib

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/benbjohnson/concolic"
	"github.com/pkg/errors"
)

// Ensure builder implements interface.
var _ concolic.TermBuilder[string] = (*Builder)(nil)

// Builder constructs SMT-LIB2 terms as strings. It records a declaration for
// every variable in the order the variables are first lowered.
type Builder struct {
	decls []string
}

// NewBuilder returns a new instance of Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Declarations returns the declare-fun commands for all variables seen so far.
func (b *Builder) Declarations() []string {
	return b.decls
}

func (b *Builder) Var(id concolic.VarID, width uint) string {
	name := concolic.VarName(id)
	b.decls = append(b.decls, fmt.Sprintf("(declare-fun %s () (_ BitVec %d))", name, width))
	return name
}

func (b *Builder) BoolConst(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

func (b *Builder) BVConst(value uint64, width uint) string {
	if width < 64 {
		value &= (1 << width) - 1
	}
	return fmt.Sprintf("(_ bv%d %d)", value, width)
}

var termOps = map[concolic.TermOp]string{
	concolic.BVNeg:  "bvneg",
	concolic.BVNot:  "bvnot",
	concolic.Not:    "not",
	concolic.BVAdd:  "bvadd",
	concolic.BVSub:  "bvsub",
	concolic.BVMul:  "bvmul",
	concolic.BVUDiv: "bvudiv",
	concolic.BVSDiv: "bvsdiv",
	concolic.BVURem: "bvurem",
	concolic.BVSRem: "bvsrem",
	concolic.BVShl:  "bvshl",
	concolic.BVLShr: "bvlshr",
	concolic.BVAShr: "bvashr",
	concolic.BVAnd:  "bvand",
	concolic.BVOr:   "bvor",
	concolic.BVXor:  "bvxor",
	concolic.Eq:     "=",
	concolic.BVUlt:  "bvult",
	concolic.BVUle:  "bvule",
	concolic.BVSlt:  "bvslt",
	concolic.BVSle:  "bvsle",
}

func opName(op concolic.TermOp) string {
	name, ok := termOps[op]
	if !ok {
		panic(fmt.Sprintf("smtlib: unknown term op: %d", op))
	}
	return name
}

func (b *Builder) Unary(op concolic.TermOp, x string) string {
	return "(" + opName(op) + " " + x + ")"
}

func (b *Builder) Binary(op concolic.TermOp, x, y string) string {
	return "(" + opName(op) + " " + x + " " + y + ")"
}

func (b *Builder) Extend(x string, by uint, signed bool) string {
	if signed {
		return fmt.Sprintf("((_ sign_extend %d) %s)", by, x)
	}
	return fmt.Sprintf("((_ zero_extend %d) %s)", by, x)
}

func (b *Builder) Extract(x string, hi, lo uint) string {
	return fmt.Sprintf("((_ extract %d %d) %s)", hi, lo, x)
}

func (b *Builder) Ite(cond, x, y string) string {
	return "(ite " + cond + " " + x + " " + y + ")"
}

func (b *Builder) And(terms ...string) string {
	switch len(terms) {
	case 0:
		return "true"
	case 1:
		return terms[0]
	default:
		return "(and " + strings.Join(terms, " ") + ")"
	}
}

// WriteScript writes a complete script that asserts the conjunction of exprs
// and asks for a model. Returns the indices of expressions that could not be
// lowered and were left out.
func WriteScript(w io.Writer, exprs []concolic.Expr) (unconstrained []int, err error) {
	b := NewBuilder()
	term, unconstrained, err := concolic.LowerPath[string](b, exprs, make(map[concolic.VarID]string))
	if err != nil {
		return nil, err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "(set-logic QF_BV)")
	for _, decl := range b.Declarations() {
		fmt.Fprintln(bw, decl)
	}
	fmt.Fprintf(bw, "(assert %s)\n", term)
	fmt.Fprintln(bw, "(check-sat)")
	fmt.Fprintln(bw, "(get-model)")
	if err := bw.Flush(); err != nil {
		return nil, errors.Wrap(err, "write script")
	}
	return unconstrained, nil
}
