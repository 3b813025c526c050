package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/benbjohnson/concolic"
	"github.com/pkg/errors"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure context implements interface.
var _ concolic.TermBuilder[C.Z3_ast] = (*Context)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
type Solver struct {
	ctx   *Context
	stats Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Result represents the outcome of a call to Solve.
type Result struct {
	Satisfiable bool

	// New seed vector. Variables that do not appear in the constraints keep
	// their value from the previous seed.
	Inputs []int64

	// Indices of constraints that could not be lowered and were ignored.
	Unconstrained []int
}

// Solve finds an input vector that satisfies all constraints. The vars slice
// holds the type of each input variable and seed its previous value.
func (s *Solver) Solve(constraints []concolic.Expr, vars []concolic.Type, seed []int64) (*Result, error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	decls := make(map[concolic.VarID]C.Z3_ast)
	term, unconstrained, err := concolic.LowerPath[C.Z3_ast](s.ctx, constraints, decls)
	if err != nil {
		return nil, err
	} else if err := s.ctx.takeErr(); err != nil {
		return nil, err
	}
	result := &Result{Unconstrained: unconstrained}

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	C.Z3_solver_assert(s.ctx.raw, solver, term)
	if err := s.ctx.err("Z3_solver_assert"); err != nil {
		return nil, err
	}

	// Check equations with the solver.
	// Exit immediately if unsatisfiable or the solver encountered an error.
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return nil, err
	} else if ret == C.Z3_L_FALSE {
		return result, nil
	} else if ret == C.Z3_L_UNDEF {
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return nil, concolic.ErrSolverTimeout
		case strings.Contains(reason, "canceled"):
			return nil, concolic.ErrSolverCanceled
		case strings.Contains(reason, "(resource limits reached)"):
			return nil, concolic.ErrSolverResourceLimit
		case strings.Contains(reason, "unknown"):
			return nil, concolic.ErrSolverUnknown
		default:
			return nil, fmt.Errorf("z3: %s", reason)
		}
	}
	result.Satisfiable = true

	// Start from the previous seed so unconstrained inputs are unchanged.
	result.Inputs = make([]int64, len(vars))
	copy(result.Inputs, seed)
	if len(decls) == 0 {
		return result, nil // no symbolics, ignore model
	}

	// Calculate a model for the given formula.
	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	for id, decl := range decls {
		if int(id) >= len(vars) {
			return nil, errors.Wrapf(concolic.ErrUnboundVar, "%s", concolic.VarName(id))
		}
		v, err := s.ctx.evalUint64(model, decl)
		if err != nil {
			return nil, err
		}
		result.Inputs[id] = vars[id].Normalize(int64(v))
	}
	return result, nil
}

// Context represents a Z3 context object that is used for constructing expressions.
//
// Term construction does not return errors. The first error is kept and
// returned by the next call to takeErr.
type Context struct {
	raw     C.Z3_context
	lastErr error
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return ctx.err("Z3_del_context")
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// check records the error of the last API call, if any, and returns ast.
func (ctx *Context) check(op string, ast C.Z3_ast) C.Z3_ast {
	if err := ctx.err(op); err != nil && ctx.lastErr == nil {
		ctx.lastErr = err
	}
	return ast
}

// takeErr returns and clears the first error recorded during term construction.
func (ctx *Context) takeErr() error {
	err := ctx.lastErr
	ctx.lastErr = nil
	return err
}

func (ctx *Context) Var(id concolic.VarID, width uint) C.Z3_ast {
	cname := C.CString(concolic.VarName(id))
	defer C.free(unsafe.Pointer(cname))
	nameSymbol := C.Z3_mk_string_symbol(ctx.raw, cname)

	sort := C.Z3_mk_bv_sort(ctx.raw, C.uint(width))
	ctx.check("Z3_mk_bv_sort", nil)
	return ctx.check("Z3_mk_const", C.Z3_mk_const(ctx.raw, nameSymbol, sort))
}

func (ctx *Context) BoolConst(value bool) C.Z3_ast {
	if value {
		return ctx.check("Z3_mk_true", C.Z3_mk_true(ctx.raw))
	}
	return ctx.check("Z3_mk_false", C.Z3_mk_false(ctx.raw))
}

func (ctx *Context) BVConst(value uint64, width uint) C.Z3_ast {
	if width < 64 {
		value &= (1 << width) - 1
	}
	sort := C.Z3_mk_bv_sort(ctx.raw, C.uint(width))
	ctx.check("Z3_mk_bv_sort", nil)
	return ctx.check("Z3_mk_unsigned_int64", C.Z3_mk_unsigned_int64(ctx.raw, C.uint64_t(value), sort))
}

func (ctx *Context) Unary(op concolic.TermOp, x C.Z3_ast) C.Z3_ast {
	switch op {
	case concolic.BVNeg:
		return ctx.check("Z3_mk_bvneg", C.Z3_mk_bvneg(ctx.raw, x))
	case concolic.BVNot:
		return ctx.check("Z3_mk_bvnot", C.Z3_mk_bvnot(ctx.raw, x))
	case concolic.Not:
		return ctx.check("Z3_mk_not", C.Z3_mk_not(ctx.raw, x))
	default:
		panic(fmt.Sprintf("z3: unexpected unary op: %d", op))
	}
}

func (ctx *Context) Binary(op concolic.TermOp, x, y C.Z3_ast) C.Z3_ast {
	switch op {
	case concolic.BVAdd:
		return ctx.check("Z3_mk_bvadd", C.Z3_mk_bvadd(ctx.raw, x, y))
	case concolic.BVSub:
		return ctx.check("Z3_mk_bvsub", C.Z3_mk_bvsub(ctx.raw, x, y))
	case concolic.BVMul:
		return ctx.check("Z3_mk_bvmul", C.Z3_mk_bvmul(ctx.raw, x, y))
	case concolic.BVUDiv:
		return ctx.check("Z3_mk_bvudiv", C.Z3_mk_bvudiv(ctx.raw, x, y))
	case concolic.BVSDiv:
		return ctx.check("Z3_mk_bvsdiv", C.Z3_mk_bvsdiv(ctx.raw, x, y))
	case concolic.BVURem:
		return ctx.check("Z3_mk_bvurem", C.Z3_mk_bvurem(ctx.raw, x, y))
	case concolic.BVSRem:
		return ctx.check("Z3_mk_bvsrem", C.Z3_mk_bvsrem(ctx.raw, x, y))
	case concolic.BVShl:
		return ctx.check("Z3_mk_bvshl", C.Z3_mk_bvshl(ctx.raw, x, y))
	case concolic.BVLShr:
		return ctx.check("Z3_mk_bvlshr", C.Z3_mk_bvlshr(ctx.raw, x, y))
	case concolic.BVAShr:
		return ctx.check("Z3_mk_bvashr", C.Z3_mk_bvashr(ctx.raw, x, y))
	case concolic.BVAnd:
		return ctx.check("Z3_mk_bvand", C.Z3_mk_bvand(ctx.raw, x, y))
	case concolic.BVOr:
		return ctx.check("Z3_mk_bvor", C.Z3_mk_bvor(ctx.raw, x, y))
	case concolic.BVXor:
		return ctx.check("Z3_mk_bvxor", C.Z3_mk_bvxor(ctx.raw, x, y))
	case concolic.Eq:
		return ctx.check("Z3_mk_eq", C.Z3_mk_eq(ctx.raw, x, y))
	case concolic.BVUlt:
		return ctx.check("Z3_mk_bvult", C.Z3_mk_bvult(ctx.raw, x, y))
	case concolic.BVUle:
		return ctx.check("Z3_mk_bvule", C.Z3_mk_bvule(ctx.raw, x, y))
	case concolic.BVSlt:
		return ctx.check("Z3_mk_bvslt", C.Z3_mk_bvslt(ctx.raw, x, y))
	case concolic.BVSle:
		return ctx.check("Z3_mk_bvsle", C.Z3_mk_bvsle(ctx.raw, x, y))
	default:
		panic(fmt.Sprintf("z3: unexpected binary op: %d", op))
	}
}

func (ctx *Context) Extend(x C.Z3_ast, by uint, signed bool) C.Z3_ast {
	if signed {
		return ctx.check("Z3_mk_sign_ext", C.Z3_mk_sign_ext(ctx.raw, C.uint(by), x))
	}
	return ctx.check("Z3_mk_zero_ext", C.Z3_mk_zero_ext(ctx.raw, C.uint(by), x))
}

func (ctx *Context) Extract(x C.Z3_ast, hi, lo uint) C.Z3_ast {
	return ctx.check("Z3_mk_extract", C.Z3_mk_extract(ctx.raw, C.uint(hi), C.uint(lo), x))
}

func (ctx *Context) Ite(cond, x, y C.Z3_ast) C.Z3_ast {
	return ctx.check("Z3_mk_ite", C.Z3_mk_ite(ctx.raw, cond, x, y))
}

func (ctx *Context) And(terms ...C.Z3_ast) C.Z3_ast {
	switch len(terms) {
	case 0:
		return ctx.BoolConst(true)
	case 1:
		return terms[0]
	default:
		return ctx.check("Z3_mk_and", C.Z3_mk_and(ctx.raw, C.uint(len(terms)), &terms[0]))
	}
}

// evalUint64 evaluates a bit-vector term against a model.
func (ctx *Context) evalUint64(model C.Z3_model, ast C.Z3_ast) (uint64, error) {
	var z3Expr C.Z3_ast
	C.Z3_model_eval(ctx.raw, model, ast, C.bool(true), &z3Expr)
	if err := ctx.err("Z3_model_eval"); err != nil {
		return 0, err
	}

	var v C.uint64_t
	C.Z3_get_numeral_uint64(ctx.raw, z3Expr, &v)
	if err := ctx.err("Z3_get_numeral_uint64"); err != nil {
		return 0, err
	}
	return uint64(v), nil
}

// String returns the SMT-LIB2 text of a term. Used for debugging.
func (ctx *Context) String(ast C.Z3_ast) string {
	return C.GoString(C.Z3_ast_to_string(ctx.raw, ast))
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Stats holds cumulative solver counters.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
