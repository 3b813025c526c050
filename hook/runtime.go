// Package hook implements the boundary between instrumented programs and the
// interpreter. Instrumentation reports raw operator and type ids which are
// translated here before they reach the interpreter.
package hook

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/benbjohnson/concolic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Op represents an operator id emitted by the instrumentation.
type Op int

// Instrumentation operators, in the order the instrumentation numbers them.
const (
	// binary arithmetic
	OpAdd = Op(iota)
	OpSubtract
	OpMultiply
	OpDivide
	OpSDivide
	OpMod
	OpSMod

	// binary bitwise operators
	OpShiftL
	OpShiftR
	OpSShiftR
	OpBitwiseAnd
	OpBitwiseOr
	OpBitwiseXor

	// binary comparison
	OpEq
	OpNeq
	OpGT
	OpSGT
	OpLEq
	OpSLEq
	OpLT
	OpSLT
	OpGEq
	OpSGEq

	// unhandled binary operators
	OpConcrete

	// unary operators
	OpNegate
	OpBitwiseNot
	OpLNot
	OpUnsignedCast
	OpSignedCast

	// pointer operators
	OpAddPI
	OpSubtractPI
	OpSubtractPP
)

var binaryOps = map[Op]concolic.BinaryOp{
	OpAdd:        concolic.ADD,
	OpSubtract:   concolic.SUB,
	OpMultiply:   concolic.MUL,
	OpDivide:     concolic.DIV,
	OpSDivide:    concolic.DIV,
	OpMod:        concolic.REM,
	OpSMod:       concolic.REM,
	OpShiftL:     concolic.SHL,
	OpShiftR:     concolic.SHR,
	OpSShiftR:    concolic.SHR,
	OpBitwiseAnd: concolic.AND,
	OpBitwiseOr:  concolic.OR,
	OpBitwiseXor: concolic.XOR,
	OpConcrete:   concolic.CONCRETE,
}

var compareOps = map[Op]concolic.CompareOp{
	OpEq:   concolic.EQ,
	OpNeq:  concolic.NE,
	OpGT:   concolic.GT,
	OpSGT:  concolic.GT,
	OpLEq:  concolic.LE,
	OpSLEq: concolic.LE,
	OpLT:   concolic.LT,
	OpSLT:  concolic.LT,
	OpGEq:  concolic.GE,
	OpSGEq: concolic.GE,
}

// signedOps holds the operators whose signedness is fixed by the opcode. The
// operand type is switched to its counterpart of that signedness.
var signedOps = map[Op]bool{
	OpDivide:  false,
	OpSDivide: true,
	OpMod:     false,
	OpSMod:    true,
	OpShiftR:  false,
	OpSShiftR: true,
	OpGT:      false,
	OpSGT:     true,
	OpLEq:     false,
	OpSLEq:    true,
	OpLT:      false,
	OpSLT:     true,
	OpGEq:     false,
	OpSGEq:    true,
}

var unaryOps = map[Op]concolic.UnaryOp{
	OpNegate:       concolic.NEG,
	OpBitwiseNot:   concolic.NOT,
	OpLNot:         concolic.LNOT,
	OpUnsignedCast: concolic.CAST,
	OpSignedCast:   concolic.CAST,
}

var pointerOps = map[Op]concolic.PointerOp{
	OpAddPI:      concolic.PTRADD,
	OpSubtractPI: concolic.PTRSUB,
	OpSubtractPP: concolic.PTRDIFF,
}

// Runtime receives instrumentation calls for a single run.
//
// Until the program requests its first symbolic input the runtime only
// tracks calls, returns and branch coverage; every branch is preceded by a
// fake concrete load of its outcome.
type Runtime struct {
	interp      *concolic.Interpreter
	preSymbolic bool

	Logger logrus.FieldLogger
}

// NewRuntime returns a new runtime whose inputs are read from seed.
func NewRuntime(seed []int64, logger logrus.FieldLogger) *Runtime {
	interp := concolic.NewInterpreter(seed)
	if logger != nil {
		interp.Logger = logger
	} else {
		logger = interp.Logger
	}
	return &Runtime{
		interp:      interp,
		preSymbolic: true,
		Logger:      logger,
	}
}

// Interpreter returns the underlying interpreter.
func (r *Runtime) Interpreter() *concolic.Interpreter { return r.interp }

// Execution returns the execution recorded so far.
func (r *Runtime) Execution() *concolic.Execution { return r.interp.Execution() }

// PreSymbolic returns true if no symbolic input has been requested yet.
func (r *Runtime) PreSymbolic() bool { return r.preSymbolic }

// RegGlobal registers a global variable of size bytes at addr.
func (r *Runtime) RegGlobal(id int32, addr uint64, size uint) {
	r.interp.Alloc(concolic.LocationID(id), addr, size)
}

// Load pushes the value of type ty read from addr.
func (r *Runtime) Load(id int32, addr uint64, ty int8, val int64) {
	if !r.preSymbolic {
		r.interp.Load(concolic.LocationID(id), addr, typeOf("load", ty), val)
	}
}

// Deref replaces the pointer on top of the stack with the value it points to.
func (r *Runtime) Deref(id int32, addr uint64, ty int8, val int64) {
	if !r.preSymbolic {
		r.interp.Deref(concolic.LocationID(id), addr, typeOf("deref", ty), val)
	}
}

// Store pops the top of the stack into addr.
func (r *Runtime) Store(id int32, addr uint64) {
	if !r.preSymbolic {
		r.interp.Store(concolic.LocationID(id), addr)
	}
}

// Write pops the top of the stack into addr without a prior load.
func (r *Runtime) Write(id int32, addr uint64) {
	if !r.preSymbolic {
		r.interp.Write(concolic.LocationID(id), addr)
	}
}

// ClearStack discards the values pushed in the current frame.
func (r *Runtime) ClearStack(id int32) {
	if !r.preSymbolic {
		r.interp.ClearStack(concolic.LocationID(id))
	}
}

// Apply1 applies a unary operator to the top of the stack.
func (r *Runtime) Apply1(id int32, op Op, ty int8, val int64) {
	unaryOp, ok := unaryOps[op]
	if !ok {
		fatalf("apply1", "operator out of range: %d", op)
	}
	if !r.preSymbolic {
		r.interp.ApplyUnaryOp(concolic.LocationID(id), unaryOp, typeOf("apply1", ty), val)
	}
}

// Apply2 applies a binary or comparison operator to the top two stack values.
func (r *Runtime) Apply2(id int32, op Op, ty int8, val int64) {
	binaryOp, isBinary := binaryOps[op]
	compareOp, isCompare := compareOps[op]
	if !isBinary && !isCompare {
		fatalf("apply2", "operator out of range: %d", op)
	}

	if r.preSymbolic {
		return
	}

	typ := typeOf("apply2", ty)
	if signed, ok := signedOps[op]; ok && typ.WithSign(signed) != typ {
		r.Logger.WithFields(logrus.Fields{"event": "apply2", "id": id, "op": int(op), "type": typ.String()}).Debug("operand type sign follows opcode")
		typ = typ.WithSign(signed)
	}

	if isCompare {
		r.interp.ApplyCompareOp(concolic.LocationID(id), compareOp, typ, val)
		return
	}
	r.interp.ApplyBinaryOp(concolic.LocationID(id), binaryOp, typ, val)
}

// PtrApply2 applies pointer arithmetic where size is the size of the pointed-to type.
func (r *Runtime) PtrApply2(id int32, op Op, size uint, val int64) {
	pointerOp, ok := pointerOps[op]
	if !ok {
		fatalf("ptr_apply2", "operator out of range: %d", op)
	}
	if !r.preSymbolic {
		r.interp.ApplyPtrOp(concolic.LocationID(id), pointerOp, size, val)
	}
}

// Branch records the outcome of a conditional branch.
func (r *Runtime) Branch(id int32, bid int32, b bool) {
	if r.preSymbolic {
		var v int64
		if b {
			v = 1
		}
		r.interp.Load(concolic.LocationID(id), 0, concolic.TypeChar, v)
	}
	r.interp.Branch(concolic.LocationID(id), concolic.BranchID(bid), b)
}

// Call enters the function with id fid.
func (r *Runtime) Call(id int32, fid uint32) {
	r.interp.Call(concolic.LocationID(id), concolic.FunctionID(fid))
}

// Return leaves the current function.
func (r *Runtime) Return(id int32) {
	r.interp.Return(concolic.LocationID(id))
}

// HandleReturn pushes the value returned by the last call.
func (r *Runtime) HandleReturn(id int32, ty int8, val int64) {
	if !r.preSymbolic {
		r.interp.HandleReturn(concolic.LocationID(id), typeOf("handle_return", ty), val)
	}
}

// Input binds a new symbolic input of type ty stored at addr and returns its value.
func (r *Runtime) Input(ty int8, addr uint64) int64 {
	r.preSymbolic = false
	return r.interp.NewInput(typeOf("input", ty), addr)
}

// UChar returns a new unsigned char input.
func (r *Runtime) UChar(addr uint64) uint8 { return uint8(r.Input(int8(concolic.TypeUChar), addr)) }

// UShort returns a new unsigned short input.
func (r *Runtime) UShort(addr uint64) uint16 { return uint16(r.Input(int8(concolic.TypeUShort), addr)) }

// UInt returns a new unsigned int input.
func (r *Runtime) UInt(addr uint64) uint32 { return uint32(r.Input(int8(concolic.TypeUInt), addr)) }

// Char returns a new char input.
func (r *Runtime) Char(addr uint64) int8 { return int8(r.Input(int8(concolic.TypeChar), addr)) }

// Short returns a new short input.
func (r *Runtime) Short(addr uint64) int16 { return int16(r.Input(int8(concolic.TypeShort), addr)) }

// Int returns a new int input.
func (r *Runtime) Int(addr uint64) int32 { return int32(r.Input(int8(concolic.TypeInt), addr)) }

// Finish logs the path constraints of the run and writes the execution to w.
func (r *Runtime) Finish(w io.Writer) error {
	ex := r.interp.Execution()

	r.Logger.WithField("constraints", len(ex.Constraints)).WithField("branches", ex.BranchCount()).Info("run finished")
	for i, c := range ex.Constraints {
		r.Logger.WithFields(logrus.Fields{"index": i, "branch": c.Branch, "taken": c.Taken}).Info(c.Expr.String())
	}

	if _, err := ex.WriteTo(w); err != nil {
		return errors.Wrap(err, "write execution")
	}
	return nil
}

// ReadInputs reads a seed vector of whitespace separated integers.
func ReadInputs(r io.Reader) ([]int64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)

	var a []int64
	for scanner.Scan() {
		v, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", len(a))
		}
		a = append(a, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read inputs")
	}
	return a, nil
}

// typeOf validates a raw type id.
func typeOf(event string, ty int8) concolic.Type {
	typ := concolic.Type(ty)
	if !typ.IsValid() {
		fatalf(event, "type out of range: %d", ty)
	}
	return typ
}

func fatalf(event, format string, args ...interface{}) {
	panic(&concolic.ProtocolError{Event: event, Message: fmt.Sprintf(format, args...)})
}

// WriteInputs writes a seed vector in the format read by ReadInputs.
func WriteInputs(w io.Writer, inputs []int64) error {
	bw := bufio.NewWriter(w)
	for _, v := range inputs {
		fmt.Fprintln(bw, strconv.FormatInt(v, 10))
	}
	return bw.Flush()
}
