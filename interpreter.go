package concolic

import (
	"bytes"
	"fmt"
	"io"

	"github.com/benbjohnson/immutable"
	"github.com/sirupsen/logrus"
)

// Interpreter shadows the execution of an instrumented program. Events must
// be delivered in exactly the order the program performs the corresponding
// operations. An event that is inconsistent with the current state panics
// with a *ProtocolError.
type Interpreter struct {
	stack  []StackElem
	frames []StackFrame

	// Value left on top of the stack by the last Return, consumed by HandleReturn.
	retval *StackElem

	memory    *Memory
	globals   *immutable.SortedMap // uint64 -> uint (region size)
	execution *Execution
	seed      []int64

	Logger logrus.FieldLogger
}

// StackElem represents one slot of the shadow evaluation stack. Expr is nil
// when the slot is concrete. For aggregates Type is TypeStruct and Value is
// the size in bytes.
type StackElem struct {
	Expr  Expr
	Type  Type
	Value int64
}

// IsConcrete returns true if the slot has no symbolic expression.
func (e StackElem) IsConcrete() bool { return e.Expr == nil }

func (e StackElem) clone() StackElem {
	return StackElem{Expr: Clone(e.Expr), Type: e.Type, Value: e.Value}
}

// size returns the number of bytes the slot occupies in memory.
func (e StackElem) size() uint {
	if e.Type == TypeStruct {
		return uint(e.Value)
	}
	return e.Type.Size()
}

// StackFrame represents an active call.
type StackFrame struct {
	Function FunctionID
	Base     int // stack depth at the time of the call
}

// NewInterpreter returns a new interpreter that reads inputs from seed.
func NewInterpreter(seed []int64) *Interpreter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &Interpreter{
		memory:    NewMemory(),
		globals:   immutable.NewSortedMap(&uint64Comparer{}),
		execution: NewExecution(),
		seed:      append([]int64(nil), seed...),
		Logger:    logger,
	}
}

// Execution returns the execution recorded so far.
func (in *Interpreter) Execution() *Execution { return in.execution }

// Memory returns the symbolic memory of the interpreter.
func (in *Interpreter) Memory() *Memory { return in.memory }

// Seed returns the seed vector, including values added for inputs past its end.
func (in *Interpreter) Seed() []int64 { return in.seed }

// Stack returns a copy of the evaluation stack, bottom first.
func (in *Interpreter) Stack() []StackElem {
	a := make([]StackElem, len(in.stack))
	for i := range in.stack {
		a[i] = in.stack[i].clone()
	}
	return a
}

// Frames returns a copy of the call stack, outermost first.
func (in *Interpreter) Frames() []StackFrame {
	return append([]StackFrame(nil), in.frames...)
}

// Clone returns an independent copy of the interpreter. The copy shares no
// expression with in and may be advanced separately.
func (in *Interpreter) Clone() *Interpreter {
	other := &Interpreter{
		stack:     in.Stack(),
		frames:    in.Frames(),
		memory:    in.memory.Clone(),
		globals:   in.globals,
		execution: in.execution.Clone(),
		seed:      append([]int64(nil), in.seed...),
		Logger:    in.Logger,
	}
	if in.retval != nil {
		retval := in.retval.clone()
		other.retval = &retval
	}
	return other
}

// Alloc registers a global region of size bytes at addr.
func (in *Interpreter) Alloc(id LocationID, addr uint64, size uint) {
	in.log("alloc", id).WithField("addr", addr).WithField("size", size).Debug("register global")
	in.globals = in.globals.Set(addr, size)
}

// Load pushes the value of type typ at addr. For aggregates value is the
// size of the aggregate in bytes.
func (in *Interpreter) Load(id LocationID, addr uint64, typ Type, value int64) {
	in.log("load", id).WithField("addr", addr).WithField("type", typ).Debug("load")
	in.load("load", id, addr, typ, value)
}

func (in *Interpreter) load(event string, id LocationID, addr uint64, typ Type, value int64) {
	in.checkType(event, typ)

	if typ == TypeStruct {
		expr, ok := in.memory.ReadAggregate(addr, uint(value))
		if !ok {
			in.log(event, id).WithField("addr", addr).WithField("size", value).Debug("unsupported aggregate layout, concretizing")
			in.memory.Concretize(addr, uint(value))
		}
		if expr == nil {
			in.push(StackElem{Type: typ, Value: value})
		} else {
			in.push(StackElem{Expr: expr, Type: typ, Value: value})
		}
		return
	}

	value = typ.Normalize(value)
	if expr := in.memory.Read(addr, typ, value); !IsConstantExpr(expr) {
		in.push(StackElem{Expr: expr, Type: typ, Value: value})
		return
	}
	in.push(StackElem{Type: typ, Value: value})
}

// Deref pops a pointer and pushes the value of type typ it points to. The
// program has already resolved the pointer to addr. A symbolic pointer is
// concretized to addr.
func (in *Interpreter) Deref(id LocationID, addr uint64, typ Type, value int64) {
	ptr := in.pop("deref")
	if !ptr.IsConcrete() {
		in.log("deref", id).WithField("addr", addr).WithField("ptr", ptr.Expr.String()).Debug("symbolic pointer concretized")
	}
	in.load("deref", id, addr, typ, value)
}

// Store pops the top of the stack and stores it at addr.
func (in *Interpreter) Store(id LocationID, addr uint64) {
	elem := in.pop("store")
	in.log("store", id).WithField("addr", addr).WithField("symbolic", !elem.IsConcrete()).Debug("store")
	in.store(addr, elem)
}

// Write pops the top of the stack and writes it at addr. Unlike Store, the
// destination was not loaded beforehand.
func (in *Interpreter) Write(id LocationID, addr uint64) {
	elem := in.pop("write")
	in.log("write", id).WithField("addr", addr).WithField("symbolic", !elem.IsConcrete()).Debug("write")
	in.store(addr, elem)
}

func (in *Interpreter) store(addr uint64, elem StackElem) {
	if elem.IsConcrete() {
		in.memory.Concretize(addr, elem.size())
		return
	}
	in.memory.Write(addr, elem.Type, elem.Expr)
}

// ClearStack discards all values pushed in the current frame.
func (in *Interpreter) ClearStack(id LocationID) {
	base := 0
	if n := len(in.frames); n > 0 {
		base = in.frames[n-1].Base
	}
	if len(in.stack) > base {
		in.log("clear_stack", id).WithField("n", len(in.stack)-base).Debug("clear stack")
		in.truncate(base)
	}
}

// ApplyUnaryOp pops one operand and pushes the result of op. The result is
// concrete if the operand is.
func (in *Interpreter) ApplyUnaryOp(id LocationID, op UnaryOp, typ Type, value int64) {
	if !op.IsValid() {
		fatalf("apply1", "unknown unary operator: %d", op)
	}
	in.checkScalar("apply1", typ)

	x := in.pop("apply1")
	value = typ.Normalize(value)
	if x.IsConcrete() {
		in.push(StackElem{Type: typ, Value: value})
		return
	}

	expr := operand(x, typ)
	if op != CAST {
		expr = NewUnaryExpr(op, typ, expr)
	}
	in.log("apply1", id).WithField("op", op.String()).WithField("expr", expr.String()).Debug("unary op")
	in.pushExpr(expr, typ, value)
}

// ApplyBinaryOp pops two operands and pushes the result of op. The result is
// concrete if both operands are concrete, if op is CONCRETE, or if op divides
// by a zero divisor.
func (in *Interpreter) ApplyBinaryOp(id LocationID, op BinaryOp, typ Type, value int64) {
	if !op.IsValid() {
		fatalf("apply2", "unknown binary operator: %d", op)
	}
	in.checkScalar("apply2", typ)

	y := in.pop("apply2")
	x := in.pop("apply2")
	value = typ.Normalize(value)

	switch {
	case x.IsConcrete() && y.IsConcrete(), op == CONCRETE:
		in.push(StackElem{Type: typ, Value: value})
		return
	case op.IsDivision() && typ.Normalize(y.Value) == 0:
		in.log("apply2", id).WithField("op", op.String()).Debug("division by zero, result unconstrained")
		in.push(StackElem{Type: typ, Value: value})
		return
	}

	expr := NewBinaryExpr(op, typ, operand(x, typ), operand(y, typ))
	in.log("apply2", id).WithField("op", op.String()).WithField("expr", expr.String()).Debug("binary op")
	in.pushExpr(expr, typ, value)
}

// ApplyCompareOp pops two operands of type typ and pushes the boolean result
// of op. The result is concrete if both operands are.
func (in *Interpreter) ApplyCompareOp(id LocationID, op CompareOp, typ Type, value int64) {
	if !op.IsValid() {
		fatalf("compare", "unknown compare operator: %d", op)
	}
	in.checkScalar("compare", typ)

	y := in.pop("compare")
	x := in.pop("compare")
	value = TypeBool.Normalize(value)
	if x.IsConcrete() && y.IsConcrete() {
		in.push(StackElem{Type: TypeBool, Value: value})
		return
	}

	expr := NewCompareExpr(op, typ, operand(x, typ), operand(y, typ))
	in.log("compare", id).WithField("op", op.String()).WithField("expr", expr.String()).Debug("compare op")
	in.pushExpr(expr, TypeBool, value)
}

// ApplyPtrOp pops two operands and pushes the result of pointer arithmetic
// with integer operands scaled by scale.
func (in *Interpreter) ApplyPtrOp(id LocationID, op PointerOp, scale uint, value int64) {
	if !op.IsValid() {
		fatalf("ptr_apply2", "unknown pointer operator: %d", op)
	}

	y := in.pop("ptr_apply2")
	x := in.pop("ptr_apply2")

	typ, rhsType := TypeULong, TypeLong
	if op == PTRDIFF {
		typ, rhsType = TypeLong, TypeULong
	}
	if x.IsConcrete() && y.IsConcrete() {
		in.push(StackElem{Type: typ, Value: value})
		return
	}

	expr := NewPointerExpr(op, scale, operand(x, TypeULong), operand(y, rhsType))
	in.log("ptr_apply2", id).WithField("op", op.String()).WithField("expr", expr.String()).Debug("pointer op")
	in.pushExpr(expr, typ, value)
}

// Branch pops the branch condition and records the decision. A symbolic
// condition adds a path constraint that holds on this run.
func (in *Interpreter) Branch(id LocationID, branch BranchID, taken bool) {
	cond := in.pop("branch")
	in.execution.Branches = append(in.execution.Branches, branch)
	if cond.IsConcrete() {
		return
	}

	expr := NewConditionExpr(cond.Expr)
	if !taken {
		expr = NewNegatedExpr(expr)
	}
	if IsConstantExpr(expr) {
		return
	}

	in.log("branch", id).WithField("branch", branch).WithField("taken", taken).WithField("expr", expr.String()).Debug("path constraint")
	in.execution.Constraints = append(in.execution.Constraints, &PathConstraint{
		Position: id,
		Branch:   branch,
		Expr:     expr,
		Taken:    taken,
	})
}

// Call enters function fn.
func (in *Interpreter) Call(id LocationID, fn FunctionID) {
	in.log("call", id).WithField("fn", fn).Debug("call")
	in.frames = append(in.frames, StackFrame{Function: fn, Base: len(in.stack)})
	in.execution.Branches = append(in.execution.Branches, CallBranchID)
	in.retval = nil
}

// Return leaves the current function. Values pushed by the callee are
// discarded; the top one is kept as the return value for HandleReturn.
func (in *Interpreter) Return(id LocationID) {
	if len(in.frames) == 0 {
		fatalf("return", "empty call stack")
	}
	f := in.frames[len(in.frames)-1]
	in.frames = in.frames[:len(in.frames)-1]

	if len(in.stack) < f.Base {
		fatalf("return", "stack below frame base: %d < %d", len(in.stack), f.Base)
	}

	in.retval = nil
	if len(in.stack) > f.Base {
		top := in.stack[len(in.stack)-1]
		in.retval = &top
		in.stack[len(in.stack)-1] = StackElem{}
	}
	in.truncate(f.Base)

	in.log("return", id).WithField("fn", f.Function).Debug("return")
	in.execution.Branches = append(in.execution.Branches, ReturnBranchID)
}

// HandleReturn pushes the return value of the last call as type typ. The
// value is symbolic only if the callee returned a symbolic value.
func (in *Interpreter) HandleReturn(id LocationID, typ Type, value int64) {
	in.checkType("handle_return", typ)

	retval := in.retval
	in.retval = nil

	if typ != TypeStruct {
		value = typ.Normalize(value)
	}
	if retval == nil || retval.IsConcrete() {
		in.push(StackElem{Type: typ, Value: value})
		return
	}

	// Aggregates only pass through as aggregates.
	if (typ == TypeStruct) != (retval.Type == TypeStruct) {
		in.push(StackElem{Type: typ, Value: value})
		return
	} else if typ == TypeStruct {
		in.push(StackElem{Expr: retval.Expr, Type: typ, Value: value})
		return
	}
	in.log("handle_return", id).WithField("expr", retval.Expr.String()).Debug("symbolic return value")
	in.pushExpr(NewUnaryExpr(CAST, typ, retval.Expr), typ, value)
}

// NewInput binds a new input variable of type typ stored at addr and returns
// its concrete value. Inputs past the end of the seed vector are zero.
func (in *Interpreter) NewInput(typ Type, addr uint64) int64 {
	if !typ.IsScalar() || typ == TypeBool {
		fatalf("input", "invalid input type: %d", typ)
	}

	id := VarID(len(in.execution.Inputs))
	if int(id) >= len(in.seed) {
		in.seed = append(in.seed, 0)
	}
	value := typ.Normalize(in.seed[id])

	in.memory.Write(addr, typ, NewVarExpr(id, typ))
	in.execution.Inputs = append(in.execution.Inputs, value)
	in.execution.Vars = append(in.execution.Vars, typ)

	in.Logger.WithFields(logrus.Fields{"event": "input", "var": VarName(id), "type": typ.String(), "addr": addr, "value": value}).Debug("new input")
	return value
}

// Dump returns the contents of the interpreter as a string.
func (in *Interpreter) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "INTERPRETER")
	fmt.Fprintln(&buf, "===========")
	fmt.Fprintln(&buf, "== STACK")
	for i := len(in.stack) - 1; i >= 0; i-- {
		elem := in.stack[i]
		if elem.IsConcrete() {
			fmt.Fprintf(&buf, "%d. %s %d\n", i, elem.Type, elem.Value)
		} else {
			fmt.Fprintf(&buf, "%d. %s %d: %s\n", i, elem.Type, elem.Value, elem.Expr)
		}
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== FRAMES")
	for i := len(in.frames) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "#%d fn=%d base=%d\n", i, in.frames[i].Function, in.frames[i].Base)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== GLOBALS")
	itr := in.globals.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%016x size=%d\n", k.(uint64), v.(uint))
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== MEMORY")
	fmt.Fprint(&buf, in.memory.Dump())
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== EXECUTION")
	fmt.Fprint(&buf, in.execution.Dump())
	return buf.String()
}

// operand returns elem converted to typ for use as an operand. A concrete
// slot becomes a constant.
func operand(elem StackElem, typ Type) Expr {
	if elem.IsConcrete() {
		if elem.Type == TypeStruct {
			return NewConstantExpr(typ, 0)
		}
		return NewConstantExpr(typ, elem.Type.Normalize(elem.Value))
	}
	if ExprType(elem.Expr) == TypeStruct {
		fatalf("operand", "aggregate used as %s operand", typ)
	}
	return NewUnaryExpr(CAST, typ, elem.Expr)
}

func (in *Interpreter) push(elem StackElem) {
	in.stack = append(in.stack, elem)
}

// pushExpr pushes expr, or a concrete slot if expr folded to a constant.
func (in *Interpreter) pushExpr(expr Expr, typ Type, value int64) {
	if IsConstantExpr(expr) {
		in.push(StackElem{Type: typ, Value: value})
		return
	}
	in.push(StackElem{Expr: expr, Type: typ, Value: value})
}

func (in *Interpreter) pop(event string) StackElem {
	if len(in.stack) == 0 {
		fatalf(event, "stack underflow")
	}
	elem := in.stack[len(in.stack)-1]
	in.stack[len(in.stack)-1] = StackElem{}
	in.stack = in.stack[:len(in.stack)-1]
	return elem
}

// truncate drops every slot above depth n.
func (in *Interpreter) truncate(n int) {
	for i := n; i < len(in.stack); i++ {
		in.stack[i] = StackElem{}
	}
	in.stack = in.stack[:n]
}

func (in *Interpreter) checkType(event string, typ Type) {
	if !typ.IsValid() {
		fatalf(event, "invalid type: %d", typ)
	}
}

func (in *Interpreter) checkScalar(event string, typ Type) {
	if !typ.IsScalar() {
		fatalf(event, "invalid operand type: %d", typ)
	}
}

func (in *Interpreter) log(event string, id LocationID) logrus.FieldLogger {
	return in.Logger.WithFields(logrus.Fields{"event": event, "id": id})
}
