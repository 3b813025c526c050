package concolic

import (
	"fmt"

	"github.com/pkg/errors"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

var (
	ErrUnsupported  = errors.New("concolic: unsupported expression")
	ErrDivideByZero = errors.New("concolic: division by zero")
	ErrAggregate    = errors.New("concolic: aggregate is not a scalar value")
	ErrUnboundVar   = errors.New("concolic: variable not bound")

	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

// VarID identifies a symbolic input. IDs are allocated densely from zero and
// index the seed vector of the run.
type VarID uint32

// LocationID identifies an instrumented program location.
type LocationID int32

// BranchID identifies a branch target chosen by the instrumentation.
type BranchID int32

// FunctionID identifies an instrumented function.
type FunctionID uint32

// Virtual branch ids recorded in the coverage sequence for calls and returns.
const (
	CallBranchID   = BranchID(-1)
	ReturnBranchID = BranchID(-2)
)

// ProtocolError is the panic value raised when the event stream and the
// interpreter state disagree. Recovering from it is never safe; the trace
// recorded so far must be discarded.
type ProtocolError struct {
	Event   string
	Message string
}

// Error returns the error as a string.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("concolic: protocol violation: %s: %s", e.Event, e.Message)
}

// fatalf panics with a ProtocolError for the given event.
func fatalf(event, format string, args ...interface{}) {
	panic(&ProtocolError{Event: event, Message: fmt.Sprintf(format, args...)})
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
