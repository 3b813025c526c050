package concolic

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/hashicorp/go-set"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ExecutionVersion is the schema version written by Execution.MarshalBinary.
const ExecutionVersion = 1

// Execution represents the record of a single concolic run: the branches it
// reached, the path constraints it collected and the inputs it consumed.
// An execution is append-only while the run is in progress.
type Execution struct {
	RunID uuid.UUID

	// Branch ids in the order they were reached, including the virtual
	// call and return ids.
	Branches []BranchID

	// Path constraints in program order.
	Constraints []*PathConstraint

	// Seed values consumed by the run and the type of each input variable.
	// Both are indexed by VarID.
	Inputs []int64
	Vars   []Type
}

// PathConstraint represents one symbolic branch decision. Expr always holds
// the condition that was true on the run, so a not-taken branch stores the
// negated condition.
type PathConstraint struct {
	Position LocationID
	Branch   BranchID
	Expr     Expr
	Taken    bool
}

// NewExecution returns a new, empty execution with a random run id.
func NewExecution() *Execution {
	return &Execution{RunID: uuid.New()}
}

// Clone returns a deep copy of the execution.
func (e *Execution) Clone() *Execution {
	other := &Execution{
		RunID:       e.RunID,
		Branches:    append([]BranchID(nil), e.Branches...),
		Constraints: make([]*PathConstraint, len(e.Constraints)),
		Inputs:      append([]int64(nil), e.Inputs...),
		Vars:        append([]Type(nil), e.Vars...),
	}
	for i, c := range e.Constraints {
		other.Constraints[i] = &PathConstraint{Position: c.Position, Branch: c.Branch, Expr: Clone(c.Expr), Taken: c.Taken}
	}
	return other
}

// BranchCount returns the number of distinct non-virtual branches reached.
func (e *Execution) BranchCount() int {
	s := set.New[BranchID](len(e.Branches))
	for _, id := range e.Branches {
		if id != CallBranchID && id != ReturnBranchID {
			s.Insert(id)
		}
	}
	return s.Size()
}

// VarTypes returns the type of every input variable keyed by id.
func (e *Execution) VarTypes() map[VarID]Type {
	m := make(map[VarID]Type, len(e.Vars))
	for i, typ := range e.Vars {
		m[VarID(i)] = typ
	}
	return m
}

// Exprs returns the expressions of all constraints in order.
func (e *Execution) Exprs() []Expr {
	a := make([]Expr, len(e.Constraints))
	for i, c := range e.Constraints {
		a[i] = c.Expr
	}
	return a
}

// Negated returns copies of the first i constraint expressions followed by
// the negation of constraint i. Solving the result yields an input that
// follows the same path up to branch i and then takes the other direction.
func (e *Execution) Negated(i int) ([]Expr, error) {
	if i < 0 || i >= len(e.Constraints) {
		return nil, errors.Errorf("constraint index out of range: %d (n=%d)", i, len(e.Constraints))
	}

	a := make([]Expr, 0, i+1)
	for _, c := range e.Constraints[:i] {
		a = append(a, Clone(c.Expr))
	}
	return append(a, NewNegatedExpr(Clone(e.Constraints[i].Expr))), nil
}

// Check verifies that every constraint holds under the recorded inputs.
func (e *Execution) Check() error {
	for i, c := range e.Constraints {
		ok, err := EvaluateCondition(c.Expr, e.Inputs)
		if err != nil {
			return errors.Wrapf(err, "constraint %d", i)
		} else if !ok {
			return errors.Errorf("constraint %d does not hold: %s", i, c.Expr)
		}
	}
	return nil
}

// Dump returns a human readable listing of the execution.
func (e *Execution) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "run=%s branches=%d (distinct=%d)\n", e.RunID, len(e.Branches), e.BranchCount())
	for i, v := range e.Inputs {
		fmt.Fprintf(&buf, "%s: %s = %d\n", VarName(VarID(i)), e.Vars[i], v)
	}
	for i, c := range e.Constraints {
		fmt.Fprintf(&buf, "%d. [loc=%d branch=%d taken=%v] %s\n", i, c.Position, c.Branch, c.Taken, c.Expr)
	}
	return buf.String()
}

type executionDocument struct {
	Version     int                  `yaml:"version"`
	RunID       string               `yaml:"run_id"`
	BranchCount int                  `yaml:"branch_count"`
	Branches    []BranchID           `yaml:"branches,flow"`
	Inputs      []inputDocument      `yaml:"inputs"`
	Constraints []constraintDocument `yaml:"constraints"`
}

type inputDocument struct {
	Type  string `yaml:"type"`
	Value int64  `yaml:"value"`
}

type constraintDocument struct {
	Position LocationID `yaml:"position"`
	Branch   BranchID   `yaml:"branch"`
	Taken    bool       `yaml:"taken"`
	Expr     string     `yaml:"expr"`
}

// MarshalBinary encodes the execution as a YAML document.
func (e *Execution) MarshalBinary() ([]byte, error) {
	doc := executionDocument{
		Version:     ExecutionVersion,
		RunID:       e.RunID.String(),
		BranchCount: e.BranchCount(),
		Branches:    e.Branches,
		Inputs:      make([]inputDocument, len(e.Inputs)),
		Constraints: make([]constraintDocument, len(e.Constraints)),
	}
	if len(e.Inputs) != len(e.Vars) {
		return nil, errors.Errorf("input/var count mismatch: %d != %d", len(e.Inputs), len(e.Vars))
	}
	for i, v := range e.Inputs {
		doc.Inputs[i] = inputDocument{Type: e.Vars[i].String(), Value: v}
	}
	for i, c := range e.Constraints {
		doc.Constraints[i] = constraintDocument{Position: c.Position, Branch: c.Branch, Taken: c.Taken, Expr: c.Expr.String()}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, errors.Wrap(err, "encode execution")
	} else if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode execution")
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an execution encoded by MarshalBinary.
func (e *Execution) UnmarshalBinary(data []byte) error {
	var doc executionDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "decode execution")
	} else if doc.Version != ExecutionVersion {
		return errors.Errorf("unsupported execution version: %d", doc.Version)
	}

	runID, err := uuid.Parse(doc.RunID)
	if err != nil {
		return errors.Wrap(err, "run id")
	}

	other := Execution{
		RunID:    runID,
		Branches: doc.Branches,
		Inputs:   make([]int64, len(doc.Inputs)),
		Vars:     make([]Type, len(doc.Inputs)),
	}
	for i, in := range doc.Inputs {
		typ, ok := ParseType(in.Type)
		if !ok || !typ.IsScalar() || typ == TypeBool {
			return errors.Errorf("input %d: invalid type: %q", i, in.Type)
		}
		other.Vars[i], other.Inputs[i] = typ, typ.Normalize(in.Value)
	}

	vars := other.VarTypes()
	for i, c := range doc.Constraints {
		expr, err := ParseExpr(c.Expr, vars)
		if err != nil {
			return errors.Wrapf(err, "constraint %d", i)
		}
		other.Constraints = append(other.Constraints, &PathConstraint{
			Position: c.Position,
			Branch:   c.Branch,
			Expr:     expr,
			Taken:    c.Taken,
		})
	}

	if n := other.BranchCount(); n != doc.BranchCount {
		return errors.Errorf("branch count mismatch: %d != %d", doc.BranchCount, n)
	}

	*e = other
	return nil
}

// WriteTo writes the encoded execution to w.
func (e *Execution) WriteTo(w io.Writer) (int64, error) {
	data, err := e.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// ReadExecution decodes an execution from r.
func ReadExecution(r io.Reader) (*Execution, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read execution")
	}

	var e Execution
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &e, nil
}
