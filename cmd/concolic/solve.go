package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/benbjohnson/concolic/hook"
	"github.com/benbjohnson/concolic/z3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ErrUnsatisfiable is returned when the negated path has no solution.
var ErrUnsatisfiable = errors.New("unsatisfiable")

// SolveCommand represents a command for computing the input that flips one
// branch of a trace.
type SolveCommand struct {
	v *viper.Viper

	index int
}

// NewSolveCommand returns a new instance of SolveCommand.
func NewSolveCommand(v *viper.Viper) *SolveCommand {
	return &SolveCommand{v: v}
}

// Command returns the cobra command for "solve".
func (c *SolveCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve [TRACE]",
		Short: "Solve a negated constraint and write the new seed input file",
		Long: `
Negates constraint INDEX, solves the resulting path with Z3 and writes the
model to the seed input file. Inputs the path does not mention keep their
recorded values.
`[1:],
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd, traceArg(args))
		},
	}
	cmd.Flags().IntVar(&c.index, "index", -1, "Constraint to negate")
	return cmd
}

// Run executes the "solve" subcommand.
func (c *SolveCommand) Run(cmd *cobra.Command, path string) error {
	logger, err := NewLogger(c.v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ex, err := readExecution(c.v, path)
	if err != nil {
		return err
	}

	index := resolveIndex(c.index, len(ex.Constraints))
	exprs, err := ex.Negated(index)
	if err != nil {
		return err
	}

	s := z3.NewSolver()
	defer s.Close()

	result, err := s.Solve(exprs, ex.Vars, ex.Inputs)
	if err != nil {
		return err
	}
	for _, i := range result.Unconstrained {
		logger.WithField("index", i).Warn("constraint not expressible, left unconstrained")
	}
	if !result.Satisfiable {
		return errors.Wrapf(ErrUnsatisfiable, "constraint %d", index)
	}

	var buf bytes.Buffer
	if err := hook.WriteInputs(&buf, result.Inputs); err != nil {
		return err
	} else if err := os.WriteFile(c.v.GetString("input"), buf.Bytes(), 0666); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"index":      index,
		"inputs":     len(result.Inputs),
		"solve_time": s.Stats().SolveTime,
	}).Info("solved")
	fmt.Fprint(cmd.OutOrStdout(), buf.String())
	return nil
}
