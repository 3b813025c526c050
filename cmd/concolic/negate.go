package main

import (
	"github.com/benbjohnson/concolic/smtlib"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NegateCommand represents a command for writing the SMT-LIB2 query that
// flips one branch of a trace.
type NegateCommand struct {
	v *viper.Viper

	index int
}

// NewNegateCommand returns a new instance of NegateCommand.
func NewNegateCommand(v *viper.Viper) *NegateCommand {
	return &NegateCommand{v: v}
}

// Command returns the cobra command for "negate".
func (c *NegateCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "negate [TRACE]",
		Short: "Write an SMT-LIB2 script that negates one constraint",
		Long: `
Writes a QF_BV script asserting the constraints before INDEX and the negation
of constraint INDEX. A negative index counts from the end of the trace.
`[1:],
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd, traceArg(args))
		},
	}
	cmd.Flags().IntVar(&c.index, "index", -1, "Constraint to negate")
	return cmd
}

// Run executes the "negate" subcommand.
func (c *NegateCommand) Run(cmd *cobra.Command, path string) error {
	logger, err := NewLogger(c.v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ex, err := readExecution(c.v, path)
	if err != nil {
		return err
	}

	exprs, err := ex.Negated(resolveIndex(c.index, len(ex.Constraints)))
	if err != nil {
		return err
	}

	unconstrained, err := smtlib.WriteScript(cmd.OutOrStdout(), exprs)
	if err != nil {
		return err
	}
	for _, i := range unconstrained {
		logger.WithField("index", i).Warn("constraint not expressible, left unconstrained")
	}
	return nil
}

// resolveIndex maps a negative index to a position from the end.
func resolveIndex(i, n int) int {
	if i < 0 {
		return n + i
	}
	return i
}
