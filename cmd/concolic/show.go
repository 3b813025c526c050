package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ShowCommand represents a command for printing an execution trace.
type ShowCommand struct {
	v *viper.Viper

	check bool
	raw   bool
}

// NewShowCommand returns a new instance of ShowCommand.
func NewShowCommand(v *viper.Viper) *ShowCommand {
	return &ShowCommand{v: v}
}

// Command returns the cobra command for "show".
func (c *ShowCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [TRACE]",
		Short: "Print an execution trace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd, traceArg(args))
		},
	}
	cmd.Flags().BoolVar(&c.check, "check", false, "Verify every constraint holds under the recorded inputs")
	cmd.Flags().BoolVar(&c.raw, "raw", false, "Dump the decoded expression trees")
	return cmd
}

// Run executes the "show" subcommand.
func (c *ShowCommand) Run(cmd *cobra.Command, path string) error {
	ex, err := readExecution(c.v, path)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if c.raw {
		cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
		cfg.Fdump(w, ex.Constraints)
	} else {
		fmt.Fprint(w, ex.Dump())
	}

	if c.check {
		if err := ex.Check(); err != nil {
			return err
		}
		fmt.Fprintln(w, "ok")
	}
	return nil
}
