package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := NewRootCommand(viper.New(), os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand returns the "concolic" command with all subcommands attached.
// Flags are bound to v so each command tree has its own configuration.
func NewRootCommand(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "concolic",
		Short: "Concolic execution runtime",
		Long: `
Concolic shadows an instrumented program's run with symbolic expressions,
records the path constraints of the run and lowers them for a solver so the
next input can take a different path.
`[1:],
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().String("config", "", "Configuration file path")
	root.PersistentFlags().String("log-level", "warn", "Logging level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	root.PersistentFlags().String("input", "input", "Seed input file")
	root.PersistentFlags().String("output", "szd_execution", "Execution trace file")

	v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log_format", root.PersistentFlags().Lookup("log-format"))
	v.BindPFlag("input", root.PersistentFlags().Lookup("input"))
	v.BindPFlag("output", root.PersistentFlags().Lookup("output"))

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return LoadConfig(v)
	}

	root.AddCommand(
		NewRunCommand(v).Command(),
		NewShowCommand(v).Command(),
		NewNegateCommand(v).Command(),
		NewSolveCommand(v).Command(),
	)
	return root
}
