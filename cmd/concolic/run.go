package main

import (
	"bytes"
	"os"

	"github.com/benbjohnson/concolic/hook"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunCommand represents a command for replaying an instrumentation event log.
type RunCommand struct {
	v *viper.Viper
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand(v *viper.Viper) *RunCommand {
	return &RunCommand{v: v}
}

// Command returns the cobra command for "run".
func (c *RunCommand) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "run EVENTS",
		Short: "Replay an event log and write the execution trace",
		Long: `
Replays a YAML log of instrumentation events against the seed input file and
writes the resulting execution trace. Nothing is written if the events are
inconsistent with each other.
`[1:],
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd, args[0])
		},
	}
}

// Run executes the "run" subcommand.
func (c *RunCommand) Run(cmd *cobra.Command, path string) error {
	logger, err := NewLogger(c.v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	seed, err := c.readSeed()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	events, err := hook.ReadEvents(f)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}

	r := hook.NewRuntime(seed, logger)
	if err := r.Replay(events); err != nil {
		return err
	}

	// Encode fully before touching the output file.
	var buf bytes.Buffer
	if err := r.Finish(&buf); err != nil {
		return err
	}
	return os.WriteFile(c.v.GetString("output"), buf.Bytes(), 0666)
}

// readSeed reads the seed input file. A missing file is an empty seed.
func (c *RunCommand) readSeed() ([]int64, error) {
	path := c.v.GetString("input")

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	seed, err := hook.ReadInputs(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return seed, nil
}
