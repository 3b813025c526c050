package main

import (
	"io"
	"os"

	"github.com/benbjohnson/concolic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LoadConfig reads the configuration file, if any, and enables environment
// overrides with the CONCOLIC_ prefix.
func LoadConfig(v *viper.Viper) error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrap(err, "read config file")
		}
	}

	v.SetEnvPrefix("CONCOLIC")
	v.AutomaticEnv()
	return nil
}

// NewLogger returns a logger writing to w at the configured level and format.
func NewLogger(v *viper.Viper, w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)

	switch format := v.GetString("log_format"); format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("invalid log format: %q", format)
	}
	return logger, nil
}

// readExecution reads the trace at path, or at the configured output path if
// path is empty.
func readExecution(v *viper.Viper, path string) (*concolic.Execution, error) {
	if path == "" {
		path = v.GetString("output")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ex, err := concolic.ReadExecution(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return ex, nil
}

// traceArg returns the optional trace path argument.
func traceArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
