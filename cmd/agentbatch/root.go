package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentbatch/config"
	"github.com/vinayprograms/agentbatch/logging"
)

// exitError carries a process exit status through cobra.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "agentbatch",
		Short:         "Run a coding agent over a directory of task files",
		Long:          "agentbatch hands each task file to an external coding agent (codex or gemini) and tracks progress with marker files, so interrupted or concurrent runs never repeat finished work.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ./agentbatch.toml, then ~/.config/agentbatch/config.toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newCleanCmd(opts),
		newResetCmd(opts),
	)
	return root
}

// execute runs the command line and returns the process exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	var ee exitError
	switch {
	case err == nil:
		return 0
	case stderrors.As(err, &ee):
		return ee.code
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
}

// load reads configuration and applies the --log-level override.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, _, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *logging.Logger {
	log := logging.New()
	log.SetOutput(w)
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		log.SetLevel(lvl)
	}
	return log
}

func rootsOrCwd(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}
