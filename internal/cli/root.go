package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"OpenSampler/internal/cli/subcommands"
	"OpenSampler/internal/config"
	"OpenSampler/internal/logging"
	"OpenSampler/internal/runtime"
)

const rootLongDesc string = `OpenSampler - composable token sampler chains for local LLM inference.

A chain is an ordered list of stages (penalties, top-k, top-p, min-p,
temperature, mirostat, ...) ending in a stage that selects one token.
Chains are configured in opensampler.yaml, a preset or APP_* variables.`

type rootFlags struct {
	configPath string
	preset     string
	debug      bool
	logFile    bool
}

// NewRootCmd builds the command tree. Configuration and logging are set up
// once, before whichever subcommand runs.
func NewRootCmd(registry runtime.Registry) *cobra.Command {
	flags := &rootFlags{}
	env := &subcommands.Env{Registry: registry}

	cmd := &cobra.Command{
		Use:           "opensampler",
		Short:         "Composable token sampler chains",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return flags.setup(env)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Close()
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (overrides APP_CONFIG)")
	cmd.PersistentFlags().StringVar(&flags.preset, "preset", "", "Sampling preset (overrides APP_PRESET)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flags.logFile, "log-file", false, "Write logs to ~/.opensampler/logs instead of stderr")

	cmd.AddCommand(
		subcommands.NewSampleCmd(env),
		subcommands.NewGenerateCmd(env),
		subcommands.NewBenchCmd(env),
		subcommands.NewServeCmd(env),
		subcommands.NewConfigCmd(env),
		subcommands.NewPresetsCmd(env),
		subcommands.NewTuiCmd(env),
	)

	return cmd
}

func (f *rootFlags) setup(env *subcommands.Env) error {
	if f.configPath != "" {
		os.Setenv("APP_CONFIG", f.configPath)
	}
	if f.preset != "" {
		os.Setenv("APP_PRESET", f.preset)
	}

	cfg, err := config.Resolve()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.Init(logging.Options{
		ToFile: f.logFile || cfg.Logging.ToFile,
		Debug:  f.debug || cfg.Logging.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}

	env.Config = cfg
	env.Logger = logger
	return nil
}

// Execute is the entry point for the OpenSampler CLI.
func Execute() int {
	cmd := NewRootCmd(runtime.DefaultRegistry)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
