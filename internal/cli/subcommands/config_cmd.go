package subcommands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"OpenSampler/internal/runtime"
)

func NewConfigCmd(env *Env) *cobra.Command {
	var showChain bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		Long: `Print the configuration after defaults, preset, config file and APP_*
environment overrides have been applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			data, err := yaml.Marshal(env.Config)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprintln(out, "=== OpenSampler Configuration ===")
			fmt.Fprint(out, string(data))

			if showChain {
				chain, err := runtime.NewChain(env.Config.Sampling, runtime.VocabFromConfig(env.Config.Sampling.Vocab), nil)
				if err != nil {
					return err
				}
				defer chain.Close()
				fmt.Fprintf(out, "\nchain: %v\n", chain.Names())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showChain, "chain", false, "Also print the stage order the config compiles to")

	return cmd
}
