package subcommands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"OpenSampler/internal/config"
)

func NewPresetsCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List model-family sampling presets",
		Long: `List the built-in presets. Select one with --preset, APP_PRESET or
sampling.preset in the config file; a model name such as
"Qwen2.5-1.5B-Instruct" matches the qwen2.5 preset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.Presets()
			active := env.Config.Sampling.Preset

			rows := make([][]string, len(presets))
			for i, p := range presets {
				rows[i] = []string{
					p.Name,
					fmtFloat(p.Temperature),
					strconv.Itoa(p.TopK),
					fmtFloat(p.TopP),
					fmtFloat(p.MinP),
					fmtFloat(p.RepeatPenalty),
					strconv.Itoa(p.Mirostat),
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), newTable(
				[]string{"preset", "temp", "top_k", "top_p", "min_p", "repeat", "mirostat"},
				rows,
				func(row int) bool { return row >= 0 && row < len(presets) && presets[row].Name == active },
			).String())
			return nil
		},
	}
}

func fmtFloat(v float64) string {
	if v == 0 {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
