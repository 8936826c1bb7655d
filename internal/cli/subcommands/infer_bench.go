package subcommands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"OpenSampler/internal/inferbench"
	"OpenSampler/internal/runtime"
)

const benchLongDesc string = `Benchmark sampler chain configurations over engine logits.

Every scenario builds a fresh chain per iteration and runs --steps
sample/accept cycles. Only the chain's Sample call is timed.

Examples:
  opensampler bench
  opensampler bench --scenario greedy,mirostat-v2 --iterations 50
  opensampler bench --output results/bench.json`

const benchShortDesc string = "Benchmark sampler chain configurations"

type benchCommander struct {
	env        *Env
	iterations int
	warmup     int
	steps      int
	output     string
	scenarios  []string
	configured bool
	verbose    bool
}

func NewBenchCmd(env *Env) *cobra.Command {
	cmder := &benchCommander{env: env}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: benchShortDesc,
		Long:  benchLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().IntVarP(&cmder.iterations, "iterations", "i", 0, "Iterations per scenario (0 uses config)")
	cmd.Flags().IntVar(&cmder.warmup, "warmup", -1, "Warmup iterations, not recorded (-1 uses config)")
	cmd.Flags().IntVar(&cmder.steps, "steps", 0, "Sample/accept cycles per iteration")
	cmd.Flags().StringVarP(&cmder.output, "output", "o", "", "Path to save JSON results")
	cmd.Flags().StringSliceVarP(&cmder.scenarios, "scenario", "s", nil, "Scenarios to run (default all)")
	cmd.Flags().BoolVar(&cmder.configured, "configured", false, "Benchmark only the configured chain")
	cmd.Flags().BoolVarP(&cmder.verbose, "verbose", "v", false, "Log per-iteration details")

	return cmd
}

func (c *benchCommander) run(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := c.env.Config
	mgr, err := runtime.NewManager(cfg, c.env.Registry, c.env.logger())
	if err != nil {
		return err
	}
	defer mgr.Close()

	benchCfg := inferbench.DefaultConfig()
	benchCfg.Iterations = firstPositive(c.iterations, cfg.Bench.Iterations, benchCfg.Iterations)
	benchCfg.WarmupIterations = cfg.Bench.Warmup
	if c.warmup >= 0 {
		benchCfg.WarmupIterations = c.warmup
	}
	benchCfg.Steps = firstPositive(c.steps, benchCfg.Steps)
	benchCfg.OutputPath = cfg.Bench.Output
	if c.output != "" {
		benchCfg.OutputPath = c.output
	}
	benchCfg.Verbose = c.verbose

	benchCfg.Scenarios, err = c.selectScenarios()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("OpenSampler Sampling Benchmark"))
	fmt.Fprintf(out, "Engine: %s  Vocab: %d\n", mgr.Engine().Name(), mgr.Engine().Vocab().Size)
	fmt.Fprintf(out, "Iterations: %d (warmup: %d)  Steps: %d\n",
		benchCfg.Iterations, benchCfg.WarmupIterations, benchCfg.Steps)

	runner := inferbench.NewRunner(mgr.Engine(), benchCfg, c.env.logger(), out)
	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("benchmark failed: %w", err)
	}

	printReport(cmd, report)
	return nil
}

func (c *benchCommander) selectScenarios() ([]inferbench.Scenario, error) {
	sampling := c.env.Config.Sampling
	if c.configured {
		return []inferbench.Scenario{{Name: "configured", Sampling: sampling}}, nil
	}

	all := inferbench.StandardScenarios(sampling)
	if len(c.scenarios) == 0 {
		return all, nil
	}

	var selected []inferbench.Scenario
	for _, name := range c.scenarios {
		found := false
		for _, s := range all {
			if strings.EqualFold(s.Name, strings.TrimSpace(name)) {
				selected = append(selected, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
	}
	return selected, nil
}

// printReport renders the per-scenario summary table.
func printReport(cmd *cobra.Command, report *inferbench.BenchmarkReport) {
	rows := make([][]string, 0, len(report.Summaries))
	for _, s := range report.Summaries {
		rows = append(rows, []string{
			s.Name,
			s.Step.Mean.String(),
			s.Step.P95.String(),
			fmt.Sprintf("%.0f", s.SamplesPerSec.Mean),
			fmt.Sprintf("%.1f", s.AvgDistinct),
			fmt.Sprintf("%d", s.Errors),
		})
	}

	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), newTable(
		[]string{"scenario", "step avg", "step p95", "samples/s", "distinct", "errors"},
		rows, nil,
	).String())
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
