// Package inferbench measures sampler chain throughput. Logits come from a
// runtime.Engine and only the chain's Sample call is timed, so results
// compare stage configurations rather than engines.
package inferbench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"OpenSampler/internal/config"
	"OpenSampler/internal/runtime"
	"OpenSampler/internal/sampling"
)

// Config controls the benchmark parameters.
type Config struct {
	// Iterations is how many times each scenario is run.
	Iterations int `json:"iterations"`

	// Steps is the number of sample/accept cycles per iteration.
	Steps int `json:"steps"`

	// Scenarios to benchmark. If empty, StandardScenarios() is used.
	Scenarios []Scenario `json:"scenarios"`

	// OutputPath is the optional JSON file to write results to.
	OutputPath string `json:"-"`

	// WarmupIterations runs N throw-away iterations before recording.
	WarmupIterations int `json:"warmup_iterations"`

	// Verbose enables per-iteration logging.
	Verbose bool `json:"-"`
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Iterations:       20,
		Steps:            64,
		WarmupIterations: 2,
	}
}

// Scenario is a named chain configuration.
type Scenario struct {
	Name     string                `json:"name"`
	Sampling config.SamplingConfig `json:"sampling"`
}

// defaultTemperature replaces a greedy base temperature in the sampling
// scenarios.
const defaultTemperature = 0.8

// StandardScenarios derives one scenario per chain shape from base.
func StandardScenarios(base config.SamplingConfig) []Scenario {
	with := func(name string, mutate func(d *config.GenerationDefaults)) Scenario {
		s := base
		s.Stages = nil
		if s.Defaults.Temperature <= 0 {
			s.Defaults.Temperature = defaultTemperature
		}
		mutate(&s.Defaults)
		return Scenario{Name: name, Sampling: s}
	}
	return []Scenario{
		with("greedy", func(d *config.GenerationDefaults) {
			d.Temperature = 0
		}),
		with("top-k/top-p", func(d *config.GenerationDefaults) {
			d.Mirostat = 0
		}),
		with("penalties", func(d *config.GenerationDefaults) {
			d.Mirostat = 0
			d.RepeatLastN = 256
			d.FrequencyPenalty = 0.3
			d.PresencePenalty = 0.3
		}),
		with("typical", func(d *config.GenerationDefaults) {
			d.Mirostat = 0
			d.TypicalP = 0.9
		}),
		with("tail-free", func(d *config.GenerationDefaults) {
			d.Mirostat = 0
			d.TailFreeZ = 0.95
		}),
		with("dynatemp", func(d *config.GenerationDefaults) {
			d.Mirostat = 0
			d.DynatempRange = 0.5
		}),
		with("mirostat", func(d *config.GenerationDefaults) {
			d.Mirostat = 1
		}),
		with("mirostat-v2", func(d *config.GenerationDefaults) {
			d.Mirostat = 2
		}),
	}
}

// IterationResult captures metrics from one iteration of a scenario.
type IterationResult struct {
	Scenario       string        `json:"scenario"`
	Iteration      int           `json:"iteration"`
	Samples        int           `json:"samples"`
	SampleTime     time.Duration `json:"sample_time_ns"`
	SamplesPerSec  float64       `json:"samples_per_sec"`
	DistinctTokens int           `json:"distinct_tokens"`
	RSSBytes       int64         `json:"rss_bytes"`
	Error          string        `json:"error,omitempty"`

	steps []time.Duration
}

// ScenarioSummary aggregates results across iterations for one scenario.
type ScenarioSummary struct {
	Name          string        `json:"name"`
	Stages        []string      `json:"stages"`
	Iterations    int           `json:"iterations"`
	Step          DurationStats `json:"step"`
	SamplesPerSec FloatStats    `json:"samples_per_sec"`
	AvgDistinct   float64       `json:"avg_distinct_tokens"`
	PeakRSSBytes  int64         `json:"peak_rss_bytes"`
	Errors        int           `json:"errors"`
}

// DurationStats summarises a collection of time.Duration values.
type DurationStats struct {
	Min    time.Duration `json:"min_ns"`
	Max    time.Duration `json:"max_ns"`
	Mean   time.Duration `json:"mean_ns"`
	Median time.Duration `json:"median_ns"`
	P95    time.Duration `json:"p95_ns"`
}

// FloatStats summarises a collection of float64 values.
type FloatStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

// BenchmarkReport is the top-level result container.
type BenchmarkReport struct {
	Timestamp time.Time         `json:"timestamp"`
	Engine    string            `json:"engine"`
	Config    Config            `json:"config"`
	Summaries []ScenarioSummary `json:"summaries"`
	Raw       []IterationResult `json:"raw_results,omitempty"`
}

// Runner executes sampling benchmarks against a runtime.Engine.
type Runner struct {
	engine runtime.Engine
	cfg    Config
	logger *zap.Logger
	out    io.Writer
}

// NewRunner creates a benchmark runner. Summaries are printed to out when
// it is non-nil.
func NewRunner(engine runtime.Engine, cfg Config, logger *zap.Logger, out io.Writer) *Runner {
	if len(cfg.Scenarios) == 0 {
		cfg.Scenarios = StandardScenarios(config.Default().Sampling)
	}
	if cfg.Steps <= 0 {
		cfg.Steps = DefaultConfig().Steps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{engine: engine, cfg: cfg, logger: logger.Named("bench"), out: out}
}

// Run executes every scenario and returns a report.
func (r *Runner) Run(ctx context.Context) (*BenchmarkReport, error) {
	report := &BenchmarkReport{
		Timestamp: time.Now(),
		Engine:    r.engine.Name(),
		Config:    r.cfg,
	}

	var allResults []IterationResult

	for _, scenario := range r.cfg.Scenarios {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		fmt.Fprintf(r.out, "\n--- Benchmark: %s ---\n", scenario.Name)

		stages, results, err := r.benchmarkScenario(ctx, scenario)
		if err != nil {
			return report, fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}

		allResults = append(allResults, results...)
		summary := summarize(scenario.Name, results)
		summary.Stages = stages
		report.Summaries = append(report.Summaries, summary)

		printSummary(r.out, summary)
	}

	report.Raw = allResults

	if r.cfg.OutputPath != "" {
		if err := saveReport(report, r.cfg.OutputPath); err != nil {
			r.logger.Warn("failed to save report", zap.String("path", r.cfg.OutputPath), zap.Error(err))
		} else {
			fmt.Fprintf(r.out, "\nResults saved to %s\n", r.cfg.OutputPath)
		}
	}

	return report, nil
}

// benchmarkScenario runs all iterations for a single scenario. A scenario
// whose chain cannot be built fails the whole run.
func (r *Runner) benchmarkScenario(ctx context.Context, scenario Scenario) ([]string, []IterationResult, error) {
	probe, err := runtime.NewChain(scenario.Sampling, r.engine.Vocab(), r.logger)
	if err != nil {
		return nil, nil, err
	}
	stages := probe.Names()
	probe.Close()

	for i := 0; i < r.cfg.WarmupIterations; i++ {
		_, _ = r.runOnce(ctx, scenario, -1)
	}

	var results []IterationResult
	for i := 0; i < r.cfg.Iterations; i++ {
		res, err := r.runOnce(ctx, scenario, i)
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return stages, results, nil
}

// runOnce drives one fresh chain for Steps sample/accept cycles.
func (r *Runner) runOnce(ctx context.Context, scenario Scenario, iteration int) (IterationResult, error) {
	result := IterationResult{
		Scenario:  scenario.Name,
		Iteration: iteration,
	}

	chain, err := runtime.NewChain(scenario.Sampling, r.engine.Vocab(), r.logger)
	if err != nil {
		return result, err
	}
	defer chain.Close()

	var history []sampling.Token
	seen := make(map[sampling.Token]struct{})
	result.steps = make([]time.Duration, 0, r.cfg.Steps)

	for step := 0; step < r.cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		logits, err := r.engine.Logits(ctx, history)
		if err != nil {
			return result, err
		}

		start := time.Now()
		token, err := chain.Sample(logits)
		elapsed := time.Since(start)
		if err != nil {
			return result, err
		}
		chain.Accept(token)

		result.steps = append(result.steps, elapsed)
		result.SampleTime += elapsed
		result.Samples++
		seen[token] = struct{}{}
		history = append(history, token)
	}

	result.DistinctTokens = len(seen)
	if result.SampleTime > 0 {
		result.SamplesPerSec = float64(result.Samples) / result.SampleTime.Seconds()
	}
	result.RSSBytes = readRSS()

	if r.cfg.Verbose {
		r.logger.Info("iteration",
			zap.String("scenario", scenario.Name),
			zap.Int("iteration", iteration),
			zap.Duration("sample_time", result.SampleTime),
			zap.Float64("samples_per_sec", result.SamplesPerSec),
			zap.Int("distinct", result.DistinctTokens))
	}

	return result, nil
}

// summarize computes aggregate statistics for a scenario's results.
func summarize(name string, results []IterationResult) ScenarioSummary {
	summary := ScenarioSummary{Name: name}

	valid := filterValid(results)
	summary.Iterations = len(valid)
	summary.Errors = len(results) - len(valid)

	if len(valid) == 0 {
		return summary
	}

	var steps []time.Duration
	for _, r := range valid {
		steps = append(steps, r.steps...)
	}
	summary.Step = computeDurationStats(steps)
	summary.SamplesPerSec = computeFloatStats(extractFloats(valid, func(r IterationResult) float64 { return r.SamplesPerSec }))
	summary.AvgDistinct = stat.Mean(extractFloats(valid, func(r IterationResult) float64 { return float64(r.DistinctTokens) }), nil)

	for _, r := range valid {
		summary.PeakRSSBytes = max(summary.PeakRSSBytes, r.RSSBytes)
	}

	return summary
}

// ---------------------------------------------------------------------------
// Statistics helpers
// ---------------------------------------------------------------------------

func filterValid(results []IterationResult) []IterationResult {
	var out []IterationResult
	for _, r := range results {
		if r.Error == "" {
			out = append(out, r)
		}
	}
	return out
}

func extractFloats(results []IterationResult, fn func(IterationResult) float64) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = fn(r)
	}
	return out
}

func computeDurationStats(vals []time.Duration) DurationStats {
	floats := make([]float64, len(vals))
	for i, v := range vals {
		floats[i] = float64(v)
	}
	s := computeFloatStats(floats)
	return DurationStats{
		Min:    time.Duration(s.Min),
		Max:    time.Duration(s.Max),
		Mean:   time.Duration(s.Mean),
		Median: time.Duration(s.Median),
		P95:    time.Duration(s.P95),
	}
}

// computeFloatStats uses the nearest-rank P95 and the midpoint median.
func computeFloatStats(vals []float64) FloatStats {
	if len(vals) == 0 {
		return FloatStats{}
	}
	sorted := slices.Clone(vals)
	slices.Sort(sorted)

	n := len(sorted)
	var median float64
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		median = sorted[n/2]
	}

	return FloatStats{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   stat.Mean(sorted, nil),
		Median: median,
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func printSummary(w io.Writer, s ScenarioSummary) {
	fmt.Fprintf(w, "  Stages:    %v\n", s.Stages)
	fmt.Fprintf(w, "  Step:      min=%v  avg=%v  p95=%v\n",
		s.Step.Min, s.Step.Mean, s.Step.P95)
	fmt.Fprintf(w, "  Rate:      min=%.0f  avg=%.0f  p95=%.0f samples/s\n",
		s.SamplesPerSec.Min, s.SamplesPerSec.Mean, s.SamplesPerSec.P95)
	fmt.Fprintf(w, "  Distinct:  avg=%.1f tokens\n", s.AvgDistinct)
	if s.PeakRSSBytes > 0 {
		fmt.Fprintf(w, "  RSS:       peak=%.1f MB\n", float64(s.PeakRSSBytes)/(1024*1024))
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, "  Errors:    %d/%d\n", s.Errors, s.Iterations+s.Errors)
	}
}

func saveReport(report *BenchmarkReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}
