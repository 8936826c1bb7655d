package sampling

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ChainParams configures a chain as a whole, independent of its stages.
type ChainParams struct {
	// NoPerf disables sample counting and timing.
	NoPerf bool

	// Logger receives debug records for failed steps. Nil means no logging.
	Logger *zap.Logger
}

// DefaultChainParams returns params with performance tracking disabled.
func DefaultChainParams() ChainParams {
	return ChainParams{NoPerf: true}
}

// State is the chain's position in its sample cycle.
type State int

const (
	StateIdle State = iota
	StateSampling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PerfData summarises completed samples when performance tracking is on.
type PerfData struct {
	Samples    int           `json:"samples"`
	SampleTime time.Duration `json:"sample_time_ns"`
}

// MeanSample returns the average wall time of one sample.
func (p PerfData) MeanSample() time.Duration {
	if p.Samples == 0 {
		return 0
	}
	return p.SampleTime / time.Duration(p.Samples)
}

// Chain runs an ordered, fixed list of stages over one distribution per
// step and owns the stages' history.
//
// A Chain is not safe for concurrent use. Every generation session needs
// its own chain.
type Chain struct {
	params ChainParams
	logger *zap.Logger
	stages []Stage
	state  State
	closed bool
	perf   PerfData
}

func newChain(params ChainParams, stages []Stage) *Chain {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		params: params,
		logger: logger.Named("sampling"),
		stages: stages,
	}
}

// Sample builds a distribution from logits, runs every stage over it and
// returns the selected token.
func (c *Chain) Sample(logits []float32) (Token, error) {
	return c.Apply(FromLogits(logits))
}

// Apply runs every stage over d in order and returns the selected token.
// d is left in its final state so callers can inspect the candidates the
// terminal stage chose from. A failed step leaves the chain exactly as it
// was before the call.
func (c *Chain) Apply(d *Distribution) (Token, error) {
	if c.closed {
		return -1, newError(KindClosed, "sample on a closed chain")
	}
	if d == nil || d.Len() == 0 {
		return -1, newError(KindEmptyDistribution, "sample over zero candidates")
	}

	var start time.Time
	if !c.params.NoPerf {
		start = time.Now()
	}

	c.state = StateSampling
	defer func() { c.state = StateIdle }()

	var restores []func()
	for _, st := range c.stages {
		if cp, ok := st.(checkpointer); ok {
			restores = append(restores, cp.checkpoint())
		}
	}

	token, err := c.run(d)
	if err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		c.logger.Debug("sample failed",
			zap.Int("candidates", d.Len()),
			zap.Stringer("domain", d.Domain),
			zap.Error(err))
		return -1, err
	}

	if !c.params.NoPerf {
		c.perf.Samples++
		c.perf.SampleTime += time.Since(start)
	}
	return token, nil
}

func (c *Chain) run(d *Distribution) (Token, error) {
	d.Selected = -1
	if err := d.Validate(); err != nil {
		return -1, withStage(err, "input")
	}
	for _, st := range c.stages {
		if err := st.Apply(d); err != nil {
			return -1, withStage(err, st.Name())
		}
		if d.Len() == 0 {
			return -1, withStage(newError(KindEmptyDistribution, "stage removed every candidate"), st.Name())
		}
		if err := d.Validate(); err != nil {
			return -1, withStage(err, st.Name())
		}
	}
	token, ok := d.SelectedToken()
	if !ok {
		return -1, newError(KindNumeric, "no token selected")
	}
	return token, nil
}

// Accept feeds the emitted token to every stage's history. It may be
// called before any Sample, for example with prompt tokens.
func (c *Chain) Accept(token Token) {
	if c.closed {
		return
	}
	for _, st := range c.stages {
		st.Accept(token)
	}
}

// AcceptAll accepts tokens in order.
func (c *Chain) AcceptAll(tokens []Token) {
	for _, t := range tokens {
		c.Accept(t)
	}
}

// Reset clears all stage history and rewinds every stage generator to its
// seed. Stage parameters and order are unchanged.
func (c *Chain) Reset() {
	for _, st := range c.stages {
		st.Reset()
	}
}

// Close releases the stages. Further samples fail with ErrClosed; calling
// Close again is a no-op.
func (c *Chain) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.stages = nil
}

// State reports whether a sample is in progress.
func (c *Chain) State() State { return c.state }

// Len returns the number of stages.
func (c *Chain) Len() int { return len(c.stages) }

// Stage returns the i-th stage.
func (c *Chain) Stage(i int) Stage { return c.stages[i] }

// Names lists the stage names in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, st := range c.stages {
		names[i] = st.Name()
	}
	return names
}

// Perf returns the counters collected since construction or ResetPerf.
func (c *Chain) Perf() PerfData { return c.perf }

// ResetPerf zeroes the performance counters.
func (c *Chain) ResetPerf() { c.perf = PerfData{} }
