package runtime

import (
	"context"
	"errors"
	"time"

	"OpenSampler/internal/sampling"
)

// ErrNoEngine is returned when a manager has no engine to draw logits from.
var ErrNoEngine = errors.New("runtime: no engine configured")

// Finish reasons reported in Response.Finish.
const (
	FinishEOS      = "eos"
	FinishLength   = "length"
	FinishCanceled = "canceled"
)

// Vocab describes the token space an engine scores.
type Vocab struct {
	Size    int
	EOS     sampling.Token
	Newline sampling.Token
}

// Request captures prompt tokens along with generation limits.
type Request struct {
	Prompt    []sampling.Token
	MaxTokens int
}

// Response contains the generated tokens plus statistics.
type Response struct {
	SessionID string
	Tokens    []sampling.Token
	Finish    string
	Stats     Stats
}

// Stats summarises one generation.
type Stats struct {
	TokensEvaluated int
	TokensGenerated int
	Duration        time.Duration

	// TTFT is the time from request start until the first sampled token.
	TTFT time.Duration

	// GenerationTPS is the token generation throughput (tokens/second).
	GenerationTPS float64

	// Sampling holds the chain's own counters when perf tracking is on.
	Sampling sampling.PerfData
}

// StreamEvent is emitted for each token and once more at the end.
type StreamEvent struct {
	Token sampling.Token
	Index int
	Final bool
	Err   error

	// Finish and Stats are populated on the final event.
	Finish string
	Stats  *Stats
}

// StreamCallback is invoked for each StreamEvent while streaming results.
type StreamCallback func(StreamEvent) error

// Engine produces next-token logits for a token history. It stands in for
// the neural forward pass, which lives outside this module.
type Engine interface {
	Name() string
	Vocab() Vocab
	Logits(ctx context.Context, history []sampling.Token) ([]float32, error)
	Close() error
}
