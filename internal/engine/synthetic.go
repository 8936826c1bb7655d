// Package engine provides a deterministic stand-in for a language model so
// generation loops, the benchmark and the server can run without weights.
package engine

import (
	"context"
	"fmt"

	"golang.org/x/exp/rand"

	"OpenSampler/internal/config"
	"OpenSampler/internal/runtime"
	"OpenSampler/internal/sampling"
)

func init() {
	runtime.Register("synthetic", func(cfg config.EngineConfig) (runtime.Engine, error) {
		return NewSynthetic(cfg.VocabSize, cfg.Seed)
	})
}

// Synthetic scores every token with Gaussian noise seeded by the engine
// seed and the last token of the history, and boosts a small set of
// successor tokens so output has structure. The same history always yields
// the same logits.
type Synthetic struct {
	vocab runtime.Vocab
	seed  uint64
}

// NewSynthetic builds an engine over vocabSize tokens. The last id is EOS
// and the one before it is the newline token.
func NewSynthetic(vocabSize int, seed uint64) (*Synthetic, error) {
	if vocabSize < 4 {
		return nil, fmt.Errorf("engine: synthetic vocab_size must be at least 4, got %d", vocabSize)
	}
	return &Synthetic{
		vocab: runtime.Vocab{
			Size:    vocabSize,
			EOS:     sampling.Token(vocabSize - 1),
			Newline: sampling.Token(vocabSize - 2),
		},
		seed: seed,
	}, nil
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Vocab() runtime.Vocab { return s.vocab }

func (s *Synthetic) Close() error { return nil }

// Logits returns the scores for the token following history.
func (s *Synthetic) Logits(ctx context.Context, history []sampling.Token) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	last := uint64(0)
	if n := len(history); n > 0 {
		last = uint64(history[n-1]) + 1
	}
	r := rand.New(rand.NewSource(s.seed ^ (last * 0x9E3779B97F4A7C15)))

	n := s.vocab.Size
	logits := make([]float32, n)
	for i := range logits {
		logits[i] = float32(r.NormFloat64())
	}
	for i := 0; i < 3; i++ {
		logits[r.Intn(n-1)] += float32(4 - i)
	}
	// EOS becomes likelier as the history grows.
	logits[s.vocab.EOS] = float32(-4 + 0.05*float64(len(history)))
	return logits, nil
}
