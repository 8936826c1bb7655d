package llmclient

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"OpenSampler/internal/config"
	"OpenSampler/internal/runtime"
	"OpenSampler/internal/sampling"
)

func init() {
	runtime.Register("http", func(cfg config.EngineConfig) (runtime.Engine, error) {
		baseURL := strings.TrimSpace(cfg.HTTP.BaseURL)
		if baseURL == "" {
			return nil, fmt.Errorf("llmclient: http backend requires base_url")
		}

		timeout := 60 * time.Second
		if cfg.HTTP.Timeout != "" {
			parsed, err := time.ParseDuration(cfg.HTTP.Timeout)
			if err != nil {
				return nil, fmt.Errorf("llmclient: invalid http timeout %q: %w", cfg.HTTP.Timeout, err)
			}
			timeout = parsed
		}

		return NewEngine(NewClientWithTimeout(baseURL, timeout), runtime.Vocab{
			Size:    cfg.VocabSize,
			EOS:     sampling.Token(cfg.HTTP.EOS),
			Newline: sampling.Token(cfg.HTTP.Newline),
		}, cfg.HTTP.NProbs)
	})
}

// Engine asks a llama.cpp server for one token of lookahead and turns the
// reported top log-probabilities into logits. Tokens outside the reported
// set are masked, so the chain samples among at most nProbs candidates.
type Engine struct {
	client *Client
	vocab  runtime.Vocab
	nProbs int
}

// NewEngine wraps client. vocab.Size must cover every id the server reports.
func NewEngine(client *Client, vocab runtime.Vocab, nProbs int) (*Engine, error) {
	if vocab.Size < 1 {
		return nil, fmt.Errorf("llmclient: vocab_size must be set for the http backend")
	}
	if nProbs < 1 {
		nProbs = 64
	}
	return &Engine{client: client, vocab: vocab, nProbs: nProbs}, nil
}

// Name returns the engine label.
func (e *Engine) Name() string { return "http" }

func (e *Engine) Vocab() runtime.Vocab { return e.vocab }

// Close releases underlying resources.
func (e *Engine) Close() error { return nil }

// Logits requests the next-token distribution after history.
func (e *Engine) Logits(ctx context.Context, history []sampling.Token) ([]float32, error) {
	prompt := make([]int, len(history))
	for i, t := range history {
		prompt[i] = int(t)
	}

	resp, err := e.client.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		NPredict:    1,
		NProbs:      e.nProbs,
		CachePrompt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("llmclient: %w", err)
	}
	if len(resp.CompletionProbabilities) == 0 {
		return nil, fmt.Errorf("llmclient: server returned no token probabilities")
	}

	logits := make([]float32, e.vocab.Size)
	negInf := float32(math.Inf(-1))
	for i := range logits {
		logits[i] = negInf
	}

	seen := 0
	for _, top := range resp.CompletionProbabilities[0].TopLogprobs {
		if top.ID < 0 || top.ID >= e.vocab.Size {
			continue
		}
		logits[top.ID] = float32(top.Logprob)
		seen++
	}
	if seen == 0 {
		return nil, fmt.Errorf("llmclient: no reported token fits a vocabulary of %d", e.vocab.Size)
	}
	return logits, nil
}
