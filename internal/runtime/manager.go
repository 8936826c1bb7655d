package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"OpenSampler/internal/config"
	"OpenSampler/internal/sampling"
)

// Manager drives generation loops: it asks the engine for logits, samples
// with a fresh chain per request and feeds every emitted token back.
type Manager struct {
	engine    Engine
	sampling  config.SamplingConfig
	maxTokens int
	logger    *zap.Logger
}

// NewManager constructs the manager using the engine named in cfg.
func NewManager(cfg config.Config, registry Registry, logger *zap.Logger) (*Manager, error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Engine.Backend))
	if backend == "" {
		backend = "synthetic"
	}

	engineFactory, ok := registry[backend]
	if !ok {
		return nil, fmt.Errorf("runtime: backend %q not registered", backend)
	}

	engine, err := engineFactory(cfg.Engine)
	if err != nil {
		return nil, err
	}

	return NewManagerWithEngine(engine, cfg, logger), nil
}

// NewManagerWithEngine wraps an existing engine.
func NewManagerWithEngine(engine Engine, cfg config.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		engine:    engine,
		sampling:  cfg.Sampling,
		maxTokens: cfg.Engine.MaxTokens,
		logger:    logger.Named("runtime"),
	}
}

// Engine returns the engine logits are drawn from.
func (m *Manager) Engine() Engine {
	return m.engine
}

// Close frees engine resources.
func (m *Manager) Close() error {
	if m == nil || m.engine == nil {
		return nil
	}
	return m.engine.Close()
}

// Generate runs a generation to completion and returns every token. On
// cancellation the tokens produced so far are returned with the context
// error.
func (m *Manager) Generate(ctx context.Context, req Request) (Response, error) {
	resp := Response{SessionID: uuid.NewString()}
	err := m.stream(ctx, resp.SessionID, req, func(ev StreamEvent) error {
		if ev.Final {
			resp.Finish = ev.Finish
			if ev.Stats != nil {
				resp.Stats = *ev.Stats
			}
			return nil
		}
		resp.Tokens = append(resp.Tokens, ev.Token)
		return nil
	})
	return resp, err
}

// Stream runs a generation and reports every token through cb. An error
// returned by cb stops the generation.
func (m *Manager) Stream(ctx context.Context, req Request, cb StreamCallback) error {
	return m.stream(ctx, uuid.NewString(), req, cb)
}

func (m *Manager) stream(ctx context.Context, sessionID string, req Request, cb StreamCallback) error {
	if m == nil || m.engine == nil {
		return ErrNoEngine
	}

	vocab := m.engine.Vocab()
	logger := m.logger.With(zap.String("session", sessionID))
	chain, err := NewChain(m.sampling, vocab, logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	history := append([]sampling.Token(nil), req.Prompt...)
	chain.AcceptAll(req.Prompt)

	start := time.Now()
	stats := Stats{TokensEvaluated: len(req.Prompt)}
	finish := FinishLength

	finalize := func(loopErr error) error {
		stats.Duration = time.Since(start)
		if stats.TokensGenerated > 0 && stats.Duration > 0 {
			stats.GenerationTPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
		}
		stats.Sampling = chain.Perf()
		logger.Debug("generation finished",
			zap.String("finish", finish),
			zap.Int("tokens", stats.TokensGenerated),
			zap.Duration("duration", stats.Duration))
		if err := cb(StreamEvent{Index: stats.TokensGenerated, Final: true, Err: loopErr, Finish: finish, Stats: &stats}); err != nil && loopErr == nil {
			return err
		}
		return loopErr
	}

	for stats.TokensGenerated < maxTokens {
		if err := ctx.Err(); err != nil {
			finish = FinishCanceled
			return finalize(err)
		}

		logits, err := m.engine.Logits(ctx, history)
		if err != nil {
			if ctx.Err() != nil {
				finish = FinishCanceled
			}
			return finalize(fmt.Errorf("runtime: logits: %w", err))
		}

		token, err := chain.Sample(logits)
		if err != nil {
			return finalize(fmt.Errorf("runtime: sample: %w", err))
		}
		if stats.TokensGenerated == 0 {
			stats.TTFT = time.Since(start)
		}

		chain.Accept(token)
		if token == vocab.EOS {
			finish = FinishEOS
			break
		}

		history = append(history, token)
		if err := cb(StreamEvent{Token: token, Index: stats.TokensGenerated}); err != nil {
			return err
		}
		stats.TokensGenerated++
	}

	return finalize(nil)
}
