package runtime

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"OpenSampler/internal/config"
	"OpenSampler/internal/sampling"
)

const defaultMirostatM = 100

// VocabFromConfig returns the vocabulary described in the sampling section,
// used when no engine is attached.
func VocabFromConfig(cfg config.VocabConfig) Vocab {
	return Vocab{
		Size:    cfg.Size,
		EOS:     sampling.Token(cfg.EOS),
		Newline: sampling.Token(cfg.Newline),
	}
}

// NewChain assembles a sampler chain from configuration. An explicit stage
// list is built as written; otherwise the flat defaults are compiled in the
// order penalties, top-k, tail-free, typical, top-p, min-p, temperature,
// dist. Temperature 0 selects greedily and mirostat 1 or 2 replaces the
// truncation stages.
func NewChain(cfg config.SamplingConfig, vocab Vocab, logger *zap.Logger) (*sampling.Chain, error) {
	b := sampling.NewBuilder(sampling.ChainParams{
		NoPerf: !cfg.Perf,
		Logger: logger,
	})

	if len(cfg.Stages) > 0 {
		for i, sc := range cfg.Stages {
			if err := addStage(b, sc, cfg.Seed, vocab); err != nil {
				return nil, fmt.Errorf("runtime: stage %d: %w", i, err)
			}
		}
	} else if err := addDefaults(b, cfg.Defaults, cfg.Seed, vocab); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	chain, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("runtime: build chain: %w", err)
	}
	return chain, nil
}

func addDefaults(b *sampling.Builder, d config.GenerationDefaults, seed uint32, vocab Vocab) error {
	minKeep := max(d.MinKeep, 1)

	repeat := d.RepeatPenalty
	if repeat == 0 {
		repeat = 1
	}
	if d.RepeatLastN > 0 && (repeat != 1 || d.FrequencyPenalty != 0 || d.PresencePenalty != 0) {
		b.Penalties(sampling.PenaltyParams{
			NVocab:          vocab.Size,
			EOS:             vocab.EOS,
			Newline:         vocab.Newline,
			LastN:           d.RepeatLastN,
			Repeat:          float32(repeat),
			Frequency:       float32(d.FrequencyPenalty),
			Presence:        float32(d.PresencePenalty),
			PenalizeNewline: d.PenalizeNewline,
			IgnoreEOS:       d.IgnoreEOS,
		})
	}

	if d.Temperature <= 0 {
		b.Greedy()
		return nil
	}

	switch d.Mirostat {
	case 0:
	case 1:
		b.Temperature(float32(d.Temperature)).
			Mirostat(vocab.Size, seed, float32(d.MirostatTau), float32(d.MirostatEta), defaultMirostatM)
		return nil
	case 2:
		b.Temperature(float32(d.Temperature)).
			MirostatV2(seed, float32(d.MirostatTau), float32(d.MirostatEta))
		return nil
	default:
		return fmt.Errorf("mirostat must be 0, 1 or 2, got %d: %w", d.Mirostat, sampling.ErrConstruction)
	}

	if d.TopK > 0 {
		b.TopK(d.TopK)
	}
	if d.TailFreeZ > 0 && d.TailFreeZ < 1 {
		b.TailFree(float32(d.TailFreeZ), minKeep)
	}
	if d.TypicalP > 0 && d.TypicalP < 1 {
		b.TypicalP(float32(d.TypicalP), minKeep)
	}
	if d.TopP > 0 && d.TopP < 1 {
		b.TopP(float32(d.TopP), minKeep)
	}
	if d.MinP > 0 {
		b.MinP(float32(d.MinP), minKeep)
	}
	if d.DynatempRange > 0 {
		b.DynamicTemperature(float32(d.Temperature), float32(d.DynatempRange), float32(d.DynatempExponent))
	} else {
		b.Temperature(float32(d.Temperature))
	}
	b.Dist(seed)
	return nil
}

func addStage(b *sampling.Builder, sc config.StageConfig, chainSeed uint32, vocab Vocab) error {
	seed := chainSeed
	if sc.Seed != 0 {
		seed = sc.Seed
	}
	minKeep := max(sc.MinKeep, 1)

	switch strings.ToLower(strings.TrimSpace(sc.Type)) {
	case "temperature", "temp":
		b.Temperature(float32(sc.Temp))
	case "dynamic_temperature", "dynatemp":
		b.DynamicTemperature(float32(sc.Temp), float32(sc.Delta), float32(sc.Exponent))
	case "top_k":
		b.TopK(sc.K)
	case "top_p":
		b.TopP(float32(sc.P), minKeep)
	case "min_p":
		b.MinP(float32(sc.P), minKeep)
	case "tail_free", "tfs":
		b.TailFree(float32(sc.Z), minKeep)
	case "typical_p", "typical":
		b.TypicalP(float32(sc.P), minKeep)
	case "penalties":
		repeat := sc.Repeat
		if repeat == 0 {
			repeat = 1
		}
		b.Penalties(sampling.PenaltyParams{
			NVocab:          vocab.Size,
			EOS:             vocab.EOS,
			Newline:         vocab.Newline,
			LastN:           sc.LastN,
			Repeat:          float32(repeat),
			Frequency:       float32(sc.Frequency),
			Presence:        float32(sc.Presence),
			PenalizeNewline: sc.PenalizeNL,
			IgnoreEOS:       sc.IgnoreEOS,
		})
	case "softmax":
		b.Softmax()
	case "greedy":
		b.Greedy()
	case "dist":
		b.Dist(seed)
	case "mirostat":
		m := sc.M
		if m == 0 {
			m = defaultMirostatM
		}
		b.Mirostat(vocab.Size, seed, float32(sc.Tau), float32(sc.Eta), m)
	case "mirostat_v2":
		b.MirostatV2(seed, float32(sc.Tau), float32(sc.Eta))
	default:
		return fmt.Errorf("unknown stage type %q: %w", sc.Type, sampling.ErrConstruction)
	}
	return nil
}
