package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"OpenSampler/internal/sampling"
)

// Config captures sampling, engine, server, logging and benchmark settings
// for OpenSampler.
type Config struct {
	Sampling SamplingConfig `yaml:"sampling" toml:"sampling"`
	Engine   EngineConfig   `yaml:"engine" toml:"engine"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Bench    BenchConfig    `yaml:"bench" toml:"bench"`
}

// SamplingConfig describes how sampler chains are assembled. When Stages is
// empty the chain is compiled from Defaults in the canonical order.
type SamplingConfig struct {
	Seed     uint32             `yaml:"seed" toml:"seed"`
	Perf     bool               `yaml:"perf" toml:"perf"`
	Preset   string             `yaml:"preset" toml:"preset"`
	Vocab    VocabConfig        `yaml:"vocab" toml:"vocab"`
	Defaults GenerationDefaults `yaml:"defaults" toml:"defaults"`
	Stages   []StageConfig      `yaml:"stages" toml:"stages"`
}

// VocabConfig describes the vocabulary when no engine supplies it.
type VocabConfig struct {
	Size    int   `yaml:"size" toml:"size"`
	EOS     int32 `yaml:"eos" toml:"eos"`
	Newline int32 `yaml:"newline" toml:"newline"`
}

// GenerationDefaults holds the flat sampling parameters most users tune.
type GenerationDefaults struct {
	Temperature      float64 `yaml:"temperature" toml:"temperature"`
	DynatempRange    float64 `yaml:"dynatemp_range" toml:"dynatemp_range"`
	DynatempExponent float64 `yaml:"dynatemp_exponent" toml:"dynatemp_exponent"`
	TopK             int     `yaml:"top_k" toml:"top_k"`
	TopP             float64 `yaml:"top_p" toml:"top_p"`
	MinP             float64 `yaml:"min_p" toml:"min_p"`
	TypicalP         float64 `yaml:"typical_p" toml:"typical_p"`
	TailFreeZ        float64 `yaml:"tfs_z" toml:"tfs_z"`
	MinKeep          int     `yaml:"min_keep" toml:"min_keep"`
	RepeatPenalty    float64 `yaml:"repeat_penalty" toml:"repeat_penalty"`
	RepeatLastN      int     `yaml:"repeat_last_n" toml:"repeat_last_n"`
	FrequencyPenalty float64 `yaml:"frequency_penalty" toml:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty" toml:"presence_penalty"`
	PenalizeNewline  bool    `yaml:"penalize_nl" toml:"penalize_nl"`
	IgnoreEOS        bool    `yaml:"ignore_eos" toml:"ignore_eos"`
	Mirostat         int     `yaml:"mirostat" toml:"mirostat"`
	MirostatTau      float64 `yaml:"mirostat_tau" toml:"mirostat_tau"`
	MirostatEta      float64 `yaml:"mirostat_eta" toml:"mirostat_eta"`
}

// StageConfig is one entry of an explicit stage list. Only the fields the
// stage type uses are read.
type StageConfig struct {
	Type string `yaml:"type" toml:"type"`

	Temp     float64 `yaml:"temp,omitempty" toml:"temp,omitempty"`
	Delta    float64 `yaml:"delta,omitempty" toml:"delta,omitempty"`
	Exponent float64 `yaml:"exponent,omitempty" toml:"exponent,omitempty"`

	K       int     `yaml:"k,omitempty" toml:"k,omitempty"`
	P       float64 `yaml:"p,omitempty" toml:"p,omitempty"`
	Z       float64 `yaml:"z,omitempty" toml:"z,omitempty"`
	MinKeep int     `yaml:"min_keep,omitempty" toml:"min_keep,omitempty"`

	LastN      int     `yaml:"last_n,omitempty" toml:"last_n,omitempty"`
	Repeat     float64 `yaml:"repeat,omitempty" toml:"repeat,omitempty"`
	Frequency  float64 `yaml:"frequency,omitempty" toml:"frequency,omitempty"`
	Presence   float64 `yaml:"presence,omitempty" toml:"presence,omitempty"`
	PenalizeNL bool    `yaml:"penalize_nl,omitempty" toml:"penalize_nl,omitempty"`
	IgnoreEOS  bool    `yaml:"ignore_eos,omitempty" toml:"ignore_eos,omitempty"`

	Tau float64 `yaml:"tau,omitempty" toml:"tau,omitempty"`
	Eta float64 `yaml:"eta,omitempty" toml:"eta,omitempty"`
	M   int     `yaml:"m,omitempty" toml:"m,omitempty"`

	// Seed overrides the chain seed for this stage when non-zero.
	Seed uint32 `yaml:"seed,omitempty" toml:"seed,omitempty"`
}

// EngineConfig selects the logits source for generation and benchmarks.
type EngineConfig struct {
	Backend   string            `yaml:"backend" toml:"backend"`
	VocabSize int               `yaml:"vocab_size" toml:"vocab_size"`
	Seed      uint64            `yaml:"seed" toml:"seed"`
	MaxTokens int               `yaml:"max_tokens" toml:"max_tokens"`
	HTTP      HTTPBackendConfig `yaml:"http" toml:"http"`
}

// HTTPBackendConfig configures the llama.cpp server engine. The server
// reports the NProbs most likely tokens per step; the rest are masked.
type HTTPBackendConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Timeout string `yaml:"timeout" toml:"timeout"`
	NProbs  int    `yaml:"n_probs" toml:"n_probs"`
	EOS     int32  `yaml:"eos" toml:"eos"`
	Newline int32  `yaml:"newline" toml:"newline"`
}

// ServerConfig defines the TCP session server and its metrics listener.
type ServerConfig struct {
	Host        string `yaml:"host" toml:"host"`
	Port        int    `yaml:"port" toml:"port"`
	MetricsPort int    `yaml:"metrics_port" toml:"metrics_port"`
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Debug  bool `yaml:"debug" toml:"debug"`
	ToFile bool `yaml:"to_file" toml:"to_file"`
}

// BenchConfig holds sampling benchmark defaults.
type BenchConfig struct {
	Iterations int    `yaml:"iterations" toml:"iterations"`
	Warmup     int    `yaml:"warmup" toml:"warmup"`
	Output     string `yaml:"output" toml:"output"`
}

const defaultConfigFile = "opensampler.yaml"

// Default returns a Config pre-populated with general-purpose defaults.
func Default() Config {
	return Config{
		Sampling: SamplingConfig{
			Seed: sampling.DefaultSeed,
			Vocab: VocabConfig{
				Size:    32000,
				EOS:     2,
				Newline: 13,
			},
			Defaults: GenerationDefaults{
				Temperature:      0.8,
				DynatempExponent: 1.0,
				TopK:             40,
				TopP:             0.95,
				MinP:             0.05,
				TypicalP:         1.0,
				TailFreeZ:        1.0,
				MinKeep:          1,
				RepeatPenalty:    1.1,
				RepeatLastN:      64,
				MirostatTau:      5.0,
				MirostatEta:      0.1,
			},
		},
		Engine: EngineConfig{
			Backend:   "synthetic",
			VocabSize: 256,
			Seed:      42,
			MaxTokens: 64,
			HTTP: HTTPBackendConfig{
				BaseURL: "http://127.0.0.1:8080",
				Timeout: "60s",
				NProbs:  64,
				EOS:     2,
				Newline: 13,
			},
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        42070,
			MetricsPort: 42071,
			Enabled:     true,
		},
		Bench: BenchConfig{
			Iterations: 200,
			Warmup:     10,
		},
	}
}

// Resolve loads configuration from file and environment variables. A
// preset named in the file or in APP_PRESET is layered over the defaults
// before the file itself, so explicit values always win.
func Resolve() (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(os.Getenv("APP_CONFIG"))
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("provided APP_CONFIG file %q not found", path)
	}

	var loaded Config
	if path != "" {
		var err error
		if loaded, err = loadFile(path); err != nil {
			return cfg, err
		}
	}

	presetName := loaded.Sampling.Preset
	if v := strings.TrimSpace(os.Getenv("APP_PRESET")); v != "" {
		presetName = v
	}
	if presetName != "" {
		preset, ok := MatchPreset(presetName)
		if !ok {
			return cfg, fmt.Errorf("config: unknown preset %q", presetName)
		}
		cfg.Sampling.Defaults = preset.Apply(cfg.Sampling.Defaults)
		cfg.Sampling.Preset = preset.Name
	}

	if path != "" {
		cfg = merge(cfg, loaded)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	return cfg, nil
}

func merge(base, override Config) Config {
	result := base

	s := override.Sampling
	if s.Seed != 0 {
		result.Sampling.Seed = s.Seed
	}
	if s.Perf {
		result.Sampling.Perf = true
	}
	if s.Vocab.Size != 0 {
		result.Sampling.Vocab.Size = s.Vocab.Size
	}
	if s.Vocab.EOS != 0 {
		result.Sampling.Vocab.EOS = s.Vocab.EOS
	}
	if s.Vocab.Newline != 0 {
		result.Sampling.Vocab.Newline = s.Vocab.Newline
	}
	result.Sampling.Defaults = mergeDefaults(result.Sampling.Defaults, s.Defaults)
	if len(s.Stages) != 0 {
		result.Sampling.Stages = append([]StageConfig(nil), s.Stages...)
	}

	if override.Engine.Backend != "" {
		result.Engine.Backend = override.Engine.Backend
	}
	if override.Engine.VocabSize != 0 {
		result.Engine.VocabSize = override.Engine.VocabSize
	}
	if override.Engine.Seed != 0 {
		result.Engine.Seed = override.Engine.Seed
	}
	if override.Engine.MaxTokens != 0 {
		result.Engine.MaxTokens = override.Engine.MaxTokens
	}
	h := override.Engine.HTTP
	if h.BaseURL != "" {
		result.Engine.HTTP.BaseURL = h.BaseURL
	}
	if h.Timeout != "" {
		result.Engine.HTTP.Timeout = h.Timeout
	}
	if h.NProbs != 0 {
		result.Engine.HTTP.NProbs = h.NProbs
	}
	if h.EOS != 0 {
		result.Engine.HTTP.EOS = h.EOS
	}
	if h.Newline != 0 {
		result.Engine.HTTP.Newline = h.Newline
	}

	if override.Server.Host != "" {
		result.Server.Host = override.Server.Host
	}
	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}
	if override.Server.MetricsPort != 0 {
		result.Server.MetricsPort = override.Server.MetricsPort
	}
	if override.Server.Enabled {
		result.Server.Enabled = override.Server.Enabled
	}

	if override.Logging.Debug {
		result.Logging.Debug = true
	}
	if override.Logging.ToFile {
		result.Logging.ToFile = true
	}

	if override.Bench.Iterations != 0 {
		result.Bench.Iterations = override.Bench.Iterations
	}
	if override.Bench.Warmup != 0 {
		result.Bench.Warmup = override.Bench.Warmup
	}
	if override.Bench.Output != "" {
		result.Bench.Output = override.Bench.Output
	}

	return result
}

func mergeDefaults(base, d GenerationDefaults) GenerationDefaults {
	result := base
	if d.Temperature != 0 {
		result.Temperature = d.Temperature
	}
	if d.DynatempRange != 0 {
		result.DynatempRange = d.DynatempRange
	}
	if d.DynatempExponent != 0 {
		result.DynatempExponent = d.DynatempExponent
	}
	if d.TopK != 0 {
		result.TopK = d.TopK
	}
	if d.TopP != 0 {
		result.TopP = d.TopP
	}
	if d.MinP != 0 {
		result.MinP = d.MinP
	}
	if d.TypicalP != 0 {
		result.TypicalP = d.TypicalP
	}
	if d.TailFreeZ != 0 {
		result.TailFreeZ = d.TailFreeZ
	}
	if d.MinKeep != 0 {
		result.MinKeep = d.MinKeep
	}
	if d.RepeatPenalty != 0 {
		result.RepeatPenalty = d.RepeatPenalty
	}
	if d.RepeatLastN != 0 {
		result.RepeatLastN = d.RepeatLastN
	}
	if d.FrequencyPenalty != 0 {
		result.FrequencyPenalty = d.FrequencyPenalty
	}
	if d.PresencePenalty != 0 {
		result.PresencePenalty = d.PresencePenalty
	}
	if d.PenalizeNewline {
		result.PenalizeNewline = true
	}
	if d.IgnoreEOS {
		result.IgnoreEOS = true
	}
	if d.Mirostat != 0 {
		result.Mirostat = d.Mirostat
	}
	if d.MirostatTau != 0 {
		result.MirostatTau = d.MirostatTau
	}
	if d.MirostatEta != 0 {
		result.MirostatEta = d.MirostatEta
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	d := &cfg.Sampling.Defaults

	if v := strings.TrimSpace(os.Getenv("APP_SAMPLING_SEED")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Sampling.Seed = uint32(n)
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_TEMPERATURE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			d.Temperature = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_TOP_K")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.TopK = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_TOP_P")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			d.TopP = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_MIN_P")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			d.MinP = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_REPEAT_PENALTY")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			d.RepeatPenalty = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_REPEAT_LAST_N")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.RepeatLastN = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_MIROSTAT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 2 {
			d.Mirostat = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_ENGINE_BACKEND")); v != "" {
		cfg.Engine.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_LLM_BASEURL")); v != "" {
		cfg.Engine.HTTP.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SERVER_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SERVER_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_METRICS_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port >= 0 {
			cfg.Server.MetricsPort = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_SERVER_ENABLED")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Server.Enabled = enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_LOG_DEBUG")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Debug = enabled
		}
	}
}

// ServerEnabled reports if the TCP server should be started.
func (c Config) ServerEnabled() bool {
	return c.Server.Enabled
}
