package config

import "strings"

// ModelPreset holds sampling defaults tuned for a model family or a
// generation style. Zero fields leave the underlying value alone.
type ModelPreset struct {
	// Display name for logging.
	Name string

	Temperature      float64
	TopK             int
	TopP             float64
	MinP             float64
	TypicalP         float64
	RepeatPenalty    float64
	RepeatLastN      int
	PresencePenalty  float64
	FrequencyPenalty float64
	Mirostat         int
	MirostatTau      float64
	MirostatEta      float64
}

// presetEntry pairs a match key with its preset for ordered iteration.
type presetEntry struct {
	key    string
	preset ModelPreset
}

// knownPresets lists presets in match priority order. Matching checks if a
// key is a case-insensitive substring of the requested name, so more
// specific keys come first.
var knownPresets = []presetEntry{
	// --- Model families ---
	{"qwen2.5", ModelPreset{
		Name:          "Qwen2.5",
		Temperature:   0.7,
		TopK:          40,
		TopP:          0.9,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}},
	{"llama 3.2", ModelPreset{
		Name:          "Llama-3.2",
		Temperature:   0.6,
		TopK:          40,
		TopP:          0.9,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}},
	{"smollm2", ModelPreset{
		Name:          "SmolLM2",
		Temperature:   0.7,
		TopK:          40,
		TopP:          0.9,
		MinP:          0.05,
		RepeatPenalty: 1.15,
		RepeatLastN:   64,
	}},
	{"gemma 2", ModelPreset{
		Name:          "Gemma-2",
		Temperature:   0.7,
		TopK:          40,
		TopP:          0.9,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}},
	{"phi 3.5", ModelPreset{
		Name:          "Phi-3.5",
		Temperature:   0.7,
		TopK:          40,
		TopP:          0.9,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}},
	{"tinyllama", ModelPreset{
		Name:          "TinyLlama",
		Temperature:   0.7,
		TopK:          40,
		TopP:          0.9,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}},

	// --- Generation styles ---
	{"creative", ModelPreset{
		Name:            "Creative",
		Temperature:     1.1,
		TopK:            100,
		TopP:            0.98,
		MinP:            0.02,
		TypicalP:        0.95,
		RepeatPenalty:   1.05,
		RepeatLastN:     128,
		PresencePenalty: 0.2,
	}},
	{"precise", ModelPreset{
		Name:          "Precise",
		Temperature:   0.2,
		TopK:          20,
		TopP:          0.8,
		MinP:          0.1,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}},
	{"mirostat", ModelPreset{
		Name:          "Mirostat-v2",
		Temperature:   0.8,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		Mirostat:      2,
		MirostatTau:   5.0,
		MirostatEta:   0.1,
	}},
}

// MatchPreset finds the first preset whose key occurs in name. Dashes and
// underscores count as spaces.
func MatchPreset(name string) (ModelPreset, bool) {
	n := strings.ToLower(name)
	n = strings.ReplaceAll(n, "-", " ")
	n = strings.ReplaceAll(n, "_", " ")

	for _, entry := range knownPresets {
		if strings.Contains(n, entry.key) {
			return entry.preset, true
		}
	}
	return ModelPreset{}, false
}

// Presets returns every known preset in match order.
func Presets() []ModelPreset {
	out := make([]ModelPreset, len(knownPresets))
	for i, entry := range knownPresets {
		out[i] = entry.preset
	}
	return out
}

// Apply overlays the preset's non-zero values onto defaults.
func (p ModelPreset) Apply(defaults GenerationDefaults) GenerationDefaults {
	if p.Temperature > 0 {
		defaults.Temperature = p.Temperature
	}
	if p.TopK > 0 {
		defaults.TopK = p.TopK
	}
	if p.TopP > 0 {
		defaults.TopP = p.TopP
	}
	if p.MinP > 0 {
		defaults.MinP = p.MinP
	}
	if p.TypicalP > 0 {
		defaults.TypicalP = p.TypicalP
	}
	if p.RepeatPenalty > 0 {
		defaults.RepeatPenalty = p.RepeatPenalty
	}
	if p.RepeatLastN > 0 {
		defaults.RepeatLastN = p.RepeatLastN
	}
	if p.PresencePenalty != 0 {
		defaults.PresencePenalty = p.PresencePenalty
	}
	if p.FrequencyPenalty != 0 {
		defaults.FrequencyPenalty = p.FrequencyPenalty
	}
	if p.Mirostat > 0 {
		defaults.Mirostat = p.Mirostat
		defaults.MirostatTau = p.MirostatTau
		defaults.MirostatEta = p.MirostatEta
	}
	return defaults
}
