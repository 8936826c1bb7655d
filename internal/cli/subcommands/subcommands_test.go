package subcommands

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"OpenSampler/internal/config"
	"OpenSampler/internal/engine"
	"OpenSampler/internal/runtime"
)

func run(cmd *cobra.Command, stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var _ = Describe("Commands", func() {
	var env *Env

	BeforeEach(func() {
		cfg := config.Default()
		cfg.Sampling.Defaults.Temperature = 0
		cfg.Sampling.Defaults.RepeatLastN = 0
		cfg.Engine.VocabSize = 32
		cfg.Engine.MaxTokens = 8

		env = &Env{
			Config: cfg,
			Registry: runtime.Registry{
				"synthetic": func(c config.EngineConfig) (runtime.Engine, error) {
					return engine.NewSynthetic(c.VocabSize, c.Seed)
				},
			},
		}
	})

	Describe("sample", func() {
		It("selects the argmax with a greedy chain", func() {
			out, err := run(NewSampleCmd(env), "", "1", "2", "0.5", "3", "0.1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Chain: greedy"))
			Expect(out).To(ContainSubstring("selected 3"))
		})

		It("accepts history before sampling", func() {
			env.Config.Sampling.Stages = []config.StageConfig{
				{Type: "penalties", LastN: 4, Repeat: 1, Presence: 10},
				{Type: "greedy"},
			}
			out, err := run(NewSampleCmd(env), "", "--history", "3", "1", "2", "0.5", "3", "0.1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("selected 1"))
		})

		It("reads a JSON array from stdin", func() {
			out, err := run(NewSampleCmd(env), "[0, 5, 1]", "--file", "-")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("selected 1"))
		})

		It("treats -inf as a masked token", func() {
			out, err := run(NewSampleCmd(env), "", "--", "-inf", "1", "0")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("selected 1"))
		})

		It("requires logits", func() {
			_, err := run(NewSampleCmd(env), "")
			Expect(err).To(MatchError(ContainSubstring("requires logits")))
		})

		It("rejects malformed logits", func() {
			_, err := run(NewSampleCmd(env), "", "1", "two")
			Expect(err).To(MatchError(ContainSubstring("logit 1")))
		})
	})

	Describe("generate", func() {
		It("runs the synthetic engine to a finish reason", func() {
			out, err := run(NewGenerateCmd(env), "", "--prompt", "1,2", "--max-tokens", "5")
			Expect(err).NotTo(HaveOccurred())

			lines := strings.Split(strings.TrimSpace(out), "\n")
			Expect(lines).To(HaveLen(2))
			Expect(len(strings.Fields(lines[0]))).To(BeNumerically("<=", 5))
			Expect(lines[1]).To(MatchRegexp(`^\[(eos|length)\] \d+ tokens`))
		})

		It("is reproducible under a fixed seed", func() {
			first, err := run(NewGenerateCmd(env), "", "--prompt", "4")
			Expect(err).NotTo(HaveOccurred())
			second, err := run(NewGenerateCmd(env), "", "--prompt", "4")
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Split(first, "\n")[0]).To(Equal(strings.Split(second, "\n")[0]))
		})

		It("fails for an unknown backend", func() {
			env.Config.Engine.Backend = "llama"
			_, err := run(NewGenerateCmd(env), "")
			Expect(err).To(MatchError(ContainSubstring("not registered")))
		})
	})

	Describe("bench", func() {
		It("runs the selected scenarios and writes a report", func() {
			output := filepath.Join(GinkgoT().TempDir(), "bench.json")
			out, err := run(NewBenchCmd(env), "",
				"--iterations", "1", "--warmup", "0", "--steps", "4",
				"--scenario", "greedy,mirostat-v2", "--output", output)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("--- Benchmark: greedy ---"))
			Expect(out).To(ContainSubstring("--- Benchmark: mirostat-v2 ---"))
			Expect(out).NotTo(ContainSubstring("--- Benchmark: typical ---"))
			Expect(output).To(BeAnExistingFile())
		})

		It("rejects unknown scenarios", func() {
			_, err := run(NewBenchCmd(env), "", "--scenario", "beam")
			Expect(err).To(MatchError(ContainSubstring("unknown scenario")))
		})
	})

	Describe("config", func() {
		It("prints the resolved configuration and chain", func() {
			out, err := run(NewConfigCmd(env), "", "--chain")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("sampling:"))
			Expect(out).To(ContainSubstring("chain: [greedy]"))
		})
	})

	Describe("presets", func() {
		It("lists every preset", func() {
			out, err := run(NewPresetsCmd(env), "")
			Expect(err).NotTo(HaveOccurred())
			for _, p := range config.Presets() {
				Expect(out).To(ContainSubstring(p.Name))
			}
		})
	})
})

var _ = Describe("TUI helpers", func() {
	It("parses token ids separated by spaces and commas", func() {
		ids, err := parseTokenIDs("1, 2 3,4")
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(HaveLen(4))
		Expect(int(ids[3])).To(Equal(4))

		_, err = parseTokenIDs("1 x")
		Expect(err).To(MatchError(ContainSubstring(`"x"`)))
		_, err = parseTokenIDs("-3")
		Expect(err).To(HaveOccurred())
	})

	It("applies settings to the flat defaults", func() {
		cfg := config.Default()
		cfg.Sampling.Stages = []config.StageConfig{{Type: "greedy"}}

		Expect(applySetting(&cfg, "temp", "0.3")).To(Succeed())
		Expect(applySetting(&cfg, "top_k", "12")).To(Succeed())
		Expect(applySetting(&cfg, "mirostat", "2")).To(Succeed())
		Expect(applySetting(&cfg, "seed", "77")).To(Succeed())

		Expect(cfg.Sampling.Defaults.Temperature).To(Equal(0.3))
		Expect(cfg.Sampling.Defaults.TopK).To(Equal(12))
		Expect(cfg.Sampling.Defaults.Mirostat).To(Equal(2))
		Expect(cfg.Sampling.Seed).To(Equal(uint32(77)))
		Expect(cfg.Sampling.Stages).To(BeNil())
	})

	It("rejects invalid settings", func() {
		cfg := config.Default()
		Expect(applySetting(&cfg, "temp", "-1")).To(MatchError(ContainSubstring("temperature")))
		Expect(applySetting(&cfg, "mirostat", "3")).To(HaveOccurred())
		Expect(applySetting(&cfg, "beam", "4")).To(MatchError(ContainSubstring("unknown parameter")))
	})

	It("streams generation events into the transcript", func() {
		cfg := config.Default()
		m := newTuiModel(&tuiSession{}, cfg)
		m.entries = append(m.entries, entry{role: "Output"})
		m.loading = true

		next, _ := m.Update(streamToken{token: 7})
		next, _ = next.Update(streamToken{final: true, finish: runtime.FinishEOS, stats: &runtime.Stats{TokensGenerated: 1}})
		next, _ = next.Update(generationDone{})

		got := next.(tuiModel)
		Expect(got.loading).To(BeFalse())
		last := got.entries[len(got.entries)-1]
		Expect(last.tokens).To(Equal([]string{"7"}))
		Expect(last.finish).To(Equal(runtime.FinishEOS))
		Expect(renderStats(last.stats, last.finish)).To(ContainSubstring("| eos | 1 |"))
	})
})
