package sampling_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"OpenSampler/internal/sampling"
)

func generate(c *sampling.Chain, logits []float32, n int) []sampling.Token {
	out := make([]sampling.Token, 0, n)
	for range n {
		token, err := c.Sample(logits)
		Expect(err).NotTo(HaveOccurred())
		c.Accept(token)
		out = append(out, token)
	}
	return out
}

var _ = Describe("Builder", func() {
	var b *sampling.Builder

	BeforeEach(func() {
		b = sampling.NewBuilder(sampling.DefaultChainParams())
	})

	It("builds stages in the order they were added", func() {
		chain, err := b.TopK(40).TopP(0.95, 1).MinP(0.05, 1).Temperature(0.8).Dist(42).Build()

		Expect(err).NotTo(HaveOccurred())
		Expect(chain.Names()).To(Equal([]string{"top_k", "top_p", "min_p", "temperature", "dist"}))
		Expect(chain.Len()).To(Equal(5))
	})

	It("reports the first invalid stage", func() {
		_, err := b.TopK(40).TopP(1.5, 1).MinP(-1, 1).Greedy().Build()

		var se *sampling.Error
		Expect(errors.As(err, &se)).To(BeTrue())
		Expect(se.Kind).To(Equal(sampling.KindConstruction))
		Expect(se.Stage).To(Equal("top_p"))
	})

	It("rejects an empty chain", func() {
		_, err := b.Build()
		Expect(err).To(MatchError(sampling.ErrConstruction))
	})

	It("rejects a chain without a selecting stage", func() {
		_, err := b.TopK(10).Softmax().Build()
		Expect(err).To(MatchError(sampling.ErrConstruction))
	})

	It("rejects a selecting stage before the end", func() {
		_, err := b.Greedy().TopK(10).Greedy().Build()
		Expect(err).To(MatchError(sampling.ErrConstruction))
	})

	It("can only be built once", func() {
		_, err := b.Greedy().Build()
		Expect(err).NotTo(HaveOccurred())

		_, err = b.Build()
		Expect(err).To(MatchError(sampling.ErrConstruction))
	})

	It("rejects a nil stage", func() {
		_, err := b.Add(nil, nil).Greedy().Build()
		Expect(err).To(MatchError(sampling.ErrConstruction))
	})
})

var _ = Describe("Chain", func() {
	It("samples the argmax of the top-k survivors", func() {
		chain, err := sampling.NewBuilder(sampling.DefaultChainParams()).
			TopK(3).Softmax().Greedy().Build()
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits([]float32{1.0, 2.0, 0.5, 3.0, 0.1})

		token, err := chain.Apply(d)

		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal(sampling.Token(3)))
		Expect(ids(d)).To(Equal([]sampling.Token{3, 1, 0}))
		Expect(sum(d)).To(BeNumerically("~", 1, 1e-6))
	})

	It("breaks greedy ties by lowest id on every call", func() {
		chain, err := sampling.NewBuilder(sampling.DefaultChainParams()).Greedy().Build()
		Expect(err).NotTo(HaveOccurred())

		for range 3 {
			token, err := chain.Sample([]float32{1, 5, 5, 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal(sampling.Token(1)))
		}
	})

	It("lets prompt tokens prime the penalties before the first sample", func() {
		chain, err := sampling.NewBuilder(sampling.DefaultChainParams()).
			Penalties(sampling.PenaltyParams{NVocab: 2, EOS: -1, Newline: -1, LastN: 4, Repeat: 2}).
			Greedy().
			Build()
		Expect(err).NotTo(HaveOccurred())

		chain.AcceptAll([]sampling.Token{0})
		token, err := chain.Sample([]float32{3, 2.9})

		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(Equal(sampling.Token(1)))
	})

	It("makes temperature 0 followed by dist deterministic", func() {
		chain, err := sampling.NewBuilder(sampling.DefaultChainParams()).
			Temperature(0).Dist(sampling.DefaultSeed).Build()
		Expect(err).NotTo(HaveOccurred())

		for range 5 {
			token, err := chain.Sample([]float32{0.2, 0.1, 0.9, 0.3})
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal(sampling.Token(2)))
		}
	})

	Describe("errors", func() {
		var (
			chain     *sampling.Chain
			penalties *sampling.Penalties
		)

		BeforeEach(func() {
			var err error
			chain, err = sampling.NewBuilder(sampling.DefaultChainParams()).
				Penalties(sampling.PenaltyParams{NVocab: 4, EOS: -1, Newline: -1, LastN: 4, Repeat: 1.1}).
				Dist(5).
				Build()
			Expect(err).NotTo(HaveOccurred())
			penalties = chain.Stage(0).(*sampling.Penalties)
			chain.Accept(2)
		})

		It("fails on an empty distribution and keeps history", func() {
			_, err := chain.Sample(nil)

			Expect(err).To(MatchError(sampling.ErrEmptyDistribution))
			Expect(penalties.Window()).To(Equal([]sampling.Token{2}))
			Expect(chain.State()).To(Equal(sampling.StateIdle))
		})

		It("rejects NaN input", func() {
			_, err := chain.Sample([]float32{0, float32(math.NaN()), 1, 2})

			var se *sampling.Error
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Kind).To(Equal(sampling.KindNumeric))
			Expect(se.Stage).To(Equal("input"))
		})

		It("names the stage that overflowed", func() {
			hot, err := sampling.NewBuilder(sampling.DefaultChainParams()).
				Temperature(1e-3).Greedy().Build()
			Expect(err).NotTo(HaveOccurred())

			_, err = hot.Sample([]float32{1e38, 1})

			var se *sampling.Error
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Kind).To(Equal(sampling.KindNumeric))
			Expect(se.Stage).To(Equal("temperature"))
		})

		It("fails every call after close", func() {
			chain.Close()
			chain.Close()

			_, err := chain.Sample([]float32{1, 2, 3, 4})
			Expect(err).To(MatchError(sampling.ErrClosed))
		})
	})

	Describe("determinism", func() {
		logits := []float32{0.1, 0.4, 0.2, 0.3, 0.25, 0.15}

		build := func(seed uint32) *sampling.Chain {
			chain, err := sampling.NewBuilder(sampling.DefaultChainParams()).
				Penalties(sampling.PenaltyParams{NVocab: 6, EOS: -1, Newline: -1, LastN: 4, Repeat: 1.3, Presence: 0.1}).
				TopK(5).
				Temperature(1.5).
				Dist(seed).
				Build()
			Expect(err).NotTo(HaveOccurred())
			return chain
		}

		It("replays the same tokens after reset", func() {
			chain := build(1234)
			first := generate(chain, logits, 32)

			chain.Reset()

			Expect(generate(chain, logits, 32)).To(Equal(first))
		})

		It("matches a fresh chain with the same seed", func() {
			Expect(generate(build(99), logits, 32)).To(Equal(generate(build(99), logits, 32)))
		})

		It("replays a randomly seeded chain after reset", func() {
			chain := build(sampling.DefaultSeed)
			dist := chain.Stage(3).(*sampling.Dist)
			Expect(dist.Seed()).NotTo(Equal(sampling.DefaultSeed))

			first := generate(chain, logits, 16)
			chain.Reset()

			Expect(generate(chain, logits, 16)).To(Equal(first))
		})

		It("leaves the generator untouched by a failed step", func() {
			flaky, setFail := sampling.NewDrawThenFail(9)
			a, err := sampling.NewBuilder(sampling.DefaultChainParams()).Add(flaky, nil).Build()
			Expect(err).NotTo(HaveOccurred())
			b, err := sampling.NewBuilder(sampling.DefaultChainParams()).Dist(9).Build()
			Expect(err).NotTo(HaveOccurred())

			setFail(true)
			_, err = a.Sample(logits)
			Expect(err).To(MatchError(sampling.ErrNumeric))
			setFail(false)

			Expect(generate(a, logits, 16)).To(Equal(generate(b, logits, 16)))
		})
	})

	Describe("perf", func() {
		It("counts samples when enabled", func() {
			chain, err := sampling.NewBuilder(sampling.ChainParams{}).Greedy().Build()
			Expect(err).NotTo(HaveOccurred())

			generate(chain, []float32{1, 2}, 3)

			Expect(chain.Perf().Samples).To(Equal(3))
			chain.ResetPerf()
			Expect(chain.Perf().Samples).To(BeZero())
			Expect(chain.Perf().MeanSample()).To(BeZero())
		})

		It("stays at zero when disabled", func() {
			chain, err := sampling.NewBuilder(sampling.DefaultChainParams()).Greedy().Build()
			Expect(err).NotTo(HaveOccurred())

			generate(chain, []float32{1, 2}, 3)

			Expect(chain.Perf().Samples).To(BeZero())
		})
	})
})
