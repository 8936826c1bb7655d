package sampling_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"OpenSampler/internal/sampling"
)

var _ = Describe("Penalties", func() {
	var params sampling.PenaltyParams

	BeforeEach(func() {
		params = sampling.PenaltyParams{
			NVocab:          4,
			EOS:             -1,
			Newline:         -1,
			LastN:           8,
			Repeat:          2,
			Frequency:       0.5,
			Presence:        1,
			PenalizeNewline: true,
		}
	})

	build := func() *sampling.Penalties {
		s, err := sampling.NewPenalties(params)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	It("counts only tokens inside the window", func() {
		params.NVocab = 8
		params.LastN = 2
		s := build()

		s.Accept(5)
		s.Accept(5)
		s.Accept(5)

		Expect(s.Count(5)).To(Equal(2))
		Expect(s.Window()).To(Equal([]sampling.Token{5, 5}))
	})

	It("evicts the oldest token once the window is full", func() {
		params.LastN = 3
		s := build()

		for _, t := range []sampling.Token{0, 1, 2, 3} {
			s.Accept(t)
		}

		Expect(s.Window()).To(Equal([]sampling.Token{1, 2, 3}))
		Expect(s.Count(0)).To(BeZero())
		Expect(s.Count(3)).To(Equal(1))
	})

	It("applies repeat, frequency and presence penalties", func() {
		s := build()
		s.Accept(0)
		s.Accept(1)
		s.Accept(1)
		d := sampling.FromLogits([]float32{2, -1, 3, 0.5})

		Expect(s.Apply(d)).To(Succeed())

		Expect(d.Tokens[0].Value).To(BeNumerically("~", -0.5, 1e-6))
		Expect(d.Tokens[1].Value).To(BeNumerically("~", -4, 1e-6))
		Expect(d.Tokens[2].Value).To(BeNumerically("==", 3))
		Expect(d.Tokens[3].Value).To(BeNumerically("==", 0.5))
	})

	It("does not change the history when applied", func() {
		s := build()
		s.Accept(2)
		d := sampling.FromLogits([]float32{1, 1, 1, 1})

		Expect(s.Apply(d)).To(Succeed())
		Expect(s.Window()).To(Equal([]sampling.Token{2}))
	})

	It("leaves the newline token alone unless penalize_nl is set", func() {
		params.Newline = 1
		params.PenalizeNewline = false
		s := build()
		s.Accept(1)
		d := sampling.FromLogits([]float32{2, -1, 3, 0.5})

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Tokens[1].Value).To(BeNumerically("==", -1))
	})

	It("excludes EOS from penalization when ignore_eos is set", func() {
		params.EOS = 0
		params.IgnoreEOS = true
		s := build()
		s.Accept(0)
		d := sampling.FromLogits([]float32{2, -1, 3, 0.5})

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Tokens[0].Value).To(BeNumerically("==", 2))
	})

	It("is disabled by a zero window", func() {
		params.LastN = 0
		s := build()
		s.Accept(0)
		d := sampling.FromLogits([]float32{2, -1, 3, 0.5})

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Tokens[0].Value).To(BeNumerically("==", 2))
		Expect(s.Window()).To(BeEmpty())
	})

	It("ignores tokens outside the vocabulary", func() {
		s := build()
		s.Accept(-3)
		s.Accept(99)

		Expect(s.Window()).To(BeEmpty())
	})

	It("clears the window on reset", func() {
		s := build()
		s.Accept(3)
		s.Reset()

		Expect(s.Count(3)).To(BeZero())
		Expect(s.Window()).To(BeEmpty())
	})

	DescribeTable("rejects invalid parameters",
		func(mutate func(p *sampling.PenaltyParams)) {
			mutate(&params)
			_, err := sampling.NewPenalties(params)
			Expect(err).To(MatchError(sampling.ErrConstruction))
		},
		Entry("negative window", func(p *sampling.PenaltyParams) { p.LastN = -1 }),
		Entry("zero repeat penalty", func(p *sampling.PenaltyParams) { p.Repeat = 0 }),
		Entry("empty vocabulary", func(p *sampling.PenaltyParams) { p.NVocab = 0 }),
		Entry("eos outside vocabulary", func(p *sampling.PenaltyParams) { p.EOS = 10 }),
		Entry("newline outside vocabulary", func(p *sampling.PenaltyParams) { p.Newline = 4 }),
	)
})
