package sampling_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"OpenSampler/internal/sampling"
)

var _ = Describe("Distribution", func() {
	Describe("FromLogits", func() {
		It("creates one unsorted logit entry per vocabulary id", func() {
			d := sampling.FromLogits([]float32{0.5, -1, 2})

			Expect(d.Len()).To(Equal(3))
			Expect(ids(d)).To(Equal([]sampling.Token{0, 1, 2}))
			Expect(d.Domain).To(Equal(sampling.DomainLogit))
			Expect(d.Sorted).To(BeFalse())
			Expect(d.Selected).To(Equal(-1))
		})
	})

	Describe("Softmax", func() {
		It("produces non-negative values that sum to one", func() {
			d := sampling.FromLogits([]float32{1.0, 2.0, 0.5, 3.0, 0.1})

			Expect(d.Softmax()).To(Succeed())
			Expect(d.Domain).To(Equal(sampling.DomainProbability))
			Expect(sum(d)).To(BeNumerically("~", 1.0, 1e-6))
			for _, t := range d.Tokens {
				Expect(t.Value).To(BeNumerically(">=", 0))
			}
		})

		It("stays finite for very large logits", func() {
			d := sampling.FromLogits([]float32{1e30, 1e30 - 1e24, -1e30})

			Expect(d.Softmax()).To(Succeed())
			Expect(sum(d)).To(BeNumerically("~", 1.0, 1e-6))
			Expect(d.Validate()).To(Succeed())
		})

		It("keeps masked logits at zero probability", func() {
			negInf := float32(math.Inf(-1))
			d := sampling.FromLogits([]float32{0, negInf, 0})

			Expect(d.Softmax()).To(Succeed())
			Expect(d.Tokens[1].Value).To(BeZero())
			Expect(d.Tokens[0].Value).To(BeNumerically("~", 0.5, 1e-7))
		})

		It("renormalizes values already in the probability domain", func() {
			d := &sampling.Distribution{
				Tokens: []sampling.TokenScore{{ID: 0, Value: 0.2}, {ID: 1, Value: 0.6}},
				Domain: sampling.DomainProbability,
			}

			Expect(d.Softmax()).To(Succeed())
			Expect(d.Tokens[0].Value).To(BeNumerically("~", 0.25, 1e-7))
			Expect(d.Tokens[1].Value).To(BeNumerically("~", 0.75, 1e-7))
		})

		It("is idempotent once normalized", func() {
			d := sampling.FromLogits([]float32{0.3, 1.2, -0.7})
			Expect(d.Softmax()).To(Succeed())
			before := append([]sampling.TokenScore(nil), d.Tokens...)

			Expect(d.Softmax()).To(Succeed())
			for i, t := range d.Tokens {
				Expect(t.ID).To(Equal(before[i].ID))
				Expect(t.Value).To(BeNumerically("~", before[i].Value, 1e-6))
			}
		})

		It("reports an empty distribution", func() {
			d := sampling.FromLogits(nil)

			Expect(d.Softmax()).To(MatchError(sampling.ErrEmptyDistribution))
		})

		It("reports a numeric error when every candidate is masked", func() {
			negInf := float32(math.Inf(-1))
			d := sampling.FromLogits([]float32{negInf, negInf})

			Expect(d.Softmax()).To(MatchError(sampling.ErrNumeric))
		})
	})

	Describe("SortDescending", func() {
		It("orders by value and breaks ties by lowest id", func() {
			d := sampling.FromLogits([]float32{1, 3, 3, 2})

			d.SortDescending()

			Expect(ids(d)).To(Equal([]sampling.Token{1, 2, 3, 0}))
			Expect(d.Sorted).To(BeTrue())
		})
	})

	Describe("Truncate", func() {
		It("never keeps fewer than min_keep entries", func() {
			d := sampling.FromLogits([]float32{5, 4, 3, 2, 1})

			d.Truncate(2, func(int, sampling.TokenScore) bool { return false })

			Expect(ids(d)).To(Equal([]sampling.Token{0, 1}))
		})

		It("keeps everything when fewer than min_keep entries exist", func() {
			d := sampling.FromLogits([]float32{5, 4, 3})

			d.Truncate(10, func(int, sampling.TokenScore) bool { return false })

			Expect(d.Len()).To(Equal(3))
		})

		It("cuts at the first rejected entry", func() {
			d := sampling.FromLogits([]float32{5, 4, 3, 2, 1})

			d.Truncate(1, func(_ int, t sampling.TokenScore) bool { return t.Value > 2.5 })

			Expect(ids(d)).To(Equal([]sampling.Token{0, 1, 2}))
		})
	})

	Describe("Validate", func() {
		It("rejects NaN", func() {
			d := sampling.FromLogits([]float32{1, float32(math.NaN())})

			Expect(d.Validate()).To(MatchError(sampling.ErrNumeric))
		})

		It("rejects +Inf", func() {
			d := sampling.FromLogits([]float32{float32(math.Inf(1)), 0})

			Expect(d.Validate()).To(MatchError(sampling.ErrNumeric))
		})

		It("accepts -Inf masks", func() {
			d := sampling.FromLogits([]float32{float32(math.Inf(-1)), 0})

			Expect(d.Validate()).To(Succeed())
		})
	})
})
