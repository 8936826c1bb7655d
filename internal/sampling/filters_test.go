package sampling_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"OpenSampler/internal/sampling"
)

var _ = Describe("Temperature", func() {
	It("divides every logit by temp", func() {
		s, err := sampling.NewTemperature(2)
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits([]float32{1, 2, 4})

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Tokens[0].Value).To(BeNumerically("==", 0.5))
		Expect(d.Tokens[1].Value).To(BeNumerically("==", 1))
		Expect(d.Tokens[2].Value).To(BeNumerically("==", 2))
	})

	It("keeps only the argmax at temp 0", func() {
		s, err := sampling.NewTemperature(0)
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits([]float32{1, 4, 4, 2})

		Expect(s.Apply(d)).To(Succeed())

		finite := 0
		for _, t := range d.Tokens {
			if !math.IsInf(float64(t.Value), -1) {
				finite++
				Expect(t.ID).To(Equal(sampling.Token(1)))
			}
		}
		Expect(finite).To(Equal(1))
	})

	DescribeTable("rejects invalid temperatures",
		func(temp float32) {
			_, err := sampling.NewTemperature(temp)
			Expect(err).To(MatchError(sampling.ErrConstruction))
		},
		Entry("negative", float32(-0.5)),
		Entry("NaN", float32(math.NaN())),
		Entry("+Inf", float32(math.Inf(1))),
	)
})

var _ = Describe("DynamicTemperature", func() {
	It("maps a flat distribution to temp+delta", func() {
		t := sampling.DynamicTemperatureFor([]float64{0.25, 0.25, 0.25, 0.25}, 1, 0.5, 1)

		Expect(t).To(BeNumerically("~", 1.5, 1e-9))
	})

	It("maps a one-hot distribution to temp-delta", func() {
		t := sampling.DynamicTemperatureFor([]float64{1, 0, 0, 0}, 1, 0.5, 1)

		Expect(t).To(BeNumerically("~", 0.5, 1e-9))
	})

	It("never goes below zero", func() {
		t := sampling.DynamicTemperatureFor([]float64{1, 0}, 0.2, 0.5, 1)

		Expect(t).To(BeNumerically("==", 0))
	})

	It("behaves like plain temperature when delta is zero", func() {
		s, err := sampling.NewDynamicTemperature(2, 0, 1)
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits([]float32{2, 4})

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Tokens[0].Value).To(BeNumerically("==", 1))
		Expect(d.Tokens[1].Value).To(BeNumerically("==", 2))
	})

	It("leaves the distribution in the logit domain", func() {
		s, err := sampling.NewDynamicTemperature(1, 0.5, 1)
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits([]float32{0.1, 0.9, 0.3})

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Domain).To(Equal(sampling.DomainLogit))
		Expect(d.Len()).To(Equal(3))
	})
})

var _ = Describe("TopK", func() {
	logits := []float32{0.3, 2.1, -1, 5, 5, 0, 4.2, 1.1, -3, 2.1}

	It("keeps the k highest logits in descending order", func() {
		s, err := sampling.NewTopK(4)
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits(logits)

		Expect(s.Apply(d)).To(Succeed())
		Expect(ids(d)).To(Equal([]sampling.Token{3, 4, 6, 1}))
		Expect(d.Sorted).To(BeTrue())
	})

	It("keeps min(k, N) candidates that dominate the discarded ones", func() {
		for k := 1; k <= len(logits)+2; k++ {
			s, err := sampling.NewTopK(k)
			Expect(err).NotTo(HaveOccurred())
			d := sampling.FromLogits(logits)

			Expect(s.Apply(d)).To(Succeed())
			Expect(d.Len()).To(Equal(min(k, len(logits))))

			kept := map[sampling.Token]bool{}
			lowest := float32(math.Inf(1))
			for _, t := range d.Tokens {
				kept[t.ID] = true
				lowest = min(lowest, t.Value)
			}
			for id, v := range logits {
				if !kept[sampling.Token(id)] {
					Expect(v).To(BeNumerically("<=", lowest), "k=%d id=%d", k, id)
				}
			}
		}
	})

	It("rejects k below one", func() {
		_, err := sampling.NewTopK(0)
		Expect(err).To(MatchError(sampling.ErrConstruction))
	})
})

var _ = Describe("TopP", func() {
	probs := []float64{0.5, 0.3, 0.15, 0.05}

	DescribeTable("keeps the smallest prefix reaching p",
		func(p float32, minKeep int, want []sampling.Token) {
			s, err := sampling.NewTopP(p, minKeep)
			Expect(err).NotTo(HaveOccurred())
			d := sampling.FromLogits(logitsFor(probs...))

			Expect(s.Apply(d)).To(Succeed())
			Expect(ids(d)).To(Equal(want))
		},
		Entry("p=0.7", float32(0.7), 1, []sampling.Token{0, 1}),
		Entry("p=0.85", float32(0.85), 1, []sampling.Token{0, 1, 2}),
		Entry("p=0 keeps one", float32(0), 1, []sampling.Token{0}),
		Entry("min_keep wins over p", float32(0.1), 3, []sampling.Token{0, 1, 2}),
	)

	It("is a no-op at p=1", func() {
		s, err := sampling.NewTopP(1, 1)
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits(logitsFor(probs...))

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Len()).To(Equal(4))
		Expect(d.Domain).To(Equal(sampling.DomainLogit))
	})

	DescribeTable("rejects invalid parameters",
		func(p float32, minKeep int) {
			_, err := sampling.NewTopP(p, minKeep)
			Expect(err).To(MatchError(sampling.ErrConstruction))
		},
		Entry("p above one", float32(1.5), 1),
		Entry("negative p", float32(-0.1), 1),
		Entry("min_keep zero", float32(0.9), 0),
	)
})

var _ = Describe("MinP", func() {
	probs := []float64{0.5, 0.3, 0.15, 0.05}

	DescribeTable("drops candidates below p times the best",
		func(p float32, minKeep int, want int) {
			s, err := sampling.NewMinP(p, minKeep)
			Expect(err).NotTo(HaveOccurred())
			d := sampling.FromLogits(logitsFor(probs...))

			Expect(s.Apply(d)).To(Succeed())
			Expect(d.Len()).To(Equal(want))
		},
		Entry("p=0.25", float32(0.25), 1, 3),
		Entry("p=0.9", float32(0.9), 1, 1),
		Entry("min_keep wins over p", float32(0.9), 4, 4),
		Entry("p=0 is a no-op", float32(0), 1, 4),
	)
})

var _ = Describe("TailFree", func() {
	probs := []float64{0.4, 0.3, 0.2, 0.05, 0.03, 0.02}

	DescribeTable("cuts where the curvature mass exceeds z",
		func(z float32, want []sampling.Token) {
			s, err := sampling.NewTailFree(z, 1)
			Expect(err).NotTo(HaveOccurred())
			d := sampling.FromLogits(logitsFor(probs...))

			Expect(s.Apply(d)).To(Succeed())
			Expect(ids(d)).To(Equal(want))
		},
		Entry("z=0.5", float32(0.5), []sampling.Token{0, 1}),
		Entry("z=0.95", float32(0.95), []sampling.Token{0, 1, 2}),
	)

	It("is a no-op at z=1", func() {
		s, err := sampling.NewTailFree(1, 1)
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits(logitsFor(probs...))

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Len()).To(Equal(6))
	})
})

var _ = Describe("TypicalP", func() {
	probs := []float64{0.5, 0.3, 0.15, 0.05}

	DescribeTable("keeps the candidates closest to the entropy",
		func(p float32, want []sampling.Token) {
			s, err := sampling.NewTypicalP(p, 1)
			Expect(err).NotTo(HaveOccurred())
			d := sampling.FromLogits(logitsFor(probs...))

			Expect(s.Apply(d)).To(Succeed())
			Expect(ids(d)).To(Equal(want))
			Expect(d.Sorted).To(BeFalse())
		},
		Entry("p=0.5", float32(0.5), []sampling.Token{1, 0}),
		Entry("p=0.2", float32(0.2), []sampling.Token{1}),
	)

	It("is a no-op at p=1", func() {
		s, err := sampling.NewTypicalP(1, 1)
		Expect(err).NotTo(HaveOccurred())
		d := sampling.FromLogits(logitsFor(probs...))

		Expect(s.Apply(d)).To(Succeed())
		Expect(d.Len()).To(Equal(4))
	})
})
