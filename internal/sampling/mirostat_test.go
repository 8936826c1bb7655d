package sampling_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"OpenSampler/internal/sampling"
)

var _ = Describe("Mirostat", func() {
	uniform := make([]float32, 8)

	Describe("v2", func() {
		var (
			chain *sampling.Chain
			stage *sampling.MirostatV2
		)

		BeforeEach(func() {
			var err error
			chain, err = sampling.NewBuilder(sampling.DefaultChainParams()).
				MirostatV2(42, 5, 0.1).
				Build()
			Expect(err).NotTo(HaveOccurred())
			stage = chain.Stage(0).(*sampling.MirostatV2)
		})

		It("starts mu at twice tau", func() {
			Expect(stage.Mu()).To(BeNumerically("==", 10))
		})

		It("moves mu by eta times the surprise error on accept", func() {
			token, err := chain.Sample(uniform)
			Expect(err).NotTo(HaveOccurred())

			chain.Accept(token)

			// p = 1/8 gives a surprise of exactly 3 bits.
			Expect(stage.Mu()).To(BeNumerically("~", 10+0.1*(5-3), 1e-6))
		})

		It("ignores tokens accepted before any sample", func() {
			chain.Accept(3)

			Expect(stage.Mu()).To(BeNumerically("==", 10))
		})

		It("restores mu on reset", func() {
			token, err := chain.Sample(uniform)
			Expect(err).NotTo(HaveOccurred())
			chain.Accept(token)

			chain.Reset()

			Expect(stage.Mu()).To(BeNumerically("==", 10))
		})

		It("drops candidates whose surprise exceeds mu", func() {
			s, err := sampling.NewMirostatV2(1, 0.5, 0.1)
			Expect(err).NotTo(HaveOccurred())
			d := sampling.FromLogits(logitsFor(0.6, 0.3, 0.1))

			Expect(s.Apply(d)).To(Succeed())

			// mu = 1 bit keeps only p >= 0.5.
			Expect(ids(d)).To(Equal([]sampling.Token{0}))
		})
	})

	Describe("v1", func() {
		It("truncates a Zipf distribution to the estimated k", func() {
			zipf := make([]float32, 10)
			for i := range zipf {
				zipf[i] = float32(-2 * math.Log(float64(i+1)))
			}
			s, err := sampling.NewMirostat(10, 7, 1, 0.1, 100)
			Expect(err).NotTo(HaveOccurred())
			d := sampling.FromLogits(zipf)

			Expect(s.Apply(d)).To(Succeed())

			Expect(ids(d)).To(Equal([]sampling.Token{0, 1}))
			token, ok := d.SelectedToken()
			Expect(ok).To(BeTrue())
			Expect(token).To(BeNumerically("<", 2))
		})

		It("keeps a flat distribution whole and learns from accepts", func() {
			chain, err := sampling.NewBuilder(sampling.DefaultChainParams()).
				Mirostat(8, 3, 5, 0.1, 100).
				Build()
			Expect(err).NotTo(HaveOccurred())
			stage := chain.Stage(0).(*sampling.Mirostat)

			token, err := chain.Sample(uniform)
			Expect(err).NotTo(HaveOccurred())
			chain.Accept(token)

			Expect(stage.Mu()).To(BeNumerically("~", 10.2, 1e-6))
		})

		DescribeTable("rejects invalid parameters",
			func(nVocab int, tau, eta float32, m int) {
				_, err := sampling.NewMirostat(nVocab, 1, tau, eta, m)
				Expect(err).To(MatchError(sampling.ErrConstruction))
			},
			Entry("empty vocabulary", 0, float32(5), float32(0.1), 100),
			Entry("negative tau", 8, float32(-1), float32(0.1), 100),
			Entry("NaN eta", 8, float32(5), float32(math.NaN()), 100),
			Entry("m below one", 8, float32(5), float32(0.1), 0),
		)
	})
})
