package sampling

import "math"

// mirostat holds what both Mirostat versions share: the surprise target,
// the learning rate, the running threshold mu and the candidate
// probabilities of the last draw, which Accept turns into an observed
// surprise.
type mirostat struct {
	tau float64
	eta float64
	mu  float64
	rng *rng

	candidates map[Token]float64
}

func newMirostat(stage string, seed uint32, tau, eta float32) (mirostat, error) {
	if !(tau >= 0) || math.IsInf(float64(tau), 0) {
		return mirostat{}, constructionError(stage, "tau must be a finite value >= 0, got %v", tau)
	}
	if !(eta >= 0) || math.IsInf(float64(eta), 0) {
		return mirostat{}, constructionError(stage, "eta must be a finite value >= 0, got %v", eta)
	}
	return mirostat{
		tau: float64(tau),
		eta: float64(eta),
		mu:  2 * float64(tau),
		rng: newRNG(seed),
	}, nil
}

// Mu returns the current surprise threshold.
func (m *mirostat) Mu() float64 { return m.mu }

// Seed returns the resolved RNG seed.
func (m *mirostat) Seed() uint32 { return m.rng.seed }

// draw renormalizes the remaining candidates, picks one and remembers the
// candidate probabilities for Accept.
func (m *mirostat) draw(d *Distribution) error {
	if err := d.Softmax(); err != nil {
		return err
	}
	probs := d.values()
	idx, ok := m.rng.draw(probs)
	if !ok {
		return newError(KindNumeric, "no candidate carries probability mass")
	}
	candidates := make(map[Token]float64, len(probs))
	for i, t := range d.Tokens {
		candidates[t.ID] = probs[i]
	}
	m.candidates = candidates
	d.Selected = idx
	return nil
}

// Accept moves mu toward tau by the observed surprise of token. Tokens that
// were not candidates of the last draw leave mu untouched.
func (m *mirostat) Accept(token Token) {
	p, ok := m.candidates[token]
	if !ok || p <= 0 {
		return
	}
	surprise := -math.Log2(p)
	m.mu += m.eta * (m.tau - surprise)
	m.candidates = nil
}

func (m *mirostat) Reset() {
	m.mu = 2 * m.tau
	m.candidates = nil
	m.rng.reset()
}

func (m *mirostat) checkpoint() func() {
	restoreRNG := m.rng.checkpoint()
	candidates := m.candidates
	return func() {
		restoreRNG()
		m.candidates = candidates
	}
}

func (m *mirostat) selects() {}

// Mirostat is the first Mirostat algorithm: it estimates the Zipf exponent
// of the m most likely tokens and derives the top-k that targets surprise
// mu. See https://arxiv.org/abs/2007.14966.
type Mirostat struct {
	mirostat
	nVocab int
	m      int
}

func NewMirostat(nVocab int, seed uint32, tau, eta float32, m int) (*Mirostat, error) {
	const name = "mirostat"
	if nVocab < 1 {
		return nil, constructionError(name, "n_vocab must be at least 1, got %d", nVocab)
	}
	if m < 1 {
		return nil, constructionError(name, "m must be at least 1, got %d", m)
	}
	base, err := newMirostat(name, seed, tau, eta)
	if err != nil {
		return nil, err
	}
	return &Mirostat{mirostat: base, nVocab: nVocab, m: m}, nil
}

func (s *Mirostat) Name() string { return "mirostat" }

func (s *Mirostat) Apply(d *Distribution) error {
	if err := d.Softmax(); err != nil {
		return err
	}
	d.SortDescending()

	k := s.estimateK(d)
	if k < d.Len() {
		d.Tokens = d.Tokens[:k]
	}
	return s.draw(d)
}

func (s *Mirostat) estimateK(d *Distribution) int {
	n := d.Len()
	if n < 2 {
		return n
	}

	var sumTiBi, sumTiSq float64
	for i := 0; i < s.m-1 && i < n-1; i++ {
		next := float64(d.Tokens[i+1].Value)
		if next <= 0 {
			break
		}
		ti := math.Log(float64(i+2) / float64(i+1))
		bi := math.Log(float64(d.Tokens[i].Value) / next)
		sumTiBi += ti * bi
		sumTiSq += ti * ti
	}
	if sumTiSq == 0 {
		return n
	}
	sHat := sumTiBi / sumTiSq
	epsHat := sHat - 1
	k := math.Pow(epsHat*math.Exp2(s.mu)/(1-math.Pow(float64(s.nVocab), -epsHat)), 1/sHat)

	switch {
	case math.IsNaN(k) || k >= float64(n):
		return n
	case k < 1:
		return 1
	default:
		return int(k)
	}
}

// MirostatV2 drops every candidate whose surprise exceeds mu, then draws.
type MirostatV2 struct {
	mirostat
}

func NewMirostatV2(seed uint32, tau, eta float32) (*MirostatV2, error) {
	base, err := newMirostat("mirostat_v2", seed, tau, eta)
	if err != nil {
		return nil, err
	}
	return &MirostatV2{mirostat: base}, nil
}

func (s *MirostatV2) Name() string { return "mirostat_v2" }

func (s *MirostatV2) Apply(d *Distribution) error {
	if err := d.Softmax(); err != nil {
		return err
	}
	d.SortDescending()

	d.Truncate(1, func(_ int, t TokenScore) bool {
		return -math.Log2(float64(t.Value)) <= s.mu
	})
	return s.draw(d)
}
