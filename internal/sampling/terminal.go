package sampling

// Softmax normalizes the candidates into probabilities and sorts them.
type Softmax struct {
	stateless
}

func NewSoftmax() *Softmax { return &Softmax{} }

func (s *Softmax) Name() string { return "softmax" }

func (s *Softmax) Apply(d *Distribution) error {
	if err := d.Softmax(); err != nil {
		return err
	}
	d.SortDescending()
	return nil
}

// Greedy selects the highest value, lowest id on ties. It never draws.
type Greedy struct {
	stateless
}

func NewGreedy() *Greedy { return &Greedy{} }

func (s *Greedy) Name() string { return "greedy" }

func (s *Greedy) Apply(d *Distribution) error {
	if d.Len() == 0 {
		return newError(KindEmptyDistribution, "greedy over zero candidates")
	}
	d.Selected = argmax(d.Tokens)
	return nil
}

func (s *Greedy) selects() {}

// Dist draws a token with probability proportional to its normalized
// value, using a generator private to this stage.
type Dist struct {
	rng *rng
}

func NewDist(seed uint32) *Dist {
	return &Dist{rng: newRNG(seed)}
}

func (s *Dist) Name() string { return "dist" }

func (s *Dist) Apply(d *Distribution) error {
	if err := d.Softmax(); err != nil {
		return err
	}
	idx, ok := s.rng.draw(d.values())
	if !ok {
		return newError(KindNumeric, "no candidate carries probability mass")
	}
	d.Selected = idx
	return nil
}

func (s *Dist) Accept(Token) {}

// Reset rewinds the generator to its seed.
func (s *Dist) Reset() { s.rng.reset() }

// Seed returns the resolved seed, which differs from DefaultSeed once a
// random seed has been chosen.
func (s *Dist) Seed() uint32 { return s.rng.seed }

func (s *Dist) checkpoint() func() { return s.rng.checkpoint() }

func (s *Dist) selects() {}
