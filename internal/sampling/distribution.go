// Package sampling implements the token sampler chain: an ordered sequence
// of stages that narrows a vocabulary-wide score distribution down to the
// single token emitted for one generation step.
package sampling

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Token is an id into the model vocabulary.
type Token int32

// Domain reports what the values of a Distribution currently hold.
type Domain int

const (
	// DomainLogit means values are unnormalized scores.
	DomainLogit Domain = iota
	// DomainProbability means values are probabilities (non-negative).
	DomainProbability
)

func (d Domain) String() string {
	switch d {
	case DomainLogit:
		return "logit"
	case DomainProbability:
		return "probability"
	default:
		return fmt.Sprintf("domain(%d)", int(d))
	}
}

// TokenScore pairs a vocabulary id with its current score.
type TokenScore struct {
	ID    Token
	Value float32
}

// Distribution is the working candidate set for one sampling step. It is
// built fresh from engine logits, mutated in place by every stage of a
// chain and discarded once a token has been selected.
type Distribution struct {
	Tokens []TokenScore

	// Sorted is true while Tokens is ordered by value descending with ties
	// broken by ascending id.
	Sorted bool

	// Domain applies to every entry of Tokens.
	Domain Domain

	// Selected is the index into Tokens chosen by a terminal stage, or -1.
	Selected int
}

// FromLogits builds an unsorted logit-domain distribution with one entry
// per vocabulary id.
func FromLogits(logits []float32) *Distribution {
	tokens := make([]TokenScore, len(logits))
	for i, v := range logits {
		tokens[i] = TokenScore{ID: Token(i), Value: v}
	}
	return &Distribution{Tokens: tokens, Domain: DomainLogit, Selected: -1}
}

// Len returns the number of remaining candidates.
func (d *Distribution) Len() int {
	return len(d.Tokens)
}

// SelectedToken returns the token picked by a terminal stage.
func (d *Distribution) SelectedToken() (Token, bool) {
	if d.Selected < 0 || d.Selected >= len(d.Tokens) {
		return -1, false
	}
	return d.Tokens[d.Selected].ID, true
}

// Prob returns the value held for id when the distribution is in the
// probability domain.
func (d *Distribution) Prob(id Token) (float32, bool) {
	if d.Domain != DomainProbability {
		return 0, false
	}
	for _, t := range d.Tokens {
		if t.ID == id {
			return t.Value, true
		}
	}
	return 0, false
}

// Softmax moves the distribution into the probability domain. Logits are
// exponentiated after subtracting the maximum; values already in the
// probability domain are renormalized to sum to one.
func (d *Distribution) Softmax() error {
	if len(d.Tokens) == 0 {
		return newError(KindEmptyDistribution, "softmax over zero candidates")
	}
	if d.Domain == DomainProbability {
		return d.normalize()
	}

	maxLogit := math.Inf(-1)
	for _, t := range d.Tokens {
		if v := float64(t.Value); v > maxLogit {
			maxLogit = v
		}
	}
	if math.IsInf(maxLogit, 0) || math.IsNaN(maxLogit) {
		return newError(KindNumeric, "softmax with maximum logit %v", maxLogit)
	}

	exps := make([]float64, len(d.Tokens))
	for i, t := range d.Tokens {
		exps[i] = math.Exp(float64(t.Value) - maxLogit)
	}
	sum := floats.Sum(exps)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return newError(KindNumeric, "softmax normalizer is %v", sum)
	}

	for i := range d.Tokens {
		d.Tokens[i].Value = float32(exps[i] / sum)
	}
	d.Domain = DomainProbability
	return nil
}

func (d *Distribution) normalize() error {
	sum := floats.Sum(d.values())
	if !(sum > 0) || math.IsInf(sum, 0) {
		return newError(KindNumeric, "probability mass is %v", sum)
	}
	if math.Abs(sum-1) < 1e-7 {
		return nil
	}
	for i := range d.Tokens {
		d.Tokens[i].Value = float32(float64(d.Tokens[i].Value) / sum)
	}
	return nil
}

// toLogits moves probability values back into the log domain so that
// logit-space stages can follow probability-space ones. Zero maps to -Inf.
func (d *Distribution) toLogits() {
	if d.Domain == DomainLogit {
		return
	}
	for i := range d.Tokens {
		d.Tokens[i].Value = float32(math.Log(float64(d.Tokens[i].Value)))
	}
	d.Domain = DomainLogit
}

// SortDescending orders entries by value descending, lowest id first on ties.
func (d *Distribution) SortDescending() {
	if d.Sorted {
		return
	}
	slices.SortFunc(d.Tokens, compareScores)
	d.Sorted = true
}

func compareScores(a, b TokenScore) int {
	if c := cmp.Compare(b.Value, a.Value); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Truncate keeps the leading entries of the current order up to the first
// entry rejected by keep, but never fewer than minKeep entries. keep is
// called once per index, in order, until the cut is found, so it may carry
// running state such as a cumulative sum.
func (d *Distribution) Truncate(minKeep int, keep func(i int, t TokenScore) bool) {
	cut := len(d.Tokens)
	for i, t := range d.Tokens {
		if !keep(i, t) && i >= minKeep {
			cut = i
			break
		}
	}
	d.Tokens = d.Tokens[:cut]
}

// Validate reports NaN scores, +Inf scores and negative probabilities.
// -Inf logits are masks and pass.
func (d *Distribution) Validate() error {
	for _, t := range d.Tokens {
		v := float64(t.Value)
		switch {
		case math.IsNaN(v):
			return newError(KindNumeric, "token %d has NaN score", t.ID)
		case math.IsInf(v, 1):
			return newError(KindNumeric, "token %d has +Inf score", t.ID)
		case d.Domain == DomainProbability && v < 0:
			return newError(KindNumeric, "token %d has negative probability %v", t.ID, v)
		}
	}
	return nil
}

func (d *Distribution) values() []float64 {
	out := make([]float64, len(d.Tokens))
	for i, t := range d.Tokens {
		out[i] = float64(t.Value)
	}
	return out
}

func (d *Distribution) setValues(vals []float64) {
	for i := range d.Tokens {
		d.Tokens[i].Value = float32(vals[i])
	}
}
