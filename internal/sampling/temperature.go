package sampling

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Temperature divides every logit by temp. A temperature of zero keeps
// only the highest logit and masks the rest, which makes any following
// draw deterministic.
type Temperature struct {
	stateless
	temp float32
}

func NewTemperature(temp float32) (*Temperature, error) {
	if !(temp >= 0) || math.IsInf(float64(temp), 0) {
		return nil, constructionError("temperature", "temp must be a finite value >= 0, got %v", temp)
	}
	return &Temperature{temp: temp}, nil
}

func (s *Temperature) Name() string { return "temperature" }

func (s *Temperature) Apply(d *Distribution) error {
	d.toLogits()
	scaleLogits(d, s.temp)
	return nil
}

func scaleLogits(d *Distribution, temp float32) {
	switch {
	case temp == 1:
	case temp <= 0:
		keepArgmax(d)
	default:
		for i := range d.Tokens {
			d.Tokens[i].Value /= temp
		}
	}
}

func keepArgmax(d *Distribution) {
	if len(d.Tokens) == 0 {
		return
	}
	best := argmax(d.Tokens)
	negInf := float32(math.Inf(-1))
	for i := range d.Tokens {
		if i != best {
			d.Tokens[i].Value = negInf
		}
	}
	d.Sorted = false
}

// argmax returns the index of the highest value, lowest id on ties.
func argmax(tokens []TokenScore) int {
	best := 0
	for i := 1; i < len(tokens); i++ {
		if compareScores(tokens[i], tokens[best]) < 0 {
			best = i
		}
	}
	return best
}

// DynamicTemperature picks the effective temperature per step from the
// normalized entropy of the distribution: flat distributions get close to
// temp+delta, peaked ones close to temp-delta (never below zero).
type DynamicTemperature struct {
	stateless
	temp     float32
	delta    float32
	exponent float32
}

func NewDynamicTemperature(temp, delta, exponent float32) (*DynamicTemperature, error) {
	const name = "dynamic_temperature"
	if _, err := NewTemperature(temp); err != nil {
		return nil, constructionError(name, "temp must be a finite value >= 0, got %v", temp)
	}
	if !(delta >= 0) || math.IsInf(float64(delta), 0) {
		return nil, constructionError(name, "delta must be a finite value >= 0, got %v", delta)
	}
	if !(exponent >= 0) || math.IsInf(float64(exponent), 0) {
		return nil, constructionError(name, "exponent must be a finite value >= 0, got %v", exponent)
	}
	return &DynamicTemperature{temp: temp, delta: delta, exponent: exponent}, nil
}

func (s *DynamicTemperature) Name() string { return "dynamic_temperature" }

func (s *DynamicTemperature) Apply(d *Distribution) error {
	d.toLogits()
	if s.delta <= 0 {
		scaleLogits(d, s.temp)
		return nil
	}
	if d.Len() <= 1 {
		return nil
	}

	logits := d.values()
	if err := d.Softmax(); err != nil {
		return err
	}
	t := dynamicTemperature(d.values(), float64(s.temp), float64(s.delta), float64(s.exponent))

	d.setValues(logits)
	d.Domain = DomainLogit
	scaleLogits(d, float32(t))
	return nil
}

func dynamicTemperature(probs []float64, temp, delta, exponent float64) float64 {
	minTemp := math.Max(0, temp-delta)
	maxTemp := temp + delta
	maxEntropy := math.Log(float64(len(probs)))
	if maxEntropy <= 0 {
		return temp
	}
	normalized := stat.Entropy(probs) / maxEntropy
	return minTemp + (maxTemp-minTemp)*math.Pow(normalized, exponent)
}
