package sampling

import (
	"container/heap"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// TopK keeps the k highest-scoring candidates. It works in either domain.
type TopK struct {
	stateless
	k int
}

func NewTopK(k int) (*TopK, error) {
	if k < 1 {
		return nil, constructionError("top_k", "k must be at least 1, got %d", k)
	}
	return &TopK{k: k}, nil
}

func (s *TopK) Name() string { return "top_k" }

func (s *TopK) Apply(d *Distribution) error {
	if s.k >= d.Len() {
		d.SortDescending()
		return nil
	}
	if !d.Sorted {
		d.Tokens = topKHeap(d.Tokens, s.k)
		d.Sorted = true
		return nil
	}
	d.Tokens = d.Tokens[:s.k]
	return nil
}

// worstFirst is a min-heap in score order: the root is the candidate that
// would be dropped next.
type worstFirst []TokenScore

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return compareScores(h[i], h[j]) > 0 }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(TokenScore)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func topKHeap(tokens []TokenScore, k int) []TokenScore {
	h := make(worstFirst, k)
	copy(h, tokens[:k])
	heap.Init(&h)
	for _, t := range tokens[k:] {
		if compareScores(t, h[0]) < 0 {
			h[0] = t
			heap.Fix(&h, 0)
		}
	}
	out := []TokenScore(h)
	slices.SortFunc(out, compareScores)
	return out
}

// TopP keeps the smallest prefix of the sorted distribution whose
// cumulative probability reaches p.
type TopP struct {
	stateless
	p       float32
	minKeep int
}

func NewTopP(p float32, minKeep int) (*TopP, error) {
	if err := validUnit("top_p", "p", p); err != nil {
		return nil, err
	}
	if err := validMinKeep("top_p", minKeep); err != nil {
		return nil, err
	}
	return &TopP{p: p, minKeep: minKeep}, nil
}

func (s *TopP) Name() string { return "top_p" }

func (s *TopP) Apply(d *Distribution) error {
	if s.p >= 1 {
		return nil
	}
	if err := d.Softmax(); err != nil {
		return err
	}
	d.SortDescending()

	target := float64(s.p)
	var cum float64
	d.Truncate(s.minKeep, func(_ int, t TokenScore) bool {
		needed := cum < target
		cum += float64(t.Value)
		return needed
	})
	return nil
}

// MinP drops candidates whose probability is below p times the largest
// probability.
type MinP struct {
	stateless
	p       float32
	minKeep int
}

func NewMinP(p float32, minKeep int) (*MinP, error) {
	if err := validUnit("min_p", "p", p); err != nil {
		return nil, err
	}
	if err := validMinKeep("min_p", minKeep); err != nil {
		return nil, err
	}
	return &MinP{p: p, minKeep: minKeep}, nil
}

func (s *MinP) Name() string { return "min_p" }

func (s *MinP) Apply(d *Distribution) error {
	if s.p <= 0 {
		return nil
	}
	if err := d.Softmax(); err != nil {
		return err
	}
	d.SortDescending()

	threshold := s.p * d.Tokens[0].Value
	d.Truncate(s.minKeep, func(_ int, t TokenScore) bool {
		return t.Value >= threshold
	})
	return nil
}

// TailFree cuts the tail where the curvature of the sorted probability
// curve flattens out. See https://www.trentonbricken.com/Tail-Free-Sampling/.
type TailFree struct {
	stateless
	z       float32
	minKeep int
}

func NewTailFree(z float32, minKeep int) (*TailFree, error) {
	if err := validUnit("tail_free", "z", z); err != nil {
		return nil, err
	}
	if err := validMinKeep("tail_free", minKeep); err != nil {
		return nil, err
	}
	return &TailFree{z: z, minKeep: minKeep}, nil
}

func (s *TailFree) Name() string { return "tail_free" }

func (s *TailFree) Apply(d *Distribution) error {
	if s.z >= 1 || d.Len() <= 2 {
		return nil
	}
	if err := d.Softmax(); err != nil {
		return err
	}
	d.SortDescending()

	n := d.Len()
	first := make([]float64, n-1)
	for i := range first {
		first[i] = float64(d.Tokens[i].Value - d.Tokens[i+1].Value)
	}
	second := make([]float64, n-2)
	var total float64
	for i := range second {
		second[i] = math.Abs(first[i] - first[i+1])
		total += second[i]
	}
	if total > 1e-6 {
		for i := range second {
			second[i] /= total
		}
	}

	var cum float64
	z := float64(s.z)
	lastIdx := n
	for i, v := range second {
		cum += v
		if cum > z && i >= s.minKeep {
			lastIdx = i
			break
		}
	}
	d.Tokens = d.Tokens[:lastIdx]
	return nil
}

// TypicalP keeps the tokens whose information content is closest to the
// entropy of the distribution until their cumulative probability reaches p.
type TypicalP struct {
	stateless
	p       float32
	minKeep int
}

func NewTypicalP(p float32, minKeep int) (*TypicalP, error) {
	if err := validUnit("typical_p", "p", p); err != nil {
		return nil, err
	}
	if err := validMinKeep("typical_p", minKeep); err != nil {
		return nil, err
	}
	return &TypicalP{p: p, minKeep: minKeep}, nil
}

func (s *TypicalP) Name() string { return "typical_p" }

func (s *TypicalP) Apply(d *Distribution) error {
	if s.p >= 1 {
		return nil
	}
	if err := d.Softmax(); err != nil {
		return err
	}

	entropy := stat.Entropy(d.values())
	deviation := make(map[Token]float64, d.Len())
	for _, t := range d.Tokens {
		deviation[t.ID] = math.Abs(-math.Log(float64(t.Value)) - entropy)
	}
	slices.SortStableFunc(d.Tokens, func(a, b TokenScore) int {
		da, db := deviation[a.ID], deviation[b.ID]
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return compareScores(a, b)
	})
	d.Sorted = false

	target := float64(s.p)
	var cum float64
	d.Truncate(s.minKeep, func(_ int, t TokenScore) bool {
		needed := cum < target
		cum += float64(t.Value)
		return needed
	})
	return nil
}
