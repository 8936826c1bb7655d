package sampling

import (
	mrand "math/rand/v2"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// DefaultSeed asks a stage to pick its own random seed at construction.
const DefaultSeed uint32 = 0xFFFFFFFF

// rng is the private generator owned by one stage. The resolved seed is
// kept so Reset replays the exact same sequence.
type rng struct {
	seed uint32
	src  *rand.PCGSource
}

func newRNG(seed uint32) *rng {
	if seed == DefaultSeed {
		seed = mrand.Uint32()
	}
	r := &rng{seed: seed, src: &rand.PCGSource{}}
	r.src.Seed(uint64(seed))
	return r
}

func (r *rng) reset() {
	r.src.Seed(uint64(r.seed))
}

func (r *rng) checkpoint() func() {
	saved := *r.src
	return func() { *r.src = saved }
}

// draw picks an index with probability proportional to its weight.
func (r *rng) draw(weights []float64) (int, bool) {
	return sampleuv.NewWeighted(weights, r.src).Take()
}
