package sampling

// Builder assembles a Chain from an ordered list of stages. The first
// invalid stage is remembered and returned by Build; later calls are
// ignored.
//
//	chain, err := sampling.NewBuilder(sampling.DefaultChainParams()).
//		TopK(40).
//		TopP(0.95, 1).
//		Temperature(0.8).
//		Dist(42).
//		Build()
type Builder struct {
	params ChainParams
	stages []Stage
	err    error
	built  bool
}

func NewBuilder(params ChainParams) *Builder {
	return &Builder{params: params}
}

// Add appends a stage. A construction error is recorded in place of the
// stage when err is non-nil.
func (b *Builder) Add(s Stage, err error) *Builder {
	if b.err != nil {
		return b
	}
	if err != nil {
		b.err = err
		return b
	}
	if s == nil {
		b.err = constructionError("", "nil stage at position %d", len(b.stages))
		return b
	}
	b.stages = append(b.stages, s)
	return b
}

func (b *Builder) Temperature(temp float32) *Builder {
	return b.Add(NewTemperature(temp))
}

func (b *Builder) DynamicTemperature(temp, delta, exponent float32) *Builder {
	return b.Add(NewDynamicTemperature(temp, delta, exponent))
}

func (b *Builder) TopK(k int) *Builder {
	return b.Add(NewTopK(k))
}

func (b *Builder) TopP(p float32, minKeep int) *Builder {
	return b.Add(NewTopP(p, minKeep))
}

func (b *Builder) MinP(p float32, minKeep int) *Builder {
	return b.Add(NewMinP(p, minKeep))
}

func (b *Builder) TailFree(z float32, minKeep int) *Builder {
	return b.Add(NewTailFree(z, minKeep))
}

func (b *Builder) TypicalP(p float32, minKeep int) *Builder {
	return b.Add(NewTypicalP(p, minKeep))
}

func (b *Builder) Penalties(p PenaltyParams) *Builder {
	return b.Add(NewPenalties(p))
}

func (b *Builder) Softmax() *Builder {
	return b.Add(NewSoftmax(), nil)
}

func (b *Builder) Greedy() *Builder {
	return b.Add(NewGreedy(), nil)
}

func (b *Builder) Dist(seed uint32) *Builder {
	return b.Add(NewDist(seed), nil)
}

func (b *Builder) Mirostat(nVocab int, seed uint32, tau, eta float32, m int) *Builder {
	return b.Add(NewMirostat(nVocab, seed, tau, eta, m))
}

func (b *Builder) MirostatV2(seed uint32, tau, eta float32) *Builder {
	return b.Add(NewMirostatV2(seed, tau, eta))
}

// Build validates the stage list and returns the chain. Exactly one
// selecting stage (greedy, dist, mirostat) is required and it must come
// last. A Builder can be built once.
func (b *Builder) Build() (*Chain, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.built {
		return nil, constructionError("", "builder already consumed")
	}
	if len(b.stages) == 0 {
		return nil, constructionError("", "chain has no stages")
	}
	last := len(b.stages) - 1
	for i, st := range b.stages {
		if IsTerminal(st) && i != last {
			return nil, constructionError(st.Name(), "selecting stage at position %d must be last", i)
		}
	}
	if !IsTerminal(b.stages[last]) {
		return nil, constructionError(b.stages[last].Name(), "chain must end with a selecting stage")
	}

	b.built = true
	stages := b.stages
	b.stages = nil
	return newChain(b.params, stages), nil
}
