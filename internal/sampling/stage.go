package sampling

// Stage is one transformation in a sampler chain.
//
// Apply mutates the distribution in place. Accept informs the stage of the
// token actually emitted and is the only place history may change. Reset
// drops all history while keeping parameters.
type Stage interface {
	Name() string
	Apply(d *Distribution) error
	Accept(token Token)
	Reset()
}

// selector marks stages that choose the final token by setting
// Distribution.Selected.
type selector interface {
	selects()
}

// checkpointer is implemented by stages whose Apply touches state that
// outlives the step (RNG position, pending candidate probabilities). The
// returned func puts that state back when a step fails.
type checkpointer interface {
	checkpoint() (restore func())
}

// stateless supplies no-op Accept and Reset for stages without history.
type stateless struct{}

func (stateless) Accept(Token) {}
func (stateless) Reset()       {}

// IsTerminal reports whether s selects a token.
func IsTerminal(s Stage) bool {
	_, ok := s.(selector)
	return ok
}

func validMinKeep(stage string, minKeep int) error {
	if minKeep < 1 {
		return constructionError(stage, "min_keep must be at least 1, got %d", minKeep)
	}
	return nil
}

func validUnit(stage, name string, v float32) error {
	if !(v >= 0 && v <= 1) {
		return constructionError(stage, "%s must be within [0, 1], got %v", name, v)
	}
	return nil
}
