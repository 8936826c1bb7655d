package sampling

var DynamicTemperatureFor = dynamicTemperature

// drawThenFail draws like Dist and then fails the step on demand, which
// exercises rollback of the generator position.
type drawThenFail struct {
	*Dist
	fail bool
}

func (s *drawThenFail) Apply(d *Distribution) error {
	if err := s.Dist.Apply(d); err != nil {
		return err
	}
	if s.fail {
		return newError(KindNumeric, "injected failure")
	}
	return nil
}

// NewDrawThenFail returns a selecting stage and a switch for its failure.
func NewDrawThenFail(seed uint32) (Stage, func(bool)) {
	s := &drawThenFail{Dist: NewDist(seed)}
	return s, func(fail bool) { s.fail = fail }
}
