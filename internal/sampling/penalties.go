package sampling

import "math"

// PenaltyParams configures the repetition penalty stage. Special token ids
// come from the tokenizer; -1 means the model has no such token.
type PenaltyParams struct {
	NVocab int

	EOS     Token
	Newline Token

	// LastN is the size of the accepted-token window. 0 disables the stage.
	LastN int

	// Repeat scales repeated logits: positive ones are divided, the rest
	// multiplied. 1.0 = disabled.
	Repeat float32

	// Frequency is subtracted once per occurrence in the window.
	Frequency float32

	// Presence is subtracted once for any token present in the window.
	Presence float32

	PenalizeNewline bool
	IgnoreEOS       bool
}

// Penalties lowers the logits of tokens that appear in the last LastN
// accepted tokens.
type Penalties struct {
	params  PenaltyParams
	history *tokenHistory
}

func NewPenalties(p PenaltyParams) (*Penalties, error) {
	const name = "penalties"
	switch {
	case p.NVocab < 1:
		return nil, constructionError(name, "n_vocab must be at least 1, got %d", p.NVocab)
	case p.LastN < 0:
		return nil, constructionError(name, "penalty_last_n must be >= 0, got %d", p.LastN)
	case !(p.Repeat > 0) || math.IsInf(float64(p.Repeat), 0):
		return nil, constructionError(name, "repeat_penalty must be a finite value > 0, got %v", p.Repeat)
	case !finite(p.Frequency):
		return nil, constructionError(name, "freq_penalty must be finite, got %v", p.Frequency)
	case !finite(p.Presence):
		return nil, constructionError(name, "presence_penalty must be finite, got %v", p.Presence)
	case p.EOS < -1 || int(p.EOS) >= p.NVocab:
		return nil, constructionError(name, "eos id %d outside vocabulary of %d", p.EOS, p.NVocab)
	case p.Newline < -1 || int(p.Newline) >= p.NVocab:
		return nil, constructionError(name, "newline id %d outside vocabulary of %d", p.Newline, p.NVocab)
	}
	return &Penalties{params: p, history: newTokenHistory(p.LastN)}, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (s *Penalties) Name() string { return "penalties" }

func (s *Penalties) Apply(d *Distribution) error {
	p := s.params
	if p.LastN == 0 || s.history.len() == 0 {
		return nil
	}
	if p.Repeat == 1 && p.Frequency == 0 && p.Presence == 0 {
		return nil
	}

	d.toLogits()
	for i := range d.Tokens {
		t := &d.Tokens[i]
		if p.IgnoreEOS && t.ID == p.EOS {
			continue
		}
		if !p.PenalizeNewline && t.ID == p.Newline {
			continue
		}
		count := s.history.count(t.ID)
		if count == 0 {
			continue
		}
		if t.Value <= 0 {
			t.Value *= p.Repeat
		} else {
			t.Value /= p.Repeat
		}
		t.Value -= float32(count)*p.Frequency + p.Presence
	}
	d.Sorted = false
	return nil
}

// Accept records token in the window. Ids outside the vocabulary are
// ignored.
func (s *Penalties) Accept(token Token) {
	if token < 0 || int(token) >= s.params.NVocab {
		return
	}
	s.history.push(token)
}

func (s *Penalties) Reset() {
	s.history.clear()
}

// Count reports how often token occurs in the current window.
func (s *Penalties) Count(token Token) int {
	return s.history.count(token)
}

// Window returns the tracked tokens, oldest first.
func (s *Penalties) Window() []Token {
	return s.history.tokens()
}
