package sampling

// tokenHistory is a ring buffer over the most recently accepted tokens
// with occurrence counts for exactly the tokens inside the window.
type tokenHistory struct {
	ring   []Token
	head   int
	size   int
	counts map[Token]int
}

func newTokenHistory(capacity int) *tokenHistory {
	return &tokenHistory{
		ring:   make([]Token, capacity),
		counts: make(map[Token]int, capacity),
	}
}

func (h *tokenHistory) push(t Token) {
	if len(h.ring) == 0 {
		return
	}
	if h.size == len(h.ring) {
		h.forget(h.ring[h.head])
		h.ring[h.head] = t
		h.head = (h.head + 1) % len(h.ring)
	} else {
		h.ring[(h.head+h.size)%len(h.ring)] = t
		h.size++
	}
	h.counts[t]++
}

func (h *tokenHistory) forget(t Token) {
	if n := h.counts[t]; n > 1 {
		h.counts[t] = n - 1
	} else {
		delete(h.counts, t)
	}
}

func (h *tokenHistory) count(t Token) int {
	return h.counts[t]
}

func (h *tokenHistory) len() int {
	return h.size
}

// tokens returns the window oldest first.
func (h *tokenHistory) tokens() []Token {
	out := make([]Token, h.size)
	for i := range out {
		out[i] = h.ring[(h.head+i)%len(h.ring)]
	}
	return out
}

func (h *tokenHistory) clear() {
	h.head = 0
	h.size = 0
	clear(h.counts)
}
