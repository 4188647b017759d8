package session

import "github.com/whitewookie32/TheDonna/internal/persona"

// History is the bounded conversation log of one session.
// Only the session goroutine touches it.
type History struct {
	turns []persona.Turn
	limit int
}

// NewHistory creates a history keeping at most limit turns
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 6
	}
	return &History{turns: make([]persona.Turn, 0, limit), limit: limit}
}

// AppendExchange records a completed user/assistant round trip and drops
// the oldest turns beyond the limit
func (h *History) AppendExchange(user, assistant string) {
	h.turns = append(h.turns,
		persona.Turn{Role: persona.RoleUser, Text: user},
		persona.Turn{Role: persona.RoleAssistant, Text: assistant},
	)
	if over := len(h.turns) - h.limit; over > 0 {
		h.turns = append(h.turns[:0:0], h.turns[over:]...)
	}
}

// Turns returns a copy of the log, oldest first
func (h *History) Turns() []persona.Turn {
	out := make([]persona.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	return len(h.turns)
}

func (h *History) Limit() int {
	return h.limit
}
