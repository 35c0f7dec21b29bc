// Package conversation holds the per-session turn history.
package conversation

import (
	"encoding/json"
	"iter"
	"time"

	"ai-tutor-go/internal/apperr"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two conversation roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// UnmarshalJSON rejects roles other than user and assistant.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if role := Role(s); !role.Valid() {
		return apperr.Invalid("unknown turn role %q", s)
	}
	*r = Role(s)
	return nil
}

// Validate checks that every turn carries a conversation role.
func Validate(turns []Turn) error {
	for i, t := range turns {
		if !t.Role.Valid() {
			return apperr.Invalid("turn %d has unknown role %q", i, t.Role)
		}
	}
	return nil
}

// Turn is one message in a conversation. Turns are never modified after being appended.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn stamps a turn with the current time.
func NewTurn(role Role, text string) Turn {
	return Turn{Role: role, Text: text, Timestamp: time.Now()}
}

// History is the ordered list of turns of one session.
// A History is not safe for concurrent use; the owning session serialises access.
type History struct {
	turns []Turn
}

// NewHistory builds a history from existing turns, preserving their order.
func NewHistory(turns ...Turn) *History {
	h := &History{}
	h.turns = append(h.turns, turns...)
	return h
}

// Append adds a turn to the end of the history.
func (h *History) Append(t Turn) {
	h.turns = append(h.turns, t)
}

// Recent yields the last n turns in their original order, or all turns when
// fewer than n exist. Bounds are read each time the sequence is ranged, so the
// same value can be ranged again after further appends.
func (h *History) Recent(n int) iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		if n <= 0 {
			return
		}
		start := len(h.turns) - n
		if start < 0 {
			start = 0
		}
		for _, t := range h.turns[start:] {
			if !yield(t) {
				return
			}
		}
	}
}

// Window collects Recent(n) into a new slice.
func (h *History) Window(n int) []Turn {
	var out []Turn
	for t := range h.Recent(n) {
		out = append(out, t)
	}
	return out
}

// Turns returns a copy of every turn.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	return len(h.turns)
}

// Reset clears the history.
func (h *History) Reset() {
	h.turns = nil
}

func (h *History) MarshalJSON() ([]byte, error) {
	if h.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.turns)
}

func (h *History) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	h.turns = turns
	return nil
}
