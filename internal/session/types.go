package session

import "time"

// Role tags who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable role-tagged message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn stamps a turn with the given time in UTC.
func NewTurn(role Role, text string, at time.Time) Turn {
	return Turn{Role: role, Text: text, CreatedAt: at.UTC()}
}

// Snapshot is a read-only copy of a session. Mutating it never affects the store.
type Snapshot struct {
	ID         string    `json:"session_id"`
	Turns      []Turn    `json:"history"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_activity"`
}

// Summary describes a session without its turns.
type Summary struct {
	ID            string    `json:"session_id"`
	TotalMessages int       `json:"total_messages"`
	LastActive    time.Time `json:"last_activity"`
}
