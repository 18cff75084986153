// Package transcript archives finished turns outside the live session store.
// Nothing here is ever read back into a session, so sessions still start
// empty after a restart.
package transcript

import (
	"context"
	"time"
)

// Record is one archived turn.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	RequestID   string    `json:"request_id,omitempty"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists archived turns.
type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	// Recent returns up to limit records for sessionID in chronological order.
	Recent(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

// Forgetter is implemented by stores that drop a session's records once the
// session expires.
type Forgetter interface {
	Forget(sessionID string)
}

// Discard accepts and drops every record.
type Discard struct{}

func (Discard) SaveTurn(context.Context, Record) error                { return nil }
func (Discard) Recent(context.Context, string, int) ([]Record, error) { return nil, nil }
func (Discard) Close() error                                          { return nil }
