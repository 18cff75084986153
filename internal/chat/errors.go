package chat

import (
	"errors"
	"fmt"
)

// ErrInvalidInput matches every *InputError.
var ErrInvalidInput = errors.New("invalid input")

const (
	ReasonEmpty   = "empty_message"
	ReasonTooLong = "message_too_long"
)

// InputError describes a message rejected before it touches any session.
type InputError struct {
	Reason string
	Length int
	Limit  int
}

func (e *InputError) Error() string {
	if e.Reason == ReasonTooLong {
		return fmt.Sprintf("message has %d characters, limit is %d", e.Length, e.Limit)
	}
	return "message is empty"
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// ExchangeError reports a failed exchange together with the session it ran in,
// so callers can keep using that session.
type ExchangeError struct {
	SessionID string
	Err       error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("chat exchange in session %s: %v", e.SessionID, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// SessionIDFromError returns the session an exchange failure belongs to, if any.
func SessionIDFromError(err error) string {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.SessionID
	}
	return ""
}
