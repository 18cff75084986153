// Package window selects the slice of a conversation sent to the completion
// provider.
package window

import (
	"errors"
	"fmt"

	"github.com/antoniostano/janela/internal/session"
)

var ErrInvalidSize = errors.New("window size must be positive")

// Window keeps the most recent Size turns of a history.
type Window struct {
	size int
}

func New(size int) (Window, error) {
	if size <= 0 {
		return Window{}, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	return Window{size: size}, nil
}

func (w Window) Size() int { return w.size }

// Apply returns the newest turns of history, oldest first. The result never
// aliases history.
func (w Window) Apply(history []session.Turn) []session.Turn {
	return Tail(history, w.size)
}

// Tail copies the last n items of items, keeping their order. n <= 0 yields
// an empty slice.
func Tail[T any](items []T, n int) []T {
	if n < 0 {
		n = 0
	}
	start := 0
	if len(items) > n {
		start = len(items) - n
	}
	out := make([]T, len(items)-start)
	copy(out, items[start:])
	return out
}
