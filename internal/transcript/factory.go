package transcript

import (
	"context"
	"fmt"
	"strings"
)

// NewStore builds the archive selected by mode: "none", "memory" or "postgres".
func NewStore(ctx context.Context, mode, databaseURL string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "none":
		return Discard{}, nil
	case "memory":
		return NewInMemoryStore(0), nil
	case "postgres":
		if strings.TrimSpace(databaseURL) == "" {
			return nil, fmt.Errorf("transcript store postgres requires a database url")
		}
		return NewPostgresStore(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported transcript store %q", mode)
	}
}
