package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider answers deterministically without any network call.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Generate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	var users []string
	for _, m := range req.Messages {
		if m.Role == "user" {
			users = append(users, strings.TrimSpace(m.Content))
		}
	}
	if len(users) == 0 {
		return "I am listening.", nil
	}

	last := users[len(users)-1]
	if len(users) == 1 {
		return fmt.Sprintf("I heard you: %s", last), nil
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", last, users[len(users)-2]), nil
}
