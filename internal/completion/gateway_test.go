package completion

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/janela/internal/session"
)

type stubProvider struct {
	text  string
	err   error
	delay time.Duration
	last  Request
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(ctx context.Context, req Request) (string, error) {
	p.last = req
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return p.text, p.err
}

func turns(texts ...string) []session.Turn {
	out := make([]session.Turn, 0, len(texts))
	for i, text := range texts {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		out = append(out, session.Turn{Role: role, Text: text})
	}
	return out
}

func TestCompleteTranslatesTurns(t *testing.T) {
	p := &stubProvider{text: "  reply  "}
	g := NewGateway(p, Options{Model: "m1", MaxTokens: 64})

	got, err := g.Complete(context.Background(), "be nice", turns("hi", "hello", "how are you?"))
	require.NoError(t, err)

	assert.Equal(t, session.RoleAssistant, got.Role)
	assert.Equal(t, "reply", got.Text)
	assert.False(t, got.CreatedAt.IsZero())

	assert.Equal(t, "m1", p.last.Model)
	assert.Equal(t, "be nice", p.last.System)
	assert.Equal(t, 64, p.last.MaxTokens)
	assert.Equal(t, []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "how are you?"},
	}, p.last.Messages)
}

func TestCompleteDefaults(t *testing.T) {
	g := NewGateway(NewMockProvider(), Options{})
	assert.Equal(t, "mock", g.Name())
	assert.Equal(t, "mock", g.Model())
	assert.Equal(t, DefaultTimeout, g.timeout)
	assert.Equal(t, DefaultMaxTokens, g.maxTokens)
}

func TestCompleteClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		text string
		want Kind
	}{
		{"unauthorized", &StatusError{Status: http.StatusUnauthorized}, "", KindAuth},
		{"forbidden", &StatusError{Status: http.StatusForbidden}, "", KindAuth},
		{"rate limited", &StatusError{Status: http.StatusTooManyRequests}, "", KindRateLimited},
		{"overloaded", &StatusError{Status: 529}, "", KindRateLimited},
		{"gateway timeout", &StatusError{Status: http.StatusGatewayTimeout}, "", KindTimeout},
		{"server error", &StatusError{Status: http.StatusInternalServerError}, "", KindProvider},
		{"malformed", ErrMalformedResponse, "", KindInvalidResponse},
		{"missing key", ErrMissingCredential, "", KindAuth},
		{"transport", errors.New("connection reset"), "", KindProvider},
		{"empty text", nil, "   ", KindInvalidResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGateway(&stubProvider{err: tc.err, text: tc.text}, Options{})
			_, err := g.Complete(context.Background(), "", turns("hi"))
			require.Error(t, err)

			var ce *Error
			require.True(t, errors.As(err, &ce), "error %T is not *Error", err)
			assert.Equal(t, tc.want, ce.Kind)
			assert.Equal(t, "stub", ce.Provider)
			assert.Equal(t, tc.want, KindOf(err))
		})
	}
}

func TestCompleteEnforcesTimeout(t *testing.T) {
	g := NewGateway(&stubProvider{text: "late", delay: time.Second}, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := g.Complete(context.Background(), "", turns("hi"))
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCompleteCallerCancellation(t *testing.T) {
	g := NewGateway(&stubProvider{text: "late", delay: time.Second}, Options{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := g.Complete(ctx, "", turns("hi"))
	require.Error(t, err)
	assert.Equal(t, KindCanceled, KindOf(err))
}

func TestCompleteRejectsEmptyTranscript(t *testing.T) {
	g := NewGateway(&stubProvider{text: "x"}, Options{})
	_, err := g.Complete(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))
}

func TestKindTransient(t *testing.T) {
	assert.True(t, KindTimeout.Transient())
	assert.True(t, KindRateLimited.Transient())
	assert.False(t, KindAuth.Transient())
	assert.False(t, KindProvider.Transient())
	assert.False(t, KindInvalidResponse.Transient())
	assert.False(t, KindCanceled.Transient())
	assert.Equal(t, Kind(""), KindOf(nil))
}
