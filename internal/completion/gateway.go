// Package completion wraps the hosted language-model call behind a single
// bounded, classified operation.
package completion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/antoniostano/janela/internal/session"
)

// Message is one role-tagged entry of the transcript sent to a provider.
// Role is "user" or "assistant"; providers translate it when they differ.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-neutral completion input.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// Provider performs one raw completion call. Implementations must honour ctx
// and must not retry.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxTokens = 1024
)

type Options struct {
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Gateway bounds every provider call with a timeout and turns failures into
// *Error values.
type Gateway struct {
	provider  Provider
	model     string
	timeout   time.Duration
	maxTokens int
	now       func() time.Time
}

func NewGateway(provider Provider, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel(provider.Name())
	}
	return &Gateway{
		provider:  provider,
		model:     opts.Model,
		timeout:   opts.Timeout,
		maxTokens: opts.MaxTokens,
		now:       time.Now,
	}
}

func (g *Gateway) Name() string  { return g.provider.Name() }
func (g *Gateway) Model() string { return g.model }

// Complete sends system plus the windowed turns and returns exactly one
// assistant turn.
func (g *Gateway) Complete(ctx context.Context, system string, turns []session.Turn) (session.Turn, error) {
	if len(turns) == 0 {
		return session.Turn{}, g.fail(KindProvider, errors.New("no turns to complete"))
	}

	req := Request{
		Model:     g.model,
		System:    system,
		Messages:  toMessages(turns),
		MaxTokens: g.maxTokens,
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.provider.Generate(callCtx, req)
	if err != nil {
		kind := KindOf(err)
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			kind = KindCanceled
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			kind = KindTimeout
		}
		return session.Turn{}, &Error{Kind: kind, Provider: g.provider.Name(), Status: statusOf(err), Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return session.Turn{}, g.fail(KindInvalidResponse, ErrEmptyResponse)
	}
	return session.NewTurn(session.RoleAssistant, text, g.now()), nil
}

func (g *Gateway) fail(kind Kind, err error) error {
	return &Error{Kind: kind, Provider: g.provider.Name(), Err: err}
}

func toMessages(turns []session.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == session.RoleAssistant {
			role = "assistant"
		}
		out = append(out, Message{Role: role, Content: t.Text})
	}
	return out
}
