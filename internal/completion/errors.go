package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failed completion call.
type Kind string

const (
	KindAuth            Kind = "auth_failure"
	KindRateLimited     Kind = "rate_limited"
	KindTimeout         Kind = "timeout"
	KindProvider        Kind = "provider_error"
	KindInvalidResponse Kind = "invalid_response"
	KindCanceled        Kind = "canceled"
)

// Transient reports whether a retry has a reasonable chance of succeeding.
func (k Kind) Transient() bool {
	return k == KindRateLimited || k == KindTimeout
}

var (
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrEmptyResponse     = errors.New("provider returned empty text")
	ErrMissingCredential = errors.New("provider credential not configured")
)

// Error is returned by Gateway.Complete for every failure.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s completion failed (%s, status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s completion failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError carries a non-2xx provider HTTP response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider http status %d: %s", e.Status, e.Message)
}

// KindOf classifies any error produced along a completion call.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrMissingCredential) {
		return KindAuth
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrEmptyResponse) {
		return KindInvalidResponse
	}
	var se *StatusError
	if errors.As(err, &se) {
		return kindForStatus(se.Status)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindProvider
}

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func kindForStatus(code int) Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusTooManyRequests, 529:
		// 529 is Anthropic's "overloaded".
		return KindRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindProvider
	}
}
