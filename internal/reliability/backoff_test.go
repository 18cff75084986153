package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestPolicyAllow(t *testing.T) {
	p := Policy{MaxRetries: 1, Base: 10 * time.Millisecond}
	cases := []struct {
		attempt int
		want    bool
	}{
		{0, true},
		{1, false},
		{2, false},
	}
	for _, tc := range cases {
		if got := p.Allow(tc.attempt); got != tc.want {
			t.Fatalf("Allow(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
	if (Policy{}).Allow(0) {
		t.Fatalf("zero policy should not allow retries")
	}
}

func TestPolicyDelayDefaultsCap(t *testing.T) {
	p := Policy{MaxRetries: 3, Base: 100 * time.Millisecond}
	if got := p.Delay(0); got != 100*time.Millisecond {
		t.Fatalf("Delay(0) = %v", got)
	}
	if got := p.Delay(5); got != 800*time.Millisecond {
		t.Fatalf("Delay(5) = %v, want cap 800ms", got)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	if err := Wait(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}
