package http

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGateShortCircuitsWithoutCalling(t *testing.T) {
	clock := newFakeClock()
	breaker := newTestBreaker(2, time.Minute, clock)
	gate := NewGate(breaker, NewPacer(PacerConfig{}), GateConfig{})
	ctx := context.Background()

	calls := 0
	failing := func(ctx context.Context) error {
		calls++
		return errors.New("upstream down")
	}

	for i := 0; i < 2; i++ {
		_ = gate.Do(ctx, "api", failing)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	err := gate.Do(ctx, "api", failing)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Do() = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Errorf("open circuit made a call: calls = %d, want 2", calls)
	}

	clock.Advance(time.Minute)
	if err := gate.Do(ctx, "api", func(ctx context.Context) error { calls++; return nil }); err != nil {
		t.Errorf("probe Do() = %v, want nil", err)
	}
	if calls != 3 || breaker.State("api") != CircuitClosed {
		t.Errorf("after probe: calls = %d state = %v", calls, breaker.State("api"))
	}
}

func TestGateNonFailureKeepsCircuitClosed(t *testing.T) {
	notFound := errors.New("no such channel")
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	pacer := NewPacer(PacerConfig{BaseDelay: time.Millisecond, MaxDelay: time.Second})
	gate := NewGate(breaker, pacer, GateConfig{
		IsFailure: func(err error) bool { return !errors.Is(err, notFound) },
	})

	err := gate.Do(context.Background(), "scrape", func(ctx context.Context) error { return notFound })
	if !errors.Is(err, notFound) {
		t.Fatalf("Do() = %v, want notFound", err)
	}
	if breaker.State("scrape") != CircuitClosed {
		t.Error("not-found must not open the circuit")
	}
	if d := pacer.Delay("scrape"); d != time.Millisecond {
		t.Errorf("pacer delay = %v, want base", d)
	}
}

func TestGateAppliesTimeout(t *testing.T) {
	gate := NewGate(nil, nil, GateConfig{Timeout: 10 * time.Millisecond})

	err := gate.Do(context.Background(), "rss", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v, want deadline exceeded", err)
	}
}

func TestGateRateLimitFeedsPacer(t *testing.T) {
	pacer := NewPacer(PacerConfig{BaseDelay: time.Millisecond, MaxDelay: time.Second})
	gate := NewGate(nil, pacer, GateConfig{})

	_ = gate.Do(context.Background(), "scrape", func(ctx context.Context) error {
		return &RateLimitError{StatusCode: 429, RetryAfter: time.Hour}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pacer.Wait(ctx, "scrape"); err == nil {
		t.Error("Retry-After window should hold the class")
	}
}

func TestGateObserve(t *testing.T) {
	var observed []string
	gate := NewGate(nil, nil, GateConfig{
		Observe: func(class string, err error, elapsed time.Duration) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			observed = append(observed, class+":"+outcome)
		},
	})

	_ = gate.Do(context.Background(), "api", func(ctx context.Context) error { return nil })
	_ = gate.Do(context.Background(), "rss", func(ctx context.Context) error { return errors.New("x") })

	if len(observed) != 2 || observed[0] != "api:ok" || observed[1] != "rss:error" {
		t.Errorf("observed = %v", observed)
	}
}

func TestGateCallerCancellationReleasesProbe(t *testing.T) {
	clock := newFakeClock()
	breaker := newTestBreaker(1, time.Second, clock)
	gate := NewGate(breaker, nil, GateConfig{})
	breaker.RecordFailure("mirror", errors.New("boom"))
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	_ = gate.Do(ctx, "mirror", func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	if breaker.State("mirror") != CircuitHalfOpen {
		t.Fatalf("state = %v, want half_open", breaker.State("mirror"))
	}
	if err := breaker.Allow("mirror"); err != nil {
		t.Errorf("abandoned probe should be released: %v", err)
	}
}

func TestGatePacesEveryRequestInACall(t *testing.T) {
	pacer := NewPacer(PacerConfig{BaseDelay: 30 * time.Millisecond, MaxDelay: time.Second})
	gate := NewGate(nil, pacer, GateConfig{})

	start := time.Now()
	err := gate.Do(context.Background(), "mirror", func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			if err := PaceRequest(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	// The first request rides on the gate's own wait; the other two each wait.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("three requests in one call took %v, want at least ~60ms", elapsed)
	}
}

func TestPaceRequestOutsideGate(t *testing.T) {
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := PaceRequest(context.Background()); err != nil {
			t.Fatalf("PaceRequest() = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("unguarded requests waited %v", elapsed)
	}
}
