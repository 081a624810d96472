package http

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// DefaultCallTimeout bounds a single guarded upstream call.
const DefaultCallTimeout = 10 * time.Second

// GateConfig configures a Gate.
type GateConfig struct {
	// Timeout bounds each call. Zero uses DefaultCallTimeout.
	Timeout time.Duration
	// IsFailure decides which errors widen pacing. Nil counts every error.
	IsFailure func(error) bool
	// Observe is called after every call that reached the upstream.
	Observe func(class string, err error, elapsed time.Duration)
}

// Gate guards calls to one adapter class: it consults the circuit breaker,
// waits for the pacer, bounds the call with a timeout and reports the
// outcome back to both.
type Gate struct {
	breaker *CircuitBreaker
	pacer   *Pacer
	config  GateConfig
}

// NewGate combines a breaker and a pacer. Either may be nil.
func NewGate(breaker *CircuitBreaker, pacer *Pacer, cfg GateConfig) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	return &Gate{breaker: breaker, pacer: pacer, config: cfg}
}

// Do runs fn for class. It returns ErrCircuitOpen without calling fn when
// the class is short-circuited.
func (g *Gate) Do(ctx context.Context, class string, fn func(ctx context.Context) error) error {
	if err := g.breaker.Allow(class); err != nil {
		return err
	}
	if err := g.pacer.Wait(ctx, class); err != nil {
		g.breaker.Release(class)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	callCtx = context.WithValue(callCtx, pacedCallKey{}, &pacedCall{pacer: g.pacer, class: class})
	start := time.Now()
	err := fn(callCtx)
	cancel()
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		// The caller gave up; the upstream's health is unknown.
		g.breaker.Release(class)
		return err
	}

	if g.config.Observe != nil {
		g.config.Observe(class, err, elapsed)
	}

	if err == nil || (g.config.IsFailure != nil && !g.config.IsFailure(err)) {
		g.breaker.RecordSuccess(class)
		g.pacer.RecordSuccess(class)
		return err
	}

	var retryAfter time.Duration
	var rl *RateLimitError
	if errors.As(err, &rl) {
		retryAfter = rl.RetryAfter
	}
	g.breaker.RecordFailure(class, err)
	g.pacer.RecordFailure(class, retryAfter)
	return err
}

type pacedCallKey struct{}

// pacedCall is the pacing slot of one guarded call. The gate's wait before
// the call pays for its first request.
type pacedCall struct {
	pacer *Pacer
	class string
	spent atomic.Bool
}

// PaceRequest is called before every outbound request. Inside a Gate call
// the first request uses the slot the gate already waited for; each later
// one (a retry, a second page, a failover to another mirror) waits on the
// class's pacer again. Outside a Gate call it returns immediately.
func PaceRequest(ctx context.Context) error {
	call, ok := ctx.Value(pacedCallKey{}).(*pacedCall)
	if !ok || call.pacer == nil {
		return nil
	}
	if call.spent.CompareAndSwap(false, true) {
		return nil
	}
	return call.pacer.Wait(ctx, call.class)
}

// Breaker returns the gate's circuit breaker.
func (g *Gate) Breaker() *CircuitBreaker {
	return g.breaker
}

// Pacer returns the gate's pacer.
func (g *Gate) Pacer() *Pacer {
	return g.pacer
}
