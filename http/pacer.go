package http

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxFailureShift bounds the exponent so the delay arithmetic cannot overflow.
const maxFailureShift = 16

// PacerConfig configures adaptive pacing.
type PacerConfig struct {
	// BaseDelay is the minimum spacing between calls of one class.
	BaseDelay time.Duration
	// MaxDelay caps the spacing however many failures were seen.
	MaxDelay time.Duration
	// Now overrides the clock used for Retry-After windows, for tests.
	Now func() time.Time
}

// DefaultPacerConfig returns the default pacing configuration.
func DefaultPacerConfig() PacerConfig {
	return PacerConfig{
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  30 * time.Second,
	}
}

type pace struct {
	limiter      *rate.Limiter
	failures     int
	blockedUntil time.Time
}

// Pacer spaces outbound calls per adapter class. The spacing is
// min(MaxDelay, BaseDelay * 2^failures); every failure doubles it and every
// success halves it again, so it decays back to BaseDelay.
type Pacer struct {
	mu      sync.Mutex
	classes map[string]*pace
	config  PacerConfig
}

// NewPacer creates a pacer with the given configuration.
func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pacer{
		classes: make(map[string]*pace),
		config:  cfg,
	}
}

// Wait blocks until a call for class may be made or ctx is done.
func (p *Pacer) Wait(ctx context.Context, class string) error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	pc := p.getOrCreate(class)
	limiter := pc.limiter
	blocked := pc.blockedUntil.Sub(p.config.Now())
	p.mu.Unlock()

	if blocked > 0 {
		timer := time.NewTimer(blocked)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return limiter.Wait(ctx)
}

// RecordFailure widens the spacing for class. A positive retryAfter, taken
// from the upstream's Retry-After header, also holds every call for that long.
func (p *Pacer) RecordFailure(class string, retryAfter time.Duration) time.Duration {
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pc := p.getOrCreate(class)
	if pc.failures < maxFailureShift {
		pc.failures++
	}
	delay := p.delayFor(pc.failures)
	pc.limiter.SetLimit(limitFor(delay))

	if retryAfter > 0 {
		until := p.config.Now().Add(retryAfter)
		if until.After(pc.blockedUntil) {
			pc.blockedUntil = until
		}
	}
	return delay
}

// RecordSuccess narrows the spacing for class by one step.
func (p *Pacer) RecordSuccess(class string) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pc := p.getOrCreate(class)
	if pc.failures > 0 {
		pc.failures--
		pc.limiter.SetLimit(limitFor(p.delayFor(pc.failures)))
	}
}

// Delay returns the current spacing for class.
func (p *Pacer) Delay(class string) time.Duration {
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.classes[class]; ok {
		return p.delayFor(pc.failures)
	}
	return p.config.BaseDelay
}

func (p *Pacer) delayFor(failures int) time.Duration {
	d := p.config.BaseDelay
	for i := 0; i < failures; i++ {
		if d >= p.config.MaxDelay {
			return p.config.MaxDelay
		}
		if d == 0 {
			// A zero base grows from one millisecond so failures still slow calls down.
			d = time.Millisecond
			continue
		}
		d *= 2
	}
	if d > p.config.MaxDelay {
		d = p.config.MaxDelay
	}
	return d
}

func (p *Pacer) getOrCreate(class string) *pace {
	pc, ok := p.classes[class]
	if !ok {
		pc = &pace{limiter: rate.NewLimiter(limitFor(p.config.BaseDelay), 1)}
		p.classes[class] = pc
	}
	return pc
}

func limitFor(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}
