package http

import (
	"context"
	"testing"
	"time"
)

func TestPacerDelayGrowsAndIsBounded(t *testing.T) {
	p := NewPacer(PacerConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})

	want := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	prev := p.Delay("scrape")
	for i, w := range want {
		got := p.RecordFailure("scrape", 0)
		if got != w {
			t.Errorf("failure %d: delay = %v, want %v", i+1, got, w)
		}
		if got < prev {
			t.Errorf("failure %d: delay decreased from %v to %v", i+1, prev, got)
		}
		prev = got
	}
}

func TestPacerDecaysAfterSuccess(t *testing.T) {
	p := NewPacer(PacerConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})

	p.RecordFailure("api", 0)
	p.RecordFailure("api", 0)
	if d := p.Delay("api"); d != 400*time.Millisecond {
		t.Fatalf("Delay() = %v, want 400ms", d)
	}

	p.RecordSuccess("api")
	if d := p.Delay("api"); d != 200*time.Millisecond {
		t.Errorf("Delay() after one success = %v, want 200ms", d)
	}
	p.RecordSuccess("api")
	p.RecordSuccess("api")
	if d := p.Delay("api"); d != 100*time.Millisecond {
		t.Errorf("Delay() after recovery = %v, want base 100ms", d)
	}
}

func TestPacerZeroBaseDoesNotBlock(t *testing.T) {
	p := NewPacer(PacerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 20; i++ {
		if err := p.Wait(ctx, "rss"); err != nil {
			t.Fatalf("Wait() = %v", err)
		}
	}
}

func TestPacerSpacesCalls(t *testing.T) {
	p := NewPacer(PacerConfig{BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx, "mirror"); err != nil {
			t.Fatalf("Wait() = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("three paced calls took %v, want at least ~40ms", elapsed)
	}
}

func TestPacerRetryAfterBlocks(t *testing.T) {
	p := NewPacer(PacerConfig{})
	p.RecordFailure("scrape", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := p.Wait(ctx, "scrape"); err == nil {
		t.Error("Wait() during Retry-After window should fail once ctx expires")
	}
	if err := p.Wait(context.Background(), "api"); err != nil {
		t.Errorf("other classes should not be blocked: %v", err)
	}
}
