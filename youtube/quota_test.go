package youtube

import (
	"errors"
	"testing"
	"time"
)

func TestQuotaBudgetSpendAndReserve(t *testing.T) {
	b := NewQuotaBudget(200, 50)

	if err := b.Spend(CostSearch); err != nil {
		t.Fatalf("Spend(search) = %v", err)
	}
	if b.Remaining() != 100 {
		t.Errorf("Remaining() = %d, want 100", b.Remaining())
	}
	if b.Available(CostSearch) {
		t.Error("a second search would dip into the reserve")
	}
	if err := b.Spend(CostSearch); !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("Spend() = %v, want ErrQuotaExhausted", err)
	}
	if b.Remaining() != 100 {
		t.Error("refused spend must not be charged")
	}
	if err := b.Spend(CostChannelsList); err != nil {
		t.Errorf("cheap call within budget refused: %v", err)
	}
	if b.Consumed() != 101 {
		t.Errorf("Consumed() = %d, want 101", b.Consumed())
	}
}

func TestQuotaBudgetDailyReset(t *testing.T) {
	now := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	b := NewQuotaBudget(100, 0)
	b.SetClock(func() time.Time { return now })

	b.MarkExhausted()
	if b.Available(1) {
		t.Fatal("exhausted budget reports availability")
	}

	now = now.Add(12 * time.Hour)
	if !b.Available(1) || b.Remaining() != 100 {
		t.Errorf("budget did not reset after the Pacific day boundary: remaining %d", b.Remaining())
	}
}
