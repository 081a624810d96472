package youtube

import (
	"fmt"
	"sync"
	"time"
)

// Data API unit costs per call.
const (
	CostSearch        = 100
	CostChannelsList  = 1
	CostPlaylistItems = 1
	CostVideosList    = 1
)

// DefaultDailyQuota is the Data API's default daily allowance.
const DefaultDailyQuota = 10000

// quotaLocation is where the Data API's quota day starts.
var quotaLocation = loadQuotaLocation()

func loadQuotaLocation() *time.Location {
	if loc, err := time.LoadLocation("America/Los_Angeles"); err == nil {
		return loc
	}
	return time.FixedZone("PT", -8*3600)
}

// QuotaBudget tracks metered units spent against a daily allowance. It
// refuses a call whose cost would dip into the reserve. Spending resets
// at midnight Pacific time; Consumed never resets.
type QuotaBudget struct {
	mu       sync.Mutex
	limit    int
	reserve  int
	used     int
	consumed int64
	day      string
	now      func() time.Time
}

// NewQuotaBudget creates a budget with the given daily limit and reserve.
func NewQuotaBudget(limit, reserve int) *QuotaBudget {
	if limit <= 0 {
		limit = DefaultDailyQuota
	}
	if reserve < 0 {
		reserve = 0
	}
	b := &QuotaBudget{limit: limit, reserve: reserve, now: time.Now}
	b.day = b.today()
	return b
}

// SetClock overrides the clock, for tests.
func (b *QuotaBudget) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.day = b.today()
}

// Spend charges cost units, or returns ErrQuotaExhausted without charging.
func (b *QuotaBudget) Spend(cost int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if b.limit-b.used-cost < b.reserve {
		return fmt.Errorf("%w: %d of %d units left, %d reserved", ErrQuotaExhausted, b.limit-b.used, b.limit, b.reserve)
	}
	b.used += cost
	b.consumed += int64(cost)
	return nil
}

// Available reports whether cost units could be spent now.
func (b *QuotaBudget) Available(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	return b.limit-b.used-cost >= b.reserve
}

// MarkExhausted records that the upstream reported the quota spent.
func (b *QuotaBudget) MarkExhausted() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	b.used = b.limit
}

// Remaining returns the units left today, reserve included.
func (b *QuotaBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	return b.limit - b.used
}

// Consumed returns the units spent since the budget was created.
func (b *QuotaBudget) Consumed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed
}

func (b *QuotaBudget) rollover() {
	if d := b.today(); d != b.day {
		b.day = d
		b.used = 0
	}
}

func (b *QuotaBudget) today() string {
	return b.now().In(quotaLocation).Format("2006-01-02")
}
