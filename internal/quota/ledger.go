package quota

import (
	"fmt"
	"sync"
	"time"

	"assetforge/internal/domain"
)

const dayLayout = "2006-01-02"

// Counter is the consumption of one provider on one UTC day.
type Counter struct {
	Provider string `json:"provider"`
	Date     string `json:"date"`
	Used     int    `json:"used"`
	Limit    int    `json:"limit"`
}

// Remaining returns how many paid submissions are left for the day.
func (c Counter) Remaining() int {
	if c.Used >= c.Limit {
		return 0
	}
	return c.Limit - c.Used
}

// Decision is the read-only answer of CheckAllowed.
type Decision struct {
	Allowed bool
	Message string
}

// Ledger tracks per-provider daily consumption of paid generator calls.
// Counters live in memory; a new counter starts implicitly when the date
// rolls over. Limits are fixed at construction.
type Ledger struct {
	mu       sync.Mutex
	limits   map[string]int
	counters map[string]*Counter
	now      func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for day rollover.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger builds a ledger from a static provider → daily limit map.
func NewLedger(limits map[string]int, opts ...Option) *Ledger {
	copied := make(map[string]int, len(limits))
	for provider, limit := range limits {
		if limit < 0 {
			limit = 0
		}
		copied[provider] = limit
	}
	l := &Ledger{
		limits:   copied,
		counters: make(map[string]*Counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAllowed reports whether the provider still has budget today. It never
// mutates the ledger.
func (l *Ledger) CheckAllowed(provider string) Decision {
	l.mu.Lock()
	c := l.snapshotLocked(provider)
	l.mu.Unlock()
	if c.Used < c.Limit {
		return Decision{Allowed: true, Message: fmt.Sprintf("%d of %d used", c.Used, c.Limit)}
	}
	return Decision{Allowed: false, Message: fmt.Sprintf("daily quota for %s exhausted (%d/%d)", provider, c.Used, c.Limit)}
}

// Consume records one paid submission. It refuses when the limit is already
// reached, so Used never exceeds Limit.
func (l *Ledger) Consume(provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.counterLocked(provider)
	if c.Used >= c.Limit {
		return fmt.Errorf("%w: %s used %d/%d on %s", domain.ErrQuotaExceeded, provider, c.Used, c.Limit, c.Date)
	}
	c.Used++
	return nil
}

// Snapshot returns a copy of today's counter for the provider.
func (l *Ledger) Snapshot(provider string) Counter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked(provider)
}

func (l *Ledger) snapshotLocked(provider string) Counter {
	today := l.today()
	if c, ok := l.counters[provider]; ok && c.Date == today {
		return *c
	}
	return Counter{Provider: provider, Date: today, Limit: l.limits[provider]}
}

func (l *Ledger) counterLocked(provider string) *Counter {
	today := l.today()
	c, ok := l.counters[provider]
	if !ok || c.Date != today {
		c = &Counter{Provider: provider, Date: today, Limit: l.limits[provider]}
		l.counters[provider] = c
	}
	return c
}

func (l *Ledger) today() string {
	return l.now().UTC().Format(dayLayout)
}
