// Package schedule keeps a rolling look-ahead window of due times per product
// and reports which products are due for a crawl.
//
// Each product owns a FIFO queue of future run times computed from its cron
// expression. The queue is filled up to Upper entries and refilled once it
// drains to Lower = Upper/2. The monitor polls MatureProductIDs once per tick;
// precision is best effort.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config configures the scheduler.
type Config struct {
	// Upper is the fill target of each product's run-time queue. Default: 24.
	Upper int
}

func (c *Config) defaults() {
	if c.Upper <= 0 {
		c.Upper = 24
	}
}

type entry struct {
	expr     string
	runtimes []time.Time
	invalid  bool
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	entries map[int64]*entry
	config  Config
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scheduler.
func New(cfg Config, opts ...Option) *Scheduler {
	cfg.defaults()
	s := &Scheduler{
		entries: make(map[int64]*entry),
		config:  cfg,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Lower is the refill threshold.
func (s *Scheduler) Lower() int { return s.config.Upper / 2 }

// Track registers productID with a cron expression and loads its run times.
// Re-tracking with the same expression is a no-op; a changed expression
// drops the queued run times and reloads from now.
func (s *Scheduler) Track(productID int64, cronExpr string) error {
	s.mu.Lock()
	e, ok := s.entries[productID]
	if ok && e.expr == cronExpr {
		s.mu.Unlock()
		return nil
	}
	if !ok {
		e = &entry{}
		s.entries[productID] = e
	}
	e.expr = cronExpr
	e.runtimes = nil
	e.invalid = false
	s.mu.Unlock()

	return s.LoadRuntimes(productID)
}

// Untrack forgets productID.
func (s *Scheduler) Untrack(productID int64) {
	s.mu.Lock()
	delete(s.entries, productID)
	s.mu.Unlock()
}

// Tracked reports whether productID is known to the scheduler.
func (s *Scheduler) Tracked(productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[productID]
	return ok
}

// Pending returns a copy of the queued run times of productID.
func (s *Scheduler) Pending(productID int64) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[productID]
	if !ok {
		return nil
	}
	return append([]time.Time(nil), e.runtimes...)
}

// LoadRuntimes evaluates the product's cron expression from
// max(last queued time, now) and appends occurrences until the queue holds
// Upper entries. On a parse error the queue is left as is and the error is
// logged and returned.
func (s *Scheduler) LoadRuntimes(productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(productID)
}

func (s *Scheduler) loadLocked(productID int64) error {
	e, ok := s.entries[productID]
	if !ok {
		return fmt.Errorf("schedule: product %d not tracked", productID)
	}

	expr, err := ParseCron(e.expr)
	if err != nil {
		e.invalid = true
		s.logger.Error("schedule: invalid cron expression",
			"product_id", productID, "cron", e.expr, "queued", len(e.runtimes), "error", err)
		return fmt.Errorf("schedule: product %d: %w", productID, err)
	}
	e.invalid = false

	from := s.now()
	if n := len(e.runtimes); n > 0 && e.runtimes[n-1].After(from) {
		from = e.runtimes[n-1]
	}
	added := 0
	for len(e.runtimes) < s.config.Upper {
		next := expr.Next(from)
		if next.IsZero() {
			break
		}
		e.runtimes = append(e.runtimes, next)
		from = next
		added++
	}

	s.logger.Debug("schedule: loaded runtimes",
		"product_id", productID, "added", added, "queued", len(e.runtimes))
	return nil
}

// CheckRefills reloads every product whose queue has drained to Lower or
// below. A product with an invalid expression and an empty queue is starved
// and will never be due again until its expression is fixed; it is logged
// on every call.
func (s *Scheduler) CheckRefills() {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := s.Lower()
	for id, e := range s.entries {
		if len(e.runtimes) > lower {
			continue
		}
		_ = s.loadLocked(id)
		if e.invalid && len(e.runtimes) == 0 {
			s.logger.Warn("schedule: product starved, no run times queued",
				"product_id", id, "cron", e.expr)
		}
	}
}

// MatureProductIDs pops every queued run time at or before now and returns
// the set of products that had at least one. Each occurrence is consumed
// exactly once. Order is not significant.
func (s *Scheduler) MatureProductIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ids []int64
	for id, e := range s.entries {
		popped := 0
		for len(e.runtimes) > 0 && !e.runtimes[0].After(now) {
			e.runtimes = e.runtimes[1:]
			popped++
		}
		if popped > 0 {
			ids = append(ids, id)
			if popped > 1 {
				s.logger.Debug("schedule: coalesced missed run times",
					"product_id", id, "count", popped)
			}
		}
	}
	return ids
}
