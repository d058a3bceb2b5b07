package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pricesnitch/store"
)

// Store is the slice of the relational store the engine needs.
type Store interface {
	LatestPriceChanges(ctx context.Context) ([]*store.PriceChange, error)
	SubscriptionCursors(ctx context.Context, productIDs []int64) ([]*store.SubscriptionCursor, error)
	InsertNotification(ctx context.Context, n *store.Notification) (int64, error)
	GetProduct(ctx context.Context, id int64) (*store.Product, error)
}

// Engine runs notification passes.
type Engine struct {
	store     Store
	transport Transport
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now for cooldown checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine delivering through t.
func NewEngine(s Store, t Transport, opts ...Option) *Engine {
	e := &Engine{store: s, transport: t, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// PassStats summarises one Pass.
type PassStats struct {
	Changes    int            `json:"changes"`    // latest price changes considered
	Candidates int            `json:"candidates"` // (change, subscription) pairs evaluated
	Sent       int            `json:"sent"`       // alerts dispatched, whether or not delivery succeeded
	Failed     int            `json:"failed"`     // dispatches that returned an error
	Skipped    map[Reason]int `json:"skipped,omitempty"`
}

// Pass evaluates the most recent price change of every product against its
// subscriptions and dispatches the qualifying alerts. A notification row is
// appended after every dispatch, failed or not, so a change is alerted at
// most once per subscriber. Per-item errors are logged and skipped; only a
// failure of the aggregate queries aborts the pass.
func (e *Engine) Pass(ctx context.Context) (PassStats, error) {
	stats := PassStats{Skipped: make(map[Reason]int)}

	changes, err := e.store.LatestPriceChanges(ctx)
	if err != nil {
		return stats, fmt.Errorf("notify: latest changes: %w", err)
	}
	stats.Changes = len(changes)
	if len(changes) == 0 {
		return stats, nil
	}

	ids := make([]int64, len(changes))
	for i, c := range changes {
		ids[i] = c.ProductID
	}
	cursors, err := e.store.SubscriptionCursors(ctx, ids)
	if err != nil {
		return stats, fmt.Errorf("notify: subscription cursors: %w", err)
	}
	byProduct := make(map[int64][]*store.SubscriptionCursor)
	for _, c := range cursors {
		byProduct[c.ProductID] = append(byProduct[c.ProductID], c)
	}

	now := e.now()
	for _, change := range changes {
		subs := byProduct[change.ProductID]
		if len(subs) == 0 {
			continue
		}
		var product *store.Product
		for _, cur := range subs {
			stats.Candidates++
			d := Decide(change, cur, now)
			if !d.Notify {
				stats.Skipped[d.Reason]++
				e.logger.Debug("notify: skipped",
					"user_id", cur.UserID, "product_id", change.ProductID,
					"change_id", change.ID, "reason", d.Reason)
				continue
			}

			if product == nil {
				if product, err = e.store.GetProduct(ctx, change.ProductID); err != nil {
					e.logger.Warn("notify: load product", "product_id", change.ProductID, "error", err)
				}
			}
			e.dispatch(ctx, change, cur, product, now, &stats)
		}
	}

	e.logger.Info("notify: pass done",
		"changes", stats.Changes, "candidates", stats.Candidates,
		"sent", stats.Sent, "failed", stats.Failed)
	return stats, nil
}

func (e *Engine) dispatch(ctx context.Context, change *store.PriceChange, cur *store.SubscriptionCursor, product *store.Product, now time.Time, stats *PassStats) {
	dest := Destination{UserID: cur.UserID, Moniker: cur.Moniker, ChatID: cur.ChatID}
	payload := NewPayload(change, product, cur.Note)

	stats.Sent++
	if err := e.transport.Send(ctx, dest, payload); err != nil {
		stats.Failed++
		e.logger.Warn("notify: dispatch failed",
			"user_id", cur.UserID, "product_id", change.ProductID, "change_id", change.ID, "error", err)
	}

	n := &store.Notification{
		UserID:        cur.UserID,
		PriceChangeID: change.ID,
		ProductID:     change.ProductID,
		ShopID:        change.ShopID,
		CreatedAt:     now,
	}
	if _, err := e.store.InsertNotification(ctx, n); err != nil {
		e.logger.Error("notify: record notification",
			"user_id", cur.UserID, "change_id", change.ID, "error", err)
		return
	}
	cur.PriceChangeID = change.ID
	cur.LastNotifiedAt = &now
}
