// Package ledger turns crawl outcomes into append-only price change rows.
//
// A row is written only when something happened: the first reading of a
// product, a failed crawl (the invalid marker), or an amount that differs
// from the last known one. Repeated identical readings leave the ledger
// untouched.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pricesnitch/crawl"
	"github.com/hazyhaar/pricesnitch/pricing"
	"github.com/hazyhaar/pricesnitch/store"
)

// Store is the slice of the relational store the ledger needs.
type Store interface {
	LastKnownPriceChange(ctx context.Context, productID int64) (*store.PriceChange, error)
	InsertPriceChange(ctx context.Context, pc *store.PriceChange) (int64, error)
}

// Ledger records crawl outcomes. It is meant to be driven from a single
// goroutine; batches are disjoint by product, so no locking is needed.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// New creates a Ledger. A nil logger falls back to slog.Default().
func New(s Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger}
}

// Record applies one outcome and returns the inserted row, or nil when the
// reading matched the last known amount.
func (l *Ledger) Record(ctx context.Context, out crawl.Outcome) (*store.PriceChange, error) {
	last, err := l.store.LastKnownPriceChange(ctx, out.ProductID)
	if err != nil {
		return nil, fmt.Errorf("ledger: product %d: %w", out.ProductID, err)
	}

	pc := &store.PriceChange{ProductID: out.ProductID, ShopID: out.ShopID}
	switch {
	case out.Status == crawl.Invalid || out.Amount == pricing.Invalid:
		pc.Amount = pricing.Invalid
		pc.PrevAmount = pricing.Invalid
		pc.AmountDiff = pricing.Invalid
		pc.PercentDiff = pricing.Invalid
	case last == nil:
		pc.Amount = out.Amount
	case out.Amount == last.Amount:
		return nil, nil
	default:
		pc.Amount = out.Amount
		pc.PrevAmount = last.Amount
		pc.AmountDiff = pricing.AmountDiff(last.Amount, out.Amount)
		pc.PercentDiff = pricing.PercentDiff(last.Amount, out.Amount)
	}

	if _, err := l.store.InsertPriceChange(ctx, pc); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	l.logger.Info("ledger: price change",
		"product_id", pc.ProductID, "amount", pc.Amount, "prev", pc.PrevAmount,
		"percent", pc.PercentDiff, "change_id", pc.ID)
	return pc, nil
}

// RecordAll records outcomes in order. A store error on one outcome is
// logged and does not stop the others. It returns the inserted rows.
func (l *Ledger) RecordAll(ctx context.Context, outs []crawl.Outcome) []*store.PriceChange {
	var changes []*store.PriceChange
	for _, out := range outs {
		pc, err := l.Record(ctx, out)
		if err != nil {
			l.logger.Error("ledger: record failed", "product_id", out.ProductID, "error", err)
			continue
		}
		if pc != nil {
			changes = append(changes, pc)
		}
	}
	return changes
}
