// Package monitor drives the price monitoring loop: schedule, crawl,
// record, notify, sleep.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/pricesnitch/crawl"
	"github.com/hazyhaar/pricesnitch/ledger"
	"github.com/hazyhaar/pricesnitch/notify"
	"github.com/hazyhaar/pricesnitch/schedule"
	"github.com/hazyhaar/pricesnitch/store"
)

// Config configures the loop.
type Config struct {
	// PollInterval is the pause between two ticks. Default: 10s.
	PollInterval time.Duration
	// ProductsPerWorker caps the size of a crawl batch. Default: 10.
	ProductsPerWorker int
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ProductsPerWorker <= 0 {
		c.ProductsPerWorker = 10
	}
}

// Store is the slice of the relational store the loop reads.
type Store interface {
	ListShops(ctx context.Context) ([]*store.Shop, error)
	ListProducts(ctx context.Context) ([]*store.Product, error)
	LastKnownAmounts(ctx context.Context, productIDs []int64) (map[int64]int64, error)
}

// Deps are the collaborators of a Service, built once at startup.
type Deps struct {
	Store     Store
	Scheduler *schedule.Scheduler
	Pool      *crawl.Pool
	Ledger    *ledger.Ledger
	Engine    *notify.Engine
}

// Service runs ticks. Ticks never overlap.
type Service struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	mu      sync.Mutex
	tracked map[int64]string
}

// New creates a Service.
func New(deps Deps, cfg Config, logger *slog.Logger) *Service {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger, tracked: make(map[int64]string)}
}

// Report summarises one tick.
type Report struct {
	Due      int              `json:"due"`
	Round    crawl.RoundStats `json:"round"`
	Changes  int              `json:"changes"`
	Notify   notify.PassStats `json:"notify"`
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration"`
}

// Run ticks once immediately, then every PollInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("monitor: started", "poll_interval", s.cfg.PollInterval)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("monitor: tick", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("monitor: stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one pass: sync the catalog into the scheduler, crawl the due
// products, feed the outcomes to the ledger, then run a notification pass.
// The crawl round is a join point: the notification pass only starts once
// every outcome has been recorded.
func (s *Service) Tick(ctx context.Context) (rep Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep.Started = time.Now()
	defer func() { rep.Duration = time.Since(rep.Started) }()

	shops, err := s.deps.Store.ListShops(ctx)
	if err != nil {
		return rep, fmt.Errorf("monitor: list shops: %w", err)
	}
	products, err := s.deps.Store.ListProducts(ctx)
	if err != nil {
		return rep, fmt.Errorf("monitor: list products: %w", err)
	}
	shopByID := make(map[int64]*store.Shop, len(shops))
	for _, sh := range shops {
		shopByID[sh.ID] = sh
	}
	productByID := s.syncSchedule(products, shopByID)

	s.deps.Scheduler.CheckRefills()
	due := s.deps.Scheduler.MatureProductIDs()
	rep.Due = len(due)

	if len(due) > 0 {
		batches, err := s.buildBatches(ctx, due, shops, productByID)
		if err != nil {
			return rep, err
		}
		rep.Round = s.deps.Pool.Run(ctx, batches, func(out crawl.Outcome) {
			pc, err := s.deps.Ledger.Record(ctx, out)
			if err != nil {
				s.logger.Error("monitor: record outcome", "product_id", out.ProductID, "error", err)
				return
			}
			if pc != nil {
				rep.Changes++
			}
		})
	}

	stats, err := s.deps.Engine.Pass(ctx)
	rep.Notify = stats
	if err != nil {
		return rep, fmt.Errorf("monitor: %w", err)
	}

	s.logger.Info("monitor: tick done",
		"due", rep.Due, "batches", rep.Round.Batches, "changes", rep.Changes,
		"notified", stats.Sent)
	return rep, nil
}

// syncSchedule tracks every product under its effective cron expression and
// forgets products that left the catalog.
func (s *Service) syncSchedule(products []*store.Product, shops map[int64]*store.Shop) map[int64]*store.Product {
	byID := make(map[int64]*store.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
		expr := p.Cron
		if expr == "" {
			if sh := shops[p.ShopID]; sh != nil {
				expr = sh.Cron
			}
		}
		if prev, ok := s.tracked[p.ID]; ok && prev == expr {
			continue
		}
		s.tracked[p.ID] = expr
		// Invalid expressions are logged by the scheduler and leave the
		// product starved until fixed.
		_ = s.deps.Scheduler.Track(p.ID, expr)
	}
	for id := range s.tracked {
		if _, ok := byID[id]; !ok {
			s.deps.Scheduler.Untrack(id)
			delete(s.tracked, id)
		}
	}
	return byID
}

func (s *Service) buildBatches(ctx context.Context, due []int64, shops []*store.Shop, products map[int64]*store.Product) ([]crawl.Batch, error) {
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	last, err := s.deps.Store.LastKnownAmounts(ctx, due)
	if err != nil {
		return nil, fmt.Errorf("monitor: last known amounts: %w", err)
	}

	byShop := make(map[int64][]crawl.Assignment)
	for _, id := range due {
		p := products[id]
		if p == nil {
			continue
		}
		a := crawl.Assignment{ProductID: p.ID, URL: p.URL, PriceLocator: p.PriceLocator}
		if amount, ok := last[id]; ok {
			a.LastKnown = &amount
		}
		byShop[p.ShopID] = append(byShop[p.ShopID], a)
	}
	return crawl.BuildBatches(shops, byShop, s.cfg.ProductsPerWorker), nil
}
