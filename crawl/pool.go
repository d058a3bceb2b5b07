package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pricesnitch/idgen"
	"github.com/hazyhaar/pricesnitch/store"
)

// Batch is a slice of one shop's products crawled by a single worker.
type Batch struct {
	Shop        *store.Shop
	Assignments []Assignment
}

// BuildBatches partitions each shop's assignments into batches of at most
// perWorker products. Shops are visited in the given order; perWorker <= 0
// puts a shop's products into a single batch.
func BuildBatches(shops []*store.Shop, byShop map[int64][]Assignment, perWorker int) []Batch {
	var batches []Batch
	for _, shop := range shops {
		as := byShop[shop.ID]
		size := perWorker
		if size <= 0 {
			size = len(as)
		}
		for start := 0; start < len(as); start += size {
			end := min(start+size, len(as))
			batches = append(batches, Batch{Shop: shop, Assignments: as[start:end]})
		}
	}
	return batches
}

// Crawler crawls one batch.
type Crawler interface {
	CrawlBatch(ctx context.Context, batch []Assignment) ([]Outcome, error)
}

// CrawlerFactory builds the crawler for one batch of shop.
type CrawlerFactory func(shop *store.Shop) (Crawler, error)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Size is the maximum number of batches crawled at once. Default: 4.
	Size int

	Logger *slog.Logger
}

func (c *PoolConfig) defaults() {
	if c.Size <= 0 {
		c.Size = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pool runs crawl batches with bounded concurrency.
type Pool struct {
	cfg        PoolConfig
	newCrawler CrawlerFactory
}

// NewPool creates a pool that builds one crawler per batch with newCrawler.
func NewPool(cfg PoolConfig, newCrawler CrawlerFactory) *Pool {
	cfg.defaults()
	return &Pool{cfg: cfg, newCrawler: newCrawler}
}

// RoundStats summarises one Run.
type RoundStats struct {
	Round    string        `json:"round"`
	Batches  int           `json:"batches"`
	Failed   int           `json:"failed"`
	Outcomes int           `json:"outcomes"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Run crawls every batch, at most Size at a time. Each freed slot goes to the
// next queued batch. A failing batch is logged and counted; it never stops
// the others. onResult is called for every outcome from a single goroutine,
// so it needs no locking. Run returns once every batch has finished and
// every outcome has been delivered.
func (p *Pool) Run(ctx context.Context, batches []Batch, onResult func(Outcome)) RoundStats {
	stats := RoundStats{Round: idgen.Round(), Batches: len(batches)}
	log := p.cfg.Logger.With("round", stats.Round)
	start := time.Now()

	results := make(chan Outcome)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for out := range results {
			stats.Outcomes++
			if onResult != nil {
				onResult(out)
			}
		}
	}()

	sem := make(chan struct{}, p.cfg.Size)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for i, b := range batches {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, b Batch) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.runBatch(ctx, b, results); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				log.Error("crawl: batch failed",
					"batch", i, "shop", b.Shop.Name, "products", len(b.Assignments), "error", err)
			}
		}(i, b)
	}

	wg.Wait()
	close(results)
	<-collected

	stats.Failed = failed
	stats.Elapsed = time.Since(start)
	log.Info("crawl: round done",
		"batches", stats.Batches, "failed", stats.Failed,
		"outcomes", stats.Outcomes, "elapsed", stats.Elapsed)
	return stats
}

// runBatch crawls one batch and forwards its outcomes. Panics are turned into
// errors so one broken page cannot take down the round.
func (p *Pool) runBatch(ctx context.Context, b Batch, results chan<- Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl: panic: %v", r)
		}
	}()

	c, err := p.newCrawler(b.Shop)
	if err != nil {
		return err
	}
	outcomes, err := c.CrawlBatch(ctx, b.Assignments)
	if err != nil {
		// A failed batch records nothing this round; its products come up
		// again at their next run time.
		return fmt.Errorf("crawl: batch discarded with %d outcomes: %w", len(outcomes), err)
	}
	for _, out := range outcomes {
		results <- out
	}
	return nil
}
