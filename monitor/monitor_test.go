package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pricesnitch/crawl"
	"github.com/hazyhaar/pricesnitch/dbopen"
	"github.com/hazyhaar/pricesnitch/ledger"
	"github.com/hazyhaar/pricesnitch/notify"
	"github.com/hazyhaar/pricesnitch/schedule"
	"github.com/hazyhaar/pricesnitch/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// prices is a fake site: product URL -> amount to report.
type prices struct {
	mu      sync.Mutex
	amounts map[string]int64
	crawled []int64
}

func (p *prices) set(url string, amount int64) {
	p.mu.Lock()
	p.amounts[url] = amount
	p.mu.Unlock()
}

type fakeCrawler struct {
	shop *store.Shop
	site *prices
}

func (f fakeCrawler) CrawlBatch(_ context.Context, batch []crawl.Assignment) ([]crawl.Outcome, error) {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	var outs []crawl.Outcome
	for _, a := range batch {
		f.site.crawled = append(f.site.crawled, a.ProductID)
		outs = append(outs, crawl.Outcome{
			ProductID: a.ProductID, ShopID: f.shop.ID,
			Amount: f.site.amounts[a.URL], Status: crawl.Success,
		})
	}
	return outs, nil
}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Payload
}

func (r *recorder) Send(_ context.Context, _ notify.Destination, p notify.Payload) error {
	r.mu.Lock()
	r.sent = append(r.sent, p)
	r.mu.Unlock()
	return nil
}

type harness struct {
	svc   *Service
	store *store.Store
	clock *clock
	site  *prices
	out   *recorder
	url   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}

	s := store.New(dbopen.OpenMemory(t), store.WithClock(clk.now))
	if err := s.ApplySchema(ctx); err != nil {
		t.Fatal(err)
	}
	shop := &store.Shop{Name: "acme", PriceLocators: []string{".price"}, DecimalSeparator: ",", Cron: "*/5 * * * *"}
	if _, err := s.UpsertShop(ctx, shop); err != nil {
		t.Fatal(err)
	}
	url := "https://acme.example/w"
	p := &store.Product{ShopID: shop.ID, URL: url, Title: "Widget"}
	if _, err := s.InsertProduct(ctx, p); err != nil {
		t.Fatal(err)
	}
	u := &store.User{Moniker: "alice"}
	if _, err := s.UpsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	dec := int64(10)
	if _, err := s.InsertSubscription(ctx, &store.Subscription{UserID: u.ID, ProductID: p.ID, NotifyDecreasePercent: &dec}); err != nil {
		t.Fatal(err)
	}

	site := &prices{amounts: map[string]int64{url: 500}}
	out := &recorder{}
	svc := New(Deps{
		Store:     s,
		Scheduler: schedule.New(schedule.Config{Upper: 4}, schedule.WithClock(clk.now)),
		Pool: crawl.NewPool(crawl.PoolConfig{Size: 2}, func(shop *store.Shop) (crawl.Crawler, error) {
			return fakeCrawler{shop: shop, site: site}, nil
		}),
		Ledger: ledger.New(s, nil),
		Engine: notify.NewEngine(s, out, notify.WithClock(clk.now)),
	}, Config{}, nil)

	return &harness{svc: svc, store: s, clock: clk, site: site, out: out, url: url}
}

func (h *harness) tick(t *testing.T) Report {
	t.Helper()
	rep, err := h.svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return rep
}

// WHAT: Nothing is crawled before the product's first run time.
func TestTickNothingDue(t *testing.T) {
	h := newHarness(t)
	if rep := h.tick(t); rep.Due != 0 || len(h.site.crawled) != 0 {
		t.Errorf("due = %d, crawled = %v", rep.Due, h.site.crawled)
	}
}

// WHAT: End to end: first reading, unchanged reading, then a 20% drop that alerts once.
func TestTickEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.tick(t)

	h.clock.advance(5 * time.Minute)
	rep := h.tick(t)
	if rep.Due != 1 || rep.Changes != 1 {
		t.Fatalf("first crawl: %+v", rep)
	}
	if len(h.out.sent) != 0 {
		t.Fatalf("first reading should not alert, sent %d", len(h.out.sent))
	}

	h.clock.advance(5 * time.Minute)
	if rep := h.tick(t); rep.Due != 1 || rep.Changes != 0 {
		t.Fatalf("unchanged crawl: %+v", rep)
	}

	h.site.set(h.url, 400)
	h.clock.advance(5 * time.Minute)
	rep = h.tick(t)
	if rep.Changes != 1 || rep.Notify.Sent != 1 {
		t.Fatalf("drop: %+v", rep)
	}
	if len(h.out.sent) != 1 || h.out.sent[0].PercentDiff != -20 || h.out.sent[0].Title != "Widget" {
		t.Fatalf("sent = %+v", h.out.sent)
	}

	// Same price again: no new change, no second alert.
	h.clock.advance(5 * time.Minute)
	h.tick(t)
	if len(h.out.sent) != 1 {
		t.Errorf("alerts = %d, want 1", len(h.out.sent))
	}

	p, _ := h.store.GetProductByURL(ctx, h.url)
	changes, err := h.store.ListPriceChanges(ctx, p.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Errorf("ledger rows = %d, want 2", len(changes))
	}
}

// WHAT: A long pause crawls a product once, not once per missed run time.
func TestTickCoalescesMissedRuns(t *testing.T) {
	h := newHarness(t)
	h.tick(t)
	h.clock.advance(17 * time.Minute)
	h.tick(t)
	if len(h.site.crawled) != 1 {
		t.Errorf("crawled %d times, want 1", len(h.site.crawled))
	}
}

// WHAT: Products added to the store between ticks get scheduled.
func TestTickPicksUpNewProducts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.tick(t)

	shops, _ := h.store.ListShops(ctx)
	extra := &store.Product{ShopID: shops[0].ID, URL: "https://acme.example/extra", Cron: "*/2 * * * *"}
	if _, err := h.store.InsertProduct(ctx, extra); err != nil {
		t.Fatal(err)
	}
	h.site.set(extra.URL, 999)

	h.tick(t)
	h.clock.advance(2 * time.Minute)
	rep := h.tick(t)
	if rep.Due != 1 || h.site.crawled[0] != extra.ID {
		t.Errorf("due = %d, crawled = %v", rep.Due, h.site.crawled)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.PollInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
