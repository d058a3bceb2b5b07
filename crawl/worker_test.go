package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/hazyhaar/pricesnitch/page"
	"github.com/hazyhaar/pricesnitch/pricing"
	"github.com/hazyhaar/pricesnitch/store"
)

// fakeSite maps URL -> locator -> element text. A page listed in
// readyAfter only shows its elements from that navigation count on.
type fakeSite struct {
	pages      map[string]map[string]string
	readyAfter map[string]int
	navErr     map[string]error
	shot       []byte

	opened      int
	closed      int
	navigations map[string]int
	clears      int
	screenshots int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:       make(map[string]map[string]string),
		readyAfter:  make(map[string]int),
		navErr:      make(map[string]error),
		navigations: make(map[string]int),
	}
}

func (f *fakeSite) factory(ctx context.Context) (page.Session, error) {
	f.opened++
	return &fakeSession{site: f}, nil
}

type fakeSession struct {
	site    *fakeSite
	current string
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.site.navigations[url]++
	if err := s.site.navErr[url]; err != nil {
		s.current = ""
		return err
	}
	s.current = url
	return nil
}

func (s *fakeSession) WaitForElement(_ context.Context, locator string, _ time.Duration) (page.Element, error) {
	if s.site.navigations[s.current] < s.site.readyAfter[s.current] {
		return nil, page.ErrElementNotFound
	}
	text, ok := s.site.pages[s.current][locator]
	if !ok {
		return nil, fmt.Errorf("%w: %s", page.ErrElementNotFound, locator)
	}
	return fakeElement(text), nil
}

func (s *fakeSession) ClearState(context.Context) error {
	s.site.clears++
	return nil
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	if s.site.shot == nil {
		return nil, page.ErrScreenshotUnsupported
	}
	s.site.screenshots++
	return s.site.shot, nil
}

func (s *fakeSession) Close() error {
	s.site.closed++
	return nil
}

type fakeElement string

func (e fakeElement) Text(context.Context) (string, error) { return string(e), nil }

func testShop() *store.Shop {
	return &store.Shop{
		ID:                 7,
		Name:               "acme",
		PriceLocators:      []string{"//span[@class='price']", ".price"},
		UnavailableLocator: "#stock",
		UnavailableText:    "/out of stock/i",
		LocateRetries:      3,
		LocateTimeout:      time.Millisecond,
		Currency:           "€",
		ThousandSeparator:  ".",
		DecimalSeparator:   ",",
	}
}

func newTestWorker(t *testing.T, site *fakeSite, opts ...WorkerOption) *Worker {
	t.Helper()
	w, err := NewWorker(testShop(), site.factory, opts...)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func crawlOne(t *testing.T, w *Worker, a Assignment) Outcome {
	t.Helper()
	outs, err := w.CrawlBatch(context.Background(), []Assignment{a})
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outs))
	}
	return outs[0]
}

func TestCrawlSuccess(t *testing.T) {
	site := newFakeSite()
	site.pages["/a"] = map[string]string{"//span[@class='price']": "1.299,95 €"}
	w := newTestWorker(t, site)

	out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a"})
	if out.Status != Success || out.Amount != 129995 || out.ShopID != 7 {
		t.Errorf("outcome = %+v", out)
	}
	if site.clears != 1 {
		t.Errorf("clear state called %d times, want 1", site.clears)
	}
}

// WHAT: The product locator wins over the shop's; shop locators are tried in order.
func TestCrawlLocatorOrder(t *testing.T) {
	site := newFakeSite()
	site.pages["/a"] = map[string]string{"#deal": "10,00", "//span[@class='price']": "20,00"}
	site.pages["/b"] = map[string]string{".price": "30,00"}
	w := newTestWorker(t, site)

	if out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a", PriceLocator: "#deal"}); out.Amount != 1000 {
		t.Errorf("product locator: amount = %d, want 1000", out.Amount)
	}
	if out := crawlOne(t, w, Assignment{ProductID: 2, URL: "/b"}); out.Amount != 3000 {
		t.Errorf("second shop locator: amount = %d, want 3000", out.Amount)
	}
}

// WHAT: A located but unparseable price abandons the product after one attempt.
// WHY: it points at a locator or format mismatch that retrying cannot fix.
func TestCrawlParseFailureAbandons(t *testing.T) {
	site := newFakeSite()
	site.pages["/a"] = map[string]string{"//span[@class='price']": "call us"}
	w := newTestWorker(t, site)

	out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a"})
	if out.Status != Invalid || out.Amount != pricing.Invalid {
		t.Errorf("outcome = %+v, want invalid", out)
	}
	if n := site.navigations["/a"]; n != 1 {
		t.Errorf("navigations = %d, want 1", n)
	}
}

// WHAT: Without a price, a matching unavailability marker yields Unavailable and stops retrying.
func TestCrawlUnavailableFallback(t *testing.T) {
	site := newFakeSite()
	site.pages["/a"] = map[string]string{"#stock": "  Out of Stock  "}
	w := newTestWorker(t, site)

	out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a"})
	if out.Status != Unavailable || out.Amount != pricing.Unavailable {
		t.Errorf("outcome = %+v, want unavailable", out)
	}
	if n := site.navigations["/a"]; n != 1 {
		t.Errorf("navigations = %d, want 1", n)
	}
}

// WHAT: A marker whose text does not match the wording is ignored.
func TestCrawlUnavailableTextMismatch(t *testing.T) {
	site := newFakeSite()
	site.pages["/a"] = map[string]string{"#stock": "In stock"}
	w := newTestWorker(t, site)

	out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a"})
	if out.Status != Invalid {
		t.Errorf("outcome = %+v, want invalid", out)
	}
	if n := site.navigations["/a"]; n != 3 {
		t.Errorf("navigations = %d, want 3", n)
	}
}

// WHAT: The price element itself showing the unavailable wording counts as unavailable.
func TestCrawlPriceTextUnavailable(t *testing.T) {
	site := newFakeSite()
	site.pages["/a"] = map[string]string{"//span[@class='price']": "Out of stock"}
	w := newTestWorker(t, site)

	if out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a"}); out.Status != Unavailable {
		t.Errorf("outcome = %+v, want unavailable", out)
	}
}

func TestCrawlZeroAmountIsUnavailable(t *testing.T) {
	site := newFakeSite()
	site.pages["/a"] = map[string]string{"//span[@class='price']": "0,00 €"}
	w := newTestWorker(t, site)

	if out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a"}); out.Status != Unavailable || out.Amount != 0 {
		t.Errorf("outcome = %+v, want unavailable", out)
	}
}

// WHAT: Exhausted retries give Invalid after exactly LocateRetries attempts,
// and a shop with zero retries still gets one attempt.
func TestCrawlRetriesExhausted(t *testing.T) {
	for _, tc := range []struct {
		retries int
		want    int
	}{{3, 3}, {1, 1}, {0, 1}} {
		site := newFakeSite()
		site.navErr["/a"] = errors.New("net::ERR_CONNECTION_RESET")
		shop := testShop()
		shop.LocateRetries = tc.retries
		w, err := NewWorker(shop, site.factory)
		if err != nil {
			t.Fatal(err)
		}
		out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a"})
		if out.Status != Invalid || out.Amount != pricing.Invalid {
			t.Errorf("retries=%d: outcome = %+v", tc.retries, out)
		}
		if n := site.navigations["/a"]; n != tc.want {
			t.Errorf("retries=%d: navigations = %d, want %d", tc.retries, n, tc.want)
		}
	}
}

// WHAT: A price that shows up on the second attempt is recorded as a success.
func TestCrawlSucceedsOnRetry(t *testing.T) {
	site := newFakeSite()
	site.pages["/a"] = map[string]string{"//span[@class='price']": "5,00"}
	site.readyAfter["/a"] = 2
	w := newTestWorker(t, site)

	out := crawlOne(t, w, Assignment{ProductID: 1, URL: "/a"})
	if out.Status != Success || out.Amount != 500 {
		t.Errorf("outcome = %+v", out)
	}
	if n := site.navigations["/a"]; n != 2 {
		t.Errorf("navigations = %d, want 2", n)
	}
}

// WHAT: One session serves the whole batch and is closed exactly once.
func TestCrawlBatchSingleSession(t *testing.T) {
	site := newFakeSite()
	for _, u := range []string{"/a", "/b", "/c"} {
		site.pages[u] = map[string]string{".price": "1,00"}
	}
	w := newTestWorker(t, site)

	outs, err := w.CrawlBatch(context.Background(), []Assignment{
		{ProductID: 1, URL: "/a"}, {ProductID: 2, URL: "/b"}, {ProductID: 3, URL: "/c"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outs))
	}
	for i, out := range outs {
		if out.ProductID != int64(i+1) {
			t.Errorf("outcome %d is product %d", i, out.ProductID)
		}
	}
	if site.opened != 1 || site.closed != 1 {
		t.Errorf("opened=%d closed=%d, want 1/1", site.opened, site.closed)
	}
}

func TestCrawlBatchSessionFailure(t *testing.T) {
	w, err := NewWorker(testShop(), func(context.Context) (page.Session, error) {
		return nil, errors.New("chrome not found")
	})
	if err != nil {
		t.Fatal(err)
	}
	outs, err := w.CrawlBatch(context.Background(), []Assignment{{ProductID: 1, URL: "/a"}})
	if err == nil || outs != nil {
		t.Errorf("outs=%v err=%v, want failed batch", outs, err)
	}
}

func TestNewWorkerRejectsBadRules(t *testing.T) {
	shop := testShop()
	shop.ThousandSeparator = ","
	if _, err := NewWorker(shop, newFakeSite().factory); err == nil {
		t.Error("expected error for identical separators")
	}
}

// WHAT: A screenshot is saved only when the amount moved from the last known one.
func TestCrawlScreenshotOnChange(t *testing.T) {
	dir := t.TempDir()
	site := newFakeSite()
	site.shot = []byte("png")
	site.pages["/a"] = map[string]string{".price": "2,00"}
	site.pages["/b"] = map[string]string{".price": "3,00"}
	site.pages["/c"] = map[string]string{".price": "4,00"}
	w := newTestWorker(t, site, WithScreenshotDir(dir))

	same, moved := int64(200), int64(250)
	_, err := w.CrawlBatch(context.Background(), []Assignment{
		{ProductID: 1, URL: "/a", LastKnown: &same},
		{ProductID: 2, URL: "/b", LastKnown: &moved},
		{ProductID: 3, URL: "/c"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if site.screenshots != 1 {
		t.Errorf("screenshots = %d, want 1", site.screenshots)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1", len(entries))
	}
	if name := entries[0].Name(); name[:2] != "2-" {
		t.Errorf("screenshot name = %q", name)
	}
}

func TestStatusString(t *testing.T) {
	if Success.String() != "success" || Unavailable.String() != "unavailable" || Invalid.String() != "invalid" {
		t.Error("unexpected status names")
	}
}
