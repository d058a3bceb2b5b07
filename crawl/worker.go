// Package crawl reads prices off product pages. A Worker crawls one batch of
// products from a single shop through one page session; a Pool runs batches
// concurrently with a bounded number of workers.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/pricesnitch/idgen"
	"github.com/hazyhaar/pricesnitch/page"
	"github.com/hazyhaar/pricesnitch/pricing"
	"github.com/hazyhaar/pricesnitch/store"
)

// Status classifies an Outcome.
type Status int

const (
	Success Status = iota
	Unavailable
	Invalid
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Unavailable:
		return "unavailable"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Assignment is one product to crawl.
type Assignment struct {
	ProductID    int64
	URL          string
	PriceLocator string // product-specific locator, tried before the shop's
	LastKnown    *int64 // last known amount, nil without history
}

// Outcome is the result of crawling one product. Amount is pricing.Unavailable
// or pricing.Invalid for the matching statuses.
type Outcome struct {
	ProductID int64
	ShopID    int64
	Amount    int64
	Status    Status
}

// DefaultLocateTimeout applies when a shop sets no locate timeout.
const DefaultLocateTimeout = 10 * time.Second

// Worker crawls products of one shop. A Worker is not safe for concurrent use.
type Worker struct {
	name          string
	shop          *store.Shop
	rules         *pricing.Rules
	factory       page.Factory
	screenshotDir string
	logger        *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithScreenshotDir enables diagnostic screenshots whenever a crawled amount
// differs from the last known one. Empty disables them.
func WithScreenshotDir(dir string) WorkerOption {
	return func(w *Worker) { w.screenshotDir = dir }
}

// NewWorker compiles the shop's price rules and returns a worker that opens
// its page session through factory.
func NewWorker(shop *store.Shop, factory page.Factory, opts ...WorkerOption) (*Worker, error) {
	rules, err := pricing.CompileRules(pricing.RulesInput{
		Currency:          shop.Currency,
		ThousandSeparator: shop.ThousandSeparator,
		DecimalSeparator:  shop.DecimalSeparator,
		RemoveChars:       shop.RemoveChars,
		UnavailableText:   shop.UnavailableText,
	})
	if err != nil {
		return nil, fmt.Errorf("crawl: shop %q: %w", shop.Name, err)
	}
	w := &Worker{
		name:    idgen.Worker(),
		shop:    shop,
		rules:   rules,
		factory: factory,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = w.logger.With("worker", w.name, "shop", shop.Name)
	return w, nil
}

// CrawlBatch crawls every assignment in order and returns one outcome per
// product. The page session is opened on first use and closed once after the
// batch. A session start failure fails the whole batch.
func (w *Worker) CrawlBatch(ctx context.Context, batch []Assignment) ([]Outcome, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	sess, err := w.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("crawl: start session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			w.logger.Warn("crawl: session close", "error", err)
		}
	}()

	start := time.Now()
	outcomes := make([]Outcome, 0, len(batch))
	for _, a := range batch {
		if err := ctx.Err(); err != nil {
			return outcomes, fmt.Errorf("crawl: batch interrupted: %w", err)
		}
		out := w.crawlProduct(ctx, sess, a)
		w.screenshot(ctx, sess, a, out)
		outcomes = append(outcomes, out)
	}

	w.logger.Info("crawl: batch done", "products", len(batch), "elapsed", time.Since(start))
	return outcomes, nil
}

// crawlProduct runs the retry loop for a single product. There is always at
// least one attempt. A located but unparseable price abandons the product.
func (w *Worker) crawlProduct(ctx context.Context, sess page.Session, a Assignment) Outcome {
	log := w.logger.With("product_id", a.ProductID)
	out := Outcome{ProductID: a.ProductID, ShopID: w.shop.ID, Amount: pricing.Invalid, Status: Invalid}

	attempts := max(w.shop.LocateRetries, 1)
	locators := w.locators(a)
	if len(locators) == 0 {
		log.Error("crawl: no price locator configured")
		return out
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sess.Navigate(ctx, a.URL); err != nil {
			log.Warn("crawl: navigate failed", "attempt", attempt, "url", a.URL, "error", err)
		} else {
			if err := sess.ClearState(ctx); err != nil {
				log.Debug("crawl: clear state failed", "error", err)
			}

			text, locator, err := w.locate(ctx, sess, locators)
			if err == nil {
				if w.rules.HasUnavailableText() && w.rules.Unavailable(text) {
					log.Info("crawl: product unavailable", "text", text)
					return w.unavailable(out)
				}
				amount, err := w.rules.Normalize(text)
				if err != nil {
					log.Error("crawl: unparseable price, abandoning product",
						"locator", locator, "text", text, "error", err)
					return out
				}
				if amount == pricing.Unavailable {
					return w.unavailable(out)
				}
				log.Debug("crawl: price found", "attempt", attempt, "amount", amount)
				out.Amount, out.Status = amount, Success
				return out
			}
			log.Debug("crawl: price not located", "attempt", attempt, "error", err)
		}

		if w.checkUnavailable(ctx, sess) {
			log.Info("crawl: product unavailable", "attempt", attempt)
			return w.unavailable(out)
		}
	}

	log.Warn("crawl: attempts exhausted", "attempts", attempts, "url", a.URL)
	return out
}

func (w *Worker) unavailable(out Outcome) Outcome {
	out.Amount, out.Status = pricing.Unavailable, Unavailable
	return out
}

// locators returns the product locator followed by the shop locators,
// without blanks or duplicates.
func (w *Worker) locators(a Assignment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range append([]string{a.PriceLocator}, w.shop.PriceLocators...) {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func (w *Worker) timeout() time.Duration {
	if w.shop.LocateTimeout > 0 {
		return w.shop.LocateTimeout
	}
	return DefaultLocateTimeout
}

// locate tries each locator in turn and returns the text of the first one
// that resolves.
func (w *Worker) locate(ctx context.Context, sess page.Session, locators []string) (string, string, error) {
	var lastErr error
	for _, loc := range locators {
		el, err := sess.WaitForElement(ctx, loc, w.timeout())
		if err != nil {
			lastErr = err
			continue
		}
		text, err := el.Text(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return text, loc, nil
	}
	return "", "", lastErr
}

// checkUnavailable reports whether the shop's unavailability marker is on the
// page. Without a configured wording the marker's presence is enough.
func (w *Worker) checkUnavailable(ctx context.Context, sess page.Session) bool {
	if w.shop.UnavailableLocator == "" {
		return false
	}
	el, err := sess.WaitForElement(ctx, w.shop.UnavailableLocator, w.timeout())
	if err != nil {
		return false
	}
	if !w.rules.HasUnavailableText() {
		return true
	}
	text, err := el.Text(ctx)
	if err != nil {
		return false
	}
	return w.rules.Unavailable(text)
}

// screenshot stores a diagnostic capture when the amount moved. Failures are
// logged and never affect the outcome.
func (w *Worker) screenshot(ctx context.Context, sess page.Session, a Assignment, out Outcome) {
	if w.screenshotDir == "" || out.Status == Invalid || a.LastKnown == nil || *a.LastKnown == out.Amount {
		return
	}
	img, err := sess.Screenshot(ctx)
	if errors.Is(err, page.ErrScreenshotUnsupported) {
		return
	}
	if err != nil {
		w.logger.Warn("crawl: screenshot failed", "product_id", a.ProductID, "error", err)
		return
	}
	if err := os.MkdirAll(w.screenshotDir, 0o755); err != nil {
		w.logger.Warn("crawl: screenshot dir", "dir", w.screenshotDir, "error", err)
		return
	}
	name := fmt.Sprintf("%d-%d.png", a.ProductID, time.Now().UnixMilli())
	path := filepath.Join(w.screenshotDir, name)
	if err := os.WriteFile(path, img, 0o644); err != nil {
		w.logger.Warn("crawl: screenshot write", "path", path, "error", err)
		return
	}
	w.logger.Debug("crawl: screenshot saved", "product_id", a.ProductID, "path", path)
}
