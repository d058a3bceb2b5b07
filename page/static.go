package page

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Static fetches pages with a plain HTTP GET. No JS runs, so it only sees
// prices present in the served HTML.
type Static struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// StaticOption configures a Static fetcher.
type StaticOption func(*Static)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) StaticOption {
	return func(s *Static) { s.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) StaticOption {
	return func(s *Static) { s.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) StaticOption {
	return func(s *Static) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStatic creates a Static fetcher with sensible defaults.
func NewStatic(opts ...StaticOption) *Static {
	s := &Static{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Factory returns a page.Factory producing static sessions.
func (s *Static) Factory() Factory {
	return func(context.Context) (Session, error) {
		return &staticSession{fetcher: s}, nil
	}
}

type staticSession struct {
	fetcher *Static
	url     string
	root    *html.Node
	doc     *goquery.Document
}

func (s *staticSession) Navigate(ctx context.Context, pageURL string) error {
	f := s.fetcher
	s.url, s.root, s.doc = pageURL, nil, nil

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fmt.Errorf("page: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("page: get %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("page: get %s: status %d", pageURL, resp.StatusCode)
	}

	// Cap read to 10MB to prevent runaway downloads.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("page: read body: %w", err)
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("page: parse %s: %w", pageURL, err)
	}
	s.root = root
	s.doc = goquery.NewDocumentFromNode(root)

	f.logger.Debug("page: fetched", "url", pageURL, "status", resp.StatusCode, "size", len(body))
	return nil
}

// WaitForElement resolves immediately: static HTML does not change after load.
func (s *staticSession) WaitForElement(_ context.Context, locator string, _ time.Duration) (Element, error) {
	if s.root == nil {
		return nil, ErrNotNavigated
	}
	var n *html.Node
	if IsXPath(locator) {
		if matches := evaluateXPath(s.root, locator); len(matches) > 0 {
			n = matches[0]
		}
	} else if sel := s.doc.Find(locator).First(); sel.Length() > 0 {
		n = sel.Get(0)
	}
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, locator)
	}
	return staticElement{n: n}, nil
}

// ClearState is a no-op: every Navigate replaces the document and the
// default client carries no cookie jar.
func (s *staticSession) ClearState(context.Context) error { return nil }

func (s *staticSession) Screenshot(context.Context) ([]byte, error) {
	return nil, ErrScreenshotUnsupported
}

func (s *staticSession) Close() error {
	s.root, s.doc = nil, nil
	return nil
}

type staticElement struct{ n *html.Node }

func (e staticElement) Text(context.Context) (string, error) {
	return collectText(e.n), nil
}

// collectText concatenates every text node below n, collapsing runs of
// whitespace to a single space.
func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
