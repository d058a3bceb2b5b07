// Package page provides the page-fetch capability used by crawl workers:
// navigate to a product page, wait for a price element, read its text.
//
// Two implementations exist. The rod session drives Chrome through the
// DevTools protocol and sees JS-rendered prices. The static session performs
// a single HTTP GET and evaluates locators against the raw HTML.
package page

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrElementNotFound is returned when a locator does not resolve within
	// the wait timeout.
	ErrElementNotFound = errors.New("page: element not found")

	// ErrScreenshotUnsupported is returned by sessions that cannot render.
	ErrScreenshotUnsupported = errors.New("page: screenshot unsupported")

	// ErrNotNavigated is returned when an element is requested before Navigate.
	ErrNotNavigated = errors.New("page: no page loaded")
)

// Session is one page-fetch session. A session is reused for every product of
// a crawl batch and closed once at the end. Sessions are not safe for
// concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitForElement(ctx context.Context, locator string, timeout time.Duration) (Element, error)
	ClearState(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Element is a located node.
type Element interface {
	Text(ctx context.Context) (string, error)
}

// Factory opens a new Session.
type Factory func(ctx context.Context) (Session, error)

// IsXPath reports whether locator is an XPath expression. Anything else is
// treated as a CSS selector.
func IsXPath(locator string) bool {
	l := strings.TrimSpace(locator)
	return strings.HasPrefix(l, "/") || strings.HasPrefix(l, "(")
}
