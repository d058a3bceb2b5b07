package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodConfig configures the Chrome manager.
type RodConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless runs a locally launched Chrome without a window. Default: true.
	Headless *bool

	// Incognito opens each session in its own browser context.
	Incognito bool

	// Proxy is passed to Chrome as --proxy-server.
	Proxy string

	// Stealth applies go-rod/stealth evasions to every tab. Default: true.
	Stealth *bool

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// NavigateTimeout bounds a single navigation. Default: 30s.
	NavigateTimeout time.Duration

	// RecycleInterval is the maximum lifetime of a launched Chrome. Default: 4h.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

func (c *RodConfig) defaults() {
	t := true
	if c.Headless == nil {
		c.Headless = &t
	}
	if c.Stealth == nil {
		c.Stealth = &t
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RodManager owns one Chrome process shared by every rod session. Chrome is
// started lazily on the first session and recycled once it outlives
// RecycleInterval and no session is open.
type RodManager struct {
	cfg     RodConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	open    int
	closed  bool
	blocked blockList
}

// NewRodManager creates a manager. Chrome is not launched until Session.
func NewRodManager(cfg RodConfig) *RodManager {
	cfg.defaults()
	return &RodManager{cfg: cfg, blocked: newBlockList(cfg.ResourceBlocking)}
}

// Factory returns a page.Factory backed by this manager.
func (m *RodManager) Factory() Factory {
	return func(ctx context.Context) (Session, error) {
		return m.Session(ctx)
	}
}

// Session opens a new tab.
func (m *RodManager) Session(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("page: rod manager is closed")
	}
	if m.browser != nil && m.open == 0 && time.Since(m.startAt) > m.cfg.RecycleInterval {
		m.cfg.Logger.Info("page: recycling chrome", "uptime", time.Since(m.startAt))
		m.cleanup()
	}
	if m.browser == nil {
		b, err := m.launch()
		if err != nil {
			return nil, err
		}
		m.browser = b
		m.startAt = time.Now()
	}

	b := m.browser
	var incognito *rod.Browser
	if m.cfg.Incognito {
		ib, err := b.Incognito()
		if err != nil {
			return nil, fmt.Errorf("page: incognito: %w", err)
		}
		incognito = ib
		b = ib
	}

	var p *rod.Page
	var err error
	if *m.cfg.Stealth {
		p, err = stealth.Page(b)
	} else {
		p, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		if incognito != nil {
			incognito.Close()
		}
		return nil, fmt.Errorf("page: create tab: %w", err)
	}

	sess := &rodSession{page: p, incognito: incognito, mgr: m}
	if len(m.blocked) > 0 {
		sess.router = m.blocked.hijack(p)
	}

	m.open++
	return sess, nil
}

// Close shuts down Chrome.
func (m *RodManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *RodManager) release() {
	m.mu.Lock()
	if m.open > 0 {
		m.open--
	}
	m.mu.Unlock()
}

func (m *RodManager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("page: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(*m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage").
			Set("disable-extensions").
			NoSandbox(true)
		if m.cfg.Proxy != "" {
			l = l.Proxy(m.cfg.Proxy)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("page: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("page: launched local chrome", "url", wsURL, "headless", *m.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("page: connect: %w", err)
	}
	return b, nil
}

func (m *RodManager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

type rodSession struct {
	page      *rod.Page
	router    *rod.HijackRouter // nil without resource blocking
	incognito *rod.Browser
	mgr       *RodManager
	closeOnce sync.Once
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := s.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("page: navigate %s: %w", url, err)
	}
	// Prices only need the DOM, not every subresource.
	if err := s.page.Context(navCtx).WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		s.mgr.cfg.Logger.Debug("page: dom not stable", "url", url, "error", err)
	}
	return nil
}

func (s *rodSession) WaitForElement(ctx context.Context, locator string, timeout time.Duration) (Element, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := s.page.Context(waitCtx)
	var el *rod.Element
	var err error
	if IsXPath(locator) {
		el, err = p.ElementX(locator)
	} else {
		el, err = p.Element(locator)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, locator)
		}
		return nil, fmt.Errorf("page: locate %s: %w", locator, err)
	}
	return rodElement{el: el}, nil
}

func (s *rodSession) ClearState(ctx context.Context) error {
	p := s.page.Context(ctx)
	if err := (proto.NetworkClearBrowserCookies{}).Call(p); err != nil {
		return fmt.Errorf("page: clear cookies: %w", err)
	}
	if _, err := p.Eval(`() => {
		try { window.localStorage.clear(); } catch (e) {}
		try { window.sessionStorage.clear(); } catch (e) {}
	}`); err != nil {
		return fmt.Errorf("page: clear storage: %w", err)
	}
	return nil
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	img, err := s.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("page: screenshot: %w", err)
	}
	return img, nil
}

func (s *rodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.router != nil {
			s.router.Stop()
		}
		err = s.page.Close()
		if s.incognito != nil {
			s.incognito.Close()
		}
		s.mgr.release()
	})
	return err
}

type rodElement struct{ el *rod.Element }

func (e rodElement) Text(ctx context.Context) (string, error) {
	t, err := e.el.Context(ctx).Text()
	if err != nil {
		return "", fmt.Errorf("page: read text: %w", err)
	}
	return t, nil
}
