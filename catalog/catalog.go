// Package catalog loads the monitored shops, products, users and
// subscriptions from a YAML file and applies them to the store.
//
// Applying is idempotent: shops are matched by name, products by URL, users
// by moniker and subscriptions by (user, product). Re-applying an edited
// file updates shops and users in place; products and subscriptions are
// only ever added.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pricesnitch/pricing"
	"github.com/hazyhaar/pricesnitch/schedule"
	"github.com/hazyhaar/pricesnitch/store"
)

// ErrInvalidCatalog wraps every validation failure.
var ErrInvalidCatalog = errors.New("catalog: invalid")

// Catalog is the top-level file layout.
type Catalog struct {
	Shops []Shop `yaml:"shops"`
	Users []User `yaml:"users"`
}

// Shop mirrors store.Shop with its products inline.
type Shop struct {
	Name               string        `yaml:"name"`
	PriceLocators      []string      `yaml:"price_locators"`
	UnavailableLocator string        `yaml:"unavailable_locator"`
	UnavailableText    string        `yaml:"unavailable_text"`
	LocateTimeout      time.Duration `yaml:"locate_timeout"`
	LocateRetries      int           `yaml:"locate_retries"`
	Currency           string        `yaml:"currency"`
	ThousandSeparator  string        `yaml:"thousand_separator"`
	DecimalSeparator   string        `yaml:"decimal_separator"`
	RemoveChars        string        `yaml:"remove_chars"`
	Cron               string        `yaml:"cron"`
	Products           []Product     `yaml:"products"`
}

// Product is one monitored page.
type Product struct {
	URL          string `yaml:"url"`
	Title        string `yaml:"title"`
	PriceLocator string `yaml:"price_locator"`
	Cron         string `yaml:"cron"`
}

// User is a subscriber and their subscriptions.
type User struct {
	Moniker       string         `yaml:"moniker"`
	ChatID        int64          `yaml:"chat_id"`
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// Subscription refers to a product by URL.
type Subscription struct {
	URL                   string          `yaml:"url"`
	NotifyIncreasePercent *int64          `yaml:"notify_increase_percent"`
	NotifyDecreasePercent *int64          `yaml:"notify_decrease_percent"`
	MaxFrequency          store.Frequency `yaml:"max_frequency"`
	Note                  string          `yaml:"note"`
}

// Load reads, defaults and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) applyDefaults() {
	for i := range c.Shops {
		s := &c.Shops[i]
		if s.LocateTimeout <= 0 {
			s.LocateTimeout = 10 * time.Second
		}
		if s.LocateRetries <= 0 {
			s.LocateRetries = 1
		}
		if s.DecimalSeparator == "" {
			s.DecimalSeparator = "."
		}
	}
}

// Validate reports every problem in the catalog at once.
func (c *Catalog) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidCatalog}, args...)...))
	}

	shops := make(map[string]bool)
	urls := make(map[string]bool)
	for _, s := range c.Shops {
		if s.Name == "" {
			bad("shop without a name")
			continue
		}
		if shops[s.Name] {
			bad("shop %q: duplicate name", s.Name)
		}
		shops[s.Name] = true

		if _, err := pricing.CompileRules(pricing.RulesInput{
			Currency: s.Currency, ThousandSeparator: s.ThousandSeparator,
			DecimalSeparator: s.DecimalSeparator, RemoveChars: s.RemoveChars,
		}); err != nil {
			bad("shop %q: %v", s.Name, err)
		}
		if s.Cron != "" {
			if _, err := schedule.ParseCron(s.Cron); err != nil {
				bad("shop %q: cron %q: %v", s.Name, s.Cron, err)
			}
		}

		for _, p := range s.Products {
			if err := checkURL(p.URL); err != nil {
				bad("shop %q: product %q: %v", s.Name, p.URL, err)
				continue
			}
			if urls[p.URL] {
				bad("product %q: listed twice", p.URL)
			}
			urls[p.URL] = true

			if p.PriceLocator == "" && len(s.PriceLocators) == 0 {
				bad("product %q: no price locator on product or shop", p.URL)
			}
			switch {
			case p.Cron != "":
				if _, err := schedule.ParseCron(p.Cron); err != nil {
					bad("product %q: cron %q: %v", p.URL, p.Cron, err)
				}
			case s.Cron == "":
				bad("product %q: no cron on product or shop", p.URL)
			}
		}
	}

	monikers := make(map[string]bool)
	for _, u := range c.Users {
		if u.Moniker == "" {
			bad("user without a moniker")
			continue
		}
		if monikers[u.Moniker] {
			bad("user %q: duplicate moniker", u.Moniker)
		}
		monikers[u.Moniker] = true

		for _, sub := range u.Subscriptions {
			if !urls[sub.URL] {
				bad("user %q: subscription to unknown product %q", u.Moniker, sub.URL)
			}
			if sub.NotifyIncreasePercent == nil && sub.NotifyDecreasePercent == nil {
				bad("user %q: subscription %q sets no threshold", u.Moniker, sub.URL)
			}
			for _, th := range []*int64{sub.NotifyIncreasePercent, sub.NotifyDecreasePercent} {
				if th != nil && *th <= 0 {
					bad("user %q: subscription %q: thresholds must be positive", u.Moniker, sub.URL)
				}
			}
			if !sub.MaxFrequency.Valid() {
				bad("user %q: subscription %q: unknown max_frequency %q", u.Moniker, sub.URL, sub.MaxFrequency)
			}
		}
	}

	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// Store is the slice of the relational store Apply writes to.
type Store interface {
	UpsertShop(ctx context.Context, shop *store.Shop) (int64, error)
	InsertProduct(ctx context.Context, p *store.Product) (int64, error)
	UpsertUser(ctx context.Context, u *store.User) (int64, error)
	InsertSubscription(ctx context.Context, sub *store.Subscription) (int64, error)
}

// ApplyStats counts the rows touched by Apply.
type ApplyStats struct {
	Shops, Products, Users, Subscriptions int
}

// Apply writes the catalog to s. It stops at the first store error.
func (c *Catalog) Apply(ctx context.Context, s Store) (ApplyStats, error) {
	var stats ApplyStats
	productIDs := make(map[string]int64)

	for _, cs := range c.Shops {
		shop := &store.Shop{
			Name:               cs.Name,
			PriceLocators:      cs.PriceLocators,
			UnavailableLocator: cs.UnavailableLocator,
			UnavailableText:    cs.UnavailableText,
			LocateTimeout:      cs.LocateTimeout,
			LocateRetries:      cs.LocateRetries,
			Currency:           cs.Currency,
			ThousandSeparator:  cs.ThousandSeparator,
			DecimalSeparator:   cs.DecimalSeparator,
			RemoveChars:        cs.RemoveChars,
			Cron:               cs.Cron,
		}
		if _, err := s.UpsertShop(ctx, shop); err != nil {
			return stats, fmt.Errorf("catalog: apply shop %q: %w", cs.Name, err)
		}
		stats.Shops++

		for _, cp := range cs.Products {
			p := &store.Product{
				ShopID:       shop.ID,
				URL:          cp.URL,
				Title:        cp.Title,
				PriceLocator: cp.PriceLocator,
				Cron:         cp.Cron,
			}
			id, err := s.InsertProduct(ctx, p)
			if err != nil {
				return stats, fmt.Errorf("catalog: apply product %q: %w", cp.URL, err)
			}
			productIDs[cp.URL] = id
			stats.Products++
		}
	}

	for _, cu := range c.Users {
		u := &store.User{Moniker: cu.Moniker, ChatID: cu.ChatID}
		if _, err := s.UpsertUser(ctx, u); err != nil {
			return stats, fmt.Errorf("catalog: apply user %q: %w", cu.Moniker, err)
		}
		stats.Users++

		for _, cs := range cu.Subscriptions {
			sub := &store.Subscription{
				UserID:                u.ID,
				ProductID:             productIDs[cs.URL],
				NotifyIncreasePercent: cs.NotifyIncreasePercent,
				NotifyDecreasePercent: cs.NotifyDecreasePercent,
				MaxFrequency:          cs.MaxFrequency,
				Note:                  cs.Note,
			}
			if _, err := s.InsertSubscription(ctx, sub); err != nil {
				return stats, fmt.Errorf("catalog: apply subscription %q/%q: %w", cu.Moniker, cs.URL, err)
			}
			stats.Subscriptions++
		}
	}
	return stats, nil
}
