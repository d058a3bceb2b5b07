package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const shopColumns = `id, name, price_locators, unavailable_locator, unavailable_text,
	locate_timeout_ms, locate_retries, currency, thousand_separator, decimal_separator,
	remove_chars, cron, created_at`

// UpsertShop inserts a shop or updates the existing one with the same name.
// Shop configuration is reference data: the catalog file is authoritative.
func (s *Store) UpsertShop(ctx context.Context, shop *Shop) (int64, error) {
	locators, err := json.Marshal(shop.PriceLocators)
	if err != nil {
		return 0, fmt.Errorf("store: marshal locators: %w", err)
	}
	if shop.PriceLocators == nil {
		locators = []byte("[]")
	}
	id, err := s.insertID(ctx,
		`INSERT INTO shops (name, price_locators, unavailable_locator, unavailable_text,
		locate_timeout_ms, locate_retries, currency, thousand_separator, decimal_separator,
		remove_chars, cron, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			price_locators = excluded.price_locators,
			unavailable_locator = excluded.unavailable_locator,
			unavailable_text = excluded.unavailable_text,
			locate_timeout_ms = excluded.locate_timeout_ms,
			locate_retries = excluded.locate_retries,
			currency = excluded.currency,
			thousand_separator = excluded.thousand_separator,
			decimal_separator = excluded.decimal_separator,
			remove_chars = excluded.remove_chars,
			cron = excluded.cron
		RETURNING id`,
		shop.Name, string(locators), shop.UnavailableLocator, shop.UnavailableText,
		shop.LocateTimeout.Milliseconds(), shop.LocateRetries, shop.Currency,
		shop.ThousandSeparator, shop.DecimalSeparator, shop.RemoveChars, shop.Cron,
		s.stamp(shop.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("store: upsert shop %q: %w", shop.Name, err)
	}
	shop.ID = id
	return id, nil
}

// GetShop returns a shop by ID, or nil if it does not exist.
func (s *Store) GetShop(ctx context.Context, id int64) (*Shop, error) {
	row := s.queryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = ?`, id)
	shop, err := scanShop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return shop, err
}

// ListShops returns all shops ordered by ID.
func (s *Store) ListShops(ctx context.Context) ([]*Shop, error) {
	rows, err := s.query(ctx, `SELECT `+shopColumns+` FROM shops ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shops []*Shop
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		shops = append(shops, shop)
	}
	return shops, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShop(sc scanner) (*Shop, error) {
	var shop Shop
	var locators string
	var timeoutMs, created int64
	err := sc.Scan(&shop.ID, &shop.Name, &locators, &shop.UnavailableLocator, &shop.UnavailableText,
		&timeoutMs, &shop.LocateRetries, &shop.Currency, &shop.ThousandSeparator,
		&shop.DecimalSeparator, &shop.RemoveChars, &shop.Cron, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(locators), &shop.PriceLocators); err != nil {
		return nil, fmt.Errorf("store: shop %d locators: %w", shop.ID, err)
	}
	shop.LocateTimeout = time.Duration(timeoutMs) * time.Millisecond
	shop.CreatedAt = fromMillis(created)
	return &shop, nil
}

const productColumns = `id, shop_id, url, title, price_locator, cron, created_at`

// InsertProduct adds a product, or returns the ID of the product already
// registered under the same URL. Idempotent.
func (s *Store) InsertProduct(ctx context.Context, p *Product) (int64, error) {
	err := s.exec(ctx,
		`INSERT INTO products (shop_id, url, title, price_locator, cron, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO NOTHING`,
		p.ShopID, p.URL, p.Title, p.PriceLocator, p.Cron, s.stamp(p.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: insert product %s: %w", p.URL, err)
	}
	var id int64
	if err := s.queryRow(ctx, `SELECT id FROM products WHERE url = ?`, p.URL).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: product id %s: %w", p.URL, err)
	}
	p.ID = id
	return id, nil
}

// GetProduct returns a product by ID, or nil if it does not exist.
func (s *Store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	row := s.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetProductByURL returns the product registered under url, or nil.
func (s *Store) GetProductByURL(ctx context.Context, url string) (*Product, error) {
	row := s.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE url = ?`, url)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListProducts returns all products ordered by ID.
func (s *Store) ListProducts(ctx context.Context) ([]*Product, error) {
	rows, err := s.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(sc scanner) (*Product, error) {
	var p Product
	var created int64
	if err := sc.Scan(&p.ID, &p.ShopID, &p.URL, &p.Title, &p.PriceLocator, &p.Cron, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// UpsertUser inserts a user by moniker, updating the chat ID if it exists.
func (s *Store) UpsertUser(ctx context.Context, u *User) (int64, error) {
	id, err := s.insertID(ctx,
		`INSERT INTO users (moniker, chat_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (moniker) DO UPDATE SET chat_id = excluded.chat_id
		RETURNING id`,
		u.Moniker, u.ChatID, s.stamp(u.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: upsert user %q: %w", u.Moniker, err)
	}
	u.ID = id
	return id, nil
}

// InsertSubscription registers a subscription. An existing subscription for
// the same (user, product) pair is left untouched; its ID is returned.
func (s *Store) InsertSubscription(ctx context.Context, sub *Subscription) (int64, error) {
	err := s.exec(ctx,
		`INSERT INTO subscriptions (user_id, product_id, notify_increase_percent,
		notify_decrease_percent, max_frequency, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, product_id) DO NOTHING`,
		sub.UserID, sub.ProductID, nullInt(sub.NotifyIncreasePercent),
		nullInt(sub.NotifyDecreasePercent), string(sub.MaxFrequency), sub.Note,
		s.stamp(sub.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: insert subscription: %w", err)
	}
	var id int64
	err = s.queryRow(ctx, `SELECT id FROM subscriptions WHERE user_id = ? AND product_id = ?`,
		sub.UserID, sub.ProductID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: subscription id: %w", err)
	}
	sub.ID = id
	return id, nil
}
