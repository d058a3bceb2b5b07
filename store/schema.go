package store

import (
	"context"
	"fmt"

	"github.com/hazyhaar/pricesnitch/dbopen"
)

// SQLiteSchema is the pricesnitch schema for SQLite. Timestamps are unix ms.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS shops (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    name                TEXT NOT NULL UNIQUE,
    price_locators      TEXT NOT NULL DEFAULT '[]',
    unavailable_locator TEXT NOT NULL DEFAULT '',
    unavailable_text    TEXT NOT NULL DEFAULT '',
    locate_timeout_ms   INTEGER NOT NULL DEFAULT 5000,
    locate_retries      INTEGER NOT NULL DEFAULT 1,
    currency            TEXT NOT NULL DEFAULT '',
    thousand_separator  TEXT NOT NULL DEFAULT '',
    decimal_separator   TEXT NOT NULL DEFAULT '.',
    remove_chars        TEXT NOT NULL DEFAULT '',
    cron                TEXT NOT NULL DEFAULT '',
    created_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    shop_id       INTEGER NOT NULL REFERENCES shops(id),
    url           TEXT NOT NULL UNIQUE,
    title         TEXT NOT NULL DEFAULT '',
    price_locator TEXT NOT NULL DEFAULT '',
    cron          TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_shop ON products(shop_id);

CREATE TABLE IF NOT EXISTS users (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    moniker    TEXT NOT NULL UNIQUE,
    chat_id    INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id                 INTEGER NOT NULL REFERENCES users(id),
    product_id              INTEGER NOT NULL REFERENCES products(id),
    notify_increase_percent INTEGER,
    notify_decrease_percent INTEGER,
    max_frequency           TEXT NOT NULL DEFAULT '',
    note                    TEXT NOT NULL DEFAULT '',
    created_at              INTEGER NOT NULL,
    UNIQUE (user_id, product_id)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_product ON subscriptions(product_id);

CREATE TABLE IF NOT EXISTS price_changes (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id   INTEGER NOT NULL REFERENCES products(id),
    shop_id      INTEGER NOT NULL REFERENCES shops(id),
    amount       INTEGER NOT NULL,
    prev_amount  INTEGER NOT NULL,
    amount_diff  INTEGER NOT NULL,
    percent_diff INTEGER NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_changes_product ON price_changes(product_id, amount, id);

CREATE TABLE IF NOT EXISTS notifications (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id         INTEGER NOT NULL REFERENCES users(id),
    price_change_id INTEGER NOT NULL REFERENCES price_changes(id),
    product_id      INTEGER NOT NULL REFERENCES products(id),
    shop_id         INTEGER NOT NULL REFERENCES shops(id),
    version         TEXT NOT NULL DEFAULT '1.0',
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user_product ON notifications(user_id, product_id, id);
`

// PostgresSchema mirrors SQLiteSchema for PostgreSQL.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS shops (
    id                  BIGSERIAL PRIMARY KEY,
    name                TEXT NOT NULL UNIQUE,
    price_locators      TEXT NOT NULL DEFAULT '[]',
    unavailable_locator TEXT NOT NULL DEFAULT '',
    unavailable_text    TEXT NOT NULL DEFAULT '',
    locate_timeout_ms   BIGINT NOT NULL DEFAULT 5000,
    locate_retries      INTEGER NOT NULL DEFAULT 1,
    currency            TEXT NOT NULL DEFAULT '',
    thousand_separator  TEXT NOT NULL DEFAULT '',
    decimal_separator   TEXT NOT NULL DEFAULT '.',
    remove_chars        TEXT NOT NULL DEFAULT '',
    cron                TEXT NOT NULL DEFAULT '',
    created_at          BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
    id            BIGSERIAL PRIMARY KEY,
    shop_id       BIGINT NOT NULL REFERENCES shops(id),
    url           TEXT NOT NULL UNIQUE,
    title         TEXT NOT NULL DEFAULT '',
    price_locator TEXT NOT NULL DEFAULT '',
    cron          TEXT NOT NULL DEFAULT '',
    created_at    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_shop ON products(shop_id);

CREATE TABLE IF NOT EXISTS users (
    id         BIGSERIAL PRIMARY KEY,
    moniker    TEXT NOT NULL UNIQUE,
    chat_id    BIGINT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id                      BIGSERIAL PRIMARY KEY,
    user_id                 BIGINT NOT NULL REFERENCES users(id),
    product_id              BIGINT NOT NULL REFERENCES products(id),
    notify_increase_percent BIGINT,
    notify_decrease_percent BIGINT,
    max_frequency           TEXT NOT NULL DEFAULT '',
    note                    TEXT NOT NULL DEFAULT '',
    created_at              BIGINT NOT NULL,
    UNIQUE (user_id, product_id)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_product ON subscriptions(product_id);

CREATE TABLE IF NOT EXISTS price_changes (
    id           BIGSERIAL PRIMARY KEY,
    product_id   BIGINT NOT NULL REFERENCES products(id),
    shop_id      BIGINT NOT NULL REFERENCES shops(id),
    amount       BIGINT NOT NULL,
    prev_amount  BIGINT NOT NULL,
    amount_diff  BIGINT NOT NULL,
    percent_diff BIGINT NOT NULL,
    created_at   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_changes_product ON price_changes(product_id, amount, id);

CREATE TABLE IF NOT EXISTS notifications (
    id              BIGSERIAL PRIMARY KEY,
    user_id         BIGINT NOT NULL REFERENCES users(id),
    price_change_id BIGINT NOT NULL REFERENCES price_changes(id),
    product_id      BIGINT NOT NULL REFERENCES products(id),
    shop_id         BIGINT NOT NULL REFERENCES shops(id),
    version         TEXT NOT NULL DEFAULT '1.0',
    created_at      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user_product ON notifications(user_id, product_id, id);
`

// ApplySchema creates the tables for the store's dialect. Idempotent.
func (s *Store) ApplySchema(ctx context.Context) error {
	schema := SQLiteSchema
	if s.dialect == dbopen.Postgres {
		schema = PostgresSchema
	}
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}
