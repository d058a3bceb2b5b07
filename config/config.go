// Package config loads the pricesnitch process configuration from an
// optional YAML file, overlaid by environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pricesnitch/dbopen"
)

// Config is the top-level configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Catalog  string         `yaml:"catalog"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Browser  BrowserConfig  `yaml:"browser"`
	Notify   NotifyConfig   `yaml:"notify"`
	Listen   string         `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`
}

// MonitorConfig tunes the poll loop and crawl pool.
type MonitorConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	PoolSize          int           `yaml:"pool_size"`
	ProductsPerWorker int           `yaml:"products_per_worker"`
	LookAhead         int           `yaml:"look_ahead"` // queued run times per product
	ScreenshotDir     string        `yaml:"screenshot_dir"`
}

// BrowserConfig selects and tunes the page-fetch backend.
type BrowserConfig struct {
	Mode             string        `yaml:"mode"` // rod | static
	RemoteURL        string        `yaml:"remote_url"`
	Headless         *bool         `yaml:"headless"`
	Incognito        bool          `yaml:"incognito"`
	Proxy            string        `yaml:"proxy"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	UserAgent        string        `yaml:"user_agent"`
}

// NotifyConfig enables transports. Every configured transport receives
// every alert; with none configured alerts are only logged.
type NotifyConfig struct {
	NtfyURL       string        `yaml:"ntfy_url"`
	NtfyToken     string        `yaml:"ntfy_token"`
	WebhookURL    string        `yaml:"webhook_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	TelegramToken string        `yaml:"telegram_token"`
	RateEvery     time.Duration `yaml:"rate_every"`
	RateBurst     int           `yaml:"rate_burst"`
}

// Load reads path (skipped when empty), applies environment overrides from
// the process environment, then defaults, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PRICESNITCH_DB_DRIVER", &c.Database.Driver)
	str("PRICESNITCH_DB_DSN", &c.Database.DSN)
	str("PRICESNITCH_CATALOG", &c.Catalog)
	str("PRICESNITCH_LISTEN", &c.Listen)
	str("PRICESNITCH_BROWSER_MODE", &c.Browser.Mode)
	str("PRICESNITCH_CHROME_URL", &c.Browser.RemoteURL)
	str("PRICESNITCH_PROXY", &c.Browser.Proxy)
	str("PRICESNITCH_SCREENSHOT_DIR", &c.Monitor.ScreenshotDir)
	str("PRICESNITCH_NTFY_URL", &c.Notify.NtfyURL)
	str("PRICESNITCH_NTFY_TOKEN", &c.Notify.NtfyToken)
	str("PRICESNITCH_WEBHOOK_URL", &c.Notify.WebhookURL)
	str("PRICESNITCH_WEBHOOK_SECRET", &c.Notify.WebhookSecret)
	str("TELEGRAM_BOT_TOKEN", &c.Notify.TelegramToken)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("PRICESNITCH_POOL_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PRICESNITCH_POOL_SIZE: %w", err)
		}
		c.Monitor.PoolSize = n
	}
	if v, ok := lookup("PRICESNITCH_POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: PRICESNITCH_POLL_INTERVAL: %w", err)
		}
		c.Monitor.PollInterval = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Dialect() == dbopen.SQLite {
		c.Database.DSN = "data/pricesnitch.db"
	}
	if c.Catalog == "" {
		c.Catalog = "catalog.yaml"
	}
	if c.Listen == "" {
		c.Listen = ":8086"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 10 * time.Second
	}
	if c.Monitor.PoolSize <= 0 {
		c.Monitor.PoolSize = 4
	}
	if c.Monitor.ProductsPerWorker <= 0 {
		c.Monitor.ProductsPerWorker = 10
	}
	if c.Monitor.LookAhead <= 0 {
		c.Monitor.LookAhead = 24
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "rod"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Notify.RateEvery <= 0 {
		c.Notify.RateEvery = time.Second
	}
	if c.Notify.RateBurst <= 0 {
		c.Notify.RateBurst = 5
	}
}

func (c *Config) validate() error {
	if _, err := dbopen.ParseDialect(c.Database.Driver); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database dsn is required for %s", c.Database.Driver)
	}
	switch c.Browser.Mode {
	case "rod", "static":
	default:
		return fmt.Errorf("config: unknown browser mode %q (rod | static)", c.Browser.Mode)
	}
	return nil
}

// Dialect returns the parsed database dialect.
func (c *Config) Dialect() dbopen.Dialect {
	d, _ := dbopen.ParseDialect(c.Database.Driver)
	return d
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
