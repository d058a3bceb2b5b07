// Command pricesnitch crawls shop pages on a cron schedule, records price
// changes and alerts subscribers whose thresholds are crossed.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pricesnitch/api"
	"github.com/hazyhaar/pricesnitch/catalog"
	"github.com/hazyhaar/pricesnitch/config"
	"github.com/hazyhaar/pricesnitch/crawl"
	"github.com/hazyhaar/pricesnitch/dbopen"
	"github.com/hazyhaar/pricesnitch/ledger"
	"github.com/hazyhaar/pricesnitch/monitor"
	"github.com/hazyhaar/pricesnitch/notify"
	"github.com/hazyhaar/pricesnitch/page"
	"github.com/hazyhaar/pricesnitch/schedule"
	"github.com/hazyhaar/pricesnitch/store"
)

func main() {
	configPath := flag.String("config", env("PRICESNITCH_CONFIG", ""), "path to the YAML config file")
	flag.Parse()

	// .env is optional; the process environment wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("dotenv", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Store.
	db, err := dbopen.Open(cfg.Database.DSN, dbopen.WithDialect(cfg.Dialect()), dbopen.WithMkdirAll())
	if err != nil {
		logger.Error("open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	st := store.New(db, store.WithDialect(cfg.Dialect()))
	if err := st.ApplySchema(ctx); err != nil {
		logger.Error("apply schema", "error", err)
		os.Exit(1)
	}

	// Catalog.
	cat, err := catalog.Load(cfg.Catalog)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("catalog file not found, using stored catalog", "path", cfg.Catalog)
	case err != nil:
		logger.Error("catalog", "path", cfg.Catalog, "error", err)
		os.Exit(1)
	default:
		stats, err := cat.Apply(ctx, st)
		if err != nil {
			logger.Error("apply catalog", "error", err)
			os.Exit(1)
		}
		logger.Info("catalog applied", "shops", stats.Shops, "products", stats.Products,
			"users", stats.Users, "subscriptions", stats.Subscriptions)
	}

	// Page backend.
	var pages page.Factory
	switch cfg.Browser.Mode {
	case "static":
		pages = page.NewStatic(
			page.WithUserAgent(cfg.Browser.UserAgent),
			page.WithLogger(logger),
		).Factory()
	default:
		mgr := page.NewRodManager(page.RodConfig{
			RemoteURL:        cfg.Browser.RemoteURL,
			Headless:         cfg.Browser.Headless,
			Incognito:        cfg.Browser.Incognito,
			Proxy:            cfg.Browser.Proxy,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			Logger:           logger,
		})
		defer mgr.Close()
		pages = mgr.Factory()
	}

	pool := crawl.NewPool(crawl.PoolConfig{Size: cfg.Monitor.PoolSize, Logger: logger},
		func(shop *store.Shop) (crawl.Crawler, error) {
			w, err := crawl.NewWorker(shop, pages,
				crawl.WithLogger(logger),
				crawl.WithScreenshotDir(cfg.Monitor.ScreenshotDir),
			)
			if err != nil {
				return nil, err
			}
			return w, nil
		})

	// Notification transports.
	transport, err := buildTransport(cfg.Notify, logger)
	if err != nil {
		logger.Error("notify transport", "error", err)
		os.Exit(1)
	}
	engine := notify.NewEngine(st, transport, notify.WithLogger(logger))

	svc := monitor.New(monitor.Deps{
		Store:     st,
		Scheduler: schedule.New(schedule.Config{Upper: cfg.Monitor.LookAhead}, schedule.WithLogger(logger)),
		Pool:      pool,
		Ledger:    ledger.New(st, logger),
		Engine:    engine,
	}, monitor.Config{
		PollInterval:      cfg.Monitor.PollInterval,
		ProductsPerWorker: cfg.Monitor.ProductsPerWorker,
	}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(st, svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute, // POST /api/tick runs a whole crawl round
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("pricesnitch listening", "addr", cfg.Listen, "browser", cfg.Browser.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	<-done
	logger.Info("server stopped")
}

// buildTransport fans alerts out to every configured transport, or only
// logs them when none is configured.
func buildTransport(cfg config.NotifyConfig, logger *slog.Logger) (notify.Transport, error) {
	var fan notify.Fanout
	if cfg.NtfyURL != "" {
		fan = append(fan, &notify.NtfyTransport{BaseURL: cfg.NtfyURL, Token: cfg.NtfyToken})
	}
	if cfg.WebhookURL != "" {
		fan = append(fan, &notify.WebhookTransport{URL: cfg.WebhookURL, Secret: cfg.WebhookSecret})
	}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramTransport(cfg.TelegramToken)
		if err != nil {
			return nil, err
		}
		fan = append(fan, tg)
	}
	if len(fan) == 0 {
		logger.Warn("no notification transport configured, alerts are only logged")
		return &notify.LogTransport{Logger: logger}, nil
	}
	return notify.RateLimited(fan, cfg.RateEvery, cfg.RateBurst), nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
