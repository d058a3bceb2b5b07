// Package api exposes a small read-mostly admin HTTP API over the store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/pricesnitch/monitor"
	"github.com/hazyhaar/pricesnitch/store"
)

// Store is the slice of the relational store the API reads.
type Store interface {
	ListProducts(ctx context.Context) ([]*store.Product, error)
	GetProduct(ctx context.Context, id int64) (*store.Product, error)
	ListPriceChanges(ctx context.Context, productID int64, limit int) ([]*store.PriceChange, error)
	ListNotifications(ctx context.Context, userID int64, limit int) ([]*store.Notification, error)
}

// Ticker runs one monitor pass on demand.
type Ticker interface {
	Tick(ctx context.Context) (monitor.Report, error)
}

type product struct {
	ID           int64     `json:"id"`
	ShopID       int64     `json:"shop_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	PriceLocator string    `json:"price_locator,omitempty"`
	Cron         string    `json:"cron,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type priceChange struct {
	ID          int64     `json:"id"`
	Amount      int64     `json:"amount"`
	PrevAmount  int64     `json:"prev_amount"`
	AmountDiff  int64     `json:"amount_diff"`
	PercentDiff int64     `json:"percent_diff"`
	CreatedAt   time.Time `json:"created_at"`
}

type notification struct {
	ID            int64     `json:"id"`
	PriceChangeID int64     `json:"price_change_id"`
	ProductID     int64     `json:"product_id"`
	Version       string    `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
}

// tickTimeout bounds a pass started by POST /api/tick. The pass outlives the
// request so a client disconnect does not abort a crawl round halfway.
const tickTimeout = 5 * time.Minute

// New returns the API router. t may be nil, which disables POST /api/tick.
func New(s Store, t Ticker, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(headToGet)
	r.Use(securityHeaders)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", func(w http.ResponseWriter, r *http.Request) {
			ps, err := s.ListProducts(r.Context())
			if err != nil {
				requestLog(r.Context(), logger).Error("api: list products", "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			out := make([]product, 0, len(ps))
			for _, p := range ps {
				out = append(out, product{
					ID: p.ID, ShopID: p.ShopID, URL: p.URL, Title: p.Title,
					PriceLocator: p.PriceLocator, Cron: p.Cron, CreatedAt: p.CreatedAt,
				})
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/products/{id}/changes", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r)
			if !ok {
				return
			}
			p, err := s.GetProduct(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if p == nil {
				writeError(w, http.StatusNotFound, errors.New("product not found"))
				return
			}
			pcs, err := s.ListPriceChanges(r.Context(), id, queryInt(r, "limit", 50))
			if err != nil {
				requestLog(r.Context(), logger).Error("api: list price changes", "product_id", id, "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			out := make([]priceChange, 0, len(pcs))
			for _, pc := range pcs {
				out = append(out, priceChange{
					ID: pc.ID, Amount: pc.Amount, PrevAmount: pc.PrevAmount,
					AmountDiff: pc.AmountDiff, PercentDiff: pc.PercentDiff, CreatedAt: pc.CreatedAt,
				})
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/users/{id}/notifications", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r)
			if !ok {
				return
			}
			ns, err := s.ListNotifications(r.Context(), id, queryInt(r, "limit", 50))
			if err != nil {
				requestLog(r.Context(), logger).Error("api: list notifications", "user_id", id, "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			out := make([]notification, 0, len(ns))
			for _, n := range ns {
				out = append(out, notification{
					ID: n.ID, PriceChangeID: n.PriceChangeID, ProductID: n.ProductID,
					Version: n.Version, CreatedAt: n.CreatedAt,
				})
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Post("/tick", func(w http.ResponseWriter, r *http.Request) {
			if t == nil {
				writeError(w, http.StatusServiceUnavailable, errors.New("monitor not running"))
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), tickTimeout)
			defer cancel()
			rep, err := t.Tick(ctx)
			if err != nil {
				requestLog(r.Context(), logger).Error("api: tick", "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, rep)
		})
	})

	return r
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid id"))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
