package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Transport delivers one alert. Retries, if any, are the transport's own
// business: the engine records the notification whatever Send returns.
type Transport interface {
	Send(ctx context.Context, dest Destination, p Payload) error
}

// ErrSendFailed is returned when an alert could not be delivered.
type ErrSendFailed struct {
	Transport   string
	Destination string
	Cause       error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("notify: send failed on %s to %s: %v", e.Transport, e.Destination, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }

func defaultClient() *http.Client { return &http.Client{Timeout: 15 * time.Second} }

// NtfyTransport publishes JSON alerts to <BaseURL>/<moniker>, one topic per
// user, the way ntfy-style push servers expect.
type NtfyTransport struct {
	BaseURL string
	Token   string // optional bearer token
	Client  *http.Client
}

func (t *NtfyTransport) Send(ctx context.Context, dest Destination, p Payload) error {
	fail := func(err error) error {
		return &ErrSendFailed{Transport: "ntfy", Destination: dest.Moniker, Cause: err}
	}
	if dest.Moniker == "" {
		return fail(errors.New("empty moniker"))
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fail(fmt.Errorf("marshal: %w", err))
	}
	target := strings.TrimRight(t.BaseURL, "/") + "/" + url.PathEscape(dest.Moniker)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Title", p.Subject())
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}
	if err := doPost(t.Client, req); err != nil {
		return fail(err)
	}
	return nil
}

// WebhookTransport POSTs the payload with the destination to a fixed URL.
// When Secret is set the body is signed with HMAC-SHA256 in X-Signature-256.
type WebhookTransport struct {
	URL    string
	Secret string
	Client *http.Client
}

type webhookBody struct {
	Destination Destination `json:"destination"`
	Payload     Payload     `json:"payload"`
	Text        string      `json:"text"`
}

func (t *WebhookTransport) Send(ctx context.Context, dest Destination, p Payload) error {
	fail := func(err error) error {
		return &ErrSendFailed{Transport: "webhook", Destination: dest.Moniker, Cause: err}
	}
	body, err := json.Marshal(webhookBody{Destination: dest, Payload: p, Text: p.Text()})
	if err != nil {
		return fail(fmt.Errorf("marshal: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(t.Secret, body))
	}
	if err := doPost(t.Client, req); err != nil {
		return fail(err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func doPost(c *http.Client, req *http.Request) error {
	if c == nil {
		c = defaultClient()
	}
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post: status %d", resp.StatusCode)
	}
	return nil
}

// telegramSender is the part of *tgbotapi.BotAPI the transport uses.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramTransport sends alerts as Telegram messages to the user's chat.
type TelegramTransport struct {
	bot telegramSender
}

// NewTelegramTransport authenticates against the Bot API with token.
func NewTelegramTransport(token string) (*TelegramTransport, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram: %w", err)
	}
	return &TelegramTransport{bot: bot}, nil
}

func (t *TelegramTransport) Send(_ context.Context, dest Destination, p Payload) error {
	if dest.ChatID == 0 {
		return &ErrSendFailed{Transport: "telegram", Destination: dest.Moniker,
			Cause: errors.New("user has no chat id")}
	}
	msg := tgbotapi.NewMessage(dest.ChatID, p.Text())
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return &ErrSendFailed{Transport: "telegram", Destination: dest.Moniker, Cause: err}
	}
	return nil
}

// LogTransport only logs alerts. Useful for dry runs.
type LogTransport struct {
	Logger *slog.Logger
}

func (t *LogTransport) Send(_ context.Context, dest Destination, p Payload) error {
	log := t.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("notify: alert",
		"moniker", dest.Moniker, "product_id", p.ProductID,
		"change_id", p.PriceChangeID, "subject", p.Subject())
	return nil
}

// Fanout sends every alert through each transport in turn and joins
// their errors.
type Fanout []Transport

func (f Fanout) Send(ctx context.Context, dest Destination, p Payload) error {
	var errs []error
	for _, t := range f {
		if err := t.Send(ctx, dest, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RateLimited wraps next so that at most one alert is sent per every, with
// the given burst.
func RateLimited(next Transport, every time.Duration, burst int) Transport {
	return &rateLimited{next: next, lim: rate.NewLimiter(rate.Every(every), max(burst, 1))}
}

type rateLimited struct {
	next Transport
	lim  *rate.Limiter
}

func (r *rateLimited) Send(ctx context.Context, dest Destination, p Payload) error {
	if err := r.lim.Wait(ctx); err != nil {
		return &ErrSendFailed{Transport: "ratelimit", Destination: dest.Moniker, Cause: err}
	}
	return r.next.Send(ctx, dest, p)
}
