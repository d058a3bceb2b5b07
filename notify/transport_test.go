package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func samplePayload() Payload {
	return Payload{
		Version: "1.0", PriceChangeID: 8, ProductID: 3, ShopID: 1,
		Title: "Widget", URL: "https://acme.example/w",
		Amount: 40000, PrevAmount: 50000, AmountDiff: -10000, PercentDiff: -20,
	}
}

func TestNtfyTransport(t *testing.T) {
	var gotPath, gotTitle, gotAuth string
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotTitle, gotAuth = r.URL.Path, r.Header.Get("Title"), r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	tr := &NtfyTransport{BaseURL: srv.URL + "/", Token: "tk"}
	if err := tr.Send(context.Background(), Destination{Moniker: "alice"}, samplePayload()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/alice" {
		t.Errorf("path = %q", gotPath)
	}
	if gotTitle != "Widget dropped 20%" {
		t.Errorf("title = %q", gotTitle)
	}
	if gotAuth != "Bearer tk" {
		t.Errorf("auth = %q", gotAuth)
	}
	if got.PriceChangeID != 8 || got.Amount != 40000 {
		t.Errorf("payload = %+v", got)
	}
}

// WHAT: A product title spanning several lines still yields a valid Title header.
// WHY: net/http refuses to send header values containing newlines.
func TestNtfyTransportMultilineTitle(t *testing.T) {
	var gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
	}))
	defer srv.Close()

	p := samplePayload()
	p.Title = "Widget\r\n  3000\tPro\x00"
	tr := &NtfyTransport{BaseURL: srv.URL}
	if err := tr.Send(context.Background(), Destination{Moniker: "alice"}, p); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotTitle != "Widget 3000 Pro dropped 20%" {
		t.Errorf("title = %q", gotTitle)
	}
}

func TestNtfyTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := &NtfyTransport{BaseURL: srv.URL}
	err := tr.Send(context.Background(), Destination{Moniker: "alice"}, samplePayload())
	var sf *ErrSendFailed
	if !errors.As(err, &sf) || sf.Transport != "ntfy" || sf.Destination != "alice" {
		t.Fatalf("err = %v, want *ErrSendFailed", err)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should carry the status: %v", err)
	}

	if err := tr.Send(context.Background(), Destination{}, samplePayload()); err == nil {
		t.Error("expected error for empty moniker")
	}
}

// WHAT: Webhook bodies carry a signature the receiver can verify with the shared secret.
func TestWebhookTransportSigned(t *testing.T) {
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := &WebhookTransport{URL: srv.URL, Secret: "s3cret"}
	if err := tr.Send(context.Background(), Destination{UserID: 1, Moniker: "bob"}, samplePayload()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sig != "sha256="+Sign("s3cret", body) {
		t.Errorf("signature mismatch: %q", sig)
	}
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		t.Fatal(err)
	}
	if wb.Destination.Moniker != "bob" || wb.Payload.ProductID != 3 {
		t.Errorf("body = %+v", wb)
	}
	if !strings.Contains(wb.Text, "500.00 -> 400.00") {
		t.Errorf("text = %q", wb.Text)
	}
}

type fakeBot struct {
	chats []int64
	err   error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.chats = append(f.chats, m.ChatID)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramTransport(t *testing.T) {
	bot := &fakeBot{}
	tr := &TelegramTransport{bot: bot}

	if err := tr.Send(context.Background(), Destination{Moniker: "carol", ChatID: 99}, samplePayload()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(bot.chats) != 1 || bot.chats[0] != 99 {
		t.Errorf("chats = %v", bot.chats)
	}

	if err := tr.Send(context.Background(), Destination{Moniker: "dave"}, samplePayload()); err == nil {
		t.Error("expected error without chat id")
	}

	bot.err = errors.New("Forbidden: bot was blocked by the user")
	var sf *ErrSendFailed
	if err := tr.Send(context.Background(), Destination{ChatID: 99}, samplePayload()); !errors.As(err, &sf) {
		t.Errorf("err = %v, want *ErrSendFailed", err)
	}
}

func TestFanout(t *testing.T) {
	a := &recordingTransport{}
	b := &recordingTransport{err: errors.New("down")}
	err := Fanout{a, b}.Send(context.Background(), Destination{Moniker: "x"}, samplePayload())
	if err == nil {
		t.Error("expected joined error")
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Error("every transport should be tried")
	}
}

func TestRateLimited(t *testing.T) {
	inner := &recordingTransport{}
	tr := RateLimited(inner, time.Hour, 1)

	ctx := context.Background()
	if err := tr.Send(ctx, Destination{}, samplePayload()); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := tr.Send(ctx, Destination{}, samplePayload()); err == nil {
		t.Error("second send should be rate limited")
	}
	if len(inner.sent) != 1 {
		t.Errorf("inner sends = %d, want 1", len(inner.sent))
	}
}

func TestPayloadSubject(t *testing.T) {
	p := samplePayload()
	cases := []struct {
		amount, prev, pct int64
		want              string
	}{
		{40000, 50000, -20, "Widget dropped 20%"},
		{60000, 50000, 20, "Widget rose 20%"},
		{0, 50000, -100, "Widget is no longer available"},
		{45000, 0, 100, "Widget is available again"},
	}
	for _, tc := range cases {
		p.Amount, p.PrevAmount, p.PercentDiff = tc.amount, tc.prev, tc.pct
		if got := p.Subject(); got != tc.want {
			t.Errorf("Subject(%d->%d) = %q, want %q", tc.prev, tc.amount, got, tc.want)
		}
	}
	p.Title = ""
	if got := p.Subject(); !strings.HasPrefix(got, "product #3") {
		t.Errorf("untitled subject = %q", got)
	}
}
