package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/hazyhaar/pricesnitch/pricing"
	"github.com/hazyhaar/pricesnitch/store"
)

// Destination identifies who receives an alert. Transports pick the field
// they address: ntfy topics and webhooks use Moniker, Telegram uses ChatID.
type Destination struct {
	UserID  int64  `json:"user_id"`
	Moniker string `json:"moniker"`
	ChatID  int64  `json:"-"`
}

// Payload is the alert body. Amounts are in minor units.
type Payload struct {
	Version       string    `json:"version"`
	PriceChangeID int64     `json:"price_change_id"`
	ProductID     int64     `json:"product_id"`
	ShopID        int64     `json:"shop_id"`
	Title         string    `json:"title,omitempty"`
	URL           string    `json:"url,omitempty"`
	Amount        int64     `json:"amount"`
	PrevAmount    int64     `json:"prev_amount"`
	AmountDiff    int64     `json:"amount_diff"`
	PercentDiff   int64     `json:"percent_diff"`
	Note          string    `json:"note,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

var strict = bluemonday.StrictPolicy()

// NewPayload builds the alert for change. product may be nil when it could
// not be loaded. Free-text fields are stripped of markup.
func NewPayload(change *store.PriceChange, product *store.Product, note string) Payload {
	p := Payload{
		Version:       store.NotificationVersion,
		PriceChangeID: change.ID,
		ProductID:     change.ProductID,
		ShopID:        change.ShopID,
		Amount:        change.Amount,
		PrevAmount:    change.PrevAmount,
		AmountDiff:    change.AmountDiff,
		PercentDiff:   change.PercentDiff,
		Note:          strict.Sanitize(note),
		ChangedAt:     change.CreatedAt,
	}
	if product != nil {
		p.Title = strict.Sanitize(product.Title)
		p.URL = product.URL
	}
	return p
}

// Subject is a one-line summary, safe to use as a header value.
func (p Payload) Subject() string {
	name := oneLine(p.Title)
	if name == "" {
		name = fmt.Sprintf("product #%d", p.ProductID)
	}
	switch {
	case p.Amount == pricing.Unavailable:
		return name + " is no longer available"
	case p.PrevAmount == pricing.Unavailable:
		return name + " is available again"
	case p.PercentDiff < 0:
		return fmt.Sprintf("%s dropped %d%%", name, -p.PercentDiff)
	default:
		return fmt.Sprintf("%s rose %d%%", name, p.PercentDiff)
	}
}

// Text is the plain-text alert body.
func (p Payload) Text() string {
	s := fmt.Sprintf("%s\n%s -> %s", p.Subject(), formatAmount(p.PrevAmount), formatAmount(p.Amount))
	if p.URL != "" {
		s += "\n" + p.URL
	}
	if p.Note != "" {
		s += "\n" + p.Note
	}
	return s
}

// oneLine turns control characters into spaces and collapses whitespace runs.
func oneLine(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func formatAmount(a int64) string {
	if a == pricing.Unavailable {
		return "unavailable"
	}
	return decimal.New(a, -pricing.MinorUnits).StringFixed(pricing.MinorUnits)
}
