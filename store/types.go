package store

import "time"

// Frequency bounds how often one subscriber is alerted about one product.
type Frequency string

const (
	FrequencyNone    Frequency = ""
	FrequencyBidaily Frequency = "bidaily"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
)

// Cooldown returns the minimum delay between two notifications. Bidaily means
// twice a day.
func (f Frequency) Cooldown() time.Duration {
	switch f {
	case FrequencyBidaily:
		return 12 * time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyNone, FrequencyBidaily, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// Shop is the scraping configuration shared by all products of one site.
type Shop struct {
	ID                 int64
	Name               string
	PriceLocators      []string
	UnavailableLocator string
	UnavailableText    string
	LocateTimeout      time.Duration
	LocateRetries      int
	Currency           string
	ThousandSeparator  string
	DecimalSeparator   string
	RemoveChars        string
	Cron               string // default schedule for the shop's products
	CreatedAt          time.Time
}

// Product is a page to monitor. The URL is its identity.
type Product struct {
	ID           int64
	ShopID       int64
	URL          string
	Title        string
	PriceLocator string // overrides the shop locators when set
	Cron         string // overrides the shop schedule when set
	CreatedAt    time.Time
}

// User is a subscriber. Moniker doubles as the notification destination.
type User struct {
	ID        int64
	Moniker   string
	ChatID    int64 // telegram chat, 0 when unused
	CreatedAt time.Time
}

// Subscription ties a user to a product with alert thresholds.
// A nil threshold is unreachable.
type Subscription struct {
	ID                    int64
	UserID                int64
	ProductID             int64
	NotifyIncreasePercent *int64
	NotifyDecreasePercent *int64
	MaxFrequency          Frequency
	Note                  string
	CreatedAt             time.Time
}

// PriceChange is one append-only ledger row.
type PriceChange struct {
	ID          int64
	ProductID   int64
	ShopID      int64
	Amount      int64
	PrevAmount  int64
	AmountDiff  int64
	PercentDiff int64
	CreatedAt   time.Time
}

// NotificationVersion is the payload version stamped on every notification.
const NotificationVersion = "1.0"

// Notification records that a user was alerted about a price change.
type Notification struct {
	ID            int64
	UserID        int64
	PriceChangeID int64
	ProductID     int64
	ShopID        int64
	Version       string
	CreatedAt     time.Time
}

// SubscriptionCursor is a subscription joined with the most recent
// notification sent for its (user, product) pair. PriceChangeID is 0 and
// LastNotifiedAt is nil when the user was never notified.
type SubscriptionCursor struct {
	Subscription
	Moniker        string
	ChatID         int64
	PriceChangeID  int64
	LastNotifiedAt *time.Time
}
