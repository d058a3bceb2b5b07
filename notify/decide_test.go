package notify

import (
	"testing"
	"time"

	"github.com/hazyhaar/pricesnitch/store"
)

func i64(n int64) *int64 { return &n }

func cursor(inc, dec *int64, freq store.Frequency, lastID int64, lastAt *time.Time) *store.SubscriptionCursor {
	return &store.SubscriptionCursor{
		Subscription: store.Subscription{
			UserID: 1, ProductID: 1,
			NotifyIncreasePercent: inc, NotifyDecreasePercent: dec,
			MaxFrequency: freq,
		},
		Moniker:        "alice",
		PriceChangeID:  lastID,
		LastNotifiedAt: lastAt,
	}
}

// WHAT: Decreasing 20% past a 10% threshold with an older cursor and no cooldown notifies.
func TestDecideEligibleDrop(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Hour)
	change := &store.PriceChange{ID: 8, ProductID: 1, Amount: 400, PrevAmount: 500, PercentDiff: -20}

	d := Decide(change, cursor(nil, i64(10), store.FrequencyNone, 7, &last), now)
	if !d.Notify || d.Reason != ReasonNotify {
		t.Errorf("decision = %+v, want notify", d)
	}
}

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hourAgo := now.Add(-time.Hour)
	twoDaysAgo := now.Add(-48 * time.Hour)

	cases := []struct {
		name   string
		change store.PriceChange
		cur    *store.SubscriptionCursor
		want   Reason
	}{
		{"never notified", store.PriceChange{Amount: 100, ID: 1, PercentDiff: -15}, cursor(nil, i64(10), "", 0, nil), ReasonNotify},
		{"same change", store.PriceChange{Amount: 100, ID: 8, PercentDiff: -20}, cursor(nil, i64(10), "", 8, &hourAgo), ReasonAlreadyNotified},
		{"older change", store.PriceChange{Amount: 100, ID: 5, PercentDiff: -20}, cursor(nil, i64(10), "", 8, &hourAgo), ReasonAlreadyNotified},
		{"drop at threshold", store.PriceChange{Amount: 100, ID: 9, PercentDiff: -10}, cursor(nil, i64(10), "", 0, nil), ReasonNotify},
		{"drop below threshold", store.PriceChange{Amount: 100, ID: 9, PercentDiff: -9}, cursor(nil, i64(10), "", 0, nil), ReasonBelowThreshold},
		{"rise at threshold", store.PriceChange{Amount: 100, ID: 9, PercentDiff: 5}, cursor(i64(5), nil, "", 0, nil), ReasonNotify},
		{"rise with only decrease set", store.PriceChange{Amount: 100, ID: 9, PercentDiff: 50}, cursor(nil, i64(10), "", 0, nil), ReasonBelowThreshold},
		{"drop with only increase set", store.PriceChange{Amount: 100, ID: 9, PercentDiff: -50}, cursor(i64(10), nil, "", 0, nil), ReasonBelowThreshold},
		{"no thresholds", store.PriceChange{Amount: 100, ID: 9, PercentDiff: 100}, cursor(nil, nil, "", 0, nil), ReasonBelowThreshold},
		{"back from unavailable", store.PriceChange{ID: 9, Amount: 450, PercentDiff: 100}, cursor(i64(30), nil, "", 0, nil), ReasonNotify},
		{"gone unavailable", store.PriceChange{ID: 9, Amount: 0, PrevAmount: 500, PercentDiff: -100}, cursor(nil, i64(50), "", 0, nil), ReasonNotify},
		{"daily cooldown active", store.PriceChange{Amount: 100, ID: 9, PercentDiff: -30}, cursor(nil, i64(10), store.FrequencyDaily, 8, &hourAgo), ReasonCooldown},
		{"daily cooldown elapsed", store.PriceChange{Amount: 100, ID: 9, PercentDiff: -30}, cursor(nil, i64(10), store.FrequencyDaily, 8, &twoDaysAgo), ReasonNotify},
		{"weekly cooldown active", store.PriceChange{Amount: 100, ID: 9, PercentDiff: -30}, cursor(nil, i64(10), store.FrequencyWeekly, 8, &twoDaysAgo), ReasonCooldown},
		{"cooldown without history", store.PriceChange{Amount: 100, ID: 9, PercentDiff: -30}, cursor(nil, i64(10), store.FrequencyWeekly, 0, nil), ReasonNotify},
		{"invalid marker", store.PriceChange{ID: 9, Amount: -1, PercentDiff: -1}, cursor(nil, i64(1), "", 0, nil), ReasonNoPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(&tc.change, tc.cur, now)
			if d.Reason != tc.want || d.Notify != (tc.want == ReasonNotify) {
				t.Errorf("decision = %+v, want %s", d, tc.want)
			}
		})
	}
}

// WHAT: With a daily cooldown, two qualifying changes within 24h yield one alert.
func TestDecideCooldownMonotonic(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cur := cursor(nil, i64(5), store.FrequencyDaily, 0, nil)

	notified := 0
	for i, offset := range []time.Duration{0, 6 * time.Hour, 23*time.Hour + 59*time.Minute} {
		now := start.Add(offset)
		change := &store.PriceChange{ID: int64(i + 1), Amount: 100, PercentDiff: -10}
		if Decide(change, cur, now).Notify {
			notified++
			cur.PriceChangeID = change.ID
			cur.LastNotifiedAt = &now
		}
	}
	if notified != 1 {
		t.Errorf("notifications within 24h = %d, want 1", notified)
	}

	later := start.Add(24 * time.Hour)
	if !Decide(&store.PriceChange{ID: 10, Amount: 100, PercentDiff: -10}, cur, later).Notify {
		t.Error("change after the cooldown should notify")
	}
}
