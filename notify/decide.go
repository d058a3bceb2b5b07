// Package notify decides which subscribers hear about a price change and
// delivers the alerts through a Transport.
package notify

import (
	"time"

	"github.com/hazyhaar/pricesnitch/store"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonNotify          Reason = "notify"
	ReasonNoPrice         Reason = "no_price"
	ReasonAlreadyNotified Reason = "already_notified"
	ReasonBelowThreshold  Reason = "below_threshold"
	ReasonCooldown        Reason = "cooldown"
)

// Decision is the outcome of evaluating one (change, subscription) pair.
type Decision struct {
	Notify bool
	Reason Reason
}

// Decide reports whether the subscriber behind cur should be alerted about
// change at time now. Checks run in order: the dedup cursor, the thresholds,
// then the cooldown. A nil threshold can never be crossed. The cooldown wins
// over a qualifying move.
func Decide(change *store.PriceChange, cur *store.SubscriptionCursor, now time.Time) Decision {
	if change.Amount < 0 {
		return Decision{Reason: ReasonNoPrice}
	}
	if change.ID <= cur.PriceChangeID {
		return Decision{Reason: ReasonAlreadyNotified}
	}
	if !crosses(change.PercentDiff, cur.NotifyIncreasePercent, cur.NotifyDecreasePercent) {
		return Decision{Reason: ReasonBelowThreshold}
	}
	if cd := cur.MaxFrequency.Cooldown(); cd > 0 && cur.LastNotifiedAt != nil && now.Sub(*cur.LastNotifiedAt) < cd {
		return Decision{Reason: ReasonCooldown}
	}
	return Decision{Notify: true, Reason: ReasonNotify}
}

func crosses(percent int64, increase, decrease *int64) bool {
	if decrease != nil && percent <= -*decrease {
		return true
	}
	if increase != nil && percent >= *increase {
		return true
	}
	return false
}
