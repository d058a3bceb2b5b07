package pricing

// Sentinel amounts share the numeric channel with real prices.
const (
	// Unavailable marks a product the shop reports as currently unavailable.
	Unavailable int64 = 0
	// Invalid marks a product whose price and availability could not be read.
	Invalid int64 = -1
)

// AmountDiff is the signed difference between the new and previous amount.
func AmountDiff(prev, amount int64) int64 {
	return amount - prev
}

// PercentDiff returns the integer percentage change from prev to amount,
// rounded up (ceil). A zero previous amount returns +100 so a product coming
// back from unavailable crosses any increase threshold; a drop to zero goes
// through the normal formula and yields -100.
func PercentDiff(prev, amount int64) int64 {
	if prev == 0 {
		return 100
	}
	return ceilDiv((amount-prev)*100, prev)
}

func ceilDiv(n, d int64) int64 {
	q := n / d
	if n%d != 0 && (n > 0) == (d > 0) {
		q++
	}
	return q
}
