package domain

import "time"

// MarketSnapshot is an immutable, atomically-published pairing of the latest
// orderbook and the current spot-price window, plus the derived momentum.
// It is the only view the detector and sizer ever read; they never touch the
// live mutable state, so a snapshot can never show a half-applied update.
//
// The two sub-feeds are independent venues: BookAt and PriceAt may differ by
// up to the configured max age. Fresh is false when either side is older
// than that, in which case downstream components must treat the opportunity
// space as empty.
type MarketSnapshot struct {
	MarketID string

	Book   OrderBookSnapshot
	Prices PriceWindow

	// Momentum is the fractional spot change across the window. MomentumOK
	// is false when fewer than two points were available; callers must treat
	// that as "no opinion", not as zero.
	Momentum   float64
	MomentumOK bool

	// IntervalStartPrice is the spot price recorded when the current
	// interval market opened. Zero until the first roll is observed.
	IntervalStartPrice float64

	BookAt  time.Time
	PriceAt time.Time
	Fresh   bool

	// Version increments on every publication. Two snapshots with the same
	// version are identical; the detector uses this for dedup.
	Version uint64
}
