package domain

import "time"

// PricePoint is a single spot-price observation from the reference feed.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// PriceWindow is an immutable, time-ordered slice of spot observations
// bounded by the configured lookback. Timestamps are strictly increasing;
// the writer (MarketState) drops duplicates and out-of-order points before
// publishing.
type PriceWindow []PricePoint

// Oldest returns the first point of the window, or false if empty.
func (w PriceWindow) Oldest() (PricePoint, bool) {
	if len(w) == 0 {
		return PricePoint{}, false
	}
	return w[0], true
}

// Newest returns the last point of the window, or false if empty.
func (w PriceWindow) Newest() (PricePoint, bool) {
	if len(w) == 0 {
		return PricePoint{}, false
	}
	return w[len(w)-1], true
}

// Span returns the wall-clock distance between the oldest and newest points.
func (w PriceWindow) Span() time.Duration {
	if len(w) < 2 {
		return 0
	}
	return w[len(w)-1].Time.Sub(w[0].Time)
}
