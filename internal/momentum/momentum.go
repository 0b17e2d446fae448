// Package momentum derives a short-window rate-of-change from a spot-price
// window. It is a pure function layer: no state, no clocks.
package momentum

import (
	"github.com/mkarlin/updownbot/internal/domain"
)

// Change computes the fractional price change between the oldest and newest
// points of the window, as a signed fraction (0.001 = +0.1%).
//
// The second return value is false when the window holds fewer than two
// points or the oldest price is zero. Callers must treat that as "no
// opinion", never as "flat": a zero here would make a silent market look
// like a confirmation that nothing moved.
func Change(w domain.PriceWindow) (float64, bool) {
	if len(w) < 2 {
		return 0, false
	}
	oldest := w[0]
	newest := w[len(w)-1]
	if oldest.Price == 0 {
		return 0, false
	}
	return (newest.Price - oldest.Price) / oldest.Price, true
}

