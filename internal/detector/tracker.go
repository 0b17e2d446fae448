package detector

import (
	"sync"
	"time"
)

// probPoint records an implied-probability observation at a point in time.
type probPoint struct {
	prob float64
	time time.Time
}

// impliedTracker maintains a sliding window of the market's implied UP
// probability so the misalignment check can compare its movement against
// the spot move over the same lookback.
type impliedTracker struct {
	mu     sync.Mutex
	points []probPoint
	window time.Duration
}

func newImpliedTracker(window time.Duration) *impliedTracker {
	return &impliedTracker{window: window}
}

// observe records a new implied probability and trims points outside the
// window. Observations that do not advance time are dropped.
func (t *impliedTracker) observe(prob float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.points); n > 0 && !ts.After(t.points[n-1].time) {
		return
	}
	t.points = append(t.points, probPoint{prob: prob, time: ts})

	cutoff := ts.Add(-t.window)
	firstKept := 0
	for firstKept < len(t.points) && t.points[firstKept].time.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		t.points = append(t.points[:0], t.points[firstKept:]...)
	}
}

// change returns the implied-probability move across the window (newest
// minus oldest, in probability points). False with fewer than two points.
func (t *impliedTracker) change() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.points) < 2 {
		return 0, false
	}
	return t.points[len(t.points)-1].prob - t.points[0].prob, true
}
