// Package marketstate holds the process-wide mutable market picture: the
// latest orderbook from the venue feed and the spot-price window from the
// reference feed. Each feed writes only its own sub-field; readers only ever
// see immutable, atomically-published snapshots, so the two independent
// writers never serialize against each other and a reader can never observe
// a half-applied update.
package marketstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkarlin/updownbot/internal/domain"
	"github.com/mkarlin/updownbot/internal/momentum"
)

// Config holds the tunables for snapshot freshness and the price window.
type Config struct {
	// MaxAge disqualifies a sub-feed whose last update is older.
	MaxAge time.Duration
	// Lookback bounds the spot-price window.
	Lookback time.Duration
	// Capacity is the ring buffer size for price points. Zero means a
	// default sized for one point per 100ms over the lookback.
	Capacity int
}

// State is the concurrently-read, single-writer-per-field market store for
// one market. Writers call ApplyBookUpdate / ApplyPriceTick / roll methods;
// everyone else calls Snapshot.
type State struct {
	cfg Config

	// published is the copy-on-publish snapshot pointer. Every mutation
	// rebuilds the snapshot and swaps it in atomically.
	published atomic.Pointer[domain.MarketSnapshot]

	// mu serializes snapshot re-publication, not reads. The two feed
	// writers mutate disjoint fields but both rebuild the shared snapshot.
	mu sync.Mutex

	marketID string
	book     domain.OrderBookSnapshot
	bookAt   time.Time
	bookOK   bool

	ring     []domain.PricePoint
	head     int // next write position
	count    int
	priceAt  time.Time
	priceOK  bool

	intervalStart float64

	version uint64

	// subscribers receive a notification (not the snapshot itself) after
	// each publication; they re-read via Snapshot. Non-blocking sends keep
	// slow consumers from stalling a feed writer.
	subMu sync.Mutex
	subs  []chan struct{}
}

// New creates a State for one market.
func New(marketID string, cfg Config) *State {
	if cfg.Capacity <= 0 {
		cfg.Capacity = int(cfg.Lookback/(100*time.Millisecond)) + 1
		if cfg.Capacity < 64 {
			cfg.Capacity = 64
		}
	}
	s := &State{
		cfg:      cfg,
		marketID: marketID,
		ring:     make([]domain.PricePoint, cfg.Capacity),
	}
	s.publishLocked(time.Now())
	return s
}

// MarketID returns the market this state currently tracks.
func (s *State) MarketID() string {
	return s.published.Load().MarketID
}

// Roll switches the state to the next interval market. The book resets and
// goes stale until the new subscription delivers; the spot window carries
// over because the reference price is market-independent. The interval start
// price seeds the oracle-mismatch check for the new interval.
func (s *State) Roll(marketID string, intervalStart float64) {
	s.mu.Lock()
	s.marketID = marketID
	s.book = domain.OrderBookSnapshot{}
	s.bookAt = time.Time{}
	s.bookOK = false
	s.intervalStart = intervalStart
	s.publishLocked(time.Now())
	s.mu.Unlock()
	s.wake()
}

// ApplyBookUpdate installs a new orderbook snapshot. Only the book feed
// calls this. Snapshots that fail the ladder ordering invariant are
// rejected.
func (s *State) ApplyBookUpdate(book domain.OrderBookSnapshot) error {
	if err := book.Validate(); err != nil {
		return err
	}
	now := time.Now()
	s.mu.Lock()
	s.book = book
	s.bookAt = now
	s.bookOK = true
	s.publishLocked(now)
	s.mu.Unlock()
	s.wake()
	return nil
}

// ApplyPriceTick appends a spot observation to the window. Only the spot
// feed calls this. Ticks with timestamps at or before the newest point are
// dropped, keeping the window strictly increasing with no duplicates.
func (s *State) ApplyPriceTick(p domain.PricePoint) {
	now := time.Now()
	s.mu.Lock()
	if s.count > 0 {
		newest := s.ring[(s.head-1+len(s.ring))%len(s.ring)]
		if !p.Time.After(newest.Time) {
			s.mu.Unlock()
			return
		}
	}
	s.ring[s.head] = p
	s.head = (s.head + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	s.priceAt = now
	s.priceOK = true
	s.publishLocked(now)
	s.mu.Unlock()
	s.wake()
}

// SetIntervalStart records the spot price at the roll of the current
// interval market. The detector needs it for the oracle-mismatch check.
func (s *State) SetIntervalStart(price float64) {
	s.mu.Lock()
	s.intervalStart = price
	s.publishLocked(time.Now())
	s.mu.Unlock()
	s.wake()
}

// MarkBookStale flags the book feed as down (reconnect in progress). The
// next snapshot reports Fresh=false immediately instead of waiting for the
// max-age window to lapse.
func (s *State) MarkBookStale() {
	s.mu.Lock()
	s.bookOK = false
	s.publishLocked(time.Now())
	s.mu.Unlock()
	s.wake()
}

// MarkPriceStale flags the spot feed as down.
func (s *State) MarkPriceStale() {
	s.mu.Lock()
	s.priceOK = false
	s.publishLocked(time.Now())
	s.mu.Unlock()
	s.wake()
}

// Snapshot returns the current immutable snapshot. The freshness flag is
// recomputed against the caller's clock so a snapshot that was fresh at
// publication correctly reads stale once the max age lapses with no new
// updates.
func (s *State) Snapshot() (domain.MarketSnapshot, bool) {
	snap := *s.published.Load()
	snap.Fresh = s.freshAt(snap, time.Now())
	return snap, snap.Fresh
}

// Updates returns a channel that receives a signal after every snapshot
// publication. The channel has a buffer of one; coalescing is intentional,
// consumers re-read the latest snapshot rather than processing a backlog.
func (s *State) Updates() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

// freshAt applies the staleness rule: both sub-feeds must be up and have
// produced an update within MaxAge of now.
func (s *State) freshAt(snap domain.MarketSnapshot, now time.Time) bool {
	if snap.BookAt.IsZero() || snap.PriceAt.IsZero() {
		return false
	}
	if now.Sub(snap.BookAt) > s.cfg.MaxAge || now.Sub(snap.PriceAt) > s.cfg.MaxAge {
		return false
	}
	return true
}

// publishLocked rebuilds and swaps in the snapshot. Caller holds mu.
func (s *State) publishLocked(now time.Time) {
	s.version++

	window := s.windowLocked(now)
	mom, momOK := momentum.Change(window)

	snap := &domain.MarketSnapshot{
		MarketID:           s.marketID,
		Book:               s.book,
		Prices:             window,
		Momentum:           mom,
		MomentumOK:         momOK,
		IntervalStartPrice: s.intervalStart,
		Version:            s.version,
	}
	if s.bookOK {
		snap.BookAt = s.bookAt
	}
	if s.priceOK {
		snap.PriceAt = s.priceAt
	}
	snap.Fresh = s.freshAt(*snap, now)
	s.published.Store(snap)
}

// windowLocked copies the ring contents inside the lookback into a fresh,
// time-ordered slice. Caller holds mu.
func (s *State) windowLocked(now time.Time) domain.PriceWindow {
	if s.count == 0 {
		return nil
	}
	cutoff := now.Add(-s.cfg.Lookback)
	out := make(domain.PriceWindow, 0, s.count)
	start := (s.head - s.count + len(s.ring)) % len(s.ring)
	for i := 0; i < s.count; i++ {
		p := s.ring[(start+i)%len(s.ring)]
		if p.Time.Before(cutoff) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *State) wake() {
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subMu.Unlock()
}
