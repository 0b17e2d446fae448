package marketstate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkarlin/updownbot/internal/domain"
)

func testConfig() Config {
	return Config{
		MaxAge:   2 * time.Second,
		Lookback: 5 * time.Second,
	}
}

func validBook() domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		MarketID: "mkt-1",
		Up: domain.BookSide{
			Bids: []domain.PriceLevel{{Price: 0.52, Size: 100}, {Price: 0.51, Size: 50}},
			Asks: []domain.PriceLevel{{Price: 0.54, Size: 100}, {Price: 0.55, Size: 50}},
		},
		Down: domain.BookSide{
			Bids: []domain.PriceLevel{{Price: 0.45, Size: 100}},
			Asks: []domain.PriceLevel{{Price: 0.47, Size: 100}},
		},
		Timestamp: time.Now(),
	}
}

func TestSnapshotStaleUntilBothFeedsReport(t *testing.T) {
	s := New("mkt-1", testConfig())

	_, fresh := s.Snapshot()
	require.False(t, fresh)

	require.NoError(t, s.ApplyBookUpdate(validBook()))
	_, fresh = s.Snapshot()
	require.False(t, fresh, "book alone must not make the snapshot fresh")

	s.ApplyPriceTick(domain.PricePoint{Price: 100000, Time: time.Now()})
	snap, fresh := s.Snapshot()
	require.True(t, fresh)
	require.Equal(t, "mkt-1", snap.MarketID)
}

func TestApplyBookUpdateRejectsBrokenLadder(t *testing.T) {
	s := New("mkt-1", testConfig())

	book := validBook()
	book.Up.Bids = []domain.PriceLevel{{Price: 0.50, Size: 10}, {Price: 0.52, Size: 10}}
	require.Error(t, s.ApplyBookUpdate(book))

	// The rejected update must not have been published.
	snap, _ := s.Snapshot()
	require.Empty(t, snap.Book.Up.Bids)
}

func TestMarkStaleTakesEffectImmediately(t *testing.T) {
	s := New("mkt-1", testConfig())
	require.NoError(t, s.ApplyBookUpdate(validBook()))
	s.ApplyPriceTick(domain.PricePoint{Price: 100000, Time: time.Now()})

	_, fresh := s.Snapshot()
	require.True(t, fresh)

	s.MarkBookStale()
	_, fresh = s.Snapshot()
	require.False(t, fresh)
}

func TestPriceTicksMustAdvanceInTime(t *testing.T) {
	s := New("mkt-1", testConfig())
	now := time.Now()

	s.ApplyPriceTick(domain.PricePoint{Price: 100, Time: now})
	s.ApplyPriceTick(domain.PricePoint{Price: 200, Time: now})                        // duplicate ts, dropped
	s.ApplyPriceTick(domain.PricePoint{Price: 300, Time: now.Add(-time.Millisecond)}) // older, dropped
	s.ApplyPriceTick(domain.PricePoint{Price: 400, Time: now.Add(time.Millisecond)})

	snap, _ := s.Snapshot()
	require.Len(t, snap.Prices, 2)
	require.Equal(t, 100.0, snap.Prices[0].Price)
	require.Equal(t, 400.0, snap.Prices[1].Price)
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 4
	s := New("mkt-1", cfg)
	now := time.Now()

	for i := 0; i < 6; i++ {
		s.ApplyPriceTick(domain.PricePoint{
			Price: float64(i),
			Time:  now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	snap, _ := s.Snapshot()
	require.Len(t, snap.Prices, 4)
	require.Equal(t, 2.0, snap.Prices[0].Price)
	require.Equal(t, 5.0, snap.Prices[3].Price)
}

func TestWindowDropsPointsOutsideLookback(t *testing.T) {
	s := New("mkt-1", testConfig())
	now := time.Now()

	s.ApplyPriceTick(domain.PricePoint{Price: 1, Time: now.Add(-time.Minute)})
	s.ApplyPriceTick(domain.PricePoint{Price: 2, Time: now})

	snap, _ := s.Snapshot()
	require.Len(t, snap.Prices, 1)
	require.Equal(t, 2.0, snap.Prices[0].Price)
}

func TestVersionIncreasesWithEveryPublication(t *testing.T) {
	s := New("mkt-1", testConfig())

	first, _ := s.Snapshot()
	require.NoError(t, s.ApplyBookUpdate(validBook()))
	second, _ := s.Snapshot()
	s.ApplyPriceTick(domain.PricePoint{Price: 100, Time: time.Now()})
	third, _ := s.Snapshot()

	require.Greater(t, second.Version, first.Version)
	require.Greater(t, third.Version, second.Version)
}

func TestRollResetsBookKeepsPrices(t *testing.T) {
	s := New("mkt-1", testConfig())
	require.NoError(t, s.ApplyBookUpdate(validBook()))
	s.ApplyPriceTick(domain.PricePoint{Price: 100000, Time: time.Now()})

	s.Roll("mkt-2", 100123.0)

	require.Equal(t, "mkt-2", s.MarketID())
	snap, fresh := s.Snapshot()
	require.False(t, fresh, "book is stale until the new subscription delivers")
	require.Empty(t, snap.Book.Up.Bids)
	require.Len(t, snap.Prices, 1, "spot window carries across the roll")
	require.Equal(t, 100123.0, snap.IntervalStartPrice)
}

func TestUpdatesSignalCoalesces(t *testing.T) {
	s := New("mkt-1", testConfig())
	ch := s.Updates()

	for i := 0; i < 5; i++ {
		s.ApplyPriceTick(domain.PricePoint{
			Price: float64(i + 1),
			Time:  time.Now().Add(time.Duration(i) * time.Millisecond),
		})
	}

	// Buffer of one: at most a single pending signal regardless of burst size.
	select {
	case <-ch:
	default:
		t.Fatal("expected a pending update signal")
	}
	select {
	case <-ch:
		t.Fatal("signals must coalesce, got a second one")
	default:
	}
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	s := New("mkt-1", testConfig())
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = s.ApplyBookUpdate(validBook())
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		base := time.Now()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.ApplyPriceTick(domain.PricePoint{Price: float64(i), Time: base.Add(time.Duration(i) * time.Microsecond)})
		}
	}()

	deadline := time.Now().Add(50 * time.Millisecond)
	var last uint64
	for time.Now().Before(deadline) {
		snap, _ := s.Snapshot()
		require.GreaterOrEqual(t, snap.Version, last)
		last = snap.Version
	}
	close(stop)
	wg.Wait()
}
