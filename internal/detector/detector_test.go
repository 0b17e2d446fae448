package detector

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlin/updownbot/internal/domain"
	"github.com/mkarlin/updownbot/internal/marketstate"
)

func testConfig() Config {
	return Config{
		Theta:               0.04,
		SpotMoveMin:         0.001,
		LagRatio:            0.5,
		OracleDiscountBound: 0.85,
		TakerFee:            0.015,
		MaxOpportunityAge:   250 * time.Millisecond,
		MomentumWindow:      5 * time.Second,
		ScanInterval:        10 * time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestState(t *testing.T) *marketstate.State {
	t.Helper()
	return marketstate.New("btc-updown-15m-1700000000", marketstate.Config{
		MaxAge:   2 * time.Second,
		Lookback: 5 * time.Second,
	})
}

func book(askUp, askDown, bidUp, bidDown float64) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		MarketID: "btc-updown-15m-1700000000",
		Up: domain.BookSide{
			Bids: []domain.PriceLevel{{Price: bidUp, Size: 100}},
			Asks: []domain.PriceLevel{{Price: askUp, Size: 100}},
		},
		Down: domain.BookSide{
			Bids: []domain.PriceLevel{{Price: bidDown, Size: 100}},
			Asks: []domain.PriceLevel{{Price: askDown, Size: 100}},
		},
		Timestamp: time.Now(),
	}
}

func feedBoth(t *testing.T, st *marketstate.State, b domain.OrderBookSnapshot) {
	t.Helper()
	require.NoError(t, st.ApplyBookUpdate(b))
	st.ApplyPriceTick(domain.PricePoint{Price: 65000, Time: time.Now()})
}

func TestScanNoOpportunityBelowThreshold(t *testing.T) {
	st := newTestState(t)
	// Asks sum to 0.97: edge 0.03, under theta 0.04.
	feedBoth(t, st, book(0.47, 0.50, 0.45, 0.48))

	d := New(testConfig(), st, nil, nil, nil, testLogger())
	assert.Empty(t, d.Scan(context.Background()))
}

func TestScanSumToOneLong(t *testing.T) {
	st := newTestState(t)
	// Asks sum to 0.95: buying both locks in 0.05 per contract pair.
	feedBoth(t, st, book(0.47, 0.48, 0.45, 0.46))

	d := New(testConfig(), st, nil, nil, nil, testLogger())
	found := d.Scan(context.Background())

	require.Len(t, found, 1)
	opp := found[0]
	assert.Equal(t, domain.KindSumToOneLong, opp.Kind)
	assert.InDelta(t, 0.05, opp.Edge, 1e-9)
	assert.Equal(t, domain.ConfidenceHigh, opp.Confidence)
	assert.NotEmpty(t, opp.ID)
	assert.Equal(t, opp.DetectedAt.Add(250*time.Millisecond), opp.Deadline)
	assert.Equal(t, opp.Snapshot.Version, opp.SnapshotVersion)
}

func TestScanSumToOneShort(t *testing.T) {
	st := newTestState(t)
	// Bids sum to 1.05: selling both locks in 0.05.
	feedBoth(t, st, book(0.55, 0.54, 0.53, 0.52))

	d := New(testConfig(), st, nil, nil, nil, testLogger())
	found := d.Scan(context.Background())

	require.Len(t, found, 1)
	assert.Equal(t, domain.KindSumToOneShort, found[0].Kind)
	assert.InDelta(t, 0.05, found[0].Edge, 1e-9)
}

func TestScanRejectsStaleSnapshot(t *testing.T) {
	st := newTestState(t)
	// Book only; the spot feed never produced a tick, so the snapshot is
	// stale and the scan must come up empty even with a clear violation.
	require.NoError(t, st.ApplyBookUpdate(book(0.40, 0.40, 0.38, 0.38)))

	d := New(testConfig(), st, nil, nil, nil, testLogger())
	assert.Empty(t, d.Scan(context.Background()))
}

func TestScanDedupSameSnapshotVersion(t *testing.T) {
	st := newTestState(t)
	feedBoth(t, st, book(0.47, 0.48, 0.45, 0.46))

	d := New(testConfig(), st, nil, nil, nil, testLogger())
	require.Len(t, d.Scan(context.Background()), 1)
	// Nothing changed: same snapshot version must not fire again.
	assert.Empty(t, d.Scan(context.Background()))

	// A new publication re-arms the kind.
	feedBoth(t, st, book(0.47, 0.48, 0.45, 0.46))
	assert.Len(t, d.Scan(context.Background()), 1)
}

func TestScanOracleMismatch(t *testing.T) {
	st := newTestState(t)
	st.SetIntervalStart(64000)
	// Spot above interval start favors UP, whose ask 0.80 is below the 0.85
	// discount bound. Ask sum is 1.05 so sum-to-one stays quiet.
	feedBoth(t, st, book(0.80, 0.25, 0.20, 0.15))

	d := New(testConfig(), st, nil, nil, nil, testLogger())
	found := d.Scan(context.Background())

	require.Len(t, found, 1)
	opp := found[0]
	assert.Equal(t, domain.KindOracleMismatch, opp.Kind)
	assert.Equal(t, domain.TokenSideUp, opp.Side)
	assert.InDelta(t, 0.20, opp.Edge, 1e-9)
	assert.Equal(t, domain.ConfidenceMedium, opp.Confidence)
}

func TestScanMomentumMisaligned(t *testing.T) {
	st := newTestState(t)
	// No sum-to-one or oracle setup; mid implied probability stays put.
	require.NoError(t, st.ApplyBookUpdate(book(0.52, 0.52, 0.48, 0.48)))

	d := New(testConfig(), st, nil, nil, nil, testLogger())

	// Warm the implied tracker with a first observation (scan is empty, the
	// spot feed has not ticked yet).
	assert.Empty(t, d.Scan(context.Background()))

	base := time.Now()
	st.ApplyPriceTick(domain.PricePoint{Price: 65000, Time: base})
	st.ApplyPriceTick(domain.PricePoint{Price: 65130, Time: base.Add(time.Second)}) // +0.2%
	require.NoError(t, st.ApplyBookUpdate(book(0.52, 0.52, 0.48, 0.48)))

	found := d.Scan(context.Background())
	require.Len(t, found, 1)
	opp := found[0]
	assert.Equal(t, domain.KindMomentumMisaligned, opp.Kind)
	assert.Equal(t, domain.TokenSideUp, opp.Side)
	assert.Equal(t, domain.ConfidenceLow, opp.Confidence)
	assert.InDelta(t, 0.055, opp.Edge, 1e-9)
}

func TestScanSumToOneOutranksDirectional(t *testing.T) {
	st := newTestState(t)
	st.SetIntervalStart(64000)
	// UP ask 0.40 + DOWN ask 0.55 = 0.95: sum-to-one long, edge 0.05.
	// Spot above start favors UP at ask 0.40 < 0.85: oracle mismatch, edge
	// 0.60. The risk-free kind must still come first.
	feedBoth(t, st, book(0.40, 0.55, 0.38, 0.53))

	d := New(testConfig(), st, nil, nil, nil, testLogger())
	found := d.Scan(context.Background())

	require.Len(t, found, 2)
	assert.Equal(t, domain.KindSumToOneLong, found[0].Kind)
	assert.Equal(t, domain.KindOracleMismatch, found[1].Kind)
}

func TestSumToOneLongProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	cfg := testConfig()

	properties.Property("long fires exactly when asks sum below 1-theta", prop.ForAll(
		func(askUp, askDown float64) bool {
			st := marketstate.New("btc-updown-15m-1700000000", marketstate.Config{
				MaxAge:   2 * time.Second,
				Lookback: 5 * time.Second,
			})
			b := book(askUp, askDown, askUp*0.9, askDown*0.9)
			if err := st.ApplyBookUpdate(b); err != nil {
				return false
			}
			st.ApplyPriceTick(domain.PricePoint{Price: 65000, Time: time.Now()})

			d := New(cfg, st, nil, nil, nil, testLogger())
			found := d.Scan(context.Background())

			var long *domain.ArbitrageOpportunity
			for i := range found {
				if found[i].Kind == domain.KindSumToOneLong {
					long = &found[i]
				}
			}

			edge := 1 - (askUp + askDown)
			if edge >= cfg.Theta {
				return long != nil && long.Edge == edge
			}
			return long == nil
		},
		gen.Float64Range(0.01, 0.99),
		gen.Float64Range(0.01, 0.99),
	))

	properties.TestingRun(t)
}
