package sizer

import (
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
)

func testConfig() Config {
	return Config{
		Theta:       0.04,
		MaxSlippage: 0.025,
		TakerFee:    0.015,
		MaxPosition: 3.0,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubRisk is a canned RiskView.
type stubRisk struct {
	canTrade bool
	headroom float64
}

func (s stubRisk) CanTrade() bool         { return s.canTrade }
func (s stubRisk) Headroom() float64      { return s.headroom }
func (s stubRisk) State() domain.RiskState { return domain.RiskState{} }

func freshOpp(kind domain.OpportunityKind, edge float64, side domain.TokenSide, book domain.OrderBookSnapshot) domain.ArbitrageOpportunity {
	now := time.Now()
	return domain.ArbitrageOpportunity{
		ID:       "opp-1",
		MarketID: "btc-updown-15m-1700000000",
		Kind:     kind,
		Edge:     edge,
		Side:     side,
		Snapshot: domain.MarketSnapshot{
			MarketID: "btc-updown-15m-1700000000",
			Book:     book,
			Fresh:    true,
			Version:  1,
		},
		SnapshotVersion: 1,
		DetectedAt:      now,
		Deadline:        now.Add(time.Second),
	}
}

func ladder(levels ...domain.PriceLevel) []domain.PriceLevel { return levels }

func TestSizeDirectionalDepthWalk(t *testing.T) {
	// Ladder [(0.47, 2), (0.48, 5)] with a $3 cap: the second level would
	// overrun the budget, so only the first is consumed. VWAP stays at the
	// best price and slippage is exactly zero.
	book := domain.OrderBookSnapshot{
		Up: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.47, Size: 2}, domain.PriceLevel{Price: 0.48, Size: 5}),
		},
	}
	opp := freshOpp(domain.KindOracleMismatch, 0.53, domain.TokenSideUp, book)

	s := New(testConfig(), nil, testLogger())
	plan, err := s.Size(opp)
	require.NoError(t, err)

	require.Len(t, plan.Legs, 1)
	leg := plan.Legs[0]
	assert.Equal(t, domain.TokenSideUp, leg.Side)
	assert.Equal(t, domain.OrderSideBuy, leg.Direction)
	assert.InDelta(t, 2.0, leg.Quantity, 1e-9)
	assert.InDelta(t, 0.47, leg.LimitPrice, 1e-9)
	assert.InDelta(t, 0.47, leg.BestPrice, 1e-9)
	assert.InDelta(t, 0.0, plan.Slippage, 1e-9)
	assert.InDelta(t, 0.94, plan.TotalCost, 1e-9)
	assert.InDelta(t, 0.53-0.015, plan.NetEdge, 1e-9)
}

func TestSizeSumToOneLong(t *testing.T) {
	book := domain.OrderBookSnapshot{
		Up: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.45, Size: 2}, domain.PriceLevel{Price: 0.46, Size: 4}),
		},
		Down: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.46, Size: 2}, domain.PriceLevel{Price: 0.47, Size: 4}),
		},
	}
	opp := freshOpp(domain.KindSumToOneLong, 0.09, "", book)

	cfg := testConfig()
	cfg.MaxPosition = 10
	s := New(cfg, nil, testLogger())
	plan, err := s.Size(opp)
	require.NoError(t, err)

	require.True(t, plan.Paired())
	assert.InDelta(t, 6.0, plan.Legs[0].Quantity, 1e-9)
	assert.InDelta(t, 6.0, plan.Legs[1].Quantity, 1e-9)
	assert.InDelta(t, (2*0.45+4*0.46)/6, plan.Legs[0].LimitPrice, 1e-9)
	assert.InDelta(t, (2*0.46+4*0.47)/6, plan.Legs[1].LimitPrice, 1e-9)
	assert.InDelta(t, 0.09, plan.GrossEdge, 1e-9)
	assert.InDelta(t, (2*0.45+4*0.46)/6+(2*0.46+4*0.47)/6-0.91, plan.Slippage, 1e-9)
	assert.GreaterOrEqual(t, plan.NetEdge, cfg.Theta)
	assert.InDelta(t, plan.NetEdge*plan.TotalCost, plan.ExpectedProfit, 1e-9)
}

func TestSizeSumToOneShort(t *testing.T) {
	book := domain.OrderBookSnapshot{
		Up: domain.BookSide{
			Bids: ladder(domain.PriceLevel{Price: 0.55, Size: 2}),
		},
		Down: domain.BookSide{
			Bids: ladder(domain.PriceLevel{Price: 0.52, Size: 2}),
		},
	}
	opp := freshOpp(domain.KindSumToOneShort, 0.07, "", book)

	s := New(testConfig(), nil, testLogger())
	plan, err := s.Size(opp)
	require.NoError(t, err)

	require.True(t, plan.Paired())
	for _, leg := range plan.Legs {
		assert.Equal(t, domain.OrderSideSell, leg.Direction)
		assert.InDelta(t, 2.0, leg.Quantity, 1e-9)
	}
	assert.InDelta(t, 0.07, plan.GrossEdge, 1e-9)
	assert.InDelta(t, 0.0, plan.Slippage, 1e-9)
	assert.InDelta(t, 0.055, plan.NetEdge, 1e-9)
}

func TestSizeMarginalEdgeStop(t *testing.T) {
	// The second level pair prices at 0.99: marginal edge 0.01 is under
	// theta, so the walk stops there even with budget to spare.
	book := domain.OrderBookSnapshot{
		Up: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.45, Size: 2}, domain.PriceLevel{Price: 0.49, Size: 5}),
		},
		Down: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.46, Size: 2}, domain.PriceLevel{Price: 0.50, Size: 5}),
		},
	}
	opp := freshOpp(domain.KindSumToOneLong, 0.09, "", book)

	cfg := testConfig()
	cfg.MaxPosition = 100
	s := New(cfg, nil, testLogger())
	plan, err := s.Size(opp)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, plan.Legs[0].Quantity, 1e-9)
}

func TestSizeRejectsExpired(t *testing.T) {
	opp := freshOpp(domain.KindSumToOneLong, 0.09, "", domain.OrderBookSnapshot{})
	opp.Deadline = time.Now().Add(-time.Millisecond)

	s := New(testConfig(), nil, testLogger())
	_, err := s.Size(opp)
	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectExpired, reason)
}

func TestSizeRejectsStaleSnapshot(t *testing.T) {
	opp := freshOpp(domain.KindSumToOneLong, 0.09, "", domain.OrderBookSnapshot{})
	opp.Snapshot.Fresh = false

	s := New(testConfig(), nil, testLogger())
	_, err := s.Size(opp)
	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectStaleData, reason)
}

func TestSizeRejectsWhenRiskHalted(t *testing.T) {
	opp := freshOpp(domain.KindSumToOneLong, 0.09, "", domain.OrderBookSnapshot{})

	s := New(testConfig(), stubRisk{canTrade: false, headroom: 10}, testLogger())
	_, err := s.Size(opp)
	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectRiskHalted, reason)
}

func TestSizeRejectsWithoutHeadroom(t *testing.T) {
	opp := freshOpp(domain.KindSumToOneLong, 0.09, "", domain.OrderBookSnapshot{})

	s := New(testConfig(), stubRisk{canTrade: true, headroom: 0}, testLogger())
	_, err := s.Size(opp)
	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectNoHeadroom, reason)
}

func TestSizeBudgetCappedByHeadroom(t *testing.T) {
	book := domain.OrderBookSnapshot{
		Up: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.47, Size: 2}, domain.PriceLevel{Price: 0.48, Size: 5}),
		},
	}
	opp := freshOpp(domain.KindOracleMismatch, 0.53, domain.TokenSideUp, book)

	// Headroom $1 admits the first level ($0.94) but not the second.
	s := New(testConfig(), stubRisk{canTrade: true, headroom: 1}, testLogger())
	plan, err := s.Size(opp)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, plan.Legs[0].Quantity, 1e-9)

	// Headroom $0.50 admits nothing.
	s = New(testConfig(), stubRisk{canTrade: true, headroom: 0.5}, testLogger())
	_, err = s.Size(opp)
	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectInsufficientDepth, reason)
}

func TestSizeRejectsSlippage(t *testing.T) {
	book := domain.OrderBookSnapshot{
		Up: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.40, Size: 1}, domain.PriceLevel{Price: 0.60, Size: 10}),
		},
	}
	opp := freshOpp(domain.KindOracleMismatch, 0.60, domain.TokenSideUp, book)

	cfg := testConfig()
	cfg.MaxPosition = 7
	s := New(cfg, nil, testLogger())
	_, err := s.Size(opp)
	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectSlippage, reason)
}

func TestSizeRejectsInsufficientNetEdge(t *testing.T) {
	// Gross edge 0.05 minus the 0.015 fee lands at 0.035, under theta.
	book := domain.OrderBookSnapshot{
		Up: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.47, Size: 2}),
		},
		Down: domain.BookSide{
			Asks: ladder(domain.PriceLevel{Price: 0.48, Size: 2}),
		},
	}
	opp := freshOpp(domain.KindSumToOneLong, 0.05, "", book)

	s := New(testConfig(), nil, testLogger())
	_, err := s.Size(opp)
	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectInsufficientEdge, reason)
}

func TestSizePlanInvariantsProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)

	cfg := testConfig()
	s := New(cfg, nil, testLogger())

	properties.Property("accepted plans clear theta and stay inside the cap", prop.ForAll(
		func(askUp, askDown, sizeA, sizeB float64) bool {
			book := domain.OrderBookSnapshot{
				Up: domain.BookSide{
					Asks: ladder(
						domain.PriceLevel{Price: askUp, Size: sizeA},
						domain.PriceLevel{Price: askUp + 0.01, Size: sizeB},
					),
				},
				Down: domain.BookSide{
					Asks: ladder(
						domain.PriceLevel{Price: askDown, Size: sizeA},
						domain.PriceLevel{Price: askDown + 0.01, Size: sizeB},
					),
				},
			}
			opp := freshOpp(domain.KindSumToOneLong, 1-(askUp+askDown), "", book)

			plan, err := s.Size(opp)
			if err != nil {
				_, isRejection := Reason(err)
				return isRejection
			}
			return plan.NetEdge >= cfg.Theta-1e-12 &&
				plan.TotalCost <= cfg.MaxPosition+1e-9 &&
				plan.Legs[0].Quantity > 0 &&
				plan.Legs[0].Quantity == plan.Legs[1].Quantity
		},
		gen.Float64Range(0.30, 0.60),
		gen.Float64Range(0.30, 0.60),
		gen.Float64Range(0.5, 5),
		gen.Float64Range(0.5, 5),
	))

	properties.TestingRun(t)
}
