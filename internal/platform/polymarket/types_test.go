package polymarket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkarlin/updownbot/internal/domain"
)

func TestIntervalMarketID(t *testing.T) {
	// 2026-08-23 12:07:30 UTC truncates to 12:00:00.
	at := time.Date(2026, 8, 23, 12, 7, 30, 0, time.UTC)
	start := IntervalStart(at)

	require.Equal(t, time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC), start)
	require.Equal(t, "btc-updown-15m-1787486400", IntervalMarketID("btc-updown-15m", at))

	// Every instant inside the interval maps to the same slug.
	require.Equal(t,
		IntervalMarketID("btc-updown-15m", start),
		IntervalMarketID("btc-updown-15m", start.Add(IntervalLength-time.Nanosecond)),
	)
}

func TestBookToSideSortsLadders(t *testing.T) {
	msg := &BookMessage{
		AssetID: "tok-up",
		Bids: []WSPriceLevel{
			{Price: "0.50", Size: "10"},
			{Price: "0.53", Size: "5"},
			{Price: "0.51", Size: "7"},
		},
		Asks: []WSPriceLevel{
			{Price: "0.58", Size: "4"},
			{Price: "0.55", Size: "9"},
		},
		Timestamp: "1700000000000",
	}

	side, ts := BookToSide(msg)

	require.Equal(t, []domain.PriceLevel{
		{Price: 0.53, Size: 5}, {Price: 0.51, Size: 7}, {Price: 0.50, Size: 10},
	}, side.Bids)
	require.Equal(t, []domain.PriceLevel{
		{Price: 0.55, Size: 9}, {Price: 0.58, Size: 4},
	}, side.Asks)
	require.NoError(t, side.ValidateLadders())
	require.Equal(t, time.UnixMilli(1700000000000), ts)
}

func TestBookToSideDropsUnparsableAndEmptyLevels(t *testing.T) {
	msg := &BookMessage{
		Bids: []WSPriceLevel{
			{Price: "0.50", Size: "10"},
			{Price: "garbage", Size: "10"},
			{Price: "0.49", Size: "0"},
		},
	}

	side, _ := BookToSide(msg)
	require.Equal(t, []domain.PriceLevel{{Price: 0.50, Size: 10}}, side.Bids)
}

func TestParseTimestampFormats(t *testing.T) {
	require.Equal(t, time.UnixMilli(1700000000123), parseTimestamp("1700000000123"))
	require.Equal(t, time.Unix(1700000000, 0), parseTimestamp("1700000000"))

	rfc := parseTimestamp("2026-08-23T12:00:00Z")
	require.Equal(t, time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC), rfc.UTC())

	// Anything else falls back to roughly now.
	got := parseTimestamp("not-a-timestamp")
	require.WithinDuration(t, time.Now(), got, time.Minute)
}

func TestToDomainOrderResult(t *testing.T) {
	cases := []struct {
		name      string
		api       APIOrderResult
		requested float64
		status    domain.OrderStatus
		filled    float64
	}{
		{
			name:      "full fill",
			api:       APIOrderResult{Success: true, Status: "matched", SizeMatched: "10", AvgPrice: "0.52"},
			requested: 10,
			status:    domain.OrderStatusFilled,
			filled:    10,
		},
		{
			name:      "matched with no size reported counts as full",
			api:       APIOrderResult{Success: true, Status: "matched"},
			requested: 10,
			status:    domain.OrderStatusFilled,
			filled:    10,
		},
		{
			name:      "partial fill",
			api:       APIOrderResult{Success: true, Status: "matched", SizeMatched: "4", AvgPrice: "0.52"},
			requested: 10,
			status:    domain.OrderStatusPartiallyFilled,
			filled:    4,
		},
		{
			name:      "resting order",
			api:       APIOrderResult{Success: true, Status: "live"},
			requested: 10,
			status:    domain.OrderStatusSubmitted,
		},
		{
			name:      "resting order with partial match",
			api:       APIOrderResult{Success: true, Status: "open", SizeMatched: "2"},
			requested: 10,
			status:    domain.OrderStatusPartiallyFilled,
			filled:    2,
		},
		{
			name:      "cancelled",
			api:       APIOrderResult{Success: true, Status: "cancelled"},
			requested: 10,
			status:    domain.OrderStatusCancelled,
		},
		{
			name:      "rejected",
			api:       APIOrderResult{Success: false, ErrorMsg: "insufficient balance"},
			requested: 10,
			status:    domain.OrderStatusRejected,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.api.ToDomainOrderResult(tc.requested)
			require.Equal(t, tc.status, got.Status)
			require.Equal(t, tc.filled, got.FilledSize)
			require.Equal(t, tc.api.ErrorMsg, got.Message)
		})
	}
}

func TestAssetID(t *testing.T) {
	m := IntervalMarket{UpAssetID: "up-tok", DownAssetID: "down-tok"}
	require.Equal(t, "up-tok", m.AssetID(domain.TokenSideUp))
	require.Equal(t, "down-tok", m.AssetID(domain.TokenSideDown))
}
