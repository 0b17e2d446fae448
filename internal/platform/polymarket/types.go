package polymarket

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mkarlin/updownbot/internal/domain"
)

// IntervalLength is the lifetime of one up/down interval market.
const IntervalLength = 15 * time.Minute

// IntervalMarket identifies one short-horizon binary market and its two
// outcome tokens.
type IntervalMarket struct {
	ID          string
	UpAssetID   string
	DownAssetID string
	StartTime   time.Time
	EndTime     time.Time
}

// AssetID returns the outcome token for the given side.
func (m IntervalMarket) AssetID(side domain.TokenSide) string {
	if side == domain.TokenSideUp {
		return m.UpAssetID
	}
	return m.DownAssetID
}

// IntervalStart truncates t to the interval boundary containing it.
func IntervalStart(t time.Time) time.Time {
	return t.UTC().Truncate(IntervalLength)
}

// IntervalMarketID builds the slug of the interval market covering t, e.g.
// "btc-updown-15m-1700000100".
func IntervalMarketID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, IntervalStart(t).Unix())
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the WebSocket to subscribe or
// unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// BookMessage is a full orderbook snapshot for one outcome token delivered
// over WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookToSide converts a BookMessage into one side's ladders, sorted into the
// ladder ordering invariant: bids descending, asks ascending by price.
func BookToSide(b *BookMessage) (domain.BookSide, time.Time) {
	side := domain.BookSide{
		Bids: parseLevels(b.Bids),
		Asks: parseLevels(b.Asks),
	}
	sort.Slice(side.Bids, func(i, j int) bool { return side.Bids[i].Price > side.Bids[j].Price })
	sort.Slice(side.Asks, func(i, j int) bool { return side.Asks[i].Price < side.Asks[j].Price })
	return side, parseTimestamp(b.Timestamp)
}

func parseLevels(in []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, errP := strconv.ParseFloat(lvl.Price, 64)
		s, errS := strconv.ParseFloat(lvl.Size, 64)
		if errP != nil || errS != nil || s <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// parseTimestamp accepts Unix milliseconds, Unix seconds or RFC3339. Falls
// back to now for anything else.
func parseTimestamp(raw string) time.Time {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	SizeMatched string `json:"sizeMatched,omitempty"`
	AvgPrice    string `json:"avgPrice,omitempty"`
}

// ToDomainOrderResult maps the venue acknowledgment onto the order state
// machine. Requested size is needed to distinguish full from partial fills.
func (r *APIOrderResult) ToDomainOrderResult(requested float64) domain.OrderResult {
	result := domain.OrderResult{
		OrderID: r.OrderID,
		Message: r.ErrorMsg,
	}
	result.FilledSize, _ = strconv.ParseFloat(r.SizeMatched, 64)
	result.FilledPrice, _ = strconv.ParseFloat(r.AvgPrice, 64)

	switch strings.ToLower(r.Status) {
	case "matched", "filled":
		if result.FilledSize > 0 && result.FilledSize < requested {
			result.Status = domain.OrderStatusPartiallyFilled
		} else {
			result.Status = domain.OrderStatusFilled
			if result.FilledSize == 0 {
				result.FilledSize = requested
			}
		}
	case "live", "open", "delayed":
		if result.FilledSize > 0 {
			result.Status = domain.OrderStatusPartiallyFilled
		} else {
			result.Status = domain.OrderStatusSubmitted
		}
	case "cancelled":
		result.Status = domain.OrderStatusCancelled
	default:
		if r.Success {
			result.Status = domain.OrderStatusSubmitted
		} else {
			result.Status = domain.OrderStatusRejected
		}
	}
	return result
}

// APIMarket is the subset of the market metadata endpoint the bot needs to
// resolve an interval market's outcome tokens.
type APIMarket struct {
	ID       string     `json:"id"`
	Slug     string     `json:"slug"`
	Active   bool       `json:"active"`
	Closed   bool       `json:"closed"`
	Tokens   []APIToken `json:"tokens"`
	EndDate  string     `json:"end_date_iso"`
	GameTime string     `json:"game_start_time"`
}

// APIToken is one outcome token entry inside the market metadata.
type APIToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}
