package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkarlin/updownbot/internal/domain"
)

// bookTTL expires a mirrored book a few intervals after the last update so
// abandoned markets do not linger.
const bookTTL = time.Hour

// BookCache implements domain.BookCache: the latest two-sided book per
// market, mirrored as a JSON blob for operator tooling and cross-process
// consumers. The snapshot is written whole because the pipeline always
// composes full books; no per-level updates happen here.
type BookCache struct {
	rdb *redis.Client
}

var _ domain.BookCache = (*BookCache)(nil)

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(marketID string) string {
	return "book:" + marketID
}

type cachedLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type cachedSide struct {
	Bids []cachedLevel `json:"bids"`
	Asks []cachedLevel `json:"asks"`
}

type cachedBook struct {
	MarketID  string     `json:"market_id"`
	Up        cachedSide `json:"up"`
	Down      cachedSide `json:"down"`
	Timestamp int64      `json:"ts_ns"`
}

// SetSnapshot replaces the mirrored book for the snapshot's market.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	payload, err := json.Marshal(toCached(snap))
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", snap.MarketID, err)
	}
	if err := bc.rdb.Set(ctx, bookKey(snap.MarketID), payload, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.MarketID, err)
	}
	return nil
}

// GetSnapshot reads the mirrored book for a market. Returns
// domain.ErrNotFound when no book is cached.
func (bc *BookCache) GetSnapshot(ctx context.Context, marketID string) (domain.OrderBookSnapshot, error) {
	raw, err := bc.rdb.Get(ctx, bookKey(marketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", marketID, err)
	}

	var cached cachedBook
	if err := json.Unmarshal(raw, &cached); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode book %s: %w", marketID, err)
	}
	return fromCached(cached), nil
}

func toCached(snap domain.OrderBookSnapshot) cachedBook {
	return cachedBook{
		MarketID:  snap.MarketID,
		Up:        toCachedSide(snap.Up),
		Down:      toCachedSide(snap.Down),
		Timestamp: snap.Timestamp.UnixNano(),
	}
}

func toCachedSide(side domain.BookSide) cachedSide {
	out := cachedSide{
		Bids: make([]cachedLevel, len(side.Bids)),
		Asks: make([]cachedLevel, len(side.Asks)),
	}
	for i, l := range side.Bids {
		out.Bids[i] = cachedLevel{Price: l.Price, Size: l.Size}
	}
	for i, l := range side.Asks {
		out.Asks[i] = cachedLevel{Price: l.Price, Size: l.Size}
	}
	return out
}

func fromCached(cached cachedBook) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		MarketID:  cached.MarketID,
		Up:        fromCachedSide(cached.Up),
		Down:      fromCachedSide(cached.Down),
		Timestamp: time.Unix(0, cached.Timestamp),
	}
}

func fromCachedSide(side cachedSide) domain.BookSide {
	out := domain.BookSide{
		Bids: make([]domain.PriceLevel, len(side.Bids)),
		Asks: make([]domain.PriceLevel, len(side.Asks)),
	}
	for i, l := range side.Bids {
		out.Bids[i] = domain.PriceLevel{Price: l.Price, Size: l.Size}
	}
	for i, l := range side.Asks {
		out.Asks[i] = domain.PriceLevel{Price: l.Price, Size: l.Size}
	}
	return out
}
