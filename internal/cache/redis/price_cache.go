package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkarlin/updownbot/internal/domain"
)

// spotKey holds the latest reference-price tick as a hash with fields
// "price" and "ts" (Unix nanoseconds).
const spotKey = "spot:latest"

// PriceCache implements domain.PriceCache over a Redis hash.
type PriceCache struct {
	rdb *redis.Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

// SetSpot stores the latest reference-price tick.
func (pc *PriceCache) SetSpot(ctx context.Context, point domain.PricePoint) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(point.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(point.Time.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, spotKey, fields).Err(); err != nil {
		return fmt.Errorf("redis: set spot: %w", err)
	}
	return nil
}

// GetSpot reads the latest reference-price tick. Returns domain.ErrNotFound
// when nothing has been written yet.
func (pc *PriceCache) GetSpot(ctx context.Context) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, spotKey).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get spot: %w", err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse spot price: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse spot ts: %w", err)
	}
	return domain.PricePoint{Price: price, Time: time.Unix(0, tsNano)}, nil
}
