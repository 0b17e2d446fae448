package domain

import (
	"context"
	"time"
)

// BookCache mirrors the latest orderbook snapshot per market for operator
// visibility and cross-process consumers. The live pipeline never reads the
// cache on the hot path; MarketState snapshots are authoritative.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, marketID string) (OrderBookSnapshot, error)
}

// PriceCache mirrors the latest spot reference price.
type PriceCache interface {
	SetSpot(ctx context.Context, point PricePoint) error
	GetSpot(ctx context.Context) (PricePoint, error)
}

// LockManager provides the per-market execution lock. Submission for a
// market is serialized through it so rapid repeated detections of the same
// opportunity cannot double-fire.
type LockManager interface {
	// Acquire returns an unlock func, or ErrLockHeld when another holder
	// owns the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus is the pub/sub channel carrying snapshot-published and
// notification events between pipeline stages and across processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter bounds outbound order submissions per venue.
type RateLimiter interface {
	// Allow reports whether another action fits inside the window and
	// consumes a slot when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
