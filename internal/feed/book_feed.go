// Package feed wires the venue adapters into the market state: the book
// feed composes per-token book snapshots into full market books, the spot
// feed streams reference-price ticks. Each feed is the single writer of its
// own market-state sub-field and marks it stale across reconnects.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarlin/updownbot/internal/domain"
	"github.com/mkarlin/updownbot/internal/marketstate"
	"github.com/mkarlin/updownbot/internal/platform/polymarket"
)

// BookFeed consumes per-token orderbook snapshots from the venue WebSocket
// and publishes composed two-sided books into the market state.
type BookFeed struct {
	ws       *polymarket.WSClient
	state    *marketstate.State
	cache    domain.BookCache
	notifier domain.Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	market polymarket.IntervalMarket
	up     domain.BookSide
	down   domain.BookSide
	upOK   bool
	downOK bool
}

// NewBookFeed creates a BookFeed over one market state. Cache and notifier
// are optional.
func NewBookFeed(ws *polymarket.WSClient, state *marketstate.State, cache domain.BookCache, notifier domain.Notifier, logger *slog.Logger) *BookFeed {
	return &BookFeed{
		ws:       ws,
		state:    state,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With("component", "book_feed"),
	}
}

// Start registers the handlers and connects. SetMarket must be called to
// begin receiving books.
func (f *BookFeed) Start(ctx context.Context) error {
	f.ws.OnBook(f.handleBook)
	f.ws.OnDisconnect(func() {
		f.state.MarkBookStale()
		f.logger.Warn("book feed disconnected, market data marked stale")
		f.notify(domain.Event{
			Type:     domain.EventFeedStale,
			Priority: domain.PriorityWarning,
			MarketID: f.state.MarketID(),
			Summary:  "book feed disconnected, reconnecting",
			At:       time.Now(),
		})
	})
	f.ws.OnReconnect(func() {
		f.logger.Info("book feed reconnected")
		f.notify(domain.Event{
			Type:     domain.EventFeedReconnected,
			Priority: domain.PriorityInfo,
			MarketID: f.state.MarketID(),
			Summary:  "book feed reconnected",
			At:       time.Now(),
		})
	})

	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("feed: book feed connect: %w", err)
	}
	f.logger.Info("book feed started")
	return nil
}

// SetMarket switches the subscription to a new interval market's outcome
// tokens and discards the previous market's partial books.
func (f *BookFeed) SetMarket(m polymarket.IntervalMarket) error {
	f.mu.Lock()
	old := f.market
	f.market = m
	f.up, f.down = domain.BookSide{}, domain.BookSide{}
	f.upOK, f.downOK = false, false
	f.mu.Unlock()

	if old.UpAssetID != "" {
		if err := f.ws.UnsubscribeBooks(old.UpAssetID, old.DownAssetID); err != nil {
			f.logger.Warn("unsubscribe previous market failed", "market_id", old.ID, "error", err)
		}
	}
	if err := f.ws.SubscribeBooks(m.UpAssetID, m.DownAssetID); err != nil {
		return fmt.Errorf("feed: subscribe market %s: %w", m.ID, err)
	}
	f.logger.Info("book feed subscribed", "market_id", m.ID)
	return nil
}

// handleBook folds one per-token snapshot into the two-sided book. The
// composed book is published once both tokens have reported at least once.
func (f *BookFeed) handleBook(msg polymarket.BookMessage) {
	side, ts := polymarket.BookToSide(&msg)

	f.mu.Lock()
	switch msg.AssetID {
	case f.market.UpAssetID:
		f.up = side
		f.upOK = true
	case f.market.DownAssetID:
		f.down = side
		f.downOK = true
	default:
		// Late frame from a previous market's subscription.
		f.mu.Unlock()
		return
	}
	ready := f.upOK && f.downOK
	snap := domain.OrderBookSnapshot{
		MarketID:  f.market.ID,
		Up:        f.up,
		Down:      f.down,
		Timestamp: ts,
	}
	f.mu.Unlock()

	if !ready {
		return
	}
	if err := f.state.ApplyBookUpdate(snap); err != nil {
		f.logger.Warn("book update rejected", "market_id", snap.MarketID, "error", err)
		return
	}
	if f.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := f.cache.SetSnapshot(ctx, snap); err != nil {
			f.logger.Debug("book cache update failed", "error", err)
		}
		cancel()
	}
}

// Close shuts the underlying connection down.
func (f *BookFeed) Close() error { return f.ws.Close() }

func (f *BookFeed) notify(ev domain.Event) {
	if f.notifier != nil {
		f.notifier.Notify(context.Background(), ev)
	}
}
