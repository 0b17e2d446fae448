package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkarlin/updownbot/internal/domain"
	"github.com/mkarlin/updownbot/internal/marketstate"
	"github.com/mkarlin/updownbot/internal/platform/binance"
)

// SpotFeed streams reference-price trades into the market state's price
// window.
type SpotFeed struct {
	ws       *binance.WSClient
	state    *marketstate.State
	cache    domain.PriceCache
	notifier domain.Notifier
	logger   *slog.Logger
}

// NewSpotFeed creates a SpotFeed. Cache and notifier are optional.
func NewSpotFeed(ws *binance.WSClient, state *marketstate.State, cache domain.PriceCache, notifier domain.Notifier, logger *slog.Logger) *SpotFeed {
	return &SpotFeed{
		ws:       ws,
		state:    state,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With("component", "spot_feed"),
	}
}

// Start registers the handlers and connects the trade stream.
func (f *SpotFeed) Start(ctx context.Context) error {
	f.ws.OnTrade(f.handleTrade)
	f.ws.OnDisconnect(func() {
		f.state.MarkPriceStale()
		f.logger.Warn("spot feed disconnected, price data marked stale")
		f.notify(domain.Event{
			Type:     domain.EventFeedStale,
			Priority: domain.PriorityWarning,
			MarketID: f.state.MarketID(),
			Summary:  "spot feed disconnected, reconnecting",
			At:       time.Now(),
		})
	})
	f.ws.OnReconnect(func() {
		f.logger.Info("spot feed reconnected")
		f.notify(domain.Event{
			Type:     domain.EventFeedReconnected,
			Priority: domain.PriorityInfo,
			MarketID: f.state.MarketID(),
			Summary:  "spot feed reconnected",
			At:       time.Now(),
		})
	})

	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("feed: spot feed connect: %w", err)
	}
	f.logger.Info("spot feed started")
	return nil
}

func (f *SpotFeed) handleTrade(point domain.PricePoint) {
	f.state.ApplyPriceTick(point)

	if f.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := f.cache.SetSpot(ctx, point); err != nil {
			f.logger.Debug("price cache update failed", "error", err)
		}
		cancel()
	}
}

// Close shuts the underlying connection down.
func (f *SpotFeed) Close() error { return f.ws.Close() }

func (f *SpotFeed) notify(ev domain.Event) {
	if f.notifier != nil {
		f.notifier.Notify(context.Background(), ev)
	}
}
