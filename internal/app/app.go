// Package app owns the application lifecycle: it wires the stores, caches,
// venue adapters and pipeline stages from configuration and runs the
// goroutines for the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mkarlin/updownbot/internal/config"
	"github.com/mkarlin/updownbot/internal/domain"
)

// App is the root application object. It owns the configuration, logger and
// the cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With("component", "app"),
	}
}

// Run wires all dependencies, starts the goroutines for the configured mode
// and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.Info("starting",
		"mode", mode,
		"market_prefix", a.cfg.Venue.MarketPrefix,
		"max_position", a.cfg.MaxPosition(),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	deps.Notifier.Notify(ctx, domain.Event{
		Type:     domain.EventStartup,
		Priority: domain.PriorityInfo,
		Summary:  fmt.Sprintf("starting in %s mode", mode),
		At:       time.Now(),
	})
	defer deps.Notifier.Notify(context.Background(), domain.Event{
		Type:     domain.EventShutdown,
		Priority: domain.PriorityInfo,
		Summary:  "shutting down",
		At:       time.Now(),
	})

	switch mode {
	case "testing", "production":
		return a.tradeMode(ctx, deps)
	case "monitor":
		return a.monitorMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to
// call more than once.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
