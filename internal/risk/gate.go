// Package risk implements the daily circuit breaker: cumulative realized
// P&L, open exposure and the halt that trips when the daily loss limit is
// breached. The gate is mutated only by the execution manager; everything
// else reads it through domain.RiskView.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mkarlin/updownbot/internal/domain"
)

// Config holds the risk limits.
type Config struct {
	// DailyLossLimit halts trading once cumulative realized losses reach it.
	DailyLossLimit float64
	// MaxPosition bounds total open exposure.
	MaxPosition float64
}

// Delta is one atomic adjustment applied after a terminal execution state.
type Delta struct {
	RealizedPnL float64
	Exposure    float64
	Trades      int
}

// Gate is the stateful risk tracker for the current trading day.
type Gate struct {
	cfg      Config
	store    domain.RiskDayStore
	notifier domain.Notifier
	logger   *slog.Logger

	mu    sync.RWMutex
	state domain.RiskState

	now func() time.Time
}

var _ domain.RiskView = (*Gate)(nil)

// New builds a Gate starting a fresh Active day. Store and notifier are
// optional.
func New(cfg Config, store domain.RiskDayStore, notifier domain.Notifier, logger *slog.Logger) *Gate {
	g := &Gate{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "risk"),
		now:      time.Now,
	}
	g.state = domain.RiskState{Day: utcDay(g.now()), Status: domain.RiskActive}
	return g
}

// Load resumes today's persisted state so a restart does not silently reset
// the loss budget. A missing row means a fresh day.
func (g *Gate) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	day := utcDay(g.now())
	stored, err := g.store.Get(ctx, day)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("risk: load day state: %w", err)
	}
	g.mu.Lock()
	g.state = stored
	g.mu.Unlock()
	g.logger.Info("risk state resumed",
		"day", day.Format("2006-01-02"),
		"realized_pnl", stored.RealizedPnL,
		"status", string(stored.Status))
	return nil
}

// CanTrade reports whether new plans may be executed. False once halted.
func (g *Gate) CanTrade() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Status == domain.RiskActive
}

// Headroom returns the maximum additional capital committable right now:
// the exposure room under the position cap, further bounded by the
// remaining daily-loss budget. Never negative.
func (g *Gate) Headroom() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.state.Status != domain.RiskActive {
		return 0
	}
	room := g.cfg.MaxPosition - g.state.Exposure
	if budget := g.cfg.DailyLossLimit - g.lossLocked(); budget < room {
		room = budget
	}
	if room < 0 {
		return 0
	}
	return room
}

// State returns a copy of the current risk state.
func (g *Gate) State() domain.RiskState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Record applies one delta and trips the halt when cumulative losses reach
// the daily limit. Halting is one-way: only Reset re-arms the gate.
func (g *Gate) Record(ctx context.Context, d Delta) {
	g.mu.Lock()
	g.state.RealizedPnL += d.RealizedPnL
	g.state.Exposure += d.Exposure
	if g.state.Exposure < 0 {
		g.state.Exposure = 0
	}
	g.state.Trades += d.Trades

	halted := false
	if g.state.Status == domain.RiskActive && g.lossLocked() >= g.cfg.DailyLossLimit {
		g.state.Status = domain.RiskHalted
		halted = true
	}
	snapshot := g.state
	g.mu.Unlock()

	g.persist(ctx, snapshot)

	if halted {
		g.logger.Error("daily loss limit breached, trading halted",
			"realized_pnl", snapshot.RealizedPnL,
			"loss_limit", g.cfg.DailyLossLimit)
		if g.notifier != nil {
			g.notifier.Notify(ctx, domain.Event{
				Type:     domain.EventRiskHalted,
				Priority: domain.PriorityCritical,
				Summary:  "daily loss limit breached, trading halted until day reset",
				Fields: map[string]string{
					"realized_pnl": strconv.FormatFloat(snapshot.RealizedPnL, 'f', 2, 64),
					"loss_limit":   strconv.FormatFloat(g.cfg.DailyLossLimit, 'f', 2, 64),
					"trades":       strconv.Itoa(snapshot.Trades),
				},
				At: g.now(),
			})
		}
	}
}

// Reset starts a new trading day. This is the only way out of the halted
// state; it is called at the UTC day boundary, never from the trade path.
func (g *Gate) Reset(ctx context.Context) domain.RiskState {
	g.mu.Lock()
	closed := g.state
	g.state = domain.RiskState{Day: utcDay(g.now()), Status: domain.RiskActive}
	fresh := g.state
	g.mu.Unlock()

	g.persist(ctx, closed)
	g.persist(ctx, fresh)

	g.logger.Info("risk day reset",
		"closed_day", closed.Day.Format("2006-01-02"),
		"closed_pnl", closed.RealizedPnL,
		"closed_trades", closed.Trades)
	return closed
}

func (g *Gate) persist(ctx context.Context, state domain.RiskState) {
	if g.store == nil {
		return
	}
	if err := g.store.Upsert(ctx, state); err != nil {
		g.logger.Warn("risk state persist failed", "error", err)
	}
}

// lossLocked returns the current realized loss as a positive number.
// Caller holds at least the read lock.
func (g *Gate) lossLocked() float64 {
	if g.state.RealizedPnL < 0 {
		return -g.state.RealizedPnL
	}
	return 0
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
