package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkarlin/updownbot/internal/crypto"
	"github.com/mkarlin/updownbot/internal/detector"
	"github.com/mkarlin/updownbot/internal/domain"
	"github.com/mkarlin/updownbot/internal/executor"
	"github.com/mkarlin/updownbot/internal/feed"
	"github.com/mkarlin/updownbot/internal/marketstate"
	"github.com/mkarlin/updownbot/internal/oracle"
	"github.com/mkarlin/updownbot/internal/platform/binance"
	"github.com/mkarlin/updownbot/internal/platform/polymarket"
	"github.com/mkarlin/updownbot/internal/risk"
	"github.com/mkarlin/updownbot/internal/sizer"
)

// resolutionPoll paces the post-interval wait for the venue to mark the
// previous market resolved.
const resolutionPoll = 5 * time.Second

// resolutionWait bounds that wait; an unresolved market is retried on the
// next roll, not forever.
const resolutionWait = 2 * time.Minute

// marketPipeline bundles the stages shared by trade and monitor mode.
type marketPipeline struct {
	state    *marketstate.State
	clob     *polymarket.ClobClient
	bookFeed *feed.BookFeed
	spotFeed *feed.SpotFeed
	det      *detector.Detector
	oracle   *oracle.Reader
}

// tradeMode runs the full detect-size-execute pipeline. Testing and
// production differ only in the position cap selected by the config.
func (a *App) tradeMode(ctx context.Context, deps *Dependencies) error {
	auth, err := a.venueAuth()
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	p, err := a.buildPipeline(deps, auth)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	defer p.close()

	gate := risk.New(risk.Config{
		DailyLossLimit: a.cfg.Trading.DailyLossLimit,
		MaxPosition:    a.cfg.MaxPosition(),
	}, deps.RiskDays, deps.Notifier, a.logger)
	if err := gate.Load(ctx); err != nil {
		a.logger.Warn("risk state resume failed, starting fresh day", "error", err)
	}

	szr := sizer.New(sizer.Config{
		Theta:       a.cfg.Trading.MinProfitThreshold,
		MaxSlippage: a.cfg.Trading.MaxSlippage,
		TakerFee:    a.cfg.Trading.TakerFee,
		MaxPosition: a.cfg.MaxPosition(),
	}, gate, a.logger)

	exec := executor.New(executor.Config{
		SubmitTimeout: a.cfg.Trading.SubmitTimeout.Duration,
		RateLimit:     a.cfg.Trading.OrderRateLimit,
		RateWindow:    a.cfg.Trading.OrderRateWindow.Duration,
	}, p.clob, gate, deps.LockManager, deps.RateLimiter, deps.Fills, deps.Executions, deps.Notifier, a.logger)

	settlements := newSettlementBook()

	g, ctx := errgroup.WithContext(ctx)

	if err := p.start(ctx); err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	g.Go(func() error { return p.det.Run(ctx) })

	// Pipeline consumer: size every opportunity and hand viable plans to
	// the executor. Rejections are routine, only logged.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp, ok := <-p.det.Opportunities():
				if !ok {
					return nil
				}
				a.handleOpportunity(ctx, opp, szr, exec, settlements)
			}
		}
	})

	// Market roll: switch to the next 15-minute market at each boundary and
	// settle what traded in the previous one.
	g.Go(func() error { return a.rollLoop(ctx, p, exec, settlements) })

	// Day boundary: close the risk day and publish the summary.
	g.Go(func() error { return a.dailyResetLoop(ctx, deps, gate) })

	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(ctx, deps) })
	}

	return g.Wait()
}

// monitorMode runs the feeds and the detector with no sizing or execution.
// Opportunities are persisted and published, nothing is traded.
func (a *App) monitorMode(ctx context.Context, deps *Dependencies) error {
	p, err := a.buildPipeline(deps, nil)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	defer p.close()

	g, ctx := errgroup.WithContext(ctx)

	if err := p.start(ctx); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	g.Go(func() error { return p.det.Run(ctx) })

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp, ok := <-p.det.Opportunities():
				if !ok {
					return nil
				}
				a.logger.Info("opportunity (monitor, not traded)",
					"kind", string(opp.Kind),
					"market_id", opp.MarketID,
					"edge", opp.Edge,
				)
			}
		}
	})

	g.Go(func() error { return a.rollLoop(ctx, p, nil, nil) })

	return g.Wait()
}

// venueAuth builds the CLOB credentials, decrypting the API secret from
// disk when configured that way.
func (a *App) venueAuth() (*crypto.HMACAuth, error) {
	if a.cfg.Venue.ApiKey == "" {
		return nil, errors.New("venue.api_key must be set for trading")
	}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     a.cfg.Venue.ApiSecret,
		EncryptedPath: a.cfg.Venue.EncryptedSecretPath,
		Password:      a.cfg.Venue.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load venue secret: %w", err)
	}
	return &crypto.HMACAuth{
		Key:        a.cfg.Venue.ApiKey,
		Secret:     secret,
		Passphrase: a.cfg.Venue.ApiPassphrase,
	}, nil
}

// buildPipeline constructs the feed and detection stages. auth may be nil
// for read-only use.
func (a *App) buildPipeline(deps *Dependencies, auth *crypto.HMACAuth) (*marketPipeline, error) {
	state := marketstate.New("", marketstate.Config{
		MaxAge:   a.cfg.Trading.StalenessMaxAge.Duration,
		Lookback: a.cfg.Trading.MomentumWindow.Duration,
	})

	clob := polymarket.NewClobClient(a.cfg.Venue.RestHost, auth)

	bookWS := polymarket.NewWSClient(a.cfg.Venue.WsHost)
	spotWS := binance.NewWSClient(a.cfg.Spot.WsURL, a.cfg.Spot.Symbol)

	p := &marketPipeline{
		state:    state,
		clob:     clob,
		bookFeed: feed.NewBookFeed(bookWS, state, deps.BookCache, deps.Notifier, a.logger),
		spotFeed: feed.NewSpotFeed(spotWS, state, deps.PriceCache, deps.Notifier, a.logger),
		det: detector.New(detector.Config{
			Theta:               a.cfg.Trading.MinProfitThreshold,
			SpotMoveMin:         a.cfg.Trading.SpotMoveMin,
			LagRatio:            a.cfg.Trading.LagRatio,
			OracleDiscountBound: a.cfg.Trading.OracleDiscountBound,
			TakerFee:            a.cfg.Trading.TakerFee,
			MaxOpportunityAge:   a.cfg.Trading.MaxOpportunityAge.Duration,
			MomentumWindow:      a.cfg.Trading.MomentumWindow.Duration,
			ScanInterval:        a.cfg.Trading.ScanInterval.Duration,
		}, state, deps.Opportunities, deps.SignalBus, deps.Notifier, a.logger),
	}
	if a.cfg.Oracle.Enabled {
		p.oracle = oracle.New(oracle.Config{
			RpcURLs:    a.cfg.Oracle.RpcURLs,
			Aggregator: a.cfg.Oracle.Aggregator,
			CacheTTL:   a.cfg.Oracle.CacheTTL.Duration,
		}, a.logger)
	}
	return p, nil
}

func (p *marketPipeline) start(ctx context.Context) error {
	if err := p.spotFeed.Start(ctx); err != nil {
		return err
	}
	if err := p.bookFeed.Start(ctx); err != nil {
		return err
	}
	return nil
}

func (p *marketPipeline) close() {
	_ = p.bookFeed.Close()
	_ = p.spotFeed.Close()
	if p.oracle != nil {
		p.oracle.Close()
	}
}

// handleOpportunity sizes one opportunity and executes the plan when sizing
// accepts it, recording the execution for settlement at the interval end.
func (a *App) handleOpportunity(ctx context.Context, opp domain.ArbitrageOpportunity, szr *sizer.Sizer, exec *executor.Manager, settlements *settlementBook) {
	plan, err := szr.Size(opp)
	if err != nil {
		if reason, ok := sizer.Reason(err); ok {
			a.logger.Debug("opportunity rejected",
				"opportunity_id", opp.ID,
				"kind", string(opp.Kind),
				"reason", string(reason),
			)
			return
		}
		a.logger.Warn("sizing failed", "opportunity_id", opp.ID, "error", err)
		return
	}

	result, err := exec.Execute(ctx, plan)
	if err != nil {
		a.logger.Warn("execution refused",
			"plan_id", plan.ID,
			"market_id", plan.MarketID,
			"error", err,
		)
		return
	}
	settlements.add(*result)
}

// rollLoop aligns the pipeline with the venue's 15-minute interval markets:
// resolve the market covering now, subscribe its books, record the interval
// start price, and settle the previous interval once resolved. exec and
// settlements are nil in monitor mode.
func (a *App) rollLoop(ctx context.Context, p *marketPipeline, exec *executor.Manager, settlements *settlementBook) error {
	var current polymarket.IntervalMarket

	roll := func() {
		now := time.Now()
		m, err := p.clob.ResolveIntervalMarket(ctx, a.cfg.Venue.MarketPrefix, now)
		if err != nil {
			a.logger.Error("interval market resolution failed", "error", err)
			return
		}
		if m.ID == current.ID {
			return
		}

		prev := current
		current = m
		p.clob.RegisterMarket(m)
		p.state.Roll(m.ID, a.intervalStartPrice(ctx, p))
		if err := p.bookFeed.SetMarket(m); err != nil {
			a.logger.Error("book subscription failed", "market_id", m.ID, "error", err)
		}
		a.logger.Info("rolled to interval market",
			"market_id", m.ID,
			"ends_at", m.EndTime,
		)

		if prev.ID != "" && exec != nil && settlements != nil {
			go a.settleMarket(ctx, p, exec, settlements, prev.ID)
		}
	}

	roll()
	for {
		next := polymarket.IntervalStart(time.Now()).Add(polymarket.IntervalLength)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next) + time.Second):
			roll()
		}
	}
}

// intervalStartPrice prefers the settlement oracle, falling back to the
// newest spot tick. Zero disables the oracle-mismatch check until data
// arrives.
func (a *App) intervalStartPrice(ctx context.Context, p *marketPipeline) float64 {
	if p.oracle != nil {
		price, err := p.oracle.Price(ctx)
		if err == nil {
			return price
		}
		a.logger.Warn("oracle read failed, falling back to spot", "error", err)
	}
	snap, _ := p.state.Snapshot()
	if point, ok := snap.Prices.Newest(); ok {
		return point.Price
	}
	return 0
}

// settleMarket waits for the venue to resolve the finished interval and
// realizes the P&L of everything executed in it.
func (a *App) settleMarket(ctx context.Context, p *marketPipeline, exec *executor.Manager, settlements *settlementBook, marketID string) {
	execs := settlements.drain(marketID)
	if len(execs) == 0 {
		return
	}

	deadline := time.Now().Add(resolutionWait)
	for {
		winner, resolved, err := p.clob.Resolution(ctx, marketID)
		if err != nil {
			a.logger.Warn("resolution check failed", "market_id", marketID, "error", err)
		} else if resolved {
			for _, e := range execs {
				exec.Settle(ctx, e, winner)
			}
			a.logger.Info("market settled",
				"market_id", marketID,
				"winner", string(winner),
				"executions", len(execs),
			)
			return
		}

		if time.Now().After(deadline) {
			// Put them back so the next roll retries.
			settlements.addAll(execs)
			a.logger.Warn("market unresolved after wait, retrying next roll",
				"market_id", marketID)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resolutionPoll):
		}
	}
}

// dailyResetLoop closes the risk day at each UTC midnight and publishes the
// daily summary.
func (a *App) dailyResetLoop(ctx context.Context, deps *Dependencies, gate *risk.Gate) error {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}

		closed := gate.Reset(ctx)
		deps.Notifier.Notify(ctx, domain.Event{
			Type:     domain.EventDailySummary,
			Priority: domain.PriorityInfo,
			Summary:  fmt.Sprintf("day closed: pnl %.2f over %d trades", closed.RealizedPnL, closed.Trades),
			Fields: map[string]string{
				"realized_pnl": fmt.Sprintf("%.2f", closed.RealizedPnL),
				"trades":       fmt.Sprintf("%d", closed.Trades),
				"status":       string(closed.Status),
			},
			At: time.Now(),
		})
		a.logger.Info("risk day closed",
			"pnl", closed.RealizedPnL,
			"trades", closed.Trades,
			"status", string(closed.Status),
		)
	}
}

// archiveLoop moves aged ledger rows to object storage once a day.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return nil
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().Add(-retention)
		if n, err := deps.Archiver.ArchiveFills(ctx, cutoff); err != nil {
			a.logger.Error("fill archival failed", "error", err)
		} else if n > 0 {
			a.logger.Info("fills archived", "count", n)
		}
		if n, err := deps.Archiver.ArchiveOpportunities(ctx, cutoff); err != nil {
			a.logger.Error("opportunity archival failed", "error", err)
		} else if n > 0 {
			a.logger.Info("opportunities archived", "count", n)
		}
		if n, err := deps.Archiver.ArchiveExecutions(ctx, cutoff); err != nil {
			a.logger.Error("execution archival failed", "error", err)
		} else if n > 0 {
			a.logger.Info("executions archived", "count", n)
		}
	}
}

// settlementBook tracks executions awaiting market resolution, keyed by
// market.
type settlementBook struct {
	mu    sync.Mutex
	byMkt map[string][]domain.Execution
}

func newSettlementBook() *settlementBook {
	return &settlementBook{byMkt: make(map[string][]domain.Execution)}
}

func (b *settlementBook) add(exec domain.Execution) {
	b.mu.Lock()
	b.byMkt[exec.MarketID] = append(b.byMkt[exec.MarketID], exec)
	b.mu.Unlock()
}

func (b *settlementBook) addAll(execs []domain.Execution) {
	b.mu.Lock()
	for _, e := range execs {
		b.byMkt[e.MarketID] = append(b.byMkt[e.MarketID], e)
	}
	b.mu.Unlock()
}

func (b *settlementBook) drain(marketID string) []domain.Execution {
	b.mu.Lock()
	execs := b.byMkt[marketID]
	delete(b.byMkt, marketID)
	b.mu.Unlock()
	return execs
}
