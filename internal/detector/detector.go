// Package detector scans published market snapshots for actionable
// mispricings: sum-to-one violations across the two outcome tokens,
// momentum misalignment against the spot feed, and oracle mismatch against
// the settlement reference. It is event-driven off snapshot publications
// with a periodic scan as the safety net.
package detector

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlin/updownbot/internal/domain"
	"github.com/mkarlin/updownbot/internal/marketstate"
)

// BusChannel is the signal-bus channel opportunities are mirrored to.
const BusChannel = "updownbot:opportunities"

// Config holds the detection thresholds. All of them come from the trading
// configuration; the detector hard-codes nothing.
type Config struct {
	// Theta is the minimum fractional edge for a sum-to-one violation.
	Theta float64
	// SpotMoveMin is the fractional spot move considered meaningful.
	SpotMoveMin float64
	// LagRatio: the implied probability must have moved at least this
	// fraction of the spot move in the same direction, else it is lagging.
	LagRatio float64
	// OracleDiscountBound: the oracle-favored side trading below this ask
	// is a mispricing.
	OracleDiscountBound float64
	// TakerFee feeds the momentum edge floor; the sizer gates on net edge,
	// so the floor has to clear the fee to be actionable at all.
	TakerFee float64
	// MaxOpportunityAge is the validity horizon stamped on every emission.
	MaxOpportunityAge time.Duration
	// MomentumWindow bounds the implied-probability lookback.
	MomentumWindow time.Duration
	// ScanInterval is the polling fallback behind the event-driven path.
	ScanInterval time.Duration
}

// Detector turns market snapshots into ArbitrageOpportunity emissions.
// Single goroutine; Run owns all mutable state.
type Detector struct {
	cfg     Config
	state   *marketstate.State
	implied *impliedTracker

	store    domain.OpportunityStore
	bus      domain.SignalBus
	notifier domain.Notifier
	logger   *slog.Logger

	out chan domain.ArbitrageOpportunity

	// lastEmitted maps kind to the snapshot version it last fired on. The
	// same kind is never emitted twice for an unchanged snapshot.
	lastEmitted map[domain.OpportunityKind]uint64

	now func() time.Time
}

// New builds a Detector over one market's state. Store, bus and notifier
// are optional; a nil value disables that output.
func New(cfg Config, state *marketstate.State, store domain.OpportunityStore, bus domain.SignalBus, notifier domain.Notifier, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:         cfg,
		state:       state,
		implied:     newImpliedTracker(cfg.MomentumWindow),
		store:       store,
		bus:         bus,
		notifier:    notifier,
		logger:      logger.With("component", "detector", "market_id", state.MarketID()),
		out:         make(chan domain.ArbitrageOpportunity, 16),
		lastEmitted: make(map[domain.OpportunityKind]uint64),
		now:         time.Now,
	}
}

// Opportunities returns the stream of detected opportunities, ordered by
// execution priority within each scan. Closed when Run returns.
func (d *Detector) Opportunities() <-chan domain.ArbitrageOpportunity {
	return d.out
}

// Run blocks until ctx is cancelled, scanning on every snapshot publication
// and on the scan-interval tick. Both paths share one scan routine.
func (d *Detector) Run(ctx context.Context) error {
	defer close(d.out)

	updates := d.state.Updates()
	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	d.logger.Info("detector started",
		"theta", d.cfg.Theta,
		"scan_interval", d.cfg.ScanInterval.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-updates:
		case <-ticker.C:
		}
		for _, opp := range d.Scan(ctx) {
			select {
			case d.out <- opp:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Scan evaluates the current snapshot once and returns the opportunities it
// produced, best first. Exported so the monitor mode and tests can drive
// detection without the Run loop.
func (d *Detector) Scan(ctx context.Context) []domain.ArbitrageOpportunity {
	now := d.now()

	snap, fresh := d.state.Snapshot()

	// Track the implied probability even on stale snapshots so the window
	// is warm when the feed recovers.
	if prob, ok := snap.Book.MidImpliedProbability(); ok && !snap.BookAt.IsZero() {
		d.implied.observe(prob, snap.BookAt)
	}

	if !fresh {
		d.logger.Debug("snapshot stale, skipping scan",
			"book_at", snap.BookAt, "price_at", snap.PriceAt)
		return nil
	}

	var found []domain.ArbitrageOpportunity
	add := func(kind domain.OpportunityKind, edge float64, conf domain.Confidence, side domain.TokenSide) {
		if d.lastEmitted[kind] == snap.Version {
			return
		}
		d.lastEmitted[kind] = snap.Version
		found = append(found, domain.ArbitrageOpportunity{
			ID:              uuid.NewString(),
			MarketID:        snap.MarketID,
			Kind:            kind,
			Edge:            edge,
			Confidence:      conf,
			Side:            side,
			SnapshotVersion: snap.Version,
			Snapshot:        snap,
			DetectedAt:      now,
			Deadline:        now.Add(d.cfg.MaxOpportunityAge),
		})
	}

	d.checkSumToOne(snap, add)
	d.checkOracleMismatch(snap, add)
	d.checkMomentum(snap, add)

	// Within one scan: sum-to-one before the directional kinds, then larger
	// edge first.
	sortOpportunities(found)

	for _, opp := range found {
		d.record(ctx, opp)
	}
	return found
}

// checkSumToOne looks for the risk-free violations: both asks summing below
// 1-theta (buy both) or both bids summing above 1+theta (sell both).
func (d *Detector) checkSumToOne(snap domain.MarketSnapshot, add func(domain.OpportunityKind, float64, domain.Confidence, domain.TokenSide)) {
	askUp, okAU := snap.Book.Up.BestAsk()
	askDown, okAD := snap.Book.Down.BestAsk()
	if okAU && okAD {
		if edge := 1 - (askUp + askDown); edge >= d.cfg.Theta {
			add(domain.KindSumToOneLong, edge, domain.ConfidenceHigh, "")
		}
	}

	bidUp, okBU := snap.Book.Up.BestBid()
	bidDown, okBD := snap.Book.Down.BestBid()
	if okBU && okBD {
		if edge := (bidUp + bidDown) - 1; edge >= d.cfg.Theta {
			add(domain.KindSumToOneShort, edge, domain.ConfidenceHigh, "")
		}
	}
}

// checkOracleMismatch compares the settlement reference against the interval
// start: when the oracle already favors one side but that side's ask still
// trades below the discount bound, the market has not caught up.
func (d *Detector) checkOracleMismatch(snap domain.MarketSnapshot, add func(domain.OpportunityKind, float64, domain.Confidence, domain.TokenSide)) {
	if snap.IntervalStartPrice <= 0 || len(snap.Prices) == 0 {
		return
	}
	spot := snap.Prices[len(snap.Prices)-1].Price

	var favored domain.TokenSide
	switch {
	case spot > snap.IntervalStartPrice:
		favored = domain.TokenSideUp
	case spot < snap.IntervalStartPrice:
		favored = domain.TokenSideDown
	default:
		return
	}

	ask, ok := snap.Book.Side(favored).BestAsk()
	if !ok || ask <= 0 || ask >= d.cfg.OracleDiscountBound {
		return
	}
	// Edge is the payout if the oracle reading holds to settlement. The
	// reading can still flip, hence not high confidence.
	add(domain.KindOracleMismatch, 1-ask, domain.ConfidenceMedium, favored)
}

// checkMomentum flags a market whose implied probability lags a meaningful
// spot move. The lagging side is bought in the direction of the move.
func (d *Detector) checkMomentum(snap domain.MarketSnapshot, add func(domain.OpportunityKind, float64, domain.Confidence, domain.TokenSide)) {
	if !snap.MomentumOK {
		return
	}
	spotMove := snap.Momentum
	absMove := spotMove
	if absMove < 0 {
		absMove = -absMove
	}
	if absMove < d.cfg.SpotMoveMin {
		return
	}

	impliedMove, ok := d.implied.change()
	if !ok {
		return
	}
	// Project the implied move onto the spot direction; an opposite-direction
	// move is maximally lagging.
	aligned := impliedMove
	if spotMove < 0 {
		aligned = -impliedMove
	}
	if aligned >= d.cfg.LagRatio*absMove {
		return
	}

	side := domain.TokenSideUp
	if spotMove < 0 {
		side = domain.TokenSideDown
	}
	// The true edge is unknowable here; stamp the conservative floor that
	// just clears theta plus fees at zero slippage and let the sizer's
	// net-edge check do the real gating.
	add(domain.KindMomentumMisaligned, d.cfg.Theta+d.cfg.TakerFee, domain.ConfidenceLow, side)
}

// record mirrors one emission to the ledger, the signal bus and the
// notification sink. All three are best-effort; detection never fails on an
// output error.
func (d *Detector) record(ctx context.Context, opp domain.ArbitrageOpportunity) {
	d.logger.Info("opportunity detected",
		"opportunity_id", opp.ID,
		"kind", string(opp.Kind),
		"edge", opp.Edge,
		"confidence", string(opp.Confidence),
		"snapshot_version", opp.SnapshotVersion)

	if d.store != nil {
		if err := d.store.Insert(ctx, opp); err != nil {
			d.logger.Warn("opportunity store insert failed", "error", err)
		}
	}
	if d.bus != nil {
		if payload, err := json.Marshal(busOpportunity{
			ID:       opp.ID,
			MarketID: opp.MarketID,
			Kind:     string(opp.Kind),
			Edge:     opp.Edge,
			Side:     string(opp.Side),
			Deadline: opp.Deadline,
		}); err == nil {
			if err := d.bus.Publish(ctx, BusChannel, payload); err != nil {
				d.logger.Warn("opportunity bus publish failed", "error", err)
			}
		}
	}
	if d.notifier != nil {
		d.notifier.Notify(ctx, domain.Event{
			Type:     domain.EventOpportunityDetected,
			Priority: domain.PriorityInfo,
			MarketID: opp.MarketID,
			Summary:  "opportunity detected: " + string(opp.Kind),
			Fields: map[string]string{
				"opportunity_id": opp.ID,
				"kind":           string(opp.Kind),
				"edge":           formatFraction(opp.Edge),
				"confidence":     string(opp.Confidence),
			},
			At: opp.DetectedAt,
		})
	}
}

// busOpportunity is the wire shape published on the signal bus. The full
// snapshot stays out of it; cross-process consumers only need the identity
// and the headline numbers.
type busOpportunity struct {
	ID       string    `json:"id"`
	MarketID string    `json:"market_id"`
	Kind     string    `json:"kind"`
	Edge     float64   `json:"edge"`
	Side     string    `json:"side,omitempty"`
	Deadline time.Time `json:"deadline"`
}

// sortOpportunities orders by kind priority, then by edge descending.
// Insertion sort: the slice never holds more than a handful of entries.
func sortOpportunities(opps []domain.ArbitrageOpportunity) {
	for i := 1; i < len(opps); i++ {
		for j := i; j > 0 && better(opps[j], opps[j-1]); j-- {
			opps[j], opps[j-1] = opps[j-1], opps[j]
		}
	}
}

func better(a, b domain.ArbitrageOpportunity) bool {
	if pa, pb := a.Kind.Priority(), b.Kind.Priority(); pa != pb {
		return pa < pb
	}
	return a.Edge > b.Edge
}

func formatFraction(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
