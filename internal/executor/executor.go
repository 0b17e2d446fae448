// Package executor submits sized order plans to the venue and tracks every
// order to a definite terminal state. The two legs of a sum-to-one plan are
// one logical transaction: if one fills and the other does not, the result
// is an unhedged execution that is recorded, alerted at critical priority
// and never silently unwound.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlin/updownbot/internal/domain"
	"github.com/mkarlin/updownbot/internal/risk"
)

// Venue is the order-submission surface of the trading venue.
type Venue interface {
	// SubmitOrder places one limit order and waits for the acknowledgment.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	// CancelOrder cancels the unfilled remainder of an order.
	CancelOrder(ctx context.Context, orderID string) error
}

// Config holds the execution tunables.
type Config struct {
	// SubmitTimeout bounds the wait for a venue acknowledgment. An order
	// with no acknowledgment inside it is Failed, never assumed filled.
	SubmitTimeout time.Duration
	// RateLimit / RateWindow bound outbound submissions.
	RateLimit  int
	RateWindow time.Duration
	// LockTTL bounds how long the per-market execution lock may be held.
	LockTTL time.Duration
}

// Manager executes order plans. One Execute call runs at a time per market,
// enforced through the lock manager.
type Manager struct {
	cfg      Config
	venue    Venue
	gate     *risk.Gate
	locks    domain.LockManager
	limiter  domain.RateLimiter
	fills    domain.FillStore
	execs    domain.ExecutionStore
	notifier domain.Notifier
	logger   *slog.Logger

	now func() time.Time
}

// New builds a Manager. Locks are required; limiter, stores and notifier are
// optional and disabled when nil.
func New(cfg Config, venue Venue, gate *risk.Gate, locks domain.LockManager, limiter domain.RateLimiter, fills domain.FillStore, execs domain.ExecutionStore, notifier domain.Notifier, logger *slog.Logger) *Manager {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		venue:    venue,
		gate:     gate,
		locks:    locks,
		limiter:  limiter,
		fills:    fills,
		execs:    execs,
		notifier: notifier,
		logger:   logger.With("component", "executor"),
		now:      time.Now,
	}
}

// Execute runs one plan to a terminal Execution record. It returns an error
// only when execution could not start (expired plan, lock held, rate limit);
// once the first order goes out, the outcome is always a record, never an
// error.
func (m *Manager) Execute(ctx context.Context, plan *domain.OrderPlan) (*domain.Execution, error) {
	now := m.now()
	if now.After(plan.Deadline) {
		return nil, fmt.Errorf("executor: plan %s: %w", plan.ID, domain.ErrStaleData)
	}

	unlock, err := m.locks.Acquire(ctx, "exec:"+plan.MarketID, m.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			m.logger.Debug("execution lock held, skipping plan",
				"plan_id", plan.ID, "market_id", plan.MarketID)
		}
		return nil, fmt.Errorf("executor: acquire lock for %s: %w", plan.MarketID, err)
	}
	defer unlock()

	// Reserve a rate-limit slot per leg before the first submission so the
	// limiter can never strand a paired plan halfway.
	if m.limiter != nil {
		for range plan.Legs {
			ok, err := m.limiter.Allow(ctx, "orders", m.cfg.RateLimit, m.cfg.RateWindow)
			if err != nil {
				return nil, fmt.Errorf("executor: rate limiter: %w", err)
			}
			if !ok {
				return nil, fmt.Errorf("executor: plan %s: order rate limit reached", plan.ID)
			}
		}
	}

	exec := &domain.Execution{
		ID:            uuid.NewString(),
		PlanID:        plan.ID,
		OpportunityID: plan.OpportunityID,
		MarketID:      plan.MarketID,
		Kind:          plan.Kind,
		StartedAt:     now,
	}

	for _, leg := range plan.Legs {
		exec.Legs = append(exec.Legs, m.submitLeg(ctx, plan, leg))
	}
	exec.CompletedAt = m.now()
	exec.Status = summarize(exec.Legs, plan.Paired())

	m.finalize(ctx, plan, exec)
	return exec, nil
}

// submitLeg runs one order through the state machine:
//
//	Pending -> Submitted -> {Filled, PartiallyFilled, Cancelled, Rejected, Failed}
//
// A partial fill cancels the remainder rather than resubmitting; the window
// is too short-lived for retry-to-completion.
func (m *Manager) submitLeg(ctx context.Context, plan *domain.OrderPlan, leg domain.PlanLeg) domain.ExecutionLeg {
	out := domain.ExecutionLeg{
		OrderID:    uuid.NewString(),
		Side:       leg.Side,
		Direction:  leg.Direction,
		Quantity:   leg.Quantity,
		LimitPrice: leg.LimitPrice,
		Status:     domain.OrderStatusPending,
	}

	req := domain.OrderRequest{
		ID:         out.OrderID,
		MarketID:   plan.MarketID,
		Side:       leg.Side,
		Direction:  leg.Direction,
		Quantity:   leg.Quantity,
		LimitPrice: leg.LimitPrice,
	}

	m.logger.Info("submitting order",
		"plan_id", plan.ID,
		"order_id", out.OrderID,
		"side", string(leg.Side),
		"direction", string(leg.Direction),
		"quantity", leg.Quantity,
		"limit_price", leg.LimitPrice)
	m.notify(ctx, domain.Event{
		Type:     domain.EventOrderSubmitted,
		Priority: domain.PriorityInfo,
		MarketID: plan.MarketID,
		Summary:  fmt.Sprintf("submitting %s %s %.2f @ %.4f", leg.Direction, leg.Side, leg.Quantity, leg.LimitPrice),
		Fields:   map[string]string{"plan_id": plan.ID, "order_id": out.OrderID},
		At:       m.now(),
	})

	out.Status = domain.OrderStatusSubmitted

	submitCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	defer cancel()

	res, err := m.venue.SubmitOrder(submitCtx, req)
	if err != nil {
		out.Status = domain.OrderStatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			// No acknowledgment: reconcile conservatively as unfilled until
			// proven otherwise.
			m.logger.Error("order acknowledgment timed out",
				"order_id", out.OrderID, "timeout", m.cfg.SubmitTimeout.String(),
				"error", domain.ErrExecutionTimeout)
		} else {
			m.logger.Error("order submission failed", "order_id", out.OrderID, "error", err)
		}
		return out
	}

	out.Status = res.Status
	out.FilledSize = res.FilledSize
	out.FilledPrice = res.FilledPrice
	out.FeeUSD = res.FeeUSD

	if res.Status == domain.OrderStatusPartiallyFilled {
		if err := m.venue.CancelOrder(ctx, res.OrderID); err != nil {
			m.logger.Warn("cancel of unfilled remainder failed",
				"order_id", out.OrderID, "error", err)
		}
	}
	if !out.Status.Terminal() {
		// The venue acknowledged without a terminal state; the submission
		// window is the only wait we allow, so close it out as cancelled.
		if err := m.venue.CancelOrder(ctx, res.OrderID); err != nil {
			m.logger.Warn("cancel of unacknowledged order failed",
				"order_id", out.OrderID, "error", err)
		}
		out.Status = domain.OrderStatusCancelled
	}
	return out
}

// finalize writes the ledgers, applies the single risk update and emits the
// one terminal notification for the execution.
func (m *Manager) finalize(ctx context.Context, plan *domain.OrderPlan, exec *domain.Execution) {
	var (
		fills    []domain.Fill
		exposure float64
	)
	for _, leg := range exec.Legs {
		if leg.FilledSize <= 0 {
			continue
		}
		fill := domain.Fill{
			ID:        uuid.NewString(),
			OrderID:   leg.OrderID,
			PlanID:    plan.ID,
			MarketID:  plan.MarketID,
			Side:      leg.Side,
			Direction: leg.Direction,
			Quantity:  leg.FilledSize,
			Price:     leg.FilledPrice,
			FeeUSD:    leg.FeeUSD,
			Timestamp: exec.CompletedAt,
		}
		fills = append(fills, fill)
		exposure += fill.Quantity * fill.Price
	}

	if m.fills != nil && len(fills) > 0 {
		if err := m.fills.InsertBatch(ctx, fills); err != nil {
			m.logger.Error("fill ledger insert failed", "plan_id", plan.ID, "error", err)
		}
	}
	if m.execs != nil {
		if err := m.execs.Insert(ctx, *exec); err != nil {
			m.logger.Error("execution ledger insert failed", "execution_id", exec.ID, "error", err)
		}
	}

	// Exactly one risk update per execution, fills or not.
	if m.gate != nil {
		m.gate.Record(ctx, risk.Delta{Exposure: exposure, Trades: 1})
	}

	fields := map[string]string{
		"plan_id":      plan.ID,
		"execution_id": exec.ID,
		"kind":         string(plan.Kind),
		"status":       string(exec.Status),
		"exposure":     strconv.FormatFloat(exposure, 'f', 2, 64),
	}

	switch exec.Status {
	case domain.ExecutionUnhedged:
		m.logger.Error("unhedged leg: one side filled, the other did not",
			"execution_id", exec.ID, "plan_id", plan.ID, "error", domain.ErrUnhedgedLeg)
		m.notify(ctx, domain.Event{
			Type:     domain.EventUnhedgedLeg,
			Priority: domain.PriorityCritical,
			MarketID: plan.MarketID,
			Summary:  "unhedged leg: one side of a paired trade filled, the other did not; manual intervention required",
			Fields:   fields,
			At:       exec.CompletedAt,
		})
	case domain.ExecutionFailed:
		m.logger.Warn("execution failed", "execution_id", exec.ID, "plan_id", plan.ID)
		m.notify(ctx, domain.Event{
			Type:     domain.EventOrderFailed,
			Priority: domain.PriorityWarning,
			MarketID: plan.MarketID,
			Summary:  "execution failed, no fills",
			Fields:   fields,
			At:       exec.CompletedAt,
		})
	default:
		m.logger.Info("execution complete",
			"execution_id", exec.ID,
			"status", string(exec.Status),
			"exposure", exposure)
		m.notify(ctx, domain.Event{
			Type:     domain.EventOrderFilled,
			Priority: domain.PriorityInfo,
			MarketID: plan.MarketID,
			Summary:  fmt.Sprintf("execution %s", exec.Status),
			Fields:   fields,
			At:       exec.CompletedAt,
		})
	}
}

// Settle realizes the P&L of a terminal execution once the market resolves.
// Payout is 1 per share on the winning side, 0 on the losing side; the
// exposure committed at fill time is released.
func (m *Manager) Settle(ctx context.Context, exec domain.Execution, winner domain.TokenSide) {
	var pnl, exposure float64
	for _, leg := range exec.Legs {
		if leg.FilledSize <= 0 {
			continue
		}
		cost := leg.FilledSize*leg.FilledPrice + leg.FeeUSD
		var payout float64
		if leg.Side == winner {
			payout = leg.FilledSize
		}
		if leg.Direction == domain.OrderSideSell {
			// Short: collected the premium, owes the payout.
			pnl += cost - payout
		} else {
			pnl += payout - cost
		}
		exposure += leg.FilledSize * leg.FilledPrice
	}

	if m.gate != nil {
		m.gate.Record(ctx, risk.Delta{RealizedPnL: pnl, Exposure: -exposure})
	}
	m.logger.Info("execution settled",
		"execution_id", exec.ID,
		"winner", string(winner),
		"realized_pnl", pnl)
}

func (m *Manager) notify(ctx context.Context, ev domain.Event) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, ev)
	}
}

// summarize folds per-leg outcomes into the execution status. For paired
// plans, exactly one filled side is the unhedged case.
func summarize(legs []domain.ExecutionLeg, paired bool) domain.ExecutionStatus {
	var filled, touched int
	for _, leg := range legs {
		if leg.FilledSize > 0 {
			touched++
			if leg.Status == domain.OrderStatusFilled {
				filled++
			}
		}
	}

	if paired && touched > 0 && touched < len(legs) {
		return domain.ExecutionUnhedged
	}
	if touched == 0 {
		return domain.ExecutionFailed
	}
	if filled == len(legs) {
		return domain.ExecutionFilled
	}
	return domain.ExecutionPartial
}
