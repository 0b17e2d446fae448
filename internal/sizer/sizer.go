// Package sizer converts a detected opportunity into a concrete, fully-sized
// order plan. It walks the depth ladder for a realistic VWAP fill price,
// applies the slippage and net-edge gates, and caps the size at the risk
// headroom. An opportunity that fails any gate is rejected with a reason,
// never silently dropped.
package sizer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlin/updownbot/internal/domain"
)

// Config holds the sizing gates. All values come from the trading
// configuration.
type Config struct {
	// Theta is the minimum fractional net edge a plan must clear.
	Theta float64
	// MaxSlippage caps the VWAP degradation vs top-of-book, in price units.
	MaxSlippage float64
	// TakerFee is the venue fee as a fraction of notional.
	TakerFee float64
	// MaxPosition is the per-trade dollar cap for the active mode.
	MaxPosition float64
}

// Rejection is the error returned when sizing refuses to produce a plan.
// Rejections are expected outcomes, not faults.
type Rejection struct {
	Reason domain.RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("sizer: rejected: %s", r.Reason)
	}
	return fmt.Sprintf("sizer: rejected: %s (%s)", r.Reason, r.Detail)
}

// Reason extracts the rejection reason from an error returned by Size.
func Reason(err error) (domain.RejectReason, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// Sizer sizes opportunities against the current risk headroom.
type Sizer struct {
	cfg    Config
	risk   domain.RiskView
	logger *slog.Logger

	now func() time.Time
}

// New builds a Sizer. A nil risk view disables the headroom gates (tests,
// monitor mode).
func New(cfg Config, risk domain.RiskView, logger *slog.Logger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		risk:   risk,
		logger: logger.With("component", "sizer"),
		now:    time.Now,
	}
}

// Size turns an opportunity into an order plan or a *Rejection error.
func (s *Sizer) Size(opp domain.ArbitrageOpportunity) (*domain.OrderPlan, error) {
	now := s.now()

	if opp.Expired(now) {
		return nil, &Rejection{Reason: domain.RejectExpired,
			Detail: fmt.Sprintf("deadline %s passed", opp.Deadline.Format(time.RFC3339Nano))}
	}
	if !opp.Snapshot.Fresh {
		return nil, &Rejection{Reason: domain.RejectStaleData}
	}

	budget := s.cfg.MaxPosition
	if s.risk != nil {
		if !s.risk.CanTrade() {
			return nil, &Rejection{Reason: domain.RejectRiskHalted}
		}
		if h := s.risk.Headroom(); h <= 0 {
			return nil, &Rejection{Reason: domain.RejectNoHeadroom}
		} else if h < budget {
			budget = h
		}
	}

	var (
		legs      []domain.PlanLeg
		grossEdge float64
		slippage  float64
		err       error
	)
	switch opp.Kind {
	case domain.KindSumToOneLong:
		legs, grossEdge, slippage, err = s.sizePair(opp.Snapshot.Book, domain.OrderSideBuy, budget)
	case domain.KindSumToOneShort:
		legs, grossEdge, slippage, err = s.sizePair(opp.Snapshot.Book, domain.OrderSideSell, budget)
	default:
		legs, grossEdge, slippage, err = s.sizeDirectional(opp, budget)
	}
	if err != nil {
		return nil, err
	}

	if slippage > s.cfg.MaxSlippage {
		return nil, &Rejection{Reason: domain.RejectSlippage,
			Detail: fmt.Sprintf("slippage %.4f > max %.4f", slippage, s.cfg.MaxSlippage)}
	}

	netEdge := grossEdge - slippage - s.cfg.TakerFee
	if netEdge < s.cfg.Theta {
		return nil, &Rejection{Reason: domain.RejectInsufficientEdge,
			Detail: fmt.Sprintf("net edge %.4f < theta %.4f", netEdge, s.cfg.Theta)}
	}

	var totalCost float64
	for _, l := range legs {
		totalCost += l.Notional()
	}

	plan := &domain.OrderPlan{
		ID:             uuid.NewString(),
		OpportunityID:  opp.ID,
		MarketID:       opp.MarketID,
		Kind:           opp.Kind,
		Legs:           legs,
		TotalCost:      totalCost,
		GrossEdge:      grossEdge,
		Slippage:       slippage,
		FeeRate:        s.cfg.TakerFee,
		NetEdge:        netEdge,
		ExpectedProfit: netEdge * totalCost,
		Deadline:       opp.Deadline,
		CreatedAt:      now,
	}

	s.logger.Info("plan sized",
		"plan_id", plan.ID,
		"opportunity_id", opp.ID,
		"kind", string(opp.Kind),
		"total_cost", plan.TotalCost,
		"net_edge", plan.NetEdge,
		"slippage", plan.Slippage)
	return plan, nil
}

// sizePair sizes the two legs of a sum-to-one trade as equal quantities on
// both outcome tokens. Buy walks the asks, sell walks the bids.
func (s *Sizer) sizePair(book domain.OrderBookSnapshot, dir domain.OrderSide, budget float64) ([]domain.PlanLeg, float64, float64, error) {
	var upLadder, downLadder []domain.PriceLevel
	if dir == domain.OrderSideBuy {
		upLadder, downLadder = book.Up.Asks, book.Down.Asks
	} else {
		upLadder, downLadder = book.Up.Bids, book.Down.Bids
	}
	if len(upLadder) == 0 || len(downLadder) == 0 {
		return nil, 0, 0, &Rejection{Reason: domain.RejectInsufficientDepth, Detail: "empty ladder"}
	}

	bestSum := upLadder[0].Price + downLadder[0].Price

	qty, vwapUp, vwapDown := walkPair(upLadder, downLadder, budget, dir, s.cfg.Theta)
	if qty <= 0 {
		return nil, 0, 0, &Rejection{Reason: domain.RejectInsufficientDepth,
			Detail: fmt.Sprintf("no size within budget %.2f", budget)}
	}

	var grossEdge, slippage float64
	if dir == domain.OrderSideBuy {
		grossEdge = 1 - bestSum
		slippage = (vwapUp + vwapDown) - bestSum
	} else {
		grossEdge = bestSum - 1
		slippage = bestSum - (vwapUp + vwapDown)
	}

	legs := []domain.PlanLeg{
		{Side: domain.TokenSideUp, Direction: dir, Quantity: qty, LimitPrice: vwapUp, BestPrice: upLadder[0].Price},
		{Side: domain.TokenSideDown, Direction: dir, Quantity: qty, LimitPrice: vwapDown, BestPrice: downLadder[0].Price},
	}
	return legs, grossEdge, slippage, nil
}

// sizeDirectional sizes the single buy leg of a momentum or oracle trade.
// The gross edge is the detector's estimate; the walk only degrades it.
func (s *Sizer) sizeDirectional(opp domain.ArbitrageOpportunity, budget float64) ([]domain.PlanLeg, float64, float64, error) {
	ladder := opp.Snapshot.Book.Side(opp.Side).Asks
	if len(ladder) == 0 {
		return nil, 0, 0, &Rejection{Reason: domain.RejectInsufficientDepth, Detail: "empty ladder"}
	}
	best := ladder[0].Price

	qty, vwap := walkSingle(ladder, budget)
	if qty <= 0 {
		return nil, 0, 0, &Rejection{Reason: domain.RejectInsufficientDepth,
			Detail: fmt.Sprintf("no size within budget %.2f", budget)}
	}

	legs := []domain.PlanLeg{
		{Side: opp.Side, Direction: domain.OrderSideBuy, Quantity: qty, LimitPrice: vwap, BestPrice: best},
	}
	return legs, opp.Edge, vwap - best, nil
}

// walkSingle walks one ladder accumulating whole levels until the next level
// would push notional past the budget. Levels are never split: the VWAP is
// over levels fully consumed, so top-of-book-only fills report zero slippage.
func walkSingle(levels []domain.PriceLevel, budget float64) (qty, vwap float64) {
	var cost float64
	for _, l := range levels {
		c := l.Price * l.Size
		if cost+c > budget {
			break
		}
		qty += l.Size
		cost += c
	}
	if qty == 0 {
		return 0, 0
	}
	return qty, cost / qty
}

// walkPair walks both ladders in lockstep, consuming equal quantity on each
// side. Segment boundaries come from whichever ladder's current level runs
// out first. A segment stops the walk when it would overrun the budget or
// when its marginal pair edge falls below theta.
func walkPair(up, down []domain.PriceLevel, budget float64, dir domain.OrderSide, theta float64) (qty, vwapUp, vwapDown float64) {
	var (
		i, j           int
		remUp, remDown float64
		cost           float64
		costUp         float64
		costDown       float64
	)
	if len(up) > 0 {
		remUp = up[0].Size
	}
	if len(down) > 0 {
		remDown = down[0].Size
	}

	for i < len(up) && j < len(down) {
		pUp, pDown := up[i].Price, down[j].Price
		pairPrice := pUp + pDown

		var marginal float64
		if dir == domain.OrderSideBuy {
			marginal = 1 - pairPrice
		} else {
			marginal = pairPrice - 1
		}
		if marginal < theta {
			break
		}

		seg := remUp
		if remDown < seg {
			seg = remDown
		}
		if cost+seg*pairPrice > budget {
			break
		}

		qty += seg
		cost += seg * pairPrice
		costUp += seg * pUp
		costDown += seg * pDown

		remUp -= seg
		remDown -= seg
		if remUp <= 0 {
			i++
			if i < len(up) {
				remUp = up[i].Size
			}
		}
		if remDown <= 0 {
			j++
			if j < len(down) {
				remDown = down[j].Size
			}
		}
	}

	if qty == 0 {
		return 0, 0, 0
	}
	return qty, costUp / qty, costDown / qty
}
