package domain

import "time"

// RejectReason explains why the sizer refused to produce a plan.
type RejectReason string

const (
	RejectStaleData        RejectReason = "stale_data"
	RejectExpired          RejectReason = "opportunity_expired"
	RejectInsufficientDepth RejectReason = "insufficient_depth"
	RejectInsufficientEdge RejectReason = "insufficient_net_edge"
	RejectSlippage         RejectReason = "slippage_exceeded"
	RejectRiskHalted       RejectReason = "risk_halted"
	RejectNoHeadroom       RejectReason = "no_risk_headroom"
)

// PlanLeg is one order of a plan: which token to trade, which direction,
// how much, and at what limit.
type PlanLeg struct {
	Side       TokenSide
	Direction  OrderSide
	Quantity   float64 // shares
	LimitPrice float64 // VWAP over consumed depth, used as the limit
	BestPrice  float64 // top-of-book at sizing time
}

// Notional returns the dollar value of the leg at its limit price.
func (l PlanLeg) Notional() float64 {
	return l.Quantity * l.LimitPrice
}

// OrderPlan is a fully-sized, executable trade derived from an opportunity.
// Invariant: NetEdge >= the configured minimum profit threshold; the sizer
// rejects anything below it before the plan can reach the executor.
type OrderPlan struct {
	ID            string
	OpportunityID string
	MarketID      string
	Kind          OpportunityKind

	Legs []PlanLeg

	// TotalCost is the summed notional across legs.
	TotalCost float64
	// GrossEdge is the expected fractional profit before slippage and fees.
	GrossEdge float64
	// Slippage is the fractional VWAP degradation vs top-of-book.
	Slippage float64
	// FeeRate is the taker fee fraction applied to cost.
	FeeRate float64
	// NetEdge = GrossEdge - Slippage - FeeRate.
	NetEdge float64
	// ExpectedProfit is NetEdge * TotalCost in dollars.
	ExpectedProfit float64

	Deadline  time.Time
	CreatedAt time.Time
}

// Paired reports whether the plan trades both outcome tokens and must be
// treated as a single logical transaction by the executor.
func (p OrderPlan) Paired() bool {
	return len(p.Legs) == 2
}
