package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the per-order state machine:
//
//	Pending -> Submitted -> {Filled, PartiallyFilled, Cancelled, Rejected, Failed}
//
// Every order reaches exactly one terminal status; a missing acknowledgment
// within the submission timeout becomes Failed, never an assumed fill.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusFailed          OrderStatus = "failed"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusCancelled,
		OrderStatusRejected, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// OrderRequest is what the executor submits to the venue for one leg.
type OrderRequest struct {
	ID         string
	MarketID   string
	Side       TokenSide
	Direction  OrderSide
	Quantity   float64
	LimitPrice float64
}

// OrderResult is the venue's acknowledgment of a submission.
type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledSize   float64
	FilledPrice  float64
	FeeUSD       float64
	Message      string
}

// Fill is an append-only ledger entry recorded for every (partial) fill.
// Owned by the execution manager; read-only everywhere else.
type Fill struct {
	ID        string
	OrderID   string
	PlanID    string
	MarketID  string
	Side      TokenSide
	Direction OrderSide
	Quantity  float64
	Price     float64
	FeeUSD    float64
	Timestamp time.Time
}

// Cost returns the signed dollar cost of the fill (positive for buys).
func (f Fill) Cost() float64 {
	c := f.Quantity*f.Price + f.FeeUSD
	if f.Direction == OrderSideSell {
		return -c
	}
	return c
}

// ExecutionStatus summarizes a whole plan's outcome.
type ExecutionStatus string

const (
	ExecutionFilled   ExecutionStatus = "filled"
	ExecutionPartial  ExecutionStatus = "partial"
	ExecutionFailed   ExecutionStatus = "failed"
	ExecutionUnhedged ExecutionStatus = "unhedged"
)

// ExecutionLeg records one leg's terminal outcome inside an execution.
type ExecutionLeg struct {
	OrderID     string
	Side        TokenSide
	Direction   OrderSide
	Quantity    float64
	LimitPrice  float64
	FilledSize  float64
	FilledPrice float64
	FeeUSD      float64
	Status      OrderStatus
}

// Execution is the ledger record for one executed plan, including the
// unhedged case where one leg of a paired trade filled and the other did
// not. Append-only, owned by the execution manager.
type Execution struct {
	ID            string
	PlanID        string
	OpportunityID string
	MarketID      string
	Kind          OpportunityKind
	Legs          []ExecutionLeg
	Status        ExecutionStatus
	RealizedPnL   float64
	StartedAt     time.Time
	CompletedAt   time.Time
}
