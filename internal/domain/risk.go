package domain

import "time"

// RiskStatus is the circuit-breaker state of the risk gate.
type RiskStatus string

const (
	RiskActive RiskStatus = "active"
	// RiskHalted is entered when the daily loss limit is breached. It is
	// deliberately irreversible until the explicit day-boundary reset.
	RiskHalted RiskStatus = "halted"
)

// RiskState is the running risk picture for one trading day. Mutated only by
// the execution manager (through the risk gate); every other component reads
// it through RiskView.
type RiskState struct {
	Day         time.Time // UTC midnight of the trading day
	RealizedPnL float64
	Exposure    float64 // open notional across markets
	Trades      int
	Status      RiskStatus
}

// RiskView is the read-only accessor the detector and sizer use to decide
// feasibility. They never mutate risk state.
type RiskView interface {
	// CanTrade is false once the daily loss limit has been breached.
	CanTrade() bool
	// Headroom is the maximum additional capital committable right now:
	// max position minus current exposure, further bounded by the remaining
	// daily-loss budget.
	Headroom() float64
	// State returns a copy of the current risk state.
	State() RiskState
}
