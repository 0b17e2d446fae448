package domain

import "errors"

var (
	// ErrFeedDown: transport failure on a feed. Recoverable via
	// reconnect-with-backoff; the feed's slice of market state is stale
	// until a fresh message arrives.
	ErrFeedDown = errors.New("feed disconnected")

	// ErrStaleData: detection or sizing refused to act on data older than
	// the freshness threshold. Self-heals on fresh data.
	ErrStaleData = errors.New("market data stale")

	// ErrInsufficientDepth: the book cannot fill any size at acceptable
	// slippage. Expected, non-fatal: simply no trade.
	ErrInsufficientDepth = errors.New("insufficient book depth")

	// ErrInsufficientEdge: net edge after slippage and fees fell below the
	// minimum profit threshold. Expected, non-fatal.
	ErrInsufficientEdge = errors.New("insufficient net edge")

	// ErrExecutionTimeout: no venue acknowledgment within the submission
	// window. The order is treated as failed and the position reconciled
	// conservatively as unfilled until proven otherwise.
	ErrExecutionTimeout = errors.New("order submission timed out")

	// ErrRiskHalted: the daily loss circuit breaker has tripped. New trades
	// are vetoed until the explicit day-boundary reset.
	ErrRiskHalted = errors.New("risk gate halted")

	// ErrUnhedgedLeg: one leg of a paired trade filled and the other did
	// not. Always escalated at the highest priority, never absorbed.
	ErrUnhedgedLeg = errors.New("unhedged leg")

	// ErrLockHeld: the per-market execution lock is already taken.
	ErrLockHeld = errors.New("execution lock already held")

	ErrNotFound = errors.New("not found")
)
