package domain

import "time"

// OpportunityKind classifies how an opportunity was detected.
type OpportunityKind string

const (
	// KindSumToOneLong: both asks sum below 1-theta; buying both legs locks
	// in at least theta at settlement. Risk-free by construction.
	KindSumToOneLong OpportunityKind = "sum_to_one_long"
	// KindSumToOneShort: both bids sum above 1+theta; selling both legs
	// locks in the excess. Risk-free by construction.
	KindSumToOneShort OpportunityKind = "sum_to_one_short"
	// KindMomentumMisaligned: spot moved meaningfully while the implied
	// probability lagged. Directional, carries market risk.
	KindMomentumMisaligned OpportunityKind = "momentum_misaligned"
	// KindOracleMismatch: the settlement oracle already favors one side but
	// that side trades at a deep discount. Directional.
	KindOracleMismatch OpportunityKind = "oracle_mismatch"
)

// Directional reports whether the kind carries market risk (single-leg).
func (k OpportunityKind) Directional() bool {
	return k == KindMomentumMisaligned || k == KindOracleMismatch
}

// Priority orders kinds for tie-breaking within one scan. Lower is better;
// sum-to-one always outranks the directional kinds.
func (k OpportunityKind) Priority() int {
	switch k {
	case KindSumToOneLong, KindSumToOneShort:
		return 0
	case KindOracleMismatch:
		return 1
	default:
		return 2
	}
}

// Confidence grades how certain the edge estimate is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ArbitrageOpportunity is a candidate mispricing emitted by the detector.
// It references the snapshot it was computed from and carries a hard
// deadline: acting after Deadline is forbidden, stale detection is worse
// than no detection.
type ArbitrageOpportunity struct {
	ID       string
	MarketID string
	Kind     OpportunityKind

	// Edge is the expected fractional profit before sizing (gross, net of
	// the fee estimate used during detection).
	Edge       float64
	Confidence Confidence

	// Side is set for directional kinds: the outcome token to buy.
	Side TokenSide

	// SnapshotVersion ties the opportunity to the exact published state it
	// was computed from.
	SnapshotVersion uint64
	Snapshot        MarketSnapshot

	DetectedAt time.Time
	Deadline   time.Time
}

// Expired reports whether the opportunity may no longer be acted on.
func (o ArbitrageOpportunity) Expired(now time.Time) bool {
	return now.After(o.Deadline)
}
