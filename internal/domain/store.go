package domain

import (
	"context"
	"time"
)

// FillStore persists the append-only fill ledger.
type FillStore interface {
	Insert(ctx context.Context, fill Fill) error
	InsertBatch(ctx context.Context, fills []Fill) error
	ListByMarket(ctx context.Context, marketID string, limit int) ([]Fill, error)
	// ListBefore returns fills with a timestamp strictly before the cutoff,
	// used by the archiver.
	ListBefore(ctx context.Context, before time.Time) ([]Fill, error)
}

// OpportunityStore persists detected opportunities for later analysis.
type OpportunityStore interface {
	Insert(ctx context.Context, opp ArbitrageOpportunity) error
	ListRecent(ctx context.Context, limit int) ([]ArbitrageOpportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]ArbitrageOpportunity, error)
}

// ExecutionStore persists terminal execution records, including unhedged
// outcomes.
type ExecutionStore interface {
	Insert(ctx context.Context, exec Execution) error
	ListRecent(ctx context.Context, limit int) ([]Execution, error)
	ListBefore(ctx context.Context, before time.Time) ([]Execution, error)
}

// RiskDayStore persists one row per trading day so a restart resumes the
// current day's loss budget instead of silently resetting it.
type RiskDayStore interface {
	Upsert(ctx context.Context, state RiskState) error
	// Get returns the stored state for the given UTC day, or ErrNotFound.
	Get(ctx context.Context, day time.Time) (RiskState, error)
}

// Archiver moves aged ledger rows to object storage as JSONL.
type Archiver interface {
	ArchiveFills(ctx context.Context, before time.Time) (int64, error)
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
	ArchiveExecutions(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter writes a blob to object storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// BlobReader reads a blob from object storage.
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
