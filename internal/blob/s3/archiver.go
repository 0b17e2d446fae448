package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkarlin/updownbot/internal/domain"
)

// Narrow store contracts for archival. The Postgres stores satisfy them
// through their ListBefore/DeleteBefore methods; the archiver does not need
// the full store interfaces.

// FillArchiveStore reads and prunes aged fills.
type FillArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityArchiveStore reads and prunes aged opportunities.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ExecutionArchiveStore reads and prunes aged executions.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver: aged ledger rows are serialized to
// JSONL, uploaded, then pruned from the primary store. Pruning only happens
// after a successful upload; an upload failure leaves the rows in place for
// the next run.
type Archiver struct {
	writer        domain.BlobWriter
	fills         FillArchiveStore
	opportunities OpportunityArchiveStore
	executions    ExecutionArchiveStore
	logger        *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(
	writer domain.BlobWriter,
	fills FillArchiveStore,
	opportunities OpportunityArchiveStore,
	executions ExecutionArchiveStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:        writer,
		fills:         fills,
		opportunities: opportunities,
		executions:    executions,
		logger:        logger.With("component", "archiver"),
	}
}

// ArchiveFills archives fills recorded strictly before the cutoff.
func (a *Archiver) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.fills.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}
	if err := a.upload(ctx, "fills", before, fills); err != nil {
		return 0, err
	}

	deleted, err := a.fills.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(fills)), fmt.Errorf("s3blob: prune fills: %w", err)
	}
	a.logger.Info("fills archived", "count", len(fills), "pruned", deleted)
	return int64(len(fills)), nil
}

// ArchiveOpportunities archives opportunities detected strictly before the
// cutoff.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opportunities.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}
	if err := a.upload(ctx, "opportunities", before, opps); err != nil {
		return 0, err
	}

	deleted, err := a.opportunities.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(opps)), fmt.Errorf("s3blob: prune opportunities: %w", err)
	}
	a.logger.Info("opportunities archived", "count", len(opps), "pruned", deleted)
	return int64(len(opps)), nil
}

// ArchiveExecutions archives executions completed strictly before the
// cutoff.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.executions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(execs) == 0 {
		return 0, nil
	}
	if err := a.upload(ctx, "executions", before, execs); err != nil {
		return 0, err
	}

	deleted, err := a.executions.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(execs)), fmt.Errorf("s3blob: prune executions: %w", err)
	}
	a.logger.Info("executions archived", "count", len(execs), "pruned", deleted)
	return int64(len(execs)), nil
}

func (a *Archiver) upload(ctx context.Context, kind string, before time.Time, records any) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	key := archiveKey(kind, before)
	if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return nil
}

// archiveKey partitions archive files by the cutoff date:
//
//	archive/fills/2026-08-22.jsonl
func archiveKey(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL(records any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	switch recs := records.(type) {
	case []domain.Fill:
		for i, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
			}
		}
	case []domain.ArbitrageOpportunity:
		for i, rec := range recs {
			if err := enc.Encode(archivedOpportunity(rec)); err != nil {
				return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
			}
		}
	case []domain.Execution:
		for i, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
			}
		}
	default:
		return nil, fmt.Errorf("jsonl: unsupported record type %T", records)
	}
	return buf.Bytes(), nil
}

// archivedOpportunity drops the in-memory snapshot from the archive row; the
// snapshot version is enough to correlate.
func archivedOpportunity(opp domain.ArbitrageOpportunity) map[string]any {
	return map[string]any{
		"id":               opp.ID,
		"market_id":        opp.MarketID,
		"kind":             opp.Kind,
		"edge":             opp.Edge,
		"confidence":       opp.Confidence,
		"side":             opp.Side,
		"snapshot_version": opp.SnapshotVersion,
		"detected_at":      opp.DetectedAt,
		"deadline":         opp.Deadline,
	}
}
