package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlin/updownbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore. The market snapshot
// the opportunity was computed from is not persisted; its version suffices
// to correlate with executions.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppCols = `id, market_id, kind, edge, confidence, side,
	snapshot_version, detected_at, deadline`

// Insert stores one detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	const query = `
		INSERT INTO opportunities (` + oppCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.MarketID, string(opp.Kind), opp.Edge, string(opp.Confidence),
		string(opp.Side), int64(opp.SnapshotVersion), opp.DetectedAt, opp.Deadline,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the most recent opportunities by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + oppCols + ` FROM opportunities ORDER BY detected_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// ListBefore returns opportunities detected strictly before the cutoff,
// oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppCols+` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// DeleteBefore removes opportunities detected strictly before the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanOpportunities(rows pgx.Rows) ([]domain.ArbitrageOpportunity, error) {
	var opps []domain.ArbitrageOpportunity
	for rows.Next() {
		var opp domain.ArbitrageOpportunity
		var kind, confidence, side string
		var version int64
		if err := rows.Scan(
			&opp.ID, &opp.MarketID, &kind, &opp.Edge, &confidence,
			&side, &version, &opp.DetectedAt, &opp.Deadline,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.Kind = domain.OpportunityKind(kind)
		opp.Confidence = domain.Confidence(confidence)
		opp.Side = domain.TokenSide(side)
		opp.SnapshotVersion = uint64(version)
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}
