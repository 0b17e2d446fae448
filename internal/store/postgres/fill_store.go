package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlin/updownbot/internal/domain"
)

// FillStore implements domain.FillStore.
type FillStore struct {
	pool *pgxpool.Pool
}

var _ domain.FillStore = (*FillStore)(nil)

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillCols = `id, order_id, plan_id, market_id, side, direction,
	quantity, price, fee_usd, ts`

const fillInsert = `
	INSERT INTO fills (` + fillCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Insert stores one fill.
func (s *FillStore) Insert(ctx context.Context, fill domain.Fill) error {
	_, err := s.pool.Exec(ctx, fillInsert,
		fill.ID, fill.OrderID, fill.PlanID, fill.MarketID,
		string(fill.Side), string(fill.Direction),
		fill.Quantity, fill.Price, fill.FeeUSD, fill.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", fill.ID, err)
	}
	return nil
}

// InsertBatch stores all fills atomically. An execution's fills land
// together or not at all.
func (s *FillStore) InsertBatch(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, fill := range fills {
		batch.Queue(fillInsert,
			fill.ID, fill.OrderID, fill.PlanID, fill.MarketID,
			string(fill.Side), string(fill.Direction),
			fill.Quantity, fill.Price, fill.FeeUSD, fill.Timestamp,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range fills {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch: %w", err)
		}
	}
	return nil
}

// ListByMarket returns the most recent fills for a market.
func (s *FillStore) ListByMarket(ctx context.Context, marketID string, limit int) ([]domain.Fill, error) {
	query := `SELECT ` + fillCols + ` FROM fills WHERE market_id = $1 ORDER BY ts DESC`
	args := []any{marketID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", marketID, err)
	}
	defer rows.Close()
	return scanFills(rows)
}

// ListBefore returns fills strictly older than the cutoff, oldest first.
func (s *FillStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillCols+` FROM fills WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before %s: %w", before, err)
	}
	defer rows.Close()
	return scanFills(rows)
}

// DeleteBefore removes fills strictly older than the cutoff. Used by the
// archiver after a successful upload.
func (s *FillStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fills WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanFills(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, direction string
		if err := rows.Scan(
			&f.ID, &f.OrderID, &f.PlanID, &f.MarketID, &side, &direction,
			&f.Quantity, &f.Price, &f.FeeUSD, &f.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Side = domain.TokenSide(side)
		f.Direction = domain.OrderSide(direction)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fill rows: %w", err)
	}
	return fills, nil
}
