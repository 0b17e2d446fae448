package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlin/updownbot/internal/domain"
)

// RiskDayStore implements domain.RiskDayStore: one row per UTC trading day,
// upserted on every risk mutation so a restart resumes the day's budget.
type RiskDayStore struct {
	pool *pgxpool.Pool
}

var _ domain.RiskDayStore = (*RiskDayStore)(nil)

// NewRiskDayStore creates a RiskDayStore backed by the given pool.
func NewRiskDayStore(pool *pgxpool.Pool) *RiskDayStore {
	return &RiskDayStore{pool: pool}
}

// Upsert writes the day's risk state, replacing any existing row.
func (s *RiskDayStore) Upsert(ctx context.Context, state domain.RiskState) error {
	const query = `
		INSERT INTO risk_days (day, realized_pnl, exposure, trades, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (day) DO UPDATE SET
			realized_pnl = EXCLUDED.realized_pnl,
			exposure     = EXCLUDED.exposure,
			trades       = EXCLUDED.trades,
			status       = EXCLUDED.status,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		state.Day, state.RealizedPnL, state.Exposure, state.Trades, string(state.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert risk day %s: %w", state.Day.Format("2006-01-02"), err)
	}
	return nil
}

// Get returns the stored state for the given UTC day, or domain.ErrNotFound.
func (s *RiskDayStore) Get(ctx context.Context, day time.Time) (domain.RiskState, error) {
	const query = `
		SELECT day, realized_pnl, exposure, trades, status
		FROM risk_days WHERE day = $1`

	var state domain.RiskState
	var status string
	err := s.pool.QueryRow(ctx, query, day).Scan(
		&state.Day, &state.RealizedPnL, &state.Exposure, &state.Trades, &status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RiskState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("postgres: get risk day %s: %w", day.Format("2006-01-02"), err)
	}
	state.Day = state.Day.UTC()
	state.Status = domain.RiskStatus(status)
	return state, nil
}
