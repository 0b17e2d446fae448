package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlin/updownbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Legs are stored as JSONB:
// they are read back whole, never queried individually.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const execCols = `id, plan_id, opportunity_id, market_id, kind, status,
	realized_pnl, legs, started_at, completed_at`

type storedLeg struct {
	OrderID     string  `json:"order_id"`
	Side        string  `json:"side"`
	Direction   string  `json:"direction"`
	Quantity    float64 `json:"quantity"`
	LimitPrice  float64 `json:"limit_price"`
	FilledSize  float64 `json:"filled_size"`
	FilledPrice float64 `json:"filled_price"`
	FeeUSD      float64 `json:"fee_usd"`
	Status      string  `json:"status"`
}

// Insert stores one terminal execution record.
func (s *ExecutionStore) Insert(ctx context.Context, exec domain.Execution) error {
	const query = `
		INSERT INTO executions (` + execCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	legs, err := marshalLegs(exec.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal legs for %s: %w", exec.ID, err)
	}

	_, err = s.pool.Exec(ctx, query,
		exec.ID, exec.PlanID, exec.OpportunityID, exec.MarketID,
		string(exec.Kind), string(exec.Status), exec.RealizedPnL,
		legs, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", exec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent executions by completion time.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	query := `SELECT ` + execCols + ` FROM executions ORDER BY completed_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListBefore returns executions completed strictly before the cutoff,
// oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+execCols+` FROM executions WHERE completed_at < $1 ORDER BY completed_at ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before, err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// DeleteBefore removes executions completed strictly before the cutoff.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func marshalLegs(legs []domain.ExecutionLeg) ([]byte, error) {
	stored := make([]storedLeg, len(legs))
	for i, leg := range legs {
		stored[i] = storedLeg{
			OrderID:     leg.OrderID,
			Side:        string(leg.Side),
			Direction:   string(leg.Direction),
			Quantity:    leg.Quantity,
			LimitPrice:  leg.LimitPrice,
			FilledSize:  leg.FilledSize,
			FilledPrice: leg.FilledPrice,
			FeeUSD:      leg.FeeUSD,
			Status:      string(leg.Status),
		}
	}
	return json.Marshal(stored)
}

func unmarshalLegs(data []byte) ([]domain.ExecutionLeg, error) {
	var stored []storedLeg
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	legs := make([]domain.ExecutionLeg, len(stored))
	for i, leg := range stored {
		legs[i] = domain.ExecutionLeg{
			OrderID:     leg.OrderID,
			Side:        domain.TokenSide(leg.Side),
			Direction:   domain.OrderSide(leg.Direction),
			Quantity:    leg.Quantity,
			LimitPrice:  leg.LimitPrice,
			FilledSize:  leg.FilledSize,
			FilledPrice: leg.FilledPrice,
			FeeUSD:      leg.FeeUSD,
			Status:      domain.OrderStatus(leg.Status),
		}
	}
	return legs, nil
}

func scanExecutions(rows pgx.Rows) ([]domain.Execution, error) {
	var execs []domain.Execution
	for rows.Next() {
		var exec domain.Execution
		var kind, status string
		var legsData []byte
		if err := rows.Scan(
			&exec.ID, &exec.PlanID, &exec.OpportunityID, &exec.MarketID,
			&kind, &status, &exec.RealizedPnL,
			&legsData, &exec.StartedAt, &exec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		legs, err := unmarshalLegs(legsData)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode legs for %s: %w", exec.ID, err)
		}
		exec.Kind = domain.OpportunityKind(kind)
		exec.Status = domain.ExecutionStatus(status)
		exec.Legs = legs
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: execution rows: %w", err)
	}
	return execs, nil
}
