package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Each result is one row
// in executions plus two rows in execution_legs.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, intent_id, strategy, instrument, direction, mode, state, tx_id, dry_run, started_at, completed_at`

// Create inserts a result and its legs. A result for an intent that is
// already journaled is ignored.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (intent_id) DO NOTHING`,
		res.ID, res.IntentID, res.Strategy, res.Instrument, string(res.Direction),
		string(res.Mode), string(res.State), res.TxID, res.DryRun, res.StartedAt, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	for _, l := range []struct {
		name string
		leg  domain.LegResult
	}{{"a", res.LegA}, {"b", res.LegB}} {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, leg, venue_id, instrument, direction, price, quantity, notional_usd, reduce_only, client_order_id, status, order_id, error)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12, $13)`,
			res.ID, l.name, l.leg.Spec.VenueID, l.leg.Spec.Instrument, string(l.leg.Spec.Direction),
			l.leg.Spec.Price.String(), l.leg.Spec.Quantity.String(), l.leg.Spec.NotionalUSD.String(),
			l.leg.Spec.ReduceOnly, l.leg.Spec.ClientOrderID, string(l.leg.Status), l.leg.OrderID, l.leg.Error,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution leg %s/%s: %w", res.ID, l.name, err)
		}
	}
	return tx.Commit(ctx)
}

// GetByIntentID returns the journaled result of an intent.
func (s *ExecutionStore) GetByIntentID(ctx context.Context, intentID string) (domain.ExecutionResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE intent_id = $1`, intentID)
	res, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, fmt.Errorf("postgres: execution for intent %s: %w", intentID, domain.ErrNotFound)
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution for intent %s: %w", intentID, err)
	}
	list := []domain.ExecutionResult{res}
	if err := s.loadLegs(ctx, list); err != nil {
		return domain.ExecutionResult{}, err
	}
	return list[0], nil
}

// ListRecent returns results newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	tail, args := listFilter("started_at", opts)
	return s.query(ctx, `SELECT `+executionColumns+` FROM executions`+tail, args...)
}

// ListBefore returns up to limit results started before the cutoff,
// oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.query(ctx, `SELECT `+executionColumns+` FROM executions WHERE started_at < $1 ORDER BY started_at ASC LIMIT $2`,
		before, limit)
}

// DeleteBefore removes results started before the cutoff. Legs go with
// them.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *ExecutionStore) query(ctx context.Context, query string, args ...any) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionResult
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		list = append(list, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	if err := s.loadLegs(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// loadLegs fills LegA and LegB of every result in one query.
func (s *ExecutionStore) loadLegs(ctx context.Context, list []domain.ExecutionResult) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	byID := make(map[string]*domain.ExecutionResult, len(list))
	for i := range list {
		ids[i] = list[i].ID
		byID[list[i].ID] = &list[i]
	}

	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, leg, venue_id, instrument, direction, price::text, quantity::text, notional_usd::text,
		       reduce_only, client_order_id, status, order_id, error
		FROM execution_legs WHERE execution_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: load execution legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			execID, leg, direction, status string
			price, qty, notional           string
			l                              domain.LegResult
		)
		if err := rows.Scan(&execID, &leg, &l.Spec.VenueID, &l.Spec.Instrument, &direction, &price, &qty, &notional,
			&l.Spec.ReduceOnly, &l.Spec.ClientOrderID, &status, &l.OrderID, &l.Error); err != nil {
			return fmt.Errorf("postgres: scan execution leg: %w", err)
		}
		l.Spec.Direction = domain.Direction(direction)
		l.Status = domain.LegStatus(status)
		if l.Spec.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("postgres: leg price %q: %w", price, err)
		}
		if l.Spec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return fmt.Errorf("postgres: leg quantity %q: %w", qty, err)
		}
		if l.Spec.NotionalUSD, err = decimal.NewFromString(notional); err != nil {
			return fmt.Errorf("postgres: leg notional %q: %w", notional, err)
		}

		res, ok := byID[execID]
		if !ok {
			continue
		}
		if leg == "a" {
			res.LegA = l
		} else {
			res.LegB = l
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: execution legs rows: %w", err)
	}
	return nil
}

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var (
		res                    domain.ExecutionResult
		direction, mode, state string
	)
	err := row.Scan(&res.ID, &res.IntentID, &res.Strategy, &res.Instrument, &direction, &mode, &state,
		&res.TxID, &res.DryRun, &res.StartedAt, &res.CompletedAt)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	res.Direction = domain.Direction(direction)
	res.Mode = domain.ExecutionMode(mode)
	res.State = domain.ExecutionState(state)
	return res, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
