package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// AuditStore is the append-only audit log. It records what an operator must
// be able to reconstruct later: unhedged partial failures and archive runs.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, raw); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	tail, args := listFilter("created_at", opts)
	rows, err := s.pool.Query(ctx, `SELECT id, event, detail, created_at FROM audit_log`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e   domain.AuditEntry
		raw []byte
		at  time.Time
	)
	if err := row.Scan(&e.ID, &e.Event, &raw, &at); err != nil {
		return e, err
	}
	e.CreatedAt = at.UTC()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshal detail of entry %d: %w", e.ID, err)
		}
	}
	return e, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
