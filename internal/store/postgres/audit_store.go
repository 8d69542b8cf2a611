package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditStore keeps the append-only log of admin actions, fulfillments and
// archive runs.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: encode detail: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES (@event, @detail)`,
		pgx.NamedArgs{"event": event, "detail": raw},
	); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// Unset bounds are passed as NULL and short-circuit their predicate.
const auditListQuery = `
SELECT id, event, detail, created_at
FROM audit_log
WHERE (@since::timestamptz IS NULL OR created_at >= @since)
  AND (@until::timestamptz IS NULL OR created_at <= @until)
ORDER BY created_at DESC, id DESC
LIMIT @limit OFFSET @offset`

// List returns entries newest first. A zero limit returns everything.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	args := pgx.NamedArgs{
		"since":  opts.Since,
		"until":  opts.Until,
		"limit":  nil,
		"offset": max(opts.Offset, 0),
	}
	if opts.Limit > 0 {
		args["limit"] = opts.Limit
	}

	rows, err := s.pool.Query(ctx, auditListQuery, args)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if raw != nil {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("audit %d: decode detail: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}
