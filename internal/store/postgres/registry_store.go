package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var _ domain.RegistryStore = (*RegistryStore)(nil)

// RegistryStore implements domain.RegistryStore using PostgreSQL.
type RegistryStore struct {
	pool *pgxpool.Pool
}

// NewRegistryStore creates a new RegistryStore backed by the given connection pool.
func NewRegistryStore(pool *pgxpool.Pool) *RegistryStore {
	return &RegistryStore{pool: pool}
}

// LoadBindings returns every stored binding ordered by identifier.
func (s *RegistryStore) LoadBindings(ctx context.Context) ([]domain.BindingEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT identifier, oracle_address, is_aggregator, job_id, updated_at
		FROM oracle_bindings
		ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load bindings: %w", err)
	}
	defer rows.Close()

	var entries []domain.BindingEntry
	for rows.Next() {
		var (
			e       domain.BindingEntry
			rawID   []byte
			address string
		)
		if err := rows.Scan(&rawID, &address, &e.Binding.IsAggregator, &e.Binding.JobID, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan binding: %w", err)
		}
		if len(rawID) != domain.IdentifierLength {
			return nil, fmt.Errorf("postgres: binding identifier has %d bytes", len(rawID))
		}
		copy(e.Identifier[:], rawID)
		e.Binding.Address = common.HexToAddress(address)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load bindings rows: %w", err)
	}
	return entries, nil
}

// UpsertBinding inserts or replaces the binding for entry.Identifier.
func (s *RegistryStore) UpsertBinding(ctx context.Context, entry domain.BindingEntry) error {
	const query = `
		INSERT INTO oracle_bindings (identifier, name, oracle_address, is_aggregator, job_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identifier) DO UPDATE SET
			name = EXCLUDED.name,
			oracle_address = EXCLUDED.oracle_address,
			is_aggregator = EXCLUDED.is_aggregator,
			job_id = EXCLUDED.job_id,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		entry.Identifier[:],
		entry.Identifier.String(),
		entry.Binding.Address.Hex(),
		entry.Binding.IsAggregator,
		entry.Binding.JobID,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert binding %s: %w", entry.Identifier, err)
	}
	return nil
}

// DeleteBinding removes the binding for id. Missing rows are not an error.
func (s *RegistryStore) DeleteBinding(ctx context.Context, id domain.Identifier) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM oracle_bindings WHERE identifier = $1`, id[:]); err != nil {
		return fmt.Errorf("postgres: delete binding %s: %w", id, err)
	}
	return nil
}

// LoadOwner returns the recorded authority or domain.ErrNotFound.
func (s *RegistryStore) LoadOwner(ctx context.Context) (common.Address, error) {
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT owner FROM oracle_authority WHERE id = 1`).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, domain.ErrNotFound
		}
		return common.Address{}, fmt.Errorf("postgres: load owner: %w", err)
	}
	return common.HexToAddress(owner), nil
}

// SaveOwner records owner as the authority.
func (s *RegistryStore) SaveOwner(ctx context.Context, owner common.Address) error {
	const query = `
		INSERT INTO oracle_authority (id, owner, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET owner = EXCLUDED.owner, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, owner.Hex()); err != nil {
		return fmt.Errorf("postgres: save owner %s: %w", owner.Hex(), err)
	}
	return nil
}
