package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var _ domain.RequestStore = (*RequestStore)(nil)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// RequestStore implements domain.RequestStore using PostgreSQL. Price values
// are stored as decimal text so they keep full big.Int precision.
type RequestStore struct {
	pool *pgxpool.Pool
}

// NewRequestStore creates a new RequestStore backed by the given connection pool.
func NewRequestStore(pool *pgxpool.Pool) *RequestStore {
	return &RequestStore{pool: pool}
}

const requestSelectCols = `token, identifier, request_ts, oracle_address, job_id, state,
	price_value, price_decimals, price_updated, created_at, fulfilled_at`

func scanRequest(scanner interface{ Scan(dest ...any) error }) (domain.PriceRequest, error) {
	var (
		r          domain.PriceRequest
		token      string
		rawID      []byte
		oracle     string
		state      string
		priceValue *string
		decimals   *int16
		updated    *time.Time
	)
	err := scanner.Scan(
		&token, &rawID, &r.Timestamp, &oracle, &r.JobID, &state,
		&priceValue, &decimals, &updated, &r.CreatedAt, &r.FulfilledAt,
	)
	if err != nil {
		return domain.PriceRequest{}, err
	}
	if len(rawID) != domain.IdentifierLength {
		return domain.PriceRequest{}, fmt.Errorf("request %s: identifier has %d bytes", token, len(rawID))
	}

	r.Token = domain.RequestToken(token)
	copy(r.Identifier[:], rawID)
	r.Oracle = common.HexToAddress(oracle)
	r.State = domain.RequestState(state)

	if priceValue != nil {
		v, ok := new(big.Int).SetString(*priceValue, 10)
		if !ok {
			return domain.PriceRequest{}, fmt.Errorf("request %s: bad price value %q", token, *priceValue)
		}
		p := domain.Price{Value: v}
		if decimals != nil {
			p.Decimals = uint8(*decimals)
		}
		if updated != nil {
			p.UpdatedAt = *updated
		}
		r.Price = &p
	}
	return r, nil
}

func scanRequestRows(rows pgx.Rows) ([]domain.PriceRequest, error) {
	var out []domain.PriceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadRequests returns every pending and fulfilled request.
func (s *RequestStore) LoadRequests(ctx context.Context) ([]domain.PriceRequest, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+requestSelectCols+` FROM price_requests ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load requests: %w", err)
	}
	defer rows.Close()

	reqs, err := scanRequestRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan requests: %w", err)
	}
	return reqs, nil
}

// CreateRequest records a pending request. A second request for the same
// (identifier, timestamp) fails with domain.ErrRequestAlreadyPending.
func (s *RequestStore) CreateRequest(ctx context.Context, req domain.PriceRequest) error {
	const query = `
		INSERT INTO price_requests (
			token, identifier, request_ts, oracle_address, job_id, state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		string(req.Token),
		req.Identifier[:],
		req.Timestamp,
		req.Oracle.Hex(),
		req.JobID,
		string(req.State),
		req.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: request %s@%d: %w", req.Identifier, req.Timestamp, domain.ErrRequestAlreadyPending)
		}
		return fmt.Errorf("postgres: create request %s: %w", req.Token, err)
	}
	return nil
}

// DeleteRequest removes a request. Missing rows are not an error.
func (s *RequestStore) DeleteRequest(ctx context.Context, token domain.RequestToken) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM price_requests WHERE token = $1`, string(token)); err != nil {
		return fmt.Errorf("postgres: delete request %s: %w", token, err)
	}
	return nil
}

// MarkFulfilled stores the answer for a pending request. The state guard
// makes a second fulfillment a no-op that reports domain.ErrNotFound.
func (s *RequestStore) MarkFulfilled(ctx context.Context, token domain.RequestToken, price domain.Price, at time.Time) error {
	if price.Value == nil {
		return fmt.Errorf("postgres: fulfill %s: %w", token, domain.ErrInvalidPrice)
	}
	const query = `
		UPDATE price_requests
		SET state = 'fulfilled', price_value = $2, price_decimals = $3,
			price_updated = $4, fulfilled_at = $5
		WHERE token = $1 AND state = 'pending'`

	tag, err := s.pool.Exec(ctx, query,
		string(token), price.Value.String(), int16(price.Decimals), price.UpdatedAt, at)
	if err != nil {
		return fmt.Errorf("postgres: fulfill %s: %w", token, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: fulfill %s: %w", token, domain.ErrNotFound)
	}
	return nil
}

// ListFulfilled returns requests fulfilled in [since, before), oldest first.
func (s *RequestStore) ListFulfilled(ctx context.Context, since, before time.Time, limit int) ([]domain.PriceRequest, error) {
	query := `SELECT ` + requestSelectCols + ` FROM price_requests
		WHERE state = 'fulfilled' AND fulfilled_at >= $1 AND fulfilled_at < $2
		ORDER BY fulfilled_at, token`
	args := []any{since, before}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fulfilled requests: %w", err)
	}
	defer rows.Close()

	reqs, err := scanRequestRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fulfilled requests: %w", err)
	}
	return reqs, nil
}
