package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// Engine runs the request/fulfillment protocol on top of a Registry.
// Aggregator bindings are answered synchronously by a live read. Job
// bindings go through NotRequested -> Pending -> Fulfilled per
// (identifier, timestamp), correlated by a token minted here.
//
// Lock order is Engine then Registry. Upstream I/O never runs under the
// engine lock.
type Engine struct {
	mu       sync.RWMutex
	requests map[domain.RequestKey]*domain.PriceRequest
	byToken  map[domain.RequestToken]domain.RequestKey

	registry *Registry
	sources  domain.SourceResolver
	store    domain.RequestStore
	events   domain.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
	newToken func() domain.RequestToken
}

// NewEngine restores pending and fulfilled requests from store.
func NewEngine(
	ctx context.Context,
	registry *Registry,
	sources domain.SourceResolver,
	store domain.RequestStore,
	events domain.EventPublisher,
	logger *slog.Logger,
) (*Engine, error) {
	if events == nil {
		events = domain.NopPublisher{}
	}
	e := &Engine{
		requests: make(map[domain.RequestKey]*domain.PriceRequest),
		byToken:  make(map[domain.RequestToken]domain.RequestKey),
		registry: registry,
		sources:  sources,
		store:    store,
		events:   events,
		logger:   logger.With(slog.String("component", "engine")),
		now:      func() time.Time { return time.Now().UTC() },
		newToken: func() domain.RequestToken { return domain.RequestToken(uuid.NewString()) },
	}

	reqs, err := store.LoadRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: load requests: %w", err)
	}
	pending := 0
	for i := range reqs {
		req := reqs[i]
		e.requests[req.Key()] = &req
		e.byToken[req.Token] = req.Key()
		if req.State == domain.RequestPending {
			pending++
		}
	}

	e.logger.InfoContext(ctx, "requests restored",
		slog.Int("total", len(reqs)),
		slog.Int("pending", pending),
	)
	return e, nil
}

// RequestPrice asks for the price of identifier at timestamp. For
// aggregator bindings it is an idempotent no-op. For job bindings it records
// a pending request and dispatches it upstream; if dispatch fails the
// request is rolled back and ErrOracleUnavailable is returned.
func (e *Engine) RequestPrice(ctx context.Context, identifier domain.Identifier, timestamp int64) (domain.RequestReceipt, error) {
	key := domain.RequestKey{Identifier: identifier, Timestamp: timestamp}
	receipt := domain.RequestReceipt{Identifier: identifier, Timestamp: timestamp}

	e.mu.Lock()
	binding, err := e.registry.GetBinding(identifier)
	if err != nil {
		e.mu.Unlock()
		return receipt, err
	}
	receipt.Mode = binding.Mode()

	if existing, ok := e.requests[key]; ok {
		e.mu.Unlock()
		if existing.State == domain.RequestPending {
			return receipt, fmt.Errorf("oracle: request %s@%d: %w", identifier, timestamp, domain.ErrRequestAlreadyPending)
		}
		receipt.Mode = "job"
		receipt.Token = existing.Token
		receipt.State = existing.State
		return receipt, nil
	}

	if binding.IsAggregator {
		e.mu.Unlock()
		receipt.State = domain.RequestNotRequested
		return receipt, nil
	}

	req := &domain.PriceRequest{
		Token:      e.newToken(),
		Identifier: identifier,
		Timestamp:  timestamp,
		Oracle:     binding.Address,
		JobID:      binding.JobID,
		State:      domain.RequestPending,
		CreatedAt:  e.now(),
	}
	if err := e.store.CreateRequest(ctx, *req); err != nil {
		e.mu.Unlock()
		return receipt, fmt.Errorf("oracle: record request %s@%d: %w", identifier, timestamp, err)
	}
	e.requests[key] = req
	e.byToken[req.Token] = key
	e.mu.Unlock()

	runID, err := e.dispatch(ctx, binding.Address, domain.JobRequest{
		Token:      req.Token,
		JobID:      binding.JobID,
		Identifier: identifier,
		Timestamp:  timestamp,
	})
	if err != nil {
		e.rollback(ctx, key, req.Token)
		return receipt, fmt.Errorf("oracle: dispatch %s@%d: %w", identifier, timestamp, err)
	}

	e.logger.InfoContext(ctx, "price requested",
		slog.String("identifier", identifier.String()),
		slog.Int64("timestamp", timestamp),
		slog.String("token", string(req.Token)),
		slog.String("oracle", binding.Address.Hex()),
		slog.String("run_id", runID),
	)
	e.publish(ctx, domain.Event{
		Type:       domain.EventPriceRequested,
		Identifier: identifier.String(),
		Timestamp:  timestamp,
		Token:      string(req.Token),
		Attributes: map[string]string{"oracle": binding.Address.Hex(), "run_id": runID},
	})

	receipt.Token = req.Token
	receipt.State = domain.RequestPending
	return receipt, nil
}

func (e *Engine) dispatch(ctx context.Context, oracleAddr common.Address, req domain.JobRequest) (string, error) {
	job, err := e.sources.JobOracle(oracleAddr)
	if err != nil {
		return "", errors.Join(domain.ErrOracleUnavailable, err)
	}
	runID, err := job.Request(ctx, req)
	if err != nil {
		return "", errors.Join(domain.ErrOracleUnavailable, err)
	}
	return runID, nil
}

// rollback removes a request whose dispatch failed, unless a fulfillment
// already raced in ahead of the failure report.
func (e *Engine) rollback(ctx context.Context, key domain.RequestKey, token domain.RequestToken) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[key]
	if !ok || req.Token != token || req.State != domain.RequestPending {
		return
	}
	if err := e.store.DeleteRequest(ctx, token); err != nil {
		e.logger.ErrorContext(ctx, "rollback request failed",
			slog.String("token", string(token)),
			slog.String("error", err.Error()),
		)
	}
	delete(e.requests, key)
	delete(e.byToken, token)
}

// GetPrice returns the price of identifier at timestamp. A recorded job
// request answers from its own state; otherwise aggregator bindings are read
// live and job bindings report ErrPriceNotAvailable.
func (e *Engine) GetPrice(ctx context.Context, identifier domain.Identifier, timestamp int64) (domain.Price, error) {
	key := domain.RequestKey{Identifier: identifier, Timestamp: timestamp}

	e.mu.RLock()
	binding, err := e.registry.GetBinding(identifier)
	if err != nil {
		e.mu.RUnlock()
		return domain.Price{}, err
	}
	if req, ok := e.requests[key]; ok {
		defer e.mu.RUnlock()
		if req.State != domain.RequestFulfilled || req.Price == nil {
			return domain.Price{}, fmt.Errorf("oracle: price %s@%d is %s: %w", identifier, timestamp, req.State, domain.ErrPriceNotAvailable)
		}
		return req.Price.Clone(), nil
	}
	e.mu.RUnlock()

	if !binding.IsAggregator {
		return domain.Price{}, fmt.Errorf("oracle: price %s@%d not requested: %w", identifier, timestamp, domain.ErrPriceNotAvailable)
	}

	agg, err := e.sources.Aggregator(binding.Address)
	if err != nil {
		return domain.Price{}, fmt.Errorf("oracle: aggregator %s: %w", binding.Address.Hex(), errors.Join(domain.ErrOracleUnavailable, err))
	}
	price, err := agg.LatestPrice(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrOracleUnavailable) {
			err = errors.Join(domain.ErrOracleUnavailable, err)
		}
		return domain.Price{}, fmt.Errorf("oracle: read %s from %s: %w", identifier, binding.Address.Hex(), err)
	}
	return price, nil
}

// FulfillRequest completes the pending request correlated by token. Only
// the oracle the request was dispatched to may fulfill it.
func (e *Engine) FulfillRequest(ctx context.Context, caller common.Address, token domain.RequestToken, price domain.Price) error {
	if price.Value == nil {
		return fmt.Errorf("oracle: fulfill %s: missing price value: %w", token, domain.ErrInvalidPrice)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key, ok := e.byToken[token]
	if !ok {
		return fmt.Errorf("oracle: fulfill %s: %w", token, domain.ErrUnknownRequest)
	}
	req := e.requests[key]
	if caller != req.Oracle {
		return fmt.Errorf("oracle: fulfill %s: caller %s is not oracle %s: %w",
			token, caller.Hex(), req.Oracle.Hex(), domain.ErrUnauthorized)
	}
	if req.State == domain.RequestFulfilled {
		return fmt.Errorf("oracle: fulfill %s: %w", token, domain.ErrAlreadyFulfilled)
	}

	now := e.now()
	stored := price.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	if err := e.store.MarkFulfilled(ctx, token, stored, now); err != nil {
		return fmt.Errorf("oracle: fulfill %s: %w", token, err)
	}
	req.State = domain.RequestFulfilled
	req.Price = &stored
	req.FulfilledAt = &now

	e.logger.InfoContext(ctx, "request fulfilled",
		slog.String("identifier", req.Identifier.String()),
		slog.Int64("timestamp", req.Timestamp),
		slog.String("token", string(token)),
		slog.String("price", stored.Decimal().String()),
	)
	e.publish(ctx, domain.Event{
		Type:       domain.EventRequestFulfilled,
		Identifier: req.Identifier.String(),
		Timestamp:  req.Timestamp,
		Token:      string(token),
		Attributes: map[string]string{
			"price":    stored.Value.String(),
			"decimals": strconv.Itoa(int(stored.Decimals)),
		},
	})
	return nil
}

// Request returns the request correlated by token.
func (e *Engine) Request(token domain.RequestToken) (domain.PriceRequest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	key, ok := e.byToken[token]
	if !ok {
		return domain.PriceRequest{}, fmt.Errorf("oracle: request %s: %w", token, domain.ErrUnknownRequest)
	}
	return e.requests[key].Clone(), nil
}

// Requests lists recorded requests matching filter, oldest first.
func (e *Engine) Requests(filter domain.RequestFilter) []domain.PriceRequest {
	e.mu.RLock()
	out := make([]domain.PriceRequest, 0, len(e.requests))
	for _, req := range e.requests {
		if filter.Matches(*req) {
			out = append(out, req.Clone())
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (e *Engine) publish(ctx context.Context, ev domain.Event) {
	ev.At = e.now()
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
