package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var _ domain.RequestStore = (*RequestStore)(nil)

// RequestStore keeps price requests keyed by token.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[domain.RequestToken]domain.PriceRequest
}

func NewRequestStore() *RequestStore {
	return &RequestStore{requests: make(map[domain.RequestToken]domain.PriceRequest)}
}

func (s *RequestStore) LoadRequests(_ context.Context) ([]domain.PriceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PriceRequest, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *RequestStore) CreateRequest(_ context.Context, req domain.PriceRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.Key() == req.Key() {
			return fmt.Errorf("memory: request %s@%d exists: %w", req.Identifier, req.Timestamp, domain.ErrRequestAlreadyPending)
		}
	}
	s.requests[req.Token] = req.Clone()
	return nil
}

func (s *RequestStore) DeleteRequest(_ context.Context, token domain.RequestToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, token)
	return nil
}

func (s *RequestStore) MarkFulfilled(_ context.Context, token domain.RequestToken, price domain.Price, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[token]
	if !ok {
		return fmt.Errorf("memory: request %s: %w", token, domain.ErrNotFound)
	}
	p := price.Clone()
	r.Price = &p
	r.State = domain.RequestFulfilled
	r.FulfilledAt = &at
	s.requests[token] = r
	return nil
}

func (s *RequestStore) ListFulfilled(_ context.Context, since, before time.Time, limit int) ([]domain.PriceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PriceRequest
	for _, r := range s.requests {
		if r.State != domain.RequestFulfilled || r.FulfilledAt == nil {
			continue
		}
		if r.FulfilledAt.Before(before) && !r.FulfilledAt.Before(since) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FulfilledAt.Before(*out[j].FulfilledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
