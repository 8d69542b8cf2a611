package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/store/memory"
)

var (
	deployer  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	guardian  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	aggAddr   = common.HexToAddress("0x000000000000000000000000000000000000a001")
	nodeAddr  = common.HexToAddress("0x000000000000000000000000000000000000b001")
	node2Addr = common.HexToAddress("0x000000000000000000000000000000000000b002")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAggregator struct {
	mu    sync.Mutex
	price domain.Price
	err   error
	reads int
}

func (a *fakeAggregator) LatestPrice(context.Context) (domain.Price, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	if a.err != nil {
		return domain.Price{}, a.err
	}
	return a.price.Clone(), nil
}

func (a *fakeAggregator) set(p domain.Price) {
	a.mu.Lock()
	a.price = p
	a.mu.Unlock()
}

type fakeJob struct {
	mu       sync.Mutex
	requests []domain.JobRequest
	err      error
	// onRequest runs before Request returns, outside the engine lock.
	onRequest func(domain.JobRequest)
}

func (j *fakeJob) Request(_ context.Context, req domain.JobRequest) (string, error) {
	j.mu.Lock()
	j.requests = append(j.requests, req)
	err := j.err
	hook := j.onRequest
	j.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("run-%d", len(j.requests)), nil
}

func (j *fakeJob) last() domain.JobRequest {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.requests[len(j.requests)-1]
}

func (j *fakeJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.requests)
}

type fakeSources struct {
	aggregators map[common.Address]*fakeAggregator
	jobs        map[common.Address]*fakeJob
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		aggregators: map[common.Address]*fakeAggregator{},
		jobs:        map[common.Address]*fakeJob{},
	}
}

func (s *fakeSources) Aggregator(addr common.Address) (domain.Aggregator, error) {
	a, ok := s.aggregators[addr]
	if !ok {
		return nil, errors.New("no aggregator at address")
	}
	return a, nil
}

func (s *fakeSources) JobOracle(addr common.Address) (domain.JobOracle, error) {
	j, ok := s.jobs[addr]
	if !ok {
		return nil, errors.New("no node for address")
	}
	return j, nil
}

// failingRegistryStore fails every write once fail is set.
type failingRegistryStore struct {
	*memory.RegistryStore
	fail bool
}

func (s *failingRegistryStore) UpsertBinding(ctx context.Context, e domain.BindingEntry) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.RegistryStore.UpsertBinding(ctx, e)
}

func (s *failingRegistryStore) SaveOwner(ctx context.Context, owner common.Address) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.RegistryStore.SaveOwner(ctx, owner)
}
