package oracle

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/store/memory"
)

func newTestRegistry(t *testing.T) (*Registry, *memory.RegistryStore, *memory.EventSink) {
	t.Helper()
	store := memory.NewRegistryStore()
	sink := memory.NewEventSink()
	r, err := NewRegistry(context.Background(), store, sink, discardLogger(), deployer)
	require.NoError(t, err)
	return r, store, sink
}

func TestNewRegistryInitialOwner(t *testing.T) {
	r, store, _ := newTestRegistry(t)
	assert.Equal(t, deployer, r.Owner())

	persisted, err := store.LoadOwner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deployer, persisted)

	_, err = NewRegistry(context.Background(), memory.NewRegistryStore(), nil, discardLogger(), common.Address{})
	assert.ErrorIs(t, err, domain.ErrInvalidAuthority)
}

func TestNewRegistryRestoresState(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestRegistry(t)
	id := domain.MustIdentifier("ETH/USD")
	require.NoError(t, r.AddOracle(ctx, deployer, id, aggAddr, true, nil))
	require.NoError(t, r.TransferOwnership(ctx, deployer, guardian))

	restored, err := NewRegistry(ctx, store, nil, discardLogger(), deployer)
	require.NoError(t, err)
	assert.Equal(t, guardian, restored.Owner())
	assert.True(t, restored.IsIdentifierSupported(id))
}

func TestAddOracleThenLookup(t *testing.T) {
	ctx := context.Background()
	r, _, sink := newTestRegistry(t)

	tests := []struct {
		name    string
		id      string
		addr    common.Address
		isAgg   bool
		jobID   []byte
		wantJob string
	}{
		{"aggregator", "ETH/USD", aggAddr, true, []byte("ignored"), ""},
		{"job", "BTC/USD", nodeAddr, false, []byte("job-btc"), "job-btc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := domain.MustIdentifier(tt.id)
			require.NoError(t, r.AddOracle(ctx, deployer, id, tt.addr, tt.isAgg, tt.jobID))
			assert.True(t, r.IsIdentifierSupported(id))

			b, err := r.GetBinding(id)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, b.Address)
			assert.Equal(t, tt.isAgg, b.IsAggregator)
			assert.Equal(t, tt.wantJob, string(b.JobID))
		})
	}
	assert.Len(t, sink.EventsOfType(domain.EventBindingChanged), 2)
	assert.Len(t, r.Bindings(), 2)
}

func TestAddOracleOverwritesBinding(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)
	id := domain.MustIdentifier("ETH/USD")

	require.NoError(t, r.AddOracle(ctx, deployer, id, nodeAddr, false, []byte("job-1")))
	require.NoError(t, r.AddOracle(ctx, deployer, id, node2Addr, false, []byte("job-2")))

	b, err := r.GetBinding(id)
	require.NoError(t, err)
	assert.Equal(t, node2Addr, b.Address)
	assert.Equal(t, "job-2", string(b.JobID))

	require.NoError(t, r.AddOracle(ctx, deployer, id, aggAddr, true, nil))
	b, err = r.GetBinding(id)
	require.NoError(t, err)
	assert.True(t, b.IsAggregator)
	assert.Empty(t, b.JobID)
}

func TestAddOracleValidation(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)

	tests := []struct {
		name  string
		id    domain.Identifier
		addr  common.Address
		isAgg bool
		jobID []byte
	}{
		{"zero identifier", domain.Identifier{}, aggAddr, true, nil},
		{"zero address", domain.MustIdentifier("ETH/USD"), common.Address{}, true, nil},
		{"job without id", domain.MustIdentifier("ETH/USD"), nodeAddr, false, nil},
		{"job with padding only", domain.MustIdentifier("ETH/USD"), nodeAddr, false, []byte{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.AddOracle(ctx, deployer, tt.id, tt.addr, tt.isAgg, tt.jobID)
			assert.ErrorIs(t, err, domain.ErrInvalidBinding)
		})
	}
	assert.Empty(t, r.Bindings())
}

func TestGetBindingReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)
	id := domain.MustIdentifier("ETH/USD")
	require.NoError(t, r.AddOracle(ctx, deployer, id, nodeAddr, false, []byte("job-1")))

	b, err := r.GetBinding(id)
	require.NoError(t, err)
	b.JobID[0] = 'X'

	again, err := r.GetBinding(id)
	require.NoError(t, err)
	assert.Equal(t, "job-1", string(again.JobID))
}

func TestRemoveOracle(t *testing.T) {
	ctx := context.Background()
	r, _, sink := newTestRegistry(t)
	id := domain.MustIdentifier("ETH/USD")
	require.NoError(t, r.AddOracle(ctx, deployer, id, aggAddr, true, nil))

	require.NoError(t, r.RemoveOracle(ctx, deployer, id))
	assert.False(t, r.IsIdentifierSupported(id))
	_, err := r.GetBinding(id)
	assert.ErrorIs(t, err, domain.ErrUnknownIdentifier)
	assert.Len(t, sink.EventsOfType(domain.EventBindingRemoved), 1)

	assert.ErrorIs(t, r.RemoveOracle(ctx, deployer, id), domain.ErrUnknownIdentifier)
}

func TestNonOwnerMutationsRejected(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)
	id := domain.MustIdentifier("ETH/USD")
	require.NoError(t, r.AddOracle(ctx, deployer, id, aggAddr, true, nil))

	assert.ErrorIs(t, r.AddOracle(ctx, stranger, domain.MustIdentifier("BTC/USD"), aggAddr, true, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, r.RemoveOracle(ctx, stranger, id), domain.ErrUnauthorized)
	assert.ErrorIs(t, r.TransferOwnership(ctx, stranger, stranger), domain.ErrUnauthorized)

	assert.Equal(t, deployer, r.Owner())
	assert.True(t, r.IsIdentifierSupported(id))
	assert.Len(t, r.Bindings(), 1)
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	r, _, sink := newTestRegistry(t)

	assert.ErrorIs(t, r.TransferOwnership(ctx, deployer, common.Address{}), domain.ErrInvalidAuthority)
	assert.Equal(t, deployer, r.Owner())

	require.NoError(t, r.TransferOwnership(ctx, deployer, guardian))
	assert.Equal(t, guardian, r.Owner())
	require.Len(t, sink.EventsOfType(domain.EventOwnershipTransferred), 1)

	id := domain.MustIdentifier("ETH/USD")
	assert.ErrorIs(t, r.AddOracle(ctx, deployer, id, aggAddr, true, nil), domain.ErrUnauthorized)
	assert.NoError(t, r.AddOracle(ctx, guardian, id, aggAddr, true, nil))
}

func TestStoreFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &failingRegistryStore{RegistryStore: memory.NewRegistryStore()}
	r, err := NewRegistry(ctx, store, nil, discardLogger(), deployer)
	require.NoError(t, err)

	store.fail = true
	id := domain.MustIdentifier("ETH/USD")
	assert.Error(t, r.AddOracle(ctx, deployer, id, aggAddr, true, nil))
	assert.False(t, r.IsIdentifierSupported(id))

	assert.Error(t, r.TransferOwnership(ctx, deployer, guardian))
	assert.Equal(t, deployer, r.Owner())
}
