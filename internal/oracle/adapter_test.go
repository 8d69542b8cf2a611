package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/store/memory"
)

func newTestAdapter(t *testing.T) (*Adapter, *fakeSources) {
	t.Helper()
	ctx := context.Background()
	sources := newFakeSources()
	sources.jobs[nodeAddr] = &fakeJob{}
	sources.aggregators[aggAddr] = &fakeAggregator{price: domain.NewPrice(1, 0, time.Now())}

	reg, err := NewRegistry(ctx, memory.NewRegistryStore(), nil, discardLogger(), deployer)
	require.NoError(t, err)
	eng, err := NewEngine(ctx, reg, sources, memory.NewRequestStore(), nil, discardLogger())
	require.NoError(t, err)
	return NewAdapter(reg, eng), sources
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("x: %w", domain.ErrUnauthorized), KindUnauthorized},
		{domain.ErrInvalidAuthority, KindInvalidAuthority},
		{domain.ErrUnknownIdentifier, KindUnknownIdentifier},
		{domain.ErrRequestAlreadyPending, KindRequestAlreadyPending},
		{domain.ErrUnknownRequest, KindUnknownRequest},
		{domain.ErrAlreadyFulfilled, KindAlreadyFulfilled},
		{errors.Join(domain.ErrOracleUnavailable, errors.New("rpc")), KindOracleUnavailable},
		{domain.ErrPriceNotAvailable, KindPriceNotAvailable},
		{domain.ErrInvalidBinding, KindInvalidBinding},
		{errors.New("boom"), KindInternal},
		{&Error{Kind: KindUnknownRequest, Err: errors.New("x")}, KindUnknownRequest},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestAdapterWrapsErrors(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)
	unknown := domain.MustIdentifier("NOPE")

	_, err := a.RequestPrice(ctx, unknown, 0)
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindUnknownIdentifier, oe.Kind)
	assert.Equal(t, "requestPrice", oe.Op)
	assert.Equal(t, "NOPE", oe.Identifier)
	assert.ErrorIs(t, err, domain.ErrUnknownIdentifier)

	err = a.AddOracle(ctx, stranger, unknown, aggAddr, true, nil)
	assert.Equal(t, KindUnauthorized, KindOf(err))
	err = a.TransferOwnership(ctx, deployer, common.Address{})
	assert.Equal(t, KindInvalidAuthority, KindOf(err))
}

// Mirrors the canonical flow: bind a job oracle, request, fulfill, read.
func TestAdapterJobFlow(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)
	id := domain.MustIdentifier("Test Identifier")

	require.NoError(t, a.AddOracle(ctx, deployer, id, nodeAddr, false, []byte("a-job-id")))
	assert.True(t, a.IsIdentifierSupported(id))

	receipt, err := a.RequestPrice(ctx, id, 0)
	require.NoError(t, err)

	_, err = a.GetPrice(ctx, id, 0)
	assert.Equal(t, KindPriceNotAvailable, KindOf(err))

	require.NoError(t, a.FulfillRequest(ctx, nodeAddr, receipt.Token, domain.NewPrice(100, 0, time.Now())))
	price, err := a.GetPrice(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), price.Value.Int64())

	req, err := a.Request(receipt.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFulfilled, req.State)
	assert.Len(t, a.Requests(domain.RequestFilter{State: domain.RequestFulfilled}), 1)
}

func TestAdapterAdminSurface(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)
	id := domain.MustIdentifier("ETH/USD")

	require.NoError(t, a.AddOracle(ctx, deployer, id, aggAddr, true, nil))
	b, err := a.GetBinding(id)
	require.NoError(t, err)
	assert.True(t, b.IsAggregator)
	assert.Len(t, a.Bindings(), 1)

	require.NoError(t, a.RemoveOracle(ctx, deployer, id))
	_, err = a.GetBinding(id)
	assert.Equal(t, KindUnknownIdentifier, KindOf(err))

	require.NoError(t, a.TransferOwnership(ctx, deployer, guardian))
	assert.Equal(t, guardian, a.Owner())
}
