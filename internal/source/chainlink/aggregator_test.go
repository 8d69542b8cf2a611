package chainlink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var feedAddr = common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")

// mockCaller answers eth_call by method selector.
type mockCaller struct {
	responses map[string][]byte
	errs      map[string]error
	calls     map[string]int
}

func newMockCaller() *mockCaller {
	return &mockCaller{responses: map[string][]byte{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (m *mockCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	feedABI, err := AggregatorV3ABI()
	if err != nil {
		return nil, err
	}
	method, err := feedABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	m.calls[method.Name]++
	if err := m.errs[method.Name]; err != nil {
		return nil, err
	}
	return m.responses[method.Name], nil
}

func packOutputs(t *testing.T, method string, args ...interface{}) []byte {
	t.Helper()
	feedABI, err := AggregatorV3ABI()
	require.NoError(t, err)
	data, err := feedABI.Methods[method].Outputs.Pack(args...)
	require.NoError(t, err)
	return data
}

func packLatestRoundData(t *testing.T, answer, updatedAt int64) []byte {
	t.Helper()
	return packOutputs(t, "latestRoundData",
		big.NewInt(1), big.NewInt(answer), big.NewInt(updatedAt), big.NewInt(updatedAt), big.NewInt(1))
}

func TestAggregatorLatestPrice(t *testing.T) {
	tests := []struct {
		name      string
		answer    int64
		updatedAt int64
		roundErr  error
		want      string
		wantErr   error
	}{
		{name: "latest round", answer: 2000_50000000, updatedAt: 1700000000, want: "2000.5"},
		{name: "fallback to latestAnswer", roundErr: errors.New("execution reverted"), want: "1999"},
		{name: "non-positive answer", answer: 0, updatedAt: 1700000000, wantErr: domain.ErrOracleUnavailable},
		{name: "round not complete", answer: 5, updatedAt: 0, wantErr: domain.ErrOracleUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newMockCaller()
			caller.responses["decimals"] = packOutputs(t, "decimals", uint8(8))
			caller.responses["latestAnswer"] = packOutputs(t, "latestAnswer", big.NewInt(1999_00000000))
			caller.responses["latestRoundData"] = packLatestRoundData(t, tt.answer, tt.updatedAt)
			if tt.roundErr != nil {
				caller.errs["latestRoundData"] = tt.roundErr
			}

			agg, err := NewAggregator(caller, feedAddr, 0)
			require.NoError(t, err)
			price, err := agg.LatestPrice(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, price.Decimal().String())
			assert.Equal(t, uint8(8), price.Decimals)
		})
	}
}

func TestAggregatorCachesDecimals(t *testing.T) {
	caller := newMockCaller()
	caller.responses["decimals"] = packOutputs(t, "decimals", uint8(8))
	caller.responses["latestRoundData"] = packLatestRoundData(t, 100, 1700000000)

	agg, err := NewAggregator(caller, feedAddr, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := agg.LatestPrice(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, caller.calls["decimals"])
	assert.Equal(t, 3, caller.calls["latestRoundData"])
}

func TestAggregatorBothReadsFail(t *testing.T) {
	caller := newMockCaller()
	caller.responses["decimals"] = packOutputs(t, "decimals", uint8(8))
	caller.errs["latestRoundData"] = errors.New("reverted")
	caller.errs["latestAnswer"] = errors.New("reverted")

	agg, err := NewAggregator(caller, feedAddr, 0)
	require.NoError(t, err)
	_, err = agg.LatestPrice(context.Background())
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestResolver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	node := "0x00000000000000000000000000000000000000b1"

	r, err := NewResolver(nil, 0, []NodeConfig{{OracleAddress: node, URL: "http://node"}}, logger)
	require.NoError(t, err)

	_, err = r.Aggregator(feedAddr)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
	_, err = r.JobOracle(common.HexToAddress(node))
	assert.NoError(t, err)
	_, err = r.JobOracle(feedAddr)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)

	withRPC, err := NewResolver(newMockCaller(), 0, nil, logger)
	require.NoError(t, err)
	a1, err := withRPC.Aggregator(feedAddr)
	require.NoError(t, err)
	a2, err := withRPC.Aggregator(feedAddr)
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	_, err = NewResolver(nil, 0, []NodeConfig{{OracleAddress: "nope"}}, logger)
	assert.Error(t, err)
}
