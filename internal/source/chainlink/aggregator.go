package chainlink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// Aggregator reads an AggregatorV3 price feed over JSON-RPC.
type Aggregator struct {
	caller  ethereum.ContractCaller
	address common.Address
	abi     *abi.ABI
	timeout time.Duration

	mu       sync.Mutex
	decimals *uint8
}

// NewAggregator binds a reader to the feed at address.
func NewAggregator(caller ethereum.ContractCaller, address common.Address, timeout time.Duration) (*Aggregator, error) {
	feedABI, err := AggregatorV3ABI()
	if err != nil {
		return nil, err
	}
	return &Aggregator{caller: caller, address: address, abi: feedABI, timeout: timeout}, nil
}

// LatestPrice returns the feed's latest answer. Feeds that revert on
// latestRoundData are retried with latestAnswer. A non-positive answer or an
// incomplete round is reported as ErrOracleUnavailable.
func (a *Aggregator) LatestPrice(ctx context.Context) (domain.Price, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	decimals, err := a.feedDecimals(ctx)
	if err != nil {
		return domain.Price{}, err
	}

	answer, updatedAt, err := a.latestRoundData(ctx)
	if err != nil {
		fallback, fbErr := a.latestAnswer(ctx)
		if fbErr != nil {
			return domain.Price{}, fmt.Errorf("chainlink: %s: %w", a.address.Hex(),
				errors.Join(domain.ErrOracleUnavailable, err, fbErr))
		}
		answer = fallback
		updatedAt = nil
	}

	if answer.Sign() <= 0 {
		return domain.Price{}, fmt.Errorf("chainlink: %s: non-positive answer %s: %w",
			a.address.Hex(), answer, domain.ErrOracleUnavailable)
	}
	price := domain.Price{Value: answer, Decimals: decimals}
	if updatedAt != nil {
		if updatedAt.Sign() == 0 {
			return domain.Price{}, fmt.Errorf("chainlink: %s: round not complete: %w",
				a.address.Hex(), domain.ErrOracleUnavailable)
		}
		price.UpdatedAt = time.Unix(updatedAt.Int64(), 0).UTC()
	}
	return price, nil
}

func (a *Aggregator) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := a.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &a.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	unpacked, err := a.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return unpacked, nil
}

func (a *Aggregator) latestRoundData(ctx context.Context) (answer, updatedAt *big.Int, err error) {
	vals, err := a.call(ctx, "latestRoundData")
	if err != nil {
		return nil, nil, err
	}
	answer, ok1 := vals[1].(*big.Int)
	updatedAt, ok2 := vals[3].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("latestRoundData: unexpected output types")
	}
	return answer, updatedAt, nil
}

func (a *Aggregator) latestAnswer(ctx context.Context) (*big.Int, error) {
	vals, err := a.call(ctx, "latestAnswer")
	if err != nil {
		return nil, err
	}
	answer, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("latestAnswer: unexpected output type")
	}
	return answer, nil
}

// feedDecimals is immutable per feed, so the first successful read is cached.
func (a *Aggregator) feedDecimals(ctx context.Context) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.decimals != nil {
		return *a.decimals, nil
	}
	vals, err := a.call(ctx, "decimals")
	if err != nil {
		return 0, fmt.Errorf("chainlink: %s: %w", a.address.Hex(), errors.Join(domain.ErrOracleUnavailable, err))
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chainlink: %s: decimals: unexpected output type: %w", a.address.Hex(), domain.ErrOracleUnavailable)
	}
	a.decimals = &d
	return d, nil
}
