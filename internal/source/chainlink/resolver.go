package chainlink

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var _ domain.SourceResolver = (*Resolver)(nil)

// Resolver maps bound oracle addresses to Chainlink sources: aggregator
// contracts are read through caller, job oracles are the configured nodes.
type Resolver struct {
	caller      ethereum.ContractCaller
	callTimeout time.Duration
	nodes       map[common.Address]*NodeClient

	mu          sync.Mutex
	aggregators map[common.Address]*Aggregator
}

// NewResolver builds a resolver. caller may be nil when no RPC endpoint is
// configured, in which case aggregator bindings are unavailable.
func NewResolver(caller ethereum.ContractCaller, callTimeout time.Duration, nodes []NodeConfig, logger *slog.Logger) (*Resolver, error) {
	r := &Resolver{
		caller:      caller,
		callTimeout: callTimeout,
		nodes:       make(map[common.Address]*NodeClient, len(nodes)),
		aggregators: make(map[common.Address]*Aggregator),
	}
	for _, n := range nodes {
		if !common.IsHexAddress(n.OracleAddress) {
			return nil, fmt.Errorf("chainlink: node %s: invalid oracle address %q", n.URL, n.OracleAddress)
		}
		addr := common.HexToAddress(n.OracleAddress)
		r.nodes[addr] = NewNodeClient(n)
		logger.Info("chainlink node registered",
			slog.String("component", "chainlink"),
			slog.String("oracle", addr.Hex()),
			slog.String("url", n.URL),
		)
	}
	return r, nil
}

func (r *Resolver) Aggregator(addr common.Address) (domain.Aggregator, error) {
	if r.caller == nil {
		return nil, fmt.Errorf("chainlink: rpc endpoint: %w", domain.ErrNotConfigured)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.aggregators[addr]; ok {
		return a, nil
	}
	a, err := NewAggregator(r.caller, addr, r.callTimeout)
	if err != nil {
		return nil, err
	}
	r.aggregators[addr] = a
	return a, nil
}

func (r *Resolver) JobOracle(addr common.Address) (domain.JobOracle, error) {
	n, ok := r.nodes[addr]
	if !ok {
		return nil, fmt.Errorf("chainlink: no node for oracle %s: %w", addr.Hex(), domain.ErrNotConfigured)
	}
	return n, nil
}
