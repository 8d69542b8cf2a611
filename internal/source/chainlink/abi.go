package chainlink

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// aggregatorV3JSON covers the read-only subset of AggregatorV3Interface the
// adapter needs.
const aggregatorV3JSON = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"name": "roundId", "type": "uint80"},
			{"name": "answer", "type": "int256"},
			{"name": "startedAt", "type": "uint256"},
			{"name": "updatedAt", "type": "uint256"},
			{"name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "latestAnswer",
		"outputs": [{"name": "", "type": "int256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	aggregatorABIOnce sync.Once
	aggregatorABI     abi.ABI
	aggregatorABIErr  error
)

// AggregatorV3ABI returns the parsed AggregatorV3 ABI.
func AggregatorV3ABI() (*abi.ABI, error) {
	aggregatorABIOnce.Do(func() {
		aggregatorABI, aggregatorABIErr = abi.JSON(strings.NewReader(aggregatorV3JSON))
		if aggregatorABIErr != nil {
			aggregatorABIErr = fmt.Errorf("chainlink: parse aggregator abi: %w", aggregatorABIErr)
		}
	})
	if aggregatorABIErr != nil {
		return nil, aggregatorABIErr
	}
	return &aggregatorABI, nil
}
