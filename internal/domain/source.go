package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Aggregator is a push-model source that always holds a latest value.
type Aggregator interface {
	LatestPrice(ctx context.Context) (Price, error)
}

// JobRequest is what a job-based source receives when a price is requested.
type JobRequest struct {
	Token      RequestToken
	JobID      []byte
	Identifier Identifier
	Timestamp  int64
}

// JobOracle is a request/response source. Request starts an upstream job
// and returns an upstream reference (e.g. a run id); the answer arrives
// later through fulfillment carrying the same token.
type JobOracle interface {
	Request(ctx context.Context, req JobRequest) (string, error)
}

// SourceResolver resolves a bound address to its source implementation.
type SourceResolver interface {
	Aggregator(addr common.Address) (Aggregator, error)
	JobOracle(addr common.Address) (JobOracle, error)
}
