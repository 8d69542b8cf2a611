package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RequestState tracks a job-based price request for one
// (identifier, timestamp) pair.
type RequestState string

const (
	RequestNotRequested RequestState = "not_requested"
	RequestPending      RequestState = "pending"
	RequestFulfilled    RequestState = "fulfilled"
)

// RequestToken correlates an outbound job request with its fulfillment.
type RequestToken string

// RequestKey identifies a price request by what was asked for.
type RequestKey struct {
	Identifier Identifier
	Timestamp  int64
}

// PriceRequest is the engine's record of a job-based request. Oracle and
// JobID are captured from the binding active when the request was made, so
// later registry changes do not affect who may fulfill it.
type PriceRequest struct {
	Token       RequestToken
	Identifier  Identifier
	Timestamp   int64
	Oracle      common.Address
	JobID       []byte
	State       RequestState
	Price       *Price
	CreatedAt   time.Time
	FulfilledAt *time.Time
}

// Key returns the (identifier, timestamp) key of the request.
func (r PriceRequest) Key() RequestKey {
	return RequestKey{Identifier: r.Identifier, Timestamp: r.Timestamp}
}

// Clone returns a deep copy.
func (r PriceRequest) Clone() PriceRequest {
	out := r
	if r.JobID != nil {
		out.JobID = append([]byte(nil), r.JobID...)
	}
	if r.Price != nil {
		p := r.Price.Clone()
		out.Price = &p
	}
	if r.FulfilledAt != nil {
		t := *r.FulfilledAt
		out.FulfilledAt = &t
	}
	return out
}

// RequestReceipt is returned by RequestPrice. Token is empty when no
// asynchronous work was started (aggregator bindings or already fulfilled
// requests).
type RequestReceipt struct {
	Identifier Identifier
	Timestamp  int64
	Mode       string
	Token      RequestToken
	State      RequestState
}

// RequestFilter narrows request listings. Zero values match everything.
type RequestFilter struct {
	State      RequestState
	Identifier *Identifier
	Limit      int
}

// Matches reports whether r passes the filter, ignoring Limit.
func (f RequestFilter) Matches(r PriceRequest) bool {
	if f.State != "" && r.State != f.State {
		return false
	}
	if f.Identifier != nil && r.Identifier != *f.Identifier {
		return false
	}
	return true
}
