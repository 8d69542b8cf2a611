package domain

import (
	"bytes"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OracleBinding maps an identifier to the upstream source that answers it.
// JobID is only meaningful for job-based sources and is empty for
// aggregators.
type OracleBinding struct {
	Address      common.Address
	IsAggregator bool
	JobID        []byte
}

// Clone returns a deep copy so callers never alias registry state.
func (b OracleBinding) Clone() OracleBinding {
	out := b
	if b.JobID != nil {
		out.JobID = bytes.Clone(b.JobID)
	}
	return out
}

// Mode returns "aggregator" or "job".
func (b OracleBinding) Mode() string {
	if b.IsAggregator {
		return "aggregator"
	}
	return "job"
}

// JobName returns the job id as text, with zero padding removed.
func (b OracleBinding) JobName() string {
	return string(bytes.TrimRight(b.JobID, "\x00"))
}

// BindingEntry is a binding together with its identifier, as enumerated by
// the registry and persisted by a RegistryStore.
type BindingEntry struct {
	Identifier Identifier
	Binding    OracleBinding
	UpdatedAt  time.Time
}
