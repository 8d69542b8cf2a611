package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RegistryStore persists identifier bindings and the registry authority.
type RegistryStore interface {
	LoadBindings(ctx context.Context) ([]BindingEntry, error)
	UpsertBinding(ctx context.Context, entry BindingEntry) error
	DeleteBinding(ctx context.Context, id Identifier) error
	// LoadOwner returns ErrNotFound when no authority has been recorded.
	LoadOwner(ctx context.Context) (common.Address, error)
	SaveOwner(ctx context.Context, owner common.Address) error
}

// RequestStore persists job-based price requests.
type RequestStore interface {
	LoadRequests(ctx context.Context) ([]PriceRequest, error)
	CreateRequest(ctx context.Context, req PriceRequest) error
	DeleteRequest(ctx context.Context, token RequestToken) error
	MarkFulfilled(ctx context.Context, token RequestToken, price Price, at time.Time) error
	// ListFulfilled returns requests fulfilled in [since, before), oldest
	// first. A zero since means no lower bound; limit <= 0 means no limit.
	ListFulfilled(ctx context.Context, since, before time.Time, limit int) ([]PriceRequest, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
