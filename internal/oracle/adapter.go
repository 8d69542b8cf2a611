package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// ErrorKind classifies a failure for protocol-facing callers.
type ErrorKind string

const (
	KindUnauthorized          ErrorKind = "unauthorized"
	KindInvalidAuthority      ErrorKind = "invalid_authority"
	KindUnknownIdentifier     ErrorKind = "unknown_identifier"
	KindRequestAlreadyPending ErrorKind = "request_already_pending"
	KindUnknownRequest        ErrorKind = "unknown_request"
	KindAlreadyFulfilled      ErrorKind = "already_fulfilled"
	KindOracleUnavailable     ErrorKind = "oracle_unavailable"
	KindPriceNotAvailable     ErrorKind = "price_not_available"
	KindInvalidBinding        ErrorKind = "invalid_binding"
	KindInvalidPrice          ErrorKind = "invalid_price"
	KindInternal              ErrorKind = "internal"
)

var kinds = []struct {
	sentinel error
	kind     ErrorKind
}{
	{domain.ErrUnauthorized, KindUnauthorized},
	{domain.ErrInvalidAuthority, KindInvalidAuthority},
	{domain.ErrUnknownIdentifier, KindUnknownIdentifier},
	{domain.ErrRequestAlreadyPending, KindRequestAlreadyPending},
	{domain.ErrUnknownRequest, KindUnknownRequest},
	{domain.ErrAlreadyFulfilled, KindAlreadyFulfilled},
	{domain.ErrOracleUnavailable, KindOracleUnavailable},
	{domain.ErrPriceNotAvailable, KindPriceNotAvailable},
	{domain.ErrInvalidBinding, KindInvalidBinding},
	{domain.ErrInvalidPrice, KindInvalidPrice},
}

// KindOf maps err onto the taxonomy. Unclassified errors are KindInternal.
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// Error is returned by every Adapter operation.
type Error struct {
	Kind       ErrorKind
	Op         string
	Identifier string
	Err        error
}

func (e *Error) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Identifier, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, identifier string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Identifier: identifier, Err: err}
}

// Adapter is the protocol-facing surface. Callers see one uniform set of
// operations regardless of which source backs an identifier.
type Adapter struct {
	registry *Registry
	engine   *Engine
}

// NewAdapter combines a registry and its engine.
func NewAdapter(registry *Registry, engine *Engine) *Adapter {
	return &Adapter{registry: registry, engine: engine}
}

func (a *Adapter) RequestPrice(ctx context.Context, identifier domain.Identifier, timestamp int64) (domain.RequestReceipt, error) {
	receipt, err := a.engine.RequestPrice(ctx, identifier, timestamp)
	return receipt, wrap("requestPrice", identifier.String(), err)
}

func (a *Adapter) GetPrice(ctx context.Context, identifier domain.Identifier, timestamp int64) (domain.Price, error) {
	price, err := a.engine.GetPrice(ctx, identifier, timestamp)
	return price, wrap("getPrice", identifier.String(), err)
}

func (a *Adapter) IsIdentifierSupported(identifier domain.Identifier) bool {
	return a.registry.IsIdentifierSupported(identifier)
}

func (a *Adapter) AddOracle(ctx context.Context, caller common.Address, identifier domain.Identifier, address common.Address, isAggregator bool, jobID []byte) error {
	return wrap("addOracle", identifier.String(), a.registry.AddOracle(ctx, caller, identifier, address, isAggregator, jobID))
}

func (a *Adapter) RemoveOracle(ctx context.Context, caller common.Address, identifier domain.Identifier) error {
	return wrap("removeOracle", identifier.String(), a.registry.RemoveOracle(ctx, caller, identifier))
}

func (a *Adapter) GetBinding(identifier domain.Identifier) (domain.OracleBinding, error) {
	b, err := a.registry.GetBinding(identifier)
	return b, wrap("getBinding", identifier.String(), err)
}

func (a *Adapter) Bindings() []domain.BindingEntry {
	return a.registry.Bindings()
}

func (a *Adapter) Owner() common.Address {
	return a.registry.Owner()
}

func (a *Adapter) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return wrap("transferOwnership", "", a.registry.TransferOwnership(ctx, caller, newOwner))
}

func (a *Adapter) FulfillRequest(ctx context.Context, caller common.Address, token domain.RequestToken, price domain.Price) error {
	return wrap("fulfillRequest", string(token), a.engine.FulfillRequest(ctx, caller, token, price))
}

func (a *Adapter) Request(token domain.RequestToken) (domain.PriceRequest, error) {
	req, err := a.engine.Request(token)
	return req, wrap("request", string(token), err)
}

func (a *Adapter) Requests(filter domain.RequestFilter) []domain.PriceRequest {
	return a.engine.Requests(filter)
}
