package handler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/service"
)

// OracleService is what the handlers need from the service layer.
// *service.OracleService satisfies it.
type OracleService interface {
	AddOracle(ctx context.Context, caller common.Address, identifier domain.Identifier, address common.Address, isAggregator bool, jobID []byte) error
	RemoveOracle(ctx context.Context, caller common.Address, identifier domain.Identifier) error
	TransferOwnership(ctx context.Context, caller, newOwner common.Address) error
	RequestPrice(ctx context.Context, identifier domain.Identifier, timestamp int64) (domain.RequestReceipt, error)
	GetPrice(ctx context.Context, identifier domain.Identifier, timestamp int64) (domain.Price, error)
	FulfillRequest(ctx context.Context, caller common.Address, token domain.RequestToken, price domain.Price) error
	IsIdentifierSupported(identifier domain.Identifier) bool
	Binding(identifier domain.Identifier) (domain.OracleBinding, error)
	Bindings() []domain.BindingEntry
	Owner() common.Address
	Request(token domain.RequestToken) (domain.PriceRequest, error)
	Requests(filter domain.RequestFilter) []domain.PriceRequest
	AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	Health() service.Health
}
