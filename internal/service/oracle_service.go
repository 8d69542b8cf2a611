// Package service sits between the HTTP/CLI surfaces and the oracle core.
// It adds the operator concerns the core does not carry: the audit trail,
// outage alerts and archiving.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/oracle"
)

// Roles the adapter registers under with the consuming protocol.
const (
	RolePriceOracle         = "price_oracle"
	RoleIdentifierWhitelist = "identifier_whitelist"
)

// eventOracleUnavailable matches notify.EventOracleUnavailable.
const eventOracleUnavailable = "oracle_unavailable"

// Alerter delivers operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Health summarizes adapter state for /api/health.
type Health struct {
	Owner       string   `json:"owner"`
	Identifiers int      `json:"identifiers"`
	Pending     int      `json:"pending"`
	Roles       []string `json:"roles"`
	Archive     bool     `json:"archive"`
}

// OracleService wraps the adapter with auditing and alerting.
type OracleService struct {
	adapter  *oracle.Adapter
	audit    domain.AuditStore
	archiver domain.Archiver
	alerts   Alerter
	outages  *outageThrottle
	inflight sync.WaitGroup
	logger   *slog.Logger
}

// NewOracleService creates an OracleService. archiver and alerts may be nil.
func NewOracleService(
	adapter *oracle.Adapter,
	audit domain.AuditStore,
	archiver domain.Archiver,
	alerts Alerter,
	logger *slog.Logger,
	opts ...Option,
) *OracleService {
	s := &OracleService{
		adapter:  adapter,
		audit:    audit,
		archiver: archiver,
		alerts:   alerts,
		outages:  newOutageThrottle(),
		logger:   logger.With(slog.String("component", "oracle_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close waits for outage alerts still being delivered.
func (s *OracleService) Close() {
	s.inflight.Wait()
}

// AddOracle binds identifier and records the change in the audit log.
func (s *OracleService) AddOracle(ctx context.Context, caller common.Address, identifier domain.Identifier, address common.Address, isAggregator bool, jobID []byte) error {
	if err := s.adapter.AddOracle(ctx, caller, identifier, address, isAggregator, jobID); err != nil {
		return err
	}
	s.logAudit(ctx, "oracle.add", map[string]any{
		"caller":        caller.Hex(),
		"identifier":    identifier.String(),
		"oracle":        address.Hex(),
		"is_aggregator": isAggregator,
		"job_id":        domain.OracleBinding{JobID: jobID}.JobName(),
	})
	return nil
}

// RemoveOracle unbinds identifier.
func (s *OracleService) RemoveOracle(ctx context.Context, caller common.Address, identifier domain.Identifier) error {
	if err := s.adapter.RemoveOracle(ctx, caller, identifier); err != nil {
		return err
	}
	s.logAudit(ctx, "oracle.remove", map[string]any{
		"caller":     caller.Hex(),
		"identifier": identifier.String(),
	})
	return nil
}

// TransferOwnership hands registry authority to newOwner.
func (s *OracleService) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	if err := s.adapter.TransferOwnership(ctx, caller, newOwner); err != nil {
		return err
	}
	s.logAudit(ctx, "owner.transfer", map[string]any{
		"from": caller.Hex(),
		"to":   newOwner.Hex(),
	})
	return nil
}

// RequestPrice starts or confirms a price request. Source outages raise an
// alert in the background.
func (s *OracleService) RequestPrice(ctx context.Context, identifier domain.Identifier, timestamp int64) (domain.RequestReceipt, error) {
	receipt, err := s.adapter.RequestPrice(ctx, identifier, timestamp)
	if err != nil {
		s.alertOutage(ctx, "requestPrice", identifier, timestamp, err)
		return receipt, err
	}
	return receipt, nil
}

// GetPrice reads the price of identifier at timestamp.
func (s *OracleService) GetPrice(ctx context.Context, identifier domain.Identifier, timestamp int64) (domain.Price, error) {
	price, err := s.adapter.GetPrice(ctx, identifier, timestamp)
	if err != nil {
		s.alertOutage(ctx, "getPrice", identifier, timestamp, err)
		return domain.Price{}, err
	}
	return price, nil
}

// FulfillRequest delivers a job answer on behalf of caller.
func (s *OracleService) FulfillRequest(ctx context.Context, caller common.Address, token domain.RequestToken, price domain.Price) error {
	if err := s.adapter.FulfillRequest(ctx, caller, token, price); err != nil {
		return err
	}
	s.logAudit(ctx, "request.fulfill", map[string]any{
		"caller":   caller.Hex(),
		"token":    string(token),
		"price":    price.Value.String(),
		"decimals": price.Decimals,
	})
	return nil
}

// IsIdentifierSupported answers the identifier whitelist query.
func (s *OracleService) IsIdentifierSupported(identifier domain.Identifier) bool {
	return s.adapter.IsIdentifierSupported(identifier)
}

// Binding returns the binding for identifier.
func (s *OracleService) Binding(identifier domain.Identifier) (domain.OracleBinding, error) {
	return s.adapter.GetBinding(identifier)
}

// Bindings lists every binding ordered by identifier.
func (s *OracleService) Bindings() []domain.BindingEntry {
	return s.adapter.Bindings()
}

// Owner returns the current registry authority.
func (s *OracleService) Owner() common.Address {
	return s.adapter.Owner()
}

// Request returns the request correlated by token.
func (s *OracleService) Request(token domain.RequestToken) (domain.PriceRequest, error) {
	return s.adapter.Request(token)
}

// Requests lists recorded job requests.
func (s *OracleService) Requests(filter domain.RequestFilter) []domain.PriceRequest {
	return s.adapter.Requests(filter)
}

// AuditLog lists audit entries, newest first.
func (s *OracleService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("oracle_service: audit list: %w", err)
	}
	return entries, nil
}

// Health reports registry size, pending requests and the registered roles.
func (s *OracleService) Health() Health {
	return Health{
		Owner:       s.adapter.Owner().Hex(),
		Identifiers: len(s.adapter.Bindings()),
		Pending:     len(s.adapter.Requests(domain.RequestFilter{State: domain.RequestPending})),
		Roles:       []string{RolePriceOracle, RoleIdentifierWhitelist},
		Archive:     s.archiver != nil,
	}
}

// Archive exports requests fulfilled before the cutoff.
func (s *OracleService) Archive(ctx context.Context, before time.Time) (int64, error) {
	if s.archiver == nil {
		return 0, fmt.Errorf("oracle_service: archive: %w", domain.ErrNotConfigured)
	}
	n, err := s.archiver.ArchiveFulfilled(ctx, before)
	if err != nil {
		return n, fmt.Errorf("oracle_service: archive: %w", err)
	}
	s.logger.InfoContext(ctx, "fulfilled requests archived",
		slog.Int64("count", n),
		slog.Time("before", before),
	)
	return n, nil
}

// Snapshot writes the current bindings and owner to the archive store.
func (s *OracleService) Snapshot(ctx context.Context) (string, error) {
	if s.archiver == nil {
		return "", fmt.Errorf("oracle_service: snapshot: %w", domain.ErrNotConfigured)
	}
	path, err := s.archiver.SnapshotRegistry(ctx, s.adapter.Owner().Hex(), s.adapter.Bindings())
	if err != nil {
		return "", fmt.Errorf("oracle_service: snapshot: %w", err)
	}
	s.logger.InfoContext(ctx, "registry snapshot written", slog.String("path", path))
	return path, nil
}

func (s *OracleService) alertOutage(ctx context.Context, op string, identifier domain.Identifier, timestamp int64, err error) {
	if !errors.Is(err, domain.ErrOracleUnavailable) {
		return
	}
	s.logger.WarnContext(ctx, "oracle source unavailable",
		slog.String("op", op),
		slog.String("identifier", identifier.String()),
		slog.Int64("timestamp", timestamp),
		slog.String("error", err.Error()),
	)
	if s.alerts == nil || !s.outages.allow(identifier) {
		return
	}
	title := "Oracle unavailable: " + identifier.String()
	msg := fmt.Sprintf("op: %s\ntimestamp: %d\nerror: %v", op, timestamp, err)

	// Delivery outlives the caller's request but not alertTimeout.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		if aerr := s.alerts.Notify(sendCtx, eventOracleUnavailable, title, msg); aerr != nil {
			s.logger.WarnContext(sendCtx, "outage alert failed",
				slog.String("identifier", identifier.String()),
				slog.String("error", aerr.Error()),
			)
		}
	}()
}

func (s *OracleService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
