package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// Registry maps identifiers to oracle bindings and owns the authority
// allowed to change them. Mutations are persisted before they become
// visible and are serialized by a single write lock.
type Registry struct {
	mu sync.RWMutex
	ownable
	bindings map[domain.Identifier]domain.BindingEntry

	store  domain.RegistryStore
	events domain.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry restores registry state from store. When no authority has
// been recorded yet, deployer becomes the owner and is persisted.
func NewRegistry(
	ctx context.Context,
	store domain.RegistryStore,
	events domain.EventPublisher,
	logger *slog.Logger,
	deployer common.Address,
) (*Registry, error) {
	if events == nil {
		events = domain.NopPublisher{}
	}
	r := &Registry{
		bindings: make(map[domain.Identifier]domain.BindingEntry),
		store:    store,
		events:   events,
		logger:   logger.With(slog.String("component", "registry")),
		now:      func() time.Time { return time.Now().UTC() },
	}

	owner, err := store.LoadOwner(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if deployer == (common.Address{}) {
			return nil, fmt.Errorf("oracle: init owner: %w", domain.ErrInvalidAuthority)
		}
		if err := store.SaveOwner(ctx, deployer); err != nil {
			return nil, fmt.Errorf("oracle: init owner: %w", err)
		}
		owner = deployer
	case err != nil:
		return nil, fmt.Errorf("oracle: load owner: %w", err)
	}
	r.owner = owner

	entries, err := store.LoadBindings(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: load bindings: %w", err)
	}
	for _, e := range entries {
		r.bindings[e.Identifier] = e
	}

	r.logger.InfoContext(ctx, "registry restored",
		slog.String("owner", owner.Hex()),
		slog.Int("bindings", len(entries)),
	)
	return r, nil
}

// Owner returns the current authority.
func (r *Registry) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// AddOracle binds identifier to an oracle, replacing any existing binding.
// The job id is dropped for aggregator bindings and required otherwise.
func (r *Registry) AddOracle(
	ctx context.Context,
	caller common.Address,
	identifier domain.Identifier,
	address common.Address,
	isAggregator bool,
	jobID []byte,
) error {
	binding := domain.OracleBinding{Address: address, IsAggregator: isAggregator}
	if !isAggregator {
		binding.JobID = bytes.Clone(jobID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOwner(caller); err != nil {
		return err
	}
	if err := validateBinding(identifier, binding); err != nil {
		return err
	}

	entry := domain.BindingEntry{Identifier: identifier, Binding: binding, UpdatedAt: r.now()}
	if err := r.store.UpsertBinding(ctx, entry); err != nil {
		return fmt.Errorf("oracle: add oracle %s: %w", identifier, err)
	}
	r.bindings[identifier] = entry

	r.logger.InfoContext(ctx, "oracle bound",
		slog.String("identifier", identifier.String()),
		slog.String("oracle", address.Hex()),
		slog.String("mode", binding.Mode()),
	)
	r.publish(ctx, domain.Event{
		Type:       domain.EventBindingChanged,
		Identifier: identifier.String(),
		Attributes: map[string]string{
			"oracle": address.Hex(),
			"mode":   binding.Mode(),
			"job_id": binding.JobName(),
		},
	})
	return nil
}

// RemoveOracle deletes the binding for identifier. Requests already pending
// against it can still be fulfilled by the oracle they were sent to.
func (r *Registry) RemoveOracle(ctx context.Context, caller common.Address, identifier domain.Identifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOwner(caller); err != nil {
		return err
	}
	if _, ok := r.bindings[identifier]; !ok {
		return fmt.Errorf("oracle: remove oracle %s: %w", identifier, domain.ErrUnknownIdentifier)
	}
	if err := r.store.DeleteBinding(ctx, identifier); err != nil {
		return fmt.Errorf("oracle: remove oracle %s: %w", identifier, err)
	}
	delete(r.bindings, identifier)

	r.logger.InfoContext(ctx, "oracle unbound", slog.String("identifier", identifier.String()))
	r.publish(ctx, domain.Event{Type: domain.EventBindingRemoved, Identifier: identifier.String()})
	return nil
}

// IsIdentifierSupported reports whether identifier currently has a binding.
func (r *Registry) IsIdentifierSupported(identifier domain.Identifier) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[identifier]
	return ok
}

// GetBinding returns a copy of the binding for identifier.
func (r *Registry) GetBinding(identifier domain.Identifier) (domain.OracleBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bindings[identifier]
	if !ok {
		return domain.OracleBinding{}, fmt.Errorf("oracle: identifier %s: %w", identifier, domain.ErrUnknownIdentifier)
	}
	return e.Binding.Clone(), nil
}

// Bindings enumerates all bindings ordered by identifier bytes.
func (r *Registry) Bindings() []domain.BindingEntry {
	r.mu.RLock()
	out := make([]domain.BindingEntry, 0, len(r.bindings))
	for _, e := range r.bindings {
		e.Binding = e.Binding.Clone()
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Identifier[:], out[j].Identifier[:]) < 0
	})
	return out
}

// TransferOwnership hands the authority to newOwner in one step.
func (r *Registry) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkTransfer(caller, newOwner); err != nil {
		return err
	}
	if err := r.store.SaveOwner(ctx, newOwner); err != nil {
		return fmt.Errorf("oracle: transfer ownership: %w", err)
	}
	previous := r.owner
	r.owner = newOwner

	r.logger.InfoContext(ctx, "ownership transferred",
		slog.String("from", previous.Hex()),
		slog.String("to", newOwner.Hex()),
	)
	r.publish(ctx, domain.Event{
		Type:       domain.EventOwnershipTransferred,
		Attributes: map[string]string{"from": previous.Hex(), "to": newOwner.Hex()},
	})
	return nil
}

// publish must be called with r.mu held so observers see commit order.
func (r *Registry) publish(ctx context.Context, ev domain.Event) {
	ev.At = r.now()
	if err := r.events.Publish(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func validateBinding(identifier domain.Identifier, b domain.OracleBinding) error {
	if identifier.IsZero() {
		return fmt.Errorf("oracle: zero identifier: %w", domain.ErrInvalidBinding)
	}
	if b.Address == (common.Address{}) {
		return fmt.Errorf("oracle: %s: zero oracle address: %w", identifier, domain.ErrInvalidBinding)
	}
	if !b.IsAggregator && len(bytes.TrimRight(b.JobID, "\x00")) == 0 {
		return fmt.Errorf("oracle: %s: job-based binding without job id: %w", identifier, domain.ErrInvalidBinding)
	}
	return nil
}
