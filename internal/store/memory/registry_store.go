// Package memory provides in-process implementations of the domain stores.
// They back the "memory" store mode and the test suites; state is lost on
// restart.
package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var _ domain.RegistryStore = (*RegistryStore)(nil)

// RegistryStore keeps bindings and the owner in maps.
type RegistryStore struct {
	mu       sync.RWMutex
	bindings map[domain.Identifier]domain.BindingEntry
	owner    *common.Address
}

func NewRegistryStore() *RegistryStore {
	return &RegistryStore{bindings: make(map[domain.Identifier]domain.BindingEntry)}
}

func (s *RegistryStore) LoadBindings(_ context.Context) ([]domain.BindingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BindingEntry, 0, len(s.bindings))
	for _, e := range s.bindings {
		e.Binding = e.Binding.Clone()
		out = append(out, e)
	}
	return out, nil
}

func (s *RegistryStore) UpsertBinding(_ context.Context, entry domain.BindingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Binding = entry.Binding.Clone()
	s.bindings[entry.Identifier] = entry
	return nil
}

func (s *RegistryStore) DeleteBinding(_ context.Context, id domain.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, id)
	return nil
}

func (s *RegistryStore) LoadOwner(_ context.Context) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.owner == nil {
		return common.Address{}, domain.ErrNotFound
	}
	return *s.owner, nil
}

func (s *RegistryStore) SaveOwner(_ context.Context, owner common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = &owner
	return nil
}
