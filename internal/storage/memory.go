package storage

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryAccountStore keeps the last account in process memory
type MemoryAccountStore struct {
	mu      sync.Mutex
	account common.Address
	set     bool
}

// NewMemoryAccountStore creates an empty store
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{}
}

// Load returns the stored account
func (s *MemoryAccountStore) Load(ctx context.Context) (common.Address, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, s.set, nil
}

// Save stores account
func (s *MemoryAccountStore) Save(ctx context.Context, account common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account
	s.set = account != (common.Address{})
	return nil
}

// Clear forgets the stored account
func (s *MemoryAccountStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = common.Address{}
	s.set = false
	return nil
}
