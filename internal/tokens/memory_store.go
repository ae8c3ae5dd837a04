package tokens

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory token metadata store for tests and demo mode.
type MemoryStore struct {
	mu     sync.RWMutex
	byAddr map[string]*Metadata
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAddr: make(map[string]*Metadata)}
}

func (s *MemoryStore) Get(_ context.Context, address string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.byAddr[strings.ToLower(address)]
	if !ok {
		return nil, ErrTokenNotFound
	}
	copied := *meta
	return &copied, nil
}

func (s *MemoryStore) Put(_ context.Context, meta *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *meta
	copied.Address = strings.ToLower(meta.Address)
	s.byAddr[copied.Address] = &copied
	return nil
}
