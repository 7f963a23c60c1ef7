package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Write(_ context.Context, docID, name string, data []byte) error {
	if err := ValidateKey(docID, name); err != nil {
		return err
	}
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.blobs[objectKey(docID, name)] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Read(_ context.Context, docID, name string) ([]byte, error) {
	if err := ValidateKey(docID, name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.blobs[objectKey(docID, name)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Len reports the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
