package store

import (
	"bytes"
	"sync"

	"github.com/heysubinoy/kvlite/pkg/kv"
)

// MemStore is an in-memory implementation of the kv.Store interface.
// It uses a map protected by a RWMutex for thread-safe operations.
// Keys and values are copied in and out.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// Compile-time check to ensure MemStore implements kv.Store.
var _ kv.Store = (*MemStore)(nil)

// NewMemStore creates and returns a new MemStore instance.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key from the store.
func (s *MemStore) Get(key []byte) ([]byte, bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(val), true, nil
}

// Set stores a key-value pair in the store.
func (s *MemStore) Set(key, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[string(key)] = append([]byte{}, value...)
	return nil
}

// Delete removes a key from the store.
// Always returns nil for valid keys, even if the key doesn't exist.
func (s *MemStore) Delete(key []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, string(key))
	return nil
}

// Len returns the number of keys held.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
