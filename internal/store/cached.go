package store

import (
	"bytes"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/heysubinoy/kvlite/pkg/kv"
)

type cacheEntry struct {
	value []byte
	found bool
}

// CachedStore is a read-through LRU cache in front of any kv.Store.
// Both hits and misses are cached. Writes go to the wrapped store first and
// are serialized so the cache never holds a value older than the store's.
//
// The cache only sees writes made through it; another process writing the
// same root is not observed until the entry is evicted or Purge is called.
type CachedStore struct {
	store kv.Store
	cache *lru.Cache[string, cacheEntry]
	group singleflight.Group

	mu  sync.Mutex
	gen uint64
}

// Compile-time check to ensure CachedStore implements kv.Store.
var _ kv.Store = (*CachedStore)(nil)

// NewCachedStore wraps store with a cache holding up to size keys.
func NewCachedStore(store kv.Store, size int) (*CachedStore, error) {
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{store: store, cache: cache}, nil
}

// Get serves from the cache, loading from the wrapped store on a miss.
// Concurrent misses for the same key share one load.
func (s *CachedStore) Get(key []byte) ([]byte, bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	entry, ok := s.cache.Get(string(key))
	gen := s.gen
	s.mu.Unlock()
	if ok {
		return bytes.Clone(entry.value), entry.found, nil
	}

	// Loads started before a write must not be joined after it.
	flight := strconv.FormatUint(gen, 10) + ":" + string(key)
	v, err, _ := s.group.Do(flight, func() (interface{}, error) {
		value, found, err := s.store.Get(key)
		if err != nil {
			return nil, err
		}
		loaded := cacheEntry{value: value, found: found}

		s.mu.Lock()
		if s.gen == gen {
			s.cache.Add(string(key), loaded)
		}
		s.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, false, err
	}

	loaded := v.(cacheEntry)
	return bytes.Clone(loaded.value), loaded.found, nil
}

// Set writes through to the wrapped store and caches the new value.
func (s *CachedStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if err := s.store.Set(key, value); err != nil {
		s.cache.Remove(string(key))
		return err
	}
	s.cache.Add(string(key), cacheEntry{value: append([]byte{}, value...), found: true})
	return nil
}

// Delete writes through to the wrapped store and caches the absence.
func (s *CachedStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if err := s.store.Delete(key); err != nil {
		s.cache.Remove(string(key))
		return err
	}
	s.cache.Add(string(key), cacheEntry{})
	return nil
}

// Purge drops every cached entry.
func (s *CachedStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.cache.Purge()
}

// Len returns the number of cached entries.
func (s *CachedStore) Len() int {
	return s.cache.Len()
}
