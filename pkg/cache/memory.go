package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Suitable for single-process runs
// and tests; entries do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
	}
}

// Get returns the cached value for the fingerprint. An expired entry is
// evicted and reported as a miss.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[fingerprint]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if e.Expired(time.Now()) {
		s.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have
		// refreshed the entry.
		if cur, ok := s.entries[fingerprint]; ok && cur.Expired(time.Now()) {
			delete(s.entries, fingerprint)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Set stores the value. Last writer wins.
func (s *MemoryStore) Set(_ context.Context, fingerprint string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = &Entry{
		Fingerprint: fingerprint,
		Value:       value,
		CreatedAt:   time.Now(),
		TTL:         ttl,
	}
	return nil
}

// Invalidate drops every entry whose fingerprint belongs to the namespace.
func (s *MemoryStore) Invalidate(_ context.Context, namespace string) error {
	prefix := namespace + ":"
	s.mu.Lock()
	defer s.mu.Unlock()
	for fp := range s.entries {
		if strings.HasPrefix(fp, prefix) {
			delete(s.entries, fp)
		}
	}
	return nil
}

// Len returns the number of live entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
