package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Expired keys are reaped lazily on access and by a periodic purge.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]time.Time // key -> expiry
}

// NewMemoryStore creates an in-memory dedup store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]time.Time)}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MarkIfNew claims the key if absent or expired. The check and set happen
// under one lock, so concurrent callers cannot both claim the same key.
func (s *MemoryStore) MarkIfNew(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.data[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.data[key] = now.Add(ttl)
	return true, nil
}

// Seen reports whether the key is marked and unexpired.
func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.data, key)
		return false, nil
	}
	return true, nil
}

// Purge removes every expired key. Call periodically on long-running
// processes to bound memory.
func (s *MemoryStore) Purge() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, expiry := range s.data {
		if now.After(expiry) {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored keys, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
