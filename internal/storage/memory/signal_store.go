package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu   sync.RWMutex
	data []*domain.Signal
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

// Insert appends one signal.
func (s *SignalStore) Insert(_ context.Context, sig *domain.Signal) error {
	if sig == nil || sig.Subject == "" || sig.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sigCopy := *sig
	s.data = append(s.data, &sigCopy)
	return nil
}

// InsertBulk appends a batch of signals.
func (s *SignalStore) InsertBulk(ctx context.Context, signals []*domain.Signal) error {
	for _, sig := range signals {
		if err := s.Insert(ctx, sig); err != nil {
			return err
		}
	}
	return nil
}

// GetBySubject retrieves signals for an address within [start, end]
// (inclusive), ordered by timestamp ASC.
func (s *SignalStore) GetBySubject(_ context.Context, subject string, start, end int64) ([]*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Signal
	for _, sig := range s.data {
		if sig.Subject == subject && sig.Timestamp >= start && sig.Timestamp <= end {
			sigCopy := *sig
			result = append(result, &sigCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

// CountByType returns emitted signal counts per type within [start, end].
func (s *SignalStore) CountByType(_ context.Context, start, end int64) (map[domain.SignalType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.SignalType]int64)
	for _, sig := range s.data {
		if sig.Timestamp >= start && sig.Timestamp <= end {
			counts[sig.Type]++
		}
	}
	return counts, nil
}
