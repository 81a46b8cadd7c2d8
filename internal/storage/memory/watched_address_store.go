package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/storage"
)

// WatchedAddressStore is an in-memory implementation of
// storage.WatchedAddressStore.
type WatchedAddressStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WatchedAddress // keyed by address
}

// NewWatchedAddressStore creates a new in-memory watched address store.
func NewWatchedAddressStore() *WatchedAddressStore {
	return &WatchedAddressStore{
		data: make(map[string]*domain.WatchedAddress),
	}
}

// Compile-time interface check.
var _ storage.WatchedAddressStore = (*WatchedAddressStore)(nil)

// Insert adds a new watched address. Returns ErrDuplicateKey if exists.
func (s *WatchedAddressStore) Insert(_ context.Context, wa *domain.WatchedAddress) error {
	if wa == nil || wa.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[wa.Address]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	waCopy := *wa
	s.data[wa.Address] = &waCopy
	return nil
}

// Update persists an existing entry. Returns ErrNotFound if not exists.
func (s *WatchedAddressStore) Update(_ context.Context, wa *domain.WatchedAddress) error {
	if wa == nil || wa.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[wa.Address]; !exists {
		return storage.ErrNotFound
	}

	waCopy := *wa
	s.data[wa.Address] = &waCopy
	return nil
}

// GetByAddress retrieves one entry. Returns ErrNotFound if not exists.
func (s *WatchedAddressStore) GetByAddress(_ context.Context, address string) (*domain.WatchedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wa, exists := s.data[address]
	if !exists {
		return nil, storage.ErrNotFound
	}

	waCopy := *wa
	return &waCopy, nil
}

// ListActive retrieves every watching or active entry.
func (s *WatchedAddressStore) ListActive(_ context.Context) ([]*domain.WatchedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.WatchedAddress
	for _, wa := range s.data {
		if wa.Status == domain.StatusWatching || wa.Status == domain.StatusActive {
			waCopy := *wa
			result = append(result, &waCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})

	return result, nil
}

// ListByKind retrieves all entries of a given kind, any status.
func (s *WatchedAddressStore) ListByKind(_ context.Context, kind domain.Kind) ([]*domain.WatchedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.WatchedAddress
	for _, wa := range s.data {
		if wa.Kind == kind {
			waCopy := *wa
			result = append(result, &waCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})

	return result, nil
}
