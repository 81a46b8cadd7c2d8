package storage

import (
	"context"

	"solana-wallet-watch/internal/domain"
)

// WatchedAddressStore is the durable mirror of the in-memory watch
// registry. The registry reloads non-archived entries on process start.
type WatchedAddressStore interface {
	// Insert adds a new watched address. Returns ErrDuplicateKey if the
	// address already exists.
	Insert(ctx context.Context, wa *domain.WatchedAddress) error

	// Update persists the current state of an existing entry. Returns
	// ErrNotFound if the address does not exist.
	Update(ctx context.Context, wa *domain.WatchedAddress) error

	// GetByAddress retrieves one entry. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.WatchedAddress, error)

	// ListActive retrieves every entry whose status is watching or active.
	ListActive(ctx context.Context) ([]*domain.WatchedAddress, error)

	// ListByKind retrieves all entries of a given kind, any status.
	ListByKind(ctx context.Context, kind domain.Kind) ([]*domain.WatchedAddress, error)
}

// SignalStore persists the signal history for offline analysis. Writes are
// append-only; the bus, not the store, is the live delivery path.
type SignalStore interface {
	// Insert appends one signal.
	Insert(ctx context.Context, s *domain.Signal) error

	// InsertBulk appends a batch of signals.
	InsertBulk(ctx context.Context, signals []*domain.Signal) error

	// GetBySubject retrieves signals for an address within [start, end]
	// milliseconds (inclusive), ordered by timestamp ASC.
	GetBySubject(ctx context.Context, subject string, start, end int64) ([]*domain.Signal, error)

	// CountByType returns emitted signal counts per type within
	// [start, end] milliseconds.
	CountByType(ctx context.Context, start, end int64) (map[domain.SignalType]int64, error)
}
