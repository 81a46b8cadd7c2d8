package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/storage"
)

// WatchedAddressStore implements storage.WatchedAddressStore using
// PostgreSQL.
type WatchedAddressStore struct {
	pool *Pool
}

// NewWatchedAddressStore creates a new WatchedAddressStore.
func NewWatchedAddressStore(pool *Pool) *WatchedAddressStore {
	return &WatchedAddressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatchedAddressStore = (*WatchedAddressStore)(nil)

const watchedAddressColumns = `
	address, kind, status, watch_until, source_address, owner_user_id,
	mint_seen, pool_seen, buy_seen, signal_count, last_activity_at,
	created_at, updated_at
`

// Insert adds a new watched address. Returns ErrDuplicateKey if exists.
func (s *WatchedAddressStore) Insert(ctx context.Context, wa *domain.WatchedAddress) error {
	if wa == nil || wa.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO watched_addresses (` + watchedAddressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		wa.Address,
		string(wa.Kind),
		string(wa.Status),
		wa.WatchUntil,
		wa.SourceAddress,
		wa.OwnerUserID,
		wa.MintSeen,
		wa.PoolSeen,
		wa.BuySeen,
		wa.SignalCount,
		wa.LastActivityAt,
		wa.CreatedAt,
		wa.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert watched address: %w", err)
	}
	return nil
}

// Update persists an existing entry. Returns ErrNotFound if not exists.
func (s *WatchedAddressStore) Update(ctx context.Context, wa *domain.WatchedAddress) error {
	if wa == nil || wa.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE watched_addresses SET
			kind = $2, status = $3, watch_until = $4, source_address = $5,
			owner_user_id = $6, mint_seen = $7, pool_seen = $8, buy_seen = $9,
			signal_count = $10, last_activity_at = $11, updated_at = $12
		WHERE address = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		wa.Address,
		string(wa.Kind),
		string(wa.Status),
		wa.WatchUntil,
		wa.SourceAddress,
		wa.OwnerUserID,
		wa.MintSeen,
		wa.PoolSeen,
		wa.BuySeen,
		wa.SignalCount,
		wa.LastActivityAt,
		wa.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update watched address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByAddress retrieves one entry. Returns ErrNotFound if not exists.
func (s *WatchedAddressStore) GetByAddress(ctx context.Context, address string) (*domain.WatchedAddress, error) {
	query := `
		SELECT ` + watchedAddressColumns + `
		FROM watched_addresses
		WHERE address = $1
	`

	row := s.pool.QueryRow(ctx, query, address)
	wa, err := scanWatchedAddress(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get watched address: %w", err)
	}
	return wa, nil
}

// ListActive retrieves every watching or active entry.
func (s *WatchedAddressStore) ListActive(ctx context.Context) ([]*domain.WatchedAddress, error) {
	query := `
		SELECT ` + watchedAddressColumns + `
		FROM watched_addresses
		WHERE status IN ('watching', 'active')
		ORDER BY created_at ASC, address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active watched addresses: %w", err)
	}
	defer rows.Close()

	return scanWatchedAddresses(rows)
}

// ListByKind retrieves all entries of a given kind, any status.
func (s *WatchedAddressStore) ListByKind(ctx context.Context, kind domain.Kind) ([]*domain.WatchedAddress, error) {
	query := `
		SELECT ` + watchedAddressColumns + `
		FROM watched_addresses
		WHERE kind = $1
		ORDER BY created_at ASC, address ASC
	`

	rows, err := s.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list watched addresses by kind: %w", err)
	}
	defer rows.Close()

	return scanWatchedAddresses(rows)
}

func scanWatchedAddress(row pgx.Row) (*domain.WatchedAddress, error) {
	var wa domain.WatchedAddress
	var kind, status string
	err := row.Scan(
		&wa.Address,
		&kind,
		&status,
		&wa.WatchUntil,
		&wa.SourceAddress,
		&wa.OwnerUserID,
		&wa.MintSeen,
		&wa.PoolSeen,
		&wa.BuySeen,
		&wa.SignalCount,
		&wa.LastActivityAt,
		&wa.CreatedAt,
		&wa.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	wa.Kind = domain.Kind(kind)
	wa.Status = domain.Status(status)
	return &wa, nil
}

func scanWatchedAddresses(rows pgx.Rows) ([]*domain.WatchedAddress, error) {
	var result []*domain.WatchedAddress
	for rows.Next() {
		wa, err := scanWatchedAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watched address: %w", err)
		}
		result = append(result, wa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watched addresses: %w", err)
	}
	return result, nil
}
