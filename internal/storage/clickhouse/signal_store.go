package clickhouse

import (
	"context"
	"fmt"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/storage"
)

// SignalStore implements storage.SignalStore using ClickHouse. MergeTree
// does not enforce uniqueness; the dedup store upstream already
// guarantees one signal per (signature, rule), so inserts are plain
// appends.
type SignalStore struct {
	conn *Conn
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(conn *Conn) *SignalStore {
	return &SignalStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

const insertSignalQuery = `
	INSERT INTO signals (
		signal_type, subject, tx_signature, slot, confidence, ts,
		mint, pool, venue, sol_amount, token_amount, price_per_unit,
		direction, counterparty
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Insert appends one signal.
func (s *SignalStore) Insert(ctx context.Context, sig *domain.Signal) error {
	if sig == nil || sig.Subject == "" || sig.Signature == "" {
		return storage.ErrInvalidInput
	}

	err := s.conn.Exec(ctx, insertSignalQuery,
		string(sig.Type), sig.Subject, sig.Signature, sig.Slot, sig.Confidence, sig.Timestamp,
		sig.Mint, sig.Pool, sig.Venue, sig.SolAmount, sig.TokenAmount, sig.PricePerUnit,
		string(sig.Direction), sig.Counterparty,
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// InsertBulk appends a batch of signals in one prepared batch.
func (s *SignalStore) InsertBulk(ctx context.Context, signals []*domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO signals")
	if err != nil {
		return fmt.Errorf("prepare signal batch: %w", err)
	}

	for _, sig := range signals {
		if sig == nil || sig.Subject == "" || sig.Signature == "" {
			return storage.ErrInvalidInput
		}
		err := batch.Append(
			string(sig.Type), sig.Subject, sig.Signature, sig.Slot, sig.Confidence, sig.Timestamp,
			sig.Mint, sig.Pool, sig.Venue, sig.SolAmount, sig.TokenAmount, sig.PricePerUnit,
			string(sig.Direction), sig.Counterparty,
		)
		if err != nil {
			return fmt.Errorf("append signal to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send signal batch: %w", err)
	}
	return nil
}

// GetBySubject retrieves signals for an address within [start, end]
// (inclusive), ordered by timestamp ASC.
func (s *SignalStore) GetBySubject(ctx context.Context, subject string, start, end int64) ([]*domain.Signal, error) {
	query := `
		SELECT signal_type, subject, tx_signature, slot, confidence, ts,
		       mint, pool, venue, sol_amount, token_amount, price_per_unit,
		       direction, counterparty
		FROM signals
		WHERE subject = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, subject, start, end)
	if err != nil {
		return nil, fmt.Errorf("get signals by subject: %w", err)
	}
	defer rows.Close()

	var result []*domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var sigType, direction string
		err := rows.Scan(
			&sigType, &sig.Subject, &sig.Signature, &sig.Slot, &sig.Confidence, &sig.Timestamp,
			&sig.Mint, &sig.Pool, &sig.Venue, &sig.SolAmount, &sig.TokenAmount, &sig.PricePerUnit,
			&direction, &sig.Counterparty,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.Type = domain.SignalType(sigType)
		sig.Direction = domain.TransferDirection(direction)
		result = append(result, &sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return result, nil
}

// CountByType returns emitted signal counts per type within [start, end].
func (s *SignalStore) CountByType(ctx context.Context, start, end int64) (map[domain.SignalType]int64, error) {
	query := `
		SELECT signal_type, count() AS cnt
		FROM signals
		WHERE ts >= ? AND ts <= ?
		GROUP BY signal_type
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("count signals by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SignalType]int64)
	for rows.Next() {
		var sigType string
		var cnt uint64
		if err := rows.Scan(&sigType, &cnt); err != nil {
			return nil, fmt.Errorf("scan signal count: %w", err)
		}
		counts[domain.SignalType(sigType)] = int64(cnt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal counts: %w", err)
	}
	return counts, nil
}
