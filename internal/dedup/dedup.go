// Package dedup provides the processed-transaction marker used to keep
// the push and poll paths from double-processing a signature.
package dedup

import (
	"context"
	"time"
)

// Store marks transaction signatures as processed. MarkIfNew must be
// atomic: when push dispatch and the reconciliation poller race on the
// same signature, exactly one of them wins.
type Store interface {
	// MarkIfNew records the key with the given TTL if it is not already
	// present. Returns true when this call claimed the key.
	MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Seen reports whether the key is currently marked.
	Seen(ctx context.Context, key string) (bool, error)
}
