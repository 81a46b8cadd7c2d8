package domain

// Kind classifies how a watched address entered the watch set.
type Kind string

const (
	// KindSource is a hot wallet registered explicitly; watched indefinitely.
	KindSource Kind = "source"
	// KindCascaded was promoted automatically from a large transfer
	// destination; watched for a bounded window.
	KindCascaded Kind = "cascaded"
	// KindPinned is a user-pinned wallet; watched indefinitely.
	KindPinned Kind = "pinned"
)

// Status is the lifecycle state of a watched address.
type Status string

const (
	// StatusWatching means subscribed, no classified activity seen yet.
	StatusWatching Status = "watching"
	// StatusActive means subscribed and at least one signal was recorded.
	StatusActive Status = "active"
	// StatusInactive means the watch window expired after activity was seen;
	// kept for history, subscription dropped.
	StatusInactive Status = "inactive"
	// StatusArchived means retired with no activity, or removed explicitly.
	StatusArchived Status = "archived"
)

// WatchedAddress is a blockchain address under observation.
//
// Invariants: a cascaded entry always has a non-empty SourceAddress;
// StatusWatching implies WatchUntil in the future for cascaded entries;
// StatusArchived implies no live subscription.
type WatchedAddress struct {
	Address string
	Kind    Kind
	Status  Status

	// WatchUntil is the expiry timestamp in Unix milliseconds.
	// Zero for source/pinned kinds, which never expire.
	WatchUntil int64

	// SourceAddress is the address whose transfer created this entry.
	// Set only for KindCascaded.
	SourceAddress string

	// OwnerUserID identifies the owning user for pinned wallets.
	// Empty otherwise.
	OwnerUserID string

	// Activity flags and counters, updated by classification.
	MintSeen    bool
	PoolSeen    bool
	BuySeen     bool
	SignalCount int64

	// LastActivityAt is the Unix-millisecond timestamp of the last
	// recorded signal. Zero if no activity was ever seen.
	LastActivityAt int64

	CreatedAt int64
	UpdatedAt int64
}

// HasActivity reports whether any signal was ever recorded for the entry.
func (w *WatchedAddress) HasActivity() bool {
	return w.SignalCount > 0
}

// Expired reports whether the watch window has passed at the given
// Unix-millisecond timestamp. Source and pinned entries never expire.
func (w *WatchedAddress) Expired(nowMs int64) bool {
	if w.Kind == KindSource || w.Kind == KindPinned {
		return false
	}
	return w.WatchUntil > 0 && nowMs >= w.WatchUntil
}
