// Package bus fans classified signals out to scoped listeners. The bus
// holds no history: persistence is a listener like any other.
package bus

import (
	"log"
	"sync"
	"sync/atomic"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/observability"
)

// DefaultBufferSize is the per-listener channel capacity.
const DefaultBufferSize = 64

// listener is one registered channel in one room.
type listener struct {
	id int64
	ch chan domain.Signal
}

// Bus delivers signals to three scopes: the subject address, the owning
// user of a pinned address, and a global feed. Delivery is best-effort
// and non-blocking per listener; a full channel drops the signal for that
// listener only.
type Bus struct {
	mu      sync.RWMutex
	address map[string][]*listener
	user    map[string][]*listener
	global  []*listener

	bufferSize int
	nextID     atomic.Int64
	logger     *log.Logger
}

// New creates a bus. A non-positive bufferSize uses the default.
func New(bufferSize int, logger *log.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		address:    make(map[string][]*listener),
		user:       make(map[string][]*listener),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// SubscribeAddress registers a listener for one subject address. The
// returned cancel func removes the listener and closes its channel.
func (b *Bus) SubscribeAddress(address string) (<-chan domain.Signal, func()) {
	l := b.newListener()

	b.mu.Lock()
	b.address[address] = append(b.address[address], l)
	b.mu.Unlock()

	return l.ch, func() {
		b.mu.Lock()
		b.address[address] = removeListener(b.address[address], l.id)
		if len(b.address[address]) == 0 {
			delete(b.address, address)
		}
		close(l.ch)
		b.mu.Unlock()
	}
}

// SubscribeUser registers a listener for every pinned address owned by
// the user.
func (b *Bus) SubscribeUser(userID string) (<-chan domain.Signal, func()) {
	l := b.newListener()

	b.mu.Lock()
	b.user[userID] = append(b.user[userID], l)
	b.mu.Unlock()

	return l.ch, func() {
		b.mu.Lock()
		b.user[userID] = removeListener(b.user[userID], l.id)
		if len(b.user[userID]) == 0 {
			delete(b.user, userID)
		}
		close(l.ch)
		b.mu.Unlock()
	}
}

// SubscribeGlobal registers a listener for every published signal.
func (b *Bus) SubscribeGlobal() (<-chan domain.Signal, func()) {
	l := b.newListener()

	b.mu.Lock()
	b.global = append(b.global, l)
	b.mu.Unlock()

	return l.ch, func() {
		b.mu.Lock()
		b.global = removeListener(b.global, l.id)
		close(l.ch)
		b.mu.Unlock()
	}
}

// Publish delivers the signal to the subject's address room, the owning
// user's room when ownerUserID is set, and the global room. A slow
// listener never stalls the others. Sends happen under the read lock so a
// concurrent cancel cannot close a channel mid-delivery; every send is
// non-blocking, so the lock is never held on a stalled listener.
func (b *Bus) Publish(sig domain.Signal, ownerUserID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	targets := make([]*listener, 0, 4)
	targets = append(targets, b.address[sig.Subject]...)
	if ownerUserID != "" {
		targets = append(targets, b.user[ownerUserID]...)
	}
	targets = append(targets, b.global...)

	for _, l := range targets {
		select {
		case l.ch <- sig:
		default:
			observability.RecordPublishDrop()
			b.logger.Printf("[bus] listener %d full, dropping %s signal for %s", l.id, sig.Type, sig.Subject)
		}
	}
}

func (b *Bus) newListener() *listener {
	return &listener{
		id: b.nextID.Add(1),
		ch: make(chan domain.Signal, b.bufferSize),
	}
}

func removeListener(list []*listener, id int64) []*listener {
	for i, l := range list {
		if l.id == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
