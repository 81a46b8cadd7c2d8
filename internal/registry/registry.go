// Package registry owns the watched-address lifecycle: registration,
// cascade creation, TTL expiry and activity tracking. It is constructed
// once per process with injected collaborators; there is no ambient state.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/observability"
	"solana-wallet-watch/internal/solana"
	"solana-wallet-watch/internal/storage"
	"solana-wallet-watch/internal/wsmux"
)

// Default lifecycle parameters.
const (
	DefaultWatchWindow       = 24 * time.Hour
	DefaultMaxCascadedActive = 100
	DefaultSweepInterval     = 5 * time.Minute
)

// Multiplexer is the subscription surface the registry needs.
type Multiplexer interface {
	Subscribe(ctx context.Context, kind wsmux.ChannelKind, params []interface{}, cb wsmux.Callback) (wsmux.Handle, error)
	Unsubscribe(handle wsmux.Handle) error
}

// TxHandler receives the signature of a transaction that mentioned a
// watched address. Invoked from the multiplexer's worker pool.
type TxHandler func(subject, signature string)

// Config configures the registry.
type Config struct {
	WatchWindow       time.Duration
	MaxCascadedActive int
	SweepInterval     time.Duration
	Logger            *log.Logger
}

// entry pairs the domain record with its live subscription handle. The
// per-entry mutex serializes push and poll mutations on the same address.
type entry struct {
	mu     sync.Mutex
	wa     domain.WatchedAddress
	handle wsmux.Handle
	hasSub bool
}

// Registry tracks watched addresses and drives their state machine.
type Registry struct {
	cfg     Config
	mux     Multiplexer
	store   storage.WatchedAddressStore
	handler TxHandler
	logger  *log.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	running bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a registry. The handler is invoked for every push
// notification on any watched address.
func New(mux Multiplexer, store storage.WatchedAddressStore, handler TxHandler, cfg Config) *Registry {
	if cfg.WatchWindow <= 0 {
		cfg.WatchWindow = DefaultWatchWindow
	}
	if cfg.MaxCascadedActive <= 0 {
		cfg.MaxCascadedActive = DefaultMaxCascadedActive
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Registry{
		cfg:     cfg,
		mux:     mux,
		store:   store,
		handler: handler,
		logger:  cfg.Logger,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
}

// Start reloads non-archived entries from the store, opens their
// subscriptions and starts the expiry sweeper.
func (r *Registry) Start(ctx context.Context) error {
	stored, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load watched addresses: %w", err)
	}

	r.mu.Lock()
	r.running = true
	for _, wa := range stored {
		r.entries[wa.Address] = &entry{wa: *wa}
	}
	r.mu.Unlock()

	for _, wa := range stored {
		if err := r.subscribe(ctx, wa.Address); err != nil {
			r.logger.Printf("[registry] subscribe %s on start failed: %v", wa.Address, err)
		}
	}

	r.wg.Add(1)
	go r.sweepLoop()

	r.refreshMetrics()
	r.logger.Printf("[registry] started with %d watched addresses", len(stored))
	return nil
}

// Stop halts the sweeper. Live subscriptions are torn down by the
// multiplexer's own shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
}

// Register adds an address under watch. Cascaded entries get
// watchUntil = now + watchWindow; source and pinned entries are watched
// indefinitely. An archived store record is revived in place; a live one
// returns storage.ErrDuplicateKey.
func (r *Registry) Register(ctx context.Context, address string, kind domain.Kind, sourceAddress, ownerUserID string) (*domain.WatchedAddress, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if kind == domain.KindCascaded && sourceAddress == "" {
		return nil, fmt.Errorf("%w: cascaded entry requires a source address", storage.ErrInvalidInput)
	}

	now := time.Now().UnixMilli()
	wa := domain.WatchedAddress{
		Address:       address,
		Kind:          kind,
		Status:        domain.StatusWatching,
		SourceAddress: sourceAddress,
		OwnerUserID:   ownerUserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if kind == domain.KindCascaded {
		wa.WatchUntil = now + r.cfg.WatchWindow.Milliseconds()
	}

	r.mu.Lock()
	if _, exists := r.entries[address]; exists {
		r.mu.Unlock()
		return nil, storage.ErrDuplicateKey
	}
	r.entries[address] = &entry{wa: wa}
	running := r.running
	r.mu.Unlock()

	if err := r.store.Insert(ctx, &wa); err != nil {
		// The store may still hold a record archived by a sweep or an
		// explicit removal. Re-registering revives it.
		if errors.Is(err, storage.ErrDuplicateKey) {
			err = r.reviveArchived(ctx, &wa)
		}
		if err != nil {
			r.mu.Lock()
			delete(r.entries, address)
			r.mu.Unlock()
			return nil, fmt.Errorf("persist %s: %w", address, err)
		}
	}

	if running {
		if err := r.subscribe(ctx, address); err != nil {
			// Entry stays registered; the poller covers it until the next
			// reconnect replays subscriptions.
			r.logger.Printf("[registry] subscribe %s failed: %v", address, err)
		}
	}

	r.refreshMetrics()
	r.logger.Printf("[registry] registered %s kind=%s", address, kind)
	return &wa, nil
}

// reviveArchived reclaims a store record that exists only in archived
// state, rewriting it as a fresh watch. A record in any live state keeps
// the duplicate error: the address is already tracked somewhere.
func (r *Registry) reviveArchived(ctx context.Context, wa *domain.WatchedAddress) error {
	existing, err := r.store.GetByAddress(ctx, wa.Address)
	if err != nil {
		return storage.ErrDuplicateKey
	}
	if existing.Status != domain.StatusArchived {
		return storage.ErrDuplicateKey
	}

	wa.CreatedAt = existing.CreatedAt
	if err := r.store.Update(ctx, wa); err != nil {
		return err
	}

	if e := r.entry(wa.Address); e != nil {
		e.mu.Lock()
		e.wa.CreatedAt = existing.CreatedAt
		e.mu.Unlock()
	}

	r.logger.Printf("[registry] revived archived record for %s kind=%s", wa.Address, wa.Kind)
	return nil
}

// CascadeFrom promotes the destination of a large outgoing transfer into
// a time-boxed cascade watch. Already-tracked destinations and ceiling
// overflows are quiet no-ops, not errors.
func (r *Registry) CascadeFrom(ctx context.Context, sourceAddress, destination string, amount float64, signature string) {
	if r.IsTracked(destination) {
		return
	}

	// Depth is capped at one hop: a cascaded entry never spawns further
	// cascades, only source and pinned addresses do.
	if src := r.Get(sourceAddress); src == nil || src.Kind == domain.KindCascaded {
		observability.RecordCascadeSuppressed("depth")
		return
	}

	// Off-curve destinations are PDAs or token accounts, not wallets.
	if !solana.IsOnCurve(destination) {
		observability.RecordCascadeSuppressed("off_curve")
		return
	}

	if r.cascadedActiveCount() >= r.cfg.MaxCascadedActive {
		observability.RecordCascadeSuppressed("ceiling")
		r.logger.Printf("[registry] cascade ceiling reached, not watching %s (from %s, %.4f SOL, %s)",
			destination, sourceAddress, amount, signature)
		return
	}

	if _, err := r.Register(ctx, destination, domain.KindCascaded, sourceAddress, ""); err != nil {
		r.logger.Printf("[registry] cascade register %s failed: %v", destination, err)
		return
	}

	observability.RecordCascadeCreated()
	r.logger.Printf("[registry] cascading watch %s <- %s (%.4f SOL, %s)", destination, sourceAddress, amount, signature)
}

// RecordActivity updates counters and flags for a classified signal and
// transitions watching entries to active. Idempotent per call site: the
// dedup store guarantees one call per (address, signature) pair.
func (r *Registry) RecordActivity(ctx context.Context, address string, sig domain.Signal) {
	e := r.entry(address)
	if e == nil {
		return
	}

	e.mu.Lock()
	switch sig.Type {
	case domain.SignalMint:
		e.wa.MintSeen = true
	case domain.SignalPoolCreated:
		e.wa.PoolSeen = true
	case domain.SignalBuy, domain.SignalSell:
		e.wa.BuySeen = true
	}
	e.wa.SignalCount++
	e.wa.LastActivityAt = sig.Timestamp
	if e.wa.Status == domain.StatusWatching {
		e.wa.Status = domain.StatusActive
	}
	e.wa.UpdatedAt = time.Now().UnixMilli()
	snapshot := e.wa
	e.mu.Unlock()

	if err := r.store.Update(ctx, &snapshot); err != nil {
		r.logger.Printf("[registry] persist activity for %s failed: %v", address, err)
	}
	r.refreshMetrics()
}

// Remove archives an entry at admin request and drops its subscription.
func (r *Registry) Remove(ctx context.Context, address string) error {
	e := r.entry(address)
	if e == nil {
		return storage.ErrNotFound
	}

	e.mu.Lock()
	e.wa.Status = domain.StatusArchived
	e.wa.UpdatedAt = time.Now().UnixMilli()
	handle, hasSub := e.handle, e.hasSub
	e.handle, e.hasSub = 0, false
	snapshot := e.wa
	e.mu.Unlock()

	if hasSub {
		if err := r.mux.Unsubscribe(handle); err != nil {
			r.logger.Printf("[registry] unsubscribe %s failed: %v", address, err)
		}
	}

	if err := r.store.Update(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist removal of %s: %w", address, err)
	}

	r.mu.Lock()
	delete(r.entries, address)
	r.mu.Unlock()

	r.refreshMetrics()
	r.logger.Printf("[registry] removed %s", address)
	return nil
}

// Sweep retires entries past their watch window: never-active entries are
// archived, active ones go inactive but keep their history. Unsubscribe
// failures never block the transition; the local entry is authoritative
// and a dangling remote id resolves itself on the next resubscribe pass.
func (r *Registry) Sweep(ctx context.Context) int {
	now := time.Now().UnixMilli()

	r.mu.RLock()
	candidates := make([]*entry, 0)
	for _, e := range r.entries {
		candidates = append(candidates, e)
	}
	r.mu.RUnlock()

	expired := 0
	for _, e := range candidates {
		e.mu.Lock()
		if !e.wa.Expired(now) || (e.wa.Status != domain.StatusWatching && e.wa.Status != domain.StatusActive) {
			e.mu.Unlock()
			continue
		}

		if e.wa.HasActivity() {
			e.wa.Status = domain.StatusInactive
		} else {
			e.wa.Status = domain.StatusArchived
		}
		e.wa.UpdatedAt = now
		handle, hasSub := e.handle, e.hasSub
		e.handle, e.hasSub = 0, false
		snapshot := e.wa
		e.mu.Unlock()

		if hasSub {
			if err := r.mux.Unsubscribe(handle); err != nil {
				r.logger.Printf("[registry] sweep unsubscribe %s failed: %v", snapshot.Address, err)
			}
		}
		if err := r.store.Update(ctx, &snapshot); err != nil {
			r.logger.Printf("[registry] sweep persist %s failed: %v", snapshot.Address, err)
		}

		if snapshot.Status == domain.StatusArchived {
			r.mu.Lock()
			delete(r.entries, snapshot.Address)
			r.mu.Unlock()
		}

		expired++
		r.logger.Printf("[registry] expired %s -> %s", snapshot.Address, snapshot.Status)
	}

	observability.RecordSweep(expired)
	r.refreshMetrics()
	return expired
}

// Get returns a copy of the entry for the address, or nil.
func (r *Registry) Get(address string) *domain.WatchedAddress {
	e := r.entry(address)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	wa := e.wa
	return &wa
}

// IsTracked reports whether the address has a live registry entry.
func (r *Registry) IsTracked(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[address]
	return ok
}

// Pollable returns the addresses the reconciliation poller should cover:
// everything watching or active.
func (r *Registry) Pollable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for addr, e := range r.entries {
		e.mu.Lock()
		s := e.wa.Status
		e.mu.Unlock()
		if s == domain.StatusWatching || s == domain.StatusActive {
			out = append(out, addr)
		}
	}
	return out
}

// Snapshot returns copies of every live entry, for the status endpoint.
func (r *Registry) Snapshot() []domain.WatchedAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.WatchedAddress, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		out = append(out, e.wa)
		e.mu.Unlock()
	}
	return out
}

// subscribe opens a logs subscription mentioning the address and records
// the handle on the entry.
func (r *Registry) subscribe(ctx context.Context, address string) error {
	params := []interface{}{
		map[string]interface{}{"mentions": []string{address}},
		map[string]interface{}{"commitment": "confirmed"},
	}

	subject := address
	handle, err := r.mux.Subscribe(ctx, wsmux.KindLogs, params, func(result json.RawMessage) {
		r.onNotification(subject, result)
	})
	if err != nil {
		return err
	}

	e := r.entry(address)
	if e == nil {
		// Removed while the subscribe was in flight.
		r.mux.Unsubscribe(handle)
		return nil
	}
	e.mu.Lock()
	e.handle = handle
	e.hasSub = true
	e.mu.Unlock()
	return nil
}

// onNotification extracts the transaction signature from a logs push and
// hands it to the processing pipeline. Malformed or failed notifications
// are dropped here.
func (r *Registry) onNotification(subject string, result json.RawMessage) {
	var payload struct {
		Value struct {
			Signature string      `json:"signature"`
			Err       interface{} `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		r.logger.Printf("[registry] malformed logs notification for %s: %v", subject, err)
		return
	}
	if payload.Value.Signature == "" {
		return
	}
	if payload.Value.Err != nil {
		// Failed transactions never classify; skip the fetch entirely.
		return
	}
	r.handler(subject, payload.Value.Signature)
}

func (r *Registry) entry(address string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[address]
}

func (r *Registry) cascadedActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		e.mu.Lock()
		if e.wa.Kind == domain.KindCascaded &&
			(e.wa.Status == domain.StatusWatching || e.wa.Status == domain.StatusActive) {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep(context.Background())
		}
	}
}

func (r *Registry) refreshMetrics() {
	counts := make(map[[2]string]int)

	r.mu.RLock()
	for _, e := range r.entries {
		e.mu.Lock()
		counts[[2]string{string(e.wa.Kind), string(e.wa.Status)}]++
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, kind := range []domain.Kind{domain.KindSource, domain.KindCascaded, domain.KindPinned} {
		for _, status := range []domain.Status{domain.StatusWatching, domain.StatusActive, domain.StatusInactive, domain.StatusArchived} {
			observability.SetWatchedAddresses(string(kind), string(status), counts[[2]string{string(kind), string(status)}])
		}
	}
}
