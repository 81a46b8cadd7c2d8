package wsmux

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"solana-wallet-watch/internal/observability"
)

// ChannelKind selects the node-side subscription channel.
type ChannelKind string

const (
	KindAccount   ChannelKind = "account"
	KindLogs      ChannelKind = "logs"
	KindSignature ChannelKind = "signature"
)

// subscribeMethod returns the JSON-RPC method opening this channel kind.
func (k ChannelKind) subscribeMethod() string {
	return string(k) + "Subscribe"
}

// unsubscribeMethod returns the JSON-RPC method closing this channel kind.
func (k ChannelKind) unsubscribeMethod() string {
	return string(k) + "Unsubscribe"
}

// Callback receives the raw result payload of one push notification.
// Callbacks run on the worker pool, never on the connection's read path.
type Callback func(result json.RawMessage)

// Handle identifies a logical subscription. It is the local correlation id
// of the original subscribe request and survives reconnects unchanged.
type Handle uint64

// State is the connection state of the multiplexer.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures the multiplexer.
type Config struct {
	// ReconnectBaseDelay is the attempt-1 reconnect delay; attempt n waits
	// base * 2^(n-1).
	ReconnectBaseDelay time.Duration
	// MaxReconnectAttempts bounds the reconnect loop. Once exhausted the
	// multiplexer enters StateFailed and calls OnDown.
	MaxReconnectAttempts int
	// RequestTimeout bounds every correlated request.
	RequestTimeout time.Duration
	// PingInterval is the keepalive ping cadence.
	PingInterval time.Duration
	// WriteTimeout bounds socket writes.
	WriteTimeout time.Duration
	// Workers is the callback worker-pool size.
	Workers int
	// QueueSize is the callback task-queue capacity. A full queue drops
	// the notification; the reconciliation poller picks it up later.
	QueueSize int
	// OnDown is invoked once when the reconnect budget is exhausted.
	OnDown func(err error)
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay:   5 * time.Second,
		MaxReconnectAttempts: 10,
		RequestTimeout:       30 * time.Second,
		PingInterval:         30 * time.Second,
		WriteTimeout:         10 * time.Second,
		Workers:              16,
		QueueSize:            1024,
	}
}

// subscription is one logical subscription. Lifetime spans reconnects; the
// remote id is reassigned by resubscribeAll on every new connection epoch.
type subscription struct {
	handle   Handle
	kind     ChannelKind
	params   []interface{}
	callback Callback
	remoteID int64
}

// pendingRequest exists between "request sent" and "response or timeout".
type pendingRequest struct {
	id       uint64
	method   string
	issuedAt time.Time
	done     chan rpcOutcome
	timer    *time.Timer
}

type rpcOutcome struct {
	result json.RawMessage
	err    error
}

type task struct {
	callback Callback
	result   json.RawMessage
}

// Mux multiplexes logical subscriptions over one WebSocket connection,
// hiding reconnects from subscription owners.
type Mux struct {
	endpoint string
	cfg      Config
	logger   *log.Logger

	conn    *websocket.Conn
	connMu  sync.Mutex // guards conn and all socket writes
	state   atomic.Int32
	closed  atomic.Bool
	started atomic.Bool

	reqID    atomic.Uint64
	handleID atomic.Uint64

	mu             sync.Mutex // guards subs, remote, pending
	subs           map[Handle]*subscription
	remote         map[int64]Handle
	pending        map[uint64]*pendingRequest
	reconnecting   atomic.Bool
	downOnce       sync.Once

	tasks    chan task
	done     chan struct{}
	wg       sync.WaitGroup
	workerWg sync.WaitGroup
}

// New creates a multiplexer for the endpoint. Call Connect before use.
func New(endpoint string, cfg Config) *Mux {
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	m := &Mux{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   logger,
		subs:     make(map[Handle]*subscription),
		remote:   make(map[int64]Handle),
		pending:  make(map[uint64]*pendingRequest),
		tasks:    make(chan task, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	m.state.Store(int32(StateDisconnected))
	return m
}

// State returns the current connection state.
func (m *Mux) State() State {
	return State(m.state.Load())
}

// Connect opens the streaming connection and starts the read, ping and
// worker goroutines. A successful connect resets the reconnect budget and
// replays every registered subscription.
func (m *Mux) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if err := m.dial(ctx); err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	m.state.Store(int32(StateConnected))
	observability.SetMuxState(StateConnected.String())

	if m.started.Swap(true) {
		// Reconnect via explicit Connect: replay existing subscriptions.
		m.resubscribeAll()
		return nil
	}

	m.wg.Add(2)
	go m.readLoop()
	go m.pingLoop()

	for i := 0; i < m.cfg.Workers; i++ {
		m.workerWg.Add(1)
		go m.worker()
	}

	m.resubscribeAll()
	return nil
}

func (m *Mux) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.endpoint, nil)
	if err != nil {
		return err
	}
	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = conn
	m.connMu.Unlock()
	return nil
}

// Subscribe opens a logical subscription and returns its handle. The handle
// stays valid across reconnects. Subscribes issued during a reconnect
// window are rejected with ErrReconnecting rather than silently accepted
// against a dead connection.
func (m *Mux) Subscribe(ctx context.Context, kind ChannelKind, params []interface{}, cb Callback) (Handle, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	switch m.State() {
	case StateReconnecting:
		return 0, ErrReconnecting
	case StateFailed:
		return 0, ErrGaveUp
	case StateDisconnected:
		return 0, ErrNotConnected
	}

	result, err := m.request(ctx, kind.subscribeMethod(), params)
	if err != nil {
		return 0, err
	}

	var remoteID int64
	if err := json.Unmarshal(result, &remoteID); err != nil {
		return 0, fmt.Errorf("parse subscription id: %w", err)
	}

	handle := Handle(m.handleID.Add(1))
	sub := &subscription{
		handle:   handle,
		kind:     kind,
		params:   params,
		callback: cb,
		remoteID: remoteID,
	}

	m.mu.Lock()
	m.subs[handle] = sub
	m.remote[remoteID] = handle
	count := len(m.subs)
	m.mu.Unlock()

	observability.SetActiveSubscriptions(count)
	return handle, nil
}

// Unsubscribe retires a logical subscription. The local entry is removed
// unconditionally; the remote unsubscribe is best effort — a dangling
// remote subscription self-resolves on the next reconnect, since only
// local entries are replayed.
func (m *Mux) Unsubscribe(handle Handle) error {
	m.mu.Lock()
	sub, ok := m.subs[handle]
	if ok {
		delete(m.subs, handle)
		delete(m.remote, sub.remoteID)
	}
	count := len(m.subs)
	m.mu.Unlock()

	observability.SetActiveSubscriptions(count)
	if !ok {
		return nil
	}
	if m.closed.Load() || m.State() != StateConnected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()
	if _, err := m.request(ctx, sub.kind.unsubscribeMethod(), []interface{}{sub.remoteID}); err != nil {
		m.logger.Printf("[wsmux] unsubscribe %d (remote %d) failed: %v", handle, sub.remoteID, err)
	}
	return nil
}

// SubscriptionCount returns the number of live logical subscriptions.
func (m *Mux) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// request issues a correlated JSON-RPC request and waits for its response,
// the request timeout, or shutdown.
func (m *Mux) request(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := m.reqID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	pr := &pendingRequest{
		id:       id,
		method:   method,
		issuedAt: time.Now(),
		done:     make(chan rpcOutcome, 1),
	}
	// Timeout rejects exactly once and removes the entry, so repeated
	// timeouts cannot leak map entries.
	pr.timer = time.AfterFunc(m.cfg.RequestTimeout, func() {
		m.failPending(id, ErrRequestTimeout)
	})

	m.mu.Lock()
	m.pending[id] = pr
	m.mu.Unlock()

	if err := m.writeJSON(req); err != nil {
		m.failPending(id, err)
		<-pr.done
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case out := <-pr.done:
		return out.result, out.err
	case <-ctx.Done():
		m.failPending(id, ctx.Err())
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrClosed
	}
}

// failPending rejects one pending request if it is still outstanding.
func (m *Mux) failPending(id uint64, err error) {
	m.mu.Lock()
	pr, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	pr.timer.Stop()
	pr.done <- rpcOutcome{err: err}
}

// failAllPending rejects every in-flight request, used on connection loss.
func (m *Mux) failAllPending(err error) {
	m.mu.Lock()
	pendings := make([]*pendingRequest, 0, len(m.pending))
	for id, pr := range m.pending {
		pendings = append(pendings, pr)
		delete(m.pending, id)
	}
	m.mu.Unlock()
	for _, pr := range pendings {
		pr.timer.Stop()
		pr.done <- rpcOutcome{err: err}
	}
}

func (m *Mux) writeJSON(v interface{}) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return m.conn.WriteJSON(v)
}

// readLoop is the single logical reader. It never blocks on handler work;
// notifications are enqueued to the worker pool.
func (m *Mux) readLoop() {
	defer m.wg.Done()

	for !m.closed.Load() {
		m.connMu.Lock()
		conn := m.conn
		m.connMu.Unlock()

		if conn == nil || m.State() != StateConnected {
			select {
			case <-m.done:
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if m.closed.Load() {
				return
			}
			if !m.reconnecting.Swap(true) {
				m.wg.Add(1)
				go m.reconnectLoop()
			}
			select {
			case <-m.done:
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		m.handleMessage(message)
	}
}

// reconnectLoop drives the backoff schedule: attempt n waits
// base * 2^(n-1); after MaxReconnectAttempts failures the multiplexer
// gives up and surfaces a fatal health signal instead of retrying forever.
func (m *Mux) reconnectLoop() {
	defer m.wg.Done()
	defer m.reconnecting.Store(false)

	m.state.Store(int32(StateReconnecting))
	observability.SetMuxState(StateReconnecting.String())
	m.failAllPending(ErrConnectionLost)

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		delay := BackoffDelay(m.cfg.ReconnectBaseDelay, attempt)
		m.logger.Printf("[wsmux] reconnect attempt %d/%d in %v", attempt, m.cfg.MaxReconnectAttempts, delay)

		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := m.dial(ctx)
		cancel()
		if err != nil {
			m.logger.Printf("[wsmux] reconnect attempt %d failed: %v", attempt, err)
			observability.RecordReconnectFailure()
			continue
		}

		// Success resets the attempt counter: the next disconnect starts
		// a fresh schedule from attempt 1.
		m.state.Store(int32(StateConnected))
		observability.SetMuxState(StateConnected.String())
		observability.RecordReconnect()
		m.logger.Printf("[wsmux] reconnected after %d attempt(s)", attempt)
		m.resubscribeAll()
		return
	}

	m.state.Store(int32(StateFailed))
	observability.SetMuxState(StateFailed.String())
	m.logger.Printf("[wsmux] giving up after %d reconnect attempts", m.cfg.MaxReconnectAttempts)
	m.downOnce.Do(func() {
		if m.cfg.OnDown != nil {
			m.cfg.OnDown(ErrGaveUp)
		}
	})
}

// BackoffDelay returns the reconnect delay for a 1-based attempt number.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// resubscribeAll replays every registered subscription against the current
// connection, swapping in freshly assigned remote ids. Handles and
// callbacks are preserved so owners never observe the reconnect. An entry
// that fails to resubscribe is dropped; its owner notices through its own
// liveness checks (the reconciliation poller).
func (m *Mux) resubscribeAll() {
	m.mu.Lock()
	snapshot := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		snapshot = append(snapshot, sub)
	}
	// Old remote ids belong to the dead connection epoch.
	m.remote = make(map[int64]Handle)
	m.mu.Unlock()

	for _, sub := range snapshot {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
		result, err := m.request(ctx, sub.kind.subscribeMethod(), sub.params)
		cancel()
		if err != nil {
			m.logger.Printf("[wsmux] resubscribe handle %d (%s) failed, dropping: %v", sub.handle, sub.kind, err)
			m.mu.Lock()
			delete(m.subs, sub.handle)
			m.mu.Unlock()
			continue
		}

		var remoteID int64
		if err := json.Unmarshal(result, &remoteID); err != nil {
			m.logger.Printf("[wsmux] resubscribe handle %d: bad subscription id: %v", sub.handle, err)
			m.mu.Lock()
			delete(m.subs, sub.handle)
			m.mu.Unlock()
			continue
		}

		m.mu.Lock()
		sub.remoteID = remoteID
		m.remote[remoteID] = sub.handle
		m.mu.Unlock()
	}

	observability.SetActiveSubscriptions(m.SubscriptionCount())
}

// handleMessage routes one inbound frame: a correlated response or a push
// notification. Malformed frames are logged and dropped; they never tear
// down the connection.
func (m *Mux) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		m.logger.Printf("[wsmux] malformed frame: %v", err)
		return
	}

	// Push notification: params carry the remote subscription id.
	if env.Method != "" && env.Params != nil {
		if !strings.HasSuffix(env.Method, "Notification") {
			m.logger.Printf("[wsmux] unexpected push method %q", env.Method)
			return
		}
		m.dispatch(env.Params.Subscription, env.Params.Result)
		return
	}

	// Correlated response.
	if env.ID != 0 {
		m.mu.Lock()
		pr, ok := m.pending[env.ID]
		if ok {
			delete(m.pending, env.ID)
		}
		m.mu.Unlock()
		if !ok {
			m.logger.Printf("[wsmux] unmatched response id %d, dropping", env.ID)
			return
		}
		pr.timer.Stop()
		if env.Error != nil {
			pr.done <- rpcOutcome{err: fmt.Errorf("rpc error %d: %s", env.Error.Code, env.Error.Message)}
			return
		}
		pr.done <- rpcOutcome{result: env.Result}
	}
}

// dispatch hands a notification to its owner's callback via the worker
// pool. A full queue drops the notification with a log line; the poller
// reconciles anything dropped here.
func (m *Mux) dispatch(remoteID int64, result json.RawMessage) {
	m.mu.Lock()
	handle, ok := m.remote[remoteID]
	var sub *subscription
	if ok {
		sub = m.subs[handle]
	}
	m.mu.Unlock()

	if sub == nil {
		m.logger.Printf("[wsmux] notification for unknown subscription %d", remoteID)
		return
	}

	observability.RecordPushNotification()
	select {
	case m.tasks <- task{callback: sub.callback, result: result}:
		observability.SetWorkerQueueDepth(len(m.tasks))
	default:
		observability.RecordDroppedTask()
		m.logger.Printf("[wsmux] worker queue full, dropping notification for handle %d", handle)
	}
}

func (m *Mux) worker() {
	defer m.workerWg.Done()
	for t := range m.tasks {
		t.callback(t.result)
		observability.SetWorkerQueueDepth(len(m.tasks))
	}
}

// pingLoop sends protocol-level pings on a fixed interval. Absence of pong
// does not itself force a reconnect; reconnects are driven by socket
// close/error only.
func (m *Mux) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.connMu.Lock()
			if m.conn != nil && m.State() == StateConnected {
				m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
				if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Reader will notice the dead socket and reconnect.
				}
			}
			m.connMu.Unlock()
		}
	}
}

// Close shuts down cooperatively: stop accepting work, stop the reader,
// drain in-flight worker tasks, then close the connection.
func (m *Mux) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.state.Store(int32(StateClosed))
	observability.SetMuxState(StateClosed.String())
	close(m.done)

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.conn.Close()
	}
	m.connMu.Unlock()

	m.failAllPending(ErrClosed)
	m.wg.Wait()

	if m.started.Load() {
		// Reader is stopped, so nothing enqueues anymore; draining is safe.
		close(m.tasks)
		m.workerWg.Wait()
	}
	return nil
}

// wsRequest is an outbound JSON-RPC 2.0 request.
type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsEnvelope covers both correlated responses and push notifications.
type wsEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  *wsPushParams   `json:"params,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsPushParams struct {
	Subscription int64           `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}
