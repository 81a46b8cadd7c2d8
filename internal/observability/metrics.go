// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	MuxState             *prometheus.GaugeVec
	ActiveSubscriptions  prometheus.Gauge
	ReconnectsTotal      prometheus.Counter
	ReconnectFailures    prometheus.Counter
	PushNotifications    prometheus.Counter
	WorkerQueueDepth     prometheus.Gauge
	DroppedTasks         prometheus.Counter

	// Registry metrics
	WatchedAddresses  *prometheus.GaugeVec
	CascadesCreated   prometheus.Counter
	CascadesSuppressed *prometheus.CounterVec
	SweepsTotal       prometheus.Counter
	EntriesExpired    prometheus.Counter

	// Signal metrics
	SignalsEmitted   *prometheus.CounterVec
	PublishDrops     prometheus.Counter
	DedupHits        prometheus.Counter
	ClassifyDiscards *prometheus.CounterVec

	// Poller metrics
	PollCycles       prometheus.Counter
	PollRecovered    prometheus.Counter
	PollWindowFull   prometheus.Counter

	// Solana metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSignalTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wallet_watch"
	}

	return &Metrics{
		// Stream metrics
		MuxState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "mux_state",
			Help:      "Connection state of the subscription multiplexer (1 for current state)",
		}, []string{"state"}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_subscriptions",
			Help:      "Current number of live logical subscriptions",
		}),
		ReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of successful reconnects",
		}),
		ReconnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_failures_total",
			Help:      "Total number of failed reconnect attempts",
		}),
		PushNotifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "push_notifications_total",
			Help:      "Total number of push notifications received",
		}),
		WorkerQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "worker_queue_depth",
			Help:      "Current number of queued notification tasks",
		}),
		DroppedTasks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_tasks_total",
			Help:      "Total number of notifications dropped due to a full worker queue",
		}),

		// Registry metrics
		WatchedAddresses: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "watched_addresses",
			Help:      "Number of watched addresses by kind and status",
		}, []string{"kind", "status"}),
		CascadesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "cascades_created_total",
			Help:      "Total number of cascaded watch entries created",
		}),
		CascadesSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "cascades_suppressed_total",
			Help:      "Total number of cascade creations suppressed by reason",
		}, []string{"reason"}),
		SweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sweeps_total",
			Help:      "Total number of expiry sweep runs",
		}),
		EntriesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "entries_expired_total",
			Help:      "Total number of watch entries retired by expiry sweeps",
		}),

		// Signal metrics
		SignalsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "emitted_total",
			Help:      "Total number of signals emitted by type",
		}, []string{"type"}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "publish_drops_total",
			Help:      "Total number of signals dropped by slow listeners",
		}),
		DedupHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "dedup_hits_total",
			Help:      "Total number of transactions skipped as already processed",
		}),
		ClassifyDiscards: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "classify_discards_total",
			Help:      "Total number of transactions discarded during classification",
		}, []string{"reason"}),

		// Poller metrics
		PollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Total number of reconciliation poll cycles",
		}),
		PollRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "recovered_total",
			Help:      "Total number of transactions first seen by the poller",
		}),
		PollWindowFull: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "window_full_total",
			Help:      "Total number of poll cycles whose signature page came back full",
		}),

		// Solana metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSignalTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_signal_timestamp",
			Help:      "Unix timestamp of the last emitted signal",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

var muxStates = []string{"disconnected", "connected", "reconnecting", "failed", "closed"}

// SetMuxState marks the given multiplexer state as current.
func SetMuxState(state string) {
	for _, s := range muxStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		DefaultMetrics.MuxState.WithLabelValues(s).Set(v)
	}
}

// SetActiveSubscriptions updates the live subscription gauge.
func SetActiveSubscriptions(n int) {
	DefaultMetrics.ActiveSubscriptions.Set(float64(n))
}

// RecordReconnect increments the successful reconnect counter.
func RecordReconnect() {
	DefaultMetrics.ReconnectsTotal.Inc()
}

// RecordReconnectFailure increments the failed reconnect attempt counter.
func RecordReconnectFailure() {
	DefaultMetrics.ReconnectFailures.Inc()
}

// RecordPushNotification increments the push notification counter.
func RecordPushNotification() {
	DefaultMetrics.PushNotifications.Inc()
}

// SetWorkerQueueDepth updates the worker queue depth gauge.
func SetWorkerQueueDepth(n int) {
	DefaultMetrics.WorkerQueueDepth.Set(float64(n))
}

// RecordDroppedTask increments the dropped task counter.
func RecordDroppedTask() {
	DefaultMetrics.DroppedTasks.Inc()
}

// SetWatchedAddresses updates the watched address gauge for one kind/status pair.
func SetWatchedAddresses(kind, status string, n int) {
	DefaultMetrics.WatchedAddresses.WithLabelValues(kind, status).Set(float64(n))
}

// RecordCascadeCreated increments the cascade creation counter.
func RecordCascadeCreated() {
	DefaultMetrics.CascadesCreated.Inc()
}

// RecordCascadeSuppressed records a suppressed cascade by reason.
func RecordCascadeSuppressed(reason string) {
	DefaultMetrics.CascadesSuppressed.WithLabelValues(reason).Inc()
}

// RecordSweep records one expiry sweep run and how many entries it retired.
func RecordSweep(expired int) {
	DefaultMetrics.SweepsTotal.Inc()
	DefaultMetrics.EntriesExpired.Add(float64(expired))
}

// RecordSignal increments the emitted signal counter for the given type.
func RecordSignal(signalType string) {
	DefaultMetrics.SignalsEmitted.WithLabelValues(signalType).Inc()
	DefaultMetrics.LastSignalTimestamp.SetToCurrentTime()
}

// RecordPublishDrop increments the slow-listener drop counter.
func RecordPublishDrop() {
	DefaultMetrics.PublishDrops.Inc()
}

// RecordDedupHit increments the duplicate transaction counter.
func RecordDedupHit() {
	DefaultMetrics.DedupHits.Inc()
}

// RecordClassifyDiscard records a discarded transaction by reason.
func RecordClassifyDiscard(reason string) {
	DefaultMetrics.ClassifyDiscards.WithLabelValues(reason).Inc()
}

// RecordPollCycle increments the poll cycle counter.
func RecordPollCycle() {
	DefaultMetrics.PollCycles.Inc()
}

// RecordPollRecovered increments the poller-recovered transaction counter.
func RecordPollRecovered() {
	DefaultMetrics.PollRecovered.Inc()
}

// RecordPollWindowFull increments the full signature page counter.
func RecordPollWindowFull() {
	DefaultMetrics.PollWindowFull.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
