package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// The struct is passed explicitly to every component that records metrics;
// a nil *Metrics is accepted everywhere and disables recording.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitWait *prometheus.HistogramVec
	subscriptionEvents     *prometheus.CounterVec
	activeSubscriptions    *prometheus.GaugeVec

	// Stake Engine Metrics
	reconcileEventsTotal   *prometheus.CounterVec
	trackedStakeAccounts   *prometheus.GaugeVec
	scanDuration           *prometheus.HistogramVec
	rewardBatchesTotal     *prometheus.CounterVec
	rewardBatchDuration    *prometheus.HistogramVec
	blockTimeResolutions   *prometheus.CounterVec
	blockTimeAttempts      *prometheus.HistogramVec
	blockTimeCacheLookups  *prometheus.CounterVec
	activeSessions         prometheus.Gauge
	addTrackedAccountTotal *prometheus.CounterVec

	// Workflow Metrics
	reportWorkflowDuration *prometheus.HistogramVec
	reportActivityDuration *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the client-side RPC rate limiter",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"endpoint"},
		),
		subscriptionEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_subscription_notifications_total",
				Help: "Total number of websocket notifications received by subscription kind",
			},
			[]string{"kind"},
		),
		activeSubscriptions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "solana_active_subscriptions",
				Help: "Number of open websocket subscriptions by kind",
			},
			[]string{"kind"},
		),

		reconcileEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stake_reconcile_events_total",
				Help: "Total number of change events applied to tracked collections by outcome",
			},
			[]string{"outcome"},
		),
		trackedStakeAccounts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stake_tracked_accounts",
				Help: "Number of stake accounts tracked per wallet",
			},
			[]string{"wallet"},
		),
		scanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stake_scan_duration_seconds",
				Help:    "Duration of stake account discovery scans in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"status"},
		),
		rewardBatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stake_reward_batches_total",
				Help: "Total number of inflation reward epoch batches by status",
			},
			[]string{"status"},
		),
		rewardBatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stake_reward_batch_duration_seconds",
				Help:    "Duration of one inflation reward epoch batch in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"status"},
		),
		blockTimeResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stake_block_time_resolutions_total",
				Help: "Total number of epoch start time resolutions by status (resolved, unresolved)",
			},
			[]string{"status"},
		),
		blockTimeAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stake_block_time_attempts",
				Help:    "Number of consecutive slots probed per block time resolution",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
			[]string{"status"},
		),
		blockTimeCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stake_block_time_cache_lookups_total",
				Help: "Total number of block time cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stake_active_sessions",
				Help: "Number of active wallet sessions",
			},
		),
		addTrackedAccountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stake_add_tracked_account_total",
				Help: "Total number of optimistic stake account inserts by status",
			},
			[]string{"status"},
		),

		reportWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stake_report_workflow_duration_seconds",
				Help:    "Duration of stake report workflow executions",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		reportActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stake_report_activity_duration_seconds",
				Help:    "Duration of individual stake report activities",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"activity"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"wallet"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"wallet", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC Metrics Methods

// RecordRPCCall records a Solana RPC call with its duration and status.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitWait records time spent blocked on the client-side limiter.
func (m *Metrics) RecordRateLimitWait(endpoint string, duration float64) {
	m.solanaRPCRateLimitWait.WithLabelValues(endpoint).Observe(duration)
}

// RecordSubscriptionNotification records one websocket notification.
func (m *Metrics) RecordSubscriptionNotification(kind string) {
	m.subscriptionEvents.WithLabelValues(kind).Inc()
}

// RecordSubscriptionChange tracks opened (+1) and closed (-1) subscriptions.
func (m *Metrics) RecordSubscriptionChange(kind string, delta float64) {
	m.activeSubscriptions.WithLabelValues(kind).Add(delta)
}

// Stake Engine Metrics Methods

// RecordReconcileEvent records the outcome of applying one change event.
func (m *Metrics) RecordReconcileEvent(outcome string) {
	m.reconcileEventsTotal.WithLabelValues(outcome).Inc()
}

// SetTrackedAccounts sets the tracked stake account count for a wallet.
func (m *Metrics) SetTrackedAccounts(wallet string, count int) {
	m.trackedStakeAccounts.WithLabelValues(wallet).Set(float64(count))
}

// DeleteTrackedAccounts drops the tracked-account series for a wallet.
func (m *Metrics) DeleteTrackedAccounts(wallet string) {
	m.trackedStakeAccounts.DeleteLabelValues(wallet)
}

// RecordScan records the duration of a discovery scan.
func (m *Metrics) RecordScan(status string, duration float64) {
	m.scanDuration.WithLabelValues(status).Observe(duration)
}

// RecordRewardBatch records one completed (or failed) epoch batch.
func (m *Metrics) RecordRewardBatch(status string, duration float64) {
	m.rewardBatchesTotal.WithLabelValues(status).Inc()
	m.rewardBatchDuration.WithLabelValues(status).Observe(duration)
}

// RecordBlockTimeResolution records a block time resolution and the number of slots probed.
func (m *Metrics) RecordBlockTimeResolution(status string, attempts int) {
	m.blockTimeResolutions.WithLabelValues(status).Inc()
	m.blockTimeAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// RecordBlockTimeCacheLookup records a block time cache hit or miss for a tier (memory, redis).
func (m *Metrics) RecordBlockTimeCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.blockTimeCacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordSessionChange tracks started (+1) and stopped (-1) sessions.
func (m *Metrics) RecordSessionChange(delta float64) {
	m.activeSessions.Add(delta)
}

// RecordAddTrackedAccount records the outcome of an optimistic insert.
func (m *Metrics) RecordAddTrackedAccount(status string) {
	m.addTrackedAccountTotal.WithLabelValues(status).Inc()
}

// Workflow Metrics Methods

// RecordWorkflowDuration records a stake report workflow execution.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.reportWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordActivityDuration records the duration of a report activity.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.reportActivityDuration.WithLabelValues(activity).Observe(duration)
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request with its duration and status.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
}

// RecordSSEConnectionChange records an SSE connection opening (+1) or closing (-1).
func (m *Metrics) RecordSSEConnectionChange(wallet string, delta float64) {
	m.sseActiveConnections.WithLabelValues(wallet).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent to a client.
func (m *Metrics) RecordSSEEventSent(wallet, eventType string) {
	m.sseEventsSent.WithLabelValues(wallet, eventType).Inc()
}

// NATS Metrics Methods

// RecordNATSPublish records a NATS message publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
