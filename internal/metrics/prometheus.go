package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice relay
type Metrics struct {
	// Connection metrics
	ConnectionsTotal prometheus.Counter
	ActiveSessions   prometheus.Gauge
	SessionDuration  prometheus.Histogram

	// Protocol metrics
	InboundEvents  *prometheus.CounterVec
	OutboundEvents *prometheus.CounterVec
	ProtocolErrors prometheus.Counter

	// Audio intake metrics
	FragmentsReceived prometheus.Counter
	FragmentSize      prometheus.Histogram
	UtteranceSize     prometheus.Histogram

	// Pipeline metrics
	Utterances    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "donna_connections_total",
			Help: "Total number of voice channel connections accepted",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "donna_active_sessions",
			Help: "Current number of live conversation sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "donna_session_duration_seconds",
			Help:    "Lifetime of conversation sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		InboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_inbound_events_total",
			Help: "Total number of inbound events by type",
		}, []string{"type"}),
		OutboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_outbound_events_total",
			Help: "Total number of outbound events by type",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "donna_protocol_errors_total",
			Help: "Total number of malformed inbound messages",
		}),

		FragmentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "donna_audio_fragments_total",
			Help: "Total number of audio fragments received",
		}),
		FragmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "donna_audio_fragment_size_bytes",
			Help:    "Size of received audio fragments in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10), // 256B to ~128KB
		}),
		UtteranceSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "donna_utterance_size_bytes",
			Help:    "Size of flushed utterances in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_utterances_total",
			Help: "Total number of utterances by final outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "donna_stage_duration_seconds",
			Help:    "Duration of pipeline stage calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"stage", "outcome"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "donna_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted counts a new connection and its session
func (m *Metrics) RecordSessionStarted() {
	m.ConnectionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded records a finished session and its lifetime
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordInbound counts one decoded inbound event
func (m *Metrics) RecordInbound(eventType string) {
	m.InboundEvents.WithLabelValues(eventType).Inc()
}

// RecordOutbound counts one emitted outbound event
func (m *Metrics) RecordOutbound(eventType string) {
	m.OutboundEvents.WithLabelValues(eventType).Inc()
}

// RecordProtocolError increments the malformed message counter
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Inc()
}

// RecordFragment records one received audio fragment
func (m *Metrics) RecordFragment(sizeBytes int) {
	m.FragmentsReceived.Inc()
	m.FragmentSize.Observe(float64(sizeBytes))
}

// RecordUtteranceFlushed records the size of a flushed utterance
func (m *Metrics) RecordUtteranceFlushed(sizeBytes int) {
	m.UtteranceSize.Observe(float64(sizeBytes))
}

// RecordUtterance counts an utterance by how it ended
func (m *Metrics) RecordUtterance(outcome string) {
	m.Utterances.WithLabelValues(outcome).Inc()
}

// RecordStage records one stage call
func (m *Metrics) RecordStage(stage, outcome string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage, outcome).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
