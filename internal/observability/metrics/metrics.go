// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_support_client"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionStops     *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	Restarts         *prometheus.CounterVec

	// Utterance metrics
	UtterancesCompleted prometheus.Counter
	UtterancesEmpty     prometheus.Counter
	BargeIns            prometheus.Counter

	// Transcription metrics
	TranscriptionsTotal *prometheus.CounterVec
	STTErrors           *prometheus.CounterVec
	StrategyFallbacks   prometheus.Counter

	// Backend metrics
	BackendRequests *prometheus.CounterVec
	BackendErrors   *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec

	// Playback metrics
	PlaybacksTotal  *prometheus.CounterVec
	AutoplayBlocked prometheus.Counter

	// Scheduling metrics
	ScheduleTransitions *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Control RPC metrics
	RPCTotal *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_sessions_total",
			Help:      "Total number of voice sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_sessions_active",
			Help:      "Number of currently active voice sessions",
		}),
		SessionStops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_session_stops_total",
			Help:      "Voice sessions returned to idle, by reason",
		}, []string{"reason"}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_state_transitions_total",
			Help:      "Voice session state transitions",
		}, []string{"from", "to"}),
		Restarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_restarts_total",
			Help:      "Listening restarts scheduled, by cause",
		}, []string{"cause"}),

		UtterancesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_completed_total",
			Help:      "Utterances that produced a non-empty transcript",
		}),
		UtterancesEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_empty_total",
			Help:      "Utterances whose transcript was empty or whitespace",
		}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Assistant playbacks interrupted by user speech",
		}),

		TranscriptionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcripts obtained, by strategy",
		}, []string{"strategy"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of transcription errors",
		}, []string{"strategy", "code"}),
		StrategyFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_strategy_fallbacks_total",
			Help:      "Sessions that fell back from continuous recognition to batch capture",
		}),

		BackendRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend gateway requests, by endpoint",
		}, []string{"endpoint"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend gateway failures, by endpoint and kind",
		}, []string{"endpoint", "kind"}),
		BackendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Backend gateway round trip latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),

		PlaybacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Assistant audio playbacks, by outcome",
		}, []string{"outcome"}),
		AutoplayBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autoplay_blocked_total",
			Help:      "Playbacks rejected until audio is enabled by a user gesture",
		}),

		ScheduleTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_transitions_total",
			Help:      "Scheduling dialogue stage changes applied from the backend",
		}, []string{"stage"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		RPCTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "gRPC calls served, by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a voice session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionStop records a voice session returning to idle.
func (m *Metrics) RecordSessionStop(reason string) {
	m.SessionsActive.Dec()
	m.SessionStops.WithLabelValues(reason).Inc()
}

// RecordTransition records a voice state transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordRestart records a scheduled listening restart.
func (m *Metrics) RecordRestart(cause string) {
	m.Restarts.WithLabelValues(cause).Inc()
}

// RecordUtterance records a completed utterance.
func (m *Metrics) RecordUtterance(empty bool) {
	if empty {
		m.UtterancesEmpty.Inc()
		return
	}
	m.UtterancesCompleted.Inc()
}

// RecordBargeIn records playback interrupted by the user.
func (m *Metrics) RecordBargeIn() {
	m.BargeIns.Inc()
}

// RecordTranscription records a transcript produced by a strategy.
func (m *Metrics) RecordTranscription(strategy string) {
	m.TranscriptionsTotal.WithLabelValues(strategy).Inc()
}

// RecordSTTError records a transcription error.
func (m *Metrics) RecordSTTError(strategy, code string) {
	m.STTErrors.WithLabelValues(strategy, code).Inc()
}

// RecordFallback records a switch from continuous recognition to batch capture.
func (m *Metrics) RecordFallback() {
	m.StrategyFallbacks.Inc()
}

// RecordBackendCall records a backend round trip.
func (m *Metrics) RecordBackendCall(endpoint, errKind string, latencySeconds float64) {
	m.BackendRequests.WithLabelValues(endpoint).Inc()
	m.BackendLatency.WithLabelValues(endpoint).Observe(latencySeconds)
	if errKind != "" {
		m.BackendErrors.WithLabelValues(endpoint, errKind).Inc()
	}
}

// RecordPlayback records the outcome of an assistant playback.
func (m *Metrics) RecordPlayback(outcome string) {
	m.PlaybacksTotal.WithLabelValues(outcome).Inc()
}

// RecordAutoplayBlocked records a playback rejected by the autoplay policy.
func (m *Metrics) RecordAutoplayBlocked() {
	m.AutoplayBlocked.Inc()
}

// RecordScheduleStage records a scheduling stage applied from the backend.
func (m *Metrics) RecordScheduleStage(stage string) {
	m.ScheduleTransitions.WithLabelValues(stage).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordRPC records a served gRPC call.
func (m *Metrics) RecordRPC(method, code string) {
	m.RPCTotal.WithLabelValues(method, code).Inc()
}
