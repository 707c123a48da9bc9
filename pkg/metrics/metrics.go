package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	initialized        atomic.Bool
	metricsEnabled     atomic.Bool
	defaultMetricsPath = "/metrics"

	// Pipeline metrics
	StageLatency        *prometheus.HistogramVec
	StageFailures       *prometheus.CounterVec
	ChunkProcessingTime *prometheus.HistogramVec
	EventsEmitted       *prometheus.CounterVec
	SLAViolations       prometheus.Counter
	ActiveSessions      prometheus.Gauge

	// Audio metrics
	VADDecisions          *prometheus.CounterVec
	NoiseReductionApplied prometheus.Counter
	AudioClarity          prometheus.Histogram

	// Transcription cache
	TranscriptionCache *prometheus.CounterVec

	// Speech provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPReconnectAttempts prometheus.Counter
	AMQPConnectionStatus  prometheus.Gauge

	// Transport metrics
	WebSocketConnections prometheus.Gauge
	RateLimitedChunks    prometheus.Counter
)

func init() {
	metricsEnabled.Store(true)
}

// Init creates and registers all collectors. Safe to call more than once.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		StageLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estate_voice_stage_latency_seconds",
				Help:    "Latency of individual pipeline stages",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"stage"},
		)

		StageFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estate_voice_stage_failures_total",
				Help: "Pipeline stages that failed and were replaced by a default",
			},
			[]string{"stage"},
		)

		ChunkProcessingTime = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estate_voice_chunk_processing_seconds",
				Help:    "Wall-clock time from chunk arrival to final event",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
			[]string{"outcome"},
		)

		EventsEmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estate_voice_events_emitted_total",
				Help: "Pipeline events emitted by type",
			},
			[]string{"type"},
		)

		SLAViolations = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "estate_voice_sla_violations_total",
				Help: "Chunks whose processing exceeded the latency target",
			},
		)

		ActiveSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "estate_voice_sessions_active",
				Help: "Number of active conversation sessions",
			},
		)

		VADDecisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estate_voice_vad_decisions_total",
				Help: "Voice activity decisions per chunk",
			},
			[]string{"decision"},
		)

		NoiseReductionApplied = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "estate_voice_noise_reduction_applied_total",
				Help: "Chunks that went through noise reduction",
			},
		)

		AudioClarity = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "estate_voice_audio_clarity",
				Help:    "Clarity score of processed chunks",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		)

		TranscriptionCache = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estate_voice_transcription_cache_total",
				Help: "Transcription cache lookups by result",
			},
			[]string{"result"},
		)

		ProviderRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estate_voice_provider_requests_total",
				Help: "Requests to external speech providers",
			},
			[]string{"kind", "provider", "status"},
		)

		ProviderLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estate_voice_provider_latency_seconds",
				Help:    "Latency of external speech provider calls",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"kind", "provider"},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estate_voice_amqp_published_messages_total",
				Help: "Messages published to AMQP",
			},
			[]string{"exchange", "status"},
		)

		AMQPReconnectAttempts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "estate_voice_amqp_reconnect_attempts_total",
				Help: "AMQP reconnection attempts",
			},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "estate_voice_amqp_connection_status",
				Help: "AMQP connection status (1 connected, 0 disconnected)",
			},
		)

		WebSocketConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "estate_voice_websocket_connections",
				Help: "Open conversation WebSocket connections",
			},
		)

		RateLimitedChunks = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "estate_voice_rate_limited_chunks_total",
				Help: "Audio chunks rejected by the ingress limiter",
			},
		)

		registry.MustRegister(
			StageLatency,
			StageFailures,
			ChunkProcessingTime,
			EventsEmitted,
			SLAViolations,
			ActiveSessions,
			VADDecisions,
			NoiseReductionApplied,
			AudioClarity,
			TranscriptionCache,
			ProviderRequests,
			ProviderLatency,
			AMQPPublishedMessages,
			AMQPReconnectAttempts,
			AMQPConnectionStatus,
			WebSocketConnections,
			RateLimitedChunks,
		)

		initialized.Store(true)
		if logger != nil {
			logger.Info("Prometheus metrics initialized")
		}
	})
}

// GetRegistry returns the prometheus registry, nil before Init
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsEnabled enables or disables recording
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled returns whether recording is on
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

func active() bool {
	return initialized.Load() && metricsEnabled.Load()
}

// RegisterHandler mounts the metrics endpoint on mux
func RegisterHandler(mux *http.ServeMux) {
	if !active() {
		return
	}
	mux.Handle(defaultMetricsPath, promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          registry,
		},
	))
}

// ObserveStage records the latency of a pipeline stage
func ObserveStage(stage string, d time.Duration) {
	if active() {
		StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// RecordStageFailure counts a stage replaced by its default
func RecordStageFailure(stage string) {
	if active() {
		StageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveChunk records the end-to-end time for a chunk and its outcome
func ObserveChunk(outcome string, d time.Duration) {
	if active() {
		ChunkProcessingTime.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// RecordEvent counts an emitted pipeline event
func RecordEvent(eventType string) {
	if active() {
		EventsEmitted.WithLabelValues(eventType).Inc()
	}
}

// RecordSLAViolation counts a chunk over the latency target
func RecordSLAViolation() {
	if active() {
		SLAViolations.Inc()
	}
}

// SessionStarted increments the active sessions gauge
func SessionStarted() {
	if active() {
		ActiveSessions.Inc()
	}
}

// SessionEnded decrements the active sessions gauge
func SessionEnded() {
	if active() {
		ActiveSessions.Dec()
	}
}

// RecordVAD records a chunk-level voice activity decision
func RecordVAD(isSpeech bool) {
	if !active() {
		return
	}
	if isSpeech {
		VADDecisions.WithLabelValues("speech").Inc()
	} else {
		VADDecisions.WithLabelValues("silence").Inc()
	}
}

// RecordNoiseReduction counts a chunk that was denoised
func RecordNoiseReduction() {
	if active() {
		NoiseReductionApplied.Inc()
	}
}

// ObserveClarity records a chunk clarity score
func ObserveClarity(score float64) {
	if active() {
		AudioClarity.Observe(score)
	}
}

// RecordCacheLookup counts a transcription cache hit or miss
func RecordCacheLookup(hit bool) {
	if !active() {
		return
	}
	if hit {
		TranscriptionCache.WithLabelValues("hit").Inc()
	} else {
		TranscriptionCache.WithLabelValues("miss").Inc()
	}
}

// ObserveProvider returns a completion func recording latency and status of
// a provider call
func ObserveProvider(kind, provider string) func(err error) {
	if !active() {
		return func(error) {}
	}

	start := time.Now()
	return func(err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		ProviderRequests.WithLabelValues(kind, provider, status).Inc()
		ProviderLatency.WithLabelValues(kind, provider).Observe(time.Since(start).Seconds())
	}
}

// RecordAMQPPublish records an AMQP publish outcome
func RecordAMQPPublish(exchange, status string) {
	if active() {
		AMQPPublishedMessages.WithLabelValues(exchange, status).Inc()
	}
}

// RecordAMQPReconnect counts a reconnection attempt
func RecordAMQPReconnect() {
	if active() {
		AMQPReconnectAttempts.Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if !active() {
		return
	}
	if connected {
		AMQPConnectionStatus.Set(1)
	} else {
		AMQPConnectionStatus.Set(0)
	}
}

// TrackWebSocket increments the connection gauge and returns the decrement
func TrackWebSocket() func() {
	if !active() {
		return func() {}
	}
	WebSocketConnections.Inc()
	return func() { WebSocketConnections.Dec() }
}

// RecordRateLimitedChunk counts a chunk dropped by the ingress limiter
func RecordRateLimitedChunk() {
	if active() {
		RateLimitedChunks.Inc()
	}
}
