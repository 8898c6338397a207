package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Chunk ingest metrics
	ChunksReceived prometheus.Counter
	ChunksRejected prometheus.Counter
	ChunkSize      prometheus.Histogram

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Accumulation metrics
	PendingBytes prometheus.Gauge
	BufferDrops  prometheus.Counter
	GiveUps      prometheus.Counter
	EmptyResults prometheus.Counter

	// Silence gate metrics
	GateWindowsProcessed prometheus.Counter
	GateSpeechDetected   prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Conversion metrics
	Conversions        prometheus.Counter
	ConversionFailures prometheus.Counter
	ConversionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Chunk ingest metrics
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_chunks_received_total",
			Help: "Total number of audio chunks received",
		}),
		ChunksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_chunks_rejected_total",
			Help: "Total number of audio chunks rejected as too small",
		}),
		ChunkSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_chunk_size_bytes",
			Help:    "Size of received audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcribe_active_sessions",
			Help: "Current number of active sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Accumulation metrics
		PendingBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcribe_pending_bytes",
			Help: "Total bytes buffered across all sessions awaiting retry",
		}),
		BufferDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_buffer_drops_total",
			Help: "Total number of chunks dropped at the buffer ceiling",
		}),
		GiveUps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_give_ups_total",
			Help: "Total number of buffers abandoned after repeated empty results",
		}),
		EmptyResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_empty_results_total",
			Help: "Total number of transcription calls that returned no text",
		}),

		// Silence gate metrics
		GateWindowsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_gate_windows_processed_total",
			Help: "Total number of silence gate windows processed",
		}),
		GateSpeechDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_gate_speech_detected_total",
			Help: "Total number of silence gate windows with speech detected",
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Conversion metrics
		Conversions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_conversions_total",
			Help: "Total number of audio format conversions attempted",
		}),
		ConversionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_conversion_failures_total",
			Help: "Total number of failed audio format conversions",
		}),
		ConversionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_conversion_duration_seconds",
			Help:    "Duration of audio format conversions",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunkReceived records a received audio chunk
func (m *Metrics) RecordChunkReceived(sizeBytes int) {
	m.ChunksReceived.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordChunkRejected increments the rejected chunks counter
func (m *Metrics) RecordChunkRejected() {
	m.ChunksRejected.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// SetPendingBytes sets the total buffered bytes gauge
func (m *Metrics) SetPendingBytes(bytes int64) {
	m.PendingBytes.Set(float64(bytes))
}

// RecordBufferDrop increments the buffer drop counter
func (m *Metrics) RecordBufferDrop() {
	m.BufferDrops.Inc()
}

// RecordGiveUp increments the give-up counter
func (m *Metrics) RecordGiveUp() {
	m.GiveUps.Inc()
}

// RecordEmptyResult increments the empty result counter
func (m *Metrics) RecordEmptyResult() {
	m.EmptyResults.Inc()
}

// RecordGateWindow increments gate windows processed and optionally speech detected
func (m *Metrics) RecordGateWindow(hasSpeech bool) {
	m.GateWindowsProcessed.Inc()
	if hasSpeech {
		m.GateSpeechDetected.Inc()
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordConversion records an attempted audio format conversion
func (m *Metrics) RecordConversion(durationSeconds float64, failed bool) {
	m.Conversions.Inc()
	m.ConversionDuration.Observe(durationSeconds)
	if failed {
		m.ConversionFailures.Inc()
	}
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
