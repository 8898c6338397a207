package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidbmar/openai-transcribe/internal/accumulator"
	"github.com/davidbmar/openai-transcribe/internal/audio"
	"github.com/davidbmar/openai-transcribe/internal/config"
	"github.com/davidbmar/openai-transcribe/internal/metrics"
	"github.com/davidbmar/openai-transcribe/internal/session"
	"github.com/davidbmar/openai-transcribe/internal/transcription"
	"github.com/davidbmar/openai-transcribe/internal/vad"
)

// TranscriberStats exposes backend client statistics for monitoring endpoints.
type TranscriberStats interface {
	GetStats() transcription.Stats
}

// HTTPServer provides the HTTP ingest and monitoring API
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	sessions    *session.Manager
	transcriber TranscriberStats
	gate        *vad.Gate
	metrics     *metrics.Metrics

	startTime time.Time
}

// transcribeResponse is the JSON body returned by /api/transcribe and /api/reset.
type transcribeResponse struct {
	Success    bool   `json:"success"`
	Transcript string `json:"transcript"`
	SessionID  string `json:"session_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewHTTPServer creates a new HTTP API server. The silence gate may be nil
// when gating is disabled.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, sessions *session.Manager,
	transcriber TranscriberStats, gate *vad.Gate, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		sessions:    sessions,
		transcriber: transcriber,
		gate:        gate,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Audio ingest endpoints
	mux.HandleFunc("/api/transcribe", h.withMetrics("/api/transcribe", h.handleTranscribe))
	mux.HandleFunc("/api/reset", h.withMetrics("/api/reset", h.handleReset))

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleTranscribe implements the POST /api/transcribe endpoint. The chunk
// arrives either as the raw request body or as the "file" part of a multipart
// form. Session identity comes from the X-Session-ID header; an empty or
// missing header starts a new session whose generated ID is returned in the
// response.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxBodyBytes)

	data, formatHint, err := h.readChunk(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, transcribeResponse{
			Error: err.Error(),
		})
		return
	}

	h.metrics.RecordChunkReceived(len(data))

	sessionID := r.Header.Get("X-Session-ID")
	chunk := accumulator.Chunk{
		Data:       data,
		Format:     formatHint,
		ReceivedAt: time.Now(),
	}

	// A chunk the silence gate scores as pure silence is discarded without
	// touching the session buffer or the upstream API.
	if h.gate != nil && h.skipSilent(chunk) {
		usedID, _ := h.resolveSessionID(sessionID)
		h.writeJSON(w, http.StatusOK, transcribeResponse{
			Success:   true,
			SessionID: usedID,
		})
		return
	}

	usedID, text, err := h.sessions.Handle(r.Context(), sessionID, chunk)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case transcription.IsTransient(err):
			status = http.StatusBadGateway
		case transcription.IsPermanent(err):
			status = http.StatusUnprocessableEntity
		}

		h.logger.Warn("Transcription request failed",
			slog.String("session_id", usedID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)

		h.writeJSON(w, status, transcribeResponse{
			SessionID: usedID,
			Error:     err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, transcribeResponse{
		Success:    true,
		Transcript: text,
		SessionID:  usedID,
	})
}

// handleReset implements the POST /api/reset endpoint. Resetting an unknown
// session is not an error; there is simply nothing to clear.
func (h *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		h.writeJSON(w, http.StatusBadRequest, transcribeResponse{
			Error: "X-Session-ID header is required",
		})
		return
	}

	h.sessions.Reset(sessionID)

	h.writeJSON(w, http.StatusOK, transcribeResponse{
		Success:   true,
		SessionID: sessionID,
	})
}

// readChunk extracts the audio bytes and a format hint from the request.
func (h *HTTPServer) readChunk(r *http.Request) ([]byte, string, error) {
	formatHint := strings.ToLower(r.Header.Get("X-Audio-Format"))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("missing multipart file field: %w", err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read uploaded file: %w", err)
		}

		if formatHint == "" {
			ext := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
			formatHint = strings.ToLower(ext)
		}

		return data, formatHint, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, "", fmt.Errorf("failed to read request body: %w", err)
	}

	return data, formatHint, nil
}

// skipSilent reports whether the silence gate rejects the chunk. Only PCM
// payloads can be scored; compressed formats always pass through.
func (h *HTTPServer) skipSilent(chunk accumulator.Chunk) bool {
	var pcm []byte

	switch chunk.Format {
	case audio.FormatRaw:
		pcm = chunk.Data
	case audio.FormatWAV:
		unwrapped, _, _, err := audio.UnwrapPCM16(chunk.Data)
		if err != nil {
			return false
		}
		pcm = unwrapped
	default:
		return false
	}

	hasSpeech, err := h.gate.HasSpeech(pcm)
	if err != nil {
		return false
	}

	h.metrics.RecordGateWindow(hasSpeech)

	return !hasSpeech
}

// resolveSessionID maps an incoming session ID to the session it names,
// creating one when the ID is empty.
func (h *HTTPServer) resolveSessionID(id string) (string, error) {
	sess, err := h.sessions.GetOrCreate(id)
	if err != nil {
		return id, err
	}
	return sess.ID, nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	sessionStats := h.sessions.GetStats()
	transcriberStats := h.transcriber.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "openai-transcribe",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": sessionStats.ActiveSessions,
			},
			"transcription": map[string]interface{}{
				"status":         "running",
				"total_requests": transcriberStats.TotalRequests,
				"success_rate":   transcriberStats.SuccessRate,
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.sessions.List()

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"http_port":      h.config.Server.HTTPPort,
			"tcp_port":       h.config.Server.TCPPort,
			"tcp_enabled":    h.config.Server.TCPEnabled,
			"bind_address":   h.config.Server.BindAddress,
			"max_body_bytes": h.config.Server.MaxBodyBytes,
		},
		"session": map[string]interface{}{
			"idle_timeout": h.config.Session.IdleTimeout,
		},
		"accumulator": map[string]interface{}{
			"min_chunk_bytes":     h.config.Accumulator.MinChunkBytes,
			"max_buffer_bytes":    h.config.Accumulator.MaxBufferBytes,
			"max_empty_responses": h.config.Accumulator.MaxEmptyResponses,
			"preferred_format":    h.config.Accumulator.PreferredFormat,
			"default_format":      h.config.Accumulator.DefaultFormat,
		},
		"vad": map[string]interface{}{
			"enabled":     h.config.VAD.Enabled,
			"threshold":   h.config.VAD.Threshold,
			"window_size": h.config.VAD.WindowSize,
		},
		"transcription": map[string]interface{}{
			"provider":       h.config.Transcription.Provider,
			"endpoint":       h.config.Transcription.Endpoint,
			"model":          h.config.Transcription.Model,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"convert": map[string]interface{}{
			"enabled":     h.config.Convert.Enabled,
			"sample_rate": h.config.Convert.SampleRate,
			"channels":    h.config.Convert.Channels,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionStats := h.sessions.GetStats()
	transcriberStats := h.transcriber.GetStats()
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count":  sessionStats.ActiveSessions,
			"created":       sessionStats.SessionsCreated,
			"evicted":       sessionStats.SessionsEvicted,
			"pending_bytes": h.sessions.PendingBytes(),
		},
		"transcription": transcriberStats,
	}

	if h.gate != nil {
		stats["gate"] = h.gate.GetStats()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "OpenAI Transcribe Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /api/transcribe": "Submit an audio chunk for transcription",
			"POST /api/reset":      "Discard buffered audio for a session",
			"GET /":                "API documentation",
			"GET /health":          "Service health check",
			"GET /sessions":        "List all active sessions",
			"GET /config":          "Get service configuration",
			"GET /stats":           "Get service statistics",
			"GET /metrics":         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
