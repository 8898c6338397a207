package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/davidbmar/openai-transcribe/internal/accumulator"
	"github.com/davidbmar/openai-transcribe/internal/config"
	"github.com/davidbmar/openai-transcribe/internal/convert"
	"github.com/davidbmar/openai-transcribe/internal/metrics"
	"github.com/davidbmar/openai-transcribe/internal/server"
	"github.com/davidbmar/openai-transcribe/internal/session"
	"github.com/davidbmar/openai-transcribe/internal/transcription"
	"github.com/davidbmar/openai-transcribe/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "openai-transcribe"
	serviceVersion    = "1.0.0"
)

// transcriber is what the rest of the service needs from a backend client.
type transcriber interface {
	accumulator.Transcriber
	server.TranscriberStats
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// A .env file is optional; environment variables it sets feed the
	// config loader's credential overrides.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.Server.HTTPPort),
		slog.Bool("tcp_enabled", cfg.Server.TCPEnabled),
		slog.Int("tcp_port", cfg.Server.TCPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.String("provider", cfg.Transcription.Provider),
		slog.Int("min_chunk_bytes", cfg.Accumulator.MinChunkBytes),
		slog.Int("max_buffer_bytes", cfg.Accumulator.MaxBufferBytes),
		slog.Int("max_empty_responses", cfg.Accumulator.MaxEmptyResponses),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.Bool("convert_enabled", cfg.Convert.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize transcription backend
	client, err := newTranscriber(cfg.Transcription, appMetrics)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transcription client initialized",
		slog.String("provider", cfg.Transcription.Provider),
		slog.String("model", cfg.Transcription.Model),
	)

	// Initialize ffmpeg converter (if enabled)
	var converter accumulator.Converter
	if cfg.Convert.Enabled {
		ffmpeg, err := convert.NewFFmpeg(convert.Config{
			BinaryPath: cfg.Convert.FFmpegPath,
			SampleRate: cfg.Convert.SampleRate,
			Channels:   cfg.Convert.Channels,
			Timeout:    cfg.Convert.GetTimeoutDuration(),
			Recorder:   appMetrics,
		}, logger)
		if err != nil {
			logger.Error("Failed to create ffmpeg converter", slog.String("error", err.Error()))
			os.Exit(1)
		}
		converter = ffmpeg
		logger.Info("FFmpeg converter initialized",
			slog.Int("sample_rate", cfg.Convert.SampleRate),
			slog.Int("channels", cfg.Convert.Channels),
		)
	}

	// Initialize silence gate (if enabled)
	var gate *vad.Gate
	if cfg.VAD.Enabled {
		gate, err = vad.NewGate(cfg.VAD.Threshold, cfg.VAD.WindowSize)
		if err != nil {
			logger.Error("Failed to create silence gate", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Silence gate initialized",
			slog.Float64("threshold", float64(cfg.VAD.Threshold)),
			slog.Int("window_size", cfg.VAD.WindowSize),
		)
	}

	// Initialize session manager
	policyConfig := accumulator.Config{
		MinChunkBytes:     cfg.Accumulator.MinChunkBytes,
		MaxBufferBytes:    cfg.Accumulator.MaxBufferBytes,
		MaxEmptyResponses: cfg.Accumulator.MaxEmptyResponses,
		PreferredFormat:   cfg.Accumulator.PreferredFormat,
		DefaultFormat:     cfg.Accumulator.DefaultFormat,
		RawSampleRate:     cfg.Accumulator.RawSampleRate,
		RawChannels:       cfg.Accumulator.RawChannels,
		Recorder:          appMetrics,
	}

	sessions, err := session.NewManager(logger, cfg.Session.GetIdleTimeoutDuration(), policyConfig, client, converter, appMetrics)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeoutDuration()),
	)

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, sessions, client, gate, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)),
	)

	// Initialize TCP server (if enabled)
	var tcpServer *server.TCPServer
	if cfg.Server.TCPEnabled {
		tcpServer = server.NewTCPServer(&cfg.Server, logger, sessions, appMetrics)
		logger.Info("TCP server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.TCPPort)),
		)
	}

	// Start HTTP server
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start TCP server (if enabled)
	if tcpServer != nil {
		if err := tcpServer.Start(); err != nil {
			logger.Error("Failed to start TCP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop TCP server (drain connections)
	if tcpServer != nil {
		if err := tcpServer.Stop(); err != nil {
			logger.Error("Error stopping TCP server", slog.String("error", err.Error()))
		}
	}

	// Stop session manager (discard buffers and stop background routines)
	sessions.Stop()

	// Get final statistics
	stats := client.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("empty_results", stats.EmptyResults),
		slog.Uint64("failed_requests", stats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// newTranscriber creates the backend client selected by the configuration.
func newTranscriber(cfg config.TranscriptionConfig, recorder transcription.Recorder) (transcriber, error) {
	switch cfg.Provider {
	case "openai":
		return transcription.NewOpenAIClient(transcription.OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
			Recorder: recorder,
		})
	case "http":
		return transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Language:      cfg.Language,
			Timeout:       cfg.GetTimeoutDuration(),
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
			Recorder:      recorder,
		})
	default:
		return nil, fmt.Errorf("unknown transcription provider: %q", cfg.Provider)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
