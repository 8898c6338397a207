package convert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// ConversionError wraps any failure of the external transcoder.
type ConversionError struct {
	Err    error
	Stderr string
}

func (e *ConversionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("conversion failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("conversion failed: %v", e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Recorder receives conversion outcomes for metrics export. Must be safe
// for concurrent use.
type Recorder interface {
	RecordConversion(durationSeconds float64, failed bool)
}

// Config contains ffmpeg converter configuration.
type Config struct {
	BinaryPath string // default: "ffmpeg" resolved via PATH
	SampleRate int    // output sample rate, default 16000
	Channels   int    // output channel count, default 1
	Timeout    time.Duration

	Recorder Recorder // optional metrics sink
}

// FFmpeg converts audio buffers between container formats via an ffmpeg
// subprocess. Input and output go through a per-call temp directory; the
// process is bound to the caller's context.
type FFmpeg struct {
	config Config
	logger *slog.Logger

	// Statistics
	conversions uint64
	failures    uint64
	mu          sync.RWMutex
}

// FFmpegStats represents converter statistics for monitoring.
type FFmpegStats struct {
	Conversions uint64 `json:"conversions"`
	Failures    uint64 `json:"failures"`
}

// NewFFmpeg creates an ffmpeg-backed converter. The binary must be resolvable
// at startup; a missing transcoder is a configuration error, not a runtime
// surprise.
func NewFFmpeg(config Config, logger *slog.Logger) (*FFmpeg, error) {
	if config.BinaryPath == "" {
		config.BinaryPath = "ffmpeg"
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	if config.Channels <= 0 {
		config.Channels = 1
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	resolved, err := exec.LookPath(config.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("transcoder binary %q not found: %w", config.BinaryPath, err)
	}
	config.BinaryPath = resolved

	return &FFmpeg{
		config: config,
		logger: logger,
	}, nil
}

// Convert transcodes data from the hinted container format to toFormat.
// Only "wav" output is supported; that is the only format the transcription
// collaborators prefer.
func (f *FFmpeg) Convert(ctx context.Context, data []byte, fromHint, toFormat string) ([]byte, error) {
	if len(data) == 0 {
		return nil, &ConversionError{Err: fmt.Errorf("input buffer is empty")}
	}

	if toFormat != "wav" {
		return nil, &ConversionError{Err: fmt.Errorf("unsupported target format %q", toFormat)}
	}

	if fromHint == "" {
		fromHint = "webm"
	}

	tmpDir, err := os.MkdirTemp("", "transcode-*")
	if err != nil {
		return nil, &ConversionError{Err: fmt.Errorf("failed to create temp dir: %w", err)}
	}
	defer os.RemoveAll(tmpDir)

	inputPath := filepath.Join(tmpDir, "input."+fromHint)
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, &ConversionError{Err: fmt.Errorf("failed to write input file: %w", err)}
	}

	outputPath := filepath.Join(tmpDir, "output."+toFormat)

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.config.BinaryPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-y",
		"-ar", strconv.Itoa(f.config.SampleRate),
		"-ac", strconv.Itoa(f.config.Channels),
		"-c:a", "pcm_s16le",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	startTime := time.Now()
	if err := cmd.Run(); err != nil {
		f.recordFailure(time.Since(startTime))
		f.logger.Warn("Transcoding failed",
			slog.String("from", fromHint),
			slog.String("to", toFormat),
			slog.Int("input_bytes", len(data)),
			slog.String("stderr", stderr.String()),
			slog.String("error", err.Error()),
		)
		return nil, &ConversionError{Err: err, Stderr: stderr.String()}
	}

	converted, err := os.ReadFile(outputPath)
	if err != nil {
		f.recordFailure(time.Since(startTime))
		return nil, &ConversionError{Err: fmt.Errorf("failed to read output file: %w", err)}
	}

	f.recordSuccess(time.Since(startTime))
	f.logger.Debug("Transcoding completed",
		slog.String("from", fromHint),
		slog.String("to", toFormat),
		slog.Int("input_bytes", len(data)),
		slog.Int("output_bytes", len(converted)),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return converted, nil
}

func (f *FFmpeg) recordSuccess(elapsed time.Duration) {
	f.mu.Lock()
	f.conversions++
	f.mu.Unlock()

	if f.config.Recorder != nil {
		f.config.Recorder.RecordConversion(elapsed.Seconds(), false)
	}
}

func (f *FFmpeg) recordFailure(elapsed time.Duration) {
	f.mu.Lock()
	f.conversions++
	f.failures++
	f.mu.Unlock()

	if f.config.Recorder != nil {
		f.config.Recorder.RecordConversion(elapsed.Seconds(), true)
	}
}

// GetStats returns converter statistics.
func (f *FFmpeg) GetStats() FFmpegStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return FFmpegStats{
		Conversions: f.conversions,
		Failures:    f.failures,
	}
}
