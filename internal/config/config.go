package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidbmar/openai-transcribe/internal/audio"
)

// Config represents the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Session       SessionConfig       `yaml:"session"`
	Accumulator   AccumulatorConfig   `yaml:"accumulator"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Convert       ConvertConfig       `yaml:"convert"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains the HTTP and raw-socket listener configuration.
type ServerConfig struct {
	HTTPPort     int    `yaml:"http_port"`
	TCPPort      int    `yaml:"tcp_port"`
	TCPEnabled   bool   `yaml:"tcp_enabled"`
	BindAddress  string `yaml:"bind_address"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// SessionConfig contains session registry configuration.
type SessionConfig struct {
	IdleTimeout int `yaml:"idle_timeout"` // seconds
}

// AccumulatorConfig contains the retry policy tuning knobs.
type AccumulatorConfig struct {
	MinChunkBytes     int    `yaml:"min_chunk_bytes"`
	MaxBufferBytes    int    `yaml:"max_buffer_bytes"`
	MaxEmptyResponses int    `yaml:"max_empty_responses"`
	PreferredFormat   string `yaml:"preferred_format"`
	DefaultFormat     string `yaml:"default_format"`
	RawSampleRate     int    `yaml:"raw_sample_rate"`
	RawChannels       int    `yaml:"raw_channels"`
}

// VADConfig contains the optional silence gate configuration.
type VADConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Threshold  float32 `yaml:"threshold"`
	WindowSize int     `yaml:"window_size"` // samples
}

// TranscriptionConfig contains transcription backend configuration.
type TranscriptionConfig struct {
	Provider      string `yaml:"provider"` // "openai" or "http"
	Endpoint      string `yaml:"endpoint"` // required for "http"
	BaseURL       string `yaml:"base_url"` // optional override for "openai"
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// ConvertConfig contains the ffmpeg transcoder configuration.
type ConvertConfig struct {
	Enabled    bool   `yaml:"enabled"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Timeout    int    `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the configuration file, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv lets credentials come from the environment so API keys stay out
// of config files. TRANSCRIBE_API_KEY wins over OPENAI_API_KEY.
func (c *Config) applyEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Transcription.APIKey == "" {
		c.Transcription.APIKey = key
	}

	if key := os.Getenv("TRANSCRIBE_API_KEY"); key != "" {
		c.Transcription.APIKey = key
	}
}

// Validate performs validation across all configuration sections.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Accumulator.Validate(); err != nil {
		return fmt.Errorf("accumulator config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Convert.Validate(); err != nil {
		return fmt.Errorf("convert config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates listener configuration.
func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535, got %d", s.HTTPPort)
	}

	if s.TCPEnabled {
		if s.TCPPort < 1 || s.TCPPort > 65535 {
			return fmt.Errorf("tcp_port must be between 1 and 65535, got %d", s.TCPPort)
		}

		if s.TCPPort == s.HTTPPort {
			return fmt.Errorf("tcp_port and http_port cannot both be %d", s.TCPPort)
		}
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024, got %d", s.MaxBodyBytes)
	}

	return nil
}

// Validate validates session configuration.
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}

	return nil
}

// Validate validates the retry policy configuration.
func (a *AccumulatorConfig) Validate() error {
	if a.MinChunkBytes < 0 {
		return fmt.Errorf("min_chunk_bytes cannot be negative, got %d", a.MinChunkBytes)
	}

	if a.MaxBufferBytes <= a.MinChunkBytes {
		return fmt.Errorf("max_buffer_bytes (%d) must be greater than min_chunk_bytes (%d)",
			a.MaxBufferBytes, a.MinChunkBytes)
	}

	if a.MaxEmptyResponses < 1 {
		return fmt.Errorf("max_empty_responses must be at least 1, got %d", a.MaxEmptyResponses)
	}

	if !audio.IsKnownFormat(a.PreferredFormat) {
		return fmt.Errorf("preferred_format must be a known audio format, got %q", a.PreferredFormat)
	}

	if !audio.IsKnownFormat(a.DefaultFormat) {
		return fmt.Errorf("default_format must be a known audio format, got %q", a.DefaultFormat)
	}

	if a.RawSampleRate < 0 {
		return fmt.Errorf("raw_sample_rate cannot be negative, got %d", a.RawSampleRate)
	}

	if a.RawChannels < 0 || a.RawChannels > 2 {
		return fmt.Errorf("raw_channels must be 0, 1 or 2, got %d", a.RawChannels)
	}

	return nil
}

// Validate validates the silence gate configuration.
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 64 || v.WindowSize > 8192 {
		return fmt.Errorf("window_size must be between 64 and 8192 samples, got %d", v.WindowSize)
	}

	return nil
}

// Validate validates transcription backend configuration. Missing
// credentials for the selected provider are a startup failure, not a
// runtime one.
func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case "openai":
		if t.APIKey == "" && t.BaseURL == "" {
			return fmt.Errorf("api_key is required for the openai provider (set OPENAI_API_KEY)")
		}
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	default:
		return fmt.Errorf("provider must be 'openai' or 'http', got %q", t.Provider)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates transcoder configuration.
func (v *ConvertConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", v.SampleRate)
	}

	if v.Channels < 1 || v.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", v.Channels)
	}

	if v.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", v.Timeout)
	}

	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output accepts stdout, stderr, or a file path; nothing to validate here.

	return nil
}

// GetIdleTimeoutDuration returns the session idle timeout as a time.Duration.
func (s *SessionConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration.
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the transcoder timeout as a time.Duration.
func (v *ConvertConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(v.Timeout) * time.Second
}
