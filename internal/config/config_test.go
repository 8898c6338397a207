package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			TCPPort:      9090,
			TCPEnabled:   true,
			BindAddress:  "0.0.0.0",
			MaxBodyBytes: 16 << 20,
		},
		Session: SessionConfig{
			IdleTimeout: 300,
		},
		Accumulator: AccumulatorConfig{
			MinChunkBytes:     1000,
			MaxBufferBytes:    2 << 20,
			MaxEmptyResponses: 3,
			PreferredFormat:   "wav",
			DefaultFormat:     "webm",
		},
		VAD: VADConfig{
			Enabled:    true,
			Threshold:  0.3,
			WindowSize: 512,
		},
		Transcription: TranscriptionConfig{
			Provider:      "http",
			Endpoint:      "https://api.example.com/v1/audio/transcriptions",
			APIKey:        "test-key",
			Model:         "whisper-1",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 10,
		},
		Convert: ConvertConfig{
			Enabled:    true,
			FFmpegPath: "ffmpeg",
			SampleRate: 16000,
			Channels:   1,
			Timeout:    30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.Server.HTTPPort = 70000 },
			errorMsg: "http_port must be between",
		},
		{
			name:     "tcp port collides with http port",
			mutate:   func(c *Config) { c.Server.TCPPort = c.Server.HTTPPort },
			errorMsg: "cannot both be",
		},
		{
			name:   "tcp disabled skips tcp port check",
			mutate: func(c *Config) { c.Server.TCPEnabled = false; c.Server.TCPPort = 0 },
		},
		{
			name:     "empty bind address",
			mutate:   func(c *Config) { c.Server.BindAddress = "" },
			errorMsg: "bind_address",
		},
		{
			name:     "tiny max body",
			mutate:   func(c *Config) { c.Server.MaxBodyBytes = 10 },
			errorMsg: "max_body_bytes",
		},
		{
			name:     "zero idle timeout",
			mutate:   func(c *Config) { c.Session.IdleTimeout = 0 },
			errorMsg: "idle_timeout",
		},
		{
			name:     "buffer ceiling below min chunk",
			mutate:   func(c *Config) { c.Accumulator.MaxBufferBytes = 100 },
			errorMsg: "max_buffer_bytes",
		},
		{
			name:     "zero max empty responses",
			mutate:   func(c *Config) { c.Accumulator.MaxEmptyResponses = 0 },
			errorMsg: "max_empty_responses",
		},
		{
			name:     "unknown preferred format",
			mutate:   func(c *Config) { c.Accumulator.PreferredFormat = "aiff" },
			errorMsg: "preferred_format",
		},
		{
			name:     "negative raw sample rate",
			mutate:   func(c *Config) { c.Accumulator.RawSampleRate = -8000 },
			errorMsg: "raw_sample_rate",
		},
		{
			name:     "too many raw channels",
			mutate:   func(c *Config) { c.Accumulator.RawChannels = 3 },
			errorMsg: "raw_channels",
		},
		{
			name:     "vad threshold out of range",
			mutate:   func(c *Config) { c.VAD.Threshold = 1.5 },
			errorMsg: "threshold",
		},
		{
			name:   "vad disabled skips threshold check",
			mutate: func(c *Config) { c.VAD.Enabled = false; c.VAD.Threshold = 1.5 },
		},
		{
			name:     "unknown transcription provider",
			mutate:   func(c *Config) { c.Transcription.Provider = "azure" },
			errorMsg: "provider must be",
		},
		{
			name:     "http provider without endpoint",
			mutate:   func(c *Config) { c.Transcription.Endpoint = "" },
			errorMsg: "endpoint cannot be empty",
		},
		{
			name: "openai provider without credentials",
			mutate: func(c *Config) {
				c.Transcription.Provider = "openai"
				c.Transcription.APIKey = ""
				c.Transcription.BaseURL = ""
			},
			errorMsg: "api_key is required",
		},
		{
			name: "openai provider with local base url needs no key",
			mutate: func(c *Config) {
				c.Transcription.Provider = "openai"
				c.Transcription.APIKey = ""
				c.Transcription.BaseURL = "http://localhost:8178/v1"
			},
		},
		{
			name:     "convert with bad channel count",
			mutate:   func(c *Config) { c.Convert.Channels = 5 },
			errorMsg: "channels must be",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "verbose" },
			errorMsg: "level must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected valid config, got error: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}

			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.errorMsg, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	configYAML := `
server:
  http_port: 8080
  tcp_port: 9090
  tcp_enabled: true
  bind_address: "127.0.0.1"
  max_body_bytes: 16777216
session:
  idle_timeout: 300
accumulator:
  min_chunk_bytes: 1000
  max_buffer_bytes: 2097152
  max_empty_responses: 3
  preferred_format: wav
  default_format: webm
vad:
  enabled: false
transcription:
  provider: http
  endpoint: "http://localhost:9000/transcribe"
  api_key: "file-key"
  model: whisper-1
  timeout: 30
  max_retries: 3
  max_concurrent: 10
convert:
  enabled: false
logging:
  level: debug
  format: text
  output: stdout
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("Expected http_port 8080, got %d", cfg.Server.HTTPPort)
	}

	if cfg.Transcription.APIKey != "file-key" {
		t.Errorf("Expected api_key from file, got %q", cfg.Transcription.APIKey)
	}

	if got := cfg.Session.GetIdleTimeoutDuration(); got != 5*time.Minute {
		t.Errorf("Expected 5m idle timeout, got %v", got)
	}

	if got := cfg.Transcription.GetTimeoutDuration(); got != 30*time.Second {
		t.Errorf("Expected 30s transcription timeout, got %v", got)
	}
}

func TestLoadEnvOverridesAPIKey(t *testing.T) {
	configYAML := `
server:
  http_port: 8080
  bind_address: "127.0.0.1"
  max_body_bytes: 16777216
session:
  idle_timeout: 300
accumulator:
  min_chunk_bytes: 1000
  max_buffer_bytes: 2097152
  max_empty_responses: 3
  preferred_format: wav
  default_format: webm
transcription:
  provider: openai
  timeout: 30
  max_retries: 3
  max_concurrent: 10
logging:
  level: info
  format: json
  output: stdout
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "env-openai-key")
	t.Setenv("TRANSCRIBE_API_KEY", "env-transcribe-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// TRANSCRIBE_API_KEY takes precedence.
	if cfg.Transcription.APIKey != "env-transcribe-key" {
		t.Errorf("Expected env override, got %q", cfg.Transcription.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}
