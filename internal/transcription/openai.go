package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig contains configuration for the OpenAI-backed transcriber.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string // optional, for whisper.cpp servers and proxies
	Model    string // default: whisper-1
	Language string

	Recorder Recorder // optional metrics sink
}

// OpenAIClient implements the Transcriber port on top of the official
// audio/transcriptions API via the go-openai SDK.
type OpenAIClient struct {
	config OpenAIConfig
	client *openai.Client

	totalRequests  uint64
	emptyResults   uint64
	failedRequests uint64
	mu             sync.RWMutex
}

// NewOpenAIClient creates an OpenAI transcriber. The API key is required
// unless a BaseURL pointing at a local keyless server is configured.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Transcribe sends the audio buffer to the audio/transcriptions API and
// returns the recognized text. Empty text with a nil error means no speech
// was recognized.
func (o *OpenAIClient) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	if len(data) == 0 {
		return "", Permanent(fmt.Errorf("audio buffer is empty"))
	}

	o.mu.Lock()
	o.totalRequests++
	o.mu.Unlock()
	if o.config.Recorder != nil {
		o.config.Recorder.RecordTranscriptionRequest()
	}

	startTime := time.Now()
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.config.Model,
		FilePath: "audio." + format, // extension selects the demuxer server-side
		Reader:   bytes.NewReader(data),
		Language: o.config.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		o.mu.Lock()
		o.failedRequests++
		o.mu.Unlock()
		if o.config.Recorder != nil {
			o.config.Recorder.RecordTranscriptionFailure(time.Since(startTime).Seconds())
		}
		return "", classifyOpenAIError(err)
	}
	if o.config.Recorder != nil {
		o.config.Recorder.RecordTranscriptionSuccess(time.Since(startTime).Seconds())
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		o.mu.Lock()
		o.emptyResults++
		o.mu.Unlock()
	}

	return text, nil
}

// GetStats returns basic request counters for the monitoring endpoints.
func (o *OpenAIClient) GetStats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	successRequests := o.totalRequests - o.failedRequests
	successRate := float64(0)
	if o.totalRequests > 0 {
		successRate = float64(successRequests) / float64(o.totalRequests) * 100
	}

	return Stats{
		TotalRequests:   o.totalRequests,
		SuccessRequests: successRequests,
		EmptyResults:    o.emptyResults,
		FailedRequests:  o.failedRequests,
		SuccessRate:     successRate,
	}
}

// classifyOpenAIError maps SDK errors onto the Transient/Permanent taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return Transient(err)
		}
		return Permanent(err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500 {
			return Transient(err)
		}
		return Permanent(err)
	}

	return classifyCallError(err)
}
