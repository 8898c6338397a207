package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client sends audio buffers to a whisper-compatible HTTP transcription
// endpoint (multipart upload, bearer auth) and implements the service's
// Transcriber port. Empty recognized text is a normal, non-error outcome.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Concurrency cap

	// Statistics
	totalRequests   uint64
	successRequests uint64
	emptyResults    uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Recorder receives request-level events for metrics export. All methods
// must be safe for concurrent use.
type Recorder interface {
	RecordTranscriptionRequest()
	RecordTranscriptionSuccess(durationSeconds float64)
	RecordTranscriptionFailure(durationSeconds float64)
	RecordTranscriptionRetry()
}

// Config contains transcription client configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Model         string
	Language      string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int

	Recorder Recorder // optional metrics sink
}

// response is the whisper-compatible transcription API response body.
type response struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Stats represents client statistics for the monitoring endpoints.
type Stats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	EmptyResults    uint64        `json:"empty_results"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a transcription HTTP client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.Model == "" {
		config.Model = "whisper-1"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe uploads the audio buffer and returns the recognized text.
// An empty string with a nil error means no speech was recognized. Failures
// are classified as TransientError or PermanentError; transient failures are
// retried with exponential backoff before being surfaced.
func (c *Client) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	if len(data) == 0 {
		return "", Permanent(fmt.Errorf("audio buffer is empty"))
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", Transient(ctx.Err())
	}

	startTime := time.Now()
	c.incrementTotalRequests()
	if c.config.Recorder != nil {
		c.config.Recorder.RecordTranscriptionRequest()
	}

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.config.Recorder != nil {
				c.config.Recorder.RecordTranscriptionRetry()
			}

			// Exponential backoff, capped
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", Transient(ctx.Err())
			}
		}

		text, err := c.doRequest(ctx, data, format)
		if err == nil {
			c.recordSuccess(text, time.Since(startTime))
			if c.config.Recorder != nil {
				c.config.Recorder.RecordTranscriptionSuccess(time.Since(startTime).Seconds())
			}
			return text, nil
		}

		lastErr = err

		if !IsTransient(err) {
			break
		}
	}

	c.incrementFailedRequests()
	if c.config.Recorder != nil {
		c.config.Recorder.RecordTranscriptionFailure(time.Since(startTime).Seconds())
	}
	return "", lastErr
}

// doRequest performs a single multipart upload to the transcription endpoint.
func (c *Client) doRequest(ctx context.Context, data []byte, format string) (string, error) {
	body, contentType, err := c.buildMultipartBody(data, format)
	if err != nil {
		return "", Permanent(fmt.Errorf("failed to build multipart request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "openai-transcribe/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyCallError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyHTTPStatus(resp.StatusCode, string(respBody))
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", Permanent(fmt.Errorf("failed to parse response JSON: %w", err))
	}

	return strings.TrimSpace(parsed.Text), nil
}

// buildMultipartBody assembles the multipart/form-data upload. The filename
// extension carries the container format; whisper-compatible endpoints use it
// to pick a demuxer.
func (c *Client) buildMultipartBody(data []byte, format string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           c.config.Model,
		"response_format": "json",
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) recordSuccess(text string, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successRequests++
	if text == "" {
		c.emptyResults++
	}

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return Stats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		EmptyResults:    c.emptyResults,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for all in-flight requests to finish.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
