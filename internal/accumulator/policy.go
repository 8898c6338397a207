package accumulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davidbmar/openai-transcribe/internal/audio"
)

// Transcriber is the speech-to-text collaborator. Empty text with a nil
// error means no speech was recognized; errors are genuine call failures.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, format string) (string, error)
}

// Converter is the format conversion collaborator. Any error it returns is
// absorbed by the policy and treated like an empty transcription result.
type Converter interface {
	Convert(ctx context.Context, data []byte, fromHint, toFormat string) ([]byte, error)
}

// Recorder receives policy events for metrics export. All methods must be
// safe for concurrent use.
type Recorder interface {
	RecordChunkRejected()
	RecordEmptyResult()
	RecordGiveUp()
	RecordBufferDrop()
}

// Chunk is one discrete unit of audio bytes submitted by the capture side.
type Chunk struct {
	Data       []byte
	Format     string // declared container format; empty means detect
	ReceivedAt time.Time
}

// Config contains the policy tuning knobs.
type Config struct {
	MinChunkBytes     int    // chunks below this are dropped without any processing
	MaxBufferBytes    int    // pending buffer ceiling; drop rather than grow past it
	MaxEmptyResponses int    // consecutive empty results before giving up on the buffer
	PreferredFormat   string // format the transcriber handles best; conversion target
	DefaultFormat     string // fallback when magic-marker detection finds nothing
	RawSampleRate     int    // sample rate assumed for headerless PCM; 0 means 16000
	RawChannels       int    // channel count assumed for headerless PCM; 0 means 1

	Recorder Recorder // optional metrics sink
}

// Validate checks the policy configuration.
func (c *Config) Validate() error {
	if c.MinChunkBytes < 0 {
		return fmt.Errorf("min_chunk_bytes cannot be negative, got %d", c.MinChunkBytes)
	}

	if c.MaxBufferBytes <= c.MinChunkBytes {
		return fmt.Errorf("max_buffer_bytes (%d) must be greater than min_chunk_bytes (%d)",
			c.MaxBufferBytes, c.MinChunkBytes)
	}

	if c.MaxEmptyResponses < 1 {
		return fmt.Errorf("max_empty_responses must be at least 1, got %d", c.MaxEmptyResponses)
	}

	if !audio.IsKnownFormat(c.PreferredFormat) {
		return fmt.Errorf("preferred_format must be a known format, got %q", c.PreferredFormat)
	}

	if !audio.IsKnownFormat(c.DefaultFormat) {
		return fmt.Errorf("default_format must be a known format, got %q", c.DefaultFormat)
	}

	if c.RawSampleRate < 0 {
		return fmt.Errorf("raw_sample_rate cannot be negative, got %d", c.RawSampleRate)
	}

	if c.RawChannels < 0 || c.RawChannels > 2 {
		return fmt.Errorf("raw_channels must be 0, 1 or 2, got %d", c.RawChannels)
	}

	return nil
}

// state holds the carried-forward audio between calls. pending == nil
// implies pendingSize == 0 at all times.
type state struct {
	pending          []byte
	pendingSize      int
	consecutiveEmpty int
}

// Stats is a snapshot of the policy counters and carried state.
type Stats struct {
	PendingBytes     int       `json:"pending_bytes"`
	ConsecutiveEmpty int       `json:"consecutive_empty"`
	ChunksHandled    uint64    `json:"chunks_handled"`
	ChunksRejected   uint64    `json:"chunks_rejected"`
	Transcripts      uint64    `json:"transcripts"`
	EmptyResults     uint64    `json:"empty_results"`
	Conversions      uint64    `json:"conversions"`
	GiveUps          uint64    `json:"give_ups"`
	BufferDrops      uint64    `json:"buffer_drops"`
	HardFailures     uint64    `json:"hard_failures"`
	LastActivity     time.Time `json:"last_activity"`
}

// Policy orchestrates the transcription and conversion collaborators across
// a sequence of incoming chunks. All calls are serialized on an internal
// mutex; the state is not designed for concurrent mutation.
type Policy struct {
	config      Config
	transcriber Transcriber
	converter   Converter // optional
	logger      *slog.Logger

	state state

	// Statistics
	chunksHandled  uint64
	chunksRejected uint64
	transcripts    uint64
	emptyResults   uint64
	conversions    uint64
	giveUps        uint64
	bufferDrops    uint64
	hardFailures   uint64
	lastActivity   time.Time

	mu sync.Mutex
}

// New creates a Policy. The converter may be nil, in which case the
// conversion retry step is skipped entirely.
func New(config Config, transcriber Transcriber, converter Converter, logger *slog.Logger) (*Policy, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}

	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}

	if config.RawSampleRate == 0 {
		config.RawSampleRate = 16000
	}
	if config.RawChannels == 0 {
		config.RawChannels = 1
	}

	return &Policy{
		config:       config,
		transcriber:  transcriber,
		converter:    converter,
		logger:       logger,
		lastActivity: time.Now(),
	}, nil
}

// Handle runs one chunk through the policy and returns recognized text.
// An empty string with a nil error means "no speech yet, try again"; the
// unrecognized audio may have been buffered for the next call. Errors are
// genuine transcription collaborator failures; the carried buffer is
// discarded when one occurs so a broken collaborator cannot make it grow
// without bound.
func (p *Policy) Handle(ctx context.Context, chunk Chunk) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastActivity = time.Now()

	// Noise-floor fragments are rejected before any state mutation or
	// collaborator call.
	if len(chunk.Data) < p.config.MinChunkBytes {
		p.chunksRejected++
		if p.config.Recorder != nil {
			p.config.Recorder.RecordChunkRejected()
		}
		p.logger.Debug("Chunk below minimum size, ignoring",
			slog.Int("chunk_bytes", len(chunk.Data)),
			slog.Int("min_chunk_bytes", p.config.MinChunkBytes),
		)
		return "", nil
	}

	p.chunksHandled++

	// Older unrecognized audio precedes newer audio so temporal order is
	// preserved for the transcription call.
	combined := chunk.Data
	if p.state.pending != nil {
		combined = make([]byte, 0, p.state.pendingSize+len(chunk.Data))
		combined = append(combined, p.state.pending...)
		combined = append(combined, chunk.Data...)
	}

	format := chunk.Format
	if !audio.IsKnownFormat(format) {
		format = audio.DetectFormat(combined, p.config.DefaultFormat)
	}

	// Headerless PCM gains a WAV header before the upload. The pending
	// buffer keeps the raw bytes so later chunks still concatenate into a
	// single contiguous PCM stream.
	payload := combined
	if format == audio.FormatRaw {
		wrapped, wrapErr := audio.WrapPCM16(combined, p.config.RawSampleRate, p.config.RawChannels)
		if wrapErr != nil {
			p.logger.Warn("Cannot wrap raw PCM, sending as-is",
				slog.Int("combined_bytes", len(combined)),
				slog.String("error", wrapErr.Error()),
			)
		} else {
			payload = wrapped
			format = audio.FormatWAV
		}
	}

	text, err := p.transcriber.Transcribe(ctx, payload, format)
	if err != nil {
		return "", p.failHard(err)
	}

	if text != "" {
		p.succeed(len(combined))
		return text, nil
	}

	// One conversion retry when the audio is not already in the format the
	// transcriber prefers. A conversion failure degrades to an empty result.
	if p.converter != nil && format != p.config.PreferredFormat {
		converted, convErr := p.converter.Convert(ctx, payload, format, p.config.PreferredFormat)
		if convErr != nil {
			p.logger.Warn("Conversion failed, treating as empty result",
				slog.String("from", format),
				slog.String("to", p.config.PreferredFormat),
				slog.String("error", convErr.Error()),
			)
		} else {
			p.conversions++
			text, err = p.transcriber.Transcribe(ctx, converted, p.config.PreferredFormat)
			if err != nil {
				return "", p.failHard(err)
			}
			if text != "" {
				p.succeed(len(combined))
				return text, nil
			}
		}
	}

	p.recordEmpty(combined)
	return "", nil
}

// Reset unconditionally returns the policy to its initial state, discarding
// any accumulated audio.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = state{}
	p.lastActivity = time.Now()
}

// succeed clears the carried buffer and the empty-result counter.
func (p *Policy) succeed(combinedBytes int) {
	p.transcripts++
	p.state = state{}

	p.logger.Debug("Transcription succeeded",
		slog.Int("combined_bytes", combinedBytes),
	)
}

// failHard discards the carried state and surfaces the collaborator failure.
func (p *Policy) failHard(err error) error {
	p.hardFailures++
	p.state = state{}

	p.logger.Error("Transcription collaborator failed, discarding buffer",
		slog.String("error", err.Error()),
	)

	return err
}

// recordEmpty applies the consecutive-empty bookkeeping after an attempt
// (including the optional conversion retry) yielded no text.
func (p *Policy) recordEmpty(combined []byte) {
	p.emptyResults++
	if p.config.Recorder != nil {
		p.config.Recorder.RecordEmptyResult()
	}
	p.state.consecutiveEmpty++

	switch {
	case p.state.consecutiveEmpty >= p.config.MaxEmptyResponses:
		// Give up on this audio rather than retry unrecognizable input forever.
		p.giveUps++
		if p.config.Recorder != nil {
			p.config.Recorder.RecordGiveUp()
		}
		p.state = state{}
		p.logger.Debug("Max consecutive empty responses reached, discarding buffer",
			slog.Int("max_empty_responses", p.config.MaxEmptyResponses),
		)

	case len(combined) < p.config.MaxBufferBytes:
		// Carry the audio forward for the next chunk.
		pending := make([]byte, len(combined))
		copy(pending, combined)
		p.state.pending = pending
		p.state.pendingSize = len(pending)

	default:
		// Drop rather than grow past the ceiling. The empty counter keeps
		// its value; only success or give-up resets it.
		p.bufferDrops++
		if p.config.Recorder != nil {
			p.config.Recorder.RecordBufferDrop()
		}
		p.state.pending = nil
		p.state.pendingSize = 0
		p.logger.Debug("Combined buffer would exceed ceiling, dropping",
			slog.Int("combined_bytes", len(combined)),
			slog.Int("max_buffer_bytes", p.config.MaxBufferBytes),
		)
	}
}

// GetStats returns a snapshot of the policy counters and carried state.
func (p *Policy) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		PendingBytes:     p.state.pendingSize,
		ConsecutiveEmpty: p.state.consecutiveEmpty,
		ChunksHandled:    p.chunksHandled,
		ChunksRejected:   p.chunksRejected,
		Transcripts:      p.transcripts,
		EmptyResults:     p.emptyResults,
		Conversions:      p.conversions,
		GiveUps:          p.giveUps,
		BufferDrops:      p.bufferDrops,
		HardFailures:     p.hardFailures,
		LastActivity:     p.lastActivity,
	}
}

// LastActivity returns when the policy last handled a call. Used by the
// session layer for idle eviction.
func (p *Policy) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}
