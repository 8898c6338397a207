package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Gate is an energy-based silence gate for raw PCM-16 audio. It scores
// fixed-size windows by RMS energy and reports whether a chunk contains
// anything worth sending to the transcription collaborator. It is a cheap
// pre-filter, not a real voice activity detector; chunks it cannot score
// (compressed containers) pass through untouched.
type Gate struct {
	threshold  float32
	windowSize int // samples per scoring window
	smoothing  float32

	// Statistics
	totalWindows  uint64
	speechWindows uint64
	chunksScored  uint64
	chunksMuted   uint64
	lastProcessed time.Time

	mu sync.Mutex
}

// GateStats represents silence gate statistics for monitoring.
type GateStats struct {
	TotalWindows     uint64    `json:"total_windows"`
	SpeechWindows    uint64    `json:"speech_windows"`
	SpeechPercentage float64   `json:"speech_percentage"`
	ChunksScored     uint64    `json:"chunks_scored"`
	ChunksMuted      uint64    `json:"chunks_muted"`
	LastProcessed    time.Time `json:"last_processed"`
	Threshold        float32   `json:"threshold"`
}

// NewGate creates a silence gate. threshold is the normalized energy above
// which a window counts as speech; windowSize is in samples.
func NewGate(threshold float32, windowSize int) (*Gate, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Gate{
		threshold:  threshold,
		windowSize: windowSize,
		smoothing:  0.1, // Light smoothing factor
	}, nil
}

// HasSpeech scores raw little-endian PCM-16 bytes and reports whether any
// window clears the energy threshold. Buffers shorter than one window are
// scored as a single window.
func (g *Gate) HasSpeech(pcm []byte) (bool, error) {
	if len(pcm) < 2 {
		return false, fmt.Errorf("PCM buffer too short: %d bytes", len(pcm))
	}

	if len(pcm)%2 != 0 {
		return false, fmt.Errorf("PCM-16 buffer length must be even, got %d bytes", len(pcm))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.chunksScored++
	g.lastProcessed = time.Now()

	numSamples := len(pcm) / 2
	windowSize := g.windowSize
	if numSamples < windowSize {
		windowSize = numSamples
	}

	speech := false
	first := true
	var last float32
	for start := 0; start+windowSize <= numSamples; start += windowSize {
		probability := g.scoreWindow(pcm, start, windowSize)

		// Smooth against the previous window of the same chunk to ride out
		// single-sample spikes. Chunks from different callers share this
		// gate, so smoothing never carries over between calls.
		if !first {
			probability = g.smoothing*probability + (1-g.smoothing)*last
		}
		first = false
		last = probability

		g.totalWindows++
		if probability >= g.threshold {
			g.speechWindows++
			speech = true
		}
	}

	if !speech {
		g.chunksMuted++
	}

	return speech, nil
}

// scoreWindow computes normalized RMS energy for one window of samples.
func (g *Gate) scoreWindow(pcm []byte, start, windowSize int) float32 {
	var energy float64
	for i := 0; i < windowSize; i++ {
		offset := (start + i) * 2
		sample := int16(pcm[offset]) | int16(pcm[offset+1])<<8
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(windowSize))

	// Normalize to 0-1 assuming speech energy tops out around 10000.
	normalized := energy / 10000.0
	if normalized > 1.0 {
		normalized = 1.0
	}

	return float32(normalized)
}

// GetStats returns current gate statistics.
func (g *Gate) GetStats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	speechPercentage := float64(0)
	if g.totalWindows > 0 {
		speechPercentage = float64(g.speechWindows) / float64(g.totalWindows) * 100
	}

	return GateStats{
		TotalWindows:     g.totalWindows,
		SpeechWindows:    g.speechWindows,
		SpeechPercentage: speechPercentage,
		ChunksScored:     g.chunksScored,
		ChunksMuted:      g.chunksMuted,
		LastProcessed:    g.lastProcessed,
		Threshold:        g.threshold,
	}
}
