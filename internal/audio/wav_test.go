package audio

import (
	"math"
	"testing"
)

// sinePCM16 generates little-endian PCM-16 bytes of a sine tone.
func sinePCM16(sampleRate int, seconds, frequency float64) []byte {
	numSamples := int(float64(sampleRate) * seconds)
	pcm := make([]byte, numSamples*2)

	for i := 0; i < numSamples; i++ {
		ts := float64(i) / float64(sampleRate)
		amplitude := 16383.0 // Half of max int16 to avoid clipping
		sample := int16(amplitude * math.Sin(2*math.Pi*frequency*ts))
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}

	return pcm
}

func TestWrapPCM16(t *testing.T) {
	sampleRate := 16000
	pcm := sinePCM16(sampleRate, 0.1, 440.0)

	wavData, err := WrapPCM16(pcm, sampleRate, 1)
	if err != nil {
		t.Fatalf("WrapPCM16 failed: %v", err)
	}

	expectedSize := HeaderSize + len(pcm)
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := ParseInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to parse WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if info.DataSize != uint32(len(pcm)) {
		t.Errorf("Expected data size %d, got %d", len(pcm), info.DataSize)
	}
}

func TestWrapPCM16InvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
		channels   int
	}{
		{"empty data", nil, 16000, 1},
		{"odd length", make([]byte, 321), 16000, 1},
		{"zero sample rate", make([]byte, 320), 0, 1},
		{"negative sample rate", make([]byte, 320), -8000, 1},
		{"too many channels", make([]byte, 320), 16000, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WrapPCM16(tt.pcm, tt.sampleRate, tt.channels); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestUnwrapPCM16RoundTrip(t *testing.T) {
	sampleRate := 16000
	pcm := sinePCM16(sampleRate, 0.05, 220.0)

	wavData, err := WrapPCM16(pcm, sampleRate, 1)
	if err != nil {
		t.Fatalf("WrapPCM16 failed: %v", err)
	}

	gotPCM, gotRate, gotChannels, err := UnwrapPCM16(wavData)
	if err != nil {
		t.Fatalf("UnwrapPCM16 failed: %v", err)
	}

	if gotRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, gotRate)
	}

	if gotChannels != 1 {
		t.Errorf("Expected 1 channel, got %d", gotChannels)
	}

	if len(gotPCM) != len(pcm) {
		t.Fatalf("Expected %d PCM bytes, got %d", len(pcm), len(gotPCM))
	}

	for i := range pcm {
		if gotPCM[i] != pcm[i] {
			t.Fatalf("PCM byte mismatch at offset %d", i)
		}
	}
}

func TestValidateWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not RIFF", make([]byte, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateWAV(tt.data); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestDuration(t *testing.T) {
	sampleRate := 16000
	seconds := 0.5
	pcm := sinePCM16(sampleRate, seconds, 440.0)

	wavData, err := WrapPCM16(pcm, sampleRate, 1)
	if err != nil {
		t.Fatalf("WrapPCM16 failed: %v", err)
	}

	duration, err := Duration(wavData)
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}

	if math.Abs(duration-seconds) > 0.001 {
		t.Errorf("Expected duration %.3fs, got %.3fs", seconds, duration)
	}
}
