package audio

import "bytes"

// Known container format names used across the service. These match the file
// extensions the transcription APIs expect for multipart uploads.
const (
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatWebM = "webm"
	FormatOGG  = "ogg"
	FormatFLAC = "flac"
	FormatRaw  = "raw" // headerless PCM
)

// sniffLen is the number of leading bytes inspected for magic markers.
const sniffLen = 12

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3} // Matroska/WebM EBML header
	oggMagic  = []byte("OggS")
	flacMagic = []byte("fLaC")
	id3Magic  = []byte("ID3")
)

// DetectFormat inspects the leading bytes of data for known container magic
// markers and returns the matching format name. When no marker matches (for
// example headerless PCM), fallback is returned unchanged.
func DetectFormat(data []byte, fallback string) string {
	if len(data) < sniffLen {
		return fallback
	}

	switch {
	case bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, ebmlMagic):
		return FormatWebM
	case bytes.HasPrefix(data, oggMagic):
		return FormatOGG
	case bytes.HasPrefix(data, flacMagic):
		return FormatFLAC
	case bytes.HasPrefix(data, id3Magic):
		return FormatMP3
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MP3 frame sync: 11 set bits at the start of a frame header.
		return FormatMP3
	}

	return fallback
}

// IsKnownFormat reports whether name is one of the container formats the
// service understands.
func IsKnownFormat(name string) bool {
	switch name {
	case FormatWAV, FormatMP3, FormatWebM, FormatOGG, FormatFLAC, FormatRaw:
		return true
	}
	return false
}
