package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types for the raw-socket transport. A client opens a TCP connection,
// sends a Hello frame to declare its session and audio format, then streams
// Audio frames; the server answers each Audio frame with a Result frame.
const (
	FrameHello  = 0x01 // client -> server: session ID + format hint
	FrameAudio  = 0x02 // client -> server: one audio chunk
	FrameReset  = 0x03 // client -> server: discard accumulated audio
	FrameResult = 0x10 // server -> client: JSON transcription result

	// Frame structure sizes
	HeaderSize       = 5  // 1 type byte + 4 length bytes
	SessionIDSize    = 36 // canonical UUID string
	FormatHintSize   = 8  // null-padded format name
	HelloPayloadSize = SessionIDSize + FormatHintSize

	// MaxFrameLen bounds a single frame payload. Audio chunks from the
	// capture side are a few hundred KB at most; anything larger is a
	// protocol violation, not a big recording.
	MaxFrameLen = 8 << 20 // 8 MiB
)

// Header is the 5-byte frame header.
// Layout: [FrameType:1][PayloadLen:4 big-endian]
type Header struct {
	FrameType  uint8
	PayloadLen uint32
}

// HelloPayload carries the session binding for a connection.
// Layout: [SessionID:36][FormatHint:8]
type HelloPayload struct {
	SessionID  string // canonical UUID string
	FormatHint string // null-padded format name, may be empty
}

// Frame is a fully parsed frame.
type Frame struct {
	Header  Header
	Hello   *HelloPayload // Only set for Hello frames
	Payload []byte        // Raw payload for Audio/Result frames
}

// ParseHeader parses the 5-byte frame header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := Header{
		FrameType:  data[0],
		PayloadLen: binary.BigEndian.Uint32(data[1:5]),
	}

	if err := ValidateHeader(header); err != nil {
		return Header{}, err
	}

	return header, nil
}

// ValidateHeader checks the frame type and payload length bounds.
func ValidateHeader(header Header) error {
	if !IsValidFrameType(header.FrameType) {
		return fmt.Errorf("invalid frame type: 0x%02x", header.FrameType)
	}

	if header.PayloadLen > MaxFrameLen {
		return fmt.Errorf("frame payload too large: %d bytes (maximum %d)", header.PayloadLen, MaxFrameLen)
	}

	switch header.FrameType {
	case FrameHello:
		if header.PayloadLen != HelloPayloadSize {
			return fmt.Errorf("hello payload must be %d bytes, got %d", HelloPayloadSize, header.PayloadLen)
		}
	case FrameReset:
		if header.PayloadLen != 0 {
			return fmt.Errorf("reset frame must have an empty payload, got %d bytes", header.PayloadLen)
		}
	case FrameAudio:
		if header.PayloadLen == 0 {
			return fmt.Errorf("audio frame payload cannot be empty")
		}
	}

	return nil
}

// IsValidFrameType reports whether t is a known frame type.
func IsValidFrameType(t uint8) bool {
	switch t {
	case FrameHello, FrameAudio, FrameReset, FrameResult:
		return true
	}
	return false
}

// ParseHelloPayload parses the fixed-size Hello payload.
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) != HelloPayloadSize {
		return nil, fmt.Errorf("hello payload must be %d bytes, got %d", HelloPayloadSize, len(data))
	}

	return &HelloPayload{
		SessionID:  string(data[0:SessionIDSize]),
		FormatHint: trimNulls(data[SessionIDSize : SessionIDSize+FormatHintSize]),
	}, nil
}

// ReadFrame reads one complete frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}

	header, err := ParseHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	frame := &Frame{Header: header}

	if header.PayloadLen > 0 {
		frame.Payload = make([]byte, header.PayloadLen)
		if _, err := io.ReadFull(r, frame.Payload); err != nil {
			return nil, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}

	if header.FrameType == FrameHello {
		hello, err := ParseHelloPayload(frame.Payload)
		if err != nil {
			return nil, err
		}
		frame.Hello = hello
	}

	return frame, nil
}

// WriteFrame writes a frame of the given type and payload to w.
func WriteFrame(w io.Writer, frameType uint8, payload []byte) error {
	if !IsValidFrameType(frameType) {
		return fmt.Errorf("invalid frame type: 0x%02x", frameType)
	}

	if len(payload) > MaxFrameLen {
		return fmt.Errorf("frame payload too large: %d bytes (maximum %d)", len(payload), MaxFrameLen)
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = frameType
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	_, err := w.Write(buf)
	return err
}

// EncodeHelloPayload builds the fixed-size Hello payload.
func EncodeHelloPayload(sessionID, formatHint string) ([]byte, error) {
	if len(sessionID) != SessionIDSize {
		return nil, fmt.Errorf("session ID must be %d bytes, got %d", SessionIDSize, len(sessionID))
	}

	if len(formatHint) > FormatHintSize {
		return nil, fmt.Errorf("format hint too long: %d bytes (maximum %d)", len(formatHint), FormatHintSize)
	}

	payload := make([]byte, HelloPayloadSize)
	copy(payload[0:SessionIDSize], sessionID)
	copy(payload[SessionIDSize:], formatHint)

	return payload, nil
}

// trimNulls returns the string content of a null-padded byte field.
func trimNulls(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
