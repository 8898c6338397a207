package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/davidbmar/openai-transcribe/internal/accumulator"
	"github.com/davidbmar/openai-transcribe/internal/protocol"
	"github.com/davidbmar/openai-transcribe/internal/session"
	"github.com/davidbmar/openai-transcribe/internal/transcription"
)

var errTransientUpstream = transcription.Transient(errors.New("upstream unavailable"))

func newTestTCPServer(t *testing.T, ts *stubTranscriber) *TCPServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := testConfig()

	policyConfig := accumulator.Config{
		MinChunkBytes:     cfg.Accumulator.MinChunkBytes,
		MaxBufferBytes:    cfg.Accumulator.MaxBufferBytes,
		MaxEmptyResponses: cfg.Accumulator.MaxEmptyResponses,
		PreferredFormat:   cfg.Accumulator.PreferredFormat,
		DefaultFormat:     cfg.Accumulator.DefaultFormat,
	}

	sessions, err := session.NewManager(logger, 5*time.Minute, policyConfig, ts, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}
	t.Cleanup(sessions.Stop)

	return NewTCPServer(&cfg.Server, logger, sessions, sharedMetrics())
}

// startConnection runs handleConnection on the server side of a pipe and
// returns the client side.
func startConnection(t *testing.T, s *TCPServer) net.Conn {
	t.Helper()

	serverConn, clientConn := net.Pipe()

	s.mu.Lock()
	s.activeConnections++
	s.mu.Unlock()

	s.wg.Add(1)
	go s.handleConnection(serverConn)

	t.Cleanup(func() {
		clientConn.Close()
		s.cancel()
		s.wg.Wait()
	})

	return clientConn
}

func sendHello(t *testing.T, conn net.Conn, sessionID, formatHint string) {
	t.Helper()

	if sessionID == "" {
		sessionID = strings.Repeat("\x00", protocol.SessionIDSize)
	}

	payload, err := protocol.EncodeHelloPayload(sessionID, formatHint)
	if err != nil {
		t.Fatalf("Failed to encode hello payload: %v", err)
	}

	if err := protocol.WriteFrame(conn, protocol.FrameHello, payload); err != nil {
		t.Fatalf("Failed to write hello frame: %v", err)
	}
}

func readResult(t *testing.T, conn net.Conn) transcribeResponse {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("Failed to read result frame: %v", err)
	}

	if frame.Header.FrameType != protocol.FrameResult {
		t.Fatalf("Expected result frame, got type 0x%02x", frame.Header.FrameType)
	}

	var resp transcribeResponse
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		t.Fatalf("Failed to decode result payload: %v", err)
	}

	return resp
}

func TestTCPHelloThenAudio(t *testing.T) {
	s := newTestTCPServer(t, &stubTranscriber{text: "over the wire"})
	conn := startConnection(t, s)

	sendHello(t, conn, "", "wav")

	if err := protocol.WriteFrame(conn, protocol.FrameAudio, []byte("chunk-bytes")); err != nil {
		t.Fatalf("Failed to write audio frame: %v", err)
	}

	resp := readResult(t, conn)

	if !resp.Success {
		t.Errorf("Expected success, got error: %s", resp.Error)
	}

	if resp.Transcript != "over the wire" {
		t.Errorf("Expected transcript 'over the wire', got %q", resp.Transcript)
	}

	if resp.SessionID == "" {
		t.Error("Expected a generated session ID in the result")
	}
}

func TestTCPAudioBeforeHelloClosesConnection(t *testing.T) {
	s := newTestTCPServer(t, &stubTranscriber{text: "never"})
	conn := startConnection(t, s)

	if err := protocol.WriteFrame(conn, protocol.FrameAudio, []byte("chunk")); err != nil {
		t.Fatalf("Failed to write audio frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Errorf("Expected connection close, got %v", err)
	}
}

func TestTCPResetFrame(t *testing.T) {
	s := newTestTCPServer(t, &stubTranscriber{text: "after reset"})
	conn := startConnection(t, s)

	sendHello(t, conn, "", "wav")

	if err := protocol.WriteFrame(conn, protocol.FrameReset, nil); err != nil {
		t.Fatalf("Failed to write reset frame: %v", err)
	}

	// The connection stays usable after a reset.
	if err := protocol.WriteFrame(conn, protocol.FrameAudio, []byte("chunk")); err != nil {
		t.Fatalf("Failed to write audio frame: %v", err)
	}

	resp := readResult(t, conn)

	if !resp.Success {
		t.Errorf("Expected success after reset, got error: %s", resp.Error)
	}
}

func TestTCPTransientErrorReported(t *testing.T) {
	s := newTestTCPServer(t, &stubTranscriber{err: errTransientUpstream})
	conn := startConnection(t, s)

	sendHello(t, conn, "", "wav")

	if err := protocol.WriteFrame(conn, protocol.FrameAudio, []byte("chunk")); err != nil {
		t.Fatalf("Failed to write audio frame: %v", err)
	}

	resp := readResult(t, conn)

	if resp.Success {
		t.Error("Expected failure result")
	}

	if resp.Error == "" {
		t.Error("Expected error message in result")
	}
}
