package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/davidbmar/openai-transcribe/internal/accumulator"
	"github.com/davidbmar/openai-transcribe/internal/config"
	"github.com/davidbmar/openai-transcribe/internal/metrics"
	"github.com/davidbmar/openai-transcribe/internal/protocol"
	"github.com/davidbmar/openai-transcribe/internal/session"
	"github.com/davidbmar/openai-transcribe/internal/transcription"
)

// TCPServer handles framed audio streams from persistent client connections.
// Each connection binds to one session via a Hello frame, then sends Audio
// frames and receives Result frames in return.
type TCPServer struct {
	listener net.Listener
	config   *config.ServerConfig
	logger   *slog.Logger
	sessions *session.Manager
	metrics  *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics (basic counters for now)
	connectionsAccepted uint64
	activeConnections   uint64
	framesReceived      uint64
	framesProcessed     uint64
	parseErrors         uint64
	mu                  sync.RWMutex
}

// NewTCPServer creates a new TCP server instance
func NewTCPServer(cfg *config.ServerConfig, logger *slog.Logger, sessions *session.Manager, m *metrics.Metrics) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:   cfg,
		logger:   logger,
		sessions: sessions,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins accepting TCP connections
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.TCPPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP: %w", err)
	}

	s.listener = listener

	s.logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully stops the TCP server
func (s *TCPServer) Stop() error {
	s.logger.Info("Stopping TCP server...")

	// Cancel context to signal shutdown
	s.cancel()

	// Close the listener to unblock the accept loop
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("Error closing TCP listener", slog.String("error", err.Error()))
		}
	}

	// Wait for all connection handlers to finish
	s.wg.Wait()

	// Log final statistics
	s.mu.RLock()
	connectionsAccepted := s.connectionsAccepted
	framesReceived := s.framesReceived
	framesProcessed := s.framesProcessed
	parseErrors := s.parseErrors
	s.mu.RUnlock()

	s.logger.Info("TCP server stopped",
		slog.Uint64("connections_accepted", connectionsAccepted),
		slog.Uint64("frames_received", framesReceived),
		slog.Uint64("frames_processed", framesProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// acceptLoop is the main connection accepting loop
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.connectionsAccepted++
		s.activeConnections++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection processes frames from a single client connection. The
// first frame must be a Hello binding the connection to a session; the
// connection is closed on any protocol violation.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer func() {
		s.mu.Lock()
		s.activeConnections--
		s.mu.Unlock()
	}()

	remoteAddr := conn.RemoteAddr().String()

	s.logger.Debug("Connection accepted", slog.String("remote_addr", remoteAddr))

	var (
		sessionID  string
		formatHint string
	)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Idle connections get a read deadline so shutdown is not blocked
		// on a silent client.
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			return
		}

		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("Connection closed by client", slog.String("remote_addr", remoteAddr))
				return
			}

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Debug("Connection idle timeout", slog.String("remote_addr", remoteAddr))
				return
			}

			s.mu.Lock()
			s.parseErrors++
			s.mu.Unlock()

			s.logger.Warn("Failed to read frame, closing connection",
				slog.String("remote_addr", remoteAddr),
				slog.String("error", err.Error()),
			)
			return
		}

		s.mu.Lock()
		s.framesReceived++
		s.mu.Unlock()

		switch frame.Header.FrameType {
		case protocol.FrameHello:
			boundID, err := s.processHello(frame.Hello, remoteAddr)
			if err != nil {
				s.logger.Warn("Failed to bind session, closing connection",
					slog.String("remote_addr", remoteAddr),
					slog.String("error", err.Error()),
				)
				return
			}
			sessionID = boundID
			formatHint = frame.Hello.FormatHint

		case protocol.FrameAudio:
			if sessionID == "" {
				s.logger.Warn("Audio frame before hello, closing connection",
					slog.String("remote_addr", remoteAddr),
				)
				return
			}
			if err := s.processAudio(conn, sessionID, formatHint, frame.Payload); err != nil {
				s.logger.Error("Failed to deliver result, closing connection",
					slog.String("remote_addr", remoteAddr),
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
				return
			}

		case protocol.FrameReset:
			if sessionID == "" {
				s.logger.Warn("Reset frame before hello, closing connection",
					slog.String("remote_addr", remoteAddr),
				)
				return
			}
			s.sessions.Reset(sessionID)
			s.logger.Debug("Session reset",
				slog.String("remote_addr", remoteAddr),
				slog.String("session_id", sessionID),
			)

		default:
			s.logger.Warn("Unexpected frame type from client, closing connection",
				slog.String("remote_addr", remoteAddr),
				slog.Int("frame_type", int(frame.Header.FrameType)),
			)
			return
		}

		s.mu.Lock()
		s.framesProcessed++
		s.mu.Unlock()
	}
}

// processHello binds the connection to a session. An all-null session ID
// requests a new session.
func (s *TCPServer) processHello(hello *protocol.HelloPayload, remoteAddr string) (string, error) {
	requestedID := strings.Trim(hello.SessionID, "\x00")

	sess, err := s.sessions.GetOrCreate(requestedID)
	if err != nil {
		return "", err
	}

	s.logger.Info("Session bound",
		slog.String("remote_addr", remoteAddr),
		slog.String("session_id", sess.ID),
		slog.String("format_hint", hello.FormatHint),
	)

	return sess.ID, nil
}

// processAudio runs one chunk through the session and writes a Result frame
// with the outcome. Transcription errors are reported to the client in the
// result payload; only write failures close the connection.
func (s *TCPServer) processAudio(conn net.Conn, sessionID, formatHint string, payload []byte) error {
	s.metrics.RecordChunkReceived(len(payload))

	chunk := accumulator.Chunk{
		Data:       payload,
		Format:     formatHint,
		ReceivedAt: time.Now(),
	}

	usedID, text, err := s.sessions.Handle(s.ctx, sessionID, chunk)

	result := transcribeResponse{
		Success:    err == nil,
		Transcript: text,
		SessionID:  usedID,
	}
	if err != nil {
		result.Error = err.Error()

		s.logger.Warn("Transcription failed",
			slog.String("session_id", usedID),
			slog.Bool("transient", transcription.IsTransient(err)),
			slog.String("error", err.Error()),
		)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	return protocol.WriteFrame(conn, protocol.FrameResult, body)
}

// GetStatistics returns current server statistics
func (s *TCPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		ConnectionsAccepted: s.connectionsAccepted,
		ActiveConnections:   s.activeConnections,
		FramesReceived:      s.framesReceived,
		FramesProcessed:     s.framesProcessed,
		ParseErrors:         s.parseErrors,
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ActiveConnections   uint64 `json:"active_connections"`
	FramesReceived      uint64 `json:"frames_received"`
	FramesProcessed     uint64 `json:"frames_processed"`
	ParseErrors         uint64 `json:"parse_errors"`
}
