package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidbmar/openai-transcribe/internal/accumulator"
)

// Session is one capture session: an ID, its accumulation policy, and
// lifecycle timestamps.
type Session struct {
	ID        string
	StartTime time.Time
	Policy    *accumulator.Policy
}

// Info is the monitoring view of a session.
type Info struct {
	ID           string            `json:"id"`
	StartTime    time.Time         `json:"start_time"`
	LastActivity time.Time         `json:"last_activity"`
	Stats        accumulator.Stats `json:"stats"`
}

// Metrics receives session lifecycle events for metrics export. All
// methods must be safe for concurrent use.
type Metrics interface {
	RecordSessionCreated()
	RecordSessionDestroyed(durationSeconds float64)
	SetActiveSessions(count int)
	SetPendingBytes(bytes int64)
}

// ManagerStats represents registry-level statistics.
type ManagerStats struct {
	ActiveSessions  int    `json:"active_sessions"`
	SessionsCreated uint64 `json:"sessions_created"`
	SessionsEvicted uint64 `json:"sessions_evicted"`
}

// Manager is the registry of active sessions. It creates a fresh accumulation
// policy per session and evicts sessions after an idle timeout so abandoned
// capture pages do not pin buffered audio forever.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration
	metrics  Metrics // optional

	// Policy wiring shared by all sessions
	policyConfig accumulator.Config
	transcriber  accumulator.Transcriber
	converter    accumulator.Converter

	// Statistics
	sessionsCreated uint64
	sessionsEvicted uint64

	// Cleanup management
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a session registry and starts its eviction loop.
// metrics may be nil when no export is wired.
func NewManager(logger *slog.Logger, timeout time.Duration, policyConfig accumulator.Config,
	transcriber accumulator.Transcriber, converter accumulator.Converter, metrics Metrics) (*Manager, error) {

	if timeout <= 0 {
		return nil, fmt.Errorf("session timeout must be positive, got %v", timeout)
	}

	if err := policyConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}

	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:     make(map[string]*Session),
		logger:       logger,
		timeout:      timeout,
		metrics:      metrics,
		policyConfig: policyConfig,
		transcriber:  transcriber,
		converter:    converter,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go mgr.cleanupLoop()

	return mgr, nil
}

// GetOrCreate returns the session with the given ID, creating it if needed.
// An empty ID requests a new session with a generated UUID.
func (m *Manager) GetOrCreate(id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session, exists := m.sessions[id]; exists {
		return session, nil
	}

	policy, err := accumulator.New(m.policyConfig, m.transcriber, m.converter,
		m.logger.With(slog.String("session_id", id)))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy for session %s: %w", id, err)
	}

	session := &Session{
		ID:        id,
		StartTime: time.Now(),
		Policy:    policy,
	}
	m.sessions[id] = session
	m.sessionsCreated++
	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Session created",
		slog.String("session_id", id),
		slog.Int("active_sessions", len(m.sessions)),
	)

	return session, nil
}

// Handle routes one chunk to its session's policy. Returns the session ID
// actually used (generated when the caller passed none) alongside the
// policy result.
func (m *Manager) Handle(ctx context.Context, sessionID string, chunk accumulator.Chunk) (string, string, error) {
	session, err := m.GetOrCreate(sessionID)
	if err != nil {
		return "", "", err
	}

	text, err := session.Policy.Handle(ctx, chunk)
	return session.ID, text, err
}

// Reset discards the accumulated audio of a session. Reports whether the
// session existed.
func (m *Manager) Reset(sessionID string) bool {
	m.mu.RLock()
	session, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if !exists {
		return false
	}

	session.Policy.Reset()
	m.logger.Info("Session reset", slog.String("session_id", sessionID))
	return true
}

// Remove deletes a session outright, discarding any buffered audio.
// Reports whether the session existed.
func (m *Manager) Remove(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return false
	}

	delete(m.sessions, sessionID)
	if m.metrics != nil {
		m.metrics.RecordSessionDestroyed(time.Since(session.StartTime).Seconds())
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Session removed", slog.String("session_id", sessionID))
	return true
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetStats returns registry-level statistics.
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		ActiveSessions:  len(m.sessions),
		SessionsCreated: m.sessionsCreated,
		SessionsEvicted: m.sessionsEvicted,
	}
}

// List returns the monitoring view of all active sessions.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, Info{
			ID:           session.ID,
			StartTime:    session.StartTime,
			LastActivity: session.Policy.LastActivity(),
			Stats:        session.Policy.GetStats(),
		})
	}

	return infos
}

// PendingBytes returns the total audio currently buffered across sessions.
func (m *Manager) PendingBytes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, session := range m.sessions {
		total += session.Policy.GetStats().PendingBytes
	}

	return total
}

// cleanupLoop periodically evicts idle sessions.
func (m *Manager) cleanupLoop() {
	defer close(m.done)

	interval := m.timeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdle()
			if m.metrics != nil {
				m.metrics.SetPendingBytes(int64(m.PendingBytes()))
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// evictIdle removes sessions whose last activity is older than the timeout.
func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.timeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, session := range m.sessions {
		if session.Policy.LastActivity().Before(cutoff) {
			delete(m.sessions, id)
			m.sessionsEvicted++
			if m.metrics != nil {
				m.metrics.RecordSessionDestroyed(time.Since(session.StartTime).Seconds())
			}
			m.logger.Info("Session evicted after idle timeout",
				slog.String("session_id", id),
				slog.Duration("timeout", m.timeout),
			)
		}
	}

	if m.metrics != nil {
		m.metrics.SetActiveSessions(len(m.sessions))
	}
}

// Stop terminates the eviction loop and drops all sessions.
func (m *Manager) Stop() {
	m.cancel()
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.sessions)
	m.sessions = make(map[string]*Session)
	if m.metrics != nil {
		m.metrics.SetActiveSessions(0)
		m.metrics.SetPendingBytes(0)
	}

	m.logger.Info("Session manager stopped", slog.Int("sessions_dropped", count))
}
