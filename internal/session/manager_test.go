package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/davidbmar/openai-transcribe/internal/accumulator"
	"github.com/davidbmar/openai-transcribe/internal/audio"
)

type staticTranscriber struct {
	text string
}

func (s *staticTranscriber) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	return s.text, nil
}

func testPolicyConfig() accumulator.Config {
	return accumulator.Config{
		MinChunkBytes:     100,
		MaxBufferBytes:    100000,
		MaxEmptyResponses: 3,
		PreferredFormat:   audio.FormatWAV,
		DefaultFormat:     audio.FormatWebM,
	}
}

func newTestManager(t *testing.T, timeout time.Duration, text string) *Manager {
	t.Helper()

	mgr, err := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout, testPolicyConfig(), &staticTranscriber{text: text}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	return mgr
}

func TestGetOrCreateGeneratesID(t *testing.T) {
	mgr := newTestManager(t, time.Minute, "hi")

	session, err := mgr.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if session.ID == "" {
		t.Error("Expected generated session ID")
	}

	if mgr.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", mgr.Count())
	}

	// Same ID returns the same session.
	again, err := mgr.GetOrCreate(session.ID)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if again != session {
		t.Error("Expected the same session instance")
	}

	if mgr.Count() != 1 {
		t.Errorf("Expected still 1 session, got %d", mgr.Count())
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	mgr := newTestManager(t, time.Minute, "") // always empty: chunks get buffered

	chunk := accumulator.Chunk{Data: make([]byte, 500), Format: audio.FormatWAV, ReceivedAt: time.Now()}

	idA, _, err := mgr.Handle(context.Background(), "", chunk)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	idB, _, err := mgr.Handle(context.Background(), "", chunk)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if idA == idB {
		t.Fatal("Expected distinct session IDs")
	}

	// Resetting one session must not touch the other's buffered audio.
	if !mgr.Reset(idA) {
		t.Fatal("Expected reset to find session A")
	}

	sessionB, err := mgr.GetOrCreate(idB)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if sessionB.Policy.GetStats().PendingBytes == 0 {
		t.Error("Expected session B to keep its buffered audio")
	}

	sessionA, err := mgr.GetOrCreate(idA)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if sessionA.Policy.GetStats().PendingBytes != 0 {
		t.Error("Expected session A to be cleared")
	}
}

func TestResetUnknownSession(t *testing.T) {
	mgr := newTestManager(t, time.Minute, "hi")

	if mgr.Reset("no-such-session") {
		t.Error("Expected reset of unknown session to report false")
	}
}

func TestRemoveSession(t *testing.T) {
	mgr := newTestManager(t, time.Minute, "hi")

	session, err := mgr.GetOrCreate("doomed")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := session.Policy.Handle(context.Background(), accumulator.Chunk{Data: make([]byte, 200)}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if !mgr.Remove("doomed") {
		t.Error("Expected removal of existing session to report true")
	}
	if mgr.Count() != 0 {
		t.Errorf("Expected 0 sessions after removal, got %d", mgr.Count())
	}
	if mgr.Remove("doomed") {
		t.Error("Expected removal of missing session to report false")
	}

	// A re-created session with the same ID starts from a clean policy.
	session, err = mgr.GetOrCreate("doomed")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if stats := session.Policy.GetStats(); stats.ChunksHandled != 0 {
		t.Errorf("Expected fresh policy after removal, got %d handled chunks", stats.ChunksHandled)
	}
}

// fakeLifecycleMetrics tallies manager metric callbacks.
type fakeLifecycleMetrics struct {
	mu      sync.Mutex
	created int
	removed int
	active  int
}

func (f *fakeLifecycleMetrics) RecordSessionCreated() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
}

func (f *fakeLifecycleMetrics) RecordSessionDestroyed(float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
}

func (f *fakeLifecycleMetrics) SetActiveSessions(count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = count
}

func (f *fakeLifecycleMetrics) SetPendingBytes(int64) {}

func (f *fakeLifecycleMetrics) snapshot() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.removed, f.active
}

func TestMetricsReceiveLifecycleEvents(t *testing.T) {
	fake := &fakeLifecycleMetrics{}
	mgr, err := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)),
		time.Minute, testPolicyConfig(), &staticTranscriber{text: "hi"}, nil, fake)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	if _, err := mgr.GetOrCreate("a"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := mgr.GetOrCreate("b"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	created, removed, active := fake.snapshot()
	if created != 2 || removed != 0 || active != 2 {
		t.Errorf("Expected 2 created and 2 active, got created=%d removed=%d active=%d",
			created, removed, active)
	}

	mgr.Remove("a")

	created, removed, active = fake.snapshot()
	if created != 2 || removed != 1 || active != 1 {
		t.Errorf("Expected 1 removal to be recorded, got created=%d removed=%d active=%d",
			created, removed, active)
	}
}

func TestIdleEviction(t *testing.T) {
	mgr := newTestManager(t, 50*time.Millisecond, "hi")

	if _, err := mgr.GetOrCreate("idle-session"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for mgr.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if mgr.Count() != 0 {
		t.Fatal("Expected idle session to be evicted")
	}

	if stats := mgr.GetStats(); stats.SessionsEvicted != 1 {
		t.Errorf("Expected 1 evicted session, got %d", stats.SessionsEvicted)
	}
}

func TestListAndPendingBytes(t *testing.T) {
	mgr := newTestManager(t, time.Minute, "")

	chunk := accumulator.Chunk{Data: make([]byte, 500), Format: audio.FormatWAV, ReceivedAt: time.Now()}
	id, _, err := mgr.Handle(context.Background(), "", chunk)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	infos := mgr.List()
	if len(infos) != 1 || infos[0].ID != id {
		t.Fatalf("Unexpected session list: %+v", infos)
	}

	if got := mgr.PendingBytes(); got != 500 {
		t.Errorf("Expected 500 pending bytes, got %d", got)
	}
}

func TestNewManagerValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := NewManager(logger, 0, testPolicyConfig(), &staticTranscriber{}, nil, nil); err == nil {
		t.Error("Expected error for zero timeout")
	}

	if _, err := NewManager(logger, time.Minute, accumulator.Config{}, &staticTranscriber{}, nil, nil); err == nil {
		t.Error("Expected error for invalid policy config")
	}

	if _, err := NewManager(logger, time.Minute, testPolicyConfig(), nil, nil, nil); err == nil {
		t.Error("Expected error for nil transcriber")
	}
}
