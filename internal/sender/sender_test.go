package sender

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashbyte/cliptransfer/internal/clipboard"
	"github.com/ashbyte/cliptransfer/internal/config"
	"github.com/ashbyte/cliptransfer/internal/events"
	"github.com/ashbyte/cliptransfer/internal/observability"
	"github.com/ashbyte/cliptransfer/internal/packet"
	"github.com/ashbyte/cliptransfer/internal/task"
)

// testMetrics is shared across every test in this file: promauto
// registers each named collector with the default Prometheus registry,
// so constructing a fresh Metrics per test would panic on the second
// test with a duplicate registration.
var testMetrics = observability.NewMetrics()

func newTestEngine(t *testing.T) (*Engine, *clipboard.FakeAccessor, *task.Store) {
	t.Helper()
	store, err := task.NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	clip := clipboard.NewFakeAccessor()
	log := observability.NewLogger("cliptransfer-test", "test", io.Discard)
	sink := events.NewSink[events.SenderEvent](16)
	return New(clip, store, log, testMetrics, sink), clip, store
}

func fastConfig() *config.Config {
	return &config.Config{ChunkSize: 512, SendInterval: 1, ReceiveInterval: 1}
}

func TestSend_SmallFile_EmitsStartChunksEnd(t *testing.T) {
	engine, clip, _ := newTestEngine(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	data := make([]byte, 1200)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var received []string
	clip.OnChange = func(text string) {
		received = append(received, text)
	}

	taskID, err := engine.Send(path, fastConfig())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitUntilIdle(t, engine)

	var starts, chunks, ends int
	for _, text := range received {
		result, err := packet.Decode(text)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		switch result.Packet.Kind() {
		case packet.TypeStart:
			starts++
		case packet.TypeChunk:
			chunks++
		case packet.TypeEnd:
			ends++
		}
		if result.Packet.ID() != taskID {
			t.Errorf("packet file_id = %q, want %q", result.Packet.ID(), taskID)
		}
	}

	if starts != 1 || ends != 1 {
		t.Errorf("starts=%d ends=%d, want 1 and 1", starts, ends)
	}
	if chunks != 3 {
		t.Errorf("chunks=%d, want 3", chunks)
	}
}

func TestSend_RejectsMissingPath(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Send(filepath.Join(t.TempDir(), "missing.bin"), fastConfig()); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestSend_StartPublishExhaustedRetries_FailsTask(t *testing.T) {
	engine, clip, store := newTestEngine(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	if err := os.WriteFile(path, make([]byte, 1200), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	clip.FailNextWrites(publishRetries) // exhausts every START retry attempt

	taskID, err := engine.Send(path, fastConfig())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitUntilIdle(t, engine)

	tk, err := store.Get(taskID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tk.Status() != task.StatusFailed {
		t.Errorf("status = %v, want FAILED after exhausting START publish retries", tk.Status())
	}
}

func TestSend_ChunkPublishExhaustedRetries_MarksChunkFailedButCompletes(t *testing.T) {
	engine, clip, store := newTestEngine(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	if err := os.WriteFile(path, make([]byte, 1200), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Let START through (1 write), then exhaust every retry for chunk 0.
	clip.FailNextWrites(0)
	var startSeen bool
	clip.OnChange = func(text string) {
		if !startSeen {
			startSeen = true
			clip.FailNextWrites(publishRetries)
		}
	}

	taskID, err := engine.Send(path, fastConfig())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitUntilIdle(t, engine)

	tk, err := store.Get(taskID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tk.Status() != task.StatusCompleted {
		t.Errorf("status = %v, want COMPLETED (END still emitted despite a chunk failure)", tk.Status())
	}
	if len(tk.FailedIndices()) != 1 || tk.FailedIndices()[0] != 0 {
		t.Errorf("FailedIndices = %v, want [0]", tk.FailedIndices())
	}
}

func TestPauseResume_TogglesPausedState(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	if err := os.WriteFile(path, make([]byte, 100000), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg := &config.Config{ChunkSize: 16, SendInterval: 20, ReceiveInterval: 1}
	if _, err := engine.Send(path, cfg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	engine.Pause()
	time.Sleep(150 * time.Millisecond)
	if !engine.IsPaused() {
		t.Error("expected engine paused")
	}

	engine.Resume()
	time.Sleep(50 * time.Millisecond)
	if engine.IsPaused() {
		t.Error("expected engine resumed")
	}

	engine.Stop()
	waitUntilIdle(t, engine)
}

func waitUntilIdle(t *testing.T, engine *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for engine.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for engine to go idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
