package task

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ashbyte/cliptransfer/internal/packet"
)

func TestStore_AddGetList(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewStore(journal)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	tk := New("a.bin", "", packet.TransferFile, 100, 50, "", nil)
	if err := store.Add(tk); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := store.Get(tk.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != tk.ID {
		t.Errorf("Get returned wrong task")
	}

	if len(store.List()) != 1 {
		t.Errorf("expected 1 task in list")
	}
}

func TestStore_ReloadRemapsRunningAndPausedToPending(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewStore(journal)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	running := New("running.bin", "", packet.TransferFile, 100, 50, "", nil)
	running.TransitionTo(StatusRunning, "")
	paused := New("paused.bin", "", packet.TransferFile, 100, 50, "", nil)
	paused.TransitionTo(StatusRunning, "")
	paused.TransitionTo(StatusPaused, "")

	if err := store.Add(running); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Add(paused); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	reloaded, err := NewStore(journal)
	if err != nil {
		t.Fatalf("reload NewStore failed: %v", err)
	}

	for _, id := range []string{running.ID, paused.ID} {
		tk, err := reloaded.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", id, err)
		}
		if tk.Status() != StatusPending {
			t.Errorf("expected %s remapped to PENDING after reload, got %s", id, tk.Status())
		}
	}
}

func TestStore_CleanupCompleted_Retention(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewStore(journal)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	now := newCompletedTask(t, "now.bin", 0)
	tenDays := newCompletedTask(t, "ten.bin", 10)
	fortyDays := newCompletedTask(t, "forty.bin", 40)

	for _, tk := range []*Task{now, tenDays, fortyDays} {
		if err := store.Add(tk); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	removed := store.CleanupCompleted(7)
	if removed != 2 {
		t.Fatalf("CleanupCompleted(7) removed %d, want 2", removed)
	}
	if _, err := store.Get(now.ID); err != nil {
		t.Errorf("expected recent completed task to survive 7-day cleanup")
	}
}

func TestStore_CleanupCompleted_ZeroRemovesAll(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewStore(journal)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	for i, age := range []int{0, 10, 40} {
		tk := newCompletedTask(t, "f"+string(rune('a'+i))+".bin", age)
		if err := store.Add(tk); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	removed := store.CleanupCompleted(0)
	if removed != 3 {
		t.Errorf("CleanupCompleted(0) removed %d, want 3", removed)
	}
}

func newCompletedTask(t *testing.T, name string, ageDays int) *Task {
	t.Helper()
	tk := New(name, "", packet.TransferFile, 100, 50, "", nil)
	tk.TransitionTo(StatusRunning, "")
	tk.TransitionTo(StatusCompleted, "")
	tk.EndTime = time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour)
	return tk
}

func TestStore_Statistics(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewStore(journal)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	a := New("a.bin", "", packet.TransferFile, 100, 50, "", nil)
	b := newCompletedTask(t, "b.bin", 0)
	b.TotalSize = 200

	store.Add(a)
	store.Add(b)

	stats := store.Statistics()
	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
	if stats.CompletedSize != 200 {
		t.Errorf("expected completed size 200, got %d", stats.CompletedSize)
	}
}
