package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ashbyte/cliptransfer/internal/observability"
	"github.com/ashbyte/cliptransfer/internal/packet"
)

var (
	ErrNotFound      = errors.New("task: not found")
	ErrAlreadyExists = errors.New("task: already exists")
)

// record is the on-disk representation of a Task, journaled as a
// pretty-printed JSON array.
type record struct {
	ID             string                 `json:"task_id"`
	FileName       string                 `json:"file_name"`
	FilePath       string                 `json:"file_path,omitempty"`
	TransferType   string                 `json:"transfer_type"`
	TotalSize      int64                  `json:"total_size"`
	ChunkSize      int                    `json:"chunk_size"`
	ChunkTotal     int                    `json:"chunk_total"`
	FileMD5        string                 `json:"file_md5,omitempty"`
	FolderManifest []recordManifestEntry  `json:"folder_manifest,omitempty"`
	Status         string                 `json:"status"`
	CreateTime     time.Time              `json:"create_time"`
	StartTime      time.Time              `json:"start_time,omitempty"`
	EndTime        time.Time              `json:"end_time,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	CompletedChunks []int                 `json:"completed_chunks"`
	FailedChunks    map[string]string     `json:"failed_chunks"`
	TransferredBytes int64                `json:"transferred_bytes"`
}

type recordManifestEntry struct {
	Path      string `json:"path"`
	ModMillis int64  `json:"mod_time"`
}

// Store is the process-wide, thread-safe holder of every known Task. It
// journals the full in-memory set to a single JSON file after every
// mutation, and reloads it on construction.
type Store struct {
	mu          sync.RWMutex
	tasks       map[string]*Task
	journalPath string
	metrics     *observability.Metrics
}

// SetMetrics attaches a metrics recorder; every journal rewrite after
// this call reports its latency via RecordJournalWrite. Optional — a
// Store with no metrics attached simply skips recording.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// NewStore opens (or creates) the JSON journal at journalPath and loads
// any tasks already recorded there. Non-terminal statuses (RUNNING,
// PAUSED) are remapped to PENDING on load, since a crash mid-transfer
// leaves no engine actually running.
func NewStore(journalPath string) (*Store, error) {
	s := &Store{
		tasks:       make(map[string]*Task),
		journalPath: journalPath,
	}

	data, err := os.ReadFile(journalPath)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task: read journal: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("task: parse journal: %w", err)
	}

	for _, r := range records {
		t := fromRecord(r)
		s.tasks[t.ID] = t
	}
	return s, nil
}

func fromRecord(r record) *Task {
	manifest := make([]packet.ManifestEntry, 0, len(r.FolderManifest))
	for _, e := range r.FolderManifest {
		manifest = append(manifest, packet.ManifestEntry{
			Path:    e.Path,
			ModTime: packet.ModTime{Time: time.UnixMilli(e.ModMillis)},
		})
	}

	t := NewWithID(r.ID, r.FileName, r.FilePath, packet.TransferType(r.TransferType), r.TotalSize, r.ChunkSize, r.FileMD5, manifest)
	t.ChunkTotal = r.ChunkTotal
	t.CreateTime = r.CreateTime
	t.StartTime = r.StartTime
	t.EndTime = r.EndTime
	t.errorMessage = r.ErrorMessage
	t.transferredBytes = r.TransferredBytes

	for _, idx := range r.CompletedChunks {
		t.completed[idx] = struct{}{}
	}
	for idxStr, reason := range r.FailedChunks {
		var idx int
		fmt.Sscanf(idxStr, "%d", &idx)
		t.failed[idx] = reason
	}

	status := Status(r.Status)
	if status == StatusRunning || status == StatusPaused {
		status = StatusPending
	}
	t.status = status

	return t
}

func toRecord(t *Task) record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	completed := make([]int, 0, len(t.completed))
	for idx := range t.completed {
		completed = append(completed, idx)
	}
	sort.Ints(completed)

	failed := make(map[string]string, len(t.failed))
	for idx, reason := range t.failed {
		failed[fmt.Sprintf("%d", idx)] = reason
	}

	manifest := make([]recordManifestEntry, 0, len(t.FolderManifest))
	for _, e := range t.FolderManifest {
		manifest = append(manifest, recordManifestEntry{Path: e.Path, ModMillis: e.ModTime.UnixMilli()})
	}

	return record{
		ID:               t.ID,
		FileName:         t.FileName,
		FilePath:         t.FilePath,
		TransferType:     string(t.TransferType),
		TotalSize:        t.TotalSize,
		ChunkSize:        t.ChunkSize,
		ChunkTotal:       t.ChunkTotal,
		FileMD5:          t.FileMD5,
		FolderManifest:   manifest,
		Status:           string(t.status),
		CreateTime:       t.CreateTime,
		StartTime:        t.StartTime,
		EndTime:          t.EndTime,
		ErrorMessage:     t.errorMessage,
		CompletedChunks:  completed,
		FailedChunks:     failed,
		TransferredBytes: t.transferredBytes,
	}
}

// Add inserts a new task and journals the updated set.
func (s *Store) Add(t *Task) error {
	s.mu.Lock()
	if _, exists := s.tasks[t.ID]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return s.journal()
}

// Update re-journals the store — callers mutate Task fields directly
// through its thread-safe methods and then call Update to persist the
// delta, mirroring the sender/receiver's "own the live reference, push
// deltas to the store" split.
func (s *Store) Update(t *Task) error {
	s.mu.Lock()
	if _, exists := s.tasks[t.ID]; !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.mu.Unlock()
	return s.journal()
}

// Remove deletes a task from the store and journals the change.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	if _, exists := s.tasks[id]; !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.tasks, id)
	s.mu.Unlock()
	return s.journal()
}

// Get retrieves a task by ID.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns every known task.
func (s *Store) List() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime.Before(out[j].CreateTime) })
	return out
}

// ListByStatus returns every task currently in status.
func (s *Store) ListByStatus(status Status) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.Status() == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime.Before(out[j].CreateTime) })
	return out
}

// CleanupCompleted removes every COMPLETED task whose EndTime is older
// than keepDays days. keepDays == 0 removes all completed tasks.
func (s *Store) CleanupCompleted(keepDays int) int {
	s.mu.Lock()
	cutoff := time.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)
	removed := 0
	for id, t := range s.tasks {
		if t.Status() != StatusCompleted {
			continue
		}
		if keepDays == 0 || t.EndTime.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		_ = s.journal()
	}
	return removed
}

// Statistics summarizes the store's current contents.
type Statistics struct {
	Total         int
	ByStatus      map[Status]int
	TotalSize     int64
	CompletedSize int64
}

// Statistics computes aggregate counters over every known task.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{ByStatus: make(map[Status]int)}
	for _, t := range s.tasks {
		stats.Total++
		status := t.Status()
		stats.ByStatus[status]++
		stats.TotalSize += t.TotalSize
		if status == StatusCompleted {
			stats.CompletedSize += t.TotalSize
		}
	}
	return stats
}

// journal rewrites the entire JSON journal file via write-temp-then-
// rename, so a crash mid-write never leaves a truncated file behind.
func (s *Store) journal() error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordJournalWrite(time.Since(start).Seconds())
		}
	}()

	s.mu.RLock()
	records := make([]record, 0, len(s.tasks))
	for _, t := range s.tasks {
		records = append(records, toRecord(t))
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].CreateTime.Before(records[j].CreateTime) })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("task: marshal journal: %w", err)
	}

	dir := filepath.Dir(s.journalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("task: create journal dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tasks-*.json.tmp")
	if err != nil {
		return fmt.Errorf("task: create journal temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("task: write journal temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("task: close journal temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.journalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("task: replace journal: %w", err)
	}
	return nil
}
