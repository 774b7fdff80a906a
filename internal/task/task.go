// Package task implements the TransferTask model and its durable store
// (C3): in-memory task state shared by both engines, persisted to a JSON
// journal so progress survives a crash or restart.
package task

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashbyte/cliptransfer/internal/packet"
)

// Status is the task's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether a task in this status can never be mutated
// further.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// ErrInvalidTransition is returned by Task.TransitionTo for a status
// change that is not allowed from the task's current status.
var ErrInvalidTransition = errors.New("task: invalid status transition")

// Task is the core entity shared by the sender and receiver engines: it
// identifies one logical transfer and tracks its chunk-level progress.
type Task struct {
	ID             string
	FileName       string
	FilePath       string // source path; empty on the receiver side
	TransferType   packet.TransferType
	TotalSize      int64
	ChunkSize      int
	ChunkTotal     int
	FileMD5        string
	FolderManifest []packet.ManifestEntry

	CreateTime time.Time
	StartTime  time.Time
	EndTime    time.Time

	mu               sync.RWMutex
	status           Status
	completed        map[int]struct{}
	failed           map[int]string
	transferredBytes int64
	errorMessage     string

	lastProgressTime     time.Time
	lastTransferredBytes int64
}

// New constructs a Task with a fresh UUID identity.
func New(fileName, filePath string, transferType packet.TransferType, totalSize int64, chunkSize int, fileMD5 string, manifest []packet.ManifestEntry) *Task {
	return NewWithID(uuid.New().String(), fileName, filePath, transferType, totalSize, chunkSize, fileMD5, manifest)
}

// NewWithID constructs a Task with a caller-supplied identity — used by
// the receiver, which must adopt the file_id carried on the wire, and by
// the store when rebuilding tasks from the journal.
func NewWithID(id, fileName, filePath string, transferType packet.TransferType, totalSize int64, chunkSize int, fileMD5 string, manifest []packet.ManifestEntry) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:               id,
		FileName:         fileName,
		FilePath:         filePath,
		TransferType:     transferType,
		TotalSize:        totalSize,
		ChunkSize:        chunkSize,
		ChunkTotal:       chunkTotal(totalSize, chunkSize),
		FileMD5:          fileMD5,
		FolderManifest:   manifest,
		CreateTime:       now,
		status:           StatusPending,
		completed:        make(map[int]struct{}),
		failed:           make(map[int]string),
		lastProgressTime: now,
	}
}

func chunkTotal(totalSize int64, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	n := totalSize / int64(chunkSize)
	if totalSize%int64(chunkSize) != 0 {
		n++
	}
	return int(n)
}

// Status returns the task's current status (thread-safe).
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// ErrorMessage returns the last recorded failure reason, if any.
func (t *Task) ErrorMessage() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errorMessage
}

// TransitionTo moves the task to newStatus, enforcing monotonic-toward-
// terminal transitions. StartTime/EndTime are stamped on the
// pending→running and *→terminal edges respectively.
func (t *Task) TransitionTo(newStatus Status, errorMessage string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := transitions[t.status]
	ok := false
	for _, s := range allowed {
		if s == newStatus {
			ok = true
			break
		}
	}
	if !ok {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	if newStatus == StatusRunning && t.StartTime.IsZero() {
		t.StartTime = now
	}
	if newStatus.Terminal() {
		t.EndTime = now
	}
	if errorMessage != "" {
		t.errorMessage = errorMessage
	}
	t.status = newStatus
	return nil
}

// MarkCompleted records chunkIndex as successfully transferred, evicting
// it from the failed set if present there.
func (t *Task) MarkCompleted(chunkIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failed, chunkIndex)
	t.completed[chunkIndex] = struct{}{}
}

// MarkFailed records chunkIndex as failed with reason, evicting it from
// the completed set if present there.
func (t *Task) MarkFailed(chunkIndex int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.completed, chunkIndex)
	t.failed[chunkIndex] = reason
}

// HasChunk reports whether chunkIndex is currently marked completed. A
// chunk marked failed does not count.
func (t *Task) HasChunk(chunkIndex int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, completed := t.completed[chunkIndex]
	return completed
}

// CompletedCount returns the number of chunks currently marked complete.
func (t *Task) CompletedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.completed)
}

// IsCompletionReady reports whether every chunk is complete and none are
// outstanding as failed — the condition that allows the receiver to
// finalize a transfer.
func (t *Task) IsCompletionReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.completed) == t.ChunkTotal && len(t.failed) == 0
}

// MissingIndices returns the sorted list of chunk indices that are not
// completed — both chunks that never arrived and chunks that arrived
// but failed their integrity check. This is the gap END surfaces to
// the caller, not just the never-arrived subset.
func (t *Task) MissingIndices() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var missing []int
	for i := 0; i < t.ChunkTotal; i++ {
		if _, completed := t.completed[i]; !completed {
			missing = append(missing, i)
		}
	}
	return missing
}

// FailedIndices returns the sorted list of chunk indices currently
// marked failed.
func (t *Task) FailedIndices() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	indices := make([]int, 0, len(t.failed))
	for idx := range t.failed {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// UpdateProgress records transferredBytes and refreshes the speed window
// (lastProgressTime, lastTransferredBytes).
func (t *Task) UpdateProgress(transferredBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferredBytes = transferredBytes
	t.lastProgressTime = time.Now().UTC()
	t.lastTransferredBytes = transferredBytes
}

// TransferredBytes returns the last recorded transferred-byte count.
func (t *Task) TransferredBytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transferredBytes
}
