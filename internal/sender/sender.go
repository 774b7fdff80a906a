// Package sender implements the Sender Engine (C4): it drives exactly
// one active transfer at a time through the clipboard, producing a
// well-formed START / CHUNK* / END sequence and honoring pause/resume/
// cancel requests from any caller goroutine.
package sender

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashbyte/cliptransfer/internal/clipboard"
	"github.com/ashbyte/cliptransfer/internal/config"
	"github.com/ashbyte/cliptransfer/internal/digest"
	"github.com/ashbyte/cliptransfer/internal/events"
	"github.com/ashbyte/cliptransfer/internal/observability"
	"github.com/ashbyte/cliptransfer/internal/packet"
	"github.com/ashbyte/cliptransfer/internal/task"
	"github.com/ashbyte/cliptransfer/internal/validation"
)

const (
	publishRetries      = 3
	publishRetryDelay   = 500 * time.Millisecond
	pausePollInterval   = 100 * time.Millisecond
	errClipboardWriteFailed = "clipboard write failed"
)

// Engine drives one active transfer through the clipboard at a time. It
// is safe to call Pause/Resume/Stop from any goroutine while Send's
// worker goroutine is running; they are no-ops when idle.
type Engine struct {
	clip    clipboard.Accessor
	store   *task.Store
	log     *observability.Logger
	metrics *observability.Metrics
	events  *events.Sink[events.SenderEvent]

	mu      sync.Mutex
	current *task.Task

	paused    atomic.Bool
	cancelled atomic.Bool
	running   atomic.Bool
}

// New constructs a sender Engine with its collaborators as explicit
// constructor dependencies: nothing here reaches for process-wide state.
func New(clip clipboard.Accessor, store *task.Store, log *observability.Logger, metrics *observability.Metrics, sink *events.Sink[events.SenderEvent]) *Engine {
	return &Engine{clip: clip, store: store, log: log, metrics: metrics, events: sink}
}

// Events returns the sender's event sink for subscription.
func (e *Engine) Events() *events.Sink[events.SenderEvent] { return e.events }

// IsRunning reports whether a transfer is in progress (including paused).
func (e *Engine) IsRunning() bool { return e.running.Load() }

// IsPaused reports whether the current transfer is paused.
func (e *Engine) IsPaused() bool { return e.paused.Load() }

// CurrentTask returns the task currently being sent, or nil when idle.
func (e *Engine) CurrentTask() *task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Send begins transferring path. For a directory it is archived first
// via digest.ArchiveFolder, transmitted as "<name>.zip", and the temp
// archive is removed when the transfer ends regardless of outcome. It
// rejects a path that does not exist or a transfer already in flight.
func (e *Engine) Send(path string, cfg *config.Config) (string, error) {
	if e.running.Load() {
		return "", fmt.Errorf("sender: a transfer is already in progress")
	}
	if err := validation.ValidateFilePath(path, true); err != nil {
		return "", fmt.Errorf("sender: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("sender: %w", err)
	}

	var (
		sourcePath   string
		cleanupPath  string
		fileName     string
		transferType packet.TransferType
		manifest     []packet.ManifestEntry
	)

	if info.IsDir() {
		archivePath, rawManifest, err := digest.ArchiveFolder(path)
		if err != nil {
			return "", fmt.Errorf("sender: archive folder: %w", err)
		}
		sourcePath = archivePath
		cleanupPath = archivePath
		fileName = filepath.Base(strings.TrimSuffix(path, string(filepath.Separator))) + ".zip"
		transferType = packet.TransferFolder
		manifest = toPacketManifest(rawManifest)
	} else {
		sourcePath = path
		fileName = filepath.Base(path)
		transferType = packet.TransferFile
	}

	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		removeIfSet(cleanupPath)
		return "", fmt.Errorf("sender: %w", err)
	}

	fileMD5, err := digest.File(sourcePath)
	if err != nil {
		removeIfSet(cleanupPath)
		return "", fmt.Errorf("sender: hash source: %w", err)
	}

	tk := task.New(fileName, path, transferType, sourceInfo.Size(), cfg.ChunkSize, fileMD5, manifest)
	if err := e.store.Add(tk); err != nil {
		removeIfSet(cleanupPath)
		return "", fmt.Errorf("sender: register task: %w", err)
	}

	e.mu.Lock()
	e.current = tk
	e.mu.Unlock()
	e.paused.Store(false)
	e.cancelled.Store(false)
	e.running.Store(true)

	go e.run(tk, sourcePath, cleanupPath, cfg)

	return tk.ID, nil
}

func removeIfSet(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

func toPacketManifest(entries []digest.ManifestEntry) []packet.ManifestEntry {
	out := make([]packet.ManifestEntry, len(entries))
	for i, e := range entries {
		out[i] = packet.ManifestEntry{Path: e.Path, ModTime: packet.ModTime{Time: time.UnixMilli(e.ModMillis)}}
	}
	return out
}

func (e *Engine) run(tk *task.Task, sourcePath, cleanupPath string, cfg *config.Config) {
	defer func() {
		removeIfSet(cleanupPath)
		e.running.Store(false)
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}()

	if err := tk.TransitionTo(task.StatusRunning, ""); err != nil {
		e.fail(tk, err.Error())
		return
	}
	_ = e.store.Update(tk)
	if e.metrics != nil {
		e.metrics.RecordTaskStart()
	}
	e.log.TaskStarted(tk.ID, tk.FileName, tk.TotalSize, tk.ChunkTotal)
	e.publishEvent(events.SenderEvent{Type: events.SenderTaskStarted, Timestamp: time.Now(), Task: tk})

	interval := time.Duration(cfg.SendInterval) * time.Millisecond

	startPacket := &packet.StartPacket{
		FileID:         tk.ID,
		FileName:       tk.FileName,
		TransferType:   tk.TransferType,
		TotalSize:      tk.TotalSize,
		ChunkSize:      tk.ChunkSize,
		ChunkTotal:     tk.ChunkTotal,
		FileMD5:        tk.FileMD5,
		FolderManifest: tk.FolderManifest,
		StartTime:      time.Now().UTC(),
	}
	if err := e.publishFatal(startPacket); err != nil {
		e.fail(tk, "START publish failed: "+err.Error())
		return
	}

	time.Sleep(interval)

	f, err := os.Open(sourcePath)
	if err != nil {
		e.fail(tk, "open source: "+err.Error())
		return
	}
	defer f.Close()

	for i := 0; i < tk.ChunkTotal; i++ {
		if e.observeControlPoints(tk) {
			return
		}

		offset := int64(i) * int64(tk.ChunkSize)
		length := tk.ChunkSize
		if remaining := tk.TotalSize - offset; remaining < int64(length) {
			length = int(remaining)
		}

		buf := make([]byte, length)
		if _, err := f.ReadAt(buf, offset); err != nil {
			tk.MarkFailed(i, "read failed: "+err.Error())
			e.log.Warn(fmt.Sprintf("sender: chunk %d read failed: %v", i, err))
			continue
		}

		chunkMD5 := digest.Bytes(buf)
		chunkPacket := &packet.ChunkPacket{
			FileID:     tk.ID,
			ChunkIndex: i,
			ChunkTotal: tk.ChunkTotal,
			ChunkMD5:   chunkMD5,
			Data:       base64.StdEncoding.EncodeToString(buf),
			SendTime:   time.Now().UTC(),
		}

		if err := e.publishRetrying(chunkPacket); err != nil {
			tk.MarkFailed(i, errClipboardWriteFailed)
			if e.metrics != nil {
				e.metrics.RecordChunkFailed(errClipboardWriteFailed)
			}
			e.log.ClipboardWriteFailed(tk.ID, i, publishRetries)
		} else {
			tk.MarkCompleted(i)
			tk.UpdateProgress(offset + int64(length))
			if e.metrics != nil {
				e.metrics.RecordChunkSent(length)
			}
			e.log.ChunkPublished(tk.ID, i, length)
		}

		_ = e.store.Update(tk)
		e.log.TaskProgress(tk.ID, tk.CompletedCount(), tk.ChunkTotal)
		e.publishEvent(events.SenderEvent{Type: events.SenderProgress, Timestamp: time.Now(), Task: tk, Completed: tk.CompletedCount(), Total: tk.ChunkTotal})

		time.Sleep(interval)
	}

	if e.observeControlPoints(tk) {
		return
	}

	endPacket := &packet.EndPacket{
		FileID:     tk.ID,
		FileName:   tk.FileName,
		ChunkTotal: tk.ChunkTotal,
		EndTime:    time.Now().UTC(),
	}
	if err := e.publishFatal(endPacket); err != nil {
		e.fail(tk, "END publish failed: "+err.Error())
		return
	}

	if err := tk.TransitionTo(task.StatusCompleted, ""); err != nil {
		e.fail(tk, err.Error())
		return
	}
	_ = e.store.Update(tk)
	if e.metrics != nil {
		e.metrics.RecordTaskComplete(string(task.StatusCompleted), tk.EndTime.Sub(tk.StartTime).Seconds())
	}
	e.log.TaskCompleted(tk.ID, tk.TotalSize, tk.EndTime.Sub(tk.StartTime))
	e.publishEvent(events.SenderEvent{Type: events.SenderTaskCompleted, Timestamp: time.Now(), Task: tk})
}

// observeControlPoints is the between-chunk check for pause/cancel. It
// spins on 100ms sleeps while paused and returns true once the task has
// reached a terminal state the caller must stop driving.
func (e *Engine) observeControlPoints(tk *task.Task) (stopped bool) {
	for e.paused.Load() && !e.cancelled.Load() {
		if tk.Status() != task.StatusPaused {
			tk.TransitionTo(task.StatusPaused, "")
			_ = e.store.Update(tk)
			e.publishEvent(events.SenderEvent{Type: events.SenderTaskPaused, Timestamp: time.Now(), Task: tk})
		}
		time.Sleep(pausePollInterval)
	}
	if tk.Status() == task.StatusPaused && !e.cancelled.Load() {
		tk.TransitionTo(task.StatusRunning, "")
		_ = e.store.Update(tk)
		e.publishEvent(events.SenderEvent{Type: events.SenderTaskResumed, Timestamp: time.Now(), Task: tk})
	}

	if e.cancelled.Load() {
		tk.TransitionTo(task.StatusCancelled, "")
		_ = e.store.Update(tk)
		if e.metrics != nil {
			e.metrics.RecordTaskComplete(string(task.StatusCancelled), tk.EndTime.Sub(tk.StartTime).Seconds())
		}
		e.publishEvent(events.SenderEvent{Type: events.SenderTaskCancelled, Timestamp: time.Now(), Task: tk})
		return true
	}
	return false
}

func (e *Engine) fail(tk *task.Task, reason string) {
	tk.TransitionTo(task.StatusFailed, reason)
	_ = e.store.Update(tk)
	if e.metrics != nil {
		e.metrics.RecordTaskComplete(string(task.StatusFailed), tk.EndTime.Sub(tk.StartTime).Seconds())
	}
	e.publishEvent(events.SenderEvent{Type: events.SenderTaskFailed, Timestamp: time.Now(), Task: tk, Error: reason})
}

// publishFatal publishes a START or END packet: a failure here is fatal
// to the whole transfer, so it is not retried beyond the normal retry
// budget used for every publish.
func (e *Engine) publishFatal(p packet.Packet) error {
	return e.publishRetrying(p)
}

// publishRetrying writes p to the clipboard, making up to
// publishRetries attempts in total with publishRetryDelay spacing on a
// transient failure.
func (e *Engine) publishRetrying(p packet.Packet) error {
	text, err := packet.Encode(p)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(publishRetryDelay)
		}
		if err := e.clip.SetText(text); err != nil {
			lastErr = err
			if e.metrics != nil {
				e.metrics.RecordClipboardWrite(false)
			}
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordClipboardWrite(true)
		}
		return nil
	}
	return lastErr
}

func (e *Engine) publishEvent(ev events.SenderEvent) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}

// Pause requests the current transfer pause at the next between-chunk
// check. No-op when idle.
func (e *Engine) Pause() {
	if e.running.Load() {
		e.paused.Store(true)
	}
}

// Resume clears a pending pause. No-op when idle.
func (e *Engine) Resume() {
	if e.running.Load() {
		e.paused.Store(false)
	}
}

// Stop requests cancellation of the current transfer at the next
// between-chunk check. No-op when idle.
func (e *Engine) Stop() {
	if e.running.Load() {
		e.cancelled.Store(true)
		e.paused.Store(false)
	}
}
