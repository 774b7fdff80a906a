// Package receiver implements the Receiver Engine (C5): it continuously
// samples the clipboard, recognizes protocol packets, and reassembles
// files. Polling runs on its own goroutine so a large file's assembly
// never blocks the next clipboard sample.
package receiver

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashbyte/cliptransfer/internal/clipboard"
	"github.com/ashbyte/cliptransfer/internal/config"
	"github.com/ashbyte/cliptransfer/internal/digest"
	"github.com/ashbyte/cliptransfer/internal/events"
	"github.com/ashbyte/cliptransfer/internal/observability"
	"github.com/ashbyte/cliptransfer/internal/packet"
	"github.com/ashbyte/cliptransfer/internal/task"
)

// assembly is a per-file in-memory buffer from chunk index to decoded
// bytes, held from START until a completion-ready END hands it to
// assembly. StopListening does not release it.
type assembly struct {
	mu      sync.Mutex
	task    *task.Task
	buffers map[int][]byte
}

// Engine polls the clipboard at a fixed interval, dispatching recognized
// packets into per-file assembly buffers and materializing completed
// transfers under downloadDir.
type Engine struct {
	clip         clipboard.Accessor
	store        *task.Store
	log          *observability.Logger
	metrics      *observability.Metrics
	events       *events.Sink[events.ReceiverEvent]
	downloadDir  string

	mu           sync.Mutex
	lastObserved string
	listening    bool
	assemblies   map[string]*assembly

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs a receiver Engine with its collaborators as explicit
// constructor dependencies.
func New(clip clipboard.Accessor, store *task.Store, log *observability.Logger, metrics *observability.Metrics, sink *events.Sink[events.ReceiverEvent], downloadDir string) *Engine {
	return &Engine{
		clip:        clip,
		store:       store,
		log:         log,
		metrics:     metrics,
		events:      sink,
		downloadDir: downloadDir,
		assemblies:  make(map[string]*assembly),
	}
}

// Events returns the receiver's event sink for subscription.
func (e *Engine) Events() *events.Sink[events.ReceiverEvent] { return e.events }

// IsListening reports whether the poll loop is active.
func (e *Engine) IsListening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// ReceivingTasks returns a snapshot of file_ids currently being
// assembled.
func (e *Engine) ReceivingTasks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.assemblies))
	for id := range e.assemblies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartListening begins polling the clipboard every cfg.ReceiveInterval
// ms. Idempotent: a second call while already listening is a no-op.
func (e *Engine) StartListening(cfg *config.Config) {
	e.mu.Lock()
	if e.listening {
		e.mu.Unlock()
		return
	}
	e.listening = true
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	e.group = group
	e.mu.Unlock()

	group.Go(func() error {
		e.pollLoop(gctx, cfg)
		return nil
	})

	e.publishEvent(events.ReceiverEvent{Type: events.ReceiverListeningStarted, Timestamp: time.Now()})
}

// StopListening halts the poll loop. Idempotent.
func (e *Engine) StopListening() {
	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return
	}
	e.listening = false
	cancel := e.cancel
	group := e.group
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}

	e.publishEvent(events.ReceiverEvent{Type: events.ReceiverListeningStopped, Timestamp: time.Now()})
}

func (e *Engine) pollLoop(ctx context.Context, cfg *config.Config) {
	interval := time.Duration(cfg.ReceiveInterval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick performs one poll: read, dedup-latch, decode, dispatch. A parse
// failure still claims the dedup latch — retained intentionally, see
// the receiver design notes on why a corrected resend of previously
// malformed text is not reprocessed.
func (e *Engine) tick() {
	if e.metrics != nil {
		e.metrics.RecordClipboardPoll()
	}

	text, ok := e.clip.GetText()
	if !ok {
		return
	}

	e.mu.Lock()
	if text == e.lastObserved {
		e.mu.Unlock()
		return
	}
	e.lastObserved = text
	e.mu.Unlock()

	result, err := packet.Decode(text)
	if err != nil {
		return
	}
	for _, w := range result.Warnings {
		e.log.Warn("receiver: " + w)
	}

	switch p := result.Packet.(type) {
	case *packet.StartPacket:
		e.handleStart(p)
	case *packet.ChunkPacket:
		e.handleChunk(p)
	case *packet.EndPacket:
		e.handleEnd(p)
	}
}

func (e *Engine) handleStart(p *packet.StartPacket) {
	e.mu.Lock()
	if _, exists := e.assemblies[p.FileID]; exists {
		e.mu.Unlock()
		return
	}

	tk := task.NewWithID(p.FileID, p.FileName, "", p.TransferType, p.TotalSize, p.ChunkSize, p.FileMD5, p.FolderManifest)
	tk.ChunkTotal = p.ChunkTotal
	tk.TransitionTo(task.StatusRunning, "")

	asm := &assembly{task: tk, buffers: make(map[int][]byte)}
	e.assemblies[p.FileID] = asm
	e.mu.Unlock()

	_ = e.store.Add(tk)
	if e.metrics != nil {
		e.metrics.RecordTaskStart()
	}
	e.log.TaskStarted(tk.ID, tk.FileName, tk.TotalSize, tk.ChunkTotal)
	e.publishEvent(events.ReceiverEvent{Type: events.ReceiverTaskStarted, Timestamp: time.Now(), Task: tk})
}

func (e *Engine) handleChunk(p *packet.ChunkPacket) {
	e.mu.Lock()
	asm, exists := e.assemblies[p.FileID]
	e.mu.Unlock()
	if !exists {
		return
	}

	asm.mu.Lock()
	if _, dup := asm.buffers[p.ChunkIndex]; dup {
		asm.mu.Unlock()
		return
	}
	asm.mu.Unlock()

	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		asm.task.MarkFailed(p.ChunkIndex, "base64 decode failed")
		if e.metrics != nil {
			e.metrics.RecordChunkFailed("base64 decode failed")
		}
		e.log.ChunkIntegrityFailed(asm.task.ID, p.ChunkIndex, "base64 decode failed")
		return
	}

	if digest.Bytes(raw) != p.ChunkMD5 {
		asm.task.MarkFailed(p.ChunkIndex, "chunk md5 mismatch")
		_ = e.store.Update(asm.task)
		if e.metrics != nil {
			e.metrics.RecordChunkFailed("chunk md5 mismatch")
		}
		e.log.ChunkIntegrityFailed(asm.task.ID, p.ChunkIndex, "chunk md5 mismatch")
		return
	}

	asm.mu.Lock()
	asm.buffers[p.ChunkIndex] = raw
	asm.mu.Unlock()

	asm.task.MarkCompleted(p.ChunkIndex)
	asm.task.UpdateProgress(asm.task.TransferredBytes() + int64(len(raw)))
	_ = e.store.Update(asm.task)
	if e.metrics != nil {
		e.metrics.RecordChunkReceived(len(raw))
	}
	e.log.TaskProgress(asm.task.ID, asm.task.CompletedCount(), asm.task.ChunkTotal)
	e.publishEvent(events.ReceiverEvent{Type: events.ReceiverProgress, Timestamp: time.Now(), Task: asm.task, Completed: asm.task.CompletedCount(), Total: asm.task.ChunkTotal})
}

func (e *Engine) handleEnd(p *packet.EndPacket) {
	e.mu.Lock()
	asm, exists := e.assemblies[p.FileID]
	e.mu.Unlock()
	if !exists {
		return
	}

	if !asm.task.IsCompletionReady() {
		e.publishEvent(events.ReceiverEvent{
			Type:           events.ReceiverTaskIncomplete,
			Timestamp:      time.Now(),
			Task:           asm.task,
			MissingIndices: asm.task.MissingIndices(),
		})
		return
	}

	e.mu.Lock()
	delete(e.assemblies, p.FileID)
	e.mu.Unlock()

	go e.assemble(asm)
}

// assemble materializes a completion-ready transfer to disk. It runs on
// its own goroutine per task so the poll loop is never blocked by a
// large write.
func (e *Engine) assemble(asm *assembly) {
	tk := asm.task

	if err := os.MkdirAll(e.downloadDir, 0o755); err != nil {
		e.failAssembly(tk, "create download dir: "+err.Error())
		return
	}

	targetPath := uniquePath(e.downloadDir, tk.FileName)
	out, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		e.failAssembly(tk, "create output file: "+err.Error())
		return
	}

	asm.mu.Lock()
	for i := 0; i < tk.ChunkTotal; i++ {
		chunk, ok := asm.buffers[i]
		if !ok {
			asm.mu.Unlock()
			out.Close()
			os.Remove(targetPath)
			e.failAssembly(tk, fmt.Sprintf("missing chunk %d at assembly time", i))
			return
		}
		if _, err := out.Write(chunk); err != nil {
			asm.mu.Unlock()
			out.Close()
			os.Remove(targetPath)
			e.failAssembly(tk, "write output: "+err.Error())
			return
		}
	}
	asm.mu.Unlock()

	if err := out.Close(); err != nil {
		os.Remove(targetPath)
		e.failAssembly(tk, "close output: "+err.Error())
		return
	}

	if tk.FileMD5 != "" {
		ok, err := digest.VerifyFile(targetPath, tk.FileMD5)
		if err != nil || !ok {
			os.Remove(targetPath)
			e.failAssembly(tk, "whole-file md5 mismatch")
			return
		}
	}

	outputPath := targetPath
	if tk.TransferType == packet.TransferFolder {
		folderPath := uniquePath(e.downloadDir, strings.TrimSuffix(tk.FileName, ".zip"))
		manifest := fromPacketManifest(tk.FolderManifest)
		if err := digest.ExtractArchive(targetPath, folderPath, manifest); err != nil {
			e.failAssembly(tk, "extract archive: "+err.Error())
			return
		}
		os.Remove(targetPath)
		outputPath = folderPath
	}

	tk.TransitionTo(task.StatusCompleted, "")
	_ = e.store.Update(tk)
	if e.metrics != nil {
		e.metrics.RecordTaskComplete(string(task.StatusCompleted), tk.EndTime.Sub(tk.StartTime).Seconds())
	}
	e.log.TaskCompleted(tk.ID, tk.TotalSize, tk.EndTime.Sub(tk.StartTime))
	e.publishEvent(events.ReceiverEvent{Type: events.ReceiverTaskCompleted, Timestamp: time.Now(), Task: tk, OutputPath: outputPath})
}

func (e *Engine) failAssembly(tk *task.Task, reason string) {
	tk.TransitionTo(task.StatusFailed, reason)
	_ = e.store.Update(tk)
	if e.metrics != nil {
		e.metrics.RecordTaskComplete(string(task.StatusFailed), tk.EndTime.Sub(tk.StartTime).Seconds())
	}
	e.publishEvent(events.ReceiverEvent{Type: events.ReceiverTaskFailed, Timestamp: time.Now(), Task: tk, Error: reason})
}

func fromPacketManifest(entries []packet.ManifestEntry) []digest.ManifestEntry {
	out := make([]digest.ManifestEntry, len(entries))
	for i, e := range entries {
		out[i] = digest.ManifestEntry{Path: e.Path, ModMillis: e.ModTime.UnixMilli()}
	}
	return out
}

// uniquePath appends "_1", "_2", ... before the extension until the
// candidate path does not already exist.
func uniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func (e *Engine) publishEvent(ev events.ReceiverEvent) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}
