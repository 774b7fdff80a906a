package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	TasksTotal            *prometheus.CounterVec
	TasksActive           prometheus.Gauge
	TaskDuration          prometheus.Histogram
	BytesTransferredTotal *prometheus.CounterVec
	ChunksSentTotal       prometheus.Counter
	ChunksReceivedTotal   prometheus.Counter
	ChunksFailedTotal     *prometheus.CounterVec

	ClipboardWritesTotal  *prometheus.CounterVec
	ClipboardPollsTotal   prometheus.Counter
	JournalWriteDuration  prometheus.Histogram

	activeTasks int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliptransfer_tasks_total",
				Help: "Total transfer tasks by terminal status",
			},
			[]string{"status"},
		),

		TasksActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cliptransfer_tasks_active",
				Help: "Currently running or paused tasks",
			},
		),

		TaskDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cliptransfer_task_duration_seconds",
				Help:    "Task completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
		),

		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliptransfer_bytes_transferred_total",
				Help: "Total bytes transferred",
			},
			[]string{"direction"},
		),

		ChunksSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cliptransfer_chunks_sent_total",
				Help: "Total chunks published to the clipboard",
			},
		),

		ChunksReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cliptransfer_chunks_received_total",
				Help: "Total chunks accepted by the receiver",
			},
		),

		ChunksFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliptransfer_chunks_failed_total",
				Help: "Chunks marked failed, by reason",
			},
			[]string{"reason"},
		),

		ClipboardWritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliptransfer_clipboard_writes_total",
				Help: "Clipboard publish attempts by result",
			},
			[]string{"result"},
		),

		ClipboardPollsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cliptransfer_clipboard_polls_total",
				Help: "Clipboard read polls performed by the receiver",
			},
		),

		JournalWriteDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cliptransfer_journal_write_duration_seconds",
				Help:    "Task journal write-temp-then-rename latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
	}
}

// RecordTaskStart increments active task counters.
func (m *Metrics) RecordTaskStart() {
	atomic.AddInt64(&m.activeTasks, 1)
	m.TasksActive.Set(float64(atomic.LoadInt64(&m.activeTasks)))
}

// RecordTaskComplete records a terminal status and its duration.
func (m *Metrics) RecordTaskComplete(status string, durationSeconds float64) {
	atomic.AddInt64(&m.activeTasks, -1)
	m.TasksActive.Set(float64(atomic.LoadInt64(&m.activeTasks)))

	m.TasksTotal.WithLabelValues(status).Inc()
	m.TaskDuration.Observe(durationSeconds)
}

// RecordChunkSent updates metrics for a published chunk.
func (m *Metrics) RecordChunkSent(bytes int) {
	m.ChunksSentTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordChunkReceived updates metrics for an accepted chunk.
func (m *Metrics) RecordChunkReceived(bytes int) {
	m.ChunksReceivedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordChunkFailed increments the failed-chunk counter for reason.
func (m *Metrics) RecordChunkFailed(reason string) {
	m.ChunksFailedTotal.WithLabelValues(reason).Inc()
}

// RecordClipboardWrite records a publish attempt's outcome.
func (m *Metrics) RecordClipboardWrite(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ClipboardWritesTotal.WithLabelValues(result).Inc()
}

// RecordClipboardPoll increments the receiver's poll counter.
func (m *Metrics) RecordClipboardPoll() {
	m.ClipboardPollsTotal.Inc()
}

// RecordJournalWrite records how long a journal rewrite took.
func (m *Metrics) RecordJournalWrite(durationSeconds float64) {
	m.JournalWriteDuration.Observe(durationSeconds)
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
