package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithTask adds task_id context to logger.
func (l *Logger) WithTask(taskID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("task_id", taskID).Logger(),
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// TaskStarted logs a transfer task starting, on either engine.
func (l *Logger) TaskStarted(taskID, fileName string, totalSize int64, chunkTotal int) {
	l.logger.Info().
		Str("task_id", taskID).
		Str("file_name", fileName).
		Int64("total_size", totalSize).
		Int("chunk_total", chunkTotal).
		Msg("task started")
}

// ChunkPublished logs a chunk written to the clipboard by the sender.
func (l *Logger) ChunkPublished(taskID string, chunkIndex int, chunkSize int) {
	l.logger.Debug().
		Str("task_id", taskID).
		Int("chunk_index", chunkIndex).
		Int("chunk_size", chunkSize).
		Msg("chunk published")
}

// TaskProgress logs a progress update for either engine.
func (l *Logger) TaskProgress(taskID string, completed, total int) {
	progress := float64(completed) / float64(total) * 100.0

	l.logger.Info().
		Str("task_id", taskID).
		Int("completed_chunks", completed).
		Int("total_chunks", total).
		Float64("progress_percent", progress).
		Msg("task progress")
}

// TaskCompleted logs a transfer task reaching COMPLETED.
func (l *Logger) TaskCompleted(taskID string, totalSize int64, duration time.Duration) {
	l.logger.Info().
		Str("task_id", taskID).
		Int64("total_size", totalSize).
		Float64("duration_seconds", duration.Seconds()).
		Msg("task completed")
}

// ChunkIntegrityFailed logs a chunk or whole-file MD5 mismatch.
func (l *Logger) ChunkIntegrityFailed(taskID string, chunkIndex int, reason string) {
	l.logger.Warn().
		Str("task_id", taskID).
		Int("chunk_index", chunkIndex).
		Str("reason", reason).
		Msg("chunk integrity check failed")
}

// ClipboardWriteFailed logs an exhausted publish-retry budget.
func (l *Logger) ClipboardWriteFailed(taskID string, chunkIndex int, attempts int) {
	l.logger.Warn().
		Str("task_id", taskID).
		Int("chunk_index", chunkIndex).
		Int("attempts", attempts).
		Msg("clipboard write failed after retries")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
