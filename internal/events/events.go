// Package events implements the observer surface (C9) both engines
// publish into: a tagged event per engine, delivered over a buffered
// channel that never blocks the engine's own worker goroutine.
package events

import (
	"time"

	"github.com/ashbyte/cliptransfer/internal/task"
)

// SenderEventType enumerates the sender's lifecycle notifications,
// exactly the set in spec.md §6.
type SenderEventType int

const (
	SenderTaskStarted SenderEventType = iota + 1
	SenderProgress
	SenderTaskCompleted
	SenderTaskFailed
	SenderTaskPaused
	SenderTaskResumed
	SenderTaskCancelled
	SenderError
)

func (e SenderEventType) String() string {
	switch e {
	case SenderTaskStarted:
		return "task_started"
	case SenderProgress:
		return "progress"
	case SenderTaskCompleted:
		return "task_completed"
	case SenderTaskFailed:
		return "task_failed"
	case SenderTaskPaused:
		return "task_paused"
	case SenderTaskResumed:
		return "task_resumed"
	case SenderTaskCancelled:
		return "task_cancelled"
	case SenderError:
		return "error"
	default:
		return "unknown"
	}
}

// SenderEvent is one notification emitted by the sender engine.
type SenderEvent struct {
	Type      SenderEventType
	Timestamp time.Time
	Task      *task.Task // nil for a bare error event
	Completed int
	Total     int
	Error     string
}

// ReceiverEventType enumerates the receiver's lifecycle notifications.
type ReceiverEventType int

const (
	ReceiverListeningStarted ReceiverEventType = iota + 1
	ReceiverListeningStopped
	ReceiverTaskStarted
	ReceiverProgress
	ReceiverTaskCompleted
	ReceiverTaskFailed
	ReceiverTaskIncomplete
	ReceiverError
)

func (e ReceiverEventType) String() string {
	switch e {
	case ReceiverListeningStarted:
		return "listening_started"
	case ReceiverListeningStopped:
		return "listening_stopped"
	case ReceiverTaskStarted:
		return "task_started"
	case ReceiverProgress:
		return "progress"
	case ReceiverTaskCompleted:
		return "task_completed"
	case ReceiverTaskFailed:
		return "task_failed"
	case ReceiverTaskIncomplete:
		return "task_incomplete"
	case ReceiverError:
		return "error"
	default:
		return "unknown"
	}
}

// ReceiverEvent is one notification emitted by the receiver engine.
type ReceiverEvent struct {
	Type            ReceiverEventType
	Timestamp       time.Time
	Task            *task.Task // nil for listening_started/stopped and bare errors
	Completed       int
	Total           int
	OutputPath      string
	MissingIndices  []int
	Error           string
}
