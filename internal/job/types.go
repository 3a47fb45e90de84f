// Package job implements the single-flight job execution core: an append-only
// event log with blocking reads, a best-effort live broadcaster, and the
// controller that drives the job status state machine.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of the job controller
type Status string

// Job status constants
const (
	// StatusIdle indicates no job has been started yet
	StatusIdle Status = "idle"
	// StatusRunning indicates a job is currently executing
	StatusRunning Status = "running"
	// StatusCompleted indicates the last job finished successfully
	StatusCompleted Status = "completed"
	// StatusFailed indicates the last job finished with an error
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is a terminal state for a job
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind classifies an event in the log
type Kind string

const (
	// KindLine is a plain output line from the running action
	KindLine Kind = "line"
	// KindEvent is a lifecycle milestone reported by the running action
	KindEvent Kind = "event"
	// KindStatus is a job status transition; a terminal status closes the log
	KindStatus Kind = "status"
)

// Output stream tags for KindLine events
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Event is one unit of job output. Seq is assigned by the EventLog on append,
// is unique and strictly increasing within a job, and doubles as the resumable
// cursor exposed to replaying clients.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	Stream    string    `json:"stream,omitempty"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	JobID     uuid.UUID `json:"job_id"`
}

// Message is the frame pushed to live subscribers over the push transport.
type Message struct {
	Type      string    `json:"type"` // stdout | stderr | event | status
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id,omitempty"`
}

// Message converts the event into its push-transport representation.
func (e Event) Message() Message {
	msgType := string(e.Kind)
	if e.Kind == KindLine {
		msgType = e.Stream
		if msgType == "" {
			msgType = StreamStdout
		}
	}

	jobID := ""
	if e.JobID != uuid.Nil {
		jobID = e.JobID.String()
	}

	return Message{
		Type:      msgType,
		Data:      e.Data,
		Timestamp: e.Timestamp,
		JobID:     jobID,
	}
}
