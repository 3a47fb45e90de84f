package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edulution-io/installer/internal/logger"
	"github.com/edulution-io/installer/internal/runner"
)

// ErrAlreadyRunning is returned by Start while a job is still running.
var ErrAlreadyRunning = errors.New("a job is already running")

// Snapshot is a consistent read of the controller state.
type Snapshot struct {
	Status     Status     `json:"status"`
	JobID      *uuid.UUID `json:"job_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ReturnCode *int       `json:"return_code,omitempty"`
}

// Controller enforces the single-flight invariant, drives the job status
// state machine and translates runner callbacks into events. It is the sole
// writer of its EventLog. The broadcaster is optional; when present, every
// event is mirrored to it as a push message.
type Controller struct {
	log *EventLog
	bc  *Broadcaster

	mu         sync.Mutex
	status     Status
	jobID      uuid.UUID
	startedAt  time.Time
	finishedAt time.Time
	returnCode *int
	current    runner.Runner
	onSuccess  func()
}

// NewController returns an idle controller. bc may be nil.
func NewController(log *EventLog, bc *Broadcaster) *Controller {
	return &Controller{
		log:    log,
		bc:     bc,
		status: StatusIdle,
	}
}

// Log exposes the event log for replay transports.
func (c *Controller) Log() *EventLog {
	return c.log
}

// SetOnSuccess registers fn to run in its own goroutine whenever a job
// completes successfully. The installer uses it to hand its port over to
// the installed stack.
func (c *Controller) SetOnSuccess(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSuccess = fn
}

// Start begins a new job executing r. It fails with ErrAlreadyRunning while
// a job is in flight; otherwise it atomically clears the previous job's
// event log, assigns a new job id and hands the runner off to its own
// goroutine. The previous terminal job is no longer available for replay
// once Start returns.
func (c *Controller) Start(ctx context.Context, r runner.Runner) (uuid.UUID, error) {
	c.mu.Lock()
	if c.status == StatusRunning {
		c.mu.Unlock()
		return uuid.Nil, ErrAlreadyRunning
	}

	id := uuid.New()
	c.jobID = id
	c.status = StatusRunning
	c.startedAt = time.Now().UTC()
	c.finishedAt = time.Time{}
	c.returnCode = nil
	c.current = r
	c.log.Reset()
	c.mu.Unlock()

	logger.InfoWithFields("Job started", map[string]interface{}{"job_id": id.String()})

	// The "running" transition is pushed to live subscribers only; the log
	// holds the job's own output plus its terminal status.
	c.publish(Message{Type: string(KindStatus), Data: string(StatusRunning), Timestamp: time.Now().UTC(), JobID: id.String()})

	go c.run(ctx, r, id)
	return id, nil
}

// Status returns a snapshot of the current state. It always succeeds.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{Status: c.status}
	if c.jobID != uuid.Nil {
		id := c.jobID
		snap.JobID = &id
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		snap.StartedAt = &t
	}
	if !c.finishedAt.IsZero() {
		t := c.finishedAt
		snap.FinishedAt = &t
	}
	if c.returnCode != nil {
		code := *c.returnCode
		snap.ReturnCode = &code
	}
	return snap
}

// WriteInput forwards client input to the running action when it accepts
// input. Input is silently discarded otherwise.
func (c *Controller) WriteInput(p []byte) {
	c.mu.Lock()
	r := c.current
	running := c.status == StatusRunning
	c.mu.Unlock()

	if !running {
		return
	}
	if w, ok := r.(runner.InputWriter); ok {
		if err := w.WriteInput(p); err != nil {
			logger.Debugf("Dropping job input: %v", err)
		}
	}
}

func (c *Controller) run(ctx context.Context, r runner.Runner, id uuid.UUID) {
	s := &sink{c: c, id: id}
	err := r.Run(ctx, s)

	if s.done() {
		if err != nil {
			logger.Warnf("Runner returned error after finishing: %v", err)
		}
		return
	}

	// The action never got to report a result. Record the failure so the
	// controller is not left stuck in running.
	if err != nil {
		c.finish(id, false, 1, err.Error())
		return
	}
	c.finish(id, true, 0, "")
}

// finish flips the status to its terminal state, records the end timestamp
// and result code and appends the terminal status event. When diag is
// non-empty it is carried in the terminal event as the failure diagnostic.
func (c *Controller) finish(id uuid.UUID, success bool, code int, diag string) {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}

	c.mu.Lock()
	if c.jobID != id || c.status != StatusRunning {
		// A newer job has taken over; this result is stale.
		c.mu.Unlock()
		return
	}
	c.status = status
	c.finishedAt = time.Now().UTC()
	c.returnCode = &code
	c.current = nil
	onSuccess := c.onSuccess
	c.mu.Unlock()

	data := string(status)
	if diag != "" {
		data = data + ": " + diag
	}
	c.emit(id, Event{Kind: KindStatus, Data: data})
	c.log.SetTerminal()

	logger.InfoWithFields("Job finished", map[string]interface{}{
		"job_id":      id.String(),
		"status":      string(status),
		"return_code": code,
	})

	if status == StatusCompleted && onSuccess != nil {
		go onSuccess()
	}
}

// emit appends one event to the log and mirrors it to live subscribers.
// Safe to call from the runner's goroutine.
func (c *Controller) emit(id uuid.UUID, ev Event) {
	ev.JobID = id
	stored := c.log.Append(ev)
	c.publish(stored.Message())
}

func (c *Controller) publish(msg Message) {
	if c.bc != nil {
		c.bc.Publish(msg)
	}
}

// sink adapts runner callbacks onto the controller for one job.
type sink struct {
	c  *Controller
	id uuid.UUID

	mu       sync.Mutex
	finished bool
}

func (s *sink) Line(stream, text string) {
	s.c.emit(s.id, Event{Kind: KindLine, Stream: stream, Data: text})
}

func (s *sink) Milestone(text string) {
	s.c.emit(s.id, Event{Kind: KindEvent, Data: text})
}

func (s *sink) Finished(success bool, code int) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()

	s.c.finish(s.id, success, code, "")
}

func (s *sink) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}
