package job

import (
	"context"
	"sync"
	"time"
)

// EventLog is the append-only, monotonically indexed store of events for the
// current job. Sequence numbers start at 0 for each job and have no gaps, so
// they double as the cursor a reconnecting client resumes from. The log never
// drops events; it is cleared as a whole when a new job starts.
//
// All state is guarded by a single mutex held only for short critical
// sections. Blocked readers are woken through a notification channel that is
// closed and replaced on every append, reset and terminal transition.
type EventLog struct {
	mu       sync.Mutex
	events   []Event
	terminal bool
	notify   chan struct{}
}

// NewEventLog returns an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{notify: make(chan struct{})}
}

// Append assigns the next sequence number to the event, stores it and wakes
// any readers blocked in WaitForMore. The stored event is returned.
func (l *EventLog) Append(ev Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = uint64(len(l.events))
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, ev)
	l.wake()
	return ev
}

// Reset clears the log and resets the sequence counter to 0. Only the
// controller calls this, and only when a new job starts.
func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = nil
	l.terminal = false
	l.wake()
}

// SetTerminal marks the current job as finished and wakes all blocked
// readers so streaming connections can terminate deterministically.
func (l *EventLog) SetTerminal() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.terminal = true
	l.wake()
}

// Terminal reports whether the current job has reached a terminal state.
func (l *EventLog) Terminal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminal
}

// NextSeq returns the sequence number the next appended event will receive.
func (l *EventLog) NextSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.events))
}

// ReadFrom returns a snapshot of all stored events with sequence number
// >= cursor. It is idempotent: calling it twice with the same cursor before
// new events arrive returns identical results.
func (l *EventLog) ReadFrom(cursor uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cursor >= uint64(len(l.events)) {
		return nil
	}
	out := make([]Event, len(l.events)-int(cursor))
	copy(out, l.events[cursor:])
	return out
}

// WaitForMore blocks until an event with sequence >= cursor exists, the job
// reaches a terminal state, the timeout elapses or ctx is cancelled,
// whichever happens first. It returns true when events at or past the cursor
// are available. Callers use the timeout as a periodic keepalive point and
// check Terminal after a false return.
func (l *EventLog) WaitForMore(ctx context.Context, cursor uint64, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		if uint64(len(l.events)) > cursor {
			l.mu.Unlock()
			return true
		}
		if l.terminal {
			l.mu.Unlock()
			return false
		}
		ch := l.notify
		l.mu.Unlock()

		select {
		case <-ch:
			// re-check under the lock
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// wake must be called with the mutex held.
func (l *EventLog) wake() {
	close(l.notify)
	l.notify = make(chan struct{})
}
