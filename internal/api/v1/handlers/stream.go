package handlers

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/edulution-io/installer/internal/job"
)

const (
	// sseRetryMillis is the reconnect delay hint sent to EventSource clients.
	sseRetryMillis = 3000

	// sseWaitTimeout bounds how long a stream blocks before emitting a
	// keepalive comment, so idle connections are not cut by proxies.
	sseWaitTimeout = 15 * time.Second
)

// Stream replays the event log over Server-Sent Events and then follows it
// live. Clients resume after a disconnect via the Last-Event-ID header or a
// cursor query parameter; either way no event is lost or duplicated.
func (h *JobHandler) Stream(c *fiber.Ctx) error {
	cursor, err := streamCursor(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	eventLog := h.ctrl.Log()
	ctx := c.Context()

	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis)
		if err := w.Flush(); err != nil {
			return
		}

		var bound uuid.UUID
		for {
			var ok bool
			bound, cursor, ok = replay(w, eventLog.ReadFrom(cursor), bound, cursor)
			if err := w.Flush(); err != nil {
				return
			}
			if !ok {
				return
			}

			// The terminal status event is itself in the log, so once it
			// has been replayed the stream is complete.
			if eventLog.Terminal() && eventLog.NextSeq() <= cursor {
				return
			}

			if !eventLog.WaitForMore(ctx, cursor, sseWaitTimeout) {
				if ctx.Err() != nil {
					return
				}
				if eventLog.Terminal() && eventLog.NextSeq() <= cursor {
					return
				}
				// Timed out waiting: keep the connection warm.
				fmt.Fprint(w, ": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

// replay writes events to the stream until a job boundary. The first event
// binds the stream to its job; an event from a different job means the log
// was reset underneath the stream, so the cursor no longer addresses the job
// the client was following and the stream must end instead of mixing output
// of two jobs. Returns the advanced cursor and false on a boundary.
func replay(w *bufio.Writer, events []job.Event, bound uuid.UUID, cursor uint64) (uuid.UUID, uint64, bool) {
	for _, ev := range events {
		if bound == uuid.Nil {
			bound = ev.JobID
		} else if ev.JobID != bound {
			return bound, cursor, false
		}
		writeSSE(w, ev)
		cursor = ev.Seq + 1
	}
	return bound, cursor, true
}

// streamCursor derives the replay cursor from the request. Last-Event-ID
// carries the last event the client saw, so replay resumes one past it.
func streamCursor(c *fiber.Ctx) (uint64, error) {
	if lastID := c.Get("Last-Event-ID"); lastID != "" {
		id, err := strconv.ParseUint(lastID, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid Last-Event-ID %q", lastID)
		}
		return id + 1, nil
	}
	if q := c.Query("cursor"); q != "" {
		cursor, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cursor %q", q)
		}
		return cursor, nil
	}
	return 0, nil
}

func writeSSE(w *bufio.Writer, ev job.Event) {
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	if ev.Kind != job.KindLine {
		fmt.Fprintf(w, "event: %s\n", ev.Kind)
	}
	// Multi-line payloads need one data: field per line.
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	w.WriteString("\n")
}
