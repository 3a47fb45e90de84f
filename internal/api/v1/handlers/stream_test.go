package handlers

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulution-io/installer/internal/job"
)

func TestReplayStopsAtJobBoundary(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	events := []job.Event{
		{Seq: 0, Kind: job.KindLine, Stream: job.StreamStdout, Data: "old line", JobID: first},
		{Seq: 1, Kind: job.KindStatus, Data: "completed", JobID: first},
		{Seq: 2, Kind: job.KindLine, Stream: job.StreamStdout, Data: "new job line", JobID: second},
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	bound, cursor, ok := replay(w, events, uuid.Nil, 0)
	require.NoError(t, w.Flush())

	assert.False(t, ok, "a new job's events must end the stream")
	assert.Equal(t, first, bound)
	assert.Equal(t, uint64(2), cursor)

	out := buf.String()
	assert.Contains(t, out, "old line")
	assert.NotContains(t, out, "new job line", "events of a later job must not leak into the stream")
}

func TestReplaySingleJob(t *testing.T) {
	id := uuid.New()
	events := []job.Event{
		{Seq: 3, Kind: job.KindLine, Stream: job.StreamStdout, Data: "line", JobID: id},
		{Seq: 4, Kind: job.KindEvent, Data: "Play started", JobID: id},
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	bound, cursor, ok := replay(w, events, uuid.Nil, 3)
	require.NoError(t, w.Flush())

	assert.True(t, ok)
	assert.Equal(t, id, bound)
	assert.Equal(t, uint64(5), cursor)

	// A second pass with no new events keeps the binding.
	bound, cursor, ok = replay(w, nil, bound, cursor)
	assert.True(t, ok)
	assert.Equal(t, id, bound)
	assert.Equal(t, uint64(5), cursor)
}

func TestWriteSSEFormat(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	writeSSE(w, job.Event{Seq: 7, Kind: job.KindLine, Stream: job.StreamStdout, Data: "plain output"})
	require.NoError(t, w.Flush())
	assert.Equal(t, "id: 7\ndata: plain output\n\n", buf.String())

	buf.Reset()
	writeSSE(w, job.Event{Seq: 8, Kind: job.KindStatus, Data: "completed"})
	require.NoError(t, w.Flush())
	assert.Equal(t, "id: 8\nevent: status\ndata: completed\n\n", buf.String())

	buf.Reset()
	writeSSE(w, job.Event{Seq: 9, Kind: job.KindEvent, Data: "first\nsecond"})
	require.NoError(t, w.Flush())
	assert.Equal(t, "id: 9\nevent: event\ndata: first\ndata: second\n\n", buf.String())
}
