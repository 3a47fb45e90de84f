package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogAppendAssignsSequence(t *testing.T) {
	l := NewEventLog()

	for i := 0; i < 5; i++ {
		stored := l.Append(Event{Kind: KindLine, Data: fmt.Sprintf("line %d", i)})
		assert.Equal(t, uint64(i), stored.Seq)
		assert.False(t, stored.Timestamp.IsZero())
	}
	assert.Equal(t, uint64(5), l.NextSeq())
}

func TestEventLogReadFrom(t *testing.T) {
	l := NewEventLog()
	for i := 0; i < 4; i++ {
		l.Append(Event{Kind: KindLine, Data: fmt.Sprintf("line %d", i)})
	}

	t.Run("full replay from zero", func(t *testing.T) {
		events := l.ReadFrom(0)
		require.Len(t, events, 4)
		for i, ev := range events {
			assert.Equal(t, uint64(i), ev.Seq)
		}
	})

	t.Run("partial replay", func(t *testing.T) {
		events := l.ReadFrom(2)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(2), events[0].Seq)
		assert.Equal(t, uint64(3), events[1].Seq)
	})

	t.Run("idempotent for the same cursor", func(t *testing.T) {
		first := l.ReadFrom(1)
		second := l.ReadFrom(1)
		assert.Equal(t, first, second)
	})

	t.Run("cursor past the end", func(t *testing.T) {
		assert.Empty(t, l.ReadFrom(4))
		assert.Empty(t, l.ReadFrom(100))
	})
}

func TestEventLogReset(t *testing.T) {
	l := NewEventLog()
	l.Append(Event{Kind: KindLine, Data: "old"})
	l.Append(Event{Kind: KindStatus, Data: "completed"})
	l.SetTerminal()

	l.Reset()

	assert.False(t, l.Terminal())
	assert.Empty(t, l.ReadFrom(0))

	// Sequence numbering restarts at 0 for the new job.
	stored := l.Append(Event{Kind: KindLine, Data: "new"})
	assert.Equal(t, uint64(0), stored.Seq)
}

func TestEventLogWaitForMore(t *testing.T) {
	t.Run("returns immediately when events exist", func(t *testing.T) {
		l := NewEventLog()
		l.Append(Event{Kind: KindLine, Data: "hello"})
		assert.True(t, l.WaitForMore(context.Background(), 0, time.Second))
	})

	t.Run("wakes on append", func(t *testing.T) {
		l := NewEventLog()
		done := make(chan bool, 1)
		go func() {
			done <- l.WaitForMore(context.Background(), 0, 5*time.Second)
		}()

		time.Sleep(20 * time.Millisecond)
		l.Append(Event{Kind: KindLine, Data: "wake up"})

		select {
		case ok := <-done:
			assert.True(t, ok)
		case <-time.After(time.Second):
			t.Fatal("WaitForMore did not wake on append")
		}
	})

	t.Run("returns false on terminal log", func(t *testing.T) {
		l := NewEventLog()
		l.Append(Event{Kind: KindStatus, Data: "completed"})
		l.SetTerminal()
		assert.False(t, l.WaitForMore(context.Background(), 1, time.Second))
	})

	t.Run("wakes on terminal transition", func(t *testing.T) {
		l := NewEventLog()
		done := make(chan bool, 1)
		go func() {
			done <- l.WaitForMore(context.Background(), 0, 5*time.Second)
		}()

		time.Sleep(20 * time.Millisecond)
		l.SetTerminal()

		select {
		case ok := <-done:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("WaitForMore did not wake on terminal transition")
		}
	})

	t.Run("returns false on timeout", func(t *testing.T) {
		l := NewEventLog()
		start := time.Now()
		assert.False(t, l.WaitForMore(context.Background(), 0, 30*time.Millisecond))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("returns false on context cancellation", func(t *testing.T) {
		l := NewEventLog()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan bool, 1)
		go func() {
			done <- l.WaitForMore(ctx, 0, 5*time.Second)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case ok := <-done:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("WaitForMore did not wake on cancellation")
		}
	})
}

func TestEventMessageMapping(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		wantType string
	}{
		{"stdout line", Event{Kind: KindLine, Stream: StreamStdout, Data: "x"}, "stdout"},
		{"stderr line", Event{Kind: KindLine, Stream: StreamStderr, Data: "x"}, "stderr"},
		{"untagged line defaults to stdout", Event{Kind: KindLine, Data: "x"}, "stdout"},
		{"milestone", Event{Kind: KindEvent, Data: "Play started"}, "event"},
		{"status", Event{Kind: KindStatus, Data: "completed"}, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.event.Message()
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.event.Data, msg.Data)
		})
	}
}
