package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber collects delivered messages; it can be told to fail.
type fakeSubscriber struct {
	mu   sync.Mutex
	msgs []Message
	fail bool
}

func (s *fakeSubscriber) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("connection closed")
	}
	s.msgs = append(s.msgs, v.(Message))
	return nil
}

func (s *fakeSubscriber) received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroadcaster()
	go b.Run(ctx)

	s1 := &fakeSubscriber{}
	s2 := &fakeSubscriber{}
	b.Subscribe(s1)
	b.Subscribe(s2)

	b.Publish(Message{Type: "stdout", Data: "hello"})

	waitFor(t, func() bool { return len(s1.received()) == 1 && len(s2.received()) == 1 })
	assert.Equal(t, "hello", s1.received()[0].Data)
	assert.Equal(t, "hello", s2.received()[0].Data)
}

func TestBroadcasterNoBacklogForLateSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroadcaster()
	go b.Run(ctx)

	early := &fakeSubscriber{}
	b.Subscribe(early)
	b.Publish(Message{Type: "stdout", Data: "before"})
	waitFor(t, func() bool { return len(early.received()) == 1 })

	late := &fakeSubscriber{}
	b.Subscribe(late)
	b.Publish(Message{Type: "stdout", Data: "after"})

	waitFor(t, func() bool { return len(early.received()) == 2 })
	require.Len(t, late.received(), 1)
	assert.Equal(t, "after", late.received()[0].Data)
}

func TestBroadcasterRemovesFailingSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroadcaster()
	go b.Run(ctx)

	healthy := &fakeSubscriber{}
	dead := &fakeSubscriber{fail: true}
	b.Subscribe(healthy)
	b.Subscribe(dead)

	b.Publish(Message{Type: "stdout", Data: "first"})
	waitFor(t, func() bool { return len(healthy.received()) == 1 })

	// The dead subscriber is gone; further publishes reach the healthy one.
	b.Publish(Message{Type: "stdout", Data: "second"})
	waitFor(t, func() bool { return len(healthy.received()) == 2 })
	assert.Empty(t, dead.received())
}

func TestBroadcasterUnsubscribeIdempotent(t *testing.T) {
	b := NewBroadcaster()
	s := &fakeSubscriber{}
	b.Subscribe(s)
	b.Unsubscribe(s)
	b.Unsubscribe(s)
	b.Unsubscribe(&fakeSubscriber{}) // never subscribed
}

func TestBroadcasterPublishNeverBlocks(t *testing.T) {
	// No consumer: the queue fills up and further publishes are dropped.
	b := NewBroadcaster()

	done := make(chan struct{})
	go func() {
		for i := 0; i < QueueSize*2; i++ {
			b.Publish(Message{Type: "stdout", Data: "spam"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}
