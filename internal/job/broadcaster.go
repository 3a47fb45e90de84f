package job

import (
	"context"
	"sync"

	"github.com/edulution-io/installer/internal/logger"
)

// QueueSize is the buffer size for the broadcast queue. When the queue is
// full new messages are dropped rather than blocking the producer: liveness
// of the job takes priority over completeness of the live feed.
const QueueSize = 100

// Subscriber is a live push connection. *websocket.Conn satisfies it.
type Subscriber interface {
	WriteJSON(v interface{}) error
}

// Broadcaster delivers messages to a dynamic set of live subscribers with no
// replay obligation. A subscriber only sees messages published after it
// subscribed; one that disconnects loses everything emitted while away.
//
// Delivery runs on a dedicated consumer goroutine fed by a bounded queue,
// decoupling the producer path from the fan-out path. A subscriber whose
// delivery attempt fails is considered dead and removed without retry.
type Broadcaster struct {
	mu    sync.Mutex
	subs  map[Subscriber]struct{}
	queue chan Message
}

// NewBroadcaster returns a broadcaster with an empty subscriber set. Run must
// be started for published messages to be delivered.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:  make(map[Subscriber]struct{}),
		queue: make(chan Message, QueueSize),
	}
}

// Subscribe registers a connection. No backlog is sent.
func (b *Broadcaster) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s] = struct{}{}
	logger.Debugf("Subscriber registered, %d connected", len(b.subs))
}

// Unsubscribe removes a connection. It is idempotent.
func (b *Broadcaster) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Publish enqueues a message for delivery. If the queue is full the message
// is dropped.
func (b *Broadcaster) Publish(msg Message) {
	select {
	case b.queue <- msg:
	default:
		logger.Warnf("Broadcast queue full, dropping %s message", msg.Type)
	}
}

// Run consumes the queue and fans each message out to every current
// subscriber until ctx is cancelled. Intended to run on its own goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			b.deliver(msg)
		}
	}
}

func (b *Broadcaster) deliver(msg Message) {
	b.mu.Lock()
	targets := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	var dead []Subscriber
	for _, s := range targets {
		if err := s.WriteJSON(msg); err != nil {
			dead = append(dead, s)
		}
	}

	for _, s := range dead {
		b.Unsubscribe(s)
	}
	if len(dead) > 0 {
		logger.Debugf("Removed %d dead subscriber(s)", len(dead))
	}
}
