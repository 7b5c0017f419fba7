package mqtt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// DefaultQueueSize is the number of channel messages a Queue holds before it
// starts dropping.
const DefaultQueueSize = 1000

// ErrQueueFull is reported for a message dropped because the queue was full.
var ErrQueueFull = errors.New("publish queue full")

type queued struct {
	what string
	send func(Publisher) error
}

// Queue decouples channel output from broker I/O. Channel messages are
// queued and returned immediately, so callers holding a channel lock never
// wait on the network. Run sends them in order on its own goroutine.
//
// PublishSystem is synchronous: it first sends everything still queued, then
// the system event, and returns the broker's answer. Call it only from the run
// loop.
type Queue struct {
	next Publisher
	log  *log.Logger

	// OnError, if set, receives every failed or dropped channel message.
	// It runs on the sending goroutine.
	OnError func(what string, err error)

	mu       sync.Mutex
	pending  []queued
	capacity int
	dropped  int

	// sendMu serializes sends so queued messages leave in order.
	sendMu sync.Mutex
	wake   chan struct{}
}

// NewQueue wraps next. A capacity <= 0 uses DefaultQueueSize.
func NewQueue(next Publisher, capacity int, logger *log.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{
		next:     next,
		log:      logger.WithPrefix("mqtt"),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

func (q *Queue) enqueue(what string, send func(Publisher) error) error {
	q.mu.Lock()
	if len(q.pending) >= q.capacity {
		q.dropped++
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.pending = append(q.pending, queued{what: what, send: send})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run sends queued messages until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			q.Flush()
		}
	}
}

// Flush sends everything queued so far. It blocks for as long as the
// underlying publisher does.
func (q *Queue) Flush() {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()
	q.flush()
}

func (q *Queue) flush() {
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, m := range batch {
			if err := m.send(q.next); err != nil && q.OnError != nil {
				q.OnError(m.what, err)
			}
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped returns the number of messages refused because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// PublishState queues a timeslot state change.
func (q *Queue) PublishState(c channel.StateChange) error {
	return q.enqueue("state", func(p Publisher) error { return p.PublishState(c) })
}

// PublishSquelch queues a squelch edge.
func (q *Queue) PublishSquelch(ch string, e logic.SquelchEvent, at time.Time) error {
	return q.enqueue("squelch", func(p Publisher) error { return p.PublishSquelch(ch, e, at) })
}

// PublishChannelEvent queues a channel lifecycle event.
func (q *Queue) PublishChannelEvent(e logic.ChannelEvent, at time.Time) error {
	return q.enqueue("channel event", func(p Publisher) error { return p.PublishChannelEvent(e, at) })
}

// PublishDecoderEvent queues an event for a channel's decoders.
func (q *Queue) PublishDecoderEvent(ch string, e logic.DecoderStateEvent) error {
	return q.enqueue("decoder event", func(p Publisher) error { return p.PublishDecoderEvent(ch, e) })
}

// PublishSystem sends everything queued, then the system event.
func (q *Queue) PublishSystem(event SystemEvent) error {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()
	q.flush()
	return q.next.PublishSystem(event)
}

// Close closes the underlying publisher. Queued messages are not sent.
func (q *Queue) Close() error {
	if n := q.Len(); n > 0 {
		q.log.Warn("closing with unsent messages", "queued", n)
	}
	return q.next.Close()
}
