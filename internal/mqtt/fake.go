package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// Message is a published message recorded by FakePublisher.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// FakePublisher records published events for test assertions. It is safe for
// concurrent use; read the recorded slices through the accessor methods
// while other goroutines may still publish.
type FakePublisher struct {
	mu     sync.Mutex
	topics Topics

	states        []channel.StateChange
	squelch       []logic.SquelchEvent
	channelEvents []logic.ChannelEvent
	decoderEvents []logic.DecoderStateEvent
	systemEvents  []SystemEvent
	messages      []Message

	// PublishError, if set, will be returned by every Publish method but
	// PublishSystem.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	// Block, if non-nil, holds every publish until it is closed. Set it
	// before the publisher is shared.
	Block chan struct{}
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{topics: NewTopics("")}
}

func (f *FakePublisher) wait() {
	if f.Block != nil {
		<-f.Block
	}
}

func (f *FakePublisher) record(topic string, retained bool, payload []byte, err error) error {
	if err != nil {
		return err
	}
	f.messages = append(f.messages, Message{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

// PublishState records the state change.
func (f *FakePublisher) PublishState(c channel.StateChange) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.states = append(f.states, c)
	payload, err := FormatStatePayload(c)
	return f.record(f.topics.State(c.Channel), true, payload, err)
}

// PublishSquelch records the squelch edge.
func (f *FakePublisher) PublishSquelch(ch string, e logic.SquelchEvent, at time.Time) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.squelch = append(f.squelch, e)
	payload, err := FormatSquelchPayload(ch, e, at)
	return f.record(f.topics.Squelch(ch), false, payload, err)
}

// PublishChannelEvent records the channel event.
func (f *FakePublisher) PublishChannelEvent(e logic.ChannelEvent, at time.Time) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.channelEvents = append(f.channelEvents, e)
	payload, err := FormatChannelEventPayload(e, at)
	return f.record(f.topics.ChannelEvents(), false, payload, err)
}

// PublishDecoderEvent records the decoder event.
func (f *FakePublisher) PublishDecoderEvent(ch string, e logic.DecoderStateEvent) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.decoderEvents = append(f.decoderEvents, e)
	payload, err := FormatDecoderEventPayload(e)
	return f.record(f.topics.DecoderOut(ch), false, payload, err)
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	f.systemEvents = append(f.systemEvents, event)
	payload, err := FormatSystemPayload(event)
	return f.record(f.topics.System(), event.Retained, payload, err)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// States returns the recorded state changes.
func (f *FakePublisher) States() []channel.StateChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channel.StateChange(nil), f.states...)
}

// Squelch returns the recorded squelch edges.
func (f *FakePublisher) Squelch() []logic.SquelchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.SquelchEvent(nil), f.squelch...)
}

// ChannelEvents returns the recorded channel events.
func (f *FakePublisher) ChannelEvents() []logic.ChannelEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.ChannelEvent(nil), f.channelEvents...)
}

// DecoderEvents returns the recorded decoder events.
func (f *FakePublisher) DecoderEvents() []logic.DecoderStateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.DecoderStateEvent(nil), f.decoderEvents...)
}

// SystemEvents returns the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// Messages returns every recorded message in publish order.
func (f *FakePublisher) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = nil
	f.squelch = nil
	f.channelEvents = nil
	f.decoderEvents = nil
	f.systemEvents = nil
	f.messages = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
