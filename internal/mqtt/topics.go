package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/trunk-monitor/internal/logic"
)

// Errors returned for inbound messages that can't be used.
var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrBadEvent     = errors.New("bad event")
)

// Topics builds topic names under a common prefix.
type Topics struct {
	Prefix string
}

// NewTopics returns Topics for prefix, or DefaultTopicPrefix when empty.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Decoder is the inbound topic for a channel's decoder events.
func (t Topics) Decoder(ch string) string { return t.Prefix + "/decoder/" + ch }

// Source is the inbound topic for a channel's tuner source events.
func (t Topics) Source(ch string) string { return t.Prefix + "/source/" + ch }

// DecoderWildcard subscribes to decoder events for every channel.
func (t Topics) DecoderWildcard() string { return t.Prefix + "/decoder/+" }

// SourceWildcard subscribes to source events for every channel.
func (t Topics) SourceWildcard() string { return t.Prefix + "/source/+" }

// ChannelEvents is the topic for channel lifecycle events.
func (t Topics) ChannelEvents() string { return t.Prefix + "/channel/events" }

// State is the retained state topic of a channel.
func (t Topics) State(ch string) string { return t.Prefix + "/channel/" + ch + "/state" }

// Squelch is the squelch edge topic of a channel.
func (t Topics) Squelch(ch string) string { return t.Prefix + "/channel/" + ch + "/squelch" }

// DecoderOut is where a channel publishes events for its decoders.
func (t Topics) DecoderOut(ch string) string { return t.Prefix + "/channel/" + ch + "/decoder" }

// System is the system lifecycle topic.
func (t Topics) System() string { return t.Prefix + "/system" }

// Handler receives inbound events.
type Handler interface {
	HandleDecoderEvent(ch string, event logic.DecoderStateEvent)
	HandleSourceEvent(ch string, event logic.SourceEvent)
}

// Dispatch parses an inbound message and passes it to h.
func (t Topics) Dispatch(h Handler, topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	kind, ch, ok := strings.Cut(rest, "/")
	if !ok || ch == "" || strings.Contains(ch, "/") {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	switch kind {
	case "decoder":
		e, err := ParseDecoderEvent(payload)
		if err != nil {
			return err
		}
		h.HandleDecoderEvent(ch, e)
	case "source":
		e, err := ParseSourceEvent(payload)
		if err != nil {
			return err
		}
		h.HandleSourceEvent(ch, e)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return nil
}

var decoderKinds = map[logic.EventKind]bool{
	logic.EventAlwaysUnsquelch:          true,
	logic.EventChangeCallTimeout:        true,
	logic.EventContinuation:             true,
	logic.EventDecode:                   true,
	logic.EventEnd:                      true,
	logic.EventReset:                    true,
	logic.EventSourceFrequency:          true,
	logic.EventStart:                    true,
	logic.EventTrafficChannelAllocation: true,
	logic.EventChannelActiveState:       true,
	logic.EventChannelInactiveState:     true,
}

// ParseDecoderEvent decodes an inbound decoder event. Decoders without an
// identity of their own get a fresh SourceID.
func ParseDecoderEvent(payload []byte) (logic.DecoderStateEvent, error) {
	var p DecoderEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return logic.DecoderStateEvent{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}

	kind := logic.EventKind(p.Event)
	if !decoderKinds[kind] {
		return logic.DecoderStateEvent{}, fmt.Errorf("%w: unknown event %q", ErrBadEvent, p.Event)
	}
	state := logic.State(p.State)
	if p.State != "" && !state.Valid() {
		return logic.DecoderStateEvent{}, fmt.Errorf("%w: unknown state %q", ErrBadEvent, p.State)
	}
	channelType := logic.ChannelType(p.TimeoutChannelType)
	if p.TimeoutChannelType != "" && !channelType.Valid() {
		return logic.DecoderStateEvent{}, fmt.Errorf("%w: unknown channel type %q", ErrBadEvent, p.TimeoutChannelType)
	}

	source := logic.SourceID(p.Source)
	if source == "" {
		source = logic.NewSourceID()
	}
	e := logic.NewDecoderStateEvent(source, kind, state, p.Timeslot)
	e.Frequency = p.Frequency
	e.CallTimeout = time.Duration(p.CallTimeoutMs) * time.Millisecond
	e.TimeoutChannelType = channelType
	e.ChannelNumber = p.ChannelNumber
	return e, nil
}

// SourceEventPayload is the wire form of a tuner source event.
type SourceEventPayload struct {
	Event string `json:"event"`
	Value int64  `json:"value"`
}

// ParseSourceEvent decodes an inbound tuner source event.
func ParseSourceEvent(payload []byte) (logic.SourceEvent, error) {
	var p SourceEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return logic.SourceEvent{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	switch kind := logic.SourceEventKind(p.Event); kind {
	case logic.SourceFrequencyChange, logic.SourceMeasuredFrequencyError:
		return logic.SourceEvent{Kind: kind, Value: p.Value}, nil
	default:
		return logic.SourceEvent{}, fmt.Errorf("%w: unknown source event %q", ErrBadEvent, p.Event)
	}
}
