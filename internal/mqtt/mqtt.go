// Package mqtt carries channel state to and from the broker: decoder and
// source events come in, state, squelch, lifecycle and system events go out.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// DefaultTopicPrefix is the root of every topic.
const DefaultTopicPrefix = "trunk/monitor"

// Publisher publishes channel output to MQTT. Errors are reported but must
// not crash the process.
type Publisher interface {
	// PublishState sends a timeslot state change. Retained so late
	// subscribers see the current state.
	PublishState(change channel.StateChange) error

	// PublishSquelch sends a squelch gate edge.
	PublishSquelch(ch string, event logic.SquelchEvent, at time.Time) error

	// PublishChannelEvent sends a channel lifecycle request or notification.
	PublishChannelEvent(event logic.ChannelEvent, at time.Time) error

	// PublishDecoderEvent sends an event addressed to a channel's decoders.
	PublishDecoderEvent(ch string, event logic.DecoderStateEvent) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// StatePayload is published on channel/<name>/state.
type StatePayload struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Type      string `json:"type"`
	Timeslot  int    `json:"timeslot"`
	From      string `json:"from"`
	State     string `json:"state"`
}

// FormatStatePayload creates the JSON payload for a state change.
func FormatStatePayload(c channel.StateChange) ([]byte, error) {
	return json.Marshal(StatePayload{
		Timestamp: timestamp(c.Time),
		Channel:   c.Channel,
		Type:      string(c.Type),
		Timeslot:  c.Timeslot,
		From:      string(c.From),
		State:     string(c.To),
	})
}

// SquelchPayload is published on channel/<name>/squelch.
type SquelchPayload struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Timeslot  int    `json:"timeslot"`
	Squelch   string `json:"squelch"`
}

// FormatSquelchPayload creates the JSON payload for a squelch edge.
func FormatSquelchPayload(ch string, e logic.SquelchEvent, at time.Time) ([]byte, error) {
	return json.Marshal(SquelchPayload{
		Timestamp: timestamp(at),
		Channel:   ch,
		Timeslot:  e.Timeslot,
		Squelch:   string(e.State),
	})
}

// ChannelEventPayload is published on channel/events.
type ChannelEventPayload struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Event     string `json:"event"`
}

// FormatChannelEventPayload creates the JSON payload for a lifecycle event.
func FormatChannelEventPayload(e logic.ChannelEvent, at time.Time) ([]byte, error) {
	return json.Marshal(ChannelEventPayload{
		Timestamp: timestamp(at),
		Channel:   e.Channel,
		Event:     string(e.Kind),
	})
}

// DecoderEventPayload is the wire form of a DecoderStateEvent, used in both
// directions.
type DecoderEventPayload struct {
	Source             string `json:"source,omitempty"`
	Event              string `json:"event"`
	State              string `json:"state,omitempty"`
	Timeslot           int    `json:"timeslot"`
	Frequency          int64  `json:"frequency,omitempty"`
	CallTimeoutMs      int64  `json:"call_timeout_ms,omitempty"`
	TimeoutChannelType string `json:"timeout_channel_type,omitempty"`
	ChannelNumber      string `json:"channel_number,omitempty"`
}

// FormatDecoderEventPayload creates the JSON payload for a decoder event.
func FormatDecoderEventPayload(e logic.DecoderStateEvent) ([]byte, error) {
	return json.Marshal(DecoderEventPayload{
		Source:             string(e.Source),
		Event:              string(e.Kind),
		State:              string(e.State),
		Timeslot:           e.Timeslot,
		Frequency:          e.Frequency,
		CallTimeoutMs:      e.CallTimeout.Milliseconds(),
		TimeoutChannelType: string(e.TimeoutChannelType),
		ChannelNumber:      e.ChannelNumber,
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
