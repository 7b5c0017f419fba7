package logic

import (
	"time"

	"github.com/google/uuid"
)

// SourceID identifies the origin of an event. Channels tag everything they
// broadcast with their own SourceID so they can discard their own echoes.
type SourceID string

// NewSourceID returns a fresh random SourceID.
func NewSourceID() SourceID {
	return SourceID(uuid.NewString())
}

// EventKind tags a DecoderStateEvent and selects which payload fields matter.
type EventKind string

const (
	EventAlwaysUnsquelch          EventKind = "ALWAYS_UNSQUELCH"
	EventChangeCallTimeout        EventKind = "CHANGE_CALL_TIMEOUT"
	EventContinuation             EventKind = "CONTINUATION"
	EventDecode                   EventKind = "DECODE"
	EventEnd                      EventKind = "END"
	EventReset                    EventKind = "RESET"
	EventSourceFrequency          EventKind = "SOURCE_FREQUENCY"
	EventStart                    EventKind = "START"
	EventTrafficChannelAllocation EventKind = "TRAFFIC_CHANNEL_ALLOCATION"
	EventChannelActiveState       EventKind = "NOTIFICATION_CHANNEL_ACTIVE_STATE"
	EventChannelInactiveState     EventKind = "NOTIFICATION_CHANNEL_INACTIVE_STATE"
)

// DecoderStateEvent is the event vocabulary exchanged between decoders and
// channel state. It is a tagged value: Kind decides which of the payload
// fields are meaningful.
//
//   - Frequency: SOURCE_FREQUENCY and TRAFFIC_CHANNEL_ALLOCATION
//   - CallTimeout, TimeoutChannelType: CHANGE_CALL_TIMEOUT
//   - ChannelNumber: TRAFFIC_CHANNEL_ALLOCATION
type DecoderStateEvent struct {
	Source   SourceID
	Kind     EventKind
	State    State
	Timeslot int

	Frequency          int64
	CallTimeout        time.Duration
	TimeoutChannelType ChannelType
	ChannelNumber      string
}

// NewDecoderStateEvent creates an event without payload.
func NewDecoderStateEvent(source SourceID, kind EventKind, state State, timeslot int) DecoderStateEvent {
	return DecoderStateEvent{
		Source:   source,
		Kind:     kind,
		State:    state,
		Timeslot: timeslot,
	}
}

// NewSourceFrequencyEvent announces a tuned frequency change to decoders.
func NewSourceFrequencyEvent(source SourceID, state State, timeslot int, frequency int64) DecoderStateEvent {
	e := NewDecoderStateEvent(source, EventSourceFrequency, state, timeslot)
	e.Frequency = frequency
	return e
}

// NewChangeCallTimeoutEvent overrides the fade timeout used by channels of
// the given type. The state is applied as well when it is a call state.
func NewChangeCallTimeoutEvent(source SourceID, channelType ChannelType, timeout time.Duration, state State, timeslot int) DecoderStateEvent {
	e := NewDecoderStateEvent(source, EventChangeCallTimeout, state, timeslot)
	e.CallTimeout = timeout
	e.TimeoutChannelType = channelType
	return e
}

// NewTrafficAllocationEvent asks the traffic manager for a channel to follow
// a call on the given channel number and frequency.
func NewTrafficAllocationEvent(source SourceID, channelNumber string, frequency int64, timeslot int) DecoderStateEvent {
	e := NewDecoderStateEvent(source, EventTrafficChannelAllocation, StateCall, timeslot)
	e.ChannelNumber = channelNumber
	e.Frequency = frequency
	return e
}

// ChannelEventKind is a channel lifecycle request or notification.
type ChannelEventKind string

const (
	ChannelRequestEnable   ChannelEventKind = "REQUEST_ENABLE"
	ChannelRequestDisable  ChannelEventKind = "REQUEST_DISABLE"
	ChannelProcessingStart ChannelEventKind = "NOTIFICATION_PROCESSING_START"
	ChannelProcessingStop  ChannelEventKind = "NOTIFICATION_PROCESSING_STOP"
)

// ChannelEvent is sent to the channel lifecycle manager.
type ChannelEvent struct {
	Channel string
	Kind    ChannelEventKind
}

// SourceEventKind tags measurements and notifications from the tuner source.
type SourceEventKind string

const (
	SourceFrequencyChange              SourceEventKind = "NOTIFICATION_FREQUENCY_CHANGE"
	SourceMeasuredFrequencyError       SourceEventKind = "NOTIFICATION_MEASURED_FREQUENCY_ERROR"
	SourceMeasuredFrequencyErrorLocked SourceEventKind = "NOTIFICATION_MEASURED_FREQUENCY_ERROR_SYNC_LOCKED"
)

// SourceEvent carries a tuner source notification. Label holds the channel
// type name on sync locked error measurements.
type SourceEvent struct {
	Kind  SourceEventKind
	Value int64
	Label string
}

// SquelchState is the audio gate position.
type SquelchState string

const (
	Squelch   SquelchState = "SQUELCH"
	Unsquelch SquelchState = "UNSQUELCH"
)

// SquelchEvent reports a change of the audio gate for one timeslot.
type SquelchEvent struct {
	State    SquelchState
	Timeslot int
}
