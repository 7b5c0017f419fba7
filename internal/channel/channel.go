// Package channel orchestrates the per-timeslot state machines of a radio
// channel: it routes decoder events, applies standard and traffic channel
// policy, aggregates timeslot teardown and fans state changes out to the
// squelch, identifier, lifecycle and decoder consumers.
//
// Every exported method takes the channel lock. Listener callbacks run while
// the lock is held and must not call back into the same channel; hand the
// work to another goroutine instead.
package channel

import (
	"time"

	"github.com/sweeney/trunk-monitor/internal/identifier"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// Config describes a channel.
type Config struct {
	Name      string
	System    string
	Site      string
	AliasList string
	Decoder   string
	Frequency int64
	Type      logic.ChannelType

	// Timeslots is only used by Multi. Defaults to 2.
	Timeslots int

	StandardFadeTimeout time.Duration
	TrafficFadeTimeout  time.Duration
	ResetTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Type == "" {
		c.Type = logic.ChannelStandard
	}
	if c.StandardFadeTimeout <= 0 {
		c.StandardFadeTimeout = logic.DefaultFadeTimeout
	}
	if c.TrafficFadeTimeout <= 0 {
		c.TrafficFadeTimeout = logic.DefaultTrafficCallTimeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = logic.DefaultResetTimeout
	}
	return c
}

// StateChange is reported for every applied transition.
type StateChange struct {
	Channel  string
	Type     logic.ChannelType
	Timeslot int
	From     logic.State
	To       logic.State
	Time     time.Time
}

// Listeners are the outputs of a channel. Nil functions are skipped.
type Listeners struct {
	StateChanged     func(StateChange)
	Squelch          func(channel string, event logic.SquelchEvent)
	ChannelEvent     func(event logic.ChannelEvent)
	DecoderState     func(channel string, event logic.DecoderStateEvent)
	IdentifierUpdate func(n identifier.Notification)
	SourceEvent      func(channel string, event logic.SourceEvent)
}

// Channel is implemented by Single and Multi.
type Channel interface {
	ID() logic.SourceID
	Name() string
	Type() logic.ChannelType
	Timeslots() int
	IsProcessing() bool

	Start()
	Stop()
	Reset()
	CheckState()

	ReceiveDecoderStateEvent(event logic.DecoderStateEvent)
	ReceiveSourceEvent(event logic.SourceEvent)
	UpdateIdentifier(n identifier.Notification)

	SetChannelType(t logic.ChannelType)
	SetStandardChannelTimeout(d time.Duration)
	SetTrafficChannelTimeout(d time.Duration)
	SetPendingCall(timeslot int)
	SetSourceOverflow(overflow bool)
	Retune(channelNumber string, frequency int64)
	SetListeners(l Listeners)

	Snapshot() Snapshot
}

// Snapshot is a point-in-time view of a channel.
type Snapshot struct {
	ID                logic.SourceID
	Name              string
	Type              logic.ChannelType
	Processing        bool
	Overflow          bool
	TeardownStarted   bool
	TeardownCompleted bool
	Timeslots         []TimeslotSnapshot
}

// TimeslotSnapshot is the state of one timeslot.
type TimeslotSnapshot struct {
	Timeslot      int
	State         logic.State
	Squelch       logic.SquelchState
	SquelchLocked bool
	FadeDeadline  time.Time
	EndDeadline   time.Time
	Identifiers   []identifier.Identifier
}
