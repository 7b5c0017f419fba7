// Package logic contains the pure channel state logic for the trunking monitor.
// This package has NO external I/O (no MQTT, GPIO, HTTP or time.Sleep).
// Time is always injectable via a func() time.Time clock.
package logic

import "time"

// State represents the lifecycle state of a channel timeslot.
type State string

const (
	StateActive    State = "ACTIVE"
	StateCall      State = "CALL"
	StateControl   State = "CONTROL"
	StateData      State = "DATA"
	StateEncrypted State = "ENCRYPTED"
	StateFade      State = "FADE"
	StateIdle      State = "IDLE"
	StateReset     State = "RESET"
	StateTeardown  State = "TEARDOWN"
)

// AllStates lists every state in declaration order.
var AllStates = []State{
	StateActive,
	StateCall,
	StateControl,
	StateData,
	StateEncrypted,
	StateFade,
	StateIdle,
	StateReset,
	StateTeardown,
}

// CallStates are the states that count as actively decoding.
var CallStates = []State{StateActive, StateCall, StateControl, StateData, StateEncrypted}

// IdleStates are the quiet states a channel rests in between calls.
var IdleStates = []State{StateIdle, StateFade}

type stateSet map[State]bool

func setOf(states ...State) stateSet {
	s := make(stateSet, len(states))
	for _, st := range states {
		s[st] = true
	}
	return s
}

// successors is the legal transition graph. A state missing from the map
// has no successors.
var successors = func() map[State]stateSet {
	decoding := setOf(StateActive, StateCall, StateControl, StateData, StateEncrypted, StateFade, StateTeardown)
	return map[State]stateSet{
		StateActive:    decoding,
		StateCall:      decoding,
		StateData:      decoding,
		StateEncrypted: decoding,
		StateControl:   setOf(StateIdle, StateFade),
		StateFade:      setOf(StateActive, StateCall, StateControl, StateData, StateEncrypted, StateIdle, StateTeardown),
		StateIdle:      setOf(StateActive, StateCall, StateControl, StateData, StateEncrypted, StateFade, StateIdle),
		StateReset:     setOf(StateIdle),
		StateTeardown:  setOf(StateReset),
	}
}()

var callStates = setOf(CallStates...)

var idleStates = setOf(IdleStates...)

// CanTransition reports whether the transition graph allows moving from one
// state to another. It is pure and total: unknown states never transition.
func CanTransition(from, to State) bool {
	return successors[from][to]
}

// Successors returns the legal next states of s in declaration order.
func (s State) Successors() []State {
	var out []State
	for _, next := range AllStates {
		if CanTransition(s, next) {
			out = append(out, next)
		}
	}
	return out
}

// IsCallState reports whether s is one of the actively decoding states.
func (s State) IsCallState() bool {
	return callStates[s]
}

// IsActive reports whether the channel is sync locked in s. The active set
// is the call state set.
func (s State) IsActive() bool {
	return callStates[s]
}

// IsIdleState reports whether s is IDLE or FADE.
func (s State) IsIdleState() bool {
	return idleStates[s]
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := successors[s]
	return ok
}

// ParseState converts a state name into a State. Unknown names yield
// ok == false.
func ParseState(name string) (State, bool) {
	s := State(name)
	return s, s.Valid()
}

// ChannelType distinguishes standing channels from pooled traffic channels.
type ChannelType string

const (
	ChannelStandard ChannelType = "STANDARD"
	ChannelTraffic  ChannelType = "TRAFFIC"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	return t == ChannelStandard || t == ChannelTraffic
}

// Default timeouts.
const (
	DefaultFadeTimeout        = 1200 * time.Millisecond
	DefaultResetTimeout       = 2000 * time.Millisecond
	DefaultTrafficCallTimeout = 3 * time.Second
)

// DefaultFadeTimeoutFor returns the default fade buffer for a channel type.
func DefaultFadeTimeoutFor(t ChannelType) time.Duration {
	if t == ChannelTraffic {
		return DefaultTrafficCallTimeout
	}
	return DefaultFadeTimeout
}
