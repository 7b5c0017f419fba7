package logic

import "time"

// StateListener receives state changes from a StateMachine.
type StateListener interface {
	StateChanged(state State, timeslot int)
}

// StateListenerFunc adapts a function to the StateListener interface.
type StateListenerFunc func(state State, timeslot int)

// StateChanged calls f(state, timeslot).
func (f StateListenerFunc) StateChanged(state State, timeslot int) {
	f(state, timeslot)
}

// StateMachine tracks the state of a single timeslot and the fade and end
// deadlines that let it decay when decoders go quiet.
//
// StateMachine does no locking. The owning channel serializes every call.
type StateMachine struct {
	state       State
	timeslot    int
	channelType ChannelType
	now         Clock

	fadeBuffer   time.Duration
	fadeDeadline time.Time
	endBuffer    time.Duration
	endDeadline  time.Time

	identifierListener StateListener
	listeners          []StateListener
}

// NewStateMachine creates an IDLE machine for the given timeslot. A nil
// clock uses time.Now.
func NewStateMachine(timeslot int, channelType ChannelType, now Clock) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		state:       StateIdle,
		timeslot:    timeslot,
		channelType: channelType,
		now:         now,
		fadeBuffer:  DefaultFadeTimeoutFor(channelType),
		endBuffer:   DefaultResetTimeout,
	}
}

// SetState requests a transition to state and reports whether the state
// changed.
//
// Requesting the current state is handled before the transition table is
// consulted: a call state only pushes the fade deadline forward and any other
// state is a no-op. Neither notifies listeners. Illegal transitions and
// CONTROL on a traffic channel are dropped without mutation.
func (m *StateMachine) SetState(state State) bool {
	if state == m.state {
		if state.IsCallState() {
			m.refreshFadeDeadline()
		}
		return false
	}

	if !CanTransition(m.state, state) {
		return false
	}

	// Traffic channels can't become control channels, otherwise they would
	// never reach teardown.
	if state == StateControl && m.channelType == ChannelTraffic {
		return false
	}

	m.state = state

	if state.IsCallState() {
		m.refreshFadeDeadline()
	} else if state == StateFade {
		m.endDeadline = m.now().Add(m.endBuffer)
	}

	if m.identifierListener != nil {
		m.identifierListener.StateChanged(state, m.timeslot)
	}
	for _, l := range m.listeners {
		l.StateChanged(state, m.timeslot)
	}
	return true
}

// CheckState applies the fade and end timeouts. It is called on every
// heartbeat and is the only path by which state decays on its own.
func (m *StateMachine) CheckState() {
	now := m.now()

	switch {
	case m.state.IsActive() && !now.Before(m.fadeDeadline):
		m.SetState(StateFade)
	case m.state == StateFade && !now.Before(m.endDeadline):
		m.SetState(StateTeardown)
	}
}

func (m *StateMachine) refreshFadeDeadline() {
	m.fadeDeadline = m.now().Add(m.fadeBuffer)
}

// SetFadeTimeoutBuffer sets the call inactivity window and re-arms the fade
// deadline from now.
func (m *StateMachine) SetFadeTimeoutBuffer(d time.Duration) {
	m.fadeBuffer = d
	m.refreshFadeDeadline()
}

// SetEndTimeoutBuffer sets the fade window and re-arms the end deadline from
// now.
func (m *StateMachine) SetEndTimeoutBuffer(d time.Duration) {
	m.endBuffer = d
	m.endDeadline = m.now().Add(d)
}

// FadeTimeoutBuffer returns the call inactivity window.
func (m *StateMachine) FadeTimeoutBuffer() time.Duration {
	return m.fadeBuffer
}

// EndTimeoutBuffer returns the fade window.
func (m *StateMachine) EndTimeoutBuffer() time.Duration {
	return m.endBuffer
}

// FadeDeadline returns the time at which a call state decays to FADE.
func (m *StateMachine) FadeDeadline() time.Time {
	return m.fadeDeadline
}

// EndDeadline returns the time at which FADE decays to TEARDOWN.
func (m *StateMachine) EndDeadline() time.Time {
	return m.endDeadline
}

// State returns the current state.
func (m *StateMachine) State() State {
	return m.state
}

// Timeslot returns the timeslot this machine tracks.
func (m *StateMachine) Timeslot() int {
	return m.timeslot
}

// ChannelType returns the channel type used by the CONTROL guard.
func (m *StateMachine) ChannelType() ChannelType {
	return m.channelType
}

// SetChannelType changes the channel type. The fade buffer is left alone;
// owners apply their per-type timeout separately.
func (m *StateMachine) SetChannelType(t ChannelType) {
	m.channelType = t
}

// SetIdentifierListener registers the listener that receives the state
// identifier update. It is notified before the other listeners.
func (m *StateMachine) SetIdentifierListener(l StateListener) {
	m.identifierListener = l
}

// AddListener registers a state change listener.
func (m *StateMachine) AddListener(l StateListener) {
	m.listeners = append(m.listeners, l)
}
