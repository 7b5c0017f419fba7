package logic

// SquelchListener receives squelch gate changes.
type SquelchListener interface {
	SquelchChanged(event SquelchEvent)
}

// SquelchListenerFunc adapts a function to the SquelchListener interface.
type SquelchListenerFunc func(event SquelchEvent)

// SquelchChanged calls f(event).
func (f SquelchListenerFunc) SquelchChanged(event SquelchEvent) {
	f(event)
}

// SquelchController derives the audio gate of one timeslot from state
// changes. It only knows whether audio should pass; the state machine decides
// what is happening on the channel.
//
// Events are edge triggered: the listener hears about a gate value once,
// when it changes.
type SquelchController struct {
	timeslot  int
	gate      SquelchState
	locked    bool
	lastState State
	listener  SquelchListener
}

// NewSquelchController creates a squelched controller for the timeslot.
func NewSquelchController(timeslot int) *SquelchController {
	return &SquelchController{
		timeslot:  timeslot,
		gate:      Squelch,
		lastState: StateIdle,
	}
}

// StateChanged implements StateListener. Only CALL opens the gate.
func (c *SquelchController) StateChanged(state State, timeslot int) {
	if timeslot != c.timeslot {
		return
	}
	c.lastState = state
	if c.locked {
		return
	}
	c.setGate(gateFor(state))
}

// SetLock forces the gate open while locked. Unlocking derives the gate from
// the last state seen again.
func (c *SquelchController) SetLock(locked bool) {
	c.locked = locked
	if locked {
		c.setGate(Unsquelch)
	} else {
		c.setGate(gateFor(c.lastState))
	}
}

// Locked reports whether the gate is forced open.
func (c *SquelchController) Locked() bool {
	return c.locked
}

// Gate returns the current gate value.
func (c *SquelchController) Gate() SquelchState {
	return c.gate
}

// SetListener registers the listener for gate changes.
func (c *SquelchController) SetListener(l SquelchListener) {
	c.listener = l
}

// RemoveListener unregisters the gate change listener.
func (c *SquelchController) RemoveListener() {
	c.listener = nil
}

func (c *SquelchController) setGate(gate SquelchState) {
	if gate == c.gate {
		return
	}
	c.gate = gate
	if c.listener != nil {
		c.listener.SquelchChanged(SquelchEvent{State: gate, Timeslot: c.timeslot})
	}
}

func gateFor(state State) SquelchState {
	if state == StateCall {
		return Unsquelch
	}
	return Squelch
}
