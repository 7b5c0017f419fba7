package channel

import (
	"github.com/charmbracelet/log"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// DefaultTimeslots is the timeslot count used when Config.Timeslots is unset.
const DefaultTimeslots = 2

// Multi is the channel state of a multi-timeslot decoder. Each timeslot runs
// its own state machine and squelch controller; a traffic channel is only
// torn down once no timeslot is active any more.
type Multi struct {
	*core
}

var _ Channel = (*Multi)(nil)

// NewMulti creates a channel with cfg.Timeslots timeslots. A nil logger uses
// the default logger and a nil clock uses time.Now.
func NewMulti(cfg Config, logger *log.Logger, now logic.Clock) *Multi {
	n := cfg.Timeslots
	if n < 1 {
		n = DefaultTimeslots
	}
	return &Multi{core: newCore(cfg, n, multiPolicy{}, logger, now)}
}

// State returns the state of a timeslot.
func (m *Multi) State(timeslot int) (logic.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timeslot < 0 || timeslot >= len(m.slots) {
		return "", false
	}
	return m.slots[timeslot].machine.State(), true
}

type multiPolicy struct{}

func (multiPolicy) slotFor(c *core, timeslot int) (*slot, bool) {
	if timeslot < 0 || timeslot >= len(c.slots) {
		return nil, false
	}
	return c.slots[timeslot], true
}

// startTraffic puts the timeslot carrying the pending call into CALL and
// the others into ACTIVE so they fade out on their own if nothing arrives.
func (multiPolicy) startTraffic(c *core) {
	for _, s := range c.slots {
		if s.timeslot == c.pendingCall {
			s.machine.SetState(logic.StateCall)
		} else {
			s.machine.SetState(logic.StateActive)
		}
	}
}

// teardown requests the channel disable only when every timeslot is
// inactive. Otherwise the torn down timeslot is reset on its own so a quiet
// timeslot can't kill a channel that is still carrying traffic.
func (multiPolicy) teardown(c *core, s *slot) {
	for _, other := range c.slots {
		if other.machine.State().IsActive() {
			s.machine.SetState(logic.StateReset)
			return
		}
	}
	c.requestDisable()
}
