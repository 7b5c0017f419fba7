package channel

import (
	"github.com/charmbracelet/log"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// Single is the channel state of a single-timeslot decoder.
type Single struct {
	*core
}

var _ Channel = (*Single)(nil)

// NewSingle creates a single-timeslot channel. A nil logger uses the default
// logger and a nil clock uses time.Now.
func NewSingle(cfg Config, logger *log.Logger, now logic.Clock) *Single {
	return &Single{core: newCore(cfg, 1, singlePolicy{}, logger, now)}
}

// State returns the state of the only timeslot.
func (s *Single) State() logic.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[0].machine.State()
}

type singlePolicy struct{}

// slotFor routes everything to the only slot; single-timeslot decoders don't
// set a meaningful timeslot.
func (singlePolicy) slotFor(c *core, timeslot int) (*slot, bool) {
	return c.slots[0], true
}

// startTraffic enters the call only when one is pending, like a multi
// timeslot channel does for its pending timeslot.
func (singlePolicy) startTraffic(c *core) {
	if c.pendingCall >= 0 {
		c.slots[0].machine.SetState(logic.StateCall)
	} else {
		c.slots[0].machine.SetState(logic.StateActive)
	}
}

func (singlePolicy) teardown(c *core, s *slot) {
	c.requestDisable()
}
