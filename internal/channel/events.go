package channel

import (
	"github.com/sweeney/trunk-monitor/internal/identifier"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// ReceiveDecoderStateEvent routes a decoder event to the state machine of
// its timeslot. Events that carry this channel's own SourceID are echoes and
// are dropped whatever their kind. So are events reaching a traffic channel
// that is not processing: it has been released and nothing would decay it.
func (c *core) ReceiveDecoderStateEvent(e logic.DecoderStateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Source == c.id {
		return
	}
	if c.channelType == logic.ChannelTraffic && !c.processing {
		c.log.Debug("dropping event for released traffic channel", "kind", e.Kind, "timeslot", e.Timeslot)
		return
	}

	s, ok := c.policy.slotFor(c, e.Timeslot)
	if !ok {
		c.log.Debug("dropping event for unknown timeslot", "kind", e.Kind, "timeslot", e.Timeslot)
		return
	}

	switch e.Kind {
	case logic.EventAlwaysUnsquelch:
		s.squelch.SetLock(true)
	case logic.EventChangeCallTimeout:
		t := e.TimeoutChannelType
		if t == "" {
			t = c.channelType
		}
		c.setCallTimeout(t, e.CallTimeout, s)
		if e.State.IsCallState() {
			s.machine.SetState(e.State)
		}
	case logic.EventContinuation, logic.EventDecode, logic.EventStart:
		// Decoders can only push call states through this path.
		if e.State.IsCallState() {
			s.machine.SetState(e.State)
		}
	case logic.EventEnd:
		s.machine.SetState(e.State)
	case logic.EventReset:
		// Resets originate here, never from decoders.
	}
}

// ReceiveSourceEvent rebroadcasts tuner notifications. Frequency changes go
// to the decoders of every timeslot; frequency error measurements are only
// passed on while a timeslot is sync locked.
func (c *core) ReceiveSourceEvent(e logic.SourceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case logic.SourceFrequencyChange:
		c.cfg.Frequency = e.Value
		for _, s := range c.slots {
			c.emitDecoderState(logic.NewSourceFrequencyEvent(c.id, s.machine.State(), s.timeslot, e.Value))

			// Silent so that receiving collections don't echo it back.
			id := identifier.Frequency(e.Value)
			s.ids.SilentUpdate(id)
			c.forwardIdentifier(identifier.Notification{
				Channel:    c.cfg.Name,
				Timeslot:   s.timeslot,
				Operation:  identifier.OperationSilentAdd,
				Identifier: id,
			})
		}
	case logic.SourceMeasuredFrequencyError:
		for _, s := range c.slots {
			if s.machine.State().IsActive() {
				c.emitSourceEvent(logic.SourceEvent{
					Kind:  logic.SourceMeasuredFrequencyErrorLocked,
					Value: e.Value,
					Label: string(c.channelType),
				})
				return
			}
		}
	}
}
