package channel

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sweeney/trunk-monitor/internal/identifier"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// slot bundles everything owned by one timeslot.
type slot struct {
	timeslot int
	machine  *logic.StateMachine
	squelch  *logic.SquelchController
	ids      *identifier.Collection
	state    logic.State // last state reported by the machine
}

// policy holds the behaviour that differs between single and multi
// timeslot channels.
type policy interface {
	// slotFor maps an event timeslot onto an owned slot.
	slotFor(c *core, timeslot int) (*slot, bool)
	// startTraffic moves the slots of a freshly started traffic channel
	// into their call states.
	startTraffic(c *core)
	// teardown handles a traffic slot reaching TEARDOWN.
	teardown(c *core, s *slot)
}

// core is the shared implementation behind Single and Multi.
type core struct {
	mu sync.Mutex

	id          logic.SourceID
	cfg         Config
	channelType logic.ChannelType
	now         logic.Clock
	log         *log.Logger
	policy      policy

	slots     []*slot
	listeners Listeners

	standardFade time.Duration
	trafficFade  time.Duration

	processing        bool
	overflow          bool
	pendingCall       int
	teardownStarted   bool
	teardownCompleted bool
}

func newCore(cfg Config, timeslots int, p policy, logger *log.Logger, now logic.Clock) *core {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if now == nil {
		now = time.Now
	}

	c := &core{
		id:           logic.NewSourceID(),
		cfg:          cfg,
		channelType:  cfg.Type,
		now:          now,
		log:          logger.With("channel", cfg.Name),
		policy:       p,
		standardFade: cfg.StandardFadeTimeout,
		trafficFade:  cfg.TrafficFadeTimeout,
		pendingCall:  -1,
	}

	for ts := 0; ts < timeslots; ts++ {
		s := &slot{
			timeslot: ts,
			machine:  logic.NewStateMachine(ts, cfg.Type, now),
			squelch:  logic.NewSquelchController(ts),
			ids:      identifier.NewCollection(cfg.Name, ts),
			state:    logic.StateIdle,
		}
		s.ids.SetListener(c.forwardIdentifier)
		s.squelch.SetListener(squelchForwarder{c})

		s.machine.SetIdentifierListener(stateIdentifierUpdater{s.ids})
		// Squelch first: the channel listener may drive further transitions
		// and the controller must see them in order.
		s.machine.AddListener(s.squelch)
		s.machine.AddListener(slotListener{c, s})
		s.machine.SetEndTimeoutBuffer(cfg.ResetTimeout)
		s.machine.SetFadeTimeoutBuffer(c.fadeFor(cfg.Type))

		c.slots = append(c.slots, s)
		c.createConfigurationIdentifiers(s)
	}
	return c
}

func (c *core) createConfigurationIdentifiers(s *slot) {
	if c.cfg.Decoder != "" {
		s.ids.SilentUpdate(identifier.DecoderType(c.cfg.Decoder))
	}
	if c.cfg.System != "" {
		s.ids.SilentUpdate(identifier.System(c.cfg.System))
	}
	if c.cfg.Site != "" {
		s.ids.SilentUpdate(identifier.Site(c.cfg.Site))
	}
	if c.cfg.Name != "" {
		s.ids.SilentUpdate(identifier.ChannelName(c.cfg.Name))
	}
	if c.cfg.AliasList != "" {
		s.ids.SilentUpdate(identifier.AliasList(c.cfg.AliasList))
	}
	if c.cfg.Frequency > 0 {
		s.ids.SilentUpdate(identifier.Frequency(c.cfg.Frequency))
	}
	s.ids.SilentUpdate(identifier.ChannelState(string(logic.StateIdle)))
}

func (c *core) fadeFor(t logic.ChannelType) time.Duration {
	if t == logic.ChannelTraffic {
		return c.trafficFade
	}
	return c.standardFade
}

// ID returns the source identity used to tag events from this channel.
func (c *core) ID() logic.SourceID {
	return c.id
}

// Name returns the configured channel name.
func (c *core) Name() string {
	return c.cfg.Name
}

// Type returns the current channel type.
func (c *core) Type() logic.ChannelType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelType
}

// Timeslots returns the number of timeslots.
func (c *core) Timeslots() int {
	return len(c.slots)
}

// IsProcessing reports whether the channel has been started and not stopped.
func (c *core) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// SetListeners replaces the output listeners.
func (c *core) SetListeners(l Listeners) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = l
}

// Start broadcasts every identifier so late consumers get a full snapshot,
// returns torn down timeslots to IDLE and, for traffic channels, enters the
// call.
func (c *core) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.processing = true
	c.teardownStarted = false
	c.teardownCompleted = false

	for _, s := range c.slots {
		s.ids.BroadcastIdentifiers()
	}
	for _, s := range c.slots {
		s.machine.SetState(logic.StateReset)
	}
	if c.channelType == logic.ChannelTraffic {
		c.policy.startTraffic(c)
	}
	c.pendingCall = -1

	c.emitChannelEvent(logic.ChannelProcessingStart)
	c.log.Debug("channel started", "type", c.channelType)
}

// Stop releases squelch locks, ends any call in progress and tears the
// timeslots down. Standard channels fall straight through to IDLE; traffic
// channels stay in TEARDOWN until Reset or Start.
func (c *core) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.slots {
		s.squelch.SetLock(false)
	}
	// Fade everything first so teardown aggregation sees no active timeslot.
	for _, s := range c.slots {
		if s.machine.State().IsActive() {
			s.machine.SetState(logic.StateFade)
		}
	}
	for _, s := range c.slots {
		s.machine.SetState(logic.StateTeardown)
	}

	c.processing = false
	c.teardownCompleted = true

	c.emitChannelEvent(logic.ChannelProcessingStop)
	c.log.Debug("channel stopped")
}

// Reset prepares the channel for reuse. Timeslots in TEARDOWN move through
// RESET to IDLE; other timeslots keep their state since transitions are never
// forced. User identifiers are cleared and decoders are told to reset.
func (c *core) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.slots {
		if !s.machine.SetState(logic.StateReset) {
			c.resetSlot(s)
		}
	}
	c.overflow = false
	c.teardownStarted = false
	c.teardownCompleted = false
}

// CheckState applies fade and end timeouts on every timeslot. Called on
// each heartbeat.
func (c *core) CheckState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.slots {
		s.machine.CheckState()
	}
}

// SetChannelType switches between standard and traffic behaviour at runtime.
func (c *core) SetChannelType(t logic.ChannelType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !t.Valid() || t == c.channelType {
		return
	}
	c.channelType = t
	for _, s := range c.slots {
		s.machine.SetChannelType(t)
		s.machine.SetFadeTimeoutBuffer(c.fadeFor(t))
	}
	c.log.Info("channel type changed", "type", t)
}

// SetStandardChannelTimeout sets the fade timeout used while the channel is
// a standard channel.
func (c *core) SetStandardChannelTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCallTimeout(logic.ChannelStandard, d, nil)
}

// SetTrafficChannelTimeout sets the fade timeout used while the channel is a
// traffic channel.
func (c *core) SetTrafficChannelTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCallTimeout(logic.ChannelTraffic, d, nil)
}

// setCallTimeout records the timeout for the channel type and applies it to
// the slot, or to every slot when s is nil, if the type matches.
func (c *core) setCallTimeout(t logic.ChannelType, d time.Duration, s *slot) {
	if d <= 0 {
		return
	}
	switch t {
	case logic.ChannelStandard:
		c.standardFade = d
	case logic.ChannelTraffic:
		c.trafficFade = d
	default:
		return
	}
	if t != c.channelType {
		return
	}
	if s != nil {
		s.machine.SetFadeTimeoutBuffer(d)
		return
	}
	for _, s := range c.slots {
		s.machine.SetFadeTimeoutBuffer(d)
	}
}

// SetPendingCall marks the timeslot that carries the call a traffic channel
// is being started for.
func (c *core) SetPendingCall(timeslot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingCall = timeslot
}

// SetSourceOverflow records whether the sample source is overflowing.
func (c *core) SetSourceOverflow(overflow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if overflow != c.overflow {
		c.log.Warn("source overflow", "overflow", overflow)
	}
	c.overflow = overflow
}

// Retune points a reusable channel at a new channel number and frequency.
func (c *core) Retune(channelNumber string, frequency int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Frequency = frequency
	for _, s := range c.slots {
		if channelNumber != "" {
			s.ids.Update(identifier.ChannelName(channelNumber))
		}
		if frequency > 0 {
			s.ids.Update(identifier.Frequency(frequency))
		}
	}
}

// UpdateIdentifier applies an identifier change from a decoder to the
// matching timeslot collection, which rebroadcasts it.
func (c *core) UpdateIdentifier(n identifier.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.policy.slotFor(c, n.Timeslot)
	if !ok {
		return
	}
	s.ids.Apply(n)
}

// Snapshot returns a point-in-time copy of the channel.
func (c *core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ID:                c.id,
		Name:              c.cfg.Name,
		Type:              c.channelType,
		Processing:        c.processing,
		Overflow:          c.overflow,
		TeardownStarted:   c.teardownStarted,
		TeardownCompleted: c.teardownCompleted,
	}
	for _, s := range c.slots {
		snap.Timeslots = append(snap.Timeslots, TimeslotSnapshot{
			Timeslot:      s.timeslot,
			State:         s.machine.State(),
			Squelch:       s.squelch.Gate(),
			SquelchLocked: s.squelch.Locked(),
			FadeDeadline:  s.machine.FadeDeadline(),
			EndDeadline:   s.machine.EndDeadline(),
			Identifiers:   s.ids.Identifiers(),
		})
	}
	return snap
}

// stateChanged fans a machine transition out and applies the follow-up
// transitions of the channel lifecycle.
func (c *core) stateChanged(s *slot, state logic.State) {
	from := s.state
	s.state = state

	if c.listeners.StateChanged != nil {
		c.listeners.StateChanged(StateChange{
			Channel:  c.cfg.Name,
			Type:     c.channelType,
			Timeslot: s.timeslot,
			From:     from,
			To:       state,
			Time:     c.now(),
		})
	}

	kind := logic.EventChannelInactiveState
	if state.IsActive() {
		kind = logic.EventChannelActiveState
	}
	c.emitDecoderState(logic.NewDecoderStateEvent(c.id, kind, state, s.timeslot))

	switch state {
	case logic.StateIdle:
		c.emitDecoderState(logic.NewDecoderStateEvent(c.id, logic.EventReset, logic.StateIdle, s.timeslot))
	case logic.StateReset:
		c.resetSlot(s)
		s.machine.SetState(logic.StateIdle)
	case logic.StateTeardown:
		if c.channelType == logic.ChannelTraffic {
			c.policy.teardown(c, s)
		} else {
			s.machine.SetState(logic.StateReset)
		}
	}
}

// resetSlot clears the user identifiers of a timeslot.
func (c *core) resetSlot(s *slot) {
	s.ids.RemoveClass(identifier.ClassUser)
	if s.machine.State() == logic.StateIdle {
		c.emitDecoderState(logic.NewDecoderStateEvent(c.id, logic.EventReset, logic.StateIdle, s.timeslot))
	}
}

// requestDisable asks the lifecycle manager to tear the channel down, at
// most once per use.
func (c *core) requestDisable() {
	if c.teardownStarted {
		return
	}
	c.teardownStarted = true
	c.log.Debug("requesting channel disable")
	c.emitChannelEvent(logic.ChannelRequestDisable)
}

func (c *core) emitChannelEvent(kind logic.ChannelEventKind) {
	if c.listeners.ChannelEvent != nil {
		c.listeners.ChannelEvent(logic.ChannelEvent{Channel: c.cfg.Name, Kind: kind})
	}
}

func (c *core) emitDecoderState(e logic.DecoderStateEvent) {
	if c.listeners.DecoderState != nil {
		c.listeners.DecoderState(c.cfg.Name, e)
	}
}

func (c *core) emitSourceEvent(e logic.SourceEvent) {
	if c.listeners.SourceEvent != nil {
		c.listeners.SourceEvent(c.cfg.Name, e)
	}
}

func (c *core) forwardIdentifier(n identifier.Notification) {
	if c.listeners.IdentifierUpdate != nil {
		c.listeners.IdentifierUpdate(n)
	}
}

// slotListener receives state changes from one slot's machine.
type slotListener struct {
	c *core
	s *slot
}

func (l slotListener) StateChanged(state logic.State, timeslot int) {
	l.c.stateChanged(l.s, state)
}

// stateIdentifierUpdater mirrors the machine state into the identifier
// collection.
type stateIdentifierUpdater struct {
	ids *identifier.Collection
}

func (u stateIdentifierUpdater) StateChanged(state logic.State, timeslot int) {
	u.ids.Update(identifier.ChannelState(string(state)))
}

// squelchForwarder passes gate changes to the channel's squelch listener.
type squelchForwarder struct {
	c *core
}

func (f squelchForwarder) SquelchChanged(e logic.SquelchEvent) {
	if f.c.listeners.Squelch != nil {
		f.c.listeners.Squelch(f.c.cfg.Name, e)
	}
}
