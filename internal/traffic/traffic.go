// Package traffic manages the pool of reusable traffic channels that follow
// calls granted on a control channel.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/heartbeat"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// Allocation failures. The messages are the rejection reasons reported with
// the call.
var (
	ErrPoolExhausted    = errors.New("NO TUNER AVAILABLE")
	ErrUnknownFrequency = errors.New("UNKNOWN FREQUENCY")
	ErrDuplicate        = errors.New("traffic channel already allocated")
)

// DefaultPoolSize is the pool limit used when Config.PoolSize is unset.
const DefaultPoolSize = 3

// NamePrefix starts the name of every pool channel: traffic-1, traffic-2...
const NamePrefix = "traffic-"

// IsPoolName reports whether name is one the pool gives its channels.
// Configured channels must not use these names.
func IsPoolName(name string) bool {
	n, ok := strings.CutPrefix(name, NamePrefix)
	if !ok {
		return false
	}
	i, err := strconv.Atoi(n)
	return err == nil && i > 0
}

// Config describes the traffic channels the manager creates.
type Config struct {
	PoolSize int
	// Template is copied into every pool channel. Name and Type are set by
	// the manager.
	Template channel.Config
}

// Heartbeat is where in-use channels are registered for timeout checks.
type Heartbeat interface {
	Add(name string, t heartbeat.Target)
	Remove(name string)
}

// Allocation reports the outcome of a traffic channel request.
type Allocation struct {
	ChannelNumber string
	Frequency     int64
	Timeslot      int
	// Channel is the pool channel carrying the call, empty when rejected.
	Channel string
	// Rejected holds the rejection reason.
	Rejected string
}

// Manager allocates traffic channels from a bounded pool. Channels that are
// not processing are reused before new ones are created.
//
// Channels ask to be disabled by emitting REQUEST_DISABLE while holding their
// own lock, so those requests are queued and handled by Run.
type Manager struct {
	cfg       Config
	log       *log.Logger
	now       logic.Clock
	heartbeat Heartbeat
	listeners channel.Listeners

	mu    sync.Mutex
	pool  []channel.Channel
	inUse map[string]channel.Channel // by channel number

	qmu    sync.Mutex
	queue  []logic.ChannelEvent
	notify chan struct{}

	// OnAllocation is called for every processed allocation request.
	OnAllocation func(Allocation)
	// OnPoolChange is called whenever the number of channels in use changes.
	OnPoolChange func(inUse, size int)
}

// NewManager creates a Manager. Pool channels report through listeners;
// their ChannelEvents are also fed back into the manager. hb may be nil.
func NewManager(cfg Config, listeners channel.Listeners, hb Heartbeat, logger *log.Logger, now logic.Clock) *Manager {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:       cfg,
		log:       logger.WithPrefix("traffic"),
		now:       now,
		heartbeat: hb,
		listeners: listeners,
		inUse:     make(map[string]channel.Channel),
		notify:    make(chan struct{}, 1),
	}
}

// Allocate starts a traffic channel for a TRAFFIC_CHANNEL_ALLOCATION event.
// Requests for a channel number already in use are suppressed with
// ErrDuplicate.
func (m *Manager) Allocate(e logic.DecoderStateEvent) (Allocation, error) {
	a := Allocation{
		ChannelNumber: e.ChannelNumber,
		Frequency:     e.Frequency,
		Timeslot:      e.Timeslot,
	}

	m.mu.Lock()
	a, err := m.allocate(a)
	inUse, size := len(m.inUse), len(m.pool)
	m.mu.Unlock()

	if errors.Is(err, ErrDuplicate) {
		return a, err
	}
	if err != nil {
		a.Rejected = err.Error()
		m.log.Warn("traffic channel rejected", "number", a.ChannelNumber, "frequency", a.Frequency, "reason", a.Rejected)
	} else {
		m.log.Info("traffic channel allocated", "number", a.ChannelNumber, "frequency", a.Frequency, "channel", a.Channel)
		if m.OnPoolChange != nil {
			m.OnPoolChange(inUse, size)
		}
	}
	if m.OnAllocation != nil {
		m.OnAllocation(a)
	}
	return a, err
}

func (m *Manager) allocate(a Allocation) (Allocation, error) {
	if _, ok := m.inUse[a.ChannelNumber]; ok {
		return a, ErrDuplicate
	}
	if a.Frequency <= 0 {
		return a, ErrUnknownFrequency
	}

	ch := m.channel()
	if ch == nil {
		return a, ErrPoolExhausted
	}
	a.Channel = ch.Name()

	ch.Retune(a.ChannelNumber, a.Frequency)
	ch.SetPendingCall(a.Timeslot)
	m.emit(logic.ChannelEvent{Channel: ch.Name(), Kind: logic.ChannelRequestEnable})
	ch.Start()

	m.inUse[a.ChannelNumber] = ch
	if m.heartbeat != nil {
		m.heartbeat.Add(ch.Name(), ch)
	}
	return a, nil
}

// channel returns an idle pool channel, growing the pool up to its limit.
func (m *Manager) channel() channel.Channel {
	for _, ch := range m.pool {
		if !ch.IsProcessing() {
			return ch
		}
	}
	if len(m.pool) >= m.cfg.PoolSize {
		return nil
	}

	cfg := m.cfg.Template
	cfg.Name = fmt.Sprintf("%s%d", NamePrefix, len(m.pool)+1)
	cfg.Type = logic.ChannelTraffic

	var ch channel.Channel
	if cfg.Timeslots > 1 {
		ch = channel.NewMulti(cfg, m.log, m.now)
	} else {
		ch = channel.NewSingle(cfg, m.log, m.now)
	}
	l := m.listeners
	forward := l.ChannelEvent
	l.ChannelEvent = func(e logic.ChannelEvent) {
		if forward != nil {
			forward(e)
		}
		m.Enqueue(e)
	}
	ch.SetListeners(l)

	m.pool = append(m.pool, ch)
	m.log.Debug("traffic channel created", "channel", cfg.Name, "pool", len(m.pool))
	return ch
}

func (m *Manager) emit(e logic.ChannelEvent) {
	if m.listeners.ChannelEvent != nil {
		m.listeners.ChannelEvent(e)
	}
}

// Enqueue queues a channel event for Run. It never blocks.
func (m *Manager) Enqueue(e logic.ChannelEvent) {
	m.qmu.Lock()
	m.queue = append(m.queue, e)
	m.qmu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Run handles queued channel events until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.notify:
			m.Drain()
		}
	}
}

// Drain handles every queued channel event.
func (m *Manager) Drain() {
	m.qmu.Lock()
	events := m.queue
	m.queue = nil
	m.qmu.Unlock()

	for _, e := range events {
		m.handle(e)
	}
}

func (m *Manager) handle(e logic.ChannelEvent) {
	if e.Kind != logic.ChannelRequestDisable {
		return
	}

	m.mu.Lock()
	number, ch, ok := m.findInUse(e.Channel)
	// A disable request queued before the channel was reset belongs to its
	// previous call.
	if !ok || !ch.Snapshot().TeardownStarted {
		m.mu.Unlock()
		m.log.Debug("ignoring stale disable request", "channel", e.Channel)
		return
	}
	m.release(number)
	inUse, size := len(m.inUse), len(m.pool)
	m.mu.Unlock()

	if m.OnPoolChange != nil {
		m.OnPoolChange(inUse, size)
	}
}

func (m *Manager) findInUse(name string) (string, channel.Channel, bool) {
	for number, ch := range m.inUse {
		if ch.Name() == name {
			return number, ch, true
		}
	}
	return "", nil, false
}

// release stops and resets the channel serving number and returns it to the
// pool.
func (m *Manager) release(number string) {
	ch, ok := m.inUse[number]
	if !ok {
		return
	}
	delete(m.inUse, number)
	if m.heartbeat != nil {
		m.heartbeat.Remove(ch.Name())
	}
	ch.Stop()
	ch.Reset()
	m.log.Info("traffic channel released", "number", number, "channel", ch.Name())
}

// Stop ends every call in progress.
func (m *Manager) Stop() {
	m.mu.Lock()
	numbers := make([]string, 0, len(m.inUse))
	for number := range m.inUse {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	for _, number := range numbers {
		m.release(number)
	}
	size := len(m.pool)
	m.mu.Unlock()

	if len(numbers) > 0 && m.OnPoolChange != nil {
		m.OnPoolChange(0, size)
	}
}

// Channel returns the pool channel with the given name.
func (m *Manager) Channel(name string) (channel.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.pool {
		if ch.Name() == name {
			return ch, true
		}
	}
	return nil, false
}

// Active returns the pool channel with the given name while it is carrying a
// call. Released channels are not returned.
func (m *Manager) Active(name string) (channel.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ch, ok := m.findInUse(name)
	return ch, ok
}

// Channels returns every pool channel in creation order.
func (m *Manager) Channels() []channel.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]channel.Channel(nil), m.pool...)
}

// InUse returns the channel numbers currently being followed, sorted.
func (m *Manager) InUse() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	numbers := make([]string, 0, len(m.inUse))
	for number := range m.inUse {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	return numbers
}
