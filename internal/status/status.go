// Package status provides a thread-safe status tracker for the trunk-monitor daemon.
// It is read by the HTTP handlers and by the MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// RecentLimit is the number of state changes kept for display.
const RecentLimit = 20

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs     int64
	StandardFadeMs  int64
	TrafficFadeMs   int64
	ResetMs         int64
	Broker          string
	TopicPrefix     string
	HTTPPort        string
	TrafficPoolSize int
}

// Counts are totals since startup.
type Counts struct {
	Transitions     int
	Unsquelches     int
	DisableRequests int
	Allocations     int
	Rejections      int
	HeartbeatErrors int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels      []channel.Snapshot
	TrafficInUse  []string
	Recent        []channel.StateChange
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Channel returns the snapshot of the named channel.
func (s Snapshot) Channel(name string) (channel.Snapshot, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return channel.Snapshot{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config. A nil
// clock uses time.Now.
func NewTracker(startTime time.Time, cfg Config, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: now,
	}
}

// Update replaces the channel snapshots and the traffic channels in use.
// Called from the run loop on every heartbeat.
func (t *Tracker) Update(channels []channel.Snapshot, trafficInUse []string) {
	t.mu.Lock()
	t.snap.Channels = channels
	t.snap.TrafficInUse = trafficInUse
	t.mu.Unlock()
}

// RecordTransition counts a state change and keeps it in the recent list.
func (t *Tracker) RecordTransition(c channel.StateChange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Counts.Transitions++
	t.snap.Recent = append(t.snap.Recent, c)
	if n := len(t.snap.Recent); n > RecentLimit {
		t.snap.Recent = append([]channel.StateChange(nil), t.snap.Recent[n-RecentLimit:]...)
	}
}

// RecordSquelch counts squelch edges that open the gate.
func (t *Tracker) RecordSquelch(e logic.SquelchEvent) {
	if e.State != logic.Unsquelch {
		return
	}
	t.mu.Lock()
	t.snap.Counts.Unsquelches++
	t.mu.Unlock()
}

// RecordChannelEvent counts disable requests.
func (t *Tracker) RecordChannelEvent(e logic.ChannelEvent) {
	if e.Kind != logic.ChannelRequestDisable {
		return
	}
	t.mu.Lock()
	t.snap.Counts.DisableRequests++
	t.mu.Unlock()
}

// RecordAllocation counts a traffic channel request.
func (t *Tracker) RecordAllocation(rejected bool) {
	t.mu.Lock()
	if rejected {
		t.snap.Counts.Rejections++
	} else {
		t.snap.Counts.Allocations++
	}
	t.mu.Unlock()
}

// RecordHeartbeatError counts a failed timeout check.
func (t *Tracker) RecordHeartbeatError() {
	t.mu.Lock()
	t.snap.Counts.HeartbeatErrors++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]channel.Snapshot(nil), t.snap.Channels...)
	s.TrafficInUse = append([]string(nil), t.snap.TrafficInUse...)
	s.Recent = append([]channel.StateChange(nil), t.snap.Recent...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
