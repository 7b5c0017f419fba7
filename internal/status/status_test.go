package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/identifier"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func controlChannel(state logic.State) channel.Snapshot {
	return channel.Snapshot{
		Name:       "control-1",
		Type:       logic.ChannelStandard,
		Processing: true,
		Timeslots: []channel.TimeslotSnapshot{{
			Timeslot:    0,
			State:       state,
			Squelch:     logic.Squelch,
			Identifiers: []identifier.Identifier{identifier.System("Metro")},
		}},
	}
}

func TestNewTracker(t *testing.T) {
	cfg := Config{HeartbeatMs: 100, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg, nil)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.HeartbeatMs != 100 {
		t.Errorf("Config.HeartbeatMs: got %d, want 100", snap.Config.HeartbeatMs)
	}
	if snap.Config.HTTPPort != ":80" {
		t.Errorf("Config.HTTPPort: got %q, want %q", snap.Config.HTTPPort, ":80")
	}
	if len(snap.Channels) != 0 {
		t.Error("expected no channels initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(start, Config{}, nil)

	tr.Update([]channel.Snapshot{controlChannel(logic.StateControl)}, []string{"0-1-17"})

	snap := tr.Snapshot()
	c, ok := snap.Channel("control-1")
	if !ok {
		t.Fatal("expected control-1 in snapshot")
	}
	if c.Timeslots[0].State != logic.StateControl {
		t.Errorf("state: got %q, want CONTROL", c.Timeslots[0].State)
	}
	if len(snap.TrafficInUse) != 1 || snap.TrafficInUse[0] != "0-1-17" {
		t.Errorf("TrafficInUse: got %v", snap.TrafficInUse)
	}
	if _, ok := snap.Channel("missing"); ok {
		t.Error("unexpected channel")
	}
}

func TestCounts(t *testing.T) {
	tr := NewTracker(start, Config{}, nil)

	tr.RecordTransition(channel.StateChange{Channel: "control-1", To: logic.StateCall})
	tr.RecordSquelch(logic.SquelchEvent{State: logic.Unsquelch})
	tr.RecordSquelch(logic.SquelchEvent{State: logic.Squelch})
	tr.RecordChannelEvent(logic.ChannelEvent{Kind: logic.ChannelRequestDisable})
	tr.RecordChannelEvent(logic.ChannelEvent{Kind: logic.ChannelProcessingStop})
	tr.RecordAllocation(false)
	tr.RecordAllocation(true)
	tr.RecordAllocation(true)
	tr.RecordHeartbeatError()

	want := Counts{Transitions: 1, Unsquelches: 1, DisableRequests: 1, Allocations: 1, Rejections: 2, HeartbeatErrors: 1}
	if got := tr.Snapshot().Counts; got != want {
		t.Errorf("counts: got %+v, want %+v", got, want)
	}
}

func TestRecentIsBounded(t *testing.T) {
	tr := NewTracker(start, Config{}, nil)
	for i := 0; i < RecentLimit+5; i++ {
		tr.RecordTransition(channel.StateChange{Timeslot: i})
	}

	recent := tr.Snapshot().Recent
	if len(recent) != RecentLimit {
		t.Fatalf("expected %d recent changes, got %d", RecentLimit, len(recent))
	}
	if recent[0].Timeslot != 5 || recent[RecentLimit-1].Timeslot != RecentLimit+4 {
		t.Errorf("expected the newest changes, got %d..%d", recent[0].Timeslot, recent[RecentLimit-1].Timeslot)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(start, Config{}, nil)

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowUsesClock(t *testing.T) {
	now := start.Add(time.Hour)
	tr := NewTracker(start, Config{}, fixedClock(now))

	if got := tr.Snapshot().Now; !got.Equal(now) {
		t.Errorf("Now: got %v, want %v", got, now)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(start, Config{}, nil)
	tr.Update([]channel.Snapshot{controlChannel(logic.StateIdle)}, nil)
	tr.RecordTransition(channel.StateChange{To: logic.StateCall})

	snap1 := tr.Snapshot()
	snap1.Channels[0].Name = "changed"
	snap1.Recent[0].To = logic.StateFade

	tr.Update([]channel.Snapshot{controlChannel(logic.StateCall)}, nil)

	if snap1.Channels[0].Timeslots[0].State != logic.StateIdle {
		t.Error("snapshot should be a copy; state was modified")
	}
	snap2 := tr.Snapshot()
	if snap2.Channels[0].Name != "control-1" {
		t.Error("modifying a snapshot must not touch the tracker")
	}
	if snap2.Recent[0].To != logic.StateCall {
		t.Error("modifying recent changes must not touch the tracker")
	}
}

func TestFormatJSON(t *testing.T) {
	snap := Snapshot{
		Channels:      []channel.Snapshot{controlChannel(logic.StateCall)},
		TrafficInUse:  []string{"0-1-17"},
		Counts:        Counts{Transitions: 5, Unsquelches: 2},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{HeartbeatMs: 500, Broker: "tcp://localhost:1883", HTTPPort: ":80", TrafficPoolSize: 3},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Counts.Transitions != 5 {
		t.Errorf("Counts.Transitions: got %d, want 5", parsed.Status.Counts.Transitions)
	}
	if len(parsed.Status.Channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(parsed.Status.Channels))
	}
	ts := parsed.Status.Channels[0].Timeslots[0]
	if ts.State != "CALL" || ts.Squelch != "SQUELCH" {
		t.Errorf("timeslot: got %+v", ts)
	}
	if len(ts.Identifiers) != 1 || ts.Identifiers[0].Value != "Metro" {
		t.Errorf("identifiers: got %+v", ts.Identifiers)
	}
	if parsed.Status.Traffic.PoolSize != 3 || len(parsed.Status.Traffic.InUse) != 1 {
		t.Errorf("traffic: got %+v", parsed.Status.Traffic)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONEmptyListsAreArrays(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start.Add(time.Second)}

	var raw map[string]interface{}
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]interface{})
	if _, ok := status["channels"].([]interface{}); !ok {
		t.Errorf("channels should be an empty array, got %v", status["channels"])
	}
	traffic := status["traffic"].(map[string]interface{})
	if _, ok := traffic["in_use"].([]interface{}); !ok {
		t.Errorf("in_use should be an empty array, got %v", traffic["in_use"])
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{
		Channels:  []channel.Snapshot{controlChannel(logic.StateIdle)},
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.Channels[0].Timeslots[0].State != "IDLE" {
		t.Errorf("state: got %q", parsed.Status.Channels[0].Timeslots[0].State)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(time.Second),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	// Verify "reason" is not in the raw JSON output
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(start, Config{}, nil)
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update([]channel.Snapshot{controlChannel(logic.StateCall)}, nil)
			tr.RecordTransition(channel.StateChange{To: logic.StateCall})
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
