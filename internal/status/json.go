package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/trunk-monitor/internal/identifier"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Channels      []ChannelJSON `json:"channels"`
	Traffic       TrafficJSON   `json:"traffic"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Transitions     int `json:"transitions"`
	Unsquelches     int `json:"unsquelches"`
	DisableRequests int `json:"disable_requests"`
	Allocations     int `json:"traffic_allocations"`
	Rejections      int `json:"traffic_rejections"`
	HeartbeatErrors int `json:"heartbeat_errors"`
}

// ChannelJSON is the JSON representation of a channel.
type ChannelJSON struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Processing bool           `json:"processing"`
	Overflow   bool           `json:"overflow,omitempty"`
	Timeslots  []TimeslotJSON `json:"timeslots"`
}

// TimeslotJSON is the JSON representation of a channel timeslot.
type TimeslotJSON struct {
	Timeslot      int                     `json:"timeslot"`
	State         string                  `json:"state"`
	Squelch       string                  `json:"squelch"`
	SquelchLocked bool                    `json:"squelch_locked,omitempty"`
	Identifiers   []identifier.Identifier `json:"identifiers"`
}

// TrafficJSON reports traffic channel usage.
type TrafficJSON struct {
	PoolSize int      `json:"pool_size"`
	InUse    []string `json:"in_use"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HeartbeatMs    int64  `json:"heartbeat_ms"`
	StandardFadeMs int64  `json:"standard_fade_ms"`
	TrafficFadeMs  int64  `json:"traffic_fade_ms"`
	ResetMs        int64  `json:"reset_ms"`
	Broker         string `json:"broker"`
	TopicPrefix    string `json:"topic_prefix"`
	HTTPPort       string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Transitions:     snap.Counts.Transitions,
			Unsquelches:     snap.Counts.Unsquelches,
			DisableRequests: snap.Counts.DisableRequests,
			Allocations:     snap.Counts.Allocations,
			Rejections:      snap.Counts.Rejections,
			HeartbeatErrors: snap.Counts.HeartbeatErrors,
		},
		Channels: []ChannelJSON{},
		Traffic: TrafficJSON{
			PoolSize: snap.Config.TrafficPoolSize,
			InUse:    append([]string{}, snap.TrafficInUse...),
		},
		Config: ConfigJSON{
			HeartbeatMs:    snap.Config.HeartbeatMs,
			StandardFadeMs: snap.Config.StandardFadeMs,
			TrafficFadeMs:  snap.Config.TrafficFadeMs,
			ResetMs:        snap.Config.ResetMs,
			Broker:         snap.Config.Broker,
			TopicPrefix:    snap.Config.TopicPrefix,
			HTTPPort:       snap.Config.HTTPPort,
		},
	}

	for _, c := range snap.Channels {
		ch := ChannelJSON{
			Name:       c.Name,
			Type:       string(c.Type),
			Processing: c.Processing,
			Overflow:   c.Overflow,
			Timeslots:  []TimeslotJSON{},
		}
		for _, ts := range c.Timeslots {
			ch.Timeslots = append(ch.Timeslots, TimeslotJSON{
				Timeslot:      ts.Timeslot,
				State:         string(ts.State),
				Squelch:       string(ts.Squelch),
				SquelchLocked: ts.SquelchLocked,
				Identifiers:   append([]identifier.Identifier{}, ts.Identifiers...),
			})
		}
		inner.Channels = append(inner.Channels, ch)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
