package main

import (
	"encoding/json"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/config"
	"github.com/sweeney/trunk-monitor/internal/gpio"
	"github.com/sweeney/trunk-monitor/internal/heartbeat"
	"github.com/sweeney/trunk-monitor/internal/identifier"
	"github.com/sweeney/trunk-monitor/internal/logic"
	"github.com/sweeney/trunk-monitor/internal/metrics"
	"github.com/sweeney/trunk-monitor/internal/mqtt"
	"github.com/sweeney/trunk-monitor/internal/status"
	"github.com/sweeney/trunk-monitor/internal/traffic"
	"github.com/sweeney/trunk-monitor/internal/web"
)

// deps are the outputs a daemon drives. Indicator and Live may be nil.
type deps struct {
	Publisher  mqtt.Publisher
	MQTTStatus mqtt.ConnectionStatus
	Tracker    *status.Tracker
	Metrics    *metrics.Metrics
	Indicator  *gpio.Indicator
	Live       *web.Hub
	Logger     *log.Logger
	Now        logic.Clock
}

// daemon owns the channels and routes events between them and the outside
// world. Inbound MQTT events arrive on paho's goroutine; ticks and signals
// arrive on the run loop.
type daemon struct {
	cfg *config.Config
	deps
	log *log.Logger

	heartbeat *heartbeat.Receiver
	traffic   *traffic.Manager
	channels  map[string]channel.Channel
	order     []string

	lastStatus time.Time
}

func newDaemon(cfg *config.Config, d deps) *daemon {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	dm := &daemon{
		cfg:       cfg,
		deps:      d,
		log:       d.Logger,
		heartbeat: heartbeat.New(d.Logger),
		channels:  make(map[string]channel.Channel),
	}

	dm.heartbeat.OnError = func(name string, err error) {
		dm.Tracker.RecordHeartbeatError()
		dm.Metrics.HeartbeatError(name, err)
	}
	dm.heartbeat.OnTick = dm.Metrics.Heartbeat

	listeners := dm.listeners()
	for _, cc := range cfg.Channels {
		ch := newChannel(cfg.ChannelConfig(cc), d.Logger, d.Now)
		ch.SetListeners(listeners)
		dm.channels[cc.Name] = ch
		dm.order = append(dm.order, cc.Name)
		dm.heartbeat.Add(cc.Name, ch)
	}

	dm.traffic = traffic.NewManager(cfg.TrafficConfig(), listeners, dm.heartbeat, d.Logger, d.Now)
	dm.traffic.OnAllocation = func(a traffic.Allocation) {
		dm.Tracker.RecordAllocation(a.Rejected != "")
		dm.Metrics.Allocation(a.Rejected)
		dm.broadcast("allocation", a)
	}
	dm.traffic.OnPoolChange = dm.Metrics.TrafficPool
	return dm
}

func newChannel(cfg channel.Config, logger *log.Logger, now logic.Clock) channel.Channel {
	if cfg.Timeslots > 1 {
		return channel.NewMulti(cfg, logger, now)
	}
	return channel.NewSingle(cfg, logger, now)
}

// listeners fans channel output out to every consumer. They run under the
// emitting channel's lock, so none of them may call back into a channel.
func (d *daemon) listeners() channel.Listeners {
	return channel.Listeners{
		StateChanged: func(c channel.StateChange) {
			d.log.Debug("state", "channel", c.Channel, "timeslot", c.Timeslot, "from", c.From, "to", c.To)
			d.Tracker.RecordTransition(c)
			d.Metrics.StateChanged(c)
			d.publishErr("state", d.Publisher.PublishState(c))
			if payload, err := mqtt.FormatStatePayload(c); err == nil {
				d.broadcast("state", json.RawMessage(payload))
			}
		},
		Squelch: func(ch string, e logic.SquelchEvent) {
			at := d.Now()
			d.Tracker.RecordSquelch(e)
			d.Metrics.SquelchChanged(ch, e)
			if d.Indicator != nil {
				if err := d.Indicator.SquelchChanged(ch, e); err != nil {
					d.log.Error("squelch line", "channel", ch, "err", err)
				}
			}
			d.publishErr("squelch", d.Publisher.PublishSquelch(ch, e, at))
			if payload, err := mqtt.FormatSquelchPayload(ch, e, at); err == nil {
				d.broadcast("squelch", json.RawMessage(payload))
			}
		},
		ChannelEvent: func(e logic.ChannelEvent) {
			d.log.Info("channel event", "channel", e.Channel, "event", e.Kind)
			d.Tracker.RecordChannelEvent(e)
			d.Metrics.ChannelEvent(e)
			d.publishErr("channel event", d.Publisher.PublishChannelEvent(e, d.Now()))
			d.broadcast("channel", e)
		},
		DecoderState: func(ch string, e logic.DecoderStateEvent) {
			d.publishErr("decoder event", d.Publisher.PublishDecoderEvent(ch, e))
		},
		IdentifierUpdate: func(n identifier.Notification) {
			d.log.Debug("identifier", "channel", n.Channel, "timeslot", n.Timeslot, "op", n.Operation, "id", n.Identifier)
		},
		SourceEvent: func(ch string, e logic.SourceEvent) {
			d.log.Debug("source event", "channel", ch, "kind", e.Kind, "value", e.Value, "label", e.Label)
		},
	}
}

func (d *daemon) publishErr(what string, err error) {
	if err == nil {
		return
	}
	// Don't crash on publish failure
	d.log.Warn("publish failed", "what", what, "err", err)
	d.Metrics.PublishError()
}

func (d *daemon) broadcast(kind string, v any) {
	if d.Live != nil {
		d.Live.Broadcast(kind, v)
	}
}

// channel looks up a configured channel or a traffic pool channel that is
// carrying a call. Late events for released pool channels are dropped.
func (d *daemon) channel(name string) (channel.Channel, bool) {
	if ch, ok := d.channels[name]; ok {
		return ch, true
	}
	return d.traffic.Active(name)
}

// HandleDecoderEvent routes an inbound decoder event. Traffic channel grants
// go to the traffic manager; everything else to the named channel.
func (d *daemon) HandleDecoderEvent(name string, e logic.DecoderStateEvent) {
	if e.Kind == logic.EventTrafficChannelAllocation {
		if _, err := d.traffic.Allocate(e); errors.Is(err, traffic.ErrDuplicate) {
			d.log.Debug("duplicate traffic allocation", "from", name, "number", e.ChannelNumber)
		}
		return
	}
	ch, ok := d.channel(name)
	if !ok {
		d.log.Debug("decoder event for unknown channel", "channel", name, "kind", e.Kind)
		return
	}
	ch.ReceiveDecoderStateEvent(e)
}

// HandleSourceEvent routes an inbound tuner source event.
func (d *daemon) HandleSourceEvent(name string, e logic.SourceEvent) {
	ch, ok := d.channel(name)
	if !ok {
		d.log.Debug("source event for unknown channel", "channel", name, "kind", e.Kind)
		return
	}
	ch.ReceiveSourceEvent(e)
}

// start starts every configured channel and applies squelch locks.
func (d *daemon) start() {
	d.lastStatus = d.Now()
	for _, cc := range d.cfg.Channels {
		ch := d.channels[cc.Name]
		ch.Start()
		if !cc.AlwaysUnsquelch {
			continue
		}
		for ts := 0; ts < ch.Timeslots(); ts++ {
			ch.ReceiveDecoderStateEvent(logic.DecoderStateEvent{
				Kind:     logic.EventAlwaysUnsquelch,
				Timeslot: ts,
			})
		}
	}
	d.refreshStatus()
	d.log.Info("channels started", "channels", len(d.order), "traffic_pool", d.cfg.Traffic.PoolSize)
}

// tick runs one heartbeat: timeouts, released traffic channels, status.
func (d *daemon) tick() {
	d.heartbeat.Beat()
	// Release traffic channels torn down by this beat before taking the snapshot.
	d.traffic.Drain()
	d.refreshStatus()

	if d.cfg.StatusInterval <= 0 {
		return
	}
	t := d.Now()
	if t.Sub(d.lastStatus) < d.cfg.StatusInterval {
		return
	}
	d.lastStatus = t

	snap := d.Tracker.Snapshot()
	d.log.Info("heartbeat", "uptime", snap.Uptime().Truncate(time.Second), "transitions", snap.Counts.Transitions, "traffic_in_use", len(snap.TrafficInUse))
	event := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := d.Publisher.PublishSystem(event); err != nil {
		d.log.Warn("heartbeat publish error", "err", err)
	}
}

func (d *daemon) refreshStatus() {
	snaps := make([]channel.Snapshot, 0, len(d.order))
	for _, name := range d.order {
		snaps = append(snaps, d.channels[name].Snapshot())
	}
	for _, ch := range d.traffic.Channels() {
		snaps = append(snaps, ch.Snapshot())
	}
	d.Tracker.Update(snaps, d.traffic.InUse())
	if d.MQTTStatus != nil {
		d.Tracker.SetMQTTConnected(d.MQTTStatus.IsConnected())
	}
}

// shutdown stops every channel and publishes SHUTDOWN.
func (d *daemon) shutdown(s os.Signal) {
	d.log.Info("shutting down", "signal", s)
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}

	d.traffic.Stop()
	for _, name := range d.order {
		d.channels[name].Stop()
	}
	d.refreshStatus()

	snap := d.Tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  d.Now(),
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
	}
	if err := d.Publisher.PublishSystem(event); err != nil {
		d.log.Warn("failed to publish shutdown event", "err", err)
	} else {
		d.log.Info("published shutdown event")
	}
}

// runLoop drives heartbeats until a signal arrives.
func (d *daemon) runLoop(tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.shutdown(s)
			return nil
		case <-tick:
			d.tick()
		}
	}
}
