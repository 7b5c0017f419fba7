// Package metrics exposes channel activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

const namespace = "trunk_monitor"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	state           *prometheus.GaugeVec
	squelchEdges    *prometheus.CounterVec
	channelEvents   *prometheus.CounterVec
	heartbeatErrors *prometheus.CounterVec
	heartbeatTicks  prometheus.Counter
	allocations     *prometheus.CounterVec
	trafficInUse    prometheus.Gauge
	trafficPool     prometheus.Gauge
	publishErrors   prometheus.Counter
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Applied channel state transitions by target state",
			},
			[]string{"channel", "timeslot", "state"},
		),
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "timeslot_state",
				Help:      "1 for the current state of each channel timeslot, 0 otherwise",
			},
			[]string{"channel", "timeslot", "state"},
		),
		squelchEdges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "squelch_edges_total",
				Help:      "Squelch gate changes by new gate position",
			},
			[]string{"channel", "timeslot", "squelch"},
		),
		channelEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_events_total",
				Help:      "Channel lifecycle requests and notifications",
			},
			[]string{"channel", "event"},
		),
		heartbeatErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_errors_total",
				Help:      "Timeout checks that failed",
			},
			[]string{"target"},
		),
		heartbeatTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat ticks processed",
		}),
		allocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traffic_allocations_total",
				Help:      "Traffic channel requests by result",
			},
			[]string{"result"},
		),
		trafficInUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "traffic_channels_in_use",
			Help:      "Traffic channels currently following a call",
		}),
		trafficPool: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "traffic_channels_pooled",
			Help:      "Traffic channels created so far",
		}),
		publishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "MQTT publish failures",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StateChanged records a transition and moves the state gauge.
func (m *Metrics) StateChanged(c channel.StateChange) {
	ts := strconv.Itoa(c.Timeslot)
	m.transitions.WithLabelValues(c.Channel, ts, string(c.To)).Inc()
	for _, s := range logic.AllStates {
		v := 0.0
		if s == c.To {
			v = 1
		}
		m.state.WithLabelValues(c.Channel, ts, string(s)).Set(v)
	}
}

// SquelchChanged records a squelch edge.
func (m *Metrics) SquelchChanged(ch string, e logic.SquelchEvent) {
	m.squelchEdges.WithLabelValues(ch, strconv.Itoa(e.Timeslot), string(e.State)).Inc()
}

// ChannelEvent records a lifecycle event.
func (m *Metrics) ChannelEvent(e logic.ChannelEvent) {
	m.channelEvents.WithLabelValues(e.Channel, string(e.Kind)).Inc()
}

// HeartbeatError records a failed timeout check.
func (m *Metrics) HeartbeatError(target string, _ error) {
	m.heartbeatErrors.WithLabelValues(target).Inc()
}

// Heartbeat records a processed tick.
func (m *Metrics) Heartbeat(int) {
	m.heartbeatTicks.Inc()
}

// Allocation records the result of a traffic channel request. An empty
// reason means the request succeeded.
func (m *Metrics) Allocation(reason string) {
	if reason == "" {
		reason = "allocated"
	}
	m.allocations.WithLabelValues(reason).Inc()
}

// TrafficPool records traffic channel usage.
func (m *Metrics) TrafficPool(inUse, size int) {
	m.trafficInUse.Set(float64(inUse))
	m.trafficPool.Set(float64(size))
}

// PublishError records a failed MQTT publish.
func (m *Metrics) PublishError() {
	m.publishErrors.Inc()
}
