package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

// DefaultBufferSize is the number of messages kept while disconnected.
const DefaultBufferSize = 1000

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	BufferSize  int
	Logger      *log.Logger
	Now         func() time.Time
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect. Publishing
// waits for the broker, so channel listeners go through a Queue.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	buffer    *outbox
	handler   Handler
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is retried in the background; until it comes up messages are buffered.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, errors.New("no broker configured")
	}
	if o.ClientID == "" {
		o.ClientID = "trunk-monitor"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	logger := o.Logger.WithPrefix("mqtt")
	p := &RealPublisher{
		topics: NewTopics(o.TopicPrefix),
		log:    logger,
		now:    o.Now,
		buffer: newOutbox(o.BufferSize, logger),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: o.Now(), Event: "LWT", Reason: "CONNECTION_LOST"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetKeepAlive(60*time.Second).
		SetBinaryWill(p.topics.System(), will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.mu.Lock()
			p.connected = false
			p.mu.Unlock()
			p.log.Warn("connection lost", "err", err)
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.Warn("broker not reachable yet, buffering", "broker", o.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending, dropped := p.buffer.drain()
	h := p.handler
	p.mu.Unlock()

	p.log.Info("connected", "replaying", len(pending), "dropped", dropped)
	if h != nil {
		p.subscribe(client, h)
	}
	for _, msg := range pending {
		client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
	if reconnect {
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err == nil {
			client.Publish(p.topics.System(), 1, true, payload)
		}
	}
}

// Subscribe delivers inbound decoder and source events to h. Subscriptions
// are renewed on every reconnect.
func (p *RealPublisher) Subscribe(h Handler) {
	p.mu.Lock()
	p.handler = h
	connected := p.connected
	p.mu.Unlock()

	if connected {
		p.subscribe(p.client, h)
	}
}

func (p *RealPublisher) subscribe(client paho.Client, h Handler) {
	callback := func(_ paho.Client, msg paho.Message) {
		if err := p.topics.Dispatch(h, msg.Topic(), msg.Payload()); err != nil {
			p.log.Warn("dropping inbound message", "topic", msg.Topic(), "err", err)
		}
	}
	filters := map[string]byte{
		p.topics.DecoderWildcard(): 1,
		p.topics.SourceWildcard():  0,
	}
	// Runs inside paho's connect callback, so never wait for the token.
	go func() {
		token := client.SubscribeMultiple(filters, callback)
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			p.log.Error("subscribe failed", "err", token.Error())
		}
	}()
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishState sends a timeslot state change.
func (p *RealPublisher) PublishState(c channel.StateChange) error {
	payload, err := FormatStatePayload(c)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.publish(p.topics.State(c.Channel), 1, true, payload)
}

// PublishSquelch sends a squelch edge.
func (p *RealPublisher) PublishSquelch(ch string, e logic.SquelchEvent, at time.Time) error {
	payload, err := FormatSquelchPayload(ch, e, at)
	if err != nil {
		return fmt.Errorf("format squelch payload: %w", err)
	}
	return p.publish(p.topics.Squelch(ch), 0, false, payload)
}

// PublishChannelEvent sends a channel lifecycle event.
func (p *RealPublisher) PublishChannelEvent(e logic.ChannelEvent, at time.Time) error {
	payload, err := FormatChannelEventPayload(e, at)
	if err != nil {
		return fmt.Errorf("format channel event payload: %w", err)
	}
	return p.publish(p.topics.ChannelEvents(), 1, false, payload)
}

// PublishDecoderEvent sends an event to a channel's decoders.
func (p *RealPublisher) PublishDecoderEvent(ch string, e logic.DecoderStateEvent) error {
	payload, err := FormatDecoderEventPayload(e)
	if err != nil {
		return fmt.Errorf("format decoder payload: %w", err)
	}
	return p.publish(p.topics.DecoderOut(ch), 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once): shutdown events must be delivered.
	return p.publish(p.topics.System(), 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
