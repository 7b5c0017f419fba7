// Package config loads the trunk-monitor YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/gpio"
	"github.com/sweeney/trunk-monitor/internal/logic"
	"github.com/sweeney/trunk-monitor/internal/mqtt"
	"github.com/sweeney/trunk-monitor/internal/traffic"
)

// Validation errors.
var (
	ErrNoChannels       = errors.New("no channels configured")
	ErrChannelName      = errors.New("channel name is empty")
	ErrDuplicateChannel = errors.New("duplicate channel name")
	ErrReservedName     = errors.New("channel name is reserved for the traffic pool")
	ErrChannelType      = errors.New("invalid channel type")
	ErrTimeslots        = errors.New("invalid timeslot count")
	ErrTimeout          = errors.New("timeout must be positive")
	ErrLogLevel         = errors.New("invalid log level")
	ErrBroker           = errors.New("mqtt broker is empty")
	ErrPoolSize         = errors.New("traffic pool size must be positive")
	ErrGPIOLine         = errors.New("invalid squelch gpio line")
)

const (
	// DefaultHeartbeat is the interval between timeout checks.
	DefaultHeartbeat = 250 * time.Millisecond
	// DefaultStatusInterval is the interval between HEARTBEAT system events.
	DefaultStatusInterval = 15 * time.Minute
)

// Config is the daemon configuration.
type Config struct {
	MQTT      MQTT          `yaml:"mqtt"`
	HTTP      string        `yaml:"http"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	// StatusInterval is the HEARTBEAT system event period. Negative disables.
	StatusInterval time.Duration `yaml:"status_interval"`
	LogLevel       string        `yaml:"log_level"`
	Timeouts       Timeouts      `yaml:"timeouts"`
	GPIO           GPIO          `yaml:"gpio"`
	Channels       []Channel     `yaml:"channels"`
	Traffic        Traffic       `yaml:"traffic"`
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
}

// Timeouts are the fade and reset durations shared by every channel.
type Timeouts struct {
	StandardFade time.Duration `yaml:"standard_fade"`
	TrafficFade  time.Duration `yaml:"traffic_fade"`
	Reset        time.Duration `yaml:"reset"`
}

// GPIO configures the squelch output lines.
type GPIO struct {
	Chip string `yaml:"chip"`
}

// Channel is one statically configured channel.
type Channel struct {
	Name            string `yaml:"name"`
	System          string `yaml:"system"`
	Site            string `yaml:"site"`
	AliasList       string `yaml:"alias_list"`
	Decoder         string `yaml:"decoder"`
	Frequency       int64  `yaml:"frequency"`
	Type            string `yaml:"type"`
	Timeslots       int    `yaml:"timeslots"`
	AlwaysUnsquelch bool   `yaml:"always_unsquelch"`
	SquelchGPIOLine *int   `yaml:"squelch_gpio_line"`
}

// Traffic is the template for allocated traffic channels.
type Traffic struct {
	PoolSize  int    `yaml:"pool_size"`
	Timeslots int    `yaml:"timeslots"`
	Decoder   string `yaml:"decoder"`
	System    string `yaml:"system"`
	Site      string `yaml:"site"`
	AliasList string `yaml:"alias_list"`
}

// Default returns a configuration with every default applied and no channels.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	c, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Read reads the configuration file at path and applies defaults without
// validating, so callers can apply overrides first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decode(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "trunk-monitor"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = mqtt.DefaultTopicPrefix
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = mqtt.DefaultBufferSize
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timeouts.StandardFade == 0 {
		c.Timeouts.StandardFade = logic.DefaultFadeTimeout
	}
	if c.Timeouts.TrafficFade == 0 {
		c.Timeouts.TrafficFade = logic.DefaultTrafficCallTimeout
	}
	if c.Timeouts.Reset == 0 {
		c.Timeouts.Reset = logic.DefaultResetTimeout
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = gpio.DefaultChip
	}
	if c.Traffic.PoolSize == 0 {
		c.Traffic.PoolSize = traffic.DefaultPoolSize
	}
	if c.Traffic.Timeslots == 0 {
		c.Traffic.Timeslots = 1
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Type == "" {
			ch.Type = string(logic.ChannelStandard)
		}
		if ch.Timeslots == 0 {
			ch.Timeslots = 1
		}
	}
}

// Validate checks the configuration. Defaults must already be applied.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return ErrBroker
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevel, c.LogLevel)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat: %w", ErrTimeout)
	}
	if c.Timeouts.StandardFade <= 0 || c.Timeouts.TrafficFade <= 0 || c.Timeouts.Reset <= 0 {
		return fmt.Errorf("timeouts: %w", ErrTimeout)
	}
	if c.Traffic.PoolSize < 0 {
		return ErrPoolSize
	}
	if c.Traffic.Timeslots < 1 {
		return fmt.Errorf("traffic: %w: %d", ErrTimeslots, c.Traffic.Timeslots)
	}
	if len(c.Channels) == 0 {
		return ErrNoChannels
	}

	names := make(map[string]bool, len(c.Channels))
	lines := make(map[int]string)
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel %d: %w", i, ErrChannelName)
		}
		if names[ch.Name] {
			return fmt.Errorf("channel %q: %w", ch.Name, ErrDuplicateChannel)
		}
		if traffic.IsPoolName(ch.Name) {
			return fmt.Errorf("channel %q: %w", ch.Name, ErrReservedName)
		}
		names[ch.Name] = true

		switch logic.ChannelType(ch.Type) {
		case logic.ChannelStandard, logic.ChannelTraffic:
		default:
			return fmt.Errorf("channel %q: %w: %q", ch.Name, ErrChannelType, ch.Type)
		}
		if ch.Timeslots < 1 {
			return fmt.Errorf("channel %q: %w: %d", ch.Name, ErrTimeslots, ch.Timeslots)
		}
		if ch.SquelchGPIOLine != nil {
			line := *ch.SquelchGPIOLine
			if line < 0 {
				return fmt.Errorf("channel %q: %w: %d", ch.Name, ErrGPIOLine, line)
			}
			if other, ok := lines[line]; ok {
				return fmt.Errorf("channel %q: %w: line %d already used by %q", ch.Name, ErrGPIOLine, line, other)
			}
			lines[line] = ch.Name
		}
	}
	return nil
}

// Level returns the parsed log level. It falls back to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// ChannelConfig converts a configured channel into a channel.Config.
func (c *Config) ChannelConfig(ch Channel) channel.Config {
	return channel.Config{
		Name:                ch.Name,
		System:              ch.System,
		Site:                ch.Site,
		AliasList:           ch.AliasList,
		Decoder:             ch.Decoder,
		Frequency:           ch.Frequency,
		Type:                logic.ChannelType(ch.Type),
		Timeslots:           ch.Timeslots,
		StandardFadeTimeout: c.Timeouts.StandardFade,
		TrafficFadeTimeout:  c.Timeouts.TrafficFade,
		ResetTimeout:        c.Timeouts.Reset,
	}
}

// TrafficConfig returns the traffic manager configuration.
func (c *Config) TrafficConfig() traffic.Config {
	return traffic.Config{
		PoolSize: c.Traffic.PoolSize,
		Template: channel.Config{
			System:              c.Traffic.System,
			Site:                c.Traffic.Site,
			AliasList:           c.Traffic.AliasList,
			Decoder:             c.Traffic.Decoder,
			Type:                logic.ChannelTraffic,
			Timeslots:           c.Traffic.Timeslots,
			StandardFadeTimeout: c.Timeouts.StandardFade,
			TrafficFadeTimeout:  c.Timeouts.TrafficFade,
			ResetTimeout:        c.Timeouts.Reset,
		},
	}
}

// SquelchLines maps channel names to their configured GPIO line offsets.
func (c *Config) SquelchLines() map[string]int {
	lines := make(map[string]int)
	for _, ch := range c.Channels {
		if ch.SquelchGPIOLine != nil {
			lines[ch.Name] = *ch.SquelchGPIOLine
		}
	}
	return lines
}
