// Command trunk-monitor follows the channel state of a trunked radio system.
// Decoder and tuner events arrive over MQTT; channel state, squelch and
// lifecycle events are published back, served over HTTP and driven onto GPIO
// squelch lines.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/trunk-monitor/internal/config"
	"github.com/sweeney/trunk-monitor/internal/gpio"
	"github.com/sweeney/trunk-monitor/internal/logic"
	"github.com/sweeney/trunk-monitor/internal/metrics"
	"github.com/sweeney/trunk-monitor/internal/mqtt"
	"github.com/sweeney/trunk-monitor/internal/status"
	"github.com/sweeney/trunk-monitor/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds the command line. Flags that were set override the
// configuration file.
type options struct {
	configPath string
	logLevel   string
	broker     string
	httpAddr   string
	heartbeat  time.Duration
	noGPIO     bool
}

func newRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:   "trunk-monitor",
		Short: "Trunked radio channel state monitor",
		Long: `trunk-monitor tracks the state of every configured channel of a trunked
radio system from decoder events published on MQTT.

Channel state changes, squelch edges and lifecycle requests are published back
to MQTT, shown on the HTTP status page and streamed to websocket clients.
Traffic channel grants from control channels are followed with a bounded pool
of traffic channels.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "trunk-monitor.yaml", "Configuration file")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(o), newStatesCmd(), newCheckConfigCmd(o))
	return root
}

func newRunCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o, cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Level())
			if err := run(cfg, o, logger); err != nil {
				logger.Error("fatal", "err", err)
				return err
			}
			return nil
		},
	}
	addOverrideFlags(cmd.Flags(), o)
	return cmd
}

func newStatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "states",
		Short: "Print the channel state transition table",
		RunE: func(cmd *cobra.Command, args []string) error {
			printStates(cmd.OutOrStdout())
			return nil
		},
	}
}

func newCheckConfigCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o, cmd.Flags())
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
	addOverrideFlags(cmd.Flags(), o)
	return cmd
}

func addOverrideFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVar(&o.broker, "broker", "", "MQTT broker address")
	fs.StringVar(&o.httpAddr, "http", "", `HTTP status address ("off" disables)`)
	fs.DurationVar(&o.heartbeat, "heartbeat", 0, "Timeout check interval")
	fs.BoolVar(&o.noGPIO, "no-gpio", false, "Don't drive squelch GPIO lines")
}

// loadConfig reads the configuration file, applies flags that were set and
// validates the result.
func loadConfig(o *options, fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Read(o.configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, o, fs)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", o.configPath, err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, o *options, fs *pflag.FlagSet) {
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if fs.Changed("broker") {
		cfg.MQTT.Broker = o.broker
	}
	if fs.Changed("http") {
		cfg.HTTP = o.httpAddr
		if o.httpAddr == "off" {
			cfg.HTTP = ""
		}
	}
	if fs.Changed("heartbeat") {
		cfg.Heartbeat = o.heartbeat
	}
}

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.StampMilli,
		Level:           level,
		Prefix:          "trunk-monitor",
	})
}

func printStates(w io.Writer) {
	for _, s := range logic.AllStates {
		next := s.Successors()
		names := make([]string, 0, len(next))
		for _, n := range next {
			names = append(names, string(n))
		}
		kind := ""
		switch {
		case s.IsCallState():
			kind = "call"
		case s.IsIdleState():
			kind = "idle"
		}
		fmt.Fprintf(w, "%-10s %-5s -> %s\n", s, kind, strings.Join(names, ", "))
	}
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "broker:     %s (prefix %s)\n", cfg.MQTT.Broker, cfg.MQTT.TopicPrefix)
	addr := cfg.HTTP
	if addr == "" {
		addr = "disabled"
	}
	fmt.Fprintf(w, "http:       %s\n", addr)
	fmt.Fprintf(w, "heartbeat:  %v\n", cfg.Heartbeat)
	fmt.Fprintf(w, "timeouts:   standard %v, traffic %v, reset %v\n",
		cfg.Timeouts.StandardFade, cfg.Timeouts.TrafficFade, cfg.Timeouts.Reset)
	fmt.Fprintf(w, "traffic:    pool %d, %d timeslot(s)\n", cfg.Traffic.PoolSize, cfg.Traffic.Timeslots)
	fmt.Fprintf(w, "channels:   %d\n", len(cfg.Channels))
	for _, ch := range cfg.Channels {
		line := ""
		if ch.SquelchGPIOLine != nil {
			line = fmt.Sprintf(" gpio=%d", *ch.SquelchGPIOLine)
		}
		lock := ""
		if ch.AlwaysUnsquelch {
			lock = " always-unsquelch"
		}
		fmt.Fprintf(w, "  %-12s %-8s timeslots=%d%s%s\n", ch.Name, ch.Type, ch.Timeslots, line, lock)
	}
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		HeartbeatMs:     cfg.Heartbeat.Milliseconds(),
		StandardFadeMs:  cfg.Timeouts.StandardFade.Milliseconds(),
		TrafficFadeMs:   cfg.Timeouts.TrafficFade.Milliseconds(),
		ResetMs:         cfg.Timeouts.Reset.Milliseconds(),
		Broker:          cfg.MQTT.Broker,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		HTTPPort:        cfg.HTTP,
		TrafficPoolSize: cfg.Traffic.PoolSize,
	}
}

func run(cfg *config.Config, o *options, logger *log.Logger) error {
	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		BufferSize:  cfg.MQTT.BufferSize,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Channel output is queued; only the run loop waits on the broker.
	queue := mqtt.NewQueue(publisher, cfg.MQTT.BufferSize, logger)

	// Initialize squelch lines
	var indicator *gpio.Indicator
	if lines := cfg.SquelchLines(); len(lines) > 0 && !o.noGPIO {
		offsets := make([]int, 0, len(lines))
		for _, offset := range lines {
			offsets = append(offsets, offset)
		}
		sort.Ints(offsets)
		writer, err := gpio.NewRealWriter(cfg.GPIO.Chip, offsets)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer writer.Close()
		indicator = gpio.NewIndicator(writer, lines)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg), time.Now)
	m := metrics.New()
	hub := web.NewHub(logger)
	defer hub.Close()

	d := newDaemon(cfg, deps{
		Publisher:  queue,
		MQTTStatus: publisher,
		Tracker:    tracker,
		Metrics:    m,
		Indicator:  indicator,
		Live:       hub,
		Logger:     logger,
		Now:        time.Now,
	})
	queue.OnError = d.publishErr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)
	go d.traffic.Run(ctx)

	d.start()
	publisher.Subscribe(d)

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := queue.PublishSystem(startupEvent); err != nil {
		logger.Warn("failed to publish startup event", "err", err)
	} else {
		logger.Info("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, web.Options{Metrics: m.Handler(), Live: hub})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP)
	}

	logger.Info("started", "broker", cfg.MQTT.Broker, "heartbeat", cfg.Heartbeat, "channels", len(cfg.Channels))

	ticker := time.NewTicker(cfg.Heartbeat)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(ticker.C, sigCh)
}
