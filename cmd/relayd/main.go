// Command relayd drives a bank of relays from momentary buttons and an HTTP API,
// persisting relay state and the restore-on-boot flag across power cycles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/relay-controller/internal/button"
	"github.com/sweeney/relay-controller/internal/config"
	"github.com/sweeney/relay-controller/internal/control"
	"github.com/sweeney/relay-controller/internal/gpio"
	"github.com/sweeney/relay-controller/internal/mqtt"
	"github.com/sweeney/relay-controller/internal/netwait"
	"github.com/sweeney/relay-controller/internal/relay"
	"github.com/sweeney/relay-controller/internal/status"
	"github.com/sweeney/relay-controller/internal/store"
	"github.com/sweeney/relay-controller/internal/web"
)

// queueSize bounds HTTP commands waiting for the control loop.
const queueSize = 16

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	envFile := flag.String("env", ".env", "Env file with RELAYD_* overrides (ignored if missing)")
	printState := flag.Bool("print-state", false, "Print stored image and button levels, then exit")

	var overrides flagOverrides
	overrides.register(flag.CommandLine, config.Default())

	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	overrides.apply(flag.CommandLine, &cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: invalid config: %v", err)
	}

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// flagOverrides holds command-line values. Only flags the user actually set
// are applied, so they win over the file and environment without clobbering
// them with defaults.
type flagOverrides struct {
	chip        string
	poll        time.Duration
	debounce    time.Duration
	store       string
	httpAddr    string
	broker      string
	heartbeat   time.Duration
	networkWait time.Duration
}

func (o *flagOverrides) register(fs *flag.FlagSet, def config.Config) {
	fs.StringVar(&o.chip, "chip", def.Chip, "GPIO chip name")
	fs.DurationVar(&o.poll, "poll", def.Poll, "Button polling interval")
	fs.DurationVar(&o.debounce, "debounce", def.Debounce, "Button debounce window")
	fs.StringVar(&o.store, "store", def.StorePath, "Persisted image file (empty keeps state in memory)")
	fs.StringVar(&o.httpAddr, "http", def.HTTPAddr, "HTTP API address (empty to disable)")
	fs.StringVar(&o.broker, "broker", def.Broker, "MQTT broker address (empty to disable)")
	fs.DurationVar(&o.heartbeat, "heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.DurationVar(&o.networkWait, "network-wait", def.NetworkWait, "Maximum startup wait for a network link (0 waits forever)")
}

func (o *flagOverrides) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "chip":
			cfg.Chip = o.chip
		case "poll":
			cfg.Poll = o.poll
		case "debounce":
			cfg.Debounce = o.debounce
		case "store":
			cfg.StorePath = o.store
		case "http":
			cfg.HTTPAddr = o.httpAddr
		case "broker":
			cfg.Broker = o.broker
		case "heartbeat":
			cfg.Heartbeat = o.heartbeat
		case "network-wait":
			cfg.NetworkWait = o.networkWait
		}
	})
}

func run(cfg config.Config, printState bool) error {
	n := len(cfg.Channels)

	// Open persistent store
	var st store.Store
	if cfg.StorePath == "" {
		log.Printf("no store path configured, relay state will not survive a restart")
		st = store.NewMem(n)
	} else {
		f, err := store.OpenFile(cfg.StorePath, n)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer f.Close()
		st = f
	}

	img, err := st.Load()
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}

	// Initialize GPIO with outputs already at their boot levels
	bank, err := gpio.NewRealBank(cfg.Chip, cfg.RelayPins(), cfg.ButtonPins(), cfg.IndicatorPin, bootLevels(img))
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer bank.Close()

	// Print state mode
	if printState {
		levels, err := bank.ReadButtons()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("store: %s\n", img)
		for i, high := range levels {
			state := "released"
			if button.Level(high).Pressed() {
				state = "pressed"
			}
			fmt.Printf("button %d (%s): %s\n", i, cfg.Channels[i].Name, state)
		}
		return nil
	}

	// Shutdown signals are caught from here to exit, so no later startup
	// step is cut short by the default action.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	driver := relay.NewDriver(bank, n)
	surface, err := control.Boot(n, driver, st)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	if err := driver.Sync(surface.RestoreOnBoot()); err != nil {
		log.Printf("indicator write error: %v", err)
	}
	log.Printf("boot: restore=%v channels=%v", surface.RestoreOnBoot(), surface.Status().Channels)

	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		DebounceMs:  cfg.Debounce.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		StorePath:   cfg.StorePath,
		Names:       cfg.Names(),
	})
	tracker.Update(surface.Status(), surface.Counts())

	// Wait for the network only if something needs it
	if cfg.HTTPAddr != "" || cfg.Broker != "" {
		ctx, stop := signalContext(context.Background(), sigCh)
		info, waitErr := netwait.Wait(ctx, netwait.InterfaceProbe{}, cfg.NetworkRetry, cfg.NetworkWait, blinker(driver))
		stop()
		if err := driver.Sync(surface.RestoreOnBoot()); err != nil {
			log.Printf("indicator write error: %v", err)
		}
		if errors.Is(waitErr, context.Canceled) {
			log.Printf("shutdown requested while waiting for the network")
			return nil
		}
		if waitErr != nil {
			return fmt.Errorf("network: %w", waitErr)
		}
		tracker.SetNetwork(&info)
	}

	// Initialize MQTT
	var publisher mqtt.Publisher = mqtt.NopPublisher{}
	var mqttStatus mqtt.ConnectionStatus = mqtt.NopPublisher{}
	if cfg.Broker != "" {
		p := mqtt.NewRealPublisher(cfg.Broker)
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	queue := control.NewQueue(queueSize)

	// Start HTTP API server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, queue, tracker, cfg.RequestTimeout)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", cfg.HTTPAddr)
	}

	// Publish startup event with full status snapshot
	tracker.SetMQTTConnected(mqttStatus.IsConnected())
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	}

	log.Printf("started: channels=%d poll=%v debounce=%v store=%q broker=%q heartbeat=%v",
		n, cfg.Poll, cfg.Debounce, cfg.StorePath, cfg.Broker, cfg.Heartbeat)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	d := &daemon{
		bank:       bank,
		driver:     driver,
		surface:    surface,
		engine:     button.NewEngine(n, cfg.Debounce),
		queue:      queue,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		names:      cfg.Names(),
		heartbeat:  cfg.Heartbeat,
	}
	return runLoop(d, time.Now, ticker.C, sigCh)
}

// signalContext returns a context cancelled when a signal arrives on sig.
// The signal is put back on sig so the control loop still sees it.
func signalContext(parent context.Context, sig chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case s := <-sig:
			select {
			case sig <- s:
			default:
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// blinker drives the indicator for the network wait.
func blinker(driver *relay.Driver) func(bool) {
	return func(on bool) {
		if err := driver.Sync(on); err != nil {
			log.Printf("indicator write error: %v", err)
		}
	}
}

// bootLevels returns the raw relay line levels matching what Boot will
// restore from img, so outputs are requested at their final level.
func bootLevels(img store.Image) []bool {
	levels := make([]bool, len(img.Channels))
	for i, on := range img.Channels {
		levels[i] = relay.LineLevel(img.RestoreOnBoot && on)
	}
	return levels
}

// daemon is everything the control loop owns or talks to.
type daemon struct {
	bank       gpio.Bank
	driver     *relay.Driver
	surface    *control.Surface
	engine     *button.Engine
	queue      *control.Queue
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	names      []string
	heartbeat  time.Duration
}

// runLoop is the single owner of the Surface. Each tick it drains queued API
// commands, polls the buttons and refreshes the indicator. Commands arriving
// between ticks are served as soon as they are queued.
func runLoop(d *daemon, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := now()

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			d.queue.Close()
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.refresh()
			snap := d.tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("shutdown event sent")
			}
			return nil

		case req := <-d.queue.Requests():
			req.Apply(d.surface)
			d.publishChanges(now())
			d.refresh()

		case <-tick:
			t := now()

			if n := d.queue.Drain(d.surface); n > 0 {
				d.publishChanges(t)
			}

			d.pollButtons(t)

			if err := d.driver.Indicator(d.surface.RestoreOnBoot()); err != nil {
				log.Printf("indicator write error: %v", err)
			}

			d.publishChanges(t)
			d.refresh()

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				d.publishHeartbeat(t)
			}
		}
	}
}

func (d *daemon) pollButtons(t time.Time) {
	raw, err := d.bank.ReadButtons()
	if err != nil {
		log.Printf("gpio read error: %v", err)
		return
	}
	levels := make([]button.Level, len(raw))
	for i, high := range raw {
		levels[i] = button.Level(high)
	}
	for _, ev := range d.engine.Poll(levels, t) {
		log.Printf("button: channel=%d %s", ev.Channel, ev.Kind)
		if err := d.surface.HandleButton(ev); err != nil {
			log.Printf("button %d: %v", ev.Channel, err)
		}
	}
}

func (d *daemon) publishChanges(t time.Time) {
	for _, c := range d.surface.DrainChanges() {
		name := ""
		if c.Channel < len(d.names) {
			name = d.names[c.Channel]
		}
		log.Printf("relay: channel=%d state=%s source=%s", c.Channel, status.StateString(c.Energized), c.Source)
		if err := d.publisher.Publish(mqtt.NewRelayEvent(c, name, t)); err != nil {
			log.Printf("publish error: %v", err)
		}
	}
}

// refresh copies live state into the tracker for HTTP and MQTT consumers.
func (d *daemon) refresh() {
	d.tracker.Update(d.surface.Status(), d.surface.Counts())
	d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
}

func (d *daemon) publishHeartbeat(t time.Time) {
	counts := d.surface.Counts()
	log.Printf("heartbeat: channels=%v restore=%v buttons=%d api=%d commits=%d",
		d.surface.Status().Channels, d.surface.RestoreOnBoot(), counts.ButtonEvents, counts.APIOps, counts.Commits)

	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("heartbeat publish error: %v", err)
	}
}
