package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/relay-controller/internal/button"
	"github.com/sweeney/relay-controller/internal/config"
	"github.com/sweeney/relay-controller/internal/control"
	"github.com/sweeney/relay-controller/internal/gpio"
	"github.com/sweeney/relay-controller/internal/mqtt"
	"github.com/sweeney/relay-controller/internal/relay"
	"github.com/sweeney/relay-controller/internal/status"
	"github.com/sweeney/relay-controller/internal/store"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// sample builds one raw reading for n buttons with the given channels pressed.
func sample(n int, pressed ...int) []bool {
	out := gpio.Released(n)
	for _, ch := range pressed {
		out[ch] = false
	}
	return out
}

// repeat returns count copies of sample.
func repeat(sample []bool, count int) [][]bool {
	out := make([][]bool, count)
	for i := range out {
		out[i] = sample
	}
	return out
}

type harness struct {
	d     *daemon
	bank  *gpio.FakeBank
	mem   *store.Mem
	pub   *mqtt.FakePublisher
	queue *control.Queue
}

func newHarness(t *testing.T, n int, samples [][]bool, heartbeat time.Duration) *harness {
	t.Helper()
	bank := gpio.NewFakeBank(n, samples)
	mem := store.NewMem(n)
	driver := relay.NewDriver(bank, n)
	surface, err := control.Boot(n, driver, mem)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	pub := mqtt.NewFakePublisher()
	queue := control.NewQueue(4)

	return &harness{
		d: &daemon{
			bank:       bank,
			driver:     driver,
			surface:    surface,
			engine:     button.NewEngine(n, 30*time.Millisecond),
			queue:      queue,
			publisher:  pub,
			mqttStatus: pub,
			tracker:    status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{Names: []string{"Pump"}}),
			names:      []string{"Pump"},
			heartbeat:  heartbeat,
		},
		bank:  bank,
		mem:   mem,
		pub:   pub,
		queue: queue,
	}
}

// start runs runLoop in a goroutine and returns the tick and signal channels
// plus a channel yielding runLoop's result.
func (h *harness) start(clock func() time.Time) (chan<- time.Time, chan<- os.Signal, <-chan error) {
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.d, clock, tick, sig)
	}()
	return tick, sig, errCh
}

// run drives nTicks ticks and then the signal, returning runLoop's error.
func (h *harness) run(clock func() time.Time, nTicks int, signal os.Signal) error {
	tick, sig, errCh := h.start(clock)
	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal
	return <-errCh
}

func defaultClock() func() time.Time {
	return fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Millisecond)
}

func TestRunLoopNoEventsWhenIdle(t *testing.T) {
	h := newHarness(t, 4, repeat(sample(4), 5), 0)

	if err := h.run(defaultClock(), 5, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Events) != 0 {
		t.Errorf("expected 0 relay events, got %d", len(h.pub.Events))
	}
	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
	}
	if h.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN event, got %q", h.pub.SystemEvents[0].Event)
	}
}

func TestRunLoopButtonPressAndRelease(t *testing.T) {
	// 10ms ticks, 30ms window: press registers on the 4th pressed sample,
	// release on the 4th released one.
	samples := [][]bool{sample(4)}
	samples = append(samples, repeat(sample(4, 1), 5)...)
	samples = append(samples, repeat(sample(4), 4)...)
	h := newHarness(t, 4, samples, 0)

	if err := h.run(defaultClock(), len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Events) != 2 {
		t.Fatalf("expected 2 relay events, got %d", len(h.pub.Events))
	}
	on, off := h.pub.Events[0], h.pub.Events[1]
	if on.Channel != 1 || !on.Energized || on.Source != control.SourceButton {
		t.Errorf("first event: got %+v", on)
	}
	if off.Channel != 1 || off.Energized || off.Source != control.SourceButton {
		t.Errorf("second event: got %+v", off)
	}
	if want := time.Date(2026, 1, 1, 0, 0, 0, 50*int(time.Millisecond), time.UTC); !on.Timestamp.Equal(want) {
		t.Errorf("press timestamp: got %v, want %v", on.Timestamp, want)
	}

	// Button activity is never persisted.
	if h.mem.Commits != 0 {
		t.Errorf("expected no commits from buttons, got %d", h.mem.Commits)
	}

	// Energize (low) then release (high) on relay 1's line.
	var writes []bool
	for _, w := range h.bank.RelayWrites {
		if w.Relay == 1 {
			writes = append(writes, w.High)
		}
	}
	// First write comes from Boot.
	if len(writes) != 3 || writes[0] != true || writes[1] != false || writes[2] != true {
		t.Errorf("relay 1 writes: got %v, want [true false true]", writes)
	}
	if !h.bank.Relays[1] {
		t.Error("relay 1 line should be high (de-energized) after release")
	}
}

func TestRunLoopBounceRejection(t *testing.T) {
	samples := [][]bool{sample(4), sample(4, 0), sample(4)}
	samples = append(samples, repeat(sample(4), 4)...)
	h := newHarness(t, 4, samples, 0)

	if err := h.run(defaultClock(), len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Events) != 0 {
		t.Errorf("expected 0 relay events (bounce rejected), got %d", len(h.pub.Events))
	}
}

func TestRunLoopGPIOReadError(t *testing.T) {
	h := newHarness(t, 4, nil, 0)
	h.bank.ReadError = errors.New("gpio fault")

	if err := h.run(defaultClock(), 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	found := false
	for _, se := range h.pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event after GPIO errors")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: loop start t0, ticks at +5m, +10m, +15m, +20m.
	// Only the +15m tick is a full interval after t0.
	h := newHarness(t, 4, nil, 15*time.Minute)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 5*time.Minute)

	if err := h.run(clock, 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for _, se := range h.pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if se.Retained {
				t.Error("HEARTBEAT should not be retained")
			}
			var sj status.StatusJSON
			if err := json.Unmarshal(se.RawPayload, &sj); err != nil {
				t.Fatalf("invalid heartbeat payload: %v", err)
			}
			if sj.Status.Event != "HEARTBEAT" {
				t.Errorf("payload event: got %q", sj.Status.Event)
			}
			if len(sj.Status.Relays) != 4 {
				t.Errorf("payload relays: got %d, want 4", len(sj.Status.Relays))
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	samples := append(repeat(sample(4), 1), repeat(sample(4, 0), 5)...)
	h := newHarness(t, 4, samples, 0)
	h.pub.PublishError = errors.New("broker unavailable")

	if err := h.run(defaultClock(), len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	// The relay still switched even though publishing failed.
	if h.bank.Relays[0] {
		t.Error("relay 0 should be energized (low)")
	}
	if len(h.pub.SystemEvents) != 1 || h.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN despite publish errors, got %+v", h.pub.SystemEvents)
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			h := newHarness(t, 2, nil, 0)
			if err := h.run(defaultClock(), 2, tt.sig); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}

			if len(h.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
			}
			se := h.pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" {
				t.Errorf("expected SHUTDOWN, got %q", se.Event)
			}
			if se.Reason != tt.want {
				t.Errorf("expected reason %s, got %q", tt.want, se.Reason)
			}
			if !se.Retained {
				t.Error("expected Retained=true for SHUTDOWN")
			}
			var sj status.StatusJSON
			if err := json.Unmarshal(se.RawPayload, &sj); err != nil {
				t.Fatalf("invalid shutdown payload: %v", err)
			}
			if sj.Status.Reason != tt.want {
				t.Errorf("payload reason: got %q, want %q", sj.Status.Reason, tt.want)
			}
		})
	}
}

func TestRunLoopServesCommands(t *testing.T) {
	h := newHarness(t, 4, nil, 0)
	tick, sig, errCh := h.start(defaultClock())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := h.queue.Do(ctx, control.Command{Op: control.OpToggle, Channel: 2})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !st.Channels[2] {
		t.Error("toggle reply should show channel 2 on")
	}

	st, err = h.queue.Do(ctx, control.Command{Op: control.OpFlipRestore})
	if err != nil {
		t.Fatalf("flip: %v", err)
	}
	if !st.RestoreOnBoot {
		t.Error("flip reply should show restore on")
	}

	tick <- time.Time{}
	tick <- time.Time{}
	sig <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Events) != 1 {
		t.Fatalf("expected 1 relay event, got %d", len(h.pub.Events))
	}
	ev := h.pub.Events[0]
	if ev.Channel != 2 || !ev.Energized || ev.Source != control.SourceAPI {
		t.Errorf("event: got %+v", ev)
	}
	if h.mem.Commits != 2 {
		t.Errorf("commits: got %d, want 2", h.mem.Commits)
	}
	img, _ := h.mem.Load()
	if !img.RestoreOnBoot || !img.Channels[2] {
		t.Errorf("stored image: got %s", img)
	}
	if h.bank.Relays[2] {
		t.Error("relay 2 line should be low (energized)")
	}

	// Indicator follows the flag and is only written on change.
	if !h.bank.Indicator {
		t.Error("indicator should be on")
	}
	if h.bank.IndicatorWrites != 1 {
		t.Errorf("indicator writes: got %d, want 1", h.bank.IndicatorWrites)
	}

	// Once stopped, the queue refuses work.
	if _, err := h.queue.Do(ctx, control.Command{Op: control.OpStatus}); !errors.Is(err, control.ErrStopped) {
		t.Errorf("after shutdown: got %v, want ErrStopped", err)
	}
}

func TestRunLoopUpdatesTracker(t *testing.T) {
	samples := append(repeat(sample(2), 1), repeat(sample(2, 0), 5)...)
	h := newHarness(t, 2, samples, 0)
	h.pub.Connected = true

	if err := h.run(defaultClock(), len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	snap := h.d.tracker.Snapshot()
	if !snap.Ready {
		t.Error("tracker should be ready")
	}
	if len(snap.Channels) != 2 || !snap.Channels[0] {
		t.Errorf("tracker channels: got %v", snap.Channels)
	}
	if snap.Counts.ButtonEvents != 1 {
		t.Errorf("button events: got %d, want 1", snap.Counts.ButtonEvents)
	}
	if !snap.MQTTConnected {
		t.Error("tracker should report MQTT connected")
	}
}

func TestSignalContextCancelsAndKeepsSignal(t *testing.T) {
	sig := make(chan os.Signal, 1)
	ctx, stop := signalContext(context.Background(), sig)
	defer stop()

	sig <- syscall.SIGTERM
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by signal")
	}

	// The control loop still gets the signal and shuts down cleanly.
	h := newHarness(t, 2, nil, 0)
	if err := runLoop(h.d, defaultClock(), make(chan time.Time), sig); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(h.pub.SystemEvents) != 1 || h.pub.SystemEvents[0].Reason != "SIGTERM" {
		t.Errorf("expected SHUTDOWN with reason SIGTERM, got %+v", h.pub.SystemEvents)
	}
}

func TestSignalContextStopLeavesSignals(t *testing.T) {
	sig := make(chan os.Signal, 1)
	ctx, stop := signalContext(context.Background(), sig)
	stop()
	<-ctx.Done()

	sig <- syscall.SIGINT
	select {
	case s := <-sig:
		if s != syscall.SIGINT {
			t.Errorf("got %v, want SIGINT", s)
		}
	case <-time.After(time.Second):
		t.Fatal("signal lost after stop")
	}
}

func TestBlinkerLogsWriteError(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	bank := gpio.NewFakeBank(2, nil)
	bank.WriteError = errors.New("line busy")
	blink := blinker(relay.NewDriver(bank, 2))

	blink(true)
	if !strings.Contains(buf.String(), "indicator write error: line busy") {
		t.Errorf("log output: got %q", buf.String())
	}

	buf.Reset()
	bank.WriteError = nil
	blink(true)
	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %q", buf.String())
	}
	if !bank.Indicator {
		t.Error("indicator should be on")
	}
}

func TestBootLevels(t *testing.T) {
	tests := []struct {
		name string
		img  store.Image
		want []bool
	}{
		{"restore off", store.Image{RestoreOnBoot: false, Channels: []bool{true, false}}, []bool{true, true}},
		{"restore on", store.Image{RestoreOnBoot: true, Channels: []bool{true, false}}, []bool{false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bootLevels(tt.img)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFlagOverridesOnlySetFlags(t *testing.T) {
	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	var o flagOverrides
	o.register(fs, config.Default())

	if err := fs.Parse([]string{"-poll=20ms", "-broker=tcp://10.0.0.1:1883", "-store="}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := config.Default()
	cfg.HTTPAddr = ":8080" // e.g. from the environment
	o.apply(fs, &cfg)

	if cfg.Poll != 20*time.Millisecond {
		t.Errorf("Poll: got %v, want 20ms", cfg.Poll)
	}
	if cfg.Broker != "tcp://10.0.0.1:1883" {
		t.Errorf("Broker: got %q", cfg.Broker)
	}
	if cfg.StorePath != "" {
		t.Errorf("StorePath: got %q, want empty", cfg.StorePath)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr should keep its non-flag value, got %q", cfg.HTTPAddr)
	}
	if cfg.Debounce != button.DefaultWindow {
		t.Errorf("Debounce: got %v, want default", cfg.Debounce)
	}
}
