// Package status provides a thread-safe status tracker for the relay daemon.
// The control loop writes copies into it; HTTP handlers and MQTT system
// events read from it. It never holds live channel state.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/relay-controller/internal/control"
)

// NetworkInfo describes the link the daemon came up on.
type NetworkInfo struct {
	Interface string
	IP        string
	Status    string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	DebounceMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	StorePath   string
	Names       []string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Channels      []bool
	RestoreOnBoot bool
	Counts        control.Counts
	Ready         bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Name returns the display name of channel i.
func (s Snapshot) Name(i int) string {
	if i < len(s.Config.Names) && s.Config.Names[i] != "" {
		return s.Config.Names[i]
	}
	return ""
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update copies channel state and counters from the control loop.
// Called from runLoop on every tick and after every command.
func (t *Tracker) Update(st control.Status, counts control.Counts) {
	ch := make([]bool, len(st.Channels))
	copy(ch, st.Channels)

	t.mu.Lock()
	t.snap.Channels = ch
	t.snap.RestoreOnBoot = st.RestoreOnBoot
	t.snap.Counts = counts
	t.snap.Ready = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]bool(nil), t.snap.Channels...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
