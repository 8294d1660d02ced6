package status

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/relay-controller/internal/control"
)

// RelayFields returns the flat API status object: relay0..relay{N-1} plus
// "eeprom" for the restore flag.
func RelayFields(st control.Status) map[string]bool {
	fields := make(map[string]bool, len(st.Channels)+1)
	for i, on := range st.Channels {
		fields[fmt.Sprintf("relay%d", i)] = on
	}
	fields["eeprom"] = st.RestoreOnBoot
	return fields
}

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Relays        []RelayJSON  `json:"relays"`
	RestoreOnBoot bool         `json:"restore_on_boot"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// RelayJSON is one channel's state.
type RelayJSON struct {
	Channel int    `json:"channel"`
	Name    string `json:"name,omitempty"`
	State   string `json:"state"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of control counters.
type CountsJSON struct {
	ButtonEvents int `json:"button_events"`
	APIOps       int `json:"api_ops"`
	Commits      int `json:"commits"`
	CommitErrors int `json:"commit_errors"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Interface string `json:"interface"`
	IP        string `json:"ip"`
	Status    string `json:"status"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	StorePath   string `json:"store_path"`
}

// StateString renders a channel state the way events and pages show it.
func StateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func buildInner(snap Snapshot) StatusInner {
	relays := make([]RelayJSON, len(snap.Channels))
	for i, on := range snap.Channels {
		relays[i] = RelayJSON{Channel: i, Name: snap.Name(i), State: StateString(on)}
	}

	inner := StatusInner{
		Relays:        relays,
		RestoreOnBoot: snap.RestoreOnBoot,
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			ButtonEvents: snap.Counts.ButtonEvents,
			APIOps:       snap.Counts.APIOps,
			Commits:      snap.Counts.Commits,
			CommitErrors: snap.Counts.CommitErrors,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			StorePath:   snap.Config.StorePath,
		},
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Interface: snap.Network.Interface,
			IP:        snap.Network.IP,
			Status:    snap.Network.Status,
		}
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
