package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/relay-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"state": status.StateString,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Relay Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
button { font-family: monospace; padding: 6px 14px; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.error { color: red; }
</style>
</head>
<body>
<h1>Relay Controller</h1>

<h2>Relays</h2>
<table>
{{range .Relays}}<tr><th>{{.Label}}</th><td id="relay{{.Channel}}" class="{{if .On}}on{{else}}off{{end}}">{{state .On}}</td><td><button onclick="call('/toggle?relay={{.Channel}}')">toggle</button></td></tr>
{{end}}</table>
<p>
<button onclick="call('/alloff')">ALL OFF</button>
<button onclick="call('/eepromflag')">restore on boot: <span id="eeprom">{{if .RestoreOnBoot}}ON{{else}}OFF{{end}}</span></button>
<span id="err" class="error"></span>
</p>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Interface}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counters</h2>
<table>
<tr><th>Button events</th><td>{{.Counts.ButtonEvents}}</td></tr>
<tr><th>API operations</th><td>{{.Counts.APIOps}}</td></tr>
<tr><th>Commits</th><td>{{.Counts.Commits}}</td></tr>
<tr><th>Commit errors</th><td>{{.Counts.CommitErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Store</th><td>{{if .Config.StorePath}}{{.Config.StorePath}}{{else}}memory{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/status">status</a> | <a href="/index.json">JSON</a></p>
<script>
(function() {
  var errEl = document.getElementById("err");

  function render(st) {
    for (var k in st) {
      var el = document.getElementById(k);
      if (!el) continue;
      el.textContent = st[k] ? "ON" : "OFF";
      if (k !== "eeprom") el.className = st[k] ? "on" : "off";
    }
  }

  function fetchJSON(path) {
    return fetch(path).then(function(r) {
      return r.json().then(function(body) {
        if (!r.ok) throw new Error(body.error || r.statusText);
        return body;
      });
    });
  }

  window.call = function(path) {
    fetchJSON(path).then(function(st) {
      errEl.textContent = "";
      render(st);
    }).catch(function(e) { errEl.textContent = e.message; });
  };

  setInterval(function() { window.call("/status"); }, 2000);
})();
</script>
</body>
</html>
`

type relayRow struct {
	Channel int
	Label   string
	On      bool
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	rows := make([]relayRow, len(snap.Channels))
	for i, on := range snap.Channels {
		label := snap.Name(i)
		if label == "" {
			label = fmt.Sprintf("Relay %d", i)
		}
		rows[i] = relayRow{Channel: i, Label: label, On: on}
	}

	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Relays []relayRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Relays:   rows,
	}
	return indexTmpl.Execute(w, data)
}
