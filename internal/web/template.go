package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/trunk-monitor/internal/identifier"
	"github.com/sweeney/trunk-monitor/internal/logic"
	"github.com/sweeney/trunk-monitor/internal/status"
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
	"stateClass": func(s logic.State) string {
		switch {
		case s.IsActive():
			return "active"
		case s == logic.StateIdle:
			return "idle"
		default:
			return "decay"
		}
	},
	"ids": func(ids []identifier.Identifier) string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, id.String())
		}
		return strings.Join(out, ", ")
	},
	"clock": func(t time.Time) string {
		return t.UTC().Format("15:04:05.000")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Trunk Monitor</title>
<style>
body { font-family: monospace; max-width: 900px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.active { color: green; font-weight: bold; }
.idle { color: #888; }
.decay { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Trunk Monitor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Channels</h2>
<table>
<tr><th>Channel</th><th>Type</th><th>Slot</th><th>State</th><th>Squelch</th><th>Identifiers</th></tr>
{{range $c := .Channels}}{{range $t := $c.Timeslots}}<tr>
<td>{{$c.Name}}</td><td>{{$c.Type}}</td><td>{{$t.Timeslot}}</td>
<td id="state-{{$c.Name}}-{{$t.Timeslot}}" class="{{stateClass $t.State}}">{{$t.State}}</td>
<td id="squelch-{{$c.Name}}-{{$t.Timeslot}}">{{$t.Squelch}}{{if $t.SquelchLocked}} (locked){{end}}</td>
<td>{{ids $t.Identifiers}}</td>
</tr>
{{end}}{{else}}<tr><td colspan="6">no channels</td></tr>
{{end}}</table>

<h2>Traffic</h2>
<table>
<tr><th>Pool</th><td>{{len .TrafficInUse}} / {{.Config.TrafficPoolSize}}</td></tr>
<tr><th>In use</th><td>{{range $i, $n := .TrafficInUse}}{{if $i}}, {{end}}{{$n}}{{end}}</td></tr>
</table>

<h2>Recent Transitions</h2>
<table id="recent">
<tr><th>Time</th><th>Channel</th><th>Slot</th><th>From</th><th>To</th></tr>
{{range .Recent}}<tr><td>{{clock .Time}}</td><td>{{.Channel}}</td><td>{{.Timeslot}}</td><td>{{.From}}</td><td>{{.To}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.TopicPrefix}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Transitions</th><td>{{.Counts.Transitions}}</td></tr>
<tr><th>Unsquelches</th><td>{{.Counts.Unsquelches}}</td></tr>
<tr><th>Disable requests</th><td>{{.Counts.DisableRequests}}</td></tr>
<tr><th>Traffic allocations</th><td>{{.Counts.Allocations}}</td></tr>
<tr><th>Traffic rejections</th><td>{{.Counts.Rejections}}</td></tr>
<tr><th>Heartbeat errors</th><td>{{.Counts.HeartbeatErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{.Config.HeartbeatMs}}ms</td></tr>
<tr><th>Fade</th><td>{{.Config.StandardFadeMs}}ms standard, {{.Config.TrafficFadeMs}}ms traffic</td></tr>
<tr><th>Reset</th><td>{{.Config.ResetMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var recent = document.getElementById("recent");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function stateClass(s) {
    if (s === "IDLE") return "idle";
    if (s === "FADE" || s === "TEARDOWN" || s === "RESET") return "decay";
    return "active";
  }

  function onMessage(msg) {
    var d = msg.data;
    if (msg.type === "state") {
      var el = document.getElementById("state-" + d.channel + "-" + d.timeslot);
      if (el) {
        el.textContent = d.state;
        el.className = stateClass(d.state);
      }
      var row = recent.insertRow(1);
      [d.timestamp.substr(11, 12), d.channel, d.timeslot, d.from, d.state].forEach(function(v) {
        row.insertCell().textContent = v;
      });
      while (recent.rows.length > 21) recent.deleteRow(-1);
    } else if (msg.type === "squelch") {
      var sq = document.getElementById("squelch-" + d.channel + "-" + d.timeslot);
      if (sq) sq.textContent = d.squelch;
    }
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onerror = function() { setDot("err", "error"); };
    ws.onclose = function() {
      setDot("pending", "reconnecting");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try { onMessage(JSON.parse(ev.data)); } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
