package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/yamp/internal/logic"
	"github.com/sweeney/yamp/internal/status"
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
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"pattern": func(p logic.LedPattern) string {
		if p.Kind == "" {
			return "UNKNOWN"
		}
		return p.String()
	},
	"seconds": func(d time.Duration) string {
		if d < 0 {
			d = 0
		}
		return fmt.Sprintf("%.1fs", d.Seconds())
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.DeviceName}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>{{.Config.DeviceName}}<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Amplifier</h2>
<table>
<tr><th>Mode</th><td id="mode">{{orUnknown (printf "%s" .Mode)}}</td></tr>
<tr><th>Relay</th><td id="relay" class="{{if eq .Relay.String "CLOSED"}}on{{else}}off{{end}}">{{.Relay}}</td></tr>
<tr><th>Audio link</th><td id="connection" class="{{if eq (printf "%s" .Connection) "CONNECTED"}}connected{{else}}disconnected{{end}}">{{orUnknown (printf "%s" .Connection)}}</td></tr>
<tr><th>Standby in</th><td id="remaining">{{seconds .Remaining}}</td></tr>
<tr><th>Power switch</th><td id="power">{{if .Flags.PowerOn}}on{{else}}off{{end}}</td></tr>
<tr><th>Input</th><td id="input">{{if .Flags.InputWireless}}wireless{{else}}bypass{{end}}</td></tr>
</table>

<h2>LEDs</h2>
<table>
<tr><th>Link</th><td id="led-link">{{pattern .Patterns.Link}}</td></tr>
<tr><th>Activity</th><td id="led-activity">{{pattern .Patterns.Activity}}</td></tr>
<tr><th>Power</th><td id="led-power">{{pattern .Patterns.Power}}</td></tr>
</table>
{{if .Firmware}}
<h2>Firmware Mode</h2>
<table>
<tr><th>Phase</th><td>{{.Firmware.Phase}}</td></tr>
<tr><th>Address</th><td>{{.Firmware.Address}}</td></tr>
<tr><th>Progress</th><td>{{.Firmware.Written}} / {{.Firmware.Total}}</td></tr>
{{if .Firmware.LastError}}<tr><th>Last error</th><td>{{.Firmware.LastError}}</td></tr>{{end}}
</table>
{{end}}
<h2>Mode Counts</h2>
<table>
<tr><th>ON</th><td>{{.Counts.On}}</td></tr>
<tr><th>ENTERING_STANDBY</th><td>{{.Counts.EnteringStandby}}</td></tr>
<tr><th>STANDBY</th><td>{{.Counts.Standby}}</td></tr>
<tr><th>OFF</th><td>{{.Counts.Off}}</td></tr>
<tr><th>BYPASS</th><td>{{.Counts.Bypass}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Adapter</th><td>{{.Config.Adapter}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Standby timeout</th><td>{{.Config.StandbyTimeoutMs}}ms</td></tr>
<tr><th>Link events dropped</th><td>{{.LinkDropped}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function set(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        set("mode", s.mode);
        set("relay", s.relay);
        set("connection", s.connection);
        set("remaining", (s.standby_remaining_ms / 1000).toFixed(1) + "s");
        set("power", s.flags.power_on ? "on" : "off");
        set("input", s.flags.input_wireless ? "wireless" : "bypass");
        set("led-link", s.leds.link);
        set("led-activity", s.leds.activity);
        set("led-power", s.leds.power);
        document.getElementById("relay").className = s.relay === "CLOSED" ? "on" : "off";
        document.getElementById("connection").className = s.connection === "CONNECTED" ? "connected" : "disconnected";
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has an Uptime method but the template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
