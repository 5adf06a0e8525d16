package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/led-counter/internal/led"
	"github.com/sweeney/led-counter/internal/status"
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
	"lit": func(pattern uint8, i int) bool {
		return pattern&(1<<i) != 0
	},
	"render": led.Render,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>LED Counter</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.counting { color: green; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.leds span { display: inline-block; width: 14px; height: 14px; border-radius: 50%; margin-right: 6px; background: #ccc; }
.leds span.on { background: #e33; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>LED Counter<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>State</h2>
<table>
<tr><th>State</th><td id="state" class="{{if .State.Active}}counting{{else}}idle{{end}}">{{.State.Mode}}</td></tr>
<tr><th>Count</th><td id="count">{{.State.Value}}</td></tr>
<tr><th>LEDs</th><td class="leds" id="leds" title="{{render .Pattern}}">{{$p := .Pattern}}{{range $i := .LEDOrder}}<span{{if lit $p $i}} class="on"{{end}}></span>{{end}}</td></tr>
</table>
<form method="post" action="/reset" onsubmit="fetch('/reset', {method: 'POST'}); return false;">
<button type="submit">Reset</button>
</form>

<h2>Event Counts</h2>
<table>
<tr><th>Button press</th><td id="n-button">{{.Counts.ButtonPress}}</td></tr>
<tr><th>Timer elapsed</th><td id="n-timer">{{.Counts.TimerElapsed}}</td></tr>
<tr><th>Reset</th><td id="n-reset">{{.Counts.Reset}}</td></tr>
<tr><th>Wraps</th><td id="n-wraps">{{.Counts.Wraps}}</td></tr>
</table>

{{if .Tasks}}<h2>Tasks</h2>
<table>
<tr><th>Task</th><td>prio</td><td>state</td><td>runs</td><td>dropped</td><td>coalesced</td></tr>
{{range .Tasks}}<tr><th>{{.Name}}</th><td>{{.Priority}}</td><td>{{.State}}</td><td>{{.Runs}}</td><td>{{.Dropped}}</td><td>{{.Coalesced}}</td></tr>
{{end}}</table>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Interval</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Queue depth</th><td>{{.Config.QueueDepth}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function text(id, v) { document.getElementById(id).textContent = v; }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        var st = document.getElementById("state");
        st.textContent = s.state;
        st.className = s.state === "COUNTING" ? "counting" : "idle";
        text("count", s.count);
        var spans = document.getElementById("leds").children;
        for (var i = 0; i < spans.length; i++) {
          spans[i].className = s.leds.charAt(i) === "1" ? "on" : "";
        }
        text("n-button", s.event_counts.button_press);
        text("n-timer", s.event_counts.timer_elapsed);
        text("n-reset", s.event_counts.reset);
        text("n-wraps", s.event_counts.wraps);
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

// ledOrder lists LED indices most significant first, matching led.Render.
var ledOrder = func() []int {
	order := make([]int, led.Width)
	for i := range order {
		order[i] = led.Width - 1 - i
	}
	return order
}()

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		LEDOrder []int
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		LEDOrder: ledOrder,
	}
	indexTmpl.Execute(w, data)
}
