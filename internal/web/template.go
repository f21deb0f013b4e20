package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/nebenuhr/internal/logic"
	"github.com/sweeney/nebenuhr/internal/status"
	"github.com/sweeney/nebenuhr/internal/zone"
)

// formatUptime renders a duration as "Xd Yh Zm Ws".
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"hhmm":   logic.FormatMinute,
	"stateOrUnknown": func(s logic.State) string {
		if s == "" {
			return "UNKNOWN"
		}
		return string(s)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Nebenuhr</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
input[type=number] { width: 4em; }
.connected { color: green; }
.disconnected { color: red; }
pre { font-size: 0.8em; background: #f4f4f4; padding: 0.5em; overflow-x: auto; }
</style>
</head>
<body>
<h1>Nebenuhr</h1>

<h2>Clock</h2>
<table>
<tr><th>Displayed</th><td id="displayed">{{hhmm .Clock.Displayed}}</td></tr>
<tr><th>Target</th><td id="target">{{if .Clock.TargetValid}}{{hhmm .Clock.Target}}{{else}}unknown{{end}}</td></tr>
<tr><th>Local time</th><td>{{if .Clock.Local.IsZero}}unknown{{else}}{{.Clock.Local.Format "2006-01-02 15:04:05"}}{{end}} ({{.Zone.Name}})</td></tr>
<tr><th>State</th><td id="state">{{stateOrUnknown .Clock.State}}</td></tr>
</table>

<h2>Set displayed time</h2>
<form method="post" action="/set">
<input type="number" name="hour" min="0" max="23" value="{{.Hour}}"> :
<input type="number" name="minute" min="0" max="59" value="{{.Minute}}">
<select name="zone">
{{range .Zones}}<option value="{{.Index}}"{{if eq .ID $.Zone.ID}} selected{{end}}>{{.Name}}</option>
{{end}}</select>
<button type="submit">Set</button>
</form>

<h2>Counters</h2>
<table>
<tr><th>Pulses</th><td>{{.Clock.Counts.Pulses}}</td></tr>
<tr><th>Rebases</th><td>{{.Clock.Counts.Rebases}}</td></tr>
<tr><th>Overrides</th><td>{{.Clock.Counts.Overrides}}</td></tr>
<tr><th>Skipped ticks</th><td>{{.Clock.Counts.Skipped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td id="uptime">{{uptime .Uptime}}</td></tr>
<tr><th>Total uptime</th><td id="uptime-total">{{uptime .TotalUptime}}</td></tr>
<tr><th>Reboots</th><td id="reboots">{{.Record.Reboots}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Session</th><td>{{.Session}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}{{if .Config.Broker}} ({{.Config.Broker}}){{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
<tr><th>Tolerance</th><td>{{.Config.AheadTolerance}} min</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>

<h2>Log</h2>
<pre id="log">{{range .Logs}}{{.}}
{{end}}</pre>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, zones []zone.Zone) error {
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		TotalUptime time.Duration
		Hour        int
		Minute      int
		Zones       []zone.Zone
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		TotalUptime: snap.TotalUptime(),
		Hour:        logic.Normalize(snap.Clock.Displayed) / 60,
		Minute:      logic.Normalize(snap.Clock.Displayed) % 60,
		Zones:       zones,
	}
	return indexTmpl.Execute(w, data)
}
