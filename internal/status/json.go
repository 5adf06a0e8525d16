package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/led-counter/internal/led"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	Count         uint32     `json:"count"`
	LEDs          string     `json:"leds"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Tasks         []TaskJSON `json:"tasks,omitempty"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Reset        int `json:"reset"`
	ButtonPress  int `json:"button_press"`
	TimerElapsed int `json:"timer_elapsed"`
	Wraps        int `json:"wraps"`
}

// TaskJSON is the JSON representation of one dispatcher task.
type TaskJSON struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	IRQ       int    `json:"irq,omitempty"`
	Capacity  int    `json:"capacity"`
	State     string `json:"state"`
	Queued    int    `json:"queued"`
	Runs      uint64 `json:"runs"`
	Spawned   uint64 `json:"spawned"`
	Dropped   uint64 `json:"dropped"`
	Raised    uint64 `json:"raised"`
	Coalesced uint64 `json:"coalesced"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip        string `json:"chip"`
	ButtonPin   int    `json:"button_pin"`
	LEDPins     []int  `json:"led_pins"`
	IntervalMs  int64  `json:"interval_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	QueueDepth  int    `json:"update_queue_depth"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:         snap.State.Mode.String(),
		Count:         snap.State.Value(),
		LEDs:          led.Render(snap.Pattern),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Reset:        snap.Counts.Reset,
			ButtonPress:  snap.Counts.ButtonPress,
			TimerElapsed: snap.Counts.TimerElapsed,
			Wraps:        snap.Counts.Wraps,
		},
		Config: ConfigJSON{
			Chip:        snap.Config.Chip,
			ButtonPin:   snap.Config.ButtonPin,
			LEDPins:     snap.Config.LEDPins,
			IntervalMs:  snap.Config.IntervalMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			QueueDepth:  snap.Config.QueueDepth,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}

	for _, ts := range snap.Tasks {
		inner.Tasks = append(inner.Tasks, TaskJSON{
			Name:      ts.Name,
			Priority:  int(ts.Priority),
			IRQ:       int(ts.IRQ),
			Capacity:  ts.Capacity,
			State:     ts.State.String(),
			Queued:    ts.Queued,
			Runs:      ts.Runs,
			Spawned:   ts.Spawned,
			Dropped:   ts.Dropped,
			Raised:    ts.Raised,
			Coalesced: ts.Coalesced,
		})
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatCompactJSON returns the web status without indentation, for the live feed.
func FormatCompactJSON(snap Snapshot) []byte {
	data, _ := json.Marshal(StatusJSON{Status: buildInner(snap)})
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
