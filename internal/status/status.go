// Package status provides a thread-safe status tracker for the led-counter daemon.
// It is read by the HTTP handlers and the lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/led-counter/internal/dispatch"
	"github.com/sweeney/led-counter/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Chip        string
	ButtonPin   int
	LEDPins     []int
	IntervalMs  int64
	DebounceMs  int64
	HeartbeatMs int64
	QueueDepth  int
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         logic.State
	Pattern       uint8
	Counts        logic.EventCounts
	Tasks         []dispatch.TaskStats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	tasks func() []dispatch.TaskStats
	mqtt  func() bool
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	cfg.LEDPins = append([]int(nil), cfg.LEDPins...)
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the counter state, the pattern on the LEDs and the event counts.
// Called by the update task after every event.
func (t *Tracker) Update(state logic.State, pattern uint8, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Pattern = pattern
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetTaskSource installs the function that reports dispatcher statistics.
// It is called on every Snapshot, outside the tracker lock.
func (t *Tracker) SetTaskSource(fn func() []dispatch.TaskStats) {
	t.mu.Lock()
	t.tasks = fn
	t.mu.Unlock()
}

// SetConnectionSource installs the function that reports the MQTT connection.
// When set it takes precedence over SetMQTTConnected.
func (t *Tracker) SetConnectionSource(fn func() bool) {
	t.mu.Lock()
	t.mqtt = fn
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	tasks, mqtt := t.tasks, t.mqtt
	t.mu.RUnlock()

	s.Config.LEDPins = append([]int(nil), s.Config.LEDPins...)
	if tasks != nil {
		s.Tasks = tasks()
	}
	if mqtt != nil {
		s.MQTTConnected = mqtt()
	}
	s.Now = time.Now()
	return s
}
