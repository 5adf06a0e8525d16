// Package config holds the daemon configuration: defaults, an optional YAML
// file, and validation. Command-line flags are layered on top by main.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/led-counter/internal/gpio"
	"github.com/sweeney/led-counter/internal/hwtimer"
	"github.com/sweeney/led-counter/internal/led"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Defaults.
const (
	DefaultInterval         = 200 * time.Millisecond
	DefaultDebounce         = 20 * time.Millisecond
	DefaultUpdateQueueDepth = 2
	DefaultBroker           = "tcp://192.168.1.200:1883"
	DefaultClientID         = "led-counter"
	DefaultHTTP             = ":80"
	DefaultHeartbeat        = 15 * time.Minute
	DefaultSerialBaud       = 115200
	DefaultWSInterval       = time.Second
)

// Config is the full daemon configuration.
type Config struct {
	Chip      string        `yaml:"chip"`
	ButtonPin int           `yaml:"button_pin"`
	LEDPins   []int         `yaml:"led_pins"`
	Debounce  time.Duration `yaml:"debounce"`

	// Interval is the timer re-arm period while counting.
	Interval time.Duration `yaml:"interval"`
	// UpdateQueueDepth is how many state updates may wait for the update task.
	// With 1, a second event arriving before the first is processed is dropped
	// and reported.
	UpdateQueueDepth int `yaml:"update_queue_depth"`

	Broker     string        `yaml:"broker"`
	ClientID   string        `yaml:"client_id"`
	HTTP       string        `yaml:"http"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
	WSInterval time.Duration `yaml:"ws_interval"`

	Serial     string `yaml:"serial"`
	SerialBaud int    `yaml:"serial_baud"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Chip:             gpio.DefaultChip,
		ButtonPin:        gpio.DefaultButtonPin,
		LEDPins:          append([]int(nil), gpio.DefaultLEDPins...),
		Debounce:         DefaultDebounce,
		Interval:         DefaultInterval,
		UpdateQueueDepth: DefaultUpdateQueueDepth,
		Broker:           DefaultBroker,
		ClientID:         DefaultClientID,
		HTTP:             DefaultHTTP,
		Heartbeat:        DefaultHeartbeat,
		WSInterval:       DefaultWSInterval,
		SerialBaud:       DefaultSerialBaud,
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML into cfg, keeping fields the document does not set.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty document
		}
		return err
	}
	return nil
}

// Validate checks the configuration for values the device cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Chip == "" {
		errs = append(errs, errors.New("chip is empty"))
	}
	if c.ButtonPin < 0 {
		errs = append(errs, fmt.Errorf("button_pin %d is negative", c.ButtonPin))
	}
	if len(c.LEDPins) != led.Width {
		errs = append(errs, fmt.Errorf("led_pins needs %d entries, got %d", led.Width, len(c.LEDPins)))
	}
	seen := map[int]bool{c.ButtonPin: true}
	for _, p := range c.LEDPins {
		if p < 0 {
			errs = append(errs, fmt.Errorf("led pin %d is negative", p))
		}
		if seen[p] {
			errs = append(errs, fmt.Errorf("pin %d used twice", p))
		}
		seen[p] = true
	}
	if c.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce %v is negative", c.Debounce))
	}
	if err := hwtimer.Validate(c.Interval); err != nil {
		errs = append(errs, fmt.Errorf("interval: %w", err))
	}
	if c.UpdateQueueDepth < 1 {
		errs = append(errs, fmt.Errorf("update_queue_depth %d must be at least 1", c.UpdateQueueDepth))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat %v is negative", c.Heartbeat))
	}
	if c.WSInterval <= 0 {
		errs = append(errs, fmt.Errorf("ws_interval %v must be positive", c.WSInterval))
	}
	if c.Serial != "" && c.SerialBaud <= 0 {
		errs = append(errs, fmt.Errorf("serial_baud %d must be positive", c.SerialBaud))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Board returns the GPIO bring-up parameters.
func (c Config) Board() gpio.BoardConfig {
	return gpio.BoardConfig{
		Chip:      c.Chip,
		ButtonPin: c.ButtonPin,
		LEDPins:   append([]int(nil), c.LEDPins...),
		Debounce:  c.Debounce,
	}
}
