package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/led-counter/internal/config"
	"github.com/sweeney/led-counter/internal/gpio"
	"github.com/sweeney/led-counter/internal/led"
)

// options holds the raw flag values. A flag only overrides the config file
// when it was set on the command line.
type options struct {
	configPath string
	cfg        config.Config
}

func newOptions() *options {
	return &options{cfg: config.Default()}
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "led-counter",
		Short: "Count timer ticks on four LEDs",
		Long: "led-counter waits for a button press, then advances a counter on every timer tick " +
			"and shows the low four bits on an active-low LED bar. State is published to MQTT " +
			"and served over HTTP.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			ctx, stop := notifyContext(cmd.Context())
			defer stop()
			return run(ctx, cfg)
		},
	}
	addFlags(rootCmd.PersistentFlags(), opts)

	printStateCmd := &cobra.Command{
		Use:   "print-state",
		Short: "Print the pattern currently shown on the LEDs and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			offsets := append(append([]int(nil), cfg.LEDPins...), cfg.ButtonPin)
			levels, err := gpio.ReadLevels(cfg.Chip, offsets)
			if err != nil {
				return fmt.Errorf("read gpio: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatState(levels[:len(cfg.LEDPins)], levels[len(cfg.LEDPins)]))
			return nil
		},
	}
	rootCmd.AddCommand(printStateCmd)

	return rootCmd
}

func addFlags(fs *pflag.FlagSet, opts *options) {
	c := &opts.cfg
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&c.Chip, "chip", c.Chip, "GPIO chip")
	fs.IntVar(&c.ButtonPin, "pin-button", c.ButtonPin, "line offset of the button")
	fs.IntSliceVar(&c.LEDPins, "pin-leds", c.LEDPins, "line offsets of LED0..LED3")
	fs.DurationVar(&c.Debounce, "debounce", c.Debounce, "button debounce period (0 to disable)")
	fs.DurationVar(&c.Interval, "interval", c.Interval, "timer period while counting")
	fs.IntVar(&c.UpdateQueueDepth, "queue-depth", c.UpdateQueueDepth, "events that may wait for the update task")
	fs.StringVar(&c.Broker, "broker", c.Broker, "MQTT broker address")
	fs.StringVar(&c.ClientID, "client-id", c.ClientID, "MQTT client id")
	fs.StringVar(&c.HTTP, "http", c.HTTP, "HTTP status address (empty to disable)")
	fs.DurationVar(&c.Heartbeat, "heartbeat", c.Heartbeat, "heartbeat interval (0 to disable)")
	fs.DurationVar(&c.WSInterval, "ws-interval", c.WSInterval, "live feed update interval")
	fs.StringVar(&c.Serial, "serial", c.Serial, "serial console for log output (empty to disable)")
	fs.IntVar(&c.SerialBaud, "serial-baud", c.SerialBaud, "serial console baud rate")
}

// loadConfig reads the config file if one was given and applies the flags
// that were set explicitly on top of it.
func loadConfig(fs *pflag.FlagSet, opts *options) (config.Config, error) {
	if opts.configPath == "" {
		cfg := opts.cfg
		return cfg, cfg.Validate()
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "chip":
			cfg.Chip = opts.cfg.Chip
		case "pin-button":
			cfg.ButtonPin = opts.cfg.ButtonPin
		case "pin-leds":
			cfg.LEDPins = opts.cfg.LEDPins
		case "debounce":
			cfg.Debounce = opts.cfg.Debounce
		case "interval":
			cfg.Interval = opts.cfg.Interval
		case "queue-depth":
			cfg.UpdateQueueDepth = opts.cfg.UpdateQueueDepth
		case "broker":
			cfg.Broker = opts.cfg.Broker
		case "client-id":
			cfg.ClientID = opts.cfg.ClientID
		case "http":
			cfg.HTTP = opts.cfg.HTTP
		case "heartbeat":
			cfg.Heartbeat = opts.cfg.Heartbeat
		case "ws-interval":
			cfg.WSInterval = opts.cfg.WSInterval
		case "serial":
			cfg.Serial = opts.cfg.Serial
		case "serial-baud":
			cfg.SerialBaud = opts.cfg.SerialBaud
		}
	})
	return cfg, cfg.Validate()
}

func formatState(ledLevels []bool, buttonHigh bool) string {
	pattern := led.Levels(ledLevels)
	button := "released"
	if !buttonHigh {
		button = "pressed"
	}
	return fmt.Sprintf("LEDs: %s (value %d), button: %s", led.Render(pattern), pattern, button)
}
