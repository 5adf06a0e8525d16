// Command led-counter counts timer ticks on a bar of four LEDs. A button press
// starts the count, the timer advances it, and the state is published to MQTT
// and served over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/led-counter/internal/config"
	"github.com/sweeney/led-counter/internal/device"
	"github.com/sweeney/led-counter/internal/diag"
	"github.com/sweeney/led-counter/internal/dispatch"
	"github.com/sweeney/led-counter/internal/gpio"
	"github.com/sweeney/led-counter/internal/hwtimer"
	"github.com/sweeney/led-counter/internal/led"
	"github.com/sweeney/led-counter/internal/mqtt"
	"github.com/sweeney/led-counter/internal/status"
	"github.com/sweeney/led-counter/internal/web"
)

func main() {
	if err := newRootCmd(newOptions()).Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// signalError is the cancellation cause when the daemon is told to stop.
type signalError struct {
	sig os.Signal
}

func (e signalError) Error() string {
	return fmt.Sprintf("received %v", e.sig)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// notifyContext is cancelled with a signalError on SIGINT or SIGTERM.
func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case s := <-sigCh:
			log.Printf("received %v, shutting down", s)
			cancel(signalError{sig: s})
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel(context.Canceled)
	}
}

// hardware is the set of peripherals the device runs on.
type hardware struct {
	button gpio.Button
	leds   *led.Bank
	timer  hwtimer.Timer
}

// run brings up the real peripherals and the broker connection, then serves
// until ctx is cancelled or the dispatcher halts.
func run(ctx context.Context, cfg config.Config) error {
	if cfg.Serial != "" {
		console, err := diag.OpenSerial(cfg.Serial, cfg.SerialBaud)
		if err != nil {
			return err
		}
		defer console.Close()
		log.SetOutput(diag.Tee(os.Stderr, console))
		defer log.SetOutput(os.Stderr)
	}

	board, err := gpio.OpenBoard(cfg.Board())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer board.Close()

	bank, err := led.NewBank(board.LEDs...)
	if err != nil {
		return fmt.Errorf("init leds: %w", err)
	}

	timer := hwtimer.NewCountdown()
	defer timer.Close()

	publisher, err := mqtt.NewRealPublisher(cfg.Broker, cfg.ClientID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	hw := hardware{button: board.Button, leds: bank, timer: timer}
	return serve(ctx, cfg, hw, publisher, publisher)
}

// serve runs the device, the telemetry queue, the status server and the
// heartbeat. It publishes STARTUP before and SHUTDOWN after.
func serve(ctx context.Context, cfg config.Config, hw hardware, pub mqtt.Publisher, conn mqtt.ConnectionStatus) error {
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if conn != nil {
		tracker.SetConnectionSource(conn.IsConnected)
	}
	telemetry := mqtt.NewAsync(pub, mqtt.DefaultAsyncCapacity)

	dev, err := device.New(device.Options{
		Button:     hw.button,
		LEDs:       hw.leds,
		Timer:      hw.timer,
		Interval:   cfg.Interval,
		QueueDepth: cfg.UpdateQueueDepth,
		Tracker:    tracker,
		Telemetry:  telemetry,
	})
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}

	publishSystem(pub, tracker, "STARTUP", "")
	log.Printf("started: interval=%v queue=%d broker=%s heartbeat=%v http=%q",
		cfg.Interval, cfg.UpdateQueueDepth, cfg.Broker, cfg.Heartbeat, cfg.HTTP)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dev.Run(gctx) })
	g.Go(func() error { return telemetry.Run(gctx) })

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, dev, cfg.WSInterval)
		g.Go(func() error {
			log.Printf("http status server listening on %s", cfg.HTTP)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Heartbeat > 0 {
		g.Go(func() error { return heartbeat(gctx, cfg.Heartbeat, pub, tracker) })
	}

	err = g.Wait()
	publishSystem(pub, tracker, "SHUTDOWN", shutdownReason(ctx, err))
	return err
}

func shutdownReason(ctx context.Context, err error) string {
	var se signalError
	var fe *dispatch.FatalError
	switch {
	case errors.As(context.Cause(ctx), &se):
		return signalName(se.sig)
	case errors.As(err, &fe):
		return "FATAL"
	case err != nil:
		return "ERROR"
	}
	return "UNKNOWN"
}

func heartbeat(ctx context.Context, every time.Duration, pub mqtt.Publisher, tracker *status.Tracker) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := tracker.Snapshot()
			log.Printf("heartbeat: uptime=%v state=%s button=%d timer=%d reset=%d wraps=%d",
				snap.Uptime().Truncate(time.Second), snap.State,
				snap.Counts.ButtonPress, snap.Counts.TimerElapsed, snap.Counts.Reset, snap.Counts.Wraps)
			publishSystem(pub, tracker, "HEARTBEAT", "")
		}
	}
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
// Failures are logged and never stop the daemon.
func publishSystem(pub mqtt.Publisher, tracker *status.Tracker, event, reason string) {
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	name := strings.ToLower(event)
	if err := pub.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
		return
	}
	log.Printf("published %s event", name)
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		Chip:        cfg.Chip,
		ButtonPin:   cfg.ButtonPin,
		LEDPins:     cfg.LEDPins,
		IntervalMs:  cfg.Interval.Milliseconds(),
		DebounceMs:  cfg.Debounce.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		QueueDepth:  cfg.UpdateQueueDepth,
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTP,
	}
}
