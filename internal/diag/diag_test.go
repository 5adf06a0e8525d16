package diag

import (
	"bytes"
	"errors"
	"log"
	"testing"
)

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) {
	return 0, errors.New("port gone")
}

func TestSinkTranslatesLineEndings(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf)

	n, err := s.Write([]byte("one\ntwo\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 8 {
		t.Errorf("n: got %d, want 8", n)
	}
	if got := buf.String(); got != "one\r\ntwo\r\n" {
		t.Errorf("got %q", got)
	}
}

func TestSinkSwallowsErrors(t *testing.T) {
	s := NewSink(brokenWriter{})

	if _, err := s.Write([]byte("x\n")); err != nil {
		t.Errorf("Write should not fail: %v", err)
	}
	s.Write([]byte("y\n"))

	n, err := s.Failures()
	if n != 2 {
		t.Errorf("failures: got %d, want 2", n)
	}
	if err == nil || err.Error() != "port gone" {
		t.Errorf("last error: got %v", err)
	}
}

func TestTeeKeepsLoggingWhenConsoleFails(t *testing.T) {
	var stderr bytes.Buffer
	logger := log.New(Tee(&stderr, brokenWriter{}), "", 0)

	logger.Printf("device: started")
	logger.Printf("device: still here")

	if got := stderr.String(); got != "device: started\ndevice: still here\n" {
		t.Errorf("primary output: got %q", got)
	}
}

func TestTeeCopiesToConsole(t *testing.T) {
	var stderr, console bytes.Buffer
	logger := log.New(Tee(&stderr, &console), "", 0)

	logger.Printf("mqtt: connected")

	if console.String() != "mqtt: connected\r\n" {
		t.Errorf("console: got %q", console.String())
	}
}

func TestOpenSerialMissingDevice(t *testing.T) {
	if _, err := OpenSerial("/dev/does-not-exist-led-counter", 115200); err == nil {
		t.Error("expected error for missing device")
	}
}
