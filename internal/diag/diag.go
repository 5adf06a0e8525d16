// Package diag mirrors the daemon's log output to a serial console.
// The console is fire-and-forget: a failing or unplugged port never holds
// up logging to stderr.
package diag

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/tarm/serial"
)

// OpenSerial opens a serial port for writing at the given baud rate, 8N1.
func OpenSerial(device string, baud int) (io.WriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:     device,
		Baud:     baud,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return port, nil
}

// Sink wraps a console writer. Line feeds are sent as CRLF and write errors
// are counted instead of returned.
type Sink struct {
	mu       sync.Mutex
	w        io.Writer
	failures int
	lastErr  error
}

// NewSink wraps w.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Write implements io.Writer. It always reports success.
func (s *Sink) Write(p []byte) (int, error) {
	out := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(out); err != nil {
		s.failures++
		s.lastErr = err
	}
	return len(p), nil
}

// Failures returns the number of failed writes and the last error seen.
func (s *Sink) Failures() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures, s.lastErr
}

// Tee returns a writer that sends everything to primary and a copy to console.
// Errors from primary are returned; console errors are swallowed by a Sink.
func Tee(primary, console io.Writer) io.Writer {
	return io.MultiWriter(primary, NewSink(console))
}
