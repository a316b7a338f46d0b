package visa

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

const (
	// DefaultBaud matches the DC2200 virtual COM port.
	DefaultBaud = 115200

	// pollInterval is the port-level read timeout; Query keeps polling until
	// the channel timeout expires.
	pollInterval = 100 * time.Millisecond
)

// Serial is a newline-terminated Channel over an RS-232 / CDC port.
type Serial struct {
	port    io.ReadWriteCloser
	device  string
	timeout time.Duration
	pending []byte

	mu sync.Mutex
}

// OpenSerial opens device at baud.
func OpenSerial(device string, baud int) (*Serial, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("visa: failed to open serial port %s: %w", device, err)
	}
	return NewSerial(port, device), nil
}

// NewSerial wraps an already open port.
func NewSerial(port io.ReadWriteCloser, device string) *Serial {
	return &Serial{port: port, device: device, timeout: DefaultTimeout}
}

// Write sends one program message terminated by '\n'.
func (s *Serial) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(cmd)
}

func (s *Serial) write(cmd string) error {
	if s.port == nil {
		return ErrClosed
	}
	if _, err := s.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("visa: %s write failed: %w", s.device, err)
	}
	return nil
}

// Query sends cmd and reads one '\n' terminated line.
func (s *Serial) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(cmd); err != nil {
		return "", err
	}

	deadline := time.Now().Add(s.timeout)
	buf := make([]byte, 256)
	for {
		if i := strings.IndexByte(string(s.pending), '\n'); i >= 0 {
			line := string(s.pending[:i])
			s.pending = s.pending[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		if time.Now().After(deadline) {
			s.pending = nil
			return "", fmt.Errorf("visa: %s: %s: %w", s.device, cmd, ErrTimeout)
		}

		n, err := s.port.Read(buf)
		s.pending = append(s.pending, buf[:n]...)
		// A poll timeout surfaces as a zero-length read, with or without EOF.
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("visa: %s read failed: %w", s.device, err)
		}
	}
}

// SetTimeout bounds how long Query waits for a complete reply.
func (s *Serial) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("visa: invalid timeout %v", d)
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
	return nil
}

// Close closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
