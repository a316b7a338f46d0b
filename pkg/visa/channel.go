package visa

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Channel is an open command session to an instrument. Write sends a program
// message that expects no reply; Query sends one and returns the reply with
// its terminator stripped.
type Channel interface {
	Write(cmd string) error
	Query(cmd string) (string, error)
	SetTimeout(d time.Duration) error
	Close() error
}

// DefaultTimeout bounds every Write/Query until SetTimeout is called.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is wrapped by channel errors caused by an expired I/O timeout.
	ErrTimeout = errors.New("visa: i/o timeout")
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("visa: channel closed")
)

// Options tune how Open builds a channel.
type Options struct {
	// Baud applies to ASRL resources; zero selects DefaultBaud.
	Baud int
	// Logger receives transport diagnostics; nil selects slog.Default.
	Logger *slog.Logger
}

// Open parses resource and opens the matching channel.
func Open(resource string, opts Options) (Channel, error) {
	res, err := ParseResource(resource)
	if err != nil {
		return nil, err
	}

	switch res.Kind {
	case KindUSB:
		return OpenUSBTMC(res.VendorID, res.ProductID, res.Serial, opts.Logger)
	case KindSerial:
		baud := opts.Baud
		if baud == 0 {
			baud = DefaultBaud
		}
		return OpenSerial(res.Device, baud)
	case KindSim:
		return NewSimInstrument(), nil
	default:
		return nil, fmt.Errorf("visa: unsupported resource kind %q", res.Kind)
	}
}
