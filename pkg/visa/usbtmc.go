package visa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gousb"
)

const (
	// USBTMC interface class triple (application class, subclass 3)
	ClassUSBTMC    = gousb.Class(0xFE)
	SubClassUSBTMC = gousb.Class(0x03)

	// MaxReadSize caps a single REQUEST_DEV_DEP_MSG_IN.
	MaxReadSize = 1024
)

// USBTMC is a Channel speaking USB Test & Measurement Class over bulk
// endpoints. Replies are newline terminated.
type USBTMC struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	protocol *USBTMCProtocol
	timeout  time.Duration

	mu sync.Mutex
}

// OpenUSBTMC opens the first USBTMC device matching vid/pid, and serial when
// it is not empty.
func OpenUSBTMC(vid, pid uint16, serial string, logger *slog.Logger) (*USBTMC, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil && matchesSerial(d, serial) {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("visa: USB error: %w", err)
		}
		return nil, fmt.Errorf("visa: device not found (VID:0x%04X PID:0x%04X serial %q)", vid, pid, serial)
	}

	enableAutoDetach(dev, logger)

	t := &USBTMC{
		ctx:      ctx,
		dev:      dev,
		protocol: NewUSBTMCProtocol(),
		timeout:  DefaultTimeout,
	}
	if err := t.claimInterface(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

type autoDetacher interface {
	SetAutoDetach(bool) error
}

// enableAutoDetach asks libusb to release the kernel driver on claim. Some
// platforms do not support it; claiming may still succeed there.
func enableAutoDetach(dev autoDetacher, logger *slog.Logger) {
	if err := dev.SetAutoDetach(true); err != nil {
		logger.Debug("Kernel driver auto-detach unavailable", "error", err)
	}
}

func matchesSerial(d *gousb.Device, serial string) bool {
	if serial == "" {
		return true
	}
	got, err := d.SerialNumber()
	return err == nil && got == serial
}

// claimInterface finds and claims the USBTMC interface
func (t *USBTMC) claimInterface() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("visa: failed to get config: %w", err)
	}
	t.cfg = cfg

	intfNum := -1
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) == 0 {
			continue
		}
		alt := intf.AltSettings[0]
		if alt.Class == ClassUSBTMC && alt.SubClass == SubClassUSBTMC {
			intfNum = intf.Number
			break
		}
	}
	if intfNum == -1 {
		return fmt.Errorf("visa: no USBTMC interface on device")
	}

	intf, err := cfg.Interface(intfNum, 0)
	if err != nil {
		return fmt.Errorf("visa: failed to claim interface %d: %w", intfNum, err)
	}
	t.intf = intf

	return t.findEndpoints()
}

// findEndpoints discovers the bulk IN and OUT endpoints
func (t *USBTMC) findEndpoints() error {
	var outAddr, inAddr int
	for _, ep := range t.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionOut && outAddr == 0 {
			outAddr = ep.Number
		}
		if ep.Direction == gousb.EndpointDirectionIn && inAddr == 0 {
			inAddr = ep.Number
		}
	}
	if outAddr == 0 {
		return fmt.Errorf("visa: bulk OUT endpoint not found")
	}
	if inAddr == 0 {
		return fmt.Errorf("visa: bulk IN endpoint not found")
	}

	epOut, err := t.intf.OutEndpoint(outAddr)
	if err != nil {
		return fmt.Errorf("visa: failed to open OUT endpoint: %w", err)
	}
	t.epOut = epOut

	epIn, err := t.intf.InEndpoint(inAddr)
	if err != nil {
		return fmt.Errorf("visa: failed to open IN endpoint: %w", err)
	}
	t.epIn = epIn
	return nil
}

// Write sends one program message.
func (t *USBTMC) Write(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(cmd)
}

// Query sends cmd and reads the reply until the device signals EOM.
func (t *USBTMC) Query(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.write(cmd); err != nil {
		return "", err
	}

	var reply bytes.Buffer
	for {
		if t.epOut == nil {
			return "", ErrClosed
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		_, err := t.epOut.WriteContext(ctx, t.protocol.EncodeRequestDevDepIn(MaxReadSize))
		if err != nil {
			cancel()
			return "", t.ioError("request", err)
		}

		buf := make([]byte, HeaderSize+MaxReadSize+4)
		n, err := t.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil {
			return "", t.ioError("read", err)
		}

		payload, eom, err := t.protocol.DecodeDevDepIn(buf[:n])
		if err != nil {
			return "", fmt.Errorf("visa: %s: %w", cmd, err)
		}
		reply.Write(payload)
		if eom {
			break
		}
	}
	return string(bytes.TrimRight(reply.Bytes(), "\r\n")), nil
}

func (t *USBTMC) write(cmd string) error {
	if t.epOut == nil {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	if _, err := t.epOut.WriteContext(ctx, t.protocol.EncodeDevDepOut([]byte(cmd+"\n"))); err != nil {
		return t.ioError("write", err)
	}
	return nil
}

func (t *USBTMC) ioError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gousb.ErrorTimeout) || errors.Is(err, gousb.TransferTimedOut) {
		return fmt.Errorf("visa: USB %s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("visa: USB %s failed: %w", op, err)
}

// SetTimeout sets the per-transfer timeout.
func (t *USBTMC) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("visa: invalid timeout %v", d)
	}
	t.mu.Lock()
	t.timeout = d
	t.mu.Unlock()
	return nil
}

// Close releases USB resources
func (t *USBTMC) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.epOut, t.epIn = nil, nil
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}
