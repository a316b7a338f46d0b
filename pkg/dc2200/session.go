package dc2200

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/OpenTraceLab/ledpulse/pkg/visa"
)

// Mode is the source modulation mode.
type Mode int

const (
	ModeContinuous Mode = iota
	ModePulse
)

func (m Mode) String() string {
	if m == ModePulse {
		return "pulse"
	}
	return "continuous"
}

// Options configure a new Session.
type Options struct {
	Terminal int           // LED head terminal, 1 or 2
	LimitMA  float64       // safety current limit
	Timeout  time.Duration // per-command channel timeout; zero keeps the channel default
	Baud     int           // serial resources only
	Logger   *slog.Logger
}

// Session is one open, configured connection to a DC2200. It is not safe for
// concurrent use; callers serialize sweeps against it.
type Session struct {
	ch       visa.Channel
	terminal int
	limitMA  float64
	mode     Mode
	timeout  time.Duration
	closed   bool
	log      *slog.Logger
}

// Opener opens a command channel; replaced in tests.
var Opener = visa.Open

// Initialize opens resource and brings the instrument to a known baseline:
// reset (output off), safety limit applied, terminal selected.
func Initialize(resource string, opts Options) (*Session, error) {
	if err := checkOptions(opts); err != nil {
		return nil, err
	}
	ch, err := Opener(resource, visa.Options{Baud: opts.Baud, Logger: opts.Logger})
	if err != nil {
		return nil, &CommandError{Kind: ErrConnection, Command: resource, Err: err}
	}
	return NewSession(ch, opts)
}

// NewSession configures an already open channel. The channel is closed if
// configuration fails.
func NewSession(ch visa.Channel, opts Options) (*Session, error) {
	if err := checkOptions(opts); err != nil {
		ch.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		ch:       ch,
		terminal: opts.Terminal,
		limitMA:  opts.LimitMA,
		mode:     ModeContinuous,
		timeout:  opts.Timeout,
		log:      logger,
	}

	if opts.Timeout > 0 {
		if err := ch.SetTimeout(opts.Timeout); err != nil {
			ch.Close()
			return nil, &CommandError{Kind: ErrConnection, Command: "set timeout", Err: err}
		}
	}

	for _, cmd := range []string{CmdReset, CurrentLimitCmd(s.limitMA), TerminalCmd(s.terminal)} {
		if err := s.write(cmd); err != nil {
			ch.Close()
			return nil, err
		}
	}

	s.log.Info("Instrument initialized", "terminal", s.terminal, "limit_ma", s.limitMA, "timeout", opts.Timeout)
	return s, nil
}

func checkOptions(opts Options) error {
	if !(opts.LimitMA > 0) {
		return validationError("safety limit %v mA must be positive", opts.LimitMA)
	}
	if opts.Terminal != 1 && opts.Terminal != 2 {
		return validationError("terminal %d must be 1 or 2", opts.Terminal)
	}
	return nil
}

// SafetyLimit returns the session's immutable current limit in mA.
func (s *Session) SafetyLimit() float64 { return s.limitMA }

// Terminal returns the selected LED terminal.
func (s *Session) Terminal() int { return s.terminal }

// Mode returns the current source mode.
func (s *Session) Mode() Mode { return s.mode }

// Timeout returns the configured channel timeout.
func (s *Session) Timeout() time.Duration { return s.timeout }

// EnterPulseMode switches to pulse modulation and re-asserts the limit; the
// mode switch can reset the limit register.
func (s *Session) EnterPulseMode() error {
	if err := s.write(CmdPulseMode); err != nil {
		return err
	}
	s.mode = ModePulse
	return s.write(CurrentLimitCmd(s.limitMA))
}

// ProgramPulse writes amplitude, ON time, OFF time and count for one pulse.
// Nothing is written when spec fails validation.
func (s *Session) ProgramPulse(spec PulseSpec) error {
	if err := spec.Validate(s.limitMA); err != nil {
		return err
	}
	pct := spec.Brightness(s.limitMA)
	for _, cmd := range []string{
		BrightnessCmd(pct),
		OnTimeCmd(spec.OnSeconds),
		OffTimeCmd(spec.OffSeconds),
		CountCmd(PulseCount),
	} {
		if err := s.write(cmd); err != nil {
			return err
		}
	}
	s.log.Debug("Pulse programmed", "target_ma", spec.TargetMA, "brightness_pct", pct)
	return nil
}

// FireOutput energizes the LED with the programmed pulse.
func (s *Session) FireOutput() error {
	return s.write(CmdOutputOn)
}

// TurnOff de-energizes the output. Safe to repeat in any state.
func (s *Session) TurnOff() error {
	return s.write(CmdOutputOff)
}

// QueryOutputState reads back the output state as reported by the instrument.
func (s *Session) QueryOutputState() (string, error) {
	return s.query(CmdOutputQuery)
}

// Measure returns DC current in mA and DC voltage in V.
func (s *Session) Measure() (currentMA, voltageV float64, err error) {
	amps, err := s.queryFloat(CmdMeasCurrentDC)
	if err != nil {
		return 0, 0, err
	}
	volts, err := s.queryFloat(CmdMeasVoltageDC)
	if err != nil {
		return 0, 0, err
	}
	return amps * 1000, volts, nil
}

// Identify returns the *IDN? string.
func (s *Session) Identify() (string, error) {
	return s.query(CmdIdentify)
}

// Teardown turns the output off and closes the channel. Errors from either
// step are discarded; it runs on every exit path, including after a failure.
// Calling it again is a no-op.
func (s *Session) Teardown() {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.ch.Write(CmdOutputOff); err != nil {
		s.log.Debug("Teardown: output off failed", "error", err)
	}
	if err := s.ch.Close(); err != nil {
		s.log.Debug("Teardown: close failed", "error", err)
	}
	s.log.Info("Instrument session closed")
}

func (s *Session) write(cmd string) error {
	if s.closed {
		return &CommandError{Kind: ErrConnection, Command: cmd, Err: visa.ErrClosed}
	}
	s.log.Debug("write", "cmd", cmd)
	if err := s.ch.Write(cmd); err != nil {
		return protocolError(cmd, err)
	}
	return nil
}

func (s *Session) query(cmd string) (string, error) {
	if s.closed {
		return "", &CommandError{Kind: ErrConnection, Command: cmd, Err: visa.ErrClosed}
	}
	reply, err := s.ch.Query(cmd)
	if err != nil {
		return "", protocolError(cmd, err)
	}
	reply = strings.TrimSpace(reply)
	s.log.Debug("query", "cmd", cmd, "reply", reply)
	return reply, nil
}

func (s *Session) queryFloat(cmd string) (float64, error) {
	reply, err := s.query(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, protocolError(cmd, fmt.Errorf("unparsable reply %q", reply))
	}
	return v, nil
}
