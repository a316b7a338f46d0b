package visa

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OpenTraceLab/ledpulse/pkg/scpi"
)

// Simulated LED load: V = ForwardVoltage + I * SeriesOhms while lit.
const (
	simForwardVoltage = 2.9
	simSeriesOhms     = 1.5
	simMaxLimitAmps   = 2.0
	simIdentity       = "Thorlabs,DC2200,SIM00000,1.0.0"
)

var simParser = sync.OnceValues(scpi.NewParser)

// FaultHook lets tests fail a command before the simulator processes it.
// Returning nil lets the command through.
type FaultHook func(cmd string) error

// SimState is a snapshot of the simulated driver registers.
type SimState struct {
	LimitAmps  float64
	Terminal   int
	PulseMode  bool
	Brightness float64
	OnTime     float64
	OffTime    float64
	Count      int
	Output     bool
	Resets     int
	Closed     bool
}

// SimInstrument is an in-memory DC2200 useful for unit tests and dry runs. It
// understands the command subset the sweep uses, rejects out-of-range data
// the way the hardware does, and records every command it receives.
type SimInstrument struct {
	OnCommand FaultHook

	mu      sync.Mutex
	state   SimState
	log     []string
	timeout time.Duration
}

// NewSimInstrument constructs a simulator in its power-on state.
func NewSimInstrument() *SimInstrument {
	s := &SimInstrument{timeout: DefaultTimeout}
	s.reset()
	return s
}

func (s *SimInstrument) reset() {
	resets := s.state.Resets
	s.state = SimState{LimitAmps: simMaxLimitAmps, Terminal: 1, Count: 1, Resets: resets}
}

// State returns a copy of the current register state.
func (s *SimInstrument) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Commands returns every command received so far, in order.
func (s *SimInstrument) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Timeout reports the last value passed to SetTimeout.
func (s *SimInstrument) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

func (s *SimInstrument) Write(cmd string) error {
	_, err := s.exec(cmd, false)
	return err
}

func (s *SimInstrument) Query(cmd string) (string, error) {
	return s.exec(cmd, true)
}

func (s *SimInstrument) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("visa: invalid timeout %v", d)
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
	return nil
}

func (s *SimInstrument) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Closed {
		return ErrClosed
	}
	s.state.Closed = true
	return nil
}

func (s *SimInstrument) exec(raw string, query bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Closed {
		return "", ErrClosed
	}
	s.log = append(s.log, raw)

	if s.OnCommand != nil {
		if err := s.OnCommand(raw); err != nil {
			return "", err
		}
	}

	parser, err := simParser()
	if err != nil {
		return "", err
	}
	cmd, err := parser.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("visa: sim: -102,Syntax error: %w", err)
	}
	if cmd.Query != query {
		return "", fmt.Errorf("visa: sim: %s: -410,Query mismatch", raw)
	}
	if query {
		return s.answer(cmd)
	}
	return "", s.apply(cmd)
}

func (s *SimInstrument) apply(cmd *scpi.Command) error {
	switch {
	case cmd.Matches("*RST"):
		s.reset()
		s.state.Resets++
		return nil

	case cmd.Matches("SOURce#:CURRent:LIMit[:AMPLitude]"):
		v, err := cmd.Float(0)
		if err != nil {
			return err
		}
		if v <= 0 || v > simMaxLimitAmps {
			return outOfRange(cmd)
		}
		s.state.LimitAmps = v

	case cmd.Matches("OUTPut#:TERMinal"):
		v, err := cmd.Float(0)
		if err != nil {
			return err
		}
		if v != 1 && v != 2 {
			return outOfRange(cmd)
		}
		s.state.Terminal = int(v)

	case cmd.Matches("SOURce#:MODe"):
		if len(cmd.Args) != 1 {
			return outOfRange(cmd)
		}
		s.state.PulseMode = strings.HasPrefix(strings.ToUpper(cmd.Args[0]), "PULS")

	case cmd.Matches("SOURce#:PULSe:BRIGhtness:LEVel[:AMPLitude]"):
		v, err := cmd.Float(0)
		if err != nil {
			return err
		}
		if v < 0 || v > 100 {
			return outOfRange(cmd)
		}
		s.state.Brightness = v

	case cmd.Matches("SOURce#:PULSe:ONTime"):
		v, err := cmd.Float(0)
		if err != nil {
			return err
		}
		if v <= 0 {
			return outOfRange(cmd)
		}
		s.state.OnTime = v

	case cmd.Matches("SOURce#:PULSe:OFFTime"):
		v, err := cmd.Float(0)
		if err != nil {
			return err
		}
		if v < 0 {
			return outOfRange(cmd)
		}
		s.state.OffTime = v

	case cmd.Matches("SOURce#:PULSe:COUNt"):
		v, err := cmd.Float(0)
		if err != nil {
			return err
		}
		if v < 1 {
			return outOfRange(cmd)
		}
		s.state.Count = int(v)

	case cmd.Matches("OUTPut#[:STATe]"):
		on, err := cmd.Bool(0)
		if err != nil {
			return err
		}
		s.state.Output = on

	default:
		return fmt.Errorf("visa: sim: %s: -113,Undefined header", cmd.Raw)
	}
	return nil
}

func (s *SimInstrument) answer(cmd *scpi.Command) (string, error) {
	switch {
	case cmd.Matches("*IDN?"):
		return simIdentity, nil
	case cmd.Matches("OUTPut#[:STATe]?"):
		if s.state.Output {
			return "1", nil
		}
		return "0", nil
	case cmd.Matches("MEASure:CURRent[:DC]?"):
		return strconv.FormatFloat(s.current(), 'E', 6, 64), nil
	case cmd.Matches("MEASure:VOLTage[:DC]?"):
		v := 0.0
		if i := s.current(); i > 0 {
			v = simForwardVoltage + i*simSeriesOhms
		}
		return strconv.FormatFloat(v, 'E', 6, 64), nil
	}
	return "", fmt.Errorf("visa: sim: %s: -113,Undefined header", cmd.Raw)
}

// current returns the LED current in amps for the present register state.
func (s *SimInstrument) current() float64 {
	if !s.state.Output || !s.state.PulseMode {
		return 0
	}
	return s.state.LimitAmps * s.state.Brightness / 100
}

func outOfRange(cmd *scpi.Command) error {
	return fmt.Errorf("visa: sim: %s: -222,Data out of range", cmd.Raw)
}
