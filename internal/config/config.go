// Package config loads ledpulse configuration from a TOML file, LEDPULSE_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/OpenTraceLab/ledpulse/internal/logging"
	"github.com/OpenTraceLab/ledpulse/pkg/dc2200"
	"github.com/OpenTraceLab/ledpulse/pkg/sweep"
	"github.com/OpenTraceLab/ledpulse/pkg/visa"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "LEDPULSE_"

// Config is the full ledpulse configuration.
//
// Fields tagged env are overridden by EnvPrefix+tag, fields tagged flag by a
// changed command-line flag of that name.
type Config struct {
	Instrument Instrument     `toml:"instrument"`
	Sweep      Sweep          `toml:"sweep"`
	Logging    logging.Config `toml:"logging"`
	Metrics    Metrics        `toml:"metrics"`
}

// Instrument selects and configures the LED driver.
type Instrument struct {
	Resource string   `toml:"resource" env:"RESOURCE" flag:"resource"`
	Terminal int      `toml:"terminal" env:"TERMINAL" flag:"terminal"`
	Timeout  Duration `toml:"timeout" env:"TIMEOUT" flag:"timeout"`
	Baud     int      `toml:"baud" env:"BAUD" flag:"baud"`
}

// Sweep describes the pulse sequence. Currents, when set, replaces the
// start/end/step ramp.
type Sweep struct {
	LimitMA    float64   `toml:"limit_ma" env:"LIMIT_MA" flag:"limit"`
	Countdown  int       `toml:"countdown" env:"COUNTDOWN" flag:"countdown"`
	OnSeconds  int       `toml:"on_seconds" env:"ON_SECONDS" flag:"on"`
	OffSeconds int       `toml:"off_seconds" env:"OFF_SECONDS" flag:"off"`
	StartMA    float64   `toml:"start_ma" env:"START_MA" flag:"start"`
	EndMA      float64   `toml:"end_ma" env:"END_MA" flag:"end"`
	StepMA     float64   `toml:"step_ma" env:"STEP_MA" flag:"step"`
	Currents   []float64 `toml:"currents" env:"CURRENTS" flag:"currents"`
}

// Metrics configures the Prometheus endpoint. Empty Listen disables it.
type Metrics struct {
	Listen string `toml:"listen" env:"METRICS_LISTEN" flag:"metrics-addr"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration of the bench setup the tool was written
// for: a DC2200 on USB, LED on terminal 2, 20..100 mA in 20 mA steps.
func Default() Config {
	return Config{
		Instrument: Instrument{
			Resource: "USB0::0x1313::0x80C8::M00811426::INSTR",
			Terminal: 2,
			Timeout:  Duration{visa.DefaultTimeout},
			Baud:     visa.DefaultBaud,
		},
		Sweep: Sweep{
			LimitMA:    200,
			Countdown:  5,
			OnSeconds:  5,
			OffSeconds: 5,
			StartMA:    20,
			EndMA:      100,
			StepMA:     20,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration with precedence flags > env > file > defaults
// and validates the result. An empty path skips the file. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if flags != nil {
		if err := applyFlags(&cfg, flags); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode reads TOML over cfg. Keys absent from data keep their current
// values; unknown keys are errors so typos do not silently fall back to
// defaults.
func decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(cfg)

	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		return errors.New(strict.String())
	}
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return fmt.Errorf("line %d column %d: %w", row, col, err)
	}
	return err
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := visa.ParseResource(c.Instrument.Resource); err != nil {
		errs = append(errs, err)
	}
	if c.Instrument.Terminal != 1 && c.Instrument.Terminal != 2 {
		errs = append(errs, fmt.Errorf("instrument.terminal %d must be 1 or 2", c.Instrument.Terminal))
	}
	if c.Instrument.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("instrument.timeout %v must be positive", c.Instrument.Timeout.Duration))
	}
	if c.Instrument.Baud < 0 {
		errs = append(errs, fmt.Errorf("instrument.baud %d must not be negative", c.Instrument.Baud))
	}

	if !(c.Sweep.LimitMA > 0) || math.IsInf(c.Sweep.LimitMA, 1) {
		errs = append(errs, fmt.Errorf("sweep.limit_ma %v must be positive and finite", c.Sweep.LimitMA))
	} else if plan, err := c.Plan(); err != nil {
		errs = append(errs, err)
	} else if err := plan.Validate(c.Sweep.LimitMA); err != nil {
		errs = append(errs, err)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	for module, level := range c.Logging.Modules {
		if !logging.ValidLevel(level) {
			errs = append(errs, fmt.Errorf("logging.modules.%s %q is not a level", module, level))
		}
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w: %w", dc2200.ErrValidation, errors.Join(errs...))
	}
	return nil
}

// Plan builds the sweep plan. It does not check currents against the limit;
// the controller does that against the live session.
func (c Config) Plan() (sweep.Plan, error) {
	currents := append([]float64(nil), c.Sweep.Currents...)
	if len(currents) == 0 {
		var err error
		currents, err = sweep.Linear(c.Sweep.StartMA, c.Sweep.EndMA, c.Sweep.StepMA)
		if err != nil {
			return sweep.Plan{}, err
		}
	}
	return sweep.Plan{
		Currents:   currents,
		OnSeconds:  c.Sweep.OnSeconds,
		OffSeconds: c.Sweep.OffSeconds,
		Countdown:  c.Sweep.Countdown,
	}, nil
}

// SessionOptions maps the instrument section onto dc2200 options.
func (c Config) SessionOptions() dc2200.Options {
	return dc2200.Options{
		Terminal: c.Instrument.Terminal,
		LimitMA:  c.Sweep.LimitMA,
		Timeout:  c.Instrument.Timeout.Duration,
		Baud:     c.Instrument.Baud,
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	return walk(reflect.ValueOf(cfg).Elem(), func(field reflect.Value, sf reflect.StructField) error {
		key := sf.Tag.Get("env")
		if key == "" {
			return nil
		}
		value, ok := lookup(EnvPrefix + key)
		if !ok || value == "" {
			return nil
		}
		if err := setFromString(field, value); err != nil {
			return fmt.Errorf("config: %s%s=%q: %w", EnvPrefix, key, value, err)
		}
		return nil
	})
}

func applyFlags(cfg *Config, flags *pflag.FlagSet) error {
	return walk(reflect.ValueOf(cfg).Elem(), func(field reflect.Value, sf reflect.StructField) error {
		name := sf.Tag.Get("flag")
		if name == "" {
			return nil
		}
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			return nil
		}
		// Slice flags render as "[a,b,c]".
		value := strings.TrimSuffix(strings.TrimPrefix(f.Value.String(), "["), "]")
		if err := setFromString(field, value); err != nil {
			return fmt.Errorf("config: --%s: %w", name, err)
		}
		return nil
	})
}

var durationType = reflect.TypeOf(Duration{})

// walk calls fn for every leaf field of the struct v, descending into nested
// config sections.
func walk(v reflect.Value, fn func(reflect.Value, reflect.StructField) error) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field, sf := v.Field(i), t.Field(i)
		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := walk(field, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(field, sf); err != nil {
			return err
		}
	}
	return nil
}

func setFromString(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(Duration{d}))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		i, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		field.SetInt(int64(i))
	case reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		var out []float64
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
