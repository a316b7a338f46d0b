package cmd

import (
	"fmt"
	"os"

	"github.com/OpenTraceLab/ledpulse/internal/config"
	"github.com/OpenTraceLab/ledpulse/internal/logging"
	"github.com/OpenTraceLab/ledpulse/pkg/dc2200"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// cfg is loaded before every subcommand runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ledpulse",
	Short: "Pulsed-current LED sweeps on a DC2200 LED driver",
	Long: `Drive a Thorlabs DC2200 LED driver through a pulsed-current sweep:
apply a safety current limit, step through target currents, fire one pulse
per step, measure current and voltage mid-pulse and keep the LED off between
pulses. Ctrl+C turns the LED off and stops at any time.

Settings come from a TOML file (--config), LEDPULSE_* environment variables
and flags, flags winning.

Examples:
  ledpulse run                                        # Default 20..100 mA sweep
  ledpulse run --resource SIM::INSTR --repeat 1       # Dry run on the simulator
  ledpulse run --currents 10,50,150 --on 2 --off 3    # Explicit current list
  ledpulse idn -r ASRL/dev/ttyACM0::INSTR             # Print identification
  ledpulse off                                        # Force the LED off`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	def := config.Default()

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.String("log-level", def.Logging.Level, "log level (debug, info, warn, error)")

	pf.StringP("resource", "r", def.Instrument.Resource,
		"instrument resource (USB0::0xVVVV::0xPPPP[::SERIAL]::INSTR, ASRL<dev>::INSTR, SIM::INSTR)")
	pf.IntP("terminal", "t", def.Instrument.Terminal, "LED terminal (1 or 2)")
	pf.Duration("timeout", def.Instrument.Timeout.Duration, "per-command I/O timeout")
	pf.Int("baud", def.Instrument.Baud, "baud rate for ASRL resources")
	pf.Float64("limit", def.Sweep.LimitMA, "safety current limit in mA")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	cfg = loaded

	logging.Initialize(cfg.Logging)
	if verbose {
		logging.SetLevel("debug")
	}
	return nil
}

// openSession connects to the configured instrument and applies the
// baseline (reset, safety limit, terminal).
func openSession() (*dc2200.Session, error) {
	opts := cfg.SessionOptions()
	opts.Logger = logging.GetLogger("session")

	if verbose {
		fmt.Printf("Opening %s (terminal %d, limit %g mA)...\n", cfg.Instrument.Resource, opts.Terminal, opts.LimitMA)
	}

	sess, err := dc2200.Initialize(cfg.Instrument.Resource, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrument: %w", err)
	}
	return sess, nil
}
