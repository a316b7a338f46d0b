package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/OpenTraceLab/ledpulse/internal/config"
	"github.com/OpenTraceLab/ledpulse/internal/events"
	"github.com/OpenTraceLab/ledpulse/internal/logging"
	"github.com/OpenTraceLab/ledpulse/internal/metrics"
	"github.com/OpenTraceLab/ledpulse/pkg/sweep"
	"github.com/spf13/cobra"
)

var (
	repeat int
	tick   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pulse sweep",
	Long: `Connect, switch to pulse mode and run the sweep: a countdown, then for
every target current one pulse (settle 1 s, measure, hold ON, turn off, hold
OFF). After each full sweep you are asked whether to run another one.

When --config names a file, edits to its [sweep] section are picked up
before the next sweep. The safety limit of the open session never changes.

Examples:
  ledpulse run
  ledpulse run --start 10 --end 200 --step 10 --on 3 --off 2
  ledpulse run --resource SIM::INSTR --repeat 3 --metrics-addr :9464`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(runCmd)

	def := config.Default()
	f := runCmd.Flags()
	f.Int("countdown", def.Sweep.Countdown, "seconds before the first pulse")
	f.Int("on", def.Sweep.OnSeconds, "seconds each pulse stays ON (>= 1)")
	f.Int("off", def.Sweep.OffSeconds, "seconds the LED stays OFF after each pulse")
	f.Float64("start", def.Sweep.StartMA, "first current of the ramp in mA")
	f.Float64("end", def.Sweep.EndMA, "last current of the ramp in mA (inclusive)")
	f.Float64("step", def.Sweep.StepMA, "ramp increment in mA")
	f.Float64Slice("currents", nil, "explicit target currents in mA (replaces the ramp)")
	f.String("metrics-addr", def.Metrics.Listen, "serve Prometheus metrics on this address (e.g. :9464)")
	f.IntVar(&repeat, "repeat", 0, "run this many sweeps without prompting (0 asks after each sweep)")
	f.DurationVar(&tick, "tick", time.Second, "length of one sweep second")
	f.MarkHidden("tick")
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.GetLogger("cli")

	bus := events.New()
	defer metrics.Attach(bus)()
	if cfg.Metrics.Listen != "" {
		if _, err := metrics.Serve(ctx, cfg.Metrics.Listen, logging.GetLogger("metrics")); err != nil {
			return fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
	}

	printer := newProgress(os.Stdout)
	defer bus.Stream(printer.handle)()
	defer bus.Subscribe(func(e sweep.SweepFinishedEvent) {
		log.Info("Sweep finished", "run_id", e.RunID, "status", e.Status, "steps", e.Steps)
	})()

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer func() {
		sess.Teardown()
		fmt.Println("Done!")
	}()

	if err := sess.EnterPulseMode(); err != nil {
		return fmt.Errorf("failed to enter pulse mode: %w", err)
	}
	if idn, err := sess.Identify(); err != nil {
		log.Warn("Identification query failed", "error", err)
	} else {
		fmt.Printf("Connected: %s\n", idn)
	}
	fmt.Println("Press Ctrl+C to interrupt the pulse sequence at any time.")

	current := func() config.Config { return cfg }
	if configPath != "" {
		flags := cmd.Flags()
		w := config.NewWatcher(configPath, cfg, func(path string) (config.Config, error) {
			return config.Load(path, flags)
		}, logging.GetLogger("config"), config.WithErrorHandler(func(err error) {
			printer.notice("Config change rejected, keeping the previous plan: %v", err)
		}))
		w.OnReload(func(c config.Config) {
			printer.notice("Config reloaded, the new plan applies to the next sweep")
			if plan, err := c.Plan(); err == nil {
				metrics.RetainPulseReadings(plan.Currents)
			}
		})
		if err := w.Start(); err != nil {
			log.Warn("Config watcher unavailable, plan is fixed for this session", "error", err)
		} else {
			defer w.Stop()
			current = w.Current
		}
	}

	ctl := sweep.NewController(sess,
		sweep.WithTick(tick),
		sweep.WithPublisher(bus),
		sweep.WithLogger(logging.GetLogger("sweep")),
	)
	answers := bufio.NewReader(cmd.InOrStdin())

	for n := 1; ; n++ {
		plan, err := current().Plan()
		if err != nil {
			return err
		}

		out, err := ctl.Run(ctx, plan)
		printer.wait()
		if out.Status != sweep.StatusCompleted {
			return err
		}

		if repeat > 0 {
			if n >= repeat {
				return nil
			}
			continue
		}
		again, err := askAgain(ctx, answers)
		if err != nil {
			fmt.Println("\n⚠️  Interrupted! Turning LED off…")
			return nil
		}
		if !again {
			return nil
		}
	}
}

// askAgain prompts for another sweep. Anything but y/yes, including EOF,
// means no. It returns ctx.Err() when ctx ends before an answer arrives; the
// pending read is abandoned.
func askAgain(ctx context.Context, r *bufio.Reader) (bool, error) {
	fmt.Print("\nRun another full pulse sequence? (y/n): ")

	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := r.ReadString('\n')
		answers <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-answers:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
