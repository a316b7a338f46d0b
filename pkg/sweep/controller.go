package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OpenTraceLab/ledpulse/pkg/dc2200"
	"github.com/google/uuid"
)

// Instrument is the part of *dc2200.Session the controller drives.
type Instrument interface {
	SafetyLimit() float64
	ProgramPulse(spec dc2200.PulseSpec) error
	FireOutput() error
	Measure() (currentMA, voltageV float64, err error)
	TurnOff() error
	QueryOutputState() (string, error)
}

// SettleTicks is the fixed delay between firing and measuring.
const SettleTicks = 1

// Controller runs sweeps against one instrument. It provides no mutual
// exclusion: callers must not run two sweeps on the same instrument at once.
type Controller struct {
	inst      Instrument
	clock     Clock
	tick      time.Duration
	publisher Publisher
	log       *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithTick sets the duration of one time unit. Default is one second.
func WithTick(d time.Duration) Option {
	return func(ctl *Controller) { ctl.tick = d }
}

// WithPublisher sets where progress events go.
func WithPublisher(p Publisher) Option {
	return func(ctl *Controller) { ctl.publisher = p }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.log = l }
}

// NewController builds a controller for inst.
func NewController(inst Instrument, opts ...Option) *Controller {
	ctl := &Controller{
		inst:      inst,
		clock:     RealClock{},
		tick:      time.Second,
		publisher: nopPublisher{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// run carries the per-invocation state of one sweep.
type run struct {
	*Controller
	id    string
	plan  Plan
	steps []StepResult
}

// Run executes plan. The output is OFF whenever Run is not inside an ON hold,
// and is forced OFF before Run returns on every path.
//
// Cancelling ctx stops the sweep at the next suspension point: the output is
// turned off, its state read back, and a StatusCancelled outcome is returned
// with the steps that had already completed. The error is non-nil for
// StatusFailed, and for StatusCancelled only when the forced turn-off failed.
func (c *Controller) Run(ctx context.Context, plan Plan) (Outcome, error) {
	r := &run{Controller: c, id: uuid.NewString(), plan: plan}
	log := c.log.With("run_id", r.id)

	if err := plan.Validate(c.inst.SafetyLimit()); err != nil {
		return r.finish(Outcome{Status: StatusFailed, Err: err})
	}

	if len(plan.Currents) == 0 {
		log.Info("Empty sweep plan, nothing to do")
		return r.finish(Outcome{Status: StatusCompleted})
	}

	c.publisher.Publish(SweepStartedEvent{RunID: r.id, Steps: len(plan.Currents)})
	log.Info("Sweep started", "steps", len(plan.Currents), "on_s", plan.OnSeconds, "off_s", plan.OffSeconds)

	for remaining := plan.Countdown; remaining > 0; remaining-- {
		c.publisher.Publish(CountdownEvent{RunID: r.id, Remaining: remaining})
		if err := c.clock.Sleep(ctx, c.tick); err != nil {
			return r.cancel(ctx)
		}
	}

	for i := range plan.Currents {
		if ctx.Err() != nil {
			return r.cancel(ctx)
		}
		if err := r.step(ctx, i); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return r.cancel(ctx)
			}
			return r.abort(i, err)
		}
	}

	log.Info("Sweep completed", "steps", len(r.steps))
	return r.finish(Outcome{Status: StatusCompleted, Steps: r.steps})
}

// step runs PER_STEP(i). A returned error is either a sequencing failure or
// the context error from an interrupted wait.
func (r *run) step(ctx context.Context, i int) error {
	spec := r.plan.Pulse(i)
	total := len(r.plan.Currents)

	if err := r.inst.ProgramPulse(spec); err != nil {
		return fmt.Errorf("program step %d: %w", i+1, err)
	}
	if err := r.inst.FireOutput(); err != nil {
		return fmt.Errorf("fire step %d: %w", i+1, err)
	}
	r.publisher.Publish(PulseStartedEvent{RunID: r.id, Index: i, Total: total, TargetMA: spec.TargetMA})

	if err := r.hold(ctx, i, PhaseSettle, SettleTicks); err != nil {
		return err
	}
	ma, v, err := r.inst.Measure()
	if err != nil {
		return fmt.Errorf("measure step %d: %w", i+1, err)
	}
	r.publisher.Publish(MeasuredEvent{RunID: r.id, Index: i, TargetMA: spec.TargetMA, CurrentMA: ma, VoltageV: v})

	if err := r.hold(ctx, i, PhaseOn, r.plan.OnSeconds-SettleTicks); err != nil {
		return err
	}

	if err := r.inst.TurnOff(); err != nil {
		return fmt.Errorf("turn off step %d: %w", i+1, err)
	}
	state, err := r.inst.QueryOutputState()
	if err != nil {
		r.log.Warn("Output state query failed", "run_id", r.id, "step", i+1, "error", err)
		state = ""
	}
	r.steps = append(r.steps, StepResult{
		Index:       i,
		TargetMA:    spec.TargetMA,
		MeasuredMA:  ma,
		MeasuredV:   v,
		OutputState: state,
	})
	r.publisher.Publish(PulseOffEvent{RunID: r.id, Index: i, State: state})

	return r.hold(ctx, i, PhaseOff, r.plan.OffSeconds)
}

// hold waits n ticks, one interruptible sleep per tick.
func (r *run) hold(ctx context.Context, i int, phase Phase, n int) error {
	for remaining := n; remaining > 0; remaining-- {
		if phase != PhaseSettle {
			r.publisher.Publish(HoldTickEvent{RunID: r.id, Index: i, Phase: phase, Remaining: remaining})
		}
		if err := r.clock.Sleep(ctx, r.tick); err != nil {
			return err
		}
	}
	return nil
}

// abort handles a failed step: force the output off once and stop.
func (r *run) abort(i int, err error) (Outcome, error) {
	r.log.Error("Sweep aborted", "run_id", r.id, "step", i+1, "error", err)
	if offErr := r.inst.TurnOff(); offErr != nil {
		r.log.Error("Turn off after failure failed", "run_id", r.id, "error", offErr)
	}
	return r.finish(Outcome{Status: StatusFailed, Steps: r.steps, Err: err})
}

// cancel is the CANCELLING state.
func (r *run) cancel(ctx context.Context) (Outcome, error) {
	r.log.Warn("Sweep interrupted, turning output off", "run_id", r.id, "completed", len(r.steps), "cause", context.Cause(ctx))

	out := Outcome{Status: StatusCancelled, Steps: r.steps}
	if err := r.inst.TurnOff(); err != nil {
		out.Err = fmt.Errorf("turn off after cancel: %w", err)
	}
	state, err := r.inst.QueryOutputState()
	if err != nil {
		r.log.Warn("Output state query failed after cancel", "run_id", r.id, "error", err)
	}
	out.FinalState = state
	return r.finish(out)
}

func (r *run) finish(out Outcome) (Outcome, error) {
	out.RunID = r.id
	r.publisher.Publish(SweepFinishedEvent{
		RunID:      r.id,
		Status:     out.Status,
		Steps:      len(out.Steps),
		FinalState: out.FinalState,
		Err:        out.Err,
	})
	return out, out.Err
}
