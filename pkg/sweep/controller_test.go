package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OpenTraceLab/ledpulse/pkg/dc2200"
	"github.com/OpenTraceLab/ledpulse/pkg/visa"
)

// fakeInstrument records every call in order and can fail selected ones.
type fakeInstrument struct {
	limit    float64
	calls    []string
	output   bool
	clock    *fakeClock
	programs int

	// FailProgramAt makes the n-th ProgramPulse (1-based) fail.
	FailProgramAt int
	FailMeasure   bool
	FailState     bool
	FailTurnOff   bool
}

func newFakeInstrument(limit float64, clock *fakeClock) *fakeInstrument {
	return &fakeInstrument{limit: limit, clock: clock}
}

func (f *fakeInstrument) record(call string) {
	if f.clock != nil {
		call = fmt.Sprintf("%s@%d", call, f.clock.ticks)
	}
	f.calls = append(f.calls, call)
}

func (f *fakeInstrument) SafetyLimit() float64 { return f.limit }

func (f *fakeInstrument) ProgramPulse(spec dc2200.PulseSpec) error {
	f.programs++
	f.record(fmt.Sprintf("program(%g)", spec.TargetMA))
	if f.programs == f.FailProgramAt {
		return fmt.Errorf("%w: injected", dc2200.ErrProtocol)
	}
	return nil
}

func (f *fakeInstrument) FireOutput() error {
	f.record("fire")
	f.output = true
	return nil
}

func (f *fakeInstrument) Measure() (float64, float64, error) {
	f.record("measure")
	if f.FailMeasure {
		return 0, 0, fmt.Errorf("%w: timeout", dc2200.ErrProtocol)
	}
	return 19.8 + float64(f.programs), 3.1, nil
}

func (f *fakeInstrument) TurnOff() error {
	f.record("off")
	if f.FailTurnOff {
		return errors.New("channel error")
	}
	f.output = false
	return nil
}

func (f *fakeInstrument) QueryOutputState() (string, error) {
	f.record("state")
	if f.FailState {
		return "", fmt.Errorf("%w: timeout", dc2200.ErrProtocol)
	}
	if f.output {
		return "1", nil
	}
	return "0", nil
}

func (f *fakeInstrument) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// fakeClock advances instantly and counts ticks. OnSleep runs before each
// tick completes, with the 1-based tick number.
type fakeClock struct {
	ticks   int
	OnSleep func(tick int)
}

func (c *fakeClock) Sleep(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.OnSleep != nil {
		c.OnSleep(c.ticks + 1)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.ticks++
	return nil
}

// recorder collects published events synchronously.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func newTestController(inst Instrument, clock *fakeClock, pub Publisher) *Controller {
	return NewController(inst, WithClock(clock), WithTick(time.Millisecond), WithPublisher(pub))
}

func TestRunCompletesTwoSteps(t *testing.T) {
	clock := &fakeClock{}
	inst := newFakeInstrument(200, clock)
	rec := &recorder{}
	ctl := newTestController(inst, clock, rec)

	out, err := ctl.Run(context.Background(), Plan{Currents: []float64{20, 40}, OnSeconds: 5, OffSeconds: 5})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Fatalf("Status = %v, want completed", out.Status)
	}
	if len(out.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(out.Steps))
	}
	for i, want := range []float64{20, 40} {
		s := out.Steps[i]
		if s.Index != i || s.TargetMA != want {
			t.Errorf("step %d = %+v, want target %v", i, s, want)
		}
		if s.MeasuredMA != 19.8+float64(i+1) || s.MeasuredV != 3.1 {
			t.Errorf("step %d measurement = %v mA / %v V, want passthrough", i, s.MeasuredMA, s.MeasuredV)
		}
		if s.OutputState != "0" {
			t.Errorf("step %d OutputState = %q, want 0", i, s.OutputState)
		}
	}

	// settle 1 + remaining ON 4 + OFF 5 per step, measured at tick 1 after fire.
	want := []string{
		"program(20)@0", "fire@0", "measure@1", "off@5", "state@5",
		"program(40)@10", "fire@10", "measure@11", "off@15", "state@15",
	}
	if strings.Join(inst.calls, " ") != strings.Join(want, " ") {
		t.Fatalf("calls = %v\nwant    %v", inst.calls, want)
	}
	if clock.ticks != 20 {
		t.Fatalf("ticks = %d, want 20", clock.ticks)
	}
	if out.RunID == "" {
		t.Fatalf("RunID is empty")
	}

	last := rec.events[len(rec.events)-1]
	fin, ok := last.(SweepFinishedEvent)
	if !ok || fin.Status != StatusCompleted || fin.Steps != 2 || fin.RunID != out.RunID {
		t.Fatalf("last event = %#v, want completed SweepFinishedEvent", last)
	}
}

func TestRunStepCountMatchesPlan(t *testing.T) {
	for n := 0; n <= 6; n++ {
		clock := &fakeClock{}
		inst := newFakeInstrument(100, clock)
		plan := Plan{OnSeconds: 1, OffSeconds: 0, Countdown: 2}
		for i := 0; i < n; i++ {
			plan.Currents = append(plan.Currents, float64(i*10))
		}

		out, err := newTestController(inst, clock, &recorder{}).Run(context.Background(), plan)
		if err != nil {
			t.Fatalf("n=%d: Run returned error: %v", n, err)
		}
		if out.Status != StatusCompleted || len(out.Steps) != n {
			t.Fatalf("n=%d: outcome %v with %d steps", n, out.Status, len(out.Steps))
		}
	}
}

func TestRunEmptyPlan(t *testing.T) {
	clock := &fakeClock{}
	inst := newFakeInstrument(200, clock)

	out, err := newTestController(inst, clock, &recorder{}).Run(context.Background(), Plan{OnSeconds: 5, OffSeconds: 5, Countdown: 5})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Status != StatusCompleted || len(out.Steps) != 0 {
		t.Fatalf("outcome = %+v, want completed with no steps", out)
	}
	if len(inst.calls) != 0 {
		t.Fatalf("instrument calls = %v, want none", inst.calls)
	}
	if clock.ticks != 0 {
		t.Fatalf("ticks = %d, want 0", clock.ticks)
	}
}

func TestRunShortOnAndZeroOff(t *testing.T) {
	clock := &fakeClock{}
	inst := newFakeInstrument(200, clock)

	out, err := newTestController(inst, clock, &recorder{}).Run(context.Background(), Plan{Currents: []float64{200, 100}, OnSeconds: 1, OffSeconds: 0})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(out.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(out.Steps))
	}
	want := []string{
		"program(200)@0", "fire@0", "measure@1", "off@1", "state@1",
		"program(100)@1", "fire@1", "measure@2", "off@2", "state@2",
	}
	if strings.Join(inst.calls, " ") != strings.Join(want, " ") {
		t.Fatalf("calls = %v\nwant    %v", inst.calls, want)
	}
}

func TestRunProgramFailureAborts(t *testing.T) {
	clock := &fakeClock{}
	inst := newFakeInstrument(200, clock)
	inst.FailProgramAt = 2

	out, err := newTestController(inst, clock, &recorder{}).Run(context.Background(), Plan{Currents: []float64{20, 40, 60}, OnSeconds: 2, OffSeconds: 1})
	if !errors.Is(err, dc2200.ErrProtocol) {
		t.Fatalf("Run error = %v, want ErrProtocol", err)
	}
	if out.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", out.Status)
	}
	if len(out.Steps) != 1 || out.Steps[0].TargetMA != 20 {
		t.Fatalf("Steps = %+v, want only step 1", out.Steps)
	}
	if !errors.Is(out.Err, dc2200.ErrProtocol) {
		t.Fatalf("Outcome.Err = %v, want ErrProtocol", out.Err)
	}

	// One OFF from step 1's shutdown and exactly one after the failure.
	failAt := -1
	for i, c := range inst.calls {
		if strings.HasPrefix(c, "program(40)") {
			failAt = i
		}
	}
	after := inst.calls[failAt+1:]
	if len(after) != 1 || !strings.HasPrefix(after[0], "off") {
		t.Fatalf("calls after failure = %v, want a single off", after)
	}
	if inst.count("program(60)") != 0 {
		t.Fatalf("step 3 was attempted: %v", inst.calls)
	}
}

func TestRunMeasureFailureAborts(t *testing.T) {
	clock := &fakeClock{}
	inst := newFakeInstrument(200, clock)
	inst.FailMeasure = true

	out, err := newTestController(inst, clock, &recorder{}).Run(context.Background(), Plan{Currents: []float64{20, 40}, OnSeconds: 3, OffSeconds: 1})
	if err == nil || out.Status != StatusFailed {
		t.Fatalf("outcome = %v, %v; want failed", out.Status, err)
	}
	if len(out.Steps) != 0 {
		t.Fatalf("Steps = %+v, want none", out.Steps)
	}
	if inst.output {
		t.Fatalf("output left on after failure")
	}
}

func TestRunStateQueryFailureIsRecorded(t *testing.T) {
	clock := &fakeClock{}
	inst := newFakeInstrument(200, clock)
	inst.FailState = true

	out, err := newTestController(inst, clock, &recorder{}).Run(context.Background(), Plan{Currents: []float64{20, 40}, OnSeconds: 1, OffSeconds: 1})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Status != StatusCompleted || len(out.Steps) != 2 {
		t.Fatalf("outcome = %v with %d steps, want completed with 2", out.Status, len(out.Steps))
	}
	for _, s := range out.Steps {
		if s.OutputState != "" {
			t.Errorf("OutputState = %q, want empty", s.OutputState)
		}
		if s.MeasuredV != 3.1 {
			t.Errorf("measurement lost: %+v", s)
		}
	}
}

func TestRunInvalidPlan(t *testing.T) {
	clock := &fakeClock{}
	inst := newFakeInstrument(200, clock)

	tests := []Plan{
		{Currents: []float64{20, 201}, OnSeconds: 5},
		{Currents: []float64{-1}, OnSeconds: 5},
		{Currents: []float64{20}, OnSeconds: 0},
		{Currents: []float64{20}, OnSeconds: 1, OffSeconds: -1},
		{Currents: []float64{20}, OnSeconds: 1, Countdown: -1},
	}
	for _, plan := range tests {
		out, err := newTestController(inst, clock, &recorder{}).Run(context.Background(), plan)
		if !errors.Is(err, dc2200.ErrValidation) || out.Status != StatusFailed {
			t.Errorf("Run(%+v) = %v, %v; want failed ErrValidation", plan, out.Status, err)
		}
	}
	if len(inst.calls) != 0 {
		t.Fatalf("instrument calls = %v, want none", inst.calls)
	}
}

func TestRunCancelBetweenSteps(t *testing.T) {
	plan := Plan{Currents: []float64{10, 20, 30, 40}, OnSeconds: 2, OffSeconds: 3}
	perStep := plan.OnSeconds + plan.OffSeconds

	for i := 0; i < len(plan.Currents)-1; i++ {
		t.Run(fmt.Sprintf("after step %d", i+1), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			clock := &fakeClock{}
			inst := newFakeInstrument(100, clock)
			// Last OFF tick of step i.
			stop := (i + 1) * perStep
			clock.OnSleep = func(tick int) {
				if tick == stop {
					cancel()
				}
			}

			out, err := newTestController(inst, clock, &recorder{}).Run(ctx, plan)
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if out.Status != StatusCancelled {
				t.Fatalf("Status = %v, want cancelled", out.Status)
			}
			if len(out.Steps) != i+1 {
				t.Fatalf("len(Steps) = %d, want %d", len(out.Steps), i+1)
			}
			if out.FinalState != "0" {
				t.Fatalf("FinalState = %q, want 0", out.FinalState)
			}

			n := len(inst.calls)
			if n < 2 || !strings.HasPrefix(inst.calls[n-2], "off") || !strings.HasPrefix(inst.calls[n-1], "state") {
				t.Fatalf("calls did not end with off,state: %v", inst.calls)
			}
			if got := inst.count(fmt.Sprintf("program(%g)", plan.Currents[i+1])); got != 0 {
				t.Fatalf("step %d was programmed after cancel", i+2)
			}
		})
	}
}

func TestRunCancelDuringOnHold(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{}
	inst := newFakeInstrument(100, clock)
	clock.OnSleep = func(tick int) {
		if tick == 3 {
			cancel()
		}
	}

	out, err := newTestController(inst, clock, &recorder{}).Run(ctx, Plan{Currents: []float64{50, 60}, OnSeconds: 10, OffSeconds: 1})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Status != StatusCancelled || len(out.Steps) != 0 {
		t.Fatalf("outcome = %v with %d steps, want cancelled with 0", out.Status, len(out.Steps))
	}
	if inst.output {
		t.Fatalf("output left on after cancel")
	}
	if inst.count("measure") != 1 {
		t.Fatalf("calls = %v, want exactly one measurement", inst.calls)
	}
}

func TestRunCancelDuringCountdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{}
	inst := newFakeInstrument(100, clock)
	clock.OnSleep = func(tick int) {
		if tick == 2 {
			cancel()
		}
	}
	rec := &recorder{}

	out, err := newTestController(inst, clock, rec).Run(ctx, Plan{Currents: []float64{50}, OnSeconds: 1, Countdown: 5})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Status != StatusCancelled || len(out.Steps) != 0 {
		t.Fatalf("outcome = %v with %d steps, want cancelled with 0", out.Status, len(out.Steps))
	}
	if inst.count("program") != 0 || inst.count("fire") != 0 {
		t.Fatalf("pulse programmed during countdown: %v", inst.calls)
	}

	countdowns := 0
	for _, ev := range rec.events {
		if _, ok := ev.(CountdownEvent); ok {
			countdowns++
		}
	}
	if countdowns != 2 {
		t.Fatalf("countdown events = %d, want 2", countdowns)
	}
}

func TestRunCancelTurnOffFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inst := newFakeInstrument(100, nil)
	inst.FailTurnOff = true

	out, err := newTestController(inst, &fakeClock{}, &recorder{}).Run(ctx, Plan{Currents: []float64{50}, OnSeconds: 1})
	if out.Status != StatusCancelled {
		t.Fatalf("Status = %v, want cancelled", out.Status)
	}
	if err == nil {
		t.Fatalf("expected turn-off error to be reported")
	}
}

// TestRunAgainstSimulator drives a real Session over the simulated DC2200.
func TestRunAgainstSimulator(t *testing.T) {
	sim := visa.NewSimInstrument()
	sess, err := dc2200.NewSession(sim, dc2200.Options{Terminal: 2, LimitMA: 200})
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	defer sess.Teardown()
	if err := sess.EnterPulseMode(); err != nil {
		t.Fatalf("EnterPulseMode returned error: %v", err)
	}

	currents, err := Linear(20, 100, 20)
	if err != nil {
		t.Fatalf("Linear returned error: %v", err)
	}
	clock := &fakeClock{}
	out, err := newTestController(sess, clock, &recorder{}).Run(context.Background(), Plan{Currents: currents, OnSeconds: 2, OffSeconds: 1})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(out.Steps) != 5 {
		t.Fatalf("len(Steps) = %d, want 5", len(out.Steps))
	}
	for _, s := range out.Steps {
		if diff := s.MeasuredMA - s.TargetMA; diff > 1e-3 || diff < -1e-3 {
			t.Errorf("step %d measured %v mA, want %v", s.Index, s.MeasuredMA, s.TargetMA)
		}
		if s.OutputState != "0" {
			t.Errorf("step %d OutputState = %q, want 0", s.Index, s.OutputState)
		}
	}
	if sim.State().Output {
		t.Fatalf("simulator output on after sweep")
	}
}
