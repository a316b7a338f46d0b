package sweep

import (
	"fmt"
	"math"

	"github.com/OpenTraceLab/ledpulse/pkg/dc2200"
)

// Plan is one sweep: the ordered target currents and the shared timing.
// Durations are in ticks (seconds in production).
type Plan struct {
	Currents   []float64 // mA
	OnSeconds  int
	OffSeconds int
	Countdown  int
}

// Pulse returns the PulseSpec for step i.
func (p Plan) Pulse(i int) dc2200.PulseSpec {
	return dc2200.PulseSpec{
		TargetMA:   p.Currents[i],
		OnSeconds:  float64(p.OnSeconds),
		OffSeconds: float64(p.OffSeconds),
	}
}

// Validate checks every step against limitMA.
func (p Plan) Validate(limitMA float64) error {
	if p.Countdown < 0 {
		return fmt.Errorf("sweep: countdown %d must not be negative: %w", p.Countdown, dc2200.ErrValidation)
	}
	if len(p.Currents) == 0 {
		return nil
	}
	for i := range p.Currents {
		if err := p.Pulse(i).Validate(limitMA); err != nil {
			return fmt.Errorf("sweep: step %d: %w", i+1, err)
		}
	}
	return nil
}

// MaxSteps bounds the number of pulses one ramp may generate.
const MaxSteps = 10000

// Linear builds the inclusive ramp start, start+step, ... up to end.
func Linear(startMA, endMA, stepMA float64) ([]float64, error) {
	if !(stepMA > 0) || math.IsInf(stepMA, 0) {
		return nil, fmt.Errorf("sweep: step %v mA must be positive: %w", stepMA, dc2200.ErrValidation)
	}
	if !isFinite(startMA) || !isFinite(endMA) {
		return nil, fmt.Errorf("sweep: ramp %v..%v mA must have finite bounds: %w", startMA, endMA, dc2200.ErrValidation)
	}
	n := math.Floor((endMA-startMA)/stepMA+1e-9) + 1
	if n <= 0 {
		return nil, nil
	}
	if n > MaxSteps {
		return nil, fmt.Errorf("sweep: ramp %v..%v mA by %v has %.0f steps, more than %d: %w",
			startMA, endMA, stepMA, n, MaxSteps, dc2200.ErrValidation)
	}
	out := make([]float64, int(n))
	for i := range out {
		out[i] = startMA + float64(i)*stepMA
	}
	return out, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
