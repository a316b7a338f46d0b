package metrics

import (
	"github.com/OpenTraceLab/ledpulse/internal/events"
	"github.com/OpenTraceLab/ledpulse/pkg/sweep"
)

// Attach updates the collectors from bus. It uses the ordered stream so the
// output gauge follows fire/off in sequence. Call the returned func to detach.
func Attach(bus *events.Bus) func() {
	return bus.Stream(observe)
}

func observe(ev sweep.Event) {
	switch e := ev.(type) {
	case sweep.SweepStartedEvent:
		sweepActive.Set(1)
		sweepPlanned.Set(float64(e.Steps))
	case sweep.PulseStartedEvent:
		SetOutputOn(true)
	case sweep.MeasuredEvent:
		SetPulseReading(e.TargetMA, e.CurrentMA, e.VoltageV)
	case sweep.PulseOffEvent:
		SetOutputOn(e.State == "1")
		sweepSteps.Inc()
	case sweep.SweepFinishedEvent:
		sweepActive.Set(0)
		SetOutputOn(e.Status != sweep.StatusCompleted && e.FinalState == "1")
		sweepRuns.WithLabelValues(e.Status.String()).Inc()
	}
}
