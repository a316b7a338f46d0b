// Package metrics exposes sweep progress as Prometheus metrics.
package metrics

import (
	"slices"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledpulse",
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Finished sweeps by outcome",
	}, []string{"status"})

	sweepSteps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ledpulse",
		Subsystem: "sweep",
		Name:      "steps_total",
		Help:      "Pulses completed across all sweeps",
	})

	sweepActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledpulse",
		Subsystem: "sweep",
		Name:      "active",
		Help:      "1 while a sweep is running",
	})

	sweepPlanned = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledpulse",
		Subsystem: "sweep",
		Name:      "planned_steps",
		Help:      "Number of steps in the running or last sweep",
	})

	outputOn = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledpulse",
		Subsystem: "output",
		Name:      "on",
		Help:      "1 while the LED output has been fired and not yet turned off",
	})

	pulseCurrent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ledpulse",
		Subsystem: "pulse",
		Name:      "current_ma",
		Help:      "Mid-pulse measured LED current",
	}, []string{"target_ma"})

	pulseVoltage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ledpulse",
		Subsystem: "pulse",
		Name:      "voltage_v",
		Help:      "Mid-pulse measured LED forward voltage",
	}, []string{"target_ma"})
)

// readings tracks which target_ma series exist so stale ones can be pruned.
var readings = struct {
	sync.Mutex
	targets map[string]float64
}{targets: make(map[string]float64)}

func targetLabel(ma float64) string {
	return strconv.FormatFloat(ma, 'g', -1, 64)
}

// SetPulseReading records the measurement for one target current.
func SetPulseReading(targetMA, currentMA, voltageV float64) {
	label := targetLabel(targetMA)
	readings.Lock()
	readings.targets[label] = targetMA
	readings.Unlock()
	pulseCurrent.WithLabelValues(label).Set(currentMA)
	pulseVoltage.WithLabelValues(label).Set(voltageV)
}

// DeletePulseReading removes the series for one target current.
func DeletePulseReading(targetMA float64) {
	label := targetLabel(targetMA)
	readings.Lock()
	delete(readings.targets, label)
	readings.Unlock()
	pulseCurrent.DeleteLabelValues(label)
	pulseVoltage.DeleteLabelValues(label)
}

// RetainPulseReadings drops the series of every target current not in
// currents and returns the removed targets in ascending order.
func RetainPulseReadings(currents []float64) []float64 {
	keep := make(map[string]bool, len(currents))
	for _, c := range currents {
		keep[targetLabel(c)] = true
	}

	readings.Lock()
	var stale []float64
	for label, ma := range readings.targets {
		if !keep[label] {
			stale = append(stale, ma)
		}
	}
	readings.Unlock()

	slices.Sort(stale)
	for _, ma := range stale {
		DeletePulseReading(ma)
	}
	return stale
}
