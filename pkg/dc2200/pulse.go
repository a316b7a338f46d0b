package dc2200

import "math"

// PulseSpec is the program for one pulse.
type PulseSpec struct {
	TargetMA   float64
	OnSeconds  float64
	OffSeconds float64
}

// Brightness is the target as a percentage of limitMA.
func (p PulseSpec) Brightness(limitMA float64) float64 {
	return p.TargetMA / limitMA * 100
}

// Validate checks the spec against the session limit. Both the target and the
// derived brightness must be in range.
func (p PulseSpec) Validate(limitMA float64) error {
	if !(limitMA > 0) || math.IsInf(limitMA, 0) {
		return validationError("safety limit %v mA must be positive", limitMA)
	}
	if math.IsNaN(p.TargetMA) || p.TargetMA < 0 || p.TargetMA > limitMA {
		return validationError("target %v mA outside [0, %v] mA", p.TargetMA, limitMA)
	}
	if pct := p.Brightness(limitMA); math.IsNaN(pct) || pct < 0 || pct > 100 {
		return validationError("brightness %v%% outside [0, 100]", pct)
	}
	if math.IsNaN(p.OnSeconds) || math.IsInf(p.OnSeconds, 0) || p.OnSeconds < 1 {
		return validationError("on time %v s must be at least 1 s", p.OnSeconds)
	}
	if math.IsNaN(p.OffSeconds) || math.IsInf(p.OffSeconds, 0) || p.OffSeconds < 0 {
		return validationError("off time %v s must not be negative", p.OffSeconds)
	}
	return nil
}
