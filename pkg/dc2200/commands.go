package dc2200

import (
	"strconv"
)

// SCPI program messages understood by the DC2200. Every function here is a
// pure formatter; range checks happen before they are called.
const (
	CmdReset         = "*RST"
	CmdIdentify      = "*IDN?"
	CmdPulseMode     = "SOURce1:MODe PULS"
	CmdOutputOn      = "OUTPut1:STATe ON"
	CmdOutputOff     = "OUTPut1:STATe OFF"
	CmdOutputQuery   = "OUTPut1:STATe?"
	CmdMeasCurrentDC = "MEASure:CURRent:DC?"
	CmdMeasVoltageDC = "MEASure:VOLTage:DC?"
)

// PulseCount is the number of pulses fired per programmed step.
const PulseCount = 1

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// CurrentLimitCmd sets the safety limit. The instrument takes amps.
func CurrentLimitCmd(limitMA float64) string {
	return "SOURce1:CURRent:LIMit:AMPLitude " + formatFloat(limitMA/1000)
}

// TerminalCmd selects LED head terminal 1 or 2.
func TerminalCmd(terminal int) string {
	return "OUTPut1:TERMinal " + strconv.Itoa(terminal)
}

// BrightnessCmd sets the pulse amplitude as a percentage of the limit.
func BrightnessCmd(percent float64) string {
	return "SOURce1:PULSe:BRIGhtness:LEVel:AMPLitude " + formatFloat(percent)
}

// OnTimeCmd sets the pulse ON time in seconds.
func OnTimeCmd(seconds float64) string {
	return "SOURce1:PULSe:ONTime " + formatFloat(seconds)
}

// OffTimeCmd sets the pulse OFF time in seconds.
func OffTimeCmd(seconds float64) string {
	return "SOURce1:PULSe:OFFTime " + formatFloat(seconds)
}

// CountCmd sets the number of pulses per trigger.
func CountCmd(n int) string {
	return "SOURce1:PULSe:COUNt " + strconv.Itoa(n)
}
