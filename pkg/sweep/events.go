package sweep

// Event type identifiers, as required by kelindar/event.
const (
	TypeSweepStarted uint32 = iota + 1
	TypeCountdown
	TypePulseStarted
	TypeMeasured
	TypeHoldTick
	TypePulseOff
	TypeSweepFinished
)

// Event is anything the controller publishes.
type Event interface {
	Type() uint32
}

// Publisher receives controller events. Publish must not block the sweep.
type Publisher interface {
	Publish(ev Event)
}

// Phase names a timed hold.
type Phase string

const (
	PhaseCountdown Phase = "countdown"
	PhaseSettle    Phase = "settle"
	PhaseOn        Phase = "on"
	PhaseOff       Phase = "off"
)

// SweepStartedEvent is published once the plan has been accepted.
type SweepStartedEvent struct {
	RunID string
	Steps int
}

func (e SweepStartedEvent) Type() uint32 { return TypeSweepStarted }

// CountdownEvent is published before each countdown tick.
type CountdownEvent struct {
	RunID     string
	Remaining int
}

func (e CountdownEvent) Type() uint32 { return TypeCountdown }

// PulseStartedEvent is published when a step's pulse has been fired.
type PulseStartedEvent struct {
	RunID    string
	Index    int
	Total    int
	TargetMA float64
}

func (e PulseStartedEvent) Type() uint32 { return TypePulseStarted }

// MeasuredEvent carries the mid-pulse reading.
type MeasuredEvent struct {
	RunID     string
	Index     int
	TargetMA  float64
	CurrentMA float64
	VoltageV  float64
}

func (e MeasuredEvent) Type() uint32 { return TypeMeasured }

// HoldTickEvent is published before each ON or OFF hold tick.
type HoldTickEvent struct {
	RunID     string
	Index     int
	Phase     Phase
	Remaining int
}

func (e HoldTickEvent) Type() uint32 { return TypeHoldTick }

// PulseOffEvent reports the confirmed output state after a step.
type PulseOffEvent struct {
	RunID string
	Index int
	State string
}

func (e PulseOffEvent) Type() uint32 { return TypePulseOff }

// SweepFinishedEvent is always the last event of a run.
type SweepFinishedEvent struct {
	RunID      string
	Status     Status
	Steps      int
	FinalState string
	Err        error
}

func (e SweepFinishedEvent) Type() uint32 { return TypeSweepFinished }

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
