package sweep

// StepResult is the record of one completed pulse.
type StepResult struct {
	Index       int
	TargetMA    float64
	MeasuredMA  float64
	MeasuredV   float64
	OutputState string // empty when the post-shutdown query failed
}

// Status is how a sweep ended.
type Status int

const (
	StatusCompleted Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of one Run.
type Outcome struct {
	RunID      string
	Status     Status
	Steps      []StepResult
	FinalState string // confirmed output state after cancellation
	Err        error
}
