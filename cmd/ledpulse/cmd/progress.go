package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/OpenTraceLab/ledpulse/pkg/sweep"
)

var blankLine = "\r" + strings.Repeat(" ", 40) + "\r"

// progress renders sweep events for a terminal. Countdown and hold ticks
// overwrite one line; everything else gets its own line.
type progress struct {
	mu       sync.Mutex
	w        io.Writer
	inline   bool
	finished chan struct{}
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w, finished: make(chan struct{}, 1)}
}

func (p *progress) handle(ev sweep.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case sweep.CountdownEvent:
		p.overwrite("Starting in %2ds...", e.Remaining)

	case sweep.PulseStartedEvent:
		p.line("\nPulse %d/%d → %g mA", e.Index+1, e.Total, e.TargetMA)

	case sweep.MeasuredEvent:
		p.line("  ☑ [1s] %.1f mA | %.2f V", e.CurrentMA, e.VoltageV)

	case sweep.HoldTickEvent:
		p.overwrite("  ▶ %s remaining %ds", strings.ToUpper(string(e.Phase)), e.Remaining)

	case sweep.PulseOffEvent:
		p.line("  ▶ LED OFF (STATe?=%s)", e.State)

	case sweep.SweepFinishedEvent:
		switch e.Status {
		case sweep.StatusCompleted:
			p.line("\nSweep complete: %d pulse(s)", e.Steps)
		case sweep.StatusCancelled:
			p.line("\n⚠️  Interrupted! Turning LED off…")
			p.line("  ▶ LED OFF status=%s", e.FinalState)
		case sweep.StatusFailed:
			p.line("\nSweep failed after %d pulse(s): %v", e.Steps, e.Err)
		}
		select {
		case p.finished <- struct{}{}:
		default:
		}
	}
}

// notice prints a message that does not come from the sweep, such as a
// config reload.
func (p *progress) notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line(format, args...)
}

func (p *progress) overwrite(format string, args ...any) {
	fmt.Fprintf(p.w, "\r"+format, args...)
	p.inline = true
}

func (p *progress) line(format string, args ...any) {
	if p.inline {
		fmt.Fprint(p.w, blankLine)
		p.inline = false
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

// finishedWait bounds how long the printer may lag behind the controller.
const finishedWait = 2 * time.Second

// wait blocks until the printer has shown the end of the current sweep, so
// the prompt never interleaves with progress output.
func (p *progress) wait() {
	select {
	case <-p.finished:
	case <-time.After(finishedWait):
	}
}
