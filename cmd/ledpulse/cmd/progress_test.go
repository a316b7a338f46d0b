package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/OpenTraceLab/ledpulse/pkg/sweep"
)

func TestProgressClearsInlineLines(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(&buf)

	p.handle(sweep.CountdownEvent{Remaining: 3})
	p.handle(sweep.PulseStartedEvent{Index: 0, Total: 1, TargetMA: 20})
	p.handle(sweep.HoldTickEvent{Phase: sweep.PhaseOn, Remaining: 4})
	p.handle(sweep.PulseOffEvent{State: "0"})

	want := "\rStarting in  3s..." + blankLine + "\nPulse 1/1 → 20 mA\n" +
		"\r  ▶ ON remaining 4s" + blankLine + "  ▶ LED OFF (STATe?=0)\n"
	if got := buf.String(); got != want {
		t.Fatalf("output = %q\nwant     %q", got, want)
	}
}

func TestProgressNoticeClearsInlineLine(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(&buf)

	p.handle(sweep.HoldTickEvent{Phase: sweep.PhaseOff, Remaining: 2})
	p.notice("Config reloaded, %s", "next sweep")

	want := "\r  ▶ OFF remaining 2s" + blankLine + "Config reloaded, next sweep\n"
	if got := buf.String(); got != want {
		t.Fatalf("output = %q\nwant     %q", got, want)
	}
}

func TestProgressFinished(t *testing.T) {
	tests := []struct {
		ev   sweep.SweepFinishedEvent
		want string
	}{
		{sweep.SweepFinishedEvent{Status: sweep.StatusCompleted, Steps: 5}, "Sweep complete: 5 pulse(s)"},
		{sweep.SweepFinishedEvent{Status: sweep.StatusCancelled, Steps: 2, FinalState: "0"}, "LED OFF status=0"},
		{sweep.SweepFinishedEvent{Status: sweep.StatusFailed, Steps: 1, Err: errors.New("timeout")}, "Sweep failed after 1 pulse(s): timeout"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		p := newProgress(&buf)
		p.handle(tt.ev)

		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("output = %q, want %q", buf.String(), tt.want)
		}

		start := time.Now()
		p.wait()
		if time.Since(start) >= finishedWait {
			t.Errorf("wait did not see the finished signal")
		}
	}
}

func TestAskAgain(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{" YES \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		got, err := askAgain(context.Background(), bufio.NewReader(strings.NewReader(tt.in)))
		if err != nil || got != tt.want {
			t.Errorf("askAgain(%q) = %v, %v; want %v, nil", tt.in, got, err, tt.want)
		}
	}
}

func TestAskAgainCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := askAgain(ctx, bufio.NewReader(pr))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("askAgain error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("askAgain still blocked after cancel")
	}
}
