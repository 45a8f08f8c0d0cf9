// Package progress reports per-iteration training progress: a structured
// Record plus a Sink that either renders a one-line interactive summary
// (when stdout is a terminal) or falls back to klog's structured logging
// when it isn't, following the same klog.V(n)-gated verbosity used
// throughout this codebase's ancestry.
package progress

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"k8s.io/klog/v2"
)

// Record is one training iteration's summary, common across all five
// algorithms (fields an algorithm does not produce are left zero).
type Record struct {
	Iteration     int
	Loss          float64
	FeatureNorm   float64
	ErrorNorm     float64
	ActiveFeatures int
	LearningRate  float64
	Time          float64 // seconds spent on this iteration

	// Holdout metrics, populated only when the driver was given a
	// held-out set (HoldoutItems == 0 means no holdout was configured).
	HoldoutAccuracy float64
	HoldoutItems    int
}

// Sink receives Records as training proceeds, and a final Done call.
type Sink interface {
	Report(r Record)
	Done(totalIterations int, totalTime float64)
}

// klogSink logs one structured line per Record via klog, at V(1); a
// sink of last resort for non-interactive runs (redirected stdout, CI).
type klogSink struct{}

// NewKlogSink returns a Sink that logs through klog.
func NewKlogSink() Sink { return klogSink{} }

func (klogSink) Report(r Record) {
	if r.HoldoutItems > 0 {
		klog.V(1).Infof("iter=%d loss=%.6f |w|=%.6f |g|=%.6f active=%d eta=%g holdout=%.4f time=%.3fs",
			r.Iteration, r.Loss, r.FeatureNorm, r.ErrorNorm, r.ActiveFeatures, r.LearningRate, r.HoldoutAccuracy, r.Time)
		return
	}
	klog.V(1).Infof("iter=%d loss=%.6f |w|=%.6f |g|=%.6f active=%d eta=%g time=%.3fs",
		r.Iteration, r.Loss, r.FeatureNorm, r.ErrorNorm, r.ActiveFeatures, r.LearningRate, r.Time)
}

func (klogSink) Done(totalIterations int, totalTime float64) {
	klog.Infof("training finished: %d iterations in %.3fs", totalIterations, totalTime)
}

// ttySink renders one styled line per Record directly to stdout, for
// interactive sessions.
type ttySink struct {
	label  lipgloss.Style
	value  lipgloss.Style
	header bool
}

// NewTTYSink returns a Sink styled for an interactive terminal. Callers
// typically obtain one via Default, which checks os.Stdout itself.
func NewTTYSink() Sink {
	return &ttySink{
		label: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		value: lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
	}
}

func (s *ttySink) Report(r Record) {
	line := fmt.Sprintf("%s%s  %s%.6f  %s%.6f  %s%.6f  %s%d  %s%.3fs",
		s.label.Render("iter="), s.value.Render(fmt.Sprintf("%d", r.Iteration)),
		s.label.Render("loss="), r.Loss,
		s.label.Render("|w|="), r.FeatureNorm,
		s.label.Render("|g|="), r.ErrorNorm,
		s.label.Render("active="), r.ActiveFeatures,
		s.label.Render("time="), r.Time,
	)
	if r.HoldoutItems > 0 {
		line += fmt.Sprintf("  %s%.4f", s.label.Render("holdout="), r.HoldoutAccuracy)
	}
	fmt.Println(line)
}

func (s *ttySink) Done(totalIterations int, totalTime float64) {
	fmt.Println(s.label.Render(fmt.Sprintf("done: %d iterations in %.3fs", totalIterations, totalTime)))
}

// Default returns a TTY sink if stdout is an interactive terminal, and a
// klog sink otherwise.
func Default() Sink {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return NewTTYSink()
	}
	return NewKlogSink()
}

// Multi fans a single Report/Done call out to every sink in order.
type Multi []Sink

func (m Multi) Report(r Record) {
	for _, s := range m {
		s.Report(r)
	}
}

func (m Multi) Done(totalIterations int, totalTime float64) {
	for _, s := range m {
		s.Done(totalIterations, totalTime)
	}
}

var _ Sink = Multi(nil)
