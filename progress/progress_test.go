package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSink struct {
	reports []Record
	done    bool
	iters   int
	total   float64
}

func (f *fakeSink) Report(r Record)                 { f.reports = append(f.reports, r) }
func (f *fakeSink) Done(iterations int, total float64) { f.done, f.iters, f.total = true, iterations, total }

func TestMultiFansOutToEverySink(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	m := Multi{a, b}

	r := Record{Iteration: 3, Loss: 1.25}
	m.Report(r)
	m.Done(3, 12.5)

	for _, s := range []*fakeSink{a, b} {
		assert.Equal(t, []Record{r}, s.reports)
		assert.True(t, s.done)
		assert.Equal(t, 3, s.iters)
		assert.InDelta(t, 12.5, s.total, 1e-12)
	}
}

func TestMultiOfNilIsAValidEmptySink(t *testing.T) {
	var m Multi
	assert.NotPanics(t, func() {
		m.Report(Record{})
		m.Done(0, 0)
	})
}

func TestDefaultReturnsANonNilSink(t *testing.T) {
	// In a non-interactive test runner stdout is not a terminal, so this
	// resolves to the klog sink; either way Default must never return nil.
	s := Default()
	assert.NotNil(t, s)
	assert.NotPanics(t, func() {
		s.Report(Record{Iteration: 1})
		s.Done(1, 0.5)
	})
}

func TestKlogAndTTYSinksSatisfyInterfaceWithoutPanicking(t *testing.T) {
	var sinks = []Sink{NewKlogSink(), NewTTYSink()}
	for _, s := range sinks {
		assert.NotPanics(t, func() {
			s.Report(Record{Iteration: 5, Loss: 0.1, FeatureNorm: 1, ErrorNorm: 0.2, ActiveFeatures: 10, LearningRate: 0.01, Time: 0.2})
			s.Done(5, 1.0)
		})
	}
}
