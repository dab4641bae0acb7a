package tracker

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/konveyor/analysis-tracker/progress"
)

// Option configures a Machine during creation.
type Option func(m *Machine)

// WithSteps sets the job's step definitions. Defaults to DefaultSteps().
func WithSteps(steps ...StepDefinition) Option {
	return func(m *Machine) {
		m.defs = append([]StepDefinition{}, steps...)
	}
}

// WithSource sets the job status source. Defaults to a SimulatedSource
// running at real speed.
func WithSource(source Source) Option {
	return func(m *Machine) {
		m.source = source
	}
}

// WithTickInterval sets how often the progression clock raises the
// estimated percentage. Zero or negative disables the clock; the
// percentage then only moves when steps advance.
func WithTickInterval(d time.Duration) Option {
	return func(m *Machine) {
		m.tickInterval = d
	}
}

// WithCollector sets the collector that receives an Event for every state
// change. Collector.Report is called with the machine's lock held.
func WithCollector(c progress.Collector) Option {
	return func(m *Machine) {
		m.collector = c
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithEstimatedTime sets the hint shown when a run starts, e.g. "3-5 minutes".
// Without it the hint is derived from the step estimates.
func WithEstimatedTime(hint string) Option {
	return func(m *Machine) {
		m.estimatedTime = hint
	}
}

// WithContext sets the parent context of every run. Cancelling it ends the
// running source, which fails the run with the context's error; use Stop
// for a clean cancellation.
func WithContext(ctx context.Context) Option {
	return func(m *Machine) {
		m.ctx = ctx
	}
}

// WithJobName names the job in logs and trace spans.
func WithJobName(name string) Option {
	return func(m *Machine) {
		m.jobName = name
	}
}
