// Package tracker owns the state of one long-running analysis job.
//
// A Machine is driven by explicit commands (Start, Stop, Reset, ClearError)
// and by two internal producers: the job status Source, which advances or
// fails steps, and the progression clock, which raises the estimated
// percentage between steps. All mutations are serialized on one lock, and
// every mutation is published as a progress.Event to the configured
// collector. Observers either consume those events or poll Snapshot.
//
//	col := collector.NewThrottledCollector(progress.StageTick)
//	m, err := tracker.New(
//	    tracker.WithCollector(col),
//	    tracker.WithSource(source),
//	)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//	m.Start()
//	<-m.Done()
//	state := m.Snapshot()
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/konveyor/analysis-tracker/progress"
	"github.com/konveyor/analysis-tracker/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxPartial caps the clock's estimate within a step so the bar never
// reaches the next step's boundary before the source advances.
const maxPartial = 0.95

const sourceEndedEarly = "job status source ended before all steps completed"

// Machine is the progress state machine of one job.
//
// States: idle -> active -> {completed, error, stopped}. A terminal run is
// restarted with Start (completed, stopped) or ClearError/Reset then Start
// (error).
type Machine struct {
	defs          []StepDefinition
	source        Source
	tickInterval  time.Duration
	collector     progress.Collector
	log           logr.Logger
	estimatedTime string
	jobName       string
	ctx           context.Context

	mu          sync.Mutex
	state       progress.State
	gen         uint64
	cancel      context.CancelFunc
	clock       *schedule
	span        trace.Span
	done        chan struct{}
	stepStarted time.Time
	closed      bool
}

// New creates an idle Machine.
func New(opts ...Option) (*Machine, error) {
	m := &Machine{
		defs:         DefaultSteps(),
		tickInterval: 500 * time.Millisecond,
		log:          logr.Discard(),
		jobName:      "analysis",
		ctx:          context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := validateSteps(m.defs); err != nil {
		return nil, err
	}
	if m.source == nil {
		m.source = &SimulatedSource{}
	}
	m.log = m.log.WithValues("job", m.jobName)
	m.state = progress.State{Steps: initialSteps(m.defs)}
	m.done = make(chan struct{})
	close(m.done)
	return m, nil
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() progress.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Steps returns the job's step definitions.
func (m *Machine) Steps() []StepDefinition {
	return append([]StepDefinition{}, m.defs...)
}

// Done returns a channel that is closed when the current run reaches a
// terminal state. Before the first Start it is already closed.
func (m *Machine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Start begins a fresh run: steps are reset, the first step becomes
// in_progress and the percentage is 0.
//
// Start on an active machine does nothing. Start while an error is set
// returns ErrErrorNotCleared.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start(m.source)
}

// StartWith is Start with source driving this run instead of the configured
// one. The source is ignored when the call does not begin a run.
func (m *Machine) StartWith(source Source) error {
	if source == nil {
		return m.Start()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start(source)
}

func (m *Machine) start(source Source) error {
	if m.closed {
		return ErrClosed
	}
	if m.state.IsActive {
		m.log.V(1).Info("start ignored, analysis already running")
		return nil
	}
	if m.state.HasError {
		return ErrErrorNotCleared
	}

	m.gen++
	gen := m.gen
	m.state = progress.State{
		IsActive:      true,
		Steps:         initialSteps(m.defs),
		EstimatedTime: m.startHint(),
	}
	m.state.Steps[0].Status = progress.StepInProgress
	m.state.StepTitle = m.state.Steps[0].Title
	m.stepStarted = time.Now()
	m.done = make(chan struct{})

	ctx, cancel := context.WithCancel(m.ctx)
	ctx, span := tracing.StartNewSpan(ctx, "analysis-run",
		attribute.String("job", m.jobName),
		attribute.Int("steps", len(m.defs)),
	)
	m.cancel = cancel
	m.span = span
	if m.tickInterval > 0 {
		m.clock = newSchedule(m.tickInterval, func() { m.tick(gen) })
	}

	m.log.Info("analysis started", "run", gen, "steps", len(m.defs))
	m.emit(progress.StageStart, "")
	m.emit(progress.StageStepStart, m.state.Steps[0].Title)

	go m.runSource(ctx, source, gen, &Signals{m: m, gen: gen})
	return nil
}

// Stop cancels the active run. Steps and percentage are frozen and the
// active step is marked error. Stop on an inactive machine does nothing.
func (m *Machine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.stop()
	return nil
}

func (m *Machine) stop() {
	if !m.state.IsActive {
		m.log.V(1).Info("stop ignored, analysis not running")
		return
	}
	m.state.Steps[m.state.CurrentStep].Status = progress.StepError
	m.state.IsActive = false
	m.state.IsStopped = true
	m.finishRun(context.Canceled)
	m.log.Info("analysis stopped", "percentage", m.state.Percentage)
	m.emit(progress.StageStopped, "")
}

// Reset returns the machine to idle. Reset while active returns ErrActive
// and leaves the state untouched.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reset()
}

func (m *Machine) reset() error {
	if m.closed {
		return ErrClosed
	}
	if m.state.IsActive {
		return ErrActive
	}
	m.state = progress.State{Steps: initialSteps(m.defs)}
	m.log.V(1).Info("analysis reset")
	m.emit(progress.StageReset, "")
	return nil
}

// ClearError clears the error flag and message. It does not restart the
// run; steps and percentage stay frozen until Reset or Start.
func (m *Machine) ClearError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearError()
}

func (m *Machine) clearError() error {
	if m.closed {
		return ErrClosed
	}
	if !m.state.HasError {
		return nil
	}
	m.state.HasError = false
	m.state.ErrorMessage = ""
	m.emit(progress.StageErrorCleared, "")
	return nil
}

// Retry clears any error, resets and starts a new run as one command.
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.clearError(); err != nil {
		return err
	}
	if err := m.reset(); err != nil {
		return err
	}
	return m.start(m.source)
}

// Close tears the machine down. An active run is stopped; afterwards no
// state changes happen and every command returns ErrClosed.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.stop()
	m.closed = true
	return nil
}

// current reports whether gen is the live run.
func (m *Machine) current(gen uint64) bool {
	return !m.closed && gen == m.gen && m.state.IsActive
}

func (m *Machine) signal(gen uint64, apply func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		m.log.V(1).Info("discarding signal from a finished run", "run", gen)
		return false
	}
	apply()
	return true
}

func (m *Machine) runSource(ctx context.Context, source Source, gen uint64, signals *Signals) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job status source panicked: %v", r)
			}
		}()
		return source.Run(ctx, m.Steps(), signals)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		return
	}
	if err != nil {
		m.fail(err.Error())
		return
	}
	m.fail(sourceEndedEarly)
}

func (m *Machine) advance(message string) {
	i := m.state.CurrentStep
	step := &m.state.Steps[i]
	step.Status = progress.StepCompleted
	if message != "" {
		step.Message = message
	}
	completed := i + 1
	total := len(m.state.Steps)
	m.raise(float64(completed) / float64(total) * 100)
	m.log.Info("step completed", "step", step.ID)
	m.emit(progress.StageStepComplete, step.Title)

	if completed == total {
		m.state.IsActive = false
		m.state.IsCompleted = true
		m.state.Percentage = 100
		m.state.StepTitle = ""
		m.state.EstimatedTime = ""
		m.finishRun(nil)
		m.log.Info("analysis completed")
		m.emit(progress.StageComplete, "")
		return
	}

	m.state.CurrentStep = completed
	next := &m.state.Steps[completed]
	next.Status = progress.StepInProgress
	m.state.StepTitle = next.Title
	m.stepStarted = time.Now()
	m.state.EstimatedTime = formatRemaining(m.remaining())
	m.emit(progress.StageStepStart, next.Title)
}

func (m *Machine) fail(reason string) {
	if reason == "" {
		reason = "analysis failed"
	}
	step := &m.state.Steps[m.state.CurrentStep]
	step.Status = progress.StepError
	m.state.IsActive = false
	m.state.HasError = true
	m.state.ErrorMessage = reason
	err := errors.New(reason)
	m.finishRun(err)
	m.log.Error(err, "analysis failed", "step", step.ID, "percentage", m.state.Percentage)
	m.emit(progress.StageError, reason)
}

func (m *Machine) update(message string) {
	m.state.Steps[m.state.CurrentStep].Message = message
	m.state.StepTitle = message
	m.emit(progress.StageStepUpdate, message)
}

// tick raises the percentage from the active step's elapsed time.
func (m *Machine) tick(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		return
	}
	i := m.state.CurrentStep
	partial := maxPartial
	if est := m.defs[i].Estimate; est > 0 {
		partial = float64(time.Since(m.stepStarted)) / float64(est)
		if partial > maxPartial {
			partial = maxPartial
		}
	}
	pct := (float64(i) + partial) / float64(len(m.defs)) * 100
	if !m.raise(pct) {
		return
	}
	m.state.EstimatedTime = formatRemaining(m.remaining())
	m.log.V(3).Info("progress tick", "percentage", m.state.Percentage)
	m.emit(progress.StageTick, "")
}

// raise moves the percentage up to pct, never down.
func (m *Machine) raise(pct float64) bool {
	if pct > 100 {
		pct = 100
	}
	if pct <= m.state.Percentage {
		return false
	}
	m.state.Percentage = pct
	return true
}

// remaining estimates the time left in the current run.
func (m *Machine) remaining() time.Duration {
	i := m.state.CurrentStep
	left := m.defs[i].Estimate - time.Since(m.stepStarted)
	if left < 0 {
		left = 0
	}
	return left + totalEstimate(m.defs[i+1:])
}

func (m *Machine) startHint() string {
	if m.estimatedTime != "" {
		return m.estimatedTime
	}
	return formatRemaining(totalEstimate(m.defs))
}

// finishRun releases everything owned by the run that just ended.
func (m *Machine) finishRun(err error) {
	m.clock.Stop()
	m.clock = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.span != nil {
		m.span.SetAttributes(attribute.Float64("percentage", m.state.Percentage))
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		}
		m.span.End()
		m.span = nil
	}
	close(m.done)
}

func (m *Machine) emit(stage progress.Stage, message string) {
	if m.collector == nil {
		return
	}
	state := m.state.Clone()
	m.collector.Report(progress.Event{
		Timestamp: time.Now(),
		Stage:     stage,
		Message:   message,
		Current:   state.CompletedSteps(),
		Total:     len(state.Steps),
		Percent:   state.Percentage,
		State:     &state,
	})
}
