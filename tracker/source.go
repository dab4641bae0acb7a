package tracker

import (
	"context"
	"time"
)

// Source is the job status source: the collaborator that knows how the
// backend job is doing and translates that into signals.
//
// Run is called once per run on its own goroutine. It should return when
// ctx is cancelled (stop, reset, teardown, or the run reaching a terminal
// state). How a source learns about the job, polling or streaming, is up to
// the implementation.
//
// Returning an error fails the active step with the error text. Returning
// nil before every step was advanced also fails the run.
type Source interface {
	Run(ctx context.Context, steps []StepDefinition, signals *Signals) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, steps []StepDefinition, signals *Signals) error

func (f SourceFunc) Run(ctx context.Context, steps []StepDefinition, signals *Signals) error {
	return f(ctx, steps, signals)
}

// Signals is the handle a Source uses to drive one run of a Machine.
//
// Every method reports whether the signal was applied. Signals from a run
// that is no longer current (stopped, failed, reset and restarted) are
// discarded and return false, so a source can use the result to exit early.
type Signals struct {
	m   *Machine
	gen uint64
}

// Advance completes the active step and starts the next one. The optional
// message is kept on the completed step. Advancing the last step completes
// the run.
func (s *Signals) Advance(message string) bool {
	return s.m.signal(s.gen, func() { s.m.advance(message) })
}

// Fail marks the active step as failed and ends the run with reason.
func (s *Signals) Fail(reason string) bool {
	return s.m.signal(s.gen, func() { s.m.fail(reason) })
}

// Update replaces the active step's message without advancing.
func (s *Signals) Update(message string) bool {
	return s.m.signal(s.gen, func() { s.m.update(message) })
}

// SimulatedSource advances through the steps on their estimates. It stands
// in for a backend that does not report intermediate progress.
type SimulatedSource struct {
	// Speed divides every estimate. Values <= 0 mean 1.
	Speed float64
	// FailStep, when set, is the ID of the step that fails halfway through.
	FailStep string
	// FailReason is the message of the simulated failure.
	FailReason string
}

func (s *SimulatedSource) Run(ctx context.Context, steps []StepDefinition, signals *Signals) error {
	for _, step := range steps {
		d := s.scale(step.Estimate)
		if step.ID == s.FailStep {
			if err := sleep(ctx, d/2); err != nil {
				return err
			}
			reason := s.FailReason
			if reason == "" {
				reason = "analysis failed"
			}
			signals.Fail(reason)
			return nil
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
		if !signals.Advance("") {
			return nil
		}
	}
	return nil
}

func (s *SimulatedSource) scale(d time.Duration) time.Duration {
	if s.Speed <= 0 {
		return d
	}
	return time.Duration(float64(d) / s.Speed)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
