// Package progress provides the observable state of a long-running analysis
// job and the plumbing that delivers state changes to presentation layers.
//
// The package defines the job snapshot (State and its Steps), the Event that
// carries a snapshot to observers, and the Progress hub that fans events out
// from collectors to reporters. It is designed to have zero overhead when no
// reporter is configured.
//
// Basic usage:
//
//	// Create a text reporter
//	reporter := reporter.NewTextReporter(os.Stderr)
//
//	// Wire a collector into a Progress hub
//	col := collector.New()
//	prog, _ := progress.New(
//	    progress.WithContext(ctx),
//	    progress.WithCollectors(col),
//	    progress.WithReporters(reporter),
//	)
//
//	// Hand the collector to the job tracker; every state change becomes an Event
//	m, _ := tracker.New(tracker.WithCollector(col))
//
// For programmatic consumption:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	reporter := reporter.NewChannelReporter(ctx)
//
//	go func() {
//	    for event := range reporter.Events() {
//	        fmt.Printf("Progress: %d%%\n", int(event.Percent))
//	    }
//	}()
package progress

import (
	"time"
)

// ProgressInterface defines the contract for managing collector subscriptions.
//
// This interface is implemented by the Progress struct and allows for
// dynamic subscription management - collectors can be added or removed
// at runtime.
type ProgressInterface interface {
	// Subscribe starts receiving events from a collector.
	Subscribe(collector Collector)

	// Unsubscribe stops receiving events from a collector.
	Unsubscribe(collector Collector)
}

// Reporter is the interface for outputting progress events.
//
// Reporters receive events from Progress and format/output them in various ways:
//   - TextReporter: Human-readable text output with timestamps
//   - JSONReporter: Structured JSON for logging or external consumers
//   - ProgressBarReporter: Interactive terminal progress bars
//   - ChannelReporter: Exposes events via a Go channel for programmatic use
//   - NoopReporter: Discards events (used as default when no reporter configured)
//
// Implementations must be safe for concurrent use. The Report method should
// not block, as it's called from Progress's reporter worker goroutines.
type Reporter interface {
	// Report outputs a progress event.
	//
	// Events arrive pre-normalized with timestamps and calculated percentages.
	Report(event Event)
}

// Collector is the interface for gathering progress events from various sources.
//
// Collectors receive progress events and make them available through a
// channel that Progress can subscribe to. The job tracker reports into a
// collector while holding its state lock, so Report must never block.
//
// Common collector types include:
//   - ThrottledCollector: Forwards transitions, throttles clock ticks
//   - BaseCollector: Simple pass-through collector without throttling
type Collector interface {
	Reporter

	// ID returns a unique identifier for this collector.
	// Used by Progress to manage subscriptions and unsubscriptions.
	ID() int

	// CollectChannel returns the channel from which Progress reads events.
	CollectChannel() chan Event
}

// Event represents a change of the job state at a specific point in time.
//
// Every event carries a full snapshot of the job in State, so an observer
// can re-render from the latest event alone. Current and Total count
// completed steps; Percent mirrors State.Percentage.
type Event struct {
	// Timestamp is when the event occurred. If not set by the caller,
	// reporters will populate it automatically.
	Timestamp time.Time `json:"timestamp"`

	// Stage indicates which kind of transition produced this event.
	Stage Stage `json:"stage"`

	// Message provides human-readable context (step title, failure reason).
	Message string `json:"message,omitempty"`

	// Current is the number of steps completed so far.
	Current int `json:"current,omitempty"`

	// Total is the number of steps in the job.
	Total int `json:"total,omitempty"`

	// Percent is the completion percentage (0-100).
	// This field is automatically calculated from Current and Total if not set.
	Percent float64 `json:"percent,omitempty"`

	// State is the job snapshot after the transition. Nil for events that
	// do not originate from a job tracker.
	State *State `json:"state,omitempty"`

	// Metadata contains additional stage-specific information.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Stage represents the kind of transition an Event reports.
//
// A successful run produces:
//  1. StageStart
//  2. StageStepStart, StageStepUpdate, StageTick, StageStepComplete per step
//  3. StageComplete
//
// A run ends with StageError or StageStopped instead when it fails or is
// cancelled. StageReset and StageErrorCleared follow explicit commands.
type Stage string

const (
	// StageStart indicates a fresh run began.
	StageStart Stage = "start"

	// StageStepStart indicates a step became in_progress.
	StageStepStart Stage = "step_start"

	// StageStepUpdate indicates the active step's message changed.
	StageStepUpdate Stage = "step_update"

	// StageTick indicates the progression clock raised the estimated percentage.
	StageTick Stage = "tick"

	// StageStepComplete indicates a step finished.
	StageStepComplete Stage = "step_complete"

	// StageComplete indicates all steps finished.
	StageComplete Stage = "complete"

	// StageError indicates the job signaled a failure.
	StageError Stage = "error"

	// StageStopped indicates the run was cancelled by the caller.
	StageStopped Stage = "stopped"

	// StageReset indicates the tracker returned to idle.
	StageReset Stage = "reset"

	// StageErrorCleared indicates the error flag was cleared.
	StageErrorCleared Stage = "error_cleared"
)

// IsTransition reports whether the stage changes the run mode or the active
// step. Only StageTick and StageStepUpdate are not transitions.
func (s Stage) IsTransition() bool {
	return s != StageTick && s != StageStepUpdate
}
