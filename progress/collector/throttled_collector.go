package collector

import (
	"math/rand"
	"sync"
	"time"

	"github.com/konveyor/analysis-tracker/progress"
)

// ThrottledCollector is a collector that throttles high-frequency events.
//
// A job tracker emits a tick event on every beat of its progression clock and
// a step_update event whenever the job status source changes the active
// step's message. Neither changes the run mode, so observers only need a
// sample of them. ThrottledCollector:
//   - Always forwards transitions (start, step changes, completion, errors)
//   - Forwards a tick or step update only if throttleInterval elapsed since
//     the last forwarded event
//
// Every event carries a full snapshot, so dropping a tick never hides state:
// the next forwarded event supersedes it.
//
// Example usage:
//
//	throttled := collector.NewThrottledCollector(progress.StageTick)
//	prog, _ := progress.New(
//	    progress.WithCollectors(throttled),
//	    progress.WithReporters(reporter.NewTextReporter(os.Stderr)),
//	)
//	m, _ := tracker.New(tracker.WithCollector(throttled))
type ThrottledCollector struct {
	// stageName is the stage assigned to events that arrive without one
	stageName progress.Stage

	throttleInterval time.Duration
	lastReportTime   time.Time
	reportMutex      sync.Mutex

	streamChan chan progress.Event
	id         int
}

// ID returns the unique identifier for this collector.
func (t *ThrottledCollector) ID() int {
	return t.id
}

// NewThrottledCollector creates a new throttled collector with default 500ms interval.
//
// Events are forwarded to a buffered channel (capacity 100) that Progress subscribes to.
func NewThrottledCollector(stageName progress.Stage) *ThrottledCollector {
	return NewThrottledCollectorWithInterval(stageName, 500*time.Millisecond)
}

// NewThrottledCollectorWithInterval creates a throttled collector with custom throttle interval.
func NewThrottledCollectorWithInterval(stageName progress.Stage, interval time.Duration) *ThrottledCollector {
	return &ThrottledCollector{
		stageName:        stageName,
		throttleInterval: interval,
		id:               rand.Int(),
		streamChan:       make(chan progress.Event, 100),
	}
}

// Report accepts a progress event and forwards it based on throttling rules.
//
// If the event's Stage is empty, it will be set to the collector's default stageName.
// The event is sent via a non-blocking channel send - if the buffer is full, the
// event is dropped.
//
// This method is safe for concurrent use.
func (t *ThrottledCollector) Report(event progress.Event) {
	defer func() {
		if r := recover(); r != nil {
			// Channel was closed during send, ignore the panic
			// This can happen during shutdown
		}
	}()

	if event.Stage == "" {
		event.Stage = t.stageName
	}

	t.reportMutex.Lock()
	now := time.Now()
	shouldReport := event.Stage.IsTransition() ||
		t.lastReportTime.IsZero() ||
		now.Sub(t.lastReportTime) >= t.throttleInterval
	if shouldReport {
		t.lastReportTime = now
	}
	t.reportMutex.Unlock()

	if !shouldReport {
		return
	}
	select {
	case t.streamChan <- event:
	default:
		// Channel full or closed, drop the event
	}
}

// CollectChannel returns the channel that Progress reads events from.
func (t *ThrottledCollector) CollectChannel() chan progress.Event {
	return t.streamChan
}

// Reset forgets the last forwarded time so the next event always passes.
// Useful when the same collector is reused for a new run.
func (t *ThrottledCollector) Reset() {
	t.reportMutex.Lock()
	t.lastReportTime = time.Time{}
	t.reportMutex.Unlock()
}
