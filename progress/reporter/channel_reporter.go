package reporter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/konveyor/analysis-tracker/progress"
)

// DefaultChannelBuffer is how many job events a ChannelReporter holds for a
// consumer that has not caught up yet.
const DefaultChannelBuffer = 100

// ChannelReporter hands job events to Go code, for example the MCP server
// blocking a tool call until the job reaches a terminal state.
//
// Sends never block the hub. When the buffer is full the event is dropped
// and counted; a consumer that must not miss the end of a run can always
// fall back to the tracker's Snapshot.
//
//	events := reporter.NewChannelReporter(ctx)
//	hub, _ := progress.New(progress.WithCollectors(col), progress.WithReporters(events))
//	for event := range events.Events() {
//	    if event.State != nil && event.State.Terminal() {
//	        break
//	    }
//	}
type ChannelReporter struct {
	events  chan progress.Event
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	log     logr.Logger
}

// ChannelReporterOption configures a ChannelReporter.
type ChannelReporterOption func(*ChannelReporter)

// WithLogger logs dropped events at V(1).
func WithLogger(log logr.Logger) ChannelReporterOption {
	return func(r *ChannelReporter) {
		r.log = log
	}
}

// NewChannelReporter creates a ChannelReporter whose channel is closed when
// ctx is done.
func NewChannelReporter(ctx context.Context, opts ...ChannelReporterOption) *ChannelReporter {
	r := &ChannelReporter{
		events: make(chan progress.Event, DefaultChannelBuffer),
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = true
		close(r.events)
	}()
	return r
}

// Report queues event without blocking. Events reported after the context
// ended are ignored.
func (c *ChannelReporter) Report(event progress.Event) {
	normalize(&event)

	// the read lock keeps the channel open for the duration of the send
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.events <- event:
	default:
		dropped := c.dropped.Add(1)
		if event.Stage.IsTransition() {
			c.log.Info("job transition dropped, consumer is behind", "stage", event.Stage, "dropped", dropped)
			return
		}
		c.log.V(1).Info("job event dropped, consumer is behind", "stage", event.Stage, "dropped", dropped)
	}
}

// Events is closed once the reporter's context is done.
func (c *ChannelReporter) Events() <-chan progress.Event {
	return c.events
}

// DroppedEvents counts events lost to a full buffer.
func (c *ChannelReporter) DroppedEvents() uint64 {
	return c.dropped.Load()
}
