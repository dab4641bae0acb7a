package mcp

import (
	"sync"

	"github.com/konveyor/analysis-tracker/progress"
)

// eventFeed fans the hub's events out to tool calls waiting on the job.
type eventFeed struct {
	mu      sync.Mutex
	waiters map[chan progress.Event]struct{}
	closed  bool
}

func newEventFeed() *eventFeed {
	return &eventFeed{waiters: map[chan progress.Event]struct{}{}}
}

// run forwards events until the channel closes, then closes every waiter.
// A waiter that falls behind loses events rather than stalling the others.
func (f *eventFeed) run(events <-chan progress.Event) {
	for event := range events {
		f.mu.Lock()
		for ch := range f.waiters {
			select {
			case ch <- event:
			default:
			}
		}
		f.mu.Unlock()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.waiters {
		close(ch)
		delete(f.waiters, ch)
	}
}

func (f *eventFeed) subscribe() (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, 100)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.waiters[ch] = struct{}{}
	return ch, func() {
		f.mu.Lock()
		delete(f.waiters, ch)
		f.mu.Unlock()
	}
}
