package collector

import (
	"math/rand"

	"github.com/konveyor/analysis-tracker/progress"
)

// collector passes every job event to the hub, clock ticks included. The
// MCP server uses it so a waiting tool call sees each transition as it
// happens; the CLI renders through ThrottledCollector instead.
type collector struct {
	id int
	ch chan progress.Event
}

// New creates a collector buffering up to 100 events. The tracker reports
// while holding its lock, so a full buffer drops the event.
//
//	col := collector.New()
//	hub, _ := progress.New(progress.WithCollectors(col), progress.WithReporters(r))
//	m, _ := tracker.New(tracker.WithCollector(col))
func New() progress.Collector {
	return &collector{
		id: rand.Int(),
		ch: make(chan progress.Event, 100),
	}
}

func (c *collector) ID() int {
	return c.id
}

func (c *collector) CollectChannel() chan progress.Event {
	return c.ch
}

func (c *collector) Report(event progress.Event) {
	select {
	case c.ch <- event:
	default:
	}
}
