package collector

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/konveyor/analysis-tracker/progress"
)

// drain consumes events from a collector channel in the background.
func drain(ch chan progress.Event) (func() []progress.Event, func()) {
	var events []progress.Event
	var mu sync.Mutex
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case event := <-ch:
				mu.Lock()
				events = append(events, event)
				mu.Unlock()
			case <-stop:
				return
			}
		}
	}()

	get := func() []progress.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]progress.Event{}, events...)
	}
	return get, func() { close(stop) }
}

func TestThrottledCollector_TransitionsAlwaysForwarded(t *testing.T) {
	collector := NewThrottledCollectorWithInterval(progress.StageTick, time.Hour)
	get, stop := drain(collector.CollectChannel())
	defer stop()

	stages := []progress.Stage{
		progress.StageStart,
		progress.StageStepStart,
		progress.StageStepComplete,
		progress.StageStepStart,
		progress.StageError,
	}
	for _, stage := range stages {
		collector.Report(progress.Event{Stage: stage})
	}

	time.Sleep(50 * time.Millisecond)

	events := get()
	if len(events) != len(stages) {
		t.Fatalf("Expected %d transitions, got %d", len(stages), len(events))
	}
	for i, stage := range stages {
		if events[i].Stage != stage {
			t.Errorf("Event %d: expected stage %s, got %s", i, stage, events[i].Stage)
		}
	}
}

func TestThrottledCollector_Throttling(t *testing.T) {
	collector := NewThrottledCollectorWithInterval(progress.StageTick, 50*time.Millisecond)
	get, stop := drain(collector.CollectChannel())
	defer stop()

	for i := 1; i <= 10; i++ {
		collector.Report(progress.Event{Stage: progress.StageTick, Percent: float64(i)})
		// Sleep less than throttle interval
		time.Sleep(10 * time.Millisecond)
	}
	collector.Report(progress.Event{Stage: progress.StageComplete, Percent: 100})

	time.Sleep(100 * time.Millisecond)

	events := get()
	// first tick + maybe 1-2 intermediate + completion
	if len(events) > 5 {
		t.Errorf("Expected throttling to reduce events to <= 5, got %d", len(events))
	}
	if events[0].Percent != 1 {
		t.Errorf("First tick should always pass, got percent %v", events[0].Percent)
	}
	if last := events[len(events)-1]; last.Stage != progress.StageComplete {
		t.Errorf("Completion event missing, last stage was %s", last.Stage)
	}
}

func TestThrottledCollector_IntervalElapsed(t *testing.T) {
	collector := NewThrottledCollectorWithInterval(progress.StageTick, 50*time.Millisecond)
	get, stop := drain(collector.CollectChannel())
	defer stop()

	collector.Report(progress.Event{Stage: progress.StageTick, Percent: 1})
	time.Sleep(60 * time.Millisecond)
	collector.Report(progress.Event{Stage: progress.StageTick, Percent: 50})
	time.Sleep(60 * time.Millisecond)
	collector.Report(progress.Event{Stage: progress.StageStepUpdate, Message: "still working"})

	time.Sleep(50 * time.Millisecond)

	if n := len(get()); n != 3 {
		t.Errorf("Expected 3 events (all delays exceeded interval), got %d", n)
	}
}

func TestThrottledCollector_DefaultStage(t *testing.T) {
	collector := NewThrottledCollector(progress.StageTick)
	get, stop := drain(collector.CollectChannel())
	defer stop()

	collector.Report(progress.Event{Percent: 12.5})

	time.Sleep(50 * time.Millisecond)

	events := get()
	if len(events) == 0 {
		t.Fatal("Expected at least one event")
	}
	if events[0].Stage != progress.StageTick {
		t.Errorf("Expected stage=%s, got %s", progress.StageTick, events[0].Stage)
	}
}

func TestThrottledCollector_Reset(t *testing.T) {
	collector := NewThrottledCollectorWithInterval(progress.StageTick, time.Hour)

	collector.Report(progress.Event{Stage: progress.StageTick})
	collector.Report(progress.Event{Stage: progress.StageTick})
	collector.Reset()
	collector.Report(progress.Event{Stage: progress.StageTick})

	if n := len(collector.CollectChannel()); n != 2 {
		t.Errorf("Expected 2 buffered ticks after reset, got %d", n)
	}
}

func TestThrottledCollector_ConcurrentUse(t *testing.T) {
	collector := NewThrottledCollectorWithInterval(progress.StageTick, 10*time.Millisecond)

	var eventCount atomic.Int32
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-collector.CollectChannel():
				eventCount.Add(1)
			case <-stop:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 1; j <= 100; j++ {
				collector.Report(progress.Event{Stage: progress.StageTick, Percent: float64(j)})
			}
		}()
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)

	if eventCount.Load() == 0 {
		t.Error("Expected some events from concurrent reporters")
	}
}

func TestThrottledCollector_ChannelBuffer(t *testing.T) {
	collector := NewThrottledCollector(progress.StageTick)

	// Don't consume events - let them accumulate
	// Send 150 transitions to a 100-capacity buffer
	for i := 0; i < 150; i++ {
		collector.Report(progress.Event{Stage: progress.StageStepStart, Current: i + 1})
	}

	select {
	case event := <-collector.CollectChannel():
		if event.Current != 1 {
			t.Errorf("Expected first event to have Current=1, got %d", event.Current)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout reading from channel")
	}
}

func TestThrottledCollector_ID(t *testing.T) {
	collector1 := NewThrottledCollector("test1")
	collector2 := NewThrottledCollector("test2")

	id1 := collector1.ID()
	if id1 == collector2.ID() {
		t.Error("Expected different collector IDs")
	}
	if collector1.ID() != id1 {
		t.Error("Collector ID changed on second call")
	}
}

func TestBaseCollector_ForwardsAllEvents(t *testing.T) {
	collector := New()
	get, stop := drain(collector.CollectChannel())
	defer stop()

	total := 10
	for i := 1; i <= total; i++ {
		collector.Report(progress.Event{
			Stage:   progress.StageTick,
			Percent: float64(i * 10),
		})
	}

	time.Sleep(100 * time.Millisecond)

	events := get()
	if len(events) != total {
		t.Fatalf("Expected %d events, got %d", total, len(events))
	}
	for i, event := range events {
		if event.Percent != float64((i+1)*10) {
			t.Errorf("Event %d: expected percent %d, got %v", i, (i+1)*10, event.Percent)
		}
	}
}

func TestBaseCollector_ID(t *testing.T) {
	collector1 := New()
	collector2 := New()

	if collector1.ID() == collector2.ID() {
		t.Error("Expected different collector IDs")
	}
}

func TestBaseCollector_ChannelBuffer(t *testing.T) {
	collector := New()

	// Overfill the buffer; Report must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 150; i++ {
			collector.Report(progress.Event{Stage: progress.StageTick, Current: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a full buffer")
	}

	if n := len(collector.CollectChannel()); n != 100 {
		t.Errorf("Expected buffer to hold 100 events, got %d", n)
	}
}

func BenchmarkThrottledCollector(b *testing.B) {
	collector := NewThrottledCollector(progress.StageTick)
	go func() {
		for range collector.CollectChannel() {
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		collector.Report(progress.Event{Stage: progress.StageTick, Percent: float64(i % 100)})
	}
}

func BenchmarkBaseCollector(b *testing.B) {
	collector := New()
	go func() {
		for range collector.CollectChannel() {
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		collector.Report(progress.Event{Stage: progress.StageTick})
	}
}
