// # Architecture
//
// Events flow from producers to observers through three layers:
//
//   - A job tracker reports an Event into a Collector on every state change
//   - Progress subscribes to collectors and multiplexes their channels
//   - Each Reporter receives every event on its own worker goroutine
//
// # Throttled Collection
//
// The progression clock of a job can tick many times per second. To avoid
// overwhelming terminals and remote observers, use ThrottledCollector:
//
//	throttled := collector.NewThrottledCollector(progress.StageTick)
//
//	// Transitions (start, step changes, completion, errors) are always
//	// forwarded; ticks are forwarded at most once per 500ms
//
// # Thread Safety
//
// All reporters and collectors are safe for concurrent use. Collector.Report
// never blocks; when a buffer is full the event is dropped, and an observer
// can always poll the tracker for its latest snapshot instead.
package progress
