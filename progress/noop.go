package progress

// NoopReporter is a no-op implementation of Reporter that discards all events.
//
// It is the default reporter of a Progress hub created without WithReporters,
// and what the CLI uses when --progress-output is empty.
type NoopReporter struct{}

// NewNoopReporter creates a new no-op progress reporter.
func NewNoopReporter() *NoopReporter {
	return &NoopReporter{}
}

// Report discards the event.
func (n *NoopReporter) Report(event Event) {}
