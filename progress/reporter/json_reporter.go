package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/konveyor/analysis-tracker/progress"
)

// JSONReporter writes progress events as newline-delimited JSON (NDJSON).
//
// Each line is a complete event including the job snapshot, so a consumer
// tailing the stream can rebuild the full state from any single line.
//
// Example output:
//
//	{"timestamp":"2024-10-29T17:06:14Z","stage":"start","total":4,"state":{"isActive":true,...}}
//	{"timestamp":"2024-10-29T17:06:44Z","stage":"step_complete","message":"Preparing analysis","current":1,"total":4,"percent":25,"state":{...}}
//
// The reporter is thread-safe and uses a mutex to ensure each JSON line is
// written atomically without interleaving.
type JSONReporter struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONReporter creates a new JSON progress reporter that writes to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{
		writer: w,
	}
}

// Report writes a progress event as a JSON line.
//
// Errors during JSON marshaling or writing are silently ignored so a broken
// log sink never affects the tracked job.
func (j *JSONReporter) Report(event progress.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Normalize event (set timestamp, calculate percent)
	normalize(&event)

	// Marshal and write
	data, err := json.Marshal(event)
	if err != nil {
		return // Silently skip errors to avoid disrupting analysis
	}
	fmt.Fprintln(j.writer, string(data))
}
