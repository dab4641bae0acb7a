package reporter

import (
	"fmt"
	"io"
	"sync"

	"github.com/konveyor/analysis-tracker/progress"
)

// TextReporter writes progress events as human-readable text with timestamps.
//
// Each stage has its own line format. The reporter is suitable for log files
// and non-interactive terminals where the in-place progress bar would be
// garbled.
//
// Example output:
//
//	[17:06:14] Starting analysis (estimated 3-5 minutes)
//	[17:06:14] Step 1/4: Preparing analysis
//	[17:06:44] Done: Preparing analysis (25.0%)
//	[17:06:44] Step 2/4: Uploading materials
//	[17:07:02] Progress: 37.5% - Uploading materials
//	[17:09:40] Analysis complete!
//
// Usage:
//
//	reporter := reporter.NewTextReporter(os.Stderr)
//	prog, _ := progress.New(
//	    progress.WithReporters(reporter),
//	)
type TextReporter struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewTextReporter creates a new text progress reporter that writes to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{
		writer: w,
	}
}

// Report writes a progress event as human-readable text.
//
// If the event's Timestamp is zero, it will be set to the current time.
// This method is safe for concurrent use.
func (t *TextReporter) Report(event progress.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	normalize(&event)

	ts := event.Timestamp.Format("15:04:05")
	var output string

	switch event.Stage {
	case progress.StageStart:
		if event.State != nil && event.State.EstimatedTime != "" {
			output = fmt.Sprintf("[%s] Starting analysis (estimated %s)\n", ts, event.State.EstimatedTime)
		} else {
			output = fmt.Sprintf("[%s] Starting analysis\n", ts)
		}
	case progress.StageStepStart:
		if event.State != nil {
			output = fmt.Sprintf("[%s] Step %d/%d: %s\n", ts, event.State.CurrentStep+1, event.Total, stepLabel(event))
		} else if event.Message != "" {
			output = fmt.Sprintf("[%s] Step: %s\n", ts, event.Message)
		}
	case progress.StageStepUpdate:
		if event.Message != "" {
			output = fmt.Sprintf("[%s] %s\n", ts, event.Message)
		}
	case progress.StageTick:
		output = fmt.Sprintf("[%s] Progress: %.1f%% - %s\n", ts, event.Percent, stepLabel(event))
	case progress.StageStepComplete:
		output = fmt.Sprintf("[%s] Done: %s (%.1f%%)\n", ts, event.Message, event.Percent)
	case progress.StageComplete:
		output = fmt.Sprintf("[%s] Analysis complete!\n", ts)
	case progress.StageError:
		output = fmt.Sprintf("[%s] Analysis failed at %s: %s\n", ts, stepLabel(event), event.Message)
	case progress.StageStopped:
		output = fmt.Sprintf("[%s] Analysis cancelled at %.1f%%\n", ts, event.Percent)
	default:
		if event.Message != "" {
			output = fmt.Sprintf("[%s] %s\n", ts, event.Message)
		}
	}

	if output != "" {
		t.writer.Write([]byte(output))
	}
}
