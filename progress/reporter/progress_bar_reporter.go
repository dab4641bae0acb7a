package reporter

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/konveyor/analysis-tracker/progress"
)

// ProgressBarReporter writes progress as a visual progress bar with real-time updates.
//
// The reporter uses carriage returns (\r) to update the same line, creating
// an animated effect. It shows:
//   - Percentage completion
//   - Visual bar with filled (█) and empty (░) segments
//   - Completed/total steps
//   - The active step's message or title
//
// IMPORTANT: This reporter is designed for TTY (terminal) output where ANSI
// control characters work. For non-TTY output (pipes, files, CI/CD logs),
// use TextReporter or JSONReporter instead.
//
// Example output:
//
//	Starting analysis (estimated 3-5 minutes)
//	✓ Preparing analysis
//	Analyzing  42% |██████████░░░░░░░░░░░░░░░| 1/4  Uploading materials
//	Analysis complete!
type ProgressBarReporter struct {
	writer      io.Writer
	mu          sync.Mutex
	barWidth    int
	lastLineLen int
	inProgress  bool
}

// NewProgressBarReporter creates a new progress bar reporter that writes to w.
//
// The visual bar width is fixed at 25 characters for consistent formatting.
func NewProgressBarReporter(w io.Writer) *ProgressBarReporter {
	return &ProgressBarReporter{
		writer:   w,
		barWidth: 25,
	}
}

// Report processes a progress event and updates the progress bar.
//
// Ticks, step starts and step updates redraw the bar in place. Step
// completions, errors, cancellation and completion clear the bar and print a
// static line.
//
// This method is safe for concurrent use.
func (p *ProgressBarReporter) Report(event progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	normalize(&event)

	switch event.Stage {
	case progress.StageStart:
		p.clearLine()
		if event.State != nil && event.State.EstimatedTime != "" {
			fmt.Fprintf(p.writer, "Starting analysis (estimated %s)\n", event.State.EstimatedTime)
		} else {
			fmt.Fprintf(p.writer, "Starting analysis\n")
		}

	case progress.StageStepStart, progress.StageStepUpdate, progress.StageTick:
		if event.Total > 0 {
			p.updateProgressBar(event)
		}

	case progress.StageStepComplete:
		p.clearLine()
		fmt.Fprintf(p.writer, "✓ %s\n", event.Message)

	case progress.StageComplete:
		p.clearLine()
		fmt.Fprintf(p.writer, "Analysis complete!\n")

	case progress.StageError:
		p.clearLine()
		fmt.Fprintf(p.writer, "✗ %s: %s\n", stepLabel(event), event.Message)

	case progress.StageStopped:
		p.clearLine()
		fmt.Fprintf(p.writer, "Analysis cancelled at %d%%\n", int(event.Percent))

	default:
		p.clearLine()
		if event.Message != "" {
			fmt.Fprintf(p.writer, "%s\n", event.Message)
		}
	}
}

// updateProgressBar clears the previous bar and writes the new one without a
// trailing newline so the next update overwrites it.
func (p *ProgressBarReporter) updateProgressBar(event progress.Event) {
	barString := p.buildProgressBar(event)

	p.clearLine()
	fmt.Fprint(p.writer, barString)
	p.lastLineLen = utf8.RuneCountInString(barString)
	p.inProgress = true
}

// buildProgressBar constructs the progress bar string.
//
// Returns a string like: "Analyzing  42% |██████████░░░░░░░░░░░░░░░| 1/4  Uploading materials"
func (p *ProgressBarReporter) buildProgressBar(event progress.Event) string {
	filledWidth := int(float64(p.barWidth) * event.Percent / 100.0)
	if filledWidth > p.barWidth {
		filledWidth = p.barWidth
	}
	if filledWidth < 0 {
		filledWidth = 0
	}
	emptyWidth := p.barWidth - filledWidth

	visualBar := fmt.Sprintf("|%s%s|", strings.Repeat("█", filledWidth), strings.Repeat("░", emptyWidth))
	percentStr := fmt.Sprintf("%3d%%", int(event.Percent))
	countStr := fmt.Sprintf("%d/%d", event.Current, event.Total)

	label := ""
	if event.State != nil {
		label = event.State.DisplayMessage()
	} else {
		label = event.Message
	}
	if label == "" {
		return fmt.Sprintf("Analyzing %s %s %s", percentStr, visualBar, countStr)
	}
	return fmt.Sprintf("Analyzing %s %s %s  %s", percentStr, visualBar, countStr, truncate(label, 50))
}

// clearLine clears the current progress bar line if one is displayed.
func (p *ProgressBarReporter) clearLine() {
	if p.lastLineLen > 0 {
		fmt.Fprint(p.writer, "\r")
		fmt.Fprint(p.writer, strings.Repeat(" ", p.lastLineLen))
		fmt.Fprint(p.writer, "\r")
		p.lastLineLen = 0
		p.inProgress = false
	}
}
