package reporter

import (
	"time"

	"github.com/konveyor/analysis-tracker/progress"
)

// normalize updates the event with calculated values.
// - Sets Timestamp to now if zero
// - Takes Current/Total/Percent from the attached State when present
// - Calculates Percent from Current/Total if Percent is zero and Total > 0
func normalize(e *progress.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if e.State != nil {
		if e.Total == 0 {
			e.Total = len(e.State.Steps)
			e.Current = e.State.CompletedSteps()
		}
		if e.Percent == 0.0 {
			e.Percent = e.State.Percentage
		}
		return
	}

	if e.Percent == 0.0 && e.Total > 0 {
		e.Percent = float64(e.Current) / float64(e.Total) * 100.0
	}
}

// stepLabel returns "title" for the step the event refers to, falling back
// to the event message.
func stepLabel(e progress.Event) string {
	if e.State != nil {
		if step, ok := e.State.ActiveStep(); ok {
			return step.Title
		}
	}
	return e.Message
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
