package tracker

import (
	"fmt"
	"math"
	"time"

	"github.com/konveyor/analysis-tracker/progress"
)

// StepDefinition describes one phase of a job before it runs.
type StepDefinition struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	// Estimate drives the progression clock. Zero means the step's share of
	// the bar jumps straight to its ceiling on the first tick.
	Estimate time.Duration `yaml:"-" json:"estimate"`
}

// DefaultSteps is the analysis job as the upload client runs it.
func DefaultSteps() []StepDefinition {
	return []StepDefinition{
		{ID: "prepare", Title: "Preparing analysis", Estimate: 20 * time.Second},
		{ID: "upload", Title: "Uploading materials", Estimate: 40 * time.Second},
		{ID: "analyze", Title: "Running AI analysis", Estimate: 2 * time.Minute},
		{ID: "report", Title: "Generating report", Estimate: 40 * time.Second},
	}
}

// DefaultEstimatedTime is shown before the first tick of the default job.
const DefaultEstimatedTime = "3-5 minutes"

func validateSteps(defs []StepDefinition) error {
	if len(defs) == 0 {
		return ErrNoSteps
	}
	seen := map[string]bool{}
	for i, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate step id %q", d.ID)
		}
		if d.Estimate < 0 {
			return fmt.Errorf("step %q has a negative estimate", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// initialSteps builds the pending step list for defs.
func initialSteps(defs []StepDefinition) []progress.Step {
	steps := make([]progress.Step, len(defs))
	for i, d := range defs {
		title := d.Title
		if title == "" {
			title = d.ID
		}
		steps[i] = progress.Step{ID: d.ID, Title: title, Status: progress.StepPending}
	}
	return steps
}

func totalEstimate(defs []StepDefinition) time.Duration {
	var total time.Duration
	for _, d := range defs {
		total += d.Estimate
	}
	return total
}

// formatRemaining renders a remaining duration for State.EstimatedTime.
func formatRemaining(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	minutes := int(math.Ceil(d.Minutes()))
	if minutes == 1 {
		return "about 1 minute"
	}
	return fmt.Sprintf("about %d minutes", minutes)
}
