package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/konveyor/analysis-tracker/classifier"
	"github.com/konveyor/analysis-tracker/probe"
	"github.com/konveyor/analysis-tracker/progress"
	"github.com/konveyor/analysis-tracker/tracker"
	"github.com/swaggest/jsonschema-go"
)

// EmptyParams is the input of tools that take no arguments.
type EmptyParams struct{}

// AnalysisStartParams configures the simulated job of the next run.
type AnalysisStartParams struct {
	Speed      float64 `json:"speed,omitempty" minimum:"0" description:"Divides every step estimate, e.g. 10 runs the job ten times faster (default: 1)"`
	FailStep   string  `json:"fail_step,omitempty" description:"ID of a step that fails halfway through (optional)"`
	FailReason string  `json:"fail_reason,omitempty" description:"Error message of the simulated failure (optional)"`
}

func (p AnalysisStartParams) validate(steps []tracker.StepDefinition) error {
	if p.Speed < 0 {
		return fmt.Errorf("validation: speed must not be negative")
	}
	if p.FailStep == "" {
		return nil
	}
	for _, s := range steps {
		if s.ID == p.FailStep {
			return nil
		}
	}
	return fmt.Errorf("validation: unknown step %q", p.FailStep)
}

type AnalysisWaitParams struct {
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty" minimum:"0" description:"How long to wait for the job to finish, at most 600 (default: 60)"`
}

func (p AnalysisWaitParams) timeout() (time.Duration, error) {
	switch {
	case p.TimeoutSeconds < 0:
		return 0, fmt.Errorf("validation: timeout_seconds must not be negative")
	case p.TimeoutSeconds == 0:
		return defaultWaitTimeout, nil
	}
	d := time.Duration(p.TimeoutSeconds * float64(time.Second))
	if d > maxWaitTimeout {
		return maxWaitTimeout, nil
	}
	return d, nil
}

type ConnectivityProbeParams struct {
	Endpoint string `json:"endpoint,omitempty" description:"Endpoint to probe, http(s):// or grpc(s):// (default: the configured backend)"`
}

type ErrorExplainParams struct {
	Message   string `json:"message" required:"true" description:"Raw error message"`
	Component string `json:"component,omitempty" description:"Where the error happened, e.g. uploader (optional)"`
	Action    string `json:"action,omitempty" description:"What was being done, e.g. upload materials (optional)"`
}

type StatusResult struct {
	Mode  progress.Mode  `json:"mode"`
	State progress.State `json:"state"`
	// Error explains State.ErrorMessage when the job failed.
	Error *classifier.UserFacingError `json:"error,omitempty"`
}

// Transition is a job event that changed the mode or the active step.
type Transition struct {
	Stage     progress.Stage `json:"stage"`
	Message   string         `json:"message,omitempty"`
	Percent   float64        `json:"percent"`
	Timestamp time.Time      `json:"timestamp"`
}

type WaitResult struct {
	Status      StatusResult `json:"status"`
	TimedOut    bool         `json:"timedOut"`
	Transitions []Transition `json:"transitions,omitempty"`
}

type ProbeResult struct {
	Result      probe.Result                `json:"result"`
	Checklist   []string                    `json:"checklist,omitempty"`
	Explanation *classifier.UserFacingError `json:"explanation,omitempty"`
}

// inputSchema reflects params into the JSON schema of a tool input.
func inputSchema(params interface{}) (json.RawMessage, error) {
	r := jsonschema.Reflector{}
	schema, err := r.Reflect(params)
	if err != nil {
		return nil, err
	}
	schema.WithType(jsonschema.Object.Type())
	return json.Marshal(schema)
}
