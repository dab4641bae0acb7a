package progress

import (
	"testing"
)

func sampleState() State {
	return State{
		IsActive: true,
		Steps: []Step{
			{ID: "prepare", Title: "Preparing", Status: StepCompleted},
			{ID: "analyze", Title: "Analyzing", Status: StepInProgress, Message: "reading input"},
			{ID: "report", Title: "Reporting", Status: StepPending},
		},
		CurrentStep: 1,
		Percentage:  40,
	}
}

func TestState_CloneIsDeep(t *testing.T) {
	s := sampleState()
	c := s.Clone()

	c.Steps[0].Status = StepError
	c.Steps[1].Message = "changed"

	if s.Steps[0].Status != StepCompleted {
		t.Errorf("Clone shares steps with original: status %s", s.Steps[0].Status)
	}
	if s.Steps[1].Message != "reading input" {
		t.Errorf("Clone shares steps with original: message %q", s.Steps[1].Message)
	}
}

func TestState_CloneNilSteps(t *testing.T) {
	var s State
	c := s.Clone()
	if c.Steps != nil {
		t.Errorf("Expected nil steps, got %v", c.Steps)
	}
}

func TestState_Mode(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  Mode
	}{
		{name: "idle", state: State{}, want: ModeIdle},
		{name: "active", state: State{IsActive: true}, want: ModeActive},
		{name: "completed", state: State{IsCompleted: true}, want: ModeCompleted},
		{name: "error", state: State{HasError: true}, want: ModeError},
		{name: "stopped", state: State{IsStopped: true}, want: ModeStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Mode(); got != tt.want {
				t.Errorf("Mode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestState_Terminal(t *testing.T) {
	if (State{IsActive: true}).Terminal() {
		t.Error("active state must not be terminal")
	}
	if (State{}).Terminal() {
		t.Error("idle state must not be terminal")
	}
	for _, s := range []State{{IsCompleted: true}, {HasError: true}, {IsStopped: true}} {
		if !s.Terminal() {
			t.Errorf("%s state should be terminal", s.Mode())
		}
	}
}

func TestState_CompletedSteps(t *testing.T) {
	if got := sampleState().CompletedSteps(); got != 1 {
		t.Errorf("CompletedSteps() = %d, want 1", got)
	}
}

func TestState_ActiveStep(t *testing.T) {
	step, ok := sampleState().ActiveStep()
	if !ok || step.ID != "analyze" {
		t.Errorf("ActiveStep() = %v, %v", step, ok)
	}

	s := sampleState()
	s.CurrentStep = 7
	if _, ok := s.ActiveStep(); ok {
		t.Error("Expected no active step for out of range index")
	}
}

func TestState_DisplayMessage(t *testing.T) {
	s := sampleState()
	if got := s.DisplayMessage(); got != "reading input" {
		t.Errorf("DisplayMessage() = %q, want step message", got)
	}

	s.StepTitle = "Analyzing"
	if got := s.DisplayMessage(); got != "Analyzing" {
		t.Errorf("DisplayMessage() = %q, want step title", got)
	}

	if got := (State{}).DisplayMessage(); got != "Analyzing..." {
		t.Errorf("DisplayMessage() = %q, want default", got)
	}
}
