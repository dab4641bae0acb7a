package progress

// StepStatus is the lifecycle of a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

// Step is one named phase of a job.
type Step struct {
	ID      string     `json:"id" yaml:"id"`
	Title   string     `json:"title" yaml:"title"`
	Message string     `json:"message,omitempty" yaml:"message,omitempty"`
	Status  StepStatus `json:"status" yaml:"status"`
}

// Mode is the run mode derived from the flags of a State.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeActive    Mode = "active"
	ModeCompleted Mode = "completed"
	ModeError     Mode = "error"
	ModeStopped   Mode = "stopped"
)

// State is the externally observable snapshot of one job.
//
// At most one of IsActive, IsCompleted, HasError and IsStopped is true.
// All four are false before the first start, after a reset and after an
// error was cleared.
type State struct {
	IsActive    bool `json:"isActive" yaml:"isActive"`
	IsCompleted bool `json:"isCompleted" yaml:"isCompleted"`
	HasError    bool `json:"hasError" yaml:"hasError"`
	IsStopped   bool `json:"isStopped" yaml:"isStopped"`

	Steps       []Step  `json:"steps" yaml:"steps"`
	CurrentStep int     `json:"currentStep" yaml:"currentStep"`
	Percentage  float64 `json:"percentage" yaml:"percentage"`

	StepTitle     string `json:"stepTitle,omitempty" yaml:"stepTitle,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	EstimatedTime string `json:"estimatedTime,omitempty" yaml:"estimatedTime,omitempty"`
}

// Clone returns a deep copy so observers never share the steps slice with
// the owner of the state.
func (s State) Clone() State {
	out := s
	if s.Steps != nil {
		out.Steps = make([]Step, len(s.Steps))
		copy(out.Steps, s.Steps)
	}
	return out
}

// Mode derives the run mode from the flags.
func (s State) Mode() Mode {
	switch {
	case s.IsActive:
		return ModeActive
	case s.IsCompleted:
		return ModeCompleted
	case s.HasError:
		return ModeError
	case s.IsStopped:
		return ModeStopped
	default:
		return ModeIdle
	}
}

// Terminal reports whether no further automatic progression can happen.
func (s State) Terminal() bool {
	return s.IsCompleted || s.HasError || s.IsStopped
}

// CompletedSteps counts steps with status completed.
func (s State) CompletedSteps() int {
	n := 0
	for _, step := range s.Steps {
		if step.Status == StepCompleted {
			n++
		}
	}
	return n
}

// ActiveStep returns the step at CurrentStep, if any.
func (s State) ActiveStep() (Step, bool) {
	if s.CurrentStep < 0 || s.CurrentStep >= len(s.Steps) {
		return Step{}, false
	}
	return s.Steps[s.CurrentStep], true
}

// DisplayMessage is the line a presentation layer shows under the bar:
// the step title hint, else the active step's message, else a default.
func (s State) DisplayMessage() string {
	if s.StepTitle != "" {
		return s.StepTitle
	}
	if step, ok := s.ActiveStep(); ok && step.Message != "" {
		return step.Message
	}
	return "Analyzing..."
}
