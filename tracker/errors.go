package tracker

import "errors"

var (
	// ErrActive is returned by Reset while a run is in progress.
	ErrActive = errors.New("analysis is running, stop it before resetting")

	// ErrErrorNotCleared is returned by Start while the previous run's error
	// is still set. Call ClearError or Reset first.
	ErrErrorNotCleared = errors.New("previous analysis error has not been cleared")

	// ErrClosed is returned by every command after Close.
	ErrClosed = errors.New("tracker is closed")

	// ErrNoSteps is returned by New when the job has no steps.
	ErrNoSteps = errors.New("job must define at least one step")
)
