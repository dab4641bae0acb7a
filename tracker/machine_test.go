package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/konveyor/analysis-tracker/progress"
	"github.com/konveyor/analysis-tracker/progress/collector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource hands each run's signals to the test and blocks until the
// run is cancelled.
type scriptedSource struct {
	signals chan *Signals
	runs    atomic.Int32
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{signals: make(chan *Signals, 10)}
}

func (s *scriptedSource) Run(ctx context.Context, steps []StepDefinition, signals *Signals) error {
	s.runs.Add(1)
	s.signals <- signals
	<-ctx.Done()
	return ctx.Err()
}

func (s *scriptedSource) next(t *testing.T) *Signals {
	t.Helper()
	select {
	case sig := <-s.signals:
		return sig
	case <-time.After(time.Second):
		t.Fatal("source was not started")
		return nil
	}
}

func steps(n int, estimate time.Duration) []StepDefinition {
	ids := []string{"prepare", "upload", "analyze", "report", "extra"}
	defs := make([]StepDefinition, n)
	for i := range defs {
		defs[i] = StepDefinition{ID: ids[i], Title: "Step " + ids[i], Estimate: estimate}
	}
	return defs
}

func newScripted(t *testing.T, n int, opts ...Option) (*Machine, *scriptedSource) {
	t.Helper()
	source := newScriptedSource()
	opts = append([]Option{
		WithSteps(steps(n, time.Hour)...),
		WithSource(source),
		WithTickInterval(0),
	}, opts...)
	m, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, source
}

func statuses(s progress.State) []progress.StepStatus {
	out := make([]progress.StepStatus, len(s.Steps))
	for i, step := range s.Steps {
		out[i] = step.Status
	}
	return out
}

func flagCount(s progress.State) int {
	n := 0
	for _, f := range []bool{s.IsActive, s.IsCompleted, s.HasError, s.IsStopped} {
		if f {
			n++
		}
	}
	return n
}

func TestNew_Validation(t *testing.T) {
	_, err := New(WithSteps())
	assert.ErrorIs(t, err, ErrNoSteps)

	_, err = New(WithSteps(StepDefinition{ID: "a"}, StepDefinition{ID: "a"}))
	assert.ErrorContains(t, err, "duplicate step id")

	_, err = New(WithSteps(StepDefinition{Title: "no id"}))
	assert.ErrorContains(t, err, "has no id")

	m, err := New()
	require.NoError(t, err)
	state := m.Snapshot()
	assert.Len(t, state.Steps, 4)
	assert.Equal(t, progress.ModeIdle, state.Mode())
	assert.Zero(t, flagCount(state))
	for _, step := range state.Steps {
		assert.Equal(t, progress.StepPending, step.Status)
	}
}

func TestMachine_FailureAtSecondStep(t *testing.T) {
	m, source := newScripted(t, 4)

	require.NoError(t, m.Start())
	sig := source.next(t)
	require.True(t, sig.Advance(""))
	require.True(t, sig.Fail("network timeout"))

	state := m.Snapshot()
	assert.True(t, state.HasError)
	assert.False(t, state.IsActive)
	assert.Contains(t, state.ErrorMessage, "network timeout")
	assert.Equal(t, []progress.StepStatus{
		progress.StepCompleted,
		progress.StepError,
		progress.StepPending,
		progress.StepPending,
	}, statuses(state))
	assert.Equal(t, 1, state.CurrentStep)
	assert.Equal(t, 25.0, state.Percentage)
	assert.Equal(t, 1, flagCount(state))
}

func TestMachine_CompletesAllSteps(t *testing.T) {
	m, err := New(
		WithSteps(steps(3, 20*time.Millisecond)...),
		WithSource(&SimulatedSource{}),
		WithTickInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Start())
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	state := m.Snapshot()
	assert.True(t, state.IsCompleted)
	assert.Equal(t, 100.0, state.Percentage)
	assert.Equal(t, 1, flagCount(state))
	for _, step := range state.Steps {
		assert.Equal(t, progress.StepCompleted, step.Status)
	}
	assert.Empty(t, state.EstimatedTime)
}

func TestMachine_StopFreezesProgress(t *testing.T) {
	m, err := New(
		WithSteps(steps(4, 200*time.Millisecond)...),
		WithSource(newScriptedSource()),
		WithTickInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Start())
	assert.Eventually(t, func() bool {
		return m.Snapshot().Percentage > 5
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop())
	stopped := m.Snapshot()
	assert.True(t, stopped.IsStopped)
	assert.False(t, stopped.IsActive)
	assert.Equal(t, 1, flagCount(stopped))
	assert.Greater(t, stopped.Percentage, 0.0)
	assert.Equal(t, progress.StepError, stopped.Steps[0].Status)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, m.Snapshot(), "no progression after stop")
}

func TestMachine_StopWhenNotActiveIsNoop(t *testing.T) {
	m, source := newScripted(t, 2)

	before := m.Snapshot()
	require.NoError(t, m.Stop())
	assert.Equal(t, before, m.Snapshot())

	require.NoError(t, m.Start())
	sig := source.next(t)
	sig.Advance("")
	sig.Advance("")

	completed := m.Snapshot()
	require.True(t, completed.IsCompleted)
	require.NoError(t, m.Stop())
	assert.Equal(t, completed, m.Snapshot())
}

func TestMachine_StartWhileActiveIsNoop(t *testing.T) {
	m, source := newScripted(t, 3)

	require.NoError(t, m.Start())
	sig := source.next(t)
	sig.Advance("prepared")
	before := m.Snapshot()

	require.NoError(t, m.Start())
	assert.Equal(t, before, m.Snapshot())
	assert.Equal(t, int32(1), source.runs.Load())
	assert.True(t, sig.Advance(""), "original run still current")
}

func TestMachine_ResetThenStartFromEveryTerminalState(t *testing.T) {
	tests := []struct {
		name   string
		finish func(t *testing.T, m *Machine, sig *Signals)
	}{
		{
			name: "completed",
			finish: func(t *testing.T, m *Machine, sig *Signals) {
				sig.Advance("")
				sig.Advance("")
				sig.Advance("")
			},
		},
		{
			name: "error",
			finish: func(t *testing.T, m *Machine, sig *Signals) {
				sig.Advance("")
				sig.Fail("boom")
			},
		},
		{
			name: "stopped",
			finish: func(t *testing.T, m *Machine, sig *Signals) {
				sig.Advance("")
				require.NoError(t, m.Stop())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, source := newScripted(t, 3)
			require.NoError(t, m.Start())
			tt.finish(t, m, source.next(t))
			require.True(t, m.Snapshot().Terminal())

			require.NoError(t, m.Reset())
			idle := m.Snapshot()
			assert.Equal(t, progress.ModeIdle, idle.Mode())
			assert.Zero(t, idle.Percentage)
			assert.Empty(t, idle.ErrorMessage)

			require.NoError(t, m.Start())
			state := m.Snapshot()
			assert.Zero(t, state.Percentage)
			assert.True(t, state.IsActive)
			assert.Equal(t, 1, flagCount(state))
			assert.Equal(t, 0, state.CurrentStep)
			assert.Equal(t, []progress.StepStatus{
				progress.StepInProgress,
				progress.StepPending,
				progress.StepPending,
			}, statuses(state))
		})
	}
}

func TestMachine_StartFromCompletedIsFreshRun(t *testing.T) {
	m, source := newScripted(t, 2)

	require.NoError(t, m.Start())
	sig := source.next(t)
	sig.Advance("")
	sig.Advance("")
	require.True(t, m.Snapshot().IsCompleted)

	require.NoError(t, m.Start())
	state := m.Snapshot()
	assert.True(t, state.IsActive)
	assert.False(t, state.IsCompleted)
	assert.Zero(t, state.Percentage)
	assert.Equal(t, []progress.StepStatus{progress.StepInProgress, progress.StepPending}, statuses(state))

	assert.False(t, sig.Advance(""), "signals of the previous run are stale")
	source.next(t)
}

func TestMachine_StartFromStoppedIsFreshRun(t *testing.T) {
	m, source := newScripted(t, 2)

	require.NoError(t, m.Start())
	sig := source.next(t)
	sig.Advance("")
	require.NoError(t, m.Stop())

	require.NoError(t, m.Start())
	state := m.Snapshot()
	assert.True(t, state.IsActive)
	assert.Zero(t, state.Percentage)
	assert.False(t, sig.Fail("late failure"))
	assert.False(t, m.Snapshot().HasError)
}

func TestMachine_ResetWhileActiveIsRejected(t *testing.T) {
	m, source := newScripted(t, 3)

	require.NoError(t, m.Start())
	source.next(t).Advance("")
	before := m.Snapshot()

	assert.ErrorIs(t, m.Reset(), ErrActive)
	assert.Equal(t, before, m.Snapshot())
}

func TestMachine_ErrorMustBeClearedBeforeStart(t *testing.T) {
	m, source := newScripted(t, 3)

	require.NoError(t, m.Start())
	source.next(t).Fail("upload rejected")

	assert.ErrorIs(t, m.Start(), ErrErrorNotCleared)
	assert.True(t, m.Snapshot().HasError)

	require.NoError(t, m.ClearError())
	cleared := m.Snapshot()
	assert.False(t, cleared.HasError)
	assert.Empty(t, cleared.ErrorMessage)
	assert.Equal(t, progress.StepError, cleared.Steps[0].Status, "clearing the error does not touch steps")

	require.NoError(t, m.Start())
	state := m.Snapshot()
	assert.True(t, state.IsActive)
	assert.Zero(t, state.Percentage)
	assert.Equal(t, progress.StepInProgress, state.Steps[0].Status)
}

func TestMachine_ClearErrorWithoutErrorIsNoop(t *testing.T) {
	m, _ := newScripted(t, 2)
	before := m.Snapshot()
	require.NoError(t, m.ClearError())
	assert.Equal(t, before, m.Snapshot())
}

func TestMachine_Retry(t *testing.T) {
	m, source := newScripted(t, 2)

	require.NoError(t, m.Start())
	source.next(t).Fail("network timeout")

	require.NoError(t, m.Retry())
	state := m.Snapshot()
	assert.True(t, state.IsActive)
	assert.Zero(t, state.Percentage)
	source.next(t)

	assert.ErrorIs(t, m.Retry(), ErrActive)
}

func TestMachine_UpdateSetsStepMessage(t *testing.T) {
	m, source := newScripted(t, 2)

	require.NoError(t, m.Start())
	sig := source.next(t)
	require.True(t, sig.Update("Uploaded 3 of 5 files"))

	state := m.Snapshot()
	assert.Equal(t, "Uploaded 3 of 5 files", state.Steps[0].Message)
	assert.Equal(t, "Uploaded 3 of 5 files", state.DisplayMessage())
	assert.Equal(t, progress.StepInProgress, state.Steps[0].Status)

	sig.Advance("done")
	state = m.Snapshot()
	assert.Equal(t, "done", state.Steps[0].Message)
	assert.Equal(t, "Step upload", state.StepTitle)
}

func TestMachine_SourceOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		source  SourceFunc
		message string
	}{
		{
			name: "error",
			source: func(ctx context.Context, steps []StepDefinition, signals *Signals) error {
				return errors.New("backend returned 502")
			},
			message: "backend returned 502",
		},
		{
			name: "early return",
			source: func(ctx context.Context, steps []StepDefinition, signals *Signals) error {
				signals.Advance("")
				return nil
			},
			message: sourceEndedEarly,
		},
		{
			name: "panic",
			source: func(ctx context.Context, steps []StepDefinition, signals *Signals) error {
				panic("nil pointer in poller")
			},
			message: "job status source panicked: nil pointer in poller",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(WithSteps(steps(3, time.Hour)...), WithSource(tt.source), WithTickInterval(0))
			require.NoError(t, err)
			defer m.Close()

			require.NoError(t, m.Start())
			select {
			case <-m.Done():
			case <-time.After(time.Second):
				t.Fatal("run did not finish")
			}

			state := m.Snapshot()
			assert.True(t, state.HasError)
			assert.Equal(t, tt.message, state.ErrorMessage)
			assert.Equal(t, 1, flagCount(state))
		})
	}
}

func TestMachine_PercentageMonotonic(t *testing.T) {
	col := collector.New()
	m, err := New(
		WithSteps(steps(4, 30*time.Millisecond)...),
		WithSource(&SimulatedSource{}),
		WithTickInterval(2*time.Millisecond),
		WithCollector(col),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Start())
	first := <-col.CollectChannel()
	require.Equal(t, progress.StageStart, first.Stage)
	assert.Zero(t, first.State.Percentage)

	last := 0.0
	deadline := time.After(2 * time.Second)
	for {
		state := m.Snapshot()
		require.Equal(t, 1, flagCount(state))
		require.GreaterOrEqual(t, state.Percentage, last, "percentage decreased")
		require.LessOrEqual(t, state.Percentage, 100.0)
		last = state.Percentage
		if state.Terminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("run did not finish")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	assert.Equal(t, 100.0, last)
}

func TestMachine_ClockStaysBelowNextStep(t *testing.T) {
	m, err := New(
		WithSteps(steps(2, 10*time.Millisecond)...),
		WithSource(newScriptedSource()),
		WithTickInterval(2*time.Millisecond),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Start())
	assert.Eventually(t, func() bool {
		return m.Snapshot().Percentage >= 47
	}, time.Second, 2*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Less(t, m.Snapshot().Percentage, 50.0)
}

func TestMachine_EmitsEvents(t *testing.T) {
	col := collector.New()
	m, source := newScripted(t, 2, WithCollector(col), WithEstimatedTime("3-5 minutes"))

	require.NoError(t, m.Start())
	sig := source.next(t)
	sig.Update("uploading")
	sig.Advance("")
	sig.Advance("")

	var stages []progress.Stage
	var events []progress.Event
	for len(stages) < 7 {
		select {
		case e := <-col.CollectChannel():
			stages = append(stages, e.Stage)
			events = append(events, e)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", stages)
		}
	}

	assert.Equal(t, []progress.Stage{
		progress.StageStart,
		progress.StageStepStart,
		progress.StageStepUpdate,
		progress.StageStepComplete,
		progress.StageStepStart,
		progress.StageStepComplete,
		progress.StageComplete,
	}, stages)

	require.NotNil(t, events[0].State)
	assert.Equal(t, "3-5 minutes", events[0].State.EstimatedTime)
	assert.Equal(t, 2, events[0].Total)
	assert.Equal(t, "Step prepare", events[3].Message)
	assert.Equal(t, 1, events[3].Current)
	assert.Equal(t, 100.0, events[6].Percent)
	assert.True(t, events[6].State.IsCompleted)
}

func TestMachine_EventsCarryIndependentSnapshots(t *testing.T) {
	col := collector.New()
	m, source := newScripted(t, 2, WithCollector(col))

	require.NoError(t, m.Start())
	source.next(t).Advance("")

	start := <-col.CollectChannel()
	require.NotNil(t, start.State)
	assert.Equal(t, progress.StepInProgress, start.State.Steps[0].Status, "later mutations must not leak into earlier events")
	assert.Equal(t, progress.StepCompleted, m.Snapshot().Steps[0].Status)
}

func TestMachine_Close(t *testing.T) {
	m, source := newScripted(t, 3)

	require.NoError(t, m.Start())
	sig := source.next(t)
	sig.Advance("")

	require.NoError(t, m.Close())
	closed := m.Snapshot()
	assert.True(t, closed.IsStopped)
	assert.False(t, closed.IsActive)

	assert.False(t, sig.Advance(""))
	assert.ErrorIs(t, m.Start(), ErrClosed)
	assert.ErrorIs(t, m.Stop(), ErrClosed)
	assert.ErrorIs(t, m.Reset(), ErrClosed)
	assert.ErrorIs(t, m.ClearError(), ErrClosed)
	assert.ErrorIs(t, m.Retry(), ErrClosed)
	assert.NoError(t, m.Close())
	assert.Equal(t, closed, m.Snapshot())
}

func TestMachine_DoneBeforeStart(t *testing.T) {
	m, _ := newScripted(t, 1)
	select {
	case <-m.Done():
	default:
		t.Fatal("Done should be closed before the first run")
	}
}

func TestMachine_SimulatedFailure(t *testing.T) {
	m, err := New(
		WithSteps(steps(4, 10*time.Millisecond)...),
		WithSource(&SimulatedSource{FailStep: "upload", FailReason: "network timeout"}),
		WithTickInterval(0),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Start())
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("run did not finish")
	}

	state := m.Snapshot()
	assert.True(t, state.HasError)
	assert.Equal(t, "network timeout", state.ErrorMessage)
	assert.Equal(t, []progress.StepStatus{
		progress.StepCompleted,
		progress.StepError,
		progress.StepPending,
		progress.StepPending,
	}, statuses(state))
}

func TestSimulatedSource_Speed(t *testing.T) {
	m, err := New(
		WithSteps(steps(2, time.Second)...),
		WithSource(&SimulatedSource{Speed: 100}),
		WithTickInterval(0),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Start())
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("speed factor was not applied")
	}
	assert.True(t, m.Snapshot().IsCompleted)
}

func TestMachine_StartWithOverridesSourceForOneRun(t *testing.T) {
	m, configured := newScripted(t, 2)
	override := newScriptedSource()

	require.NoError(t, m.StartWith(override))
	override.next(t)

	// ignored while the run is active
	other := newScriptedSource()
	require.NoError(t, m.StartWith(other))
	assert.Equal(t, int32(0), other.runs.Load())

	require.NoError(t, m.Stop())
	require.NoError(t, m.Start())
	configured.next(t)
	assert.Equal(t, int32(1), override.runs.Load())
	assert.Equal(t, int32(1), configured.runs.Load())
}

func TestMachine_ConcurrentStartWithRunsOnce(t *testing.T) {
	m, _ := newScripted(t, 2)
	sources := make([]*scriptedSource, 20)
	errs := make(chan error, len(sources))
	for i := range sources {
		sources[i] = newScriptedSource()
		go func(s *scriptedSource) {
			errs <- m.StartWith(s)
		}(sources[i])
	}
	for range sources {
		require.NoError(t, <-errs)
	}

	require.Eventually(t, func() bool {
		total := int32(0)
		for _, s := range sources {
			total += s.runs.Load()
		}
		return total == 1
	}, time.Second, 5*time.Millisecond)
}
