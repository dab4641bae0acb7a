package tracker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_FiresUntilStopped(t *testing.T) {
	var calls atomic.Int32
	s := newSchedule(2*time.Millisecond, func() { calls.Add(1) })

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	s.Stop()
	// allow a call that was already running to finish
	time.Sleep(5 * time.Millisecond)
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestSchedule_StopBeforeFirstCall(t *testing.T) {
	var calls atomic.Int32
	s := newSchedule(20*time.Millisecond, func() { calls.Add(1) })
	s.Stop()
	s.Stop()

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestSchedule_NilStop(t *testing.T) {
	var s *schedule
	assert.NotPanics(t, func() { s.Stop() })
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "less than a minute"},
		{59 * time.Second, "less than a minute"},
		{time.Minute, "about 1 minute"},
		{90 * time.Second, "about 2 minutes"},
		{3*time.Minute + 40*time.Second, "about 4 minutes"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatRemaining(tt.in), tt.in.String())
	}
}

func TestDefaultSteps(t *testing.T) {
	defs := DefaultSteps()
	assert.NoError(t, validateSteps(defs))
	assert.Len(t, defs, 4)

	total := totalEstimate(defs)
	assert.GreaterOrEqual(t, total, 3*time.Minute)
	assert.LessOrEqual(t, total, 5*time.Minute)
}
