package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const everyMinute = "* * * * *"

// runTicks ticks every step from start (exclusive) to end (inclusive).
func runTicks(s *Service, start, end time.Time, step time.Duration) {
	for now := start.Add(step); !now.After(end); now = now.Add(step) {
		s.tickAt(now)
	}
}

func TestFirstSightingArmsWithoutFiring(t *testing.T) {
	t.Parallel()
	s, sigs := newTestService(t, Config{})
	var c counter
	id, err := s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	info, ok := s.Job(id)
	require.True(t, ok)
	assert.False(t, info.Armed, "schedule must not compute the first run")

	s.tickAt(t0)

	info, _ = s.Job(id)
	assert.True(t, info.Armed)
	assert.Equal(t, t0.Add(time.Minute), info.Next)
	assert.Zero(t, c.get())
	assert.Zero(t, sigs.count(SignalInvoked, id))
}

func TestMinuteJumpFiresExactlyOnce(t *testing.T) {
	t.Parallel()
	s, sigs := newTestService(t, Config{})
	var c counter
	id, err := s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	s.tickAt(t0)
	jump := t0.Add(60000 * time.Millisecond)
	s.tickAt(jump)
	runTicks(s, jump, jump.Add(2*time.Second), 100*time.Millisecond)

	assert.Equal(t, 1, c.get())
	inv := sigs.invoked(id)
	require.Len(t, inv, 1)
	// Due check is inclusive: the occurrence equal to now fires.
	assert.Equal(t, jump, inv[0].Due)
}

func TestCatchUpOneOccurrencePerTick(t *testing.T) {
	t.Parallel()
	clock := newManualClock(t0)
	s, sigs := newTestService(t, Config{}, WithClock(clock))
	var c counter
	id, err := s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	// Registered at t0, first tick 44 minutes later.
	resume := t0.Add(44 * time.Minute)
	s.tickAt(resume)
	info, _ := s.Job(id)
	assert.True(t, info.Armed)
	assert.Equal(t, t0.Add(time.Minute), info.Next, "armed from the registration instant")
	assert.Zero(t, c.get(), "the arming tick never fires")

	s.tickAt(resume.Add(100 * time.Millisecond))
	assert.Equal(t, 1, c.get(), "a single tick must not burst")

	runTicks(s, resume.Add(100*time.Millisecond), resume.Add(time.Minute), 100*time.Millisecond)
	assert.Equal(t, 45, c.get())

	inv := sigs.invoked(id)
	require.Len(t, inv, 45)
	for i, sig := range inv {
		assert.Equal(t, t0.Add(time.Duration(i+1)*time.Minute), sig.Due, "occurrence %d out of order", i)
	}
}

func TestFirstSightingAnchor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		firstGap time.Duration
		wantNext time.Time
	}{
		{name: "same instant", firstGap: 0, wantNext: t0.Add(time.Minute)},
		{name: "late first tick counts from registration", firstGap: 90 * time.Minute, wantNext: t0.Add(time.Minute)},
		{name: "just under threshold", firstGap: 3*time.Hour - time.Second, wantNext: t0.Add(time.Minute)},
		{name: "at threshold arms from now", firstGap: 3 * time.Hour, wantNext: t0.Add(3*time.Hour + time.Minute)},
		{name: "backward at threshold arms from now", firstGap: -3 * time.Hour, wantNext: t0.Add(-3*time.Hour + time.Minute)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestService(t, Config{}, WithClock(newManualClock(t0)))
			var c counter
			id, err := s.Schedule(everyMinute, c.inc)
			require.NoError(t, err)

			s.tickAt(t0.Add(tt.firstGap))

			info, _ := s.Job(id)
			assert.True(t, info.Armed)
			assert.Equal(t, tt.wantNext, info.Next)
			assert.Zero(t, c.get())
		})
	}
}

func TestClockJumpForwardResetsInsteadOfCatchingUp(t *testing.T) {
	t.Parallel()
	s, sigs := newTestService(t, Config{})
	var c counter
	id, err := s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	s.tickAt(t0)
	runTicks(s, t0, t0.Add(time.Second), 100*time.Millisecond)

	jump := t0.Add(3*time.Hour + 61*time.Second)
	s.tickAt(jump)
	assert.Zero(t, c.get(), "no invocation right after a clock jump")

	info, _ := s.Job(id)
	assert.Equal(t, time.Date(2024, time.March, 1, 15, 2, 0, 0, time.UTC), info.Next)
	assert.EqualValues(t, 1, s.Snapshot().DriftResets)

	runTicks(s, jump, jump.Add(12*time.Minute), 100*time.Millisecond)
	assert.Equal(t, 12, c.get())
	assert.Len(t, sigs.invoked(id), 12)
}

func TestClockJumpBackwardResets(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{})
	var c counter
	id, err := s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	s.tickAt(t0)
	back := t0.Add(-3 * time.Hour)
	s.tickAt(back)

	info, _ := s.Job(id)
	assert.Equal(t, back.Add(time.Minute), info.Next)
	assert.Zero(t, c.get())

	s.tickAt(back.Add(time.Minute))
	assert.Equal(t, 1, c.get())
}

func TestDriftBoundary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		gap       time.Duration
		wantReset bool
	}{
		{name: "just under threshold catches up", gap: 3*time.Hour - time.Second, wantReset: false},
		{name: "exactly threshold resets", gap: 3 * time.Hour, wantReset: true},
		{name: "over threshold resets", gap: 5 * time.Hour, wantReset: true},
		{name: "backward under threshold", gap: -2 * time.Hour, wantReset: false},
		{name: "backward at threshold", gap: -3 * time.Hour, wantReset: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestService(t, Config{})
			var c counter
			_, err := s.Schedule(everyMinute, c.inc)
			require.NoError(t, err)

			s.tickAt(t0)
			s.tickAt(t0.Add(tt.gap))

			if tt.wantReset {
				assert.EqualValues(t, 1, s.Snapshot().DriftResets)
				assert.Zero(t, c.get())
				return
			}
			assert.Zero(t, s.Snapshot().DriftResets)
			if tt.gap > 0 {
				assert.Equal(t, 1, c.get(), "forward gap under threshold catches up")
			} else {
				assert.Zero(t, c.get())
			}
		})
	}
}

func TestCustomDriftThreshold(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{DriftThreshold: time.Hour})
	var c counter
	_, err := s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	s.tickAt(t0)
	s.tickAt(t0.Add(61 * time.Minute))
	assert.EqualValues(t, 1, s.Snapshot().DriftResets)
	assert.Zero(t, c.get())
}

func TestResetUsesEachJobsOwnExpression(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{})
	fiveMin, err := s.Schedule("*/5 * * * *", func() {})
	require.NoError(t, err)
	hourly, err := s.Schedule("@hourly", func() {})
	require.NoError(t, err)

	s.tickAt(t0)
	jump := t0.Add(4*time.Hour + 7*time.Minute)
	s.tickAt(jump)

	a, _ := s.Job(fiveMin)
	b, _ := s.Job(hourly)
	assert.Equal(t, time.Date(2024, time.March, 1, 16, 10, 0, 0, time.UTC), a.Next)
	assert.Equal(t, time.Date(2024, time.March, 1, 17, 0, 0, 0, time.UTC), b.Next)
}

func TestSmallBackwardJumpKeepsSchedule(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{})
	var c counter
	id, err := s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	s.tickAt(t0)
	s.tickAt(t0.Add(time.Minute))
	require.Equal(t, 1, c.get())

	s.tickAt(t0.Add(-30 * time.Minute))
	info, _ := s.Job(id)
	assert.Equal(t, t0.Add(2*time.Minute), info.Next)
	assert.Zero(t, s.Snapshot().DriftResets)
	assert.Equal(t, 1, c.get())
}

func TestPanickingJobIsIsolated(t *testing.T) {
	t.Parallel()
	s, sigs := newTestService(t, Config{})
	bad, err := s.Schedule(everyMinute, func() { panic("boom") })
	require.NoError(t, err)
	var c counter
	good, err := s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	s.tickAt(t0)
	s.tickAt(t0.Add(time.Minute))

	assert.Equal(t, 1, c.get(), "later job still runs in the same tick")

	info, _ := s.Job(bad)
	assert.EqualValues(t, 1, info.Runs)
	assert.EqualValues(t, 1, info.Failures)
	assert.Equal(t, t0.Add(2*time.Minute), info.Next, "failed job still advances")

	inv := sigs.invoked(bad)
	require.Len(t, inv, 1)
	assert.True(t, errors.Is(inv[0].Err, ErrCallbackPanic))
	require.Len(t, sigs.invoked(good), 1)
	assert.NoError(t, sigs.invoked(good)[0].Err)
}

func TestCancelDuringTickSkipsCancelledJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{})
	var victim JobID
	var c counter
	_, err := s.Schedule(everyMinute, func() {
		require.NoError(t, s.Cancel(victim))
	})
	require.NoError(t, err)
	victim, err = s.Schedule(everyMinute, c.inc)
	require.NoError(t, err)

	s.tickAt(t0)
	s.tickAt(t0.Add(time.Minute))

	assert.Zero(t, c.get())
	_, ok := s.Job(victim)
	assert.False(t, ok)
	assert.Len(t, s.Jobs(), 1)
}

func TestScheduleFromCallbackIsArmedNextTick(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{})
	var spawned JobID
	_, err := s.Schedule(everyMinute, func() {
		if spawned != "" {
			return
		}
		id, err := s.Schedule(everyMinute, func() {})
		require.NoError(t, err)
		spawned = id
	})
	require.NoError(t, err)

	s.tickAt(t0)
	s.tickAt(t0.Add(time.Minute))
	require.NotEmpty(t, spawned)

	info, ok := s.Job(spawned)
	require.True(t, ok)
	assert.False(t, info.Armed)

	s.tickAt(t0.Add(time.Minute + 100*time.Millisecond))
	info, _ = s.Job(spawned)
	assert.True(t, info.Armed)
	assert.Equal(t, t0.Add(2*time.Minute), info.Next)
}

func TestSelfCancelSuppressesInvokedSignal(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	s, sigs := newTestService(t, Config{}, WithRecorder(rec))
	var self JobID
	var c counter
	self, err := s.Schedule(everyMinute, func() {
		c.inc()
		require.NoError(t, s.Cancel(self))
	})
	require.NoError(t, err)

	s.tickAt(t0)
	s.tickAt(t0.Add(time.Minute))
	s.tickAt(t0.Add(2 * time.Minute))

	assert.Equal(t, 1, c.get())
	assert.Equal(t, 1, sigs.count(SignalCancelled, self))
	assert.Zero(t, sigs.count(SignalInvoked, self), "no invoked signal after cancelled")
	assert.Equal(t, 1, rec.invocations, "the run itself is still measured")
	_, ok := s.Job(self)
	assert.False(t, ok)
}

type neverSchedule struct{}

func (neverSchedule) Next(time.Time) time.Time { return time.Time{} }

func TestScheduleWithNoFutureOccurrenceNeverFires(t *testing.T) {
	t.Parallel()
	eval := EvaluatorFunc(func(string) (Schedule, error) { return neverSchedule{}, nil })
	s, _ := newTestService(t, Config{}, WithEvaluator(eval))
	var c counter
	id, err := s.Schedule("whatever", c.inc)
	require.NoError(t, err)

	s.tickAt(t0)
	runTicks(s, t0, t0.Add(time.Second), 100*time.Millisecond)
	s.tickAt(t0.Add(5 * time.Hour))

	info, _ := s.Job(id)
	assert.True(t, info.Armed)
	assert.True(t, info.Next.IsZero())
	assert.Zero(t, c.get())
}

type fakeRecorder struct {
	ticks, invocations, failures, resets int
}

func (r *fakeRecorder) ObserveTick(time.Duration, int) { r.ticks++ }
func (r *fakeRecorder) ObserveInvocation(_ time.Duration, err error) {
	r.invocations++
	if err != nil {
		r.failures++
	}
}
func (r *fakeRecorder) ObserveDriftReset(time.Duration) { r.resets++ }

func TestRecorderObservesLoop(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	s, _ := newTestService(t, Config{}, WithRecorder(rec))
	_, err := s.Schedule(everyMinute, func() {})
	require.NoError(t, err)
	_, err = s.Schedule(everyMinute, func() { panic("x") })
	require.NoError(t, err)

	s.tickAt(t0)
	s.tickAt(t0.Add(time.Minute))
	s.tickAt(t0.Add(5 * time.Hour))

	assert.Equal(t, 3, rec.ticks)
	assert.Equal(t, 2, rec.invocations)
	assert.Equal(t, 1, rec.failures)
	assert.Equal(t, 1, rec.resets)
}
