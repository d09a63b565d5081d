package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "simplecron/pkg/logx"
)

func (s *Service) loop(ctx context.Context, stopReq <-chan struct{}) {
	timer := time.NewTimer(s.tickInterval())
	defer timer.Stop()

	for {
		s.tick()

		// Stop requests are honoured only at tick boundaries.
		select {
		case <-stopReq:
			s.finishStop()
			return
		case <-ctx.Done():
			s.stopFromContext()
			return
		default:
		}

		timer.Reset(s.tickInterval())
		select {
		case <-stopReq:
			s.finishStop()
			return
		case <-ctx.Done():
			s.stopFromContext()
			return
		case <-timer.C:
		}
	}
}

func (s *Service) tickInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TickInterval
}

func (s *Service) stopFromContext() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateStopping
		close(s.stopReq)
	}
	s.mu.Unlock()
	s.log.Debug("context cancelled; stopping")
	s.finishStop()
}

// finishStop announces the stop while still Stopping (so a concurrent Start
// can't slip in ahead of the signal), then goes Idle and releases waiters.
func (s *Service) finishStop() {
	s.emit(Signal{Kind: SignalStopped})

	s.mu.Lock()
	s.state = StateIdle
	done := s.stopDone
	ticks := s.ticks
	s.mu.Unlock()

	s.log.Info("scheduler stopped", logx.Uint64("ticks", ticks))
	close(done)
}

func (s *Service) tick() {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	s.tickAt(s.clock.Now().In(loc))
}

// tickAt runs one evaluation pass as of now.
func (s *Service) tickAt(now time.Time) {
	start := time.Now()

	s.mu.Lock()
	last := s.lastTick
	threshold := s.cfg.DriftThreshold
	s.mu.Unlock()

	if !last.IsZero() {
		if drift := driftHours(now, last); drift >= threshold {
			s.resetAll(now, drift)
		}
	}

	jobs := s.table.snapshot()
	for _, j := range jobs {
		s.visit(j, now, threshold)
	}

	s.mu.Lock()
	s.lastTick = now
	s.ticks++
	s.mu.Unlock()

	s.rec.ObserveTick(time.Since(start), len(jobs))
}

// driftHours is |now - last| truncated to whole hours.
func driftHours(now, last time.Time) time.Duration {
	d := now.Sub(last)
	if d < 0 {
		d = -d
	}
	return d.Truncate(time.Hour)
}

// resetAll recomputes every job's next run from now, re-deriving each
// schedule from the job's own expression. Stale state never fires.
func (s *Service) resetAll(now time.Time, drift time.Duration) {
	jobs := s.table.snapshot()
	for _, j := range jobs {
		sched, err := s.eval.Parse(j.expr)

		s.table.mu.Lock()
		if j.dead {
			s.table.mu.Unlock()
			continue
		}
		if err == nil {
			j.sched = sched
		}
		j.next = j.sched.Next(now)
		j.armed = true
		s.table.mu.Unlock()
	}

	s.mu.Lock()
	s.resets++
	s.mu.Unlock()

	s.rec.ObserveDriftReset(drift)
	s.log.Warn("clock jump detected; schedules reset",
		logx.Duration("drift", drift),
		logx.Time("now", now),
		logx.Int("jobs", len(jobs)),
	)
}

// visit arms, runs or skips one job. The callback runs without holding any
// lock so it may call Schedule or Cancel.
func (s *Service) visit(j *job, now time.Time, threshold time.Duration) {
	s.table.mu.Lock()
	if j.dead {
		s.table.mu.Unlock()
		return
	}
	if !j.armed {
		// First sighting only arms the schedule. Occurrences are counted
		// from registration so a late first tick catches up, unless the
		// gap is itself a clock jump.
		anchor := j.created.In(now.Location())
		if j.created.IsZero() || driftHours(now, j.created) >= threshold {
			anchor = now
		}
		j.next = j.sched.Next(anchor)
		j.armed = true
		next := j.next
		s.table.mu.Unlock()
		s.log.Debug("job armed", logx.String("job", string(j.id)), logx.Time("next", next))
		return
	}
	if j.next.IsZero() || j.next.After(now) {
		s.table.mu.Unlock()
		return
	}
	due := j.next
	run := j.run
	s.table.mu.Unlock()

	start := time.Now()
	err := s.invoke(j, run)
	took := time.Since(start)

	s.table.mu.Lock()
	if j.dead {
		// Cancelled from inside its own callback.
		s.table.mu.Unlock()
		s.rec.ObserveInvocation(took, err)
		return
	}
	j.lastRun = now
	j.runs++
	if err != nil {
		j.failures++
	}
	// Exactly one occurrence per tick; a job that is further behind is
	// caught up by the following ticks.
	j.next = j.sched.Next(due)
	s.table.mu.Unlock()

	s.rec.ObserveInvocation(took, err)
	s.emit(Signal{Kind: SignalInvoked, JobID: j.id, At: now, Due: due, Err: err})
}

func (s *Service) invoke(j *job, run Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
			s.reportFailure(j, err, string(debug.Stack()))
		}
	}()
	run.Run()
	return nil
}
