package scheduler

import (
	"fmt"
	"strings"

	logx "simplecron/pkg/logx"
)

// Schedule registers fn under expr and returns the new job id.
//
// The expression is validated immediately; an unparseable one fails with
// ErrInvalidExpression. The first run time is not computed here: the first
// tick that sees the job arms it without firing.
func (s *Service) Schedule(expr string, fn func()) (JobID, error) {
	if fn == nil {
		return "", ErrNilJob
	}
	return s.ScheduleJob(expr, FuncJob(fn))
}

// ScheduleJob is Schedule for a Job value.
func (s *Service) ScheduleJob(expr string, run Job) (JobID, error) {
	if run == nil {
		return "", ErrNilJob
	}
	sched, err := s.eval.Parse(expr)
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidExpression, expr, err)
	}
	if sched == nil {
		return "", fmt.Errorf("%w %q: evaluator returned no schedule", ErrInvalidExpression, expr)
	}

	j := &job{
		id:      s.newID(),
		expr:    expr,
		sched:   sched,
		run:     run,
		created: s.clock.Now(),
		warn:    newFailureLimiter(),
	}
	if err := s.table.insert(j); err != nil {
		return "", err
	}

	s.emit(Signal{Kind: SignalScheduled, JobID: j.id})
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("job scheduled",
			logx.String("job", string(j.id)),
			logx.String("expr", expr),
			logx.String("preview", s.preview(sched, 3)),
		)
	}
	return j.id, nil
}

// Cancel removes the job. Unknown (or already cancelled) ids fail with
// ErrUnknownJob. A callback already running is not interrupted.
func (s *Service) Cancel(id JobID) error {
	if !s.table.remove(id) {
		return fmt.Errorf("%w: %q", ErrUnknownJob, id)
	}
	s.emit(Signal{Kind: SignalCancelled, JobID: id})
	s.log.Debug("job cancelled", logx.String("job", string(id)))
	return nil
}

// Validate reports whether expr would be accepted by Schedule.
func (s *Service) Validate(expr string) error {
	if _, err := s.eval.Parse(expr); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidExpression, expr, err)
	}
	return nil
}

func (s *Service) preview(sched Schedule, n int) string {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	var b strings.Builder
	for i, t := range PreviewNext(sched, s.clock.Now().In(loc), n) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
