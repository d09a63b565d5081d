package scheduler

import (
	"time"

	"golang.org/x/time/rate"

	logx "simplecron/pkg/logx"
)

// failureWarnEvery bounds how often one job may log a failure at warn level.
const failureWarnEvery = 5 * time.Second

func newFailureLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(failureWarnEvery), 1)
}

func (s *Service) reportFailure(j *job, err error, stack string) {
	if err == nil || s.log.IsZero() {
		return
	}
	fields := []logx.Field{
		logx.String("job", string(j.id)),
		logx.String("expr", j.expr),
		logx.Err(err),
	}
	if j.warn != nil && !j.warn.Allow() {
		// A job failing every tick would otherwise flood the log.
		s.log.Debug("job failed", fields...)
		return
	}
	s.log.Warn("job failed", append(fields, logx.Stack(stack))...)
}
