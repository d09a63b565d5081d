package scheduler

import "errors"

var (
	ErrInvalidConfig     = errors.New("scheduler: invalid config")
	ErrInvalidExpression = errors.New("scheduler: invalid schedule expression")
	ErrAlreadyRunning    = errors.New("scheduler: already running")
	ErrNotRunning        = errors.New("scheduler: not running")
	ErrUnknownJob        = errors.New("scheduler: unknown job")
	ErrNilJob            = errors.New("scheduler: nil job")

	// ErrCallbackPanic wraps a value recovered from a panicking job.
	ErrCallbackPanic = errors.New("scheduler: job panicked")
)
