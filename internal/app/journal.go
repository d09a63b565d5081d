package app

import (
	"context"
	"sync"
	"time"

	"simplecron/internal/eventbus"
	"simplecron/internal/storage"
	"simplecron/internal/task/scheduler"
	logx "simplecron/pkg/logx"
)

const journalWriteTimeout = 2 * time.Second

// journal copies scheduler signals from the bus into the store. With no
// store it only logs them at debug level.
type journal struct {
	store storage.Store
	log   logx.Logger

	mu      sync.Mutex
	lastErr error
}

func (j *journal) run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			j.drain(ctx, events)
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			j.record(ctx, e)
		}
	}
}

// drain writes whatever is already buffered, so the final stopped signal
// makes it to disk during shutdown.
func (j *journal) drain(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			j.record(ctx, e)
		default:
			return
		}
	}
}

func (j *journal) record(ctx context.Context, e eventbus.Event) {
	sig, ok := scheduler.SignalFromEvent(e)
	if !ok {
		return
	}
	j.log.Debug("signal",
		logx.String("type", e.Type),
		logx.String("job", string(sig.JobID)),
		logx.Time("time", e.Time),
	)
	if j.store == nil {
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
	err := j.store.Append(wctx, entryFromSignal(sig))
	cancel()

	j.mu.Lock()
	j.lastErr = err
	j.mu.Unlock()
	if err != nil {
		j.log.Warn("journal append failed", logx.String("type", e.Type), logx.Err(err))
	}
}

// err is the result of the most recent append.
func (j *journal) err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

func entryFromSignal(sig scheduler.Signal) storage.Entry {
	e := storage.Entry{
		At:    sig.At,
		Kind:  sig.Kind.String(),
		JobID: string(sig.JobID),
		Due:   sig.Due,
	}
	if sig.Err != nil {
		e.Error = sig.Err.Error()
	}
	return e
}
