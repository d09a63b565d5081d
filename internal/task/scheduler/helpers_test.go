package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	logx "simplecron/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// t0 sits exactly on a minute boundary.
var t0 = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type signalLog struct {
	mu   sync.Mutex
	sigs []Signal
}

func (l *signalLog) Notify(s Signal) {
	l.mu.Lock()
	l.sigs = append(l.sigs, s)
	l.mu.Unlock()
}

func (l *signalLog) all() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Signal(nil), l.sigs...)
}

func (l *signalLog) kinds() []SignalKind {
	var out []SignalKind
	for _, s := range l.all() {
		out = append(out, s.Kind)
	}
	return out
}

func (l *signalLog) count(kind SignalKind, id JobID) int {
	n := 0
	for _, s := range l.all() {
		if s.Kind == kind && (id == "" || s.JobID == id) {
			n++
		}
	}
	return n
}

func (l *signalLog) invoked(id JobID) []Signal {
	var out []Signal
	for _, s := range l.all() {
		if s.Kind == SignalInvoked && s.JobID == id {
			out = append(out, s)
		}
	}
	return out
}

func newTestService(t *testing.T, cfg Config, opts ...Option) (*Service, *signalLog) {
	t.Helper()
	sigs := &signalLog{}
	s, err := New(cfg, logx.Nop(), sigs, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if s.Running() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Shutdown(ctx)
		}
	})
	return s, sigs
}

// counter is a goroutine-safe invocation counter.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
