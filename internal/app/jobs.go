package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"simplecron/internal/config"
	"simplecron/internal/task/scheduler"
	logx "simplecron/pkg/logx"
)

// demoJobs keeps the scheduler's job set in line with the config's jobs
// section. Jobs are keyed by name; a changed schedule or message replaces
// the job under a new id.
type demoJobs struct {
	mu     sync.Mutex
	sched  *scheduler.Service
	log    logx.Logger
	byName map[string]demoJob
}

type demoJob struct {
	id  scheduler.JobID
	cfg config.JobConfig
}

func newDemoJobs(sched *scheduler.Service, log logx.Logger) *demoJobs {
	return &demoJobs{sched: sched, log: log, byName: map[string]demoJob{}}
}

// sync cancels jobs that disappeared or changed and schedules new ones.
// Failures are collected; the remaining jobs are still synced.
func (d *demoJobs) sync(jobs []config.JobConfig) (added, removed int, err error) {
	want := make(map[string]config.JobConfig, len(jobs))
	for _, j := range jobs {
		want[strings.TrimSpace(j.Name)] = j
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, cur := range d.byName {
		if next, ok := want[name]; ok && next == cur.cfg {
			continue
		}
		if cerr := d.sched.Cancel(cur.id); cerr != nil && !errors.Is(cerr, scheduler.ErrUnknownJob) {
			errs = append(errs, fmt.Errorf("job %q: %w", name, cerr))
			continue
		}
		delete(d.byName, name)
		removed++
	}

	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := d.byName[name]; ok {
			continue
		}
		jc := want[name]
		id, serr := d.sched.Schedule(jc.Schedule, d.runner(name, jc.Message))
		if serr != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", name, serr))
			continue
		}
		d.byName[name] = demoJob{id: id, cfg: jc}
		added++
	}
	return added, removed, errors.Join(errs...)
}

func (d *demoJobs) runner(name, msg string) func() {
	if msg == "" {
		msg = "job fired"
	}
	return func() {
		d.log.Info(msg, logx.String("job", name))
	}
}

// ids maps job names to their current scheduler ids.
func (d *demoJobs) ids() map[string]scheduler.JobID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]scheduler.JobID, len(d.byName))
	for name, j := range d.byName {
		out[name] = j.id
	}
	return out
}
