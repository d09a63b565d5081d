package scheduler

import (
	"fmt"
	"sync"
)

// jobTable is the ordered set of live jobs. It also guards the mutable
// fields of every job it holds.
type jobTable struct {
	mu   sync.Mutex
	jobs []*job
	byID map[JobID]*job
}

func newJobTable() *jobTable {
	return &jobTable{byID: map[JobID]*job{}}
}

func (t *jobTable) insert(j *job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[j.id]; ok {
		return fmt.Errorf("duplicate job id %q", j.id)
	}
	t.jobs = append(t.jobs, j)
	t.byID[j.id] = j
	return nil
}

// remove unlinks the job and marks it dead so a tick already holding a
// snapshot will not run it.
func (t *jobTable) remove(id JobID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byID[id]
	if !ok {
		return false
	}
	j.dead = true
	delete(t.byID, id)
	for i, cur := range t.jobs {
		if cur == j {
			// keep order; copy so a snapshot taken earlier is unaffected
			t.jobs = append(t.jobs[:i:i], t.jobs[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns the live jobs in insertion order. The slice is a copy.
func (t *jobTable) snapshot() []*job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*job, len(t.jobs))
	copy(out, t.jobs)
	return out
}

func (t *jobTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *jobTable) info(id JobID) (JobInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byID[id]
	if !ok {
		return JobInfo{}, false
	}
	return j.infoLocked(), true
}

func (t *jobTable) infos() []JobInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JobInfo, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j.infoLocked())
	}
	return out
}

func (j *job) infoLocked() JobInfo {
	return JobInfo{
		ID:         j.id,
		Expression: j.expr,
		Created:    j.created,
		Next:       j.next,
		Armed:      j.armed,
		LastRun:    j.lastRun,
		Runs:       j.runs,
		Failures:   j.failures,
	}
}
