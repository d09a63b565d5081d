package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "simplecron/pkg/logx"
)

const (
	DefaultTickInterval   = 100 * time.Millisecond
	DefaultDriftThreshold = 3 * time.Hour
)

// Config controls the scheduler loop.
//
// Zero values select defaults:
//   - TickInterval: 100ms
//   - DriftThreshold: 3h (must be a whole number of hours)
//   - Timezone: time.Local
type Config struct {
	TickInterval   time.Duration
	Timezone       string // IANA TZ, e.g. "Europe/Berlin"
	DriftThreshold time.Duration
}

// State is the loop state machine: Idle -> Running -> Stopping -> Idle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// JobID identifies a scheduled job. IDs are never reused.
type JobID string

// Job is a unit of scheduled work.
type Job interface {
	Run()
}

// FuncJob adapts a plain function to Job.
type FuncJob func()

func (f FuncJob) Run() { f() }

// Clock supplies the loop's notion of "now".
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Recorder receives loop measurements. Implementations must be cheap and
// non-blocking; they are called from inside the tick.
type Recorder interface {
	ObserveTick(took time.Duration, jobs int)
	ObserveInvocation(took time.Duration, err error)
	ObserveDriftReset(drift time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(time.Duration, int)         {}
func (nopRecorder) ObserveInvocation(time.Duration, error) {}
func (nopRecorder) ObserveDriftReset(time.Duration)        {}

// job is one Job Record. Mutable fields are guarded by jobTable.mu.
type job struct {
	id      JobID
	expr    string
	sched   Schedule
	run     Job
	created time.Time

	next  time.Time
	armed bool // false until the first tick that observes the job
	dead  bool // set on cancel; an in-flight tick snapshot must skip it

	lastRun  time.Time
	runs     uint64
	failures uint64

	warn *rate.Limiter // throttles callback failure warnings
}

type Service struct {
	mu sync.Mutex

	cfg   Config
	loc   *time.Location
	state State

	// One pair per run cycle: stopReq is closed to request a stop, stopDone is
	// closed by the loop once it is back to Idle.
	stopReq  chan struct{}
	stopDone chan struct{}

	lastTick time.Time
	ticks    uint64
	resets   uint64

	table *jobTable

	log    logx.Logger
	notify Notifier
	eval   Evaluator
	clock  Clock
	rec    Recorder
	newID  func() JobID
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	ID         JobID
	Expression string
	Created    time.Time
	Next       time.Time
	Armed      bool
	LastRun    time.Time
	Runs       uint64
	Failures   uint64
}

type Snapshot struct {
	State          State
	TickInterval   time.Duration
	DriftThreshold time.Duration
	Timezone       string
	LastTick       time.Time
	Ticks          uint64
	DriftResets    uint64
	Jobs           []JobInfo
}
