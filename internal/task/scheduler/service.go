package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "simplecron/pkg/logx"
)

type Option func(*Service)

// WithClock replaces the wall clock used for due checks and drift detection.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithEvaluator replaces the default robfig/cron evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(s *Service) {
		if e != nil {
			s.eval = e
		}
	}
}

// WithRecorder installs a metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithIDGenerator replaces the uuid-based job id generator.
func WithIDGenerator(fn func() JobID) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New validates cfg and returns an idle scheduler. notify may be nil.
func New(cfg Config, log logx.Logger, notify Notifier, opts ...Option) (*Service, error) {
	cfg, loc, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	s := &Service{
		cfg:    cfg,
		loc:    loc,
		state:  StateIdle,
		table:  newJobTable(),
		log:    log,
		notify: notify,
		eval:   NewEvaluator(),
		clock:  realClock{},
		rec:    nopRecorder{},
		newID:  func() JobID { return JobID(uuid.NewString()) },
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s, nil
}

func normalizeConfig(cfg Config) (Config, *time.Location, error) {
	if cfg.TickInterval < 0 {
		return cfg, nil, fmt.Errorf("%w: tick interval must be > 0, got %s", ErrInvalidConfig, cfg.TickInterval)
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.DriftThreshold < 0 {
		return cfg, nil, fmt.Errorf("%w: drift threshold must be > 0, got %s", ErrInvalidConfig, cfg.DriftThreshold)
	}
	if cfg.DriftThreshold == 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}
	if cfg.DriftThreshold%time.Hour != 0 {
		return cfg, nil, fmt.Errorf("%w: drift threshold must be whole hours, got %s", ErrInvalidConfig, cfg.DriftThreshold)
	}
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	if cfg.Timezone == "" {
		return cfg, time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cfg, nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, cfg.Timezone, err)
	}
	return cfg, loc, nil
}

// Apply swaps the tick interval, drift threshold and timezone at runtime.
// A running loop picks the new interval up before its next wait.
func (s *Service) Apply(cfg Config) error {
	cfg, loc, err := normalizeConfig(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.loc = loc
	s.mu.Unlock()

	if prev != cfg {
		s.log.Info("config applied",
			logx.Duration("tick_interval", cfg.TickInterval),
			logx.Duration("drift_threshold", cfg.DriftThreshold),
			logx.String("tz", loc.String()),
		)
	}
	return nil
}

// Start launches the tick loop. Cancelling ctx has the same effect as Stop.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateRunning
	stopReq := make(chan struct{})
	s.stopReq = stopReq
	s.stopDone = make(chan struct{})
	cfg := s.cfg
	loc := s.loc
	s.mu.Unlock()

	s.emit(Signal{Kind: SignalStarted})
	s.log.Info("scheduler started",
		logx.Duration("tick_interval", cfg.TickInterval),
		logx.String("tz", loc.String()),
		logx.Int("jobs", s.table.len()),
	)

	go s.loop(ctx, stopReq)
	return nil
}

// Stop asks the loop to stop after its current tick. The returned channel is
// closed once the loop is Idle again and the stopped signal has been sent.
// Calling Stop again before that returns the same channel.
func (s *Service) Stop() (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
		return nil, ErrNotRunning
	case StateStopping:
		return s.stopDone, nil
	}
	s.state = StateStopping
	close(s.stopReq)
	s.log.Debug("stop requested")
	return s.stopDone, nil
}

// Shutdown stops the loop and waits for it, bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	done, err := s.Stop()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the loop is active (Running or Stopping).
func (s *Service) Running() bool {
	return s.State() != StateIdle
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) emit(sig Signal) {
	if sig.At.IsZero() {
		sig.At = s.clock.Now()
	}
	s.notify.Notify(sig)
}
