// Package app wires the scheduler daemon: config, logging, the signal bus,
// the journal, metrics, the debug server and the demo jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"simplecron/internal/config"
	"simplecron/internal/eventbus"
	"simplecron/internal/observability/debugserver"
	"simplecron/internal/observability/metrics"
	"simplecron/internal/runtime/supervisor"
	"simplecron/internal/storage"
	"simplecron/internal/task/scheduler"
	logx "simplecron/pkg/logx"
	"simplecron/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	journal *journal
	reg     *prometheus.Registry

	sched *scheduler.Service
	jobs  *demoJobs
	debug *debugserver.Service

	sup *supervisor.Supervisor
}

// Status is the /jobs payload.
type Status struct {
	Scheduler  scheduler.Snapshot         `json:"scheduler"`
	Jobs       map[string]scheduler.JobID `json:"jobs"`
	Goroutines []supervisor.Stats         `json:"goroutines,omitempty"`
	BusDropped uint64                     `json:"bus_dropped"`
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	stCfg, stEnabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	var store storage.Store
	if stEnabled {
		store, err = storage.Open(stCfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		log.Info("journal enabled", logx.String("driver", stCfg.Driver), logx.String("path", stCfg.Path))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.RegisterEventBus(reg, bus.Dropped)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		closeAll(store, logs)
		return nil, err
	}
	sched, err := scheduler.New(schedCfg,
		log.With(logx.String("comp", "scheduler")),
		scheduler.BusNotifier(bus),
		scheduler.WithRecorder(metrics.NewSchedulerMetrics(reg)),
	)
	if err != nil {
		closeAll(store, logs)
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		store:   store,
		journal: &journal{store: store, log: log.With(logx.String("comp", "journal"))},
		reg:     reg,
		sched:   sched,
		jobs:    newDemoJobs(sched, log.With(logx.String("comp", "jobs"))),
	}

	if err := a.validate(context.Background(), cfg); err != nil {
		closeAll(store, logs)
		return nil, err
	}
	dbgCfg, _ := mapDebugConfig(cfg)
	a.debug = debugserver.New(dbgCfg, debugserver.Sources{
		Health:   a.health,
		Jobs:     func() any { return a.Status() },
		Journal:  a.recent,
		Gatherer: reg,
	}, log)

	return a, nil
}

func closeAll(store storage.Store, logs *logx.Service) {
	if store != nil {
		_ = store.Close()
	}
	_ = logs.Close()
}

// Scheduler exposes the scheduler so callers can add their own jobs.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Bus is the bus scheduler signals are published on.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app context is cancelled (e.g. a fatal error in a
// supervised goroutine). It is nil before Start.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validate rejects configs the scheduler or debug server would refuse,
// including job schedules the evaluator cannot parse.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, err := mapSchedulerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	for _, j := range cfg.Jobs {
		if err := a.sched.Validate(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("jobs.%s: %w", j.Name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", config.ErrInvalidConfig, errors.Join(errs...))
}

func (a *App) health() error {
	if !a.sched.Running() {
		return errors.New("scheduler not running")
	}
	if err := a.journal.err(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

func (a *App) Status() Status {
	st := Status{
		Scheduler:  a.sched.Snapshot(),
		Jobs:       a.jobs.ids(),
		BusDropped: a.bus.Dropped(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

func (a *App) recent(ctx context.Context, n int) (any, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Recent(ctx, n)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validate)

	// Subscribe before anything is scheduled so the journal sees every signal.
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("scheduler.journal", func(c context.Context) error {
		defer unsub()
		return a.journal.run(c, events)
	})

	cfg := a.cfgm.Get()
	added, _, err := a.jobs.sync(cfg.Jobs)
	if err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	a.debug.Start(a.sup.Context())

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c, a.health); err != nil {
			a.log.Warn("systemd watchdog disabled", logx.Err(err))
		}
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := cfg
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Int("jobs", added))
	return nil
}

// applyConfig pushes a committed config into the running components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, _ := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Debug("applying config", logx.String("changed", strings.Join(sections, ",")))

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLoggingConfig(next))

	if sc, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(sc); err != nil {
		a.log.Warn("scheduler rejected config; keeping previous", logx.Err(err))
	}

	added, removed, err := a.jobs.sync(next.Jobs)
	if err != nil {
		a.log.Warn("some jobs failed to sync", logx.Err(err))
	}
	if added > 0 || removed > 0 {
		a.log.Info("jobs synced", logx.Int("added", added), logx.Int("removed", removed))
	}

	if dc, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dc)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			// never extends the caller's deadline
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The scheduler goes first so its stopped signal reaches the journal
	// before the journal goroutine is cancelled.
	step("scheduler", 2*time.Second, func(c context.Context) error {
		if err := a.sched.Shutdown(c); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			return err
		}
		return nil
	})
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
