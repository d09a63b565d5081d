package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is returned for configs that decode but cannot be used,
// including files whose top level is not an object.
var ErrInvalidConfig = errors.New("config: invalid")

// Validate checks everything that can be checked without the scheduler.
// Schedule expressions are validated by the caller, which owns the parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	var errs []error

	if f := cfg.Logging.File; f.MaxSizeMB < 0 || f.MaxBackups < 0 || f.MaxAgeDays < 0 {
		errs = append(errs, errors.New("logging.file: rotation limits must be >= 0"))
	}

	_, drift, err := cfg.Scheduler.Durations()
	if err != nil {
		errs = append(errs, err)
	}
	if drift%time.Hour != 0 {
		errs = append(errs, fmt.Errorf("scheduler.drift_threshold: must be whole hours, got %s", drift))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"debug.read_timeout", cfg.Debug.ReadTimeout},
		{"debug.write_timeout", cfg.Debug.WriteTimeout},
		{"debug.idle_timeout", cfg.Debug.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("jobs[%d].name: required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("jobs[%d].name: duplicate %q", i, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(j.Schedule) == "" {
			errs = append(errs, fmt.Errorf("jobs[%d].schedule: required", i))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
