package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations parses the scheduler durations. Empty fields come back as zero,
// which the scheduler maps to its defaults.
func (c SchedulerConfig) Durations() (tick, drift time.Duration, err error) {
	if tick, err = ParseDurationField("scheduler.tick_interval", c.TickInterval); err != nil {
		return 0, 0, err
	}
	if drift, err = ParseDurationField("scheduler.drift_threshold", c.DriftThreshold); err != nil {
		return 0, 0, err
	}
	return tick, drift, nil
}
