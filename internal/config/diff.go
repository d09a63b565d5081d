package config

import (
	"reflect"
	"sort"
	"strings"

	logx "simplecron/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets like the debug token are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(o.TickInterval) != strings.TrimSpace(n.TickInterval) ||
		strings.TrimSpace(o.DriftThreshold) != strings.TrimSpace(n.DriftThreshold) ||
		strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_interval", strings.TrimSpace(n.TickInterval)),
			logx.String("scheduler.drift_threshold", strings.TrimSpace(n.DriftThreshold)),
			logx.String("scheduler.timezone", strings.TrimSpace(n.Timezone)),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if (oldCfg.Storage != nil) != (newCfg.Storage != nil) || oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.enabled", newCfg.Storage != nil),
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	od, nd := oldCfg.Debug, newCfg.Debug
	tokenFlip := (strings.TrimSpace(od.Token) != "") != (strings.TrimSpace(nd.Token) != "")
	od.Token, nd.Token = "", ""
	if od != nd || tokenFlip {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Int("jobs.count", len(newCfg.Jobs)))
	}

	sort.Strings(changed)
	return changed, attrs
}
