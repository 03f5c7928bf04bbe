package config

import (
	"strings"

	logx "notiq/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Used by the hot-reload loop to log what a
// reload actually touched without dumping the whole config.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	oldPO := oldCfg.PostOffice
	newPO := newCfg.PostOffice
	if (oldPO == nil) != (newPO == nil) ||
		(oldPO != nil && newPO != nil && *oldPO != *newPO) {
		changed = append(changed, "post_office")
		if newPO != nil {
			attrs = append(attrs,
				logx.Int("post_office.max_pending", newPO.MaxPending),
				logx.Int("post_office.warn_rate_per_sec", newPO.WarnRatePerSec),
			)
		}
	}

	oldDiag := oldCfg.Diag
	newDiag := newCfg.Diag
	if (oldDiag == nil) != (newDiag == nil) ||
		(oldDiag != nil && newDiag != nil && *oldDiag != *newDiag) {
		changed = append(changed, "diag")
		if newDiag != nil {
			attrs = append(attrs, logx.Bool("diag.enabled", newDiag.Enabled))
		}
	}

	return changed, attrs
}
