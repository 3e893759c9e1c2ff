package config

import (
	"sort"
	"strings"

	logx "agenda4go/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets, though this config
// shape currently has none — kept for parity with the pattern).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 3)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.DSN) != strings.TrimSpace(newCfg.Storage.DSN) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	oA, nA := oldCfg.Agenda, newCfg.Agenda
	if oA.Enabled != nA.Enabled ||
		oA.WorkerID != nA.WorkerID ||
		oA.ProcessEvery != nA.ProcessEvery ||
		oA.DefaultLockLifetime != nA.DefaultLockLifetime ||
		oA.MaxConcurrency != nA.MaxConcurrency ||
		oA.DefaultConcurrency != nA.DefaultConcurrency ||
		intPtrDiffers(oA.LockLimit, nA.LockLimit) ||
		oA.BatchSize != nA.BatchSize ||
		oA.MaxRetryCount != nA.MaxRetryCount ||
		boolPtrDiffers(oA.CleanupFinishedJobs, nA.CleanupFinishedJobs) ||
		oA.EnsureIndexesOnStartup != nA.EnsureIndexesOnStartup ||
		oA.Timezone != nA.Timezone ||
		oA.Systemd != nA.Systemd {
		changed = append(changed, "agenda")
		attrs = append(attrs,
			logx.Bool("agenda.enabled", nA.Enabled),
			logx.String("agenda.process_every", nA.ProcessEvery),
			logx.String("agenda.default_lock_lifetime", nA.DefaultLockLifetime),
			logx.Int("agenda.max_concurrency", nA.MaxConcurrency),
			logx.Int("agenda.default_concurrency", nA.DefaultConcurrency),
			logx.Int("agenda.lock_limit", intPtrOr(nA.LockLimit, -1)),
			logx.Int("agenda.batch_size", nA.BatchSize),
			logx.Int("agenda.max_retry_count", nA.MaxRetryCount),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func boolPtrDiffers(a, b *bool) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return *a != *b
}

func intPtrDiffers(a, b *int) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return *a != *b
}

// intPtrOr returns *p, or def when p is nil — used to log an "unset"
// sentinel without dereferencing a nil pointer.
func intPtrOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
