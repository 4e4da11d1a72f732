package app

import (
	"strings"
	"time"

	"taskcadence/internal/clock"
	"taskcadence/internal/config"
	"taskcadence/internal/notifier"
	"taskcadence/internal/runner"
	"taskcadence/internal/scheduler"
	"taskcadence/internal/storage"
	logx "taskcadence/pkg/logx"
)

const jobGenerate = "generate"

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         sc.DSN,
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
		KeyPrefix:   sc.KeyPrefix,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.timeout", cfg.Scheduler.Timeout, 10*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
		Timeout:  timeout,
	}, nil
}

func mapRunnerConfig(cfg *config.Config) (runner.Config, error) {
	loc, err := clock.LoadLocation(strings.TrimSpace(cfg.Scheduler.Timezone))
	if err != nil {
		return runner.Config{}, err
	}
	every, err := config.ParseDurationOrDefault("generator.failure_log_every", cfg.Generator.FailureLogEvery, time.Hour)
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{Workers: cfg.Generator.Workers, FailureLogEvery: every, Location: loc}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	if cfg.Notifier == nil {
		return notifier.Config{}
	}
	return notifier.Config{
		Enabled:    cfg.Notifier.Enabled,
		RatePerSec: cfg.Notifier.RatePerSec,
		NotifyIdle: cfg.Notifier.NotifyIdle,
		RetryMax:   2,
	}
}

// triggerSpec returns how the generate job is scheduled: a cron spec when
// scheduler.spec is set, else the daily "HH:MM" from scheduler.at.
func triggerSpec(cfg *config.Config) (spec string, daily bool) {
	if s := strings.TrimSpace(cfg.Scheduler.Spec); s != "" {
		return s, false
	}
	at := strings.TrimSpace(cfg.Scheduler.At)
	if at == "" {
		at = "00:05"
	}
	return at, true
}
