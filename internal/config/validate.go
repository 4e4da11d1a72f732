package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskcadence/internal/scheduler"
)

// Default is used when no config file exists.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{Enabled: true, At: "00:05"},
		Generator: GeneratorConfig{Workers: 4},
		Storage:   StorageConfig{Driver: "file", Path: "./data/taskcadence.json"},
	}
}

// Validate rejects configs that would fail at wiring time, so a bad edit is
// refused by the watcher instead of half-applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if at := strings.TrimSpace(cfg.Scheduler.At); at != "" {
		if _, _, err := scheduler.ParseHHMM(at); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.at: %w", err))
		}
	}
	if spec := strings.TrimSpace(cfg.Scheduler.Spec); spec != "" {
		if err := scheduler.ValidateSpec(spec); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.spec: %w", err))
		}
	}
	if _, err := ParseDurationField("scheduler.timeout", cfg.Scheduler.Timeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Generator.Workers < 0 {
		errs = append(errs, errors.New("generator.workers: must be >= 0"))
	}
	if _, err := ParseDurationField("generator.failure_log_every", cfg.Generator.FailureLogEvery); err != nil {
		errs = append(errs, err)
	}

	st := cfg.Storage
	switch strings.ToLower(strings.TrimSpace(st.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(st.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", st.Driver))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(st.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	case "redis":
		if strings.TrimSpace(st.Addr) == "" {
			errs = append(errs, errors.New("storage.addr: required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			errs = append(errs, errors.New("notifier.token: required when enabled"))
		}
		if n.ChatID == 0 {
			errs = append(errs, errors.New("notifier.chat_id: required when enabled"))
		}
		if n.RatePerSec < 0 {
			errs = append(errs, errors.New("notifier.rate_per_sec: must be >= 0"))
		}
	}
	return errors.Join(errs...)
}
