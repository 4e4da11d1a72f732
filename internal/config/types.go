package config

// Config is the on-disk configuration (JSON or YAML).
//
// Example (YAML):
//
//	logging:   { level: info, console: true }
//	scheduler: { enabled: true, timezone: Asia/Jakarta, at: "00:05" }
//	generator: { workers: 4 }
//	storage:   { driver: sqlite, path: ./data/taskcadence.db }
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Generator GeneratorConfig `json:"generator"`
	Storage   StorageConfig   `json:"storage"`

	// Notifier is optional; when omitted no operator messages are sent.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// SchedulerConfig controls the daily generation trigger.
//
// Either At ("HH:MM", default "00:05") or Spec (a 5-field cron expression)
// picks the trigger time; Spec wins when both are set. Timezone is the
// practice timezone and also defines what "today" means for a run.
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled"`
	Timezone   string `json:"timezone,omitempty"`
	At         string `json:"at,omitempty"`
	Spec       string `json:"spec,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
	// Timeout bounds one run. Go duration string; "0s" disables it.
	Timeout string `json:"timeout,omitempty"`
}

type GeneratorConfig struct {
	Workers int `json:"workers,omitempty"` // default 4
	// FailureLogEvery throttles repeated per-rule failure logs.
	// Go duration string; default "1h".
	FailureLogEvery string `json:"failure_log_every,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Driver values: memory, file, sqlite, postgres, redis.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // file, sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres (do not log)
	Addr        string `json:"addr,omitempty"`         // redis
	Password    string `json:"password,omitempty"`     // redis (do not log)
	DB          int    `json:"db,omitempty"`           // redis
	KeyPrefix   string `json:"key_prefix,omitempty"`   // redis
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig sends a run summary to a Telegram chat.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"` // do not log
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 1
	// NotifyIdle also reports runs that created nothing and had no failures.
	NotifyIdle bool `json:"notify_idle,omitempty"`
}
