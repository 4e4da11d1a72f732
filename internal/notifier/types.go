package notifier

import "time"

type Config struct {
	Enabled    bool
	RatePerSec int
	// NotifyIdle also reports runs with nothing created and nothing failed.
	NotifyIdle    bool
	QueueSize     int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// MaxFailuresListed caps the per-rule failure lines in one message.
	MaxFailuresListed int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.MaxFailuresListed <= 0 {
		c.MaxFailuresListed = 10
	}
	return c
}
