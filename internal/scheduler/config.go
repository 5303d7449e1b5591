package scheduler

import (
	"time"

	"github.com/smallbiznis/viotraix/internal/config"
)

// Config controls scheduler intervals and job gating.
type Config struct {
	RunInterval  time.Duration
	ReminderHour int
	JobTimeout   time.Duration
	// LockTTL bounds how long a replica owns a day's sweep. It is kept after
	// a successful run so other replicas skip that day.
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Minute,
		ReminderHour: 9,
		JobTimeout:   5 * time.Minute,
		LockTTL:      24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:  cfg.Scheduler.RunInterval,
		ReminderHour: cfg.Scheduler.ReminderHour,
		EnabledJobs:  cfg.Scheduler.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		c.ReminderHour = defaults.ReminderHour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
