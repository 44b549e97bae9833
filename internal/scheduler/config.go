package scheduler

import (
	"time"

	"github.com/smallbiznis/fiscalsync/internal/config"
)

// Config controls scheduler intervals, concurrency and recovery thresholds.
type Config struct {
	RunInterval      time.Duration
	BatchSize        int
	SyncConcurrency  int
	SyncStaleAfter   time.Duration
	ExportStaleAfter time.Duration
	ExpiryWarnDays   int
	LockTTL          time.Duration
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      15 * time.Minute,
		BatchSize:        10,
		SyncConcurrency:  4,
		SyncStaleAfter:   30 * time.Minute,
		ExportStaleAfter: time.Hour,
		ExpiryWarnDays:   30,
		LockTTL:          10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:     cfg.Scheduler.Interval,
		SyncConcurrency: cfg.Sync.Concurrency,
		SyncStaleAfter:  cfg.Sync.StaleAfter,
		ExpiryWarnDays:  cfg.Certificate.ExpiryWarnDays,
		LockTTL:         cfg.Scheduler.LockTTL,
		EnabledJobs:     cfg.Scheduler.Jobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.SyncConcurrency <= 0 {
		c.SyncConcurrency = defaults.SyncConcurrency
	}
	if c.SyncStaleAfter <= 0 {
		c.SyncStaleAfter = defaults.SyncStaleAfter
	}
	if c.ExportStaleAfter <= 0 {
		c.ExportStaleAfter = defaults.ExportStaleAfter
	}
	if c.ExpiryWarnDays <= 0 {
		c.ExpiryWarnDays = defaults.ExpiryWarnDays
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
