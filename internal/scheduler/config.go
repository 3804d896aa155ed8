package scheduler

import (
	"time"

	"github.com/voltgrid/voltgrid/internal/config"
)

// Config controls scheduler intervals and batch sizes. Job intervals at or
// below zero unschedule the job entirely.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration

	PostOfflineInterval time.Duration
	AutoCloseInterval   time.Duration
	MeterPushInterval   time.Duration
	PurgeInterval       time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         30 * time.Second,
		BatchSize:           100,
		JobTimeout:          30 * time.Second,
		PostOfflineInterval: time.Minute,
		AutoCloseInterval:   5 * time.Minute,
		MeterPushInterval:   time.Minute,
		PurgeInterval:       time.Hour,
	}
}

// ProvideConfig derives the scheduler config from application config.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:         cfg.SchedulerRunInterval,
		BatchSize:           cfg.SchedulerBatchSize,
		JobTimeout:          cfg.SchedulerJobTimeout,
		PostOfflineInterval: cfg.PostOfflineInterval,
		AutoCloseInterval:   cfg.AutoCloseInterval,
		MeterPushInterval:   cfg.MeterPushInterval,
		PurgeInterval:       cfg.PurgeInterval,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
