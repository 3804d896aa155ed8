package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltgrid/voltgrid/internal/clock"
	obsmetrics "github.com/voltgrid/voltgrid/internal/observability/metrics"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Sessions sessiondomain.Service
	Clock    clock.Clock
	Config   Config `optional:"true"`
}

// Scheduler periodically retries back-office handshakes, closes abandoned
// sessions, re-posts periodic readings, and purges posted history.
type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	sessions sessiondomain.Service

	nextDue map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Sessions == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      cfg,
		clock:    p.Clock,
		sessions: p.Sessions,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// Deadline overruns are soft timeouts: the next run picks up the rest.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	log.Warn("job failed", zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every job whose interval has elapsed since its last run.
func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now()
	var err error

	jobs := []struct {
		Name     string
		Interval time.Duration
		Run      func(context.Context) error
	}{
		{"post_offline", s.cfg.PostOfflineInterval, func(ctx context.Context) error {
			return s.sessions.PostOfflineSessions(ctx, s.cfg.BatchSize)
		}},
		{"auto_close", s.cfg.AutoCloseInterval, func(ctx context.Context) error {
			return s.sessions.CloseStaleSessions(ctx, s.cfg.BatchSize)
		}},
		{"meter_push", s.cfg.MeterPushInterval, func(ctx context.Context) error {
			return s.sessions.PushPeriodicReadings(ctx, s.cfg.BatchSize)
		}},
		{"purge", s.cfg.PurgeInterval, func(ctx context.Context) error {
			purged, purgeErr := s.sessions.PurgePostedSessions(ctx)
			if purgeErr != nil {
				return purgeErr
			}
			obsmetrics.Scheduler().AddBatchProcessed("purge", "sessions", int(purged))
			return nil
		}},
	}

	for _, job := range jobs {
		if !s.jobDue(job.Name, job.Interval, now) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}

	return err
}

// jobDue reports whether the job should run at now and, if so, advances its
// next due time. An interval at or below zero unschedules the job.
func (s *Scheduler) jobDue(name string, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	if s.nextDue == nil {
		s.nextDue = make(map[string]time.Time)
	}
	due, seen := s.nextDue[name]
	if seen && now.Before(due) {
		return false
	}
	s.nextDue[name] = now.Add(interval)
	return true
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
