package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/voltgrid/voltgrid/internal/clock"
	obsmetrics "github.com/voltgrid/voltgrid/internal/observability/metrics"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSessions struct {
	sessiondomain.Service

	postOffline int
	autoClose   int
	meterPush   int
	purge       int

	postOfflineErr error
	meterPushErr   error
}

func (f *fakeSessions) PostOfflineSessions(ctx context.Context, batchSize int) error {
	f.postOffline++
	return f.postOfflineErr
}

func (f *fakeSessions) CloseStaleSessions(ctx context.Context, batchSize int) error {
	f.autoClose++
	return nil
}

func (f *fakeSessions) PushPeriodicReadings(ctx context.Context, batchSize int) error {
	f.meterPush++
	return f.meterPushErr
}

func (f *fakeSessions) PurgePostedSessions(ctx context.Context) (int64, error) {
	f.purge++
	return 0, nil
}

func newTestScheduler(t *testing.T, sessions sessiondomain.Service, cfg Config, clk clock.Clock) *Scheduler {
	t.Helper()
	obsmetrics.ResetSchedulerMetricsForTest()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sched, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Sessions: sessions,
		Clock:    clk,
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched
}

func TestRunOnceRunsDueJobs(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := &fakeSessions{}
	sched := newTestScheduler(t, sessions, Config{
		PostOfflineInterval: time.Minute,
		AutoCloseInterval:   5 * time.Minute,
		MeterPushInterval:   time.Minute,
		PurgeInterval:       time.Hour,
	}, clk)

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sessions.postOffline != 1 || sessions.autoClose != 1 || sessions.meterPush != 1 || sessions.purge != 1 {
		t.Fatalf("expected every job to run on first tick, got %+v", sessions)
	}

	clk.Advance(30 * time.Second)
	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sessions.postOffline != 1 || sessions.autoClose != 1 {
		t.Fatalf("expected no job due after 30s, got %+v", sessions)
	}

	clk.Advance(31 * time.Second)
	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sessions.postOffline != 2 || sessions.meterPush != 2 {
		t.Fatalf("expected minute jobs to run again, got %+v", sessions)
	}
	if sessions.autoClose != 1 || sessions.purge != 1 {
		t.Fatalf("expected slower jobs to stay idle, got %+v", sessions)
	}
}

func TestNonPositiveIntervalUnschedulesJob(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := &fakeSessions{}
	sched := newTestScheduler(t, sessions, Config{
		PostOfflineInterval: time.Minute,
		AutoCloseInterval:   -1,
		MeterPushInterval:   0,
		PurgeInterval:       time.Hour,
	}, clk)

	for i := 0; i < 3; i++ {
		if err := sched.RunOnce(context.Background()); err != nil {
			t.Fatalf("run once: %v", err)
		}
		clk.Advance(2 * time.Minute)
	}

	if sessions.autoClose != 0 || sessions.meterPush != 0 {
		t.Fatalf("expected unscheduled jobs to never run, got %+v", sessions)
	}
	if sessions.postOffline == 0 || sessions.purge == 0 {
		t.Fatalf("expected remaining jobs to run, got %+v", sessions)
	}
}

func TestJobErrorDoesNotStopOtherJobs(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := &fakeSessions{postOfflineErr: errors.New("back office unreachable")}
	sched := newTestScheduler(t, sessions, DefaultConfig(), clk)

	err := sched.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected joined error from failing job")
	}
	if sessions.autoClose != 1 || sessions.meterPush != 1 || sessions.purge != 1 {
		t.Fatalf("expected other jobs to run despite failure, got %+v", sessions)
	}
}

func TestJobDeadlineIsSoftTimeout(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := &fakeSessions{meterPushErr: context.DeadlineExceeded}
	sched := newTestScheduler(t, sessions, DefaultConfig(), clk)

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected deadline overrun to be soft, got %v", err)
	}
}
