package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "db",
			err:  gorm.ErrInvalidTransaction,
			want: SchedulerJobReasonDB,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestResetSchedulerMetricsAllowsReRegistration(t *testing.T) {
	t.Cleanup(ResetSchedulerMetricsForTest)

	ResetSchedulerMetricsForTest()
	first := SchedulerWithConfig(Config{ServiceName: "voltgrid", Environment: "test"})
	first.IncJobRun("post_offline")

	ResetSchedulerMetricsForTest()
	second := SchedulerWithConfig(Config{ServiceName: "voltgrid", Environment: "test"})
	if second == first {
		t.Fatal("expected a fresh metrics instance after reset")
	}
	second.IncJobRun("post_offline")

	got := testutil.ToFloat64(second.jobRuns.WithLabelValues("post_offline"))
	if got != 1 {
		t.Fatalf("expected run count 1 after reset, got %v", got)
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "voltgrid",
		Environment: "test",
	})

	metrics.AddBatchProcessed("post_offline", "sessions", 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("post_offline", "sessions"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}
