package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "credential", err: fmt.Errorf("sync: %w", fiscalerr.Auth("certificate_rejected", "")), want: SchedulerJobReasonCredential},
		{name: "upstream", err: fiscalerr.Transport("upstream_unavailable", ""), want: SchedulerJobReasonUpstream},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(fiscalerr.Transport("upstream_unavailable", "")) {
		t.Fatalf("expected transport errors to be retryable")
	}
	if IsSchedulerErrorRetryable(fiscalerr.Auth("certificate_rejected", "")) {
		t.Fatalf("expected credential errors to wait for operator action")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{ServiceName: "fiscalsync", Environment: "test"})

	metrics.AddBatchProcessed("sync_sweep", "companies", 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("sync_sweep", "companies"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestSyncMetricsObserveRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSyncMetrics(registry, Config{Environment: "test"})

	metrics.ObserveRun("NFE", "completed", 2*time.Second, 5)
	metrics.ObserveRun("NFE", "failed", time.Second, 0)

	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("NFE", "completed")); got != 1 {
		t.Fatalf("expected 1 completed run, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.documentsSaved.WithLabelValues("NFE")); got != 5 {
		t.Fatalf("expected 5 saved documents, got %v", got)
	}
}

func TestSyncMetricsAddSkipped(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSyncMetrics(registry, Config{Environment: "test"})

	metrics.AddSkipped("NFE", SkipUndecodable, 2)
	metrics.AddSkipped("NFE", SkipOrphanEvent, 1)
	metrics.AddSkipped("NFE", SkipOrphanEvent, 0)

	if got := testutil.ToFloat64(metrics.itemsSkipped.WithLabelValues("NFE", SkipUndecodable)); got != 2 {
		t.Fatalf("expected 2 undecodable items, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.itemsSkipped.WithLabelValues("NFE", SkipOrphanEvent)); got != 1 {
		t.Fatalf("expected 1 orphan event, got %v", got)
	}
}
