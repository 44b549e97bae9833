package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/fiscalsync/internal/audit/domain"
	"github.com/smallbiznis/fiscalsync/internal/audit/repository"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	obsctx "github.com/smallbiznis/fiscalsync/internal/observability/context"
	"github.com/smallbiznis/fiscalsync/internal/testutil"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"github.com/smallbiznis/fiscalsync/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewService(Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clk,
		Repo:  repository.Provide(),
	}), clk
}

func TestRecordMasksSecretsAndUsesContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := obsctx.WithRequestID(context.Background(), "req-1")
	ctx = obsctx.WithActor(ctx, "user", "ops@example.com")
	ctx = correlation.ContextWithCorrelationID(ctx, "01HZX")

	err := svc.Record(ctx, auditdomain.Entry{
		AccountID:  "acct",
		Action:     auditdomain.ActionCertificateUploaded,
		TargetType: auditdomain.TargetCertificate,
		TargetID:   "123",
		Metadata: map[string]any{
			"passphrase":  "s3cr3t-value",
			"fingerprint": "abcd",
		},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{AccountID: "acct"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "ops@example.com", *entry.ActorID)
	assert.Equal(t, "abcd", entry.Metadata["fingerprint"])
	assert.Equal(t, "****alue", entry.Metadata["passphrase"])
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "01HZX", entry.Metadata["correlation_id"])
	require.NotNil(t, entry.TargetID)
	assert.Equal(t, "123", *entry.TargetID)
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, auditdomain.Entry{AccountID: "acct", Action: auditdomain.ActionCertificateExpired}))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{AccountID: "acct"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), resp.AuditLogs[0].ActorType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
}

func TestRecordRequiresAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Record(context.Background(), auditdomain.Entry{AccountID: "acct", Action: " "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesAndFilters(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		clk.Advance(time.Minute)
		require.NoError(t, svc.Record(ctx, auditdomain.Entry{AccountID: "acct", Action: auditdomain.ActionSyncRunFinished, TargetType: auditdomain.TargetSyncRun}))
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Entry{AccountID: "other", Action: auditdomain.ActionSyncRunFinished, TargetType: auditdomain.TargetSyncRun}))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		AccountID:  "acct",
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[1].CreatedAt))

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		AccountID:  "acct",
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAccount)

	start := clk.Now()
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{AccountID: "acct", StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
