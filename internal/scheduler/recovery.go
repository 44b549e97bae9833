package scheduler

import (
	"context"

	obsmetrics "github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"go.uber.org/zap"
)

// SyncRecoveryJob fails sync runs stuck in running past SyncStaleAfter, which
// releases the per-(company, scope) mutex a crashed worker left behind.
func (s *Scheduler) SyncRecoveryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSyncRecovery, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	recovered, err := s.sync.RecoverStale(ctx, s.cfg.SyncStaleAfter)
	run.AddProcessed(recovered)
	obsmetrics.Scheduler().AddBatchProcessed(JobSyncRecovery, "sync_runs", recovered)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.recovery.sync.failed", JobSyncRecovery, "", "", err)
		return err
	}
	if recovered > 0 {
		s.logger(ctx).Warn("scheduler.recovery.sync_runs",
			zap.Int("recovered", recovered),
			zap.Duration("stale_after", s.cfg.SyncStaleAfter),
		)
	}
	return nil
}

func (s *Scheduler) ExportRecoveryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExportRecovery, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	recovered, err := s.exports.RecoverStale(ctx, s.cfg.ExportStaleAfter)
	run.AddProcessed(recovered)
	obsmetrics.Scheduler().AddBatchProcessed(JobExportRecovery, "export_jobs", recovered)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.recovery.export.failed", JobExportRecovery, "", "", err)
		return err
	}
	return nil
}

// ExportProcessJob builds pending export archives, BatchSize per tick.
func (s *Scheduler) ExportProcessJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExportProcess, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	processed, err := s.exports.ProcessPending(ctx, s.cfg.BatchSize)
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobExportProcess, "export_jobs", processed)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.export.process.failed", JobExportProcess, "", "", err)
		return err
	}
	return nil
}
