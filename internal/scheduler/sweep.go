package scheduler

import (
	"context"
	"errors"
	gosync "sync"

	obsmetrics "github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	syncdomain "github.com/smallbiznis/fiscalsync/internal/sync/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyncSweepJob triggers a sync for every eligible (company, scope) pair with
// at most SyncConcurrency runs in flight. A pair that already has a running
// sync is skipped, not queued.
func (s *Scheduler) SyncSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSyncSweep, s.cfg.SyncConcurrency)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	targets, err := s.fetchSweepTargets(ctx, run)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.sweep.fetch.failed", JobSyncSweep, "", "", err)
		return err
	}
	if len(targets) == 0 {
		obsmetrics.Scheduler().IncBatchDeferred(JobSyncSweep, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
		return nil
	}

	var (
		mu     gosync.Mutex
		jobErr error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.SyncConcurrency)
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := s.syncTarget(ctx, run, target); err != nil {
				mu.Lock()
				jobErr = errors.Join(jobErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return errors.Join(jobErr, err)
	}
	return jobErr
}

func (s *Scheduler) syncTarget(ctx context.Context, run *jobRun, target SweepTarget) error {
	if ctx.Err() != nil {
		return nil
	}
	accountID := target.Company.AccountID
	companyID := target.Company.ID.String()

	result, err := s.sync.Trigger(s.withLogContext(ctx, accountID, companyID), syncdomain.TriggerRequest{
		AccountID: accountID,
		CompanyID: companyID,
		Scope:     string(target.Scope),
	})
	switch {
	case err == nil:
		run.AddProcessed(1)
		obsmetrics.Scheduler().AddBatchProcessed(JobSyncSweep, "sync_runs", 1)
		return nil
	case errors.Is(err, syncdomain.ErrSyncInProgress):
		run.IncSkipped()
		obsmetrics.Scheduler().IncBatchDeferred(JobSyncSweep, "sync_in_progress")
		return nil
	case errors.Is(err, syncdomain.ErrNoActiveCertificate), errors.Is(err, syncdomain.ErrCompanyInactive):
		// eligibility changed between listing and triggering
		run.IncSkipped()
		return nil
	}

	fields := []zap.Field{zap.String("scope", string(target.Scope))}
	if result.ID != 0 {
		fields = append(fields, zap.String("sync_run_id", result.ID.String()))
	}
	s.logSchedulerError(ctx, run, "scheduler.sweep.sync.failed", JobSyncSweep, accountID, companyID, err, fields...)
	return err
}
