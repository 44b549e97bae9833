package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	companydomain "github.com/smallbiznis/fiscalsync/internal/company/domain"
	"github.com/smallbiznis/fiscalsync/internal/connector"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	exportdomain "github.com/smallbiznis/fiscalsync/internal/export/domain"
	obsmetrics "github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/scheduler/lock"
	syncdomain "github.com/smallbiznis/fiscalsync/internal/sync/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobSyncRecovery     = "sync_recovery"
	JobCertificateCheck = "certificate_expiry"
	JobSyncSweep        = "sync_sweep"
	JobExportRecovery   = "export_recovery"
	JobExportProcess    = "export_process"

	tickLockKey = "fiscalsync:scheduler:tick"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependencies")

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
	Companies    companydomain.Service
	Certificates certdomain.Service
	Sync         syncdomain.Service
	Exports      exportdomain.Service
	Connectors   *connector.Registry
	Locker       lock.Locker `optional:"true"`
}

// categorySource is the part of the connector registry the sweep needs.
type categorySource interface {
	EnabledCategories() []docdomain.Category
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	companies    companydomain.Service
	certificates certdomain.Service
	sync         syncdomain.Service
	exports      exportdomain.Service
	categories   categorySource
	locker       lock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Companies == nil || p.Certificates == nil || p.Sync == nil || p.Exports == nil || p.Connectors == nil {
		return nil, ErrInvalidConfig
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocalLocker(p.Clock)
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		companies:    p.Companies,
		certificates: p.Certificates,
		sync:         p.Sync,
		exports:      p.Exports,
		categories:   p.Connectors,
		locker:       locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if _, _, errs := run.counts(); err != nil && errs == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout; the next tick picks the work up again
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

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one tick. Only the holder of the leader lock runs jobs;
// other instances return immediately.
func (s *Scheduler) RunOnce(parent context.Context) error {
	schedMetrics := obsmetrics.Scheduler()
	lockStart := time.Now()
	lease, err := s.locker.Obtain(parent, tickLockKey, s.cfg.LockTTL)
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceSchedulerTick, time.Since(lockStart))
	if errors.Is(err, lock.ErrNotObtained) {
		schedMetrics.IncBatchDeferred("tick", obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.log.Debug("scheduler tick skipped, another instance holds the lock")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduler lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(parent)); err != nil {
			s.log.Warn("release scheduler lock", zap.Error(err))
		}
	}()

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobSyncRecovery, func(ctx context.Context) error {
			return s.runJob(ctx, JobSyncRecovery, s.cfg.BatchSize, 30*time.Second, s.SyncRecoveryJob)
		}},
		{JobCertificateCheck, func(ctx context.Context) error {
			return s.runJob(ctx, JobCertificateCheck, s.cfg.BatchSize, 30*time.Second, s.CertificateExpiryJob)
		}},
		{JobSyncSweep, func(ctx context.Context) error {
			return s.runJob(ctx, JobSyncSweep, s.cfg.SyncConcurrency, s.cfg.LockTTL, s.SyncSweepJob)
		}},
		{JobExportRecovery, func(ctx context.Context) error {
			return s.runJob(ctx, JobExportRecovery, s.cfg.BatchSize, 30*time.Second, s.ExportRecoveryJob)
		}},
		{JobExportProcess, func(ctx context.Context) error {
			return s.runJob(ctx, JobExportProcess, s.cfg.BatchSize, s.cfg.LockTTL, s.ExportProcessJob)
		}},
	}

	var runErr error
	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			runErr = errors.Join(runErr, job.Run(parent))
		}
	}
	return runErr
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

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
