package scheduler

import (
	"context"
	"errors"
	"time"

	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	companydomain "github.com/smallbiznis/fiscalsync/internal/company/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	obsmetrics "github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/scheduler/guard"
	"go.uber.org/zap"
)

// SweepTarget is one (company, scope) pair the sweep triggers.
type SweepTarget struct {
	Company companydomain.Company
	Scope   docdomain.Category
}

// fetchSweepTargets expands active companies that hold a usable certificate
// into one target per enabled category. Per-company exclusion is enforced by
// the sync_runs partial unique index, not here.
func (s *Scheduler) fetchSweepTargets(ctx context.Context, run *jobRun) ([]SweepTarget, error) {
	schedMetrics := obsmetrics.Scheduler()
	lockStart := time.Now()
	companies, err := s.companies.ListActive(ctx)
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceCompaniesForSync, time.Since(lockStart))
	if err != nil {
		return nil, err
	}

	enabled := s.categories.EnabledCategories()
	if len(enabled) == 0 {
		return nil, nil
	}

	now := s.clock.Now()
	var targets []SweepTarget
	for _, company := range companies {
		certs, err := s.activeCertificates(ctx, company)
		if err != nil {
			return targets, err
		}
		if err := guard.EnsureCompanyCanSync(company.Status, certs, now); err != nil {
			run.IncSkipped()
			schedMetrics.IncBatchDeferred(JobSyncSweep, err.Error())
			s.logger(s.withLogContext(ctx, company.AccountID, company.ID.String())).Debug("scheduler.sweep.company.skipped",
				zap.String("reason", err.Error()),
			)
			continue
		}
		for _, scope := range docdomain.Categories {
			if guard.EnsureCategoryEnabled(scope, enabled) != nil {
				continue
			}
			targets = append(targets, SweepTarget{Company: company, Scope: scope})
		}
	}
	return targets, nil
}

func (s *Scheduler) activeCertificates(ctx context.Context, company companydomain.Company) ([]certdomain.Certificate, error) {
	var out []certdomain.Certificate
	for _, class := range []certdomain.Class{certdomain.ClassA1, certdomain.ClassA3} {
		cert, err := s.certificates.GetActive(ctx, company.ID, class)
		if errors.Is(err, certdomain.ErrNoActiveCredential) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, nil
}
