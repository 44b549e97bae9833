package scheduler

import (
	"context"

	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	obsmetrics "github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"go.uber.org/zap"
)

// CertificateExpiryJob expires certificates past valid_to, then warns about
// the ones expiring within ExpiryWarnDays and publishes the count per class.
func (s *Scheduler) CertificateExpiryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobCertificateCheck, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	expired, err := s.certificates.ExpireDue(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.certificate.expire.failed", JobCertificateCheck, "", "", err)
		return err
	}
	run.AddProcessed(expired)
	obsmetrics.Scheduler().AddBatchProcessed(JobCertificateCheck, "certificates", expired)

	expiring, err := s.certificates.ListExpiringSoon(ctx, s.cfg.ExpiryWarnDays)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.certificate.expiring.failed", JobCertificateCheck, "", "", err)
		return err
	}

	now := s.clock.Now()
	perClass := map[certdomain.Class]int{certdomain.ClassA1: 0, certdomain.ClassA3: 0}
	for _, cert := range expiring {
		perClass[cert.Class]++
		s.logger(s.withLogContext(ctx, "", cert.CompanyID.String())).Warn("certificate.expiring_soon",
			zap.String("certificate_id", cert.ID.String()),
			zap.String("class", string(cert.Class)),
			zap.String("subject", cert.Subject),
			zap.Time("valid_to", cert.ValidTo),
			zap.Int("days_left", cert.DaysUntilExpiry(now)),
		)
	}
	syncMetrics := obsmetrics.Sync()
	for class, count := range perClass {
		syncMetrics.SetCertificatesExpiring(string(class), count)
	}
	return nil
}
