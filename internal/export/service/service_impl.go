package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fiscalsync/internal/audit/domain"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	docservice "github.com/smallbiznis/fiscalsync/internal/document/service"
	"github.com/smallbiznis/fiscalsync/internal/export/domain"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/storage"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"github.com/smallbiznis/fiscalsync/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	scanBatchSize = 200
	// progressEvery bounds how often the processed counter is written.
	progressEvery = 25
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Documents docdomain.Repository
	Store     storage.ContentStore
	Audit     auditdomain.Service `optional:"true"`
	Metrics   *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	documents  docdomain.Repository
	store      storage.ContentStore
	audit      auditdomain.Service
	metrics    *metrics.Metrics
	jobMetrics *metrics.SyncMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("export.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		documents:  p.Documents,
		store:      p.Store,
		audit:      p.Audit,
		metrics:    p.Metrics,
		jobMetrics: metrics.Sync(),
	}
}

// Create rejects an empty selection before any job row or archive exists.
func (s *Service) Create(ctx context.Context, req domain.CreateExportRequest) (domain.ExportJob, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return domain.ExportJob{}, domain.ErrInvalidAccount
	}
	filter, err := docservice.ParseFilter(accountID, req.CompanyID, req.Category, "", req.From, req.To)
	if err != nil {
		return domain.ExportJob{}, err
	}

	total, err := s.documents.Count(ctx, s.db, filter)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if total == 0 {
		return domain.ExportJob{}, domain.ErrEmptySelection
	}

	_, correlationID := correlation.EnsureCorrelationID(ctx)
	now := s.clock.Now().UTC()
	job := domain.ExportJob{
		ID:              s.genID.Generate(),
		AccountID:       accountID,
		DateFrom:        filter.From,
		DateTo:          filter.To,
		IncludeManifest: req.IncludeManifest,
		Status:          domain.StatusPending,
		TotalDocuments:  int(total),
		CorrelationID:   correlationID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if filter.CompanyID != 0 {
		companyID := filter.CompanyID
		job.CompanyID = &companyID
	}
	if filter.Category != "" {
		category := filter.Category
		job.Category = &category
	}
	if err := s.repo.Insert(ctx, s.db, &job); err != nil {
		return domain.ExportJob{}, err
	}

	s.jobMetrics.IncExportJob(string(domain.StatusPending))
	s.recordAudit(ctx, job, map[string]any{
		"total_documents":  job.TotalDocuments,
		"include_manifest": job.IncludeManifest,
		"correlation_id":   job.CorrelationID,
	})
	s.log.Info("export job created",
		zap.String("export_job_id", job.ID.String()),
		zap.String("account_id", accountID),
		zap.Int("total_documents", job.TotalDocuments),
	)
	return job, nil
}

func (s *Service) Get(ctx context.Context, accountID, id string) (domain.ExportJob, error) {
	job, err := s.owned(ctx, accountID, id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	return *job, nil
}

func (s *Service) List(ctx context.Context, req domain.ListExportRequest) (domain.ListExportResponse, error) {
	filter := domain.ListFilter{AccountID: strings.TrimSpace(req.AccountID)}
	if filter.AccountID == "" {
		return domain.ListExportResponse{}, domain.ErrInvalidAccount
	}
	if raw := strings.TrimSpace(req.CompanyID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			return domain.ListExportResponse{}, domain.ErrInvalidCompany
		}
		filter.CompanyID = id
	}
	if raw := strings.ToLower(strings.TrimSpace(req.Status)); raw != "" {
		switch status := domain.Status(raw); status {
		case domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed:
			filter.Status = status
		default:
			return domain.ListExportResponse{}, domain.ErrInvalidStatus
		}
	}

	page := pagination.Pagination{PageToken: strings.TrimSpace(req.PageToken), PageSize: req.PageSize}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil || cursor.ID == "" {
			return domain.ListExportResponse{}, domain.ErrInvalidToken
		}
	}

	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListExportResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), func(j *domain.ExportJob) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        j.ID.String(),
			CreatedAt: j.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	jobs := make([]domain.JobView, 0, len(items))
	for _, item := range items {
		if item != nil {
			jobs = append(jobs, item.View())
		}
	}
	return domain.ListExportResponse{PageInfo: *pageInfo, Exports: jobs}, nil
}

func (s *Service) Process(ctx context.Context, id string) (domain.ExportJob, error) {
	jobID, err := parseID(id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	job, err := s.repo.Get(ctx, s.db, jobID)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if job == nil {
		return domain.ExportJob{}, domain.ErrNotFound
	}
	return s.process(ctx, *job)
}

func (s *Service) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.ListPending(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, job := range pending {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if job == nil {
			continue
		}
		if _, err := s.process(ctx, *job); err != nil {
			if errors.Is(err, domain.ErrNotPending) {
				continue
			}
			s.log.Warn("export job failed", zap.String("export_job_id", job.ID.String()), zap.Error(err))
		}
		processed++
	}
	return processed, nil
}

func (s *Service) process(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	now := s.clock.Now().UTC()
	ok, err := s.repo.Claim(ctx, s.db, job.ID, now)
	if err != nil {
		return job, err
	}
	if !ok {
		return job, domain.ErrNotPending
	}
	job.Status = domain.StatusProcessing
	job.StartedAt = &now

	ctx = correlation.ContextWithCorrelationID(ctx, job.CorrelationID)
	log := s.log.With(correlation.Fields(ctx)...).With(zap.String("export_job_id", job.ID.String()))

	if err := s.build(ctx, &job); err != nil {
		finalCtx := context.WithoutCancel(ctx)
		failedAt := s.clock.Now().UTC()
		message := fiscalerr.As(err).Message
		if detail := errors.Unwrap(fiscalerr.As(err)); detail != nil {
			message = fmt.Sprintf("%s: %v", message, detail)
		}
		if job.StorageZipPath != "" {
			if derr := s.store.Delete(finalCtx, job.StorageZipPath); derr != nil {
				log.Warn("delete partial archive", zap.Error(derr))
			}
		}
		if _, ferr := s.repo.Fail(finalCtx, s.db, job.ID, message, failedAt); ferr != nil {
			log.Error("mark export job failed", zap.Error(ferr))
		}
		job.Status = domain.StatusFailed
		job.ErrorMessage = message
		job.StorageZipPath = ""
		job.CompletedAt = &failedAt
		s.jobMetrics.IncExportJob(string(domain.StatusFailed))
		log.Warn("export job failed", zap.Int("processed", job.ProcessedDocuments), zap.Error(err))
		return job, err
	}

	s.jobMetrics.IncExportJob(string(domain.StatusCompleted))
	s.metrics.RecordExportBytes(ctx, job.FileSize)
	log.Info("export job completed",
		zap.Int("processed", job.ProcessedDocuments),
		zap.Int64("file_size", job.FileSize),
	)
	return job, nil
}

// build streams matching documents into a temporary zip, uploads it and
// marks the job completed. The object key is only recorded once the upload
// finished.
func (s *Service) build(ctx context.Context, job *domain.ExportJob) error {
	tmp, err := os.CreateTemp("", "export-*.zip")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	arc := newArchive(tmp, job.IncludeManifest)
	err = s.documents.Each(ctx, s.db, job.Filter(), scanBatchSize, func(doc *docdomain.FiscalDocument) error {
		if doc.StorageXMLPath != "" {
			rc, err := s.store.Get(ctx, doc.StorageXMLPath)
			switch {
			case errors.Is(err, storage.ErrObjectNotFound):
				s.log.Debug("document content missing", zap.String("document_id", doc.ID.String()))
			case err != nil:
				return err
			default:
				addErr := arc.add(doc, rc)
				_ = rc.Close()
				if addErr != nil {
					return addErr
				}
			}
		}
		job.ProcessedDocuments++
		if job.ProcessedDocuments%progressEvery == 0 {
			return s.repo.AdvanceProcessed(ctx, s.db, job.ID, job.ProcessedDocuments, s.clock.Now().UTC())
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.repo.AdvanceProcessed(ctx, s.db, job.ID, job.ProcessedDocuments, s.clock.Now().UTC()); err != nil {
		return err
	}

	completedAt := s.clock.Now().UTC()
	if err := arc.close(completedAt); err != nil {
		return err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	key := storage.ExportKey(job.AccountID, job.ID.String())
	if err := s.store.Put(ctx, key, tmp, size); err != nil {
		return err
	}
	job.StorageZipPath = key
	job.FileSize = size
	job.CompletedAt = &completedAt
	job.UpdatedAt = completedAt

	ok, err := s.repo.Complete(ctx, s.db, job)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotPending
	}
	job.Status = domain.StatusCompleted
	return nil
}

// RecoverStale fails processing jobs whose worker stopped reporting.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	now := s.clock.Now().UTC()
	stale, err := s.repo.ListStale(ctx, s.db, now.Add(-olderThan))
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range stale {
		if job == nil {
			continue
		}
		ok, err := s.repo.Fail(ctx, s.db, job.ID, "export job abandoned by its worker", now)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
			s.jobMetrics.IncExportJob(string(domain.StatusFailed))
			s.log.Warn("stale export job failed", zap.String("export_job_id", job.ID.String()))
		}
	}
	return recovered, nil
}

func (s *Service) Download(ctx context.Context, accountID, id string) (io.ReadCloser, domain.ExportJob, error) {
	job, err := s.owned(ctx, accountID, id)
	if err != nil {
		return nil, domain.ExportJob{}, err
	}
	if !job.Downloadable() {
		return nil, *job, domain.ErrNotReady
	}
	rc, err := s.store.Get(ctx, job.StorageZipPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, *job, domain.ErrArchiveMissing
		}
		return nil, *job, err
	}
	return rc, *job, nil
}

func (s *Service) owned(ctx context.Context, accountID, id string) (*domain.ExportJob, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, domain.ErrInvalidAccount
	}
	jobID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	job, err := s.repo.FindByID(ctx, s.db, accountID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *Service) recordAudit(ctx context.Context, job domain.ExportJob, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if job.CompanyID != nil {
		metadata["company_id"] = job.CompanyID.String()
	}
	if job.Category != nil {
		metadata["category"] = string(*job.Category)
	}
	if err := s.audit.Record(ctx, auditdomain.Entry{
		AccountID:  job.AccountID,
		Action:     auditdomain.ActionExportCreated,
		TargetType: auditdomain.TargetExportJob,
		TargetID:   job.ID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("audit write failed", zap.String("action", auditdomain.ActionExportCreated), zap.Error(err))
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
