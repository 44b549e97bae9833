package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/internal/export/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/option"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.ExportJob) error {
	if job == nil {
		return errors.New("export job is required")
	}
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (*domain.ExportJob, error) {
	return r.take(db.WithContext(ctx).Where("account_id = ? AND id = ?", accountID, id))
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ExportJob, error) {
	return r.take(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.ExportJob, error) {
	stmt := db.WithContext(ctx).Model(&domain.ExportJob{}).Where("account_id = ?", filter.AccountID)
	if filter.CompanyID != 0 {
		stmt = stmt.Where("company_id = ?", filter.CompanyID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.OrderBy("id", true).Apply(stmt)
	stmt = option.ApplyPagination(page).Apply(stmt)

	var items []*domain.ExportJob
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) take(stmt *gorm.DB) (*domain.ExportJob, error) {
	var job domain.ExportJob
	err := stmt.Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, limit int) ([]*domain.ExportJob, error) {
	if limit <= 0 {
		limit = 10
	}
	var items []*domain.ExportJob
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, startedBefore time.Time) ([]*domain.ExportJob, error) {
	var items []*domain.ExportJob
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM export_jobs WHERE status = ? AND started_at < ? ORDER BY started_at ASC`,
		domain.StatusProcessing, startedBefore,
	).Scan(&items).Error
	return items, err
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE export_jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusProcessing, now, now, id, domain.StatusPending,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) AdvanceProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processed int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE export_jobs SET processed_documents = ?, updated_at = ?
		WHERE id = ? AND status = ? AND processed_documents < ?`,
		processed, now, id, domain.StatusProcessing, processed,
	).Error
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, job *domain.ExportJob) (bool, error) {
	if job == nil {
		return false, errors.New("export job is required")
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE export_jobs
		SET status = ?, processed_documents = ?, file_size = ?, storage_zip_path = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusCompleted, job.ProcessedDocuments, job.FileSize, job.StorageZipPath, job.CompletedAt, job.UpdatedAt,
		job.ID, domain.StatusProcessing,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE export_jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ?`,
		domain.StatusFailed, message, now, now, id, []domain.Status{domain.StatusPending, domain.StatusProcessing},
	)
	return res.RowsAffected == 1, res.Error
}
