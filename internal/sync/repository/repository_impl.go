package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/sync/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/option"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, run *domain.SyncRun) error {
	if run == nil {
		return errors.New("sync run is required")
	}
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, id).
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repo) FindRunning(ctx context.Context, db *gorm.DB, companyID snowflake.ID, scope docdomain.Category) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := db.WithContext(ctx).
		Where("company_id = ? AND scope = ? AND status = ?", companyID, scope, domain.StatusRunning).
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repo) LastCompletedCursor(ctx context.Context, db *gorm.DB, companyID snowflake.ID, scope docdomain.Category) (int64, error) {
	var cursors []int64
	err := db.WithContext(ctx).Raw(
		`SELECT ult_nsu FROM sync_runs
		WHERE company_id = ? AND scope = ? AND status = ?
		ORDER BY finished_at DESC, id DESC
		LIMIT 1`,
		companyID, scope, domain.StatusCompleted,
	).Scan(&cursors).Error
	if err != nil || len(cursors) == 0 {
		return 0, err
	}
	return cursors[0], nil
}

func (r *repo) Finish(ctx context.Context, db *gorm.DB, run *domain.SyncRun) (bool, error) {
	if run == nil {
		return false, errors.New("sync run is required")
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE sync_runs
		SET status = ?, ult_nsu = ?, docs_found = ?, docs_saved = ?, events_saved = ?, items_skipped = ?,
			error_summary = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		run.Status, run.UltNSU, run.DocsFound, run.DocsSaved, run.EventsSaved, run.ItemsSkipped,
		run.ErrorSummary, run.FinishedAt,
		run.ID, domain.StatusRunning,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, startedBefore time.Time) ([]*domain.SyncRun, error) {
	var items []*domain.SyncRun
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM sync_runs WHERE status = ? AND started_at < ? ORDER BY started_at ASC`,
		domain.StatusRunning, startedBefore,
	).Scan(&items).Error
	return items, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.SyncRun, error) {
	stmt := db.WithContext(ctx).Model(&domain.SyncRun{}).Where("account_id = ?", filter.AccountID)
	if filter.CompanyID != 0 {
		stmt = stmt.Where("company_id = ?", filter.CompanyID)
	}
	if filter.Scope != "" {
		stmt = stmt.Where("scope = ?", filter.Scope)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.OrderBy("id", true).Apply(stmt)
	stmt = option.ApplyPagination(page).Apply(stmt)

	var items []*domain.SyncRun
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
