package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/option"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertDocument(ctx context.Context, db *gorm.DB, doc *domain.FiscalDocument) (bool, error) {
	if doc == nil {
		return false, errors.New("document is required")
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(doc)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.FiscalEvent) (bool, error) {
	if event == nil {
		return false, errors.New("event is required")
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) ExistsByAccessKey(ctx context.Context, db *gorm.DB, accessKey string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM fiscal_documents WHERE access_key = ?`,
		accessKey,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) FindByAccessKey(ctx context.Context, db *gorm.DB, accessKey string) (*domain.FiscalDocument, error) {
	var doc domain.FiscalDocument
	err := db.WithContext(ctx).Where("access_key = ?", accessKey).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (*domain.FiscalDocument, error) {
	var doc domain.FiscalDocument
	err := db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, id).
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.Filter, page pagination.Pagination) ([]*domain.FiscalDocument, error) {
	var items []*domain.FiscalDocument
	stmt := applyFilter(db.WithContext(ctx).Model(&domain.FiscalDocument{}), filter)
	stmt = option.OrderBy("id", true).Apply(stmt)
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.Find(&items).Error
	return items, err
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, filter domain.Filter) (int64, error) {
	var count int64
	err := applyFilter(db.WithContext(ctx).Model(&domain.FiscalDocument{}), filter).Count(&count).Error
	return count, err
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.StatsBucket, error) {
	var buckets []domain.StatsBucket
	err := applyFilter(db.WithContext(ctx).Model(&domain.FiscalDocument{}), filter).
		Select("category, direction, status, COUNT(*) AS documents, COALESCE(SUM(total_value), 0) AS total_value").
		Group("category, direction, status").
		Order("category, direction, status").
		Scan(&buckets).Error
	return buckets, err
}

func (r *repo) Each(ctx context.Context, db *gorm.DB, filter domain.Filter, batchSize int, fn func(*domain.FiscalDocument) error) error {
	if batchSize <= 0 {
		batchSize = 200
	}
	var lastID snowflake.ID
	for {
		var batch []*domain.FiscalDocument
		stmt := applyFilter(db.WithContext(ctx).Model(&domain.FiscalDocument{}), filter).
			Where("id > ?", lastID).
			Order("id ASC").
			Limit(batchSize)
		if err := stmt.Find(&batch).Error; err != nil {
			return err
		}
		for _, doc := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
			lastID = doc.ID
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, documentID snowflake.ID) ([]*domain.FiscalEvent, error) {
	var items []*domain.FiscalEvent
	err := db.WithContext(ctx).
		Where("fiscal_document_id = ?", documentID).
		Order("event_date ASC, sequence ASC").
		Find(&items).Error
	return items, err
}

func applyFilter(stmt *gorm.DB, filter domain.Filter) *gorm.DB {
	stmt = stmt.Where("account_id = ?", filter.AccountID)
	if filter.CompanyID != 0 {
		stmt = stmt.Where("company_id = ?", filter.CompanyID)
	}
	if filter.Category != "" {
		stmt = stmt.Where("category = ?", filter.Category)
	}
	if filter.Direction != "" {
		stmt = stmt.Where("direction = ?", filter.Direction)
	}
	if filter.From != nil {
		stmt = stmt.Where("issue_date >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("issue_date <= ?", filter.To.UTC())
	}
	return stmt
}
