package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/internal/company/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/option"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	pkgrepository "github.com/smallbiznis/fiscalsync/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func store(db *gorm.DB) pkgrepository.Store[domain.Company] {
	return pkgrepository.NewStore[domain.Company](db)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, company *domain.Company) error {
	return store(db).Create(ctx, company)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (*domain.Company, error) {
	if id == 0 {
		return nil, nil
	}
	filter := &domain.Company{ID: id}
	if accountID != "" {
		filter.AccountID = accountID
	}
	return store(db).FindOne(ctx, filter)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, accountID string, filter domain.ListCompanyFilter, page pagination.Pagination) ([]*domain.Company, error) {
	return store(db).Find(ctx,
		&domain.Company{AccountID: accountID, Status: filter.Status},
		option.OrderBy("id", true),
		option.ApplyPagination(page),
	)
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]*domain.Company, error) {
	return store(db).Find(ctx,
		&domain.Company{Status: domain.StatusActive},
		option.OrderBy("id", false),
	)
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID, changes map[string]any) error {
	_, err := store(db).Updates(ctx, &domain.Company{AccountID: accountID, ID: id}, changes)
	return err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID, status domain.Status, now time.Time) error {
	_, err := store(db).Updates(ctx,
		&domain.Company{AccountID: accountID, ID: id},
		map[string]any{"status": status, "updated_at": now},
	)
	return err
}

// Delete removes the company; certificates, runs and documents go with it
// through ON DELETE CASCADE.
func (r *repo) Delete(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (bool, error) {
	if id == 0 || accountID == "" {
		return false, errors.New("company id and account are required")
	}
	n, err := store(db).Delete(ctx, &domain.Company{AccountID: accountID, ID: id})
	return n > 0, err
}
