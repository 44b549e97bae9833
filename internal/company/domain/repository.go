package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, company *Company) error
	FindByID(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (*Company, error)
	List(ctx context.Context, db *gorm.DB, accountID string, filter ListCompanyFilter, page pagination.Pagination) ([]*Company, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]*Company, error)
	// Update writes changes to the named columns of one company.
	Update(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID, changes map[string]any) error
	UpdateStatus(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID, status Status, now time.Time) error
	Delete(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (bool, error)
}
