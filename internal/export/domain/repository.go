package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *ExportJob) error
	FindByID(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (*ExportJob, error)
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ExportJob, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*ExportJob, error)
	ListPending(ctx context.Context, db *gorm.DB, limit int) ([]*ExportJob, error)
	ListStale(ctx context.Context, db *gorm.DB, startedBefore time.Time) ([]*ExportJob, error)

	// Claim moves a pending job to processing; false when another worker won.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// AdvanceProcessed never lowers the counter.
	AdvanceProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processed int, now time.Time) error
	Complete(ctx context.Context, db *gorm.DB, job *ExportJob) (bool, error)
	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) (bool, error)
}
