package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert fails with a unique violation while another run for the same
	// (company, scope) is running.
	Insert(ctx context.Context, db *gorm.DB, run *SyncRun) error
	FindByID(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (*SyncRun, error)
	FindRunning(ctx context.Context, db *gorm.DB, companyID snowflake.ID, scope docdomain.Category) (*SyncRun, error)
	// LastCompletedCursor is 0 when no run has completed yet.
	LastCompletedCursor(ctx context.Context, db *gorm.DB, companyID snowflake.ID, scope docdomain.Category) (int64, error)
	// Finish writes the terminal state only if the row is still running.
	Finish(ctx context.Context, db *gorm.DB, run *SyncRun) (bool, error)
	ListStale(ctx context.Context, db *gorm.DB, startedBefore time.Time) ([]*SyncRun, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*SyncRun, error)
}
