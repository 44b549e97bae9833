package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertDocument returns false without error when the access key or
	// external id already exists.
	InsertDocument(ctx context.Context, db *gorm.DB, doc *FiscalDocument) (bool, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *FiscalEvent) (bool, error)

	ExistsByAccessKey(ctx context.Context, db *gorm.DB, accessKey string) (bool, error)
	FindByAccessKey(ctx context.Context, db *gorm.DB, accessKey string) (*FiscalDocument, error)
	FindByID(ctx context.Context, db *gorm.DB, accountID string, id snowflake.ID) (*FiscalDocument, error)

	List(ctx context.Context, db *gorm.DB, filter Filter, page pagination.Pagination) ([]*FiscalDocument, error)
	Count(ctx context.Context, db *gorm.DB, filter Filter) (int64, error)
	// Stats groups matching documents by category, direction and status.
	Stats(ctx context.Context, db *gorm.DB, filter Filter) ([]StatsBucket, error)
	// Each streams matching documents in id order, batchSize rows at a time.
	Each(ctx context.Context, db *gorm.DB, filter Filter, batchSize int, fn func(*FiscalDocument) error) error

	ListEvents(ctx context.Context, db *gorm.DB, documentID snowflake.ID) ([]*FiscalEvent, error)
}
