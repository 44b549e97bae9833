package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
)

type ListDocumentRequest struct {
	pagination.Pagination
	AccountID string
	CompanyID string
	Category  string
	Direction string
	From      *time.Time
	To        *time.Time
}

type ListDocumentResponse struct {
	pagination.PageInfo
	Documents []FiscalDocument `json:"documents"`
}

type StatsRequest struct {
	AccountID string
	CompanyID string
	Category  string
	Direction string
	From      *time.Time
	To        *time.Time
}

type Service interface {
	List(ctx context.Context, req ListDocumentRequest) (ListDocumentResponse, error)
	Get(ctx context.Context, accountID, id string) (FiscalDocument, error)
	Stats(ctx context.Context, req StatsRequest) (Stats, error)
	Events(ctx context.Context, accountID, id string) ([]FiscalEvent, error)
	// Content returns the raw XML as persisted at sync time.
	Content(ctx context.Context, accountID, id string) ([]byte, error)
	// Render produces a PDF summary through the category's connector.
	Render(ctx context.Context, accountID, id string) ([]byte, error)
}

var (
	ErrInvalidAccount   = fiscalerr.Validation("invalid_account", "account id is required")
	ErrInvalidID        = fiscalerr.Validation("invalid_document_id", "document id is invalid")
	ErrInvalidCompany   = fiscalerr.Validation("invalid_company_id", "company id is invalid")
	ErrInvalidCategory  = fiscalerr.Validation("invalid_category", "unknown document category")
	ErrInvalidDirection = fiscalerr.Validation("invalid_direction", "direction must be issued or received")
	ErrInvalidDateRange = fiscalerr.Validation("invalid_date_range", "from must not be after to")
	ErrInvalidPageToken = fiscalerr.Validation("invalid_page_token", "page token is invalid")
	ErrNotFound         = fiscalerr.NotFound("document_not_found", "document not found")
	ErrContentMissing   = fiscalerr.NotFound("document_content_missing", "raw content is not available for this document")
)
