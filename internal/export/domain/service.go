package domain

import (
	"context"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
)

type CreateExportRequest struct {
	AccountID       string
	CompanyID       string
	Category        string
	From            *time.Time
	To              *time.Time
	IncludeManifest bool
}

type ListExportRequest struct {
	pagination.Pagination
	AccountID string
	CompanyID string
	Status    string
}

type ListExportResponse struct {
	pagination.PageInfo
	Exports []JobView `json:"exports"`
}

type ListFilter struct {
	AccountID string
	CompanyID snowflake.ID
	Status    Status
}

type Service interface {
	// Create counts the selection and queues a pending job.
	Create(ctx context.Context, req CreateExportRequest) (ExportJob, error)
	Get(ctx context.Context, accountID, id string) (ExportJob, error)
	// List returns the account's jobs, newest first.
	List(ctx context.Context, req ListExportRequest) (ListExportResponse, error)
	// Process builds the archive of one pending job inline.
	Process(ctx context.Context, id string) (ExportJob, error)
	// ProcessPending claims and builds up to limit pending jobs.
	ProcessPending(ctx context.Context, limit int) (int, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
	// Download streams a completed archive. The caller closes the reader.
	Download(ctx context.Context, accountID, id string) (io.ReadCloser, ExportJob, error)
}

var (
	ErrInvalidAccount = fiscalerr.Validation("invalid_account", "account id is required")
	ErrInvalidID      = fiscalerr.Validation("invalid_export_id", "export id is invalid")
	ErrInvalidCompany = fiscalerr.Validation("invalid_company_id", "company id is invalid")
	ErrInvalidStatus  = fiscalerr.Validation("invalid_status", "status must be pending, processing, completed or failed")
	ErrInvalidToken   = fiscalerr.Validation("invalid_page_token", "page token is invalid")
	ErrEmptySelection = fiscalerr.Validation("empty_selection", "no documents match the export filter")
	ErrNotPending     = fiscalerr.Conflict("export_not_pending", "export job is not pending")
	ErrNotReady       = fiscalerr.Conflict("export_not_ready", "export archive is not complete")
	ErrNotFound       = fiscalerr.NotFound("export_not_found", "export job not found")
	ErrArchiveMissing = fiscalerr.NotFound("export_archive_missing", "export archive is no longer available")
)
