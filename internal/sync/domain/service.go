package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
)

type TriggerRequest struct {
	AccountID string
	CompanyID string
	Scope     string
}

type ListSyncRunRequest struct {
	pagination.Pagination
	AccountID string
	CompanyID string
	Scope     string
	Status    string
}

type ListSyncRunResponse struct {
	pagination.PageInfo
	Runs []SyncRun `json:"sync_runs"`
}

type Service interface {
	// Trigger runs one synchronization pass and returns the finalized run.
	// A failed pass returns both the run and its cause.
	Trigger(ctx context.Context, req TriggerRequest) (SyncRun, error)
	Get(ctx context.Context, accountID, id string) (SyncRun, error)
	List(ctx context.Context, req ListSyncRunRequest) (ListSyncRunResponse, error)
	// RecoverStale fails running rows started more than olderThan ago.
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

var (
	ErrInvalidAccount      = fiscalerr.Validation("invalid_account", "account id is required")
	ErrInvalidCompany      = fiscalerr.Validation("invalid_company_id", "company id is invalid")
	ErrInvalidScope        = fiscalerr.Validation("invalid_scope", "scope must be NFE, NFCE, CTE, MDFE or NFSE")
	ErrInvalidStatus       = fiscalerr.Validation("invalid_status", "status must be pending, running, completed or failed")
	ErrInvalidID           = fiscalerr.Validation("invalid_sync_run_id", "sync run id is invalid")
	ErrInvalidPageToken    = fiscalerr.Validation("invalid_page_token", "page token is invalid")
	ErrCompanyInactive     = fiscalerr.Validation("company_inactive", "company is inactive")
	ErrNoActiveCertificate = fiscalerr.Auth("no_active_certificate", "company has no active certificate")
	ErrSyncInProgress      = fiscalerr.Conflict("sync_in_progress", "a sync is already running for this company and scope")
	ErrRunAbandoned        = fiscalerr.Conflict("sync_run_abandoned", "the run was finalized by recovery before it finished")
	ErrStaleRun            = fiscalerr.Transport("stale_run", "the run exceeded the stale threshold and was abandoned")
	ErrCompanyNotFound     = fiscalerr.NotFound("company_not_found", "company not found")
	ErrNotFound            = fiscalerr.NotFound("sync_run_not_found", "sync run not found")
)
