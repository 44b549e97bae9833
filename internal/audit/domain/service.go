package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
)

// Entry is one auditable change. An empty actor is taken from the context
// and falls back to system.
type Entry struct {
	AccountID  string
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	AccountID  string
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidAccount   = fiscalerr.Validation("invalid_account", "account id is required")
	ErrInvalidPageToken = fiscalerr.Validation("invalid_page_token", "page token is invalid")
	ErrInvalidTimeRange = fiscalerr.Validation("invalid_time_range", "start_at must not be after end_at")
	ErrInvalidAction    = fiscalerr.Validation("invalid_action", "action is required")
)
