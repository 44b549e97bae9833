package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SyncRun is one pass of the cursor protocol for a (company, scope). The
// cursor chain is resumed from the ult_nsu of the latest completed run.
type SyncRun struct {
	ID            snowflake.ID       `gorm:"primaryKey" json:"id"`
	AccountID     string             `gorm:"column:account_id;not null" json:"account_id"`
	CompanyID     snowflake.ID       `gorm:"column:company_id;not null" json:"company_id"`
	Scope         docdomain.Category `gorm:"column:scope;not null" json:"scope"`
	Status        Status             `gorm:"column:status;not null" json:"status"`
	NSUStart      int64              `gorm:"column:nsu_start;not null" json:"nsu_start"`
	UltNSU        int64              `gorm:"column:ult_nsu;not null" json:"ult_nsu"`
	DocsFound     int                `gorm:"column:docs_found;not null" json:"docs_found"`
	DocsSaved     int                `gorm:"column:docs_saved;not null" json:"docs_saved"`
	EventsSaved   int                `gorm:"column:events_saved;not null" json:"events_saved"`
	// ItemsSkipped counts items the cursor moved past without storing:
	// undecodable payloads and events for documents never retrieved.
	ItemsSkipped  int                `gorm:"column:items_skipped;not null" json:"items_skipped"`
	ErrorSummary  datatypes.JSONMap  `gorm:"column:error_summary" json:"error_summary,omitempty"`
	CorrelationID string             `gorm:"column:correlation_id" json:"correlation_id"`
	StartedAt     time.Time          `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt    *time.Time         `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (SyncRun) TableName() string { return "sync_runs" }

func (r SyncRun) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Duration is zero while the run is in flight.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

type ListFilter struct {
	AccountID string
	CompanyID snowflake.ID
	Scope     docdomain.Category
	Status    Status
}
