package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeUser   ActorType = "user"
	ActorTypeAgent  ActorType = "agent"
)

const (
	ActionCertificateUploaded  = "certificate.uploaded"
	ActionCertificateRevoked   = "certificate.revoked"
	ActionCertificatePaired    = "certificate.paired"
	ActionCertificateActivated = "certificate.activated"
	ActionCertificateExpired   = "certificate.expired"
	ActionSyncRunFinished      = "sync_run.finished"
	ActionExportCreated        = "export.created"
)

const (
	TargetCertificate = "certificate"
	TargetSyncRun     = "sync_run"
	TargetExportJob   = "export_job"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID  *string           `gorm:"column:account_id" json:"account_id,omitempty"`
	ActorType  string            `gorm:"column:actor_type;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action;not null" json:"action"`
	TargetType string            `gorm:"column:target_type;not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	AccountID  string
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
