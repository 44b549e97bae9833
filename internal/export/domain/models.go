package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/dustin/go-humanize"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ExportJob archives the documents matched by its filter into one zip.
type ExportJob struct {
	ID                 snowflake.ID        `gorm:"primaryKey" json:"id"`
	AccountID          string              `gorm:"column:account_id;not null" json:"account_id"`
	CompanyID          *snowflake.ID       `gorm:"column:company_id" json:"company_id,omitempty"`
	Category           *docdomain.Category `gorm:"column:category" json:"category,omitempty"`
	DateFrom           *time.Time          `gorm:"column:date_from" json:"date_from,omitempty"`
	DateTo             *time.Time          `gorm:"column:date_to" json:"date_to,omitempty"`
	IncludeManifest    bool                `gorm:"column:include_manifest;not null" json:"include_manifest"`
	Status             Status              `gorm:"column:status;not null" json:"status"`
	TotalDocuments     int                 `gorm:"column:total_documents;not null" json:"total_documents"`
	ProcessedDocuments int                 `gorm:"column:processed_documents;not null" json:"processed_documents"`
	FileSize           int64               `gorm:"column:file_size;not null" json:"file_size"`
	StorageZipPath     string              `gorm:"column:storage_zip_path" json:"-"`
	ErrorMessage       string              `gorm:"column:error_message" json:"error_message,omitempty"`
	CorrelationID      string              `gorm:"column:correlation_id" json:"correlation_id"`
	StartedAt          *time.Time          `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time          `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time           `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (ExportJob) TableName() string { return "export_jobs" }

// Progress is the processed share in percent, rounded to one decimal.
func (j ExportJob) Progress() float64 {
	if j.Status == StatusCompleted {
		return 100
	}
	if j.TotalDocuments <= 0 {
		return 0
	}
	pct := float64(j.ProcessedDocuments) * 100 / float64(j.TotalDocuments)
	return math.Min(100, math.Round(pct*10)/10)
}

func (j ExportJob) HumanFileSize() string {
	if j.FileSize <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(j.FileSize))
}

// Downloadable is false until the archive has been fully written.
func (j ExportJob) Downloadable() bool {
	return j.Status == StatusCompleted && j.StorageZipPath != ""
}

// Filter is the document selection the job was created with.
func (j ExportJob) Filter() docdomain.Filter {
	filter := docdomain.Filter{AccountID: j.AccountID, From: j.DateFrom, To: j.DateTo}
	if j.CompanyID != nil {
		filter.CompanyID = *j.CompanyID
	}
	if j.Category != nil {
		filter.Category = *j.Category
	}
	return filter
}

// JobView is the progress payload returned to API callers.
type JobView struct {
	ExportJob
	Progress      float64 `json:"progress"`
	Downloadable  bool    `json:"downloadable"`
	FileSizeHuman string  `json:"file_size_human"`
}

func (j ExportJob) View() JobView {
	return JobView{
		ExportJob:     j,
		Progress:      j.Progress(),
		Downloadable:  j.Downloadable(),
		FileSizeHuman: j.HumanFileSize(),
	}
}
