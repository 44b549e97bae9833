// Package testing moves persisted timestamps so scheduler thresholds can be
// crossed without waiting.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// BackdateRunningSyncs moves started_at of every running sync run back by age.
func (ta *TimeAccelerator) BackdateRunningSyncs(ctx context.Context, age time.Duration) (int64, error) {
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE sync_runs SET started_at = ? WHERE status = 'running'`,
		time.Now().UTC().Add(-age),
	)
	return result.RowsAffected, result.Error
}

// BackdateExport moves started_at of a processing export job back by age.
func (ta *TimeAccelerator) BackdateExport(ctx context.Context, jobID snowflake.ID, age time.Duration) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE export_jobs SET started_at = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		time.Now().UTC().Add(-age),
		time.Now().UTC(),
		jobID,
	).Error
}

// SetCertificateValidity rewrites valid_to, e.g. to push a certificate into
// the expiring-soon window or past expiry.
func (ta *TimeAccelerator) SetCertificateValidity(ctx context.Context, certificateID snowflake.ID, validTo time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE certificates SET valid_to = ? WHERE id = ?`,
		validTo.UTC(),
		certificateID,
	).Error
}

// RunInfo shows the persisted state of a sync run for debugging.
type RunInfo struct {
	ID       snowflake.ID
	Status   string
	NSUStart int64
	UltNSU   int64
}

func (ta *TimeAccelerator) RunsFor(ctx context.Context, companyID snowflake.ID, scope string) ([]RunInfo, error) {
	var runs []RunInfo
	err := ta.db.WithContext(ctx).Raw(
		`SELECT id, status, nsu_start, ult_nsu
		 FROM sync_runs
		 WHERE company_id = ? AND scope = ?
		 ORDER BY id ASC`,
		companyID,
		scope,
	).Scan(&runs).Error
	return runs, err
}
