package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cert *domain.Certificate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO certificates (
			id, company_id, class, status, fingerprint, subject, issuer, serial_number,
			valid_from, valid_to, encrypted_blob, encrypted_passphrase, encrypted_dek,
			pairing_token, last_heartbeat, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cert.ID,
		cert.CompanyID,
		cert.Class,
		cert.Status,
		cert.Fingerprint,
		cert.Subject,
		cert.Issuer,
		cert.SerialNumber,
		cert.ValidFrom,
		cert.ValidTo,
		cert.EncryptedBlob,
		cert.EncryptedPassphrase,
		cert.EncryptedDEK,
		cert.PairingToken,
		cert.LastHeartbeat,
		cert.Metadata,
		cert.CreatedAt,
		cert.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM certificates WHERE id = ?`,
		id,
	).Scan(&cert).Error
	if err != nil {
		return nil, err
	}
	if cert.ID == 0 {
		return nil, nil
	}
	return &cert, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, companyID snowflake.ID, class domain.Class) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM certificates WHERE company_id = ? AND class = ? AND status = ?`,
		companyID, class, domain.StatusActive,
	).Scan(&cert).Error
	if err != nil {
		return nil, err
	}
	if cert.ID == 0 {
		return nil, nil
	}
	return &cert, nil
}

func (r *repo) ListByCompany(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]*domain.Certificate, error) {
	var items []*domain.Certificate
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM certificates WHERE company_id = ? ORDER BY created_at DESC, id DESC`,
		companyID,
	).Scan(&items).Error
	return items, err
}

// CompanyAccount returns the owning account, or "" when the company is unknown.
func (r *repo) CompanyAccount(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (string, error) {
	var accountID string
	err := db.WithContext(ctx).Raw(
		`SELECT account_id FROM companies WHERE id = ?`,
		companyID,
	).Row().Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return accountID, err
}

func (r *repo) ExpireActive(ctx context.Context, db *gorm.DB, companyID snowflake.ID, class domain.Class, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE certificates SET status = ?, updated_at = ?
		WHERE company_id = ? AND class = ? AND status = ?`,
		domain.StatusExpired, now, companyID, class, domain.StatusActive,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one source status")
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE certificates SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`,
		to, now, id, from,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE certificates SET status = ?, last_heartbeat = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusActive, now, now, id, domain.StatusPending,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) TouchHeartbeat(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE certificates SET last_heartbeat = ? WHERE id = ?`,
		now, id,
	).Error
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time) ([]*domain.Certificate, error) {
	var items []*domain.Certificate
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM certificates WHERE status = ? AND valid_to <= ? ORDER BY valid_to ASC`,
		domain.StatusActive, now,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListExpiring(ctx context.Context, db *gorm.DB, now, until time.Time) ([]*domain.Certificate, error) {
	var items []*domain.Certificate
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM certificates WHERE status = ? AND valid_to > ? AND valid_to <= ? ORDER BY valid_to ASC`,
		domain.StatusActive, now, until,
	).Scan(&items).Error
	return items, err
}
