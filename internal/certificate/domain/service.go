package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
)

type UploadRequest struct {
	AccountID  string
	CompanyID  string
	Class      Class
	Raw        []byte
	Passphrase string
}

type PairRequest struct {
	AccountID    string
	CompanyID    string
	Subject      string
	Issuer       string
	SerialNumber string
	ValidFrom    time.Time
	ValidTo      time.Time
	// RawCertificate optionally carries the token's public certificate (PEM or
	// DER); when present it overrides the descriptive fields above.
	RawCertificate []byte
}

type PairResponse struct {
	Certificate  Certificate `json:"certificate"`
	PairingToken string      `json:"pairing_token"`
}

type Service interface {
	Upload(ctx context.Context, req UploadRequest) (Certificate, error)
	GetActive(ctx context.Context, companyID snowflake.ID, class Class) (Certificate, error)
	Get(ctx context.Context, accountID, id string) (Certificate, error)
	List(ctx context.Context, accountID, companyID string) ([]Certificate, error)
	Revoke(ctx context.Context, accountID, id string) (Certificate, error)

	PairA3(ctx context.Context, req PairRequest) (PairResponse, error)
	Heartbeat(ctx context.Context, id, pairingToken string) (Certificate, error)

	ExpireDue(ctx context.Context) (int, error)
	ListExpiringSoon(ctx context.Context, days int) ([]Certificate, error)

	OpenCredential(ctx context.Context, companyID snowflake.ID, class Class) (*Credential, error)
}

var (
	ErrInvalidAccount     = fiscalerr.Validation("invalid_account", "account id is required")
	ErrInvalidID          = fiscalerr.Validation("invalid_certificate_id", "certificate id is invalid")
	ErrInvalidCompany     = fiscalerr.Validation("invalid_company_id", "company id is invalid")
	ErrInvalidClass       = fiscalerr.Validation("invalid_certificate_class", "class must be A1 or A3")
	ErrInvalidCredential  = fiscalerr.Validation("invalid_credential", "certificate material or passphrase is invalid")
	ErrExpiredCredential  = fiscalerr.Validation("expired_credential", "certificate validity has already ended")
	ErrInvalidValidity    = fiscalerr.Validation("invalid_validity", "valid_from must precede valid_to")
	ErrInvalidPairing     = fiscalerr.Auth("invalid_pairing_token", "pairing token does not match")
	ErrNotActive          = fiscalerr.Auth("certificate_not_active", "certificate is expired or revoked")
	ErrKeyMaterialMissing = fiscalerr.Auth("hardware_credential", "A3 key material is held by the paired agent")
	ErrAlreadyRevoked     = fiscalerr.Conflict("certificate_already_revoked", "certificate is already revoked")
	ErrActivationConflict = fiscalerr.Conflict("active_certificate_conflict", "another certificate was activated concurrently")
	ErrNotFound           = fiscalerr.NotFound("certificate_not_found", "certificate not found")
	ErrCompanyNotFound    = fiscalerr.NotFound("company_not_found", "company not found")
	ErrNoActiveCredential = fiscalerr.NotFound("no_active_certificate", "company has no active certificate for this class")
)
