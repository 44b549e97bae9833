package domain

import (
	"context"

	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
)

type CreateCompanyRequest struct {
	AccountID         string
	CNPJ              string
	LegalName         string
	TradeName         string
	StateRegistration string
	UF                string
	Municipality      string
}

// UpdateCompanyRequest edits the descriptive fields; nil leaves a field as
// is and an empty string clears it. CNPJ and UF never change.
type UpdateCompanyRequest struct {
	AccountID         string
	ID                string
	LegalName         *string
	TradeName         *string
	StateRegistration *string
	Municipality      *string
}

type ListCompanyRequest struct {
	AccountID string
	Status    string
	PageToken string
	PageSize  int
}

type ListCompanyFilter struct {
	Status Status
}

type ListCompanyResponse struct {
	pagination.PageInfo
	Companies []Company `json:"companies"`
}

type Service interface {
	Create(ctx context.Context, req CreateCompanyRequest) (Company, error)
	Get(ctx context.Context, accountID, id string) (Company, error)
	List(ctx context.Context, req ListCompanyRequest) (ListCompanyResponse, error)
	ListActive(ctx context.Context) ([]Company, error)
	Update(ctx context.Context, req UpdateCompanyRequest) (Company, error)
	SetStatus(ctx context.Context, accountID, id string, status Status) (Company, error)
	Delete(ctx context.Context, accountID, id string) error
}

var (
	ErrInvalidAccount   = fiscalerr.Validation("invalid_account", "account id is required")
	ErrInvalidID        = fiscalerr.Validation("invalid_company_id", "company id is invalid")
	ErrInvalidCNPJ      = fiscalerr.Validation("invalid_cnpj", "CNPJ check digits do not match")
	ErrInvalidUF        = fiscalerr.Validation("invalid_uf", "unknown federative unit")
	ErrInvalidLegalName = fiscalerr.Validation("invalid_legal_name", "legal name is required")
	ErrFieldTooLong     = fiscalerr.Validation("field_too_long", "a company field exceeds its maximum length")
	ErrInvalidStatus    = fiscalerr.Validation("invalid_status", "status must be active or inactive")
	ErrInvalidPageToken = fiscalerr.Validation("invalid_page_token", "page token is invalid")
	ErrAlreadyExists    = fiscalerr.Conflict("company_already_exists", "a company with this CNPJ already exists for the account")
	ErrNotFound         = fiscalerr.NotFound("company_not_found", "company not found")
)
