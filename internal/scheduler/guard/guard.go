package guard

import (
	"errors"
	"time"

	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	companydomain "github.com/smallbiznis/fiscalsync/internal/company/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
)

var (
	ErrCompanyNotActive    = errors.New("company_not_active")
	ErrNoActiveCertificate = errors.New("no_active_certificate")
	ErrCategoryDisabled    = errors.New("category_disabled")
)

// EnsureCompanyCanSync admits a company into the sweep when it is active and
// holds at least one certificate usable at now.
func EnsureCompanyCanSync(status companydomain.Status, certificates []certdomain.Certificate, now time.Time) error {
	if status != companydomain.StatusActive {
		return ErrCompanyNotActive
	}
	for _, cert := range certificates {
		if cert.IsActive(now) {
			return nil
		}
	}
	return ErrNoActiveCertificate
}

func EnsureCategoryEnabled(category docdomain.Category, enabled []docdomain.Category) error {
	for _, c := range enabled {
		if c == category {
			return nil
		}
	}
	return ErrCategoryDisabled
}
