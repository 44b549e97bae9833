package guard

import (
	"testing"
	"time"

	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	companydomain "github.com/smallbiznis/fiscalsync/internal/company/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/stretchr/testify/assert"
)

func TestEnsureCompanyCanSync(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	valid := certdomain.Certificate{
		Class:     certdomain.ClassA1,
		Status:    certdomain.StatusActive,
		ValidFrom: now.AddDate(-1, 0, 0),
		ValidTo:   now.AddDate(1, 0, 0),
	}
	expired := valid
	expired.ValidTo = now.Add(-time.Hour)

	assert.NoError(t, EnsureCompanyCanSync(companydomain.StatusActive, []certdomain.Certificate{expired, valid}, now))
	assert.ErrorIs(t, EnsureCompanyCanSync(companydomain.StatusInactive, []certdomain.Certificate{valid}, now), ErrCompanyNotActive)
	assert.ErrorIs(t, EnsureCompanyCanSync(companydomain.StatusActive, []certdomain.Certificate{expired}, now), ErrNoActiveCertificate)
	assert.ErrorIs(t, EnsureCompanyCanSync(companydomain.StatusActive, nil, now), ErrNoActiveCertificate)
}

func TestEnsureCategoryEnabled(t *testing.T) {
	enabled := []docdomain.Category{docdomain.CategoryNFe, docdomain.CategoryCTe}
	assert.NoError(t, EnsureCategoryEnabled(docdomain.CategoryCTe, enabled))
	assert.ErrorIs(t, EnsureCategoryEnabled(docdomain.CategoryMDFe, enabled), ErrCategoryDisabled)
}
