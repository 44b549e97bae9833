package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/company/domain"
	"github.com/smallbiznis/fiscalsync/internal/company/repository"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestCreateNormalizesAndValidates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	company, err := svc.Create(ctx, domain.CreateCompanyRequest{
		AccountID: "acct-1",
		CNPJ:      "11.444.777/0001-61",
		LegalName: " ACME Comercio Ltda ",
		UF:        "sp",
	})
	require.NoError(t, err)
	assert.Equal(t, "11444777000161", company.CNPJ)
	assert.Equal(t, "ACME Comercio Ltda", company.LegalName)
	assert.Equal(t, "SP", company.UF)
	assert.Equal(t, domain.StatusActive, company.Status)

	got, err := svc.Get(ctx, "acct-1", company.ID.String())
	require.NoError(t, err)
	assert.Equal(t, company.ID, got.ID)

	_, err = svc.Get(ctx, "acct-2", company.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CreateCompanyRequest
		want error
	}{
		{"account", domain.CreateCompanyRequest{CNPJ: "11444777000161", LegalName: "A", UF: "SP"}, domain.ErrInvalidAccount},
		{"cnpj", domain.CreateCompanyRequest{AccountID: "a", CNPJ: "11444777000162", LegalName: "A", UF: "SP"}, domain.ErrInvalidCNPJ},
		{"uniform cnpj", domain.CreateCompanyRequest{AccountID: "a", CNPJ: "00000000000000", LegalName: "A", UF: "SP"}, domain.ErrInvalidCNPJ},
		{"name", domain.CreateCompanyRequest{AccountID: "a", CNPJ: "11444777000161", UF: "SP"}, domain.ErrInvalidLegalName},
		{"uf", domain.CreateCompanyRequest{AccountID: "a", CNPJ: "11444777000161", LegalName: "A", UF: "XX"}, domain.ErrInvalidUF},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, fiscalerr.IsCategory(err, fiscalerr.CategoryValidation))
		})
	}
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := domain.CreateCompanyRequest{AccountID: "acct", CNPJ: "11444777000161", LegalName: "ACME", UF: "SP"}

	_, err := svc.Create(ctx, req)
	require.NoError(t, err)
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	req.AccountID = "other"
	_, err = svc.Create(ctx, req)
	assert.NoError(t, err, "the same CNPJ may be registered under another account")
}

func TestListPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, cnpj := range []string{"11444777000161", "11222333000181", "04252011000110"} {
		_, err := svc.Create(ctx, domain.CreateCompanyRequest{AccountID: "acct", CNPJ: cnpj, LegalName: "Co " + cnpj, UF: "RJ"})
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, domain.ListCompanyRequest{AccountID: "acct", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Companies, 2)
	assert.True(t, first.HasMore)

	second, err := svc.List(ctx, domain.ListCompanyRequest{AccountID: "acct", PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Companies, 1)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, domain.ListCompanyRequest{AccountID: "acct", PageToken: "%%"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestSetStatusAndListActive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	company, err := svc.Create(ctx, domain.CreateCompanyRequest{AccountID: "acct", CNPJ: "11444777000161", LegalName: "ACME", UF: "SP"})
	require.NoError(t, err)

	updated, err := svc.SetStatus(ctx, "acct", company.ID.String(), domain.StatusInactive)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, updated.Status)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = svc.SetStatus(ctx, "acct", company.ID.String(), "archived")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestUpdateEditsDescriptiveFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	company, err := svc.Create(ctx, domain.CreateCompanyRequest{
		AccountID:    "acct",
		CNPJ:         "11444777000161",
		LegalName:    "ACME",
		TradeName:    "Acme",
		Municipality: "Campinas",
		UF:           "SP",
	})
	require.NoError(t, err)

	name := " ACME Comercio Ltda "
	ie := "110.042.490.114"
	empty := ""
	updated, err := svc.Update(ctx, domain.UpdateCompanyRequest{
		AccountID:         "acct",
		ID:                company.ID.String(),
		LegalName:         &name,
		StateRegistration: &ie,
		TradeName:         &empty,
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME Comercio Ltda", updated.LegalName)
	assert.Equal(t, ie, updated.StateRegistration)
	assert.Empty(t, updated.TradeName)
	assert.Equal(t, "Campinas", updated.Municipality)

	stored, err := svc.Get(ctx, "acct", company.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "ACME Comercio Ltda", stored.LegalName)
	assert.Equal(t, ie, stored.StateRegistration)
	assert.Empty(t, stored.TradeName)
	assert.Equal(t, "Campinas", stored.Municipality)
	assert.Equal(t, company.CNPJ, stored.CNPJ)
	assert.Equal(t, "SP", stored.UF)
}

func TestUpdateRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	company, err := svc.Create(ctx, domain.CreateCompanyRequest{AccountID: "acct", CNPJ: "11444777000161", LegalName: "ACME", UF: "SP"})
	require.NoError(t, err)

	blank := "  "
	_, err = svc.Update(ctx, domain.UpdateCompanyRequest{AccountID: "acct", ID: company.ID.String(), LegalName: &blank})
	assert.ErrorIs(t, err, domain.ErrInvalidLegalName)

	long := strings.Repeat("x", 129)
	_, err = svc.Update(ctx, domain.UpdateCompanyRequest{AccountID: "acct", ID: company.ID.String(), Municipality: &long})
	assert.ErrorIs(t, err, domain.ErrFieldTooLong)

	name := "Other"
	_, err = svc.Update(ctx, domain.UpdateCompanyRequest{AccountID: "acct-2", ID: company.ID.String(), LegalName: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	unchanged, err := svc.Update(ctx, domain.UpdateCompanyRequest{AccountID: "acct", ID: company.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "ACME", unchanged.LegalName)
}

func TestDeleteCascades(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	company, err := svc.Create(ctx, domain.CreateCompanyRequest{AccountID: "acct", CNPJ: "11444777000161", LegalName: "ACME", UF: "SP"})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`INSERT INTO sync_runs (id, account_id, company_id, scope, status, started_at) VALUES (1, 'acct', ?, 'NFE', 'completed', CURRENT_TIMESTAMP)`, company.ID).Error)

	require.NoError(t, svc.Delete(ctx, "acct", company.ID.String()))
	assert.ErrorIs(t, svc.Delete(ctx, "acct", company.ID.String()), domain.ErrNotFound)

	var runs int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM sync_runs`).Scan(&runs).Error)
	assert.Zero(t, runs)
}
