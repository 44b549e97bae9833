package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/fiscalsync/internal/audit/domain"
	auditrepository "github.com/smallbiznis/fiscalsync/internal/audit/repository"
	auditservice "github.com/smallbiznis/fiscalsync/internal/audit/service"
	"github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"github.com/smallbiznis/fiscalsync/internal/certificate/repository"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/keyring"
	"github.com/smallbiznis/fiscalsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testAccount   = "acct-1"
	testCompany   = int64(1001)
	testCompanyID = "1001"
)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	audit auditdomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedCompany(t, db, testCompany, testAccount, "11444777000161")

	kr, err := keyring.Ephemeral()
	require.NoError(t, err)

	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Now())
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
	svc := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Cfg:     config.Config{Certificate: config.CertificateConfig{ExpiryWarnDays: 30}},
		Keyring: kr,
		Repo:    repository.Provide(),
		Audit:   audit,
	})
	return fixture{svc: svc, db: db, clock: clk, audit: audit}
}

func (f fixture) countStatus(t *testing.T, status domain.Status) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM certificates WHERE company_id = ? AND status = ?`, testCompany, status).Scan(&n).Error)
	return n
}

func (f fixture) upload(t *testing.T, validFor time.Duration) (domain.Certificate, testutil.PFXFixture) {
	t.Helper()
	now := f.clock.Now()
	pfx := testutil.NewPFX(t, "ACME COMERCIO LTDA:11444777000161", now.Add(-time.Hour), now.Add(validFor), "senha123")
	cert, err := f.svc.Upload(context.Background(), domain.UploadRequest{
		AccountID:  testAccount,
		CompanyID:  testCompanyID,
		Class:      domain.ClassA1,
		Raw:        pfx.PFX,
		Passphrase: "senha123",
	})
	require.NoError(t, err)
	return cert, pfx
}

func TestUploadActivatesAndStripsSecrets(t *testing.T) {
	f := newFixture(t)

	cert, pfx := f.upload(t, 365*24*time.Hour)
	assert.Equal(t, domain.StatusActive, cert.Status)
	assert.Equal(t, pfx.Fingerprint, cert.Fingerprint)
	assert.Equal(t, "ACME COMERCIO LTDA:11444777000161", cert.Subject)
	assert.Nil(t, cert.EncryptedBlob)
	assert.Nil(t, cert.EncryptedDEK)

	active, err := f.svc.GetActive(context.Background(), cert.CompanyID, domain.ClassA1)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, active.ID)
	assert.True(t, active.IsActive(f.clock.Now()))

	var stored domain.Certificate
	require.NoError(t, f.db.Raw(`SELECT * FROM certificates WHERE id = ?`, cert.ID).Scan(&stored).Error)
	assert.NotEmpty(t, stored.EncryptedBlob)
	assert.NotEqual(t, pfx.PFX, stored.EncryptedBlob)
	assert.NotEmpty(t, stored.EncryptedPassphrase)
	assert.NotEmpty(t, stored.EncryptedDEK)
}

func TestUploadRejectsBadMaterial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	pfx := testutil.NewPFX(t, "ACME", now.Add(-time.Hour), now.Add(time.Hour), "right")

	_, err := f.svc.Upload(ctx, domain.UploadRequest{AccountID: testAccount, CompanyID: testCompanyID, Class: domain.ClassA1, Raw: pfx.PFX, Passphrase: "wrong"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.True(t, fiscalerr.IsCategory(err, fiscalerr.CategoryValidation))

	_, err = f.svc.Upload(ctx, domain.UploadRequest{AccountID: testAccount, CompanyID: testCompanyID, Class: domain.ClassA1, Raw: []byte("garbage"), Passphrase: "right"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	expired := testutil.NewPFX(t, "OLD", now.Add(-48*time.Hour), now.Add(-time.Hour), "right")
	_, err = f.svc.Upload(ctx, domain.UploadRequest{AccountID: testAccount, CompanyID: testCompanyID, Class: domain.ClassA1, Raw: expired.PFX, Passphrase: "right"})
	assert.ErrorIs(t, err, domain.ErrExpiredCredential)

	_, err = f.svc.Upload(ctx, domain.UploadRequest{AccountID: "someone-else", CompanyID: testCompanyID, Class: domain.ClassA1, Raw: pfx.PFX, Passphrase: "right"})
	assert.ErrorIs(t, err, domain.ErrCompanyNotFound)

	_, err = f.svc.Upload(ctx, domain.UploadRequest{AccountID: testAccount, CompanyID: testCompanyID, Class: domain.ClassA3, Raw: pfx.PFX, Passphrase: "right"})
	assert.ErrorIs(t, err, domain.ErrInvalidClass)

	assert.Zero(t, f.countStatus(t, domain.StatusActive))
}

func TestUploadRotationLeavesExactlyOneActive(t *testing.T) {
	f := newFixture(t)

	first, _ := f.upload(t, 365*24*time.Hour)
	f.clock.Advance(time.Minute)
	second, _ := f.upload(t, 2*365*24*time.Hour)

	assert.EqualValues(t, 1, f.countStatus(t, domain.StatusActive))
	assert.EqualValues(t, 1, f.countStatus(t, domain.StatusExpired))

	prior, err := f.svc.Get(context.Background(), testAccount, first.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, prior.Status)

	active, err := f.svc.GetActive(context.Background(), second.CompanyID, domain.ClassA1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cert, _ := f.upload(t, 365*24*time.Hour)

	_, err := f.svc.Revoke(ctx, "other-account", cert.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	revoked, err := f.svc.Revoke(ctx, testAccount, cert.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, revoked.Status)

	_, err = f.svc.Revoke(ctx, testAccount, cert.ID.String())
	assert.ErrorIs(t, err, domain.ErrAlreadyRevoked)

	_, err = f.svc.GetActive(ctx, cert.CompanyID, domain.ClassA1)
	assert.ErrorIs(t, err, domain.ErrNoActiveCredential)

	_, err = f.svc.OpenCredential(ctx, cert.CompanyID, domain.ClassA1)
	assert.ErrorIs(t, err, domain.ErrNoActiveCredential)

	logs, err := f.audit.List(ctx, auditdomain.ListAuditLogRequest{AccountID: testAccount, Action: auditdomain.ActionCertificateRevoked})
	require.NoError(t, err)
	assert.Len(t, logs.AuditLogs, 1)
}

func TestOpenCredentialDecryptsMaterial(t *testing.T) {
	f := newFixture(t)
	cert, pfx := f.upload(t, 365*24*time.Hour)

	cred, err := f.svc.OpenCredential(context.Background(), cert.CompanyID, domain.ClassA1)
	require.NoError(t, err)
	assert.True(t, cred.HasKeyMaterial())
	assert.Equal(t, cert.ID, cred.CertificateID)
	require.NotNil(t, cred.Leaf)
	assert.Equal(t, pfx.Leaf.Raw, cred.Leaf.Raw)
}

func TestPairA3AndHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	paired, err := f.svc.PairA3(ctx, domain.PairRequest{
		AccountID: testAccount,
		CompanyID: testCompanyID,
		Subject:   "ACME TOKEN",
		Issuer:    "AC SERASA",
		ValidFrom: now.Add(-time.Hour),
		ValidTo:   now.Add(365 * 24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, paired.Certificate.Status)
	assert.NotEmpty(t, paired.PairingToken)

	_, err = f.svc.Heartbeat(ctx, paired.Certificate.ID.String(), "pair_wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidPairing)

	active, err := f.svc.Heartbeat(ctx, paired.Certificate.ID.String(), paired.PairingToken)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, active.Status)
	require.NotNil(t, active.LastHeartbeat)

	f.clock.Advance(time.Minute)
	again, err := f.svc.Heartbeat(ctx, paired.Certificate.ID.String(), paired.PairingToken)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), again.LastHeartbeat.UTC())

	replacement, err := f.svc.PairA3(ctx, domain.PairRequest{
		AccountID: testAccount,
		CompanyID: testCompanyID,
		Subject:   "ACME TOKEN 2",
		ValidFrom: now,
		ValidTo:   now.Add(2 * 365 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.Heartbeat(ctx, replacement.Certificate.ID.String(), replacement.PairingToken)
	require.NoError(t, err)

	first, err := f.svc.Get(ctx, testAccount, paired.Certificate.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, first.Status)

	_, err = f.svc.Heartbeat(ctx, paired.Certificate.ID.String(), paired.PairingToken)
	assert.ErrorIs(t, err, domain.ErrNotActive)

	cred, err := f.svc.OpenCredential(ctx, paired.Certificate.CompanyID, domain.ClassA3)
	require.NoError(t, err)
	assert.False(t, cred.HasKeyMaterial())
}

func TestPairA3Validation(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	_, err := f.svc.PairA3(context.Background(), domain.PairRequest{
		AccountID: testAccount, CompanyID: testCompanyID, Subject: "X",
		ValidFrom: now, ValidTo: now.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidValidity)

	_, err = f.svc.PairA3(context.Background(), domain.PairRequest{
		AccountID: testAccount, CompanyID: testCompanyID,
		ValidFrom: now, ValidTo: now.Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestExpireDueAndExpiringSoon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.upload(t, 10*24*time.Hour)

	soon, err := f.svc.ListExpiringSoon(ctx, 0)
	require.NoError(t, err)
	require.Len(t, soon, 1)
	assert.Equal(t, 9, soon[0].DaysUntilExpiry(f.clock.Now().Add(time.Hour)))

	none, err := f.svc.ListExpiringSoon(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(11 * 24 * time.Hour)
	n, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, f.countStatus(t, domain.StatusExpired))
	assert.Zero(t, f.countStatus(t, domain.StatusActive))
}

func TestPredicates(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cert := domain.Certificate{Status: domain.StatusActive, ValidTo: now.Add(20 * 24 * time.Hour)}

	assert.True(t, cert.IsActive(now))
	assert.True(t, cert.IsExpiringSoon(now, 30))
	assert.False(t, cert.IsExpiringSoon(now, 10))
	assert.Equal(t, 20, cert.DaysUntilExpiry(now))

	later := now.Add(25 * 24 * time.Hour)
	assert.False(t, cert.IsActive(later))
	assert.False(t, cert.IsExpiringSoon(later, 30))
	assert.Equal(t, -5, cert.DaysUntilExpiry(later))

	cert.Status = domain.StatusRevoked
	assert.False(t, cert.IsActive(now))
}
