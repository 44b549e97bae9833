package service

import (
	"context"
	"errors"
	"io"
	gosync "sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditrepository "github.com/smallbiznis/fiscalsync/internal/audit/repository"
	auditservice "github.com/smallbiznis/fiscalsync/internal/audit/service"
	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	certrepository "github.com/smallbiznis/fiscalsync/internal/certificate/repository"
	certservice "github.com/smallbiznis/fiscalsync/internal/certificate/service"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	companyrepository "github.com/smallbiznis/fiscalsync/internal/company/repository"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/connector"
	connectordomain "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	docrepository "github.com/smallbiznis/fiscalsync/internal/document/repository"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/smallbiznis/fiscalsync/internal/keyring"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
	"github.com/smallbiznis/fiscalsync/internal/storage"
	"github.com/smallbiznis/fiscalsync/internal/sync/domain"
	"github.com/smallbiznis/fiscalsync/internal/sync/repository"
	"github.com/smallbiznis/fiscalsync/internal/testutil"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testAccount   = "acct-1"
	testCompany   = int64(1001)
	testCompanyID = "1001"
	testCNPJ      = "11444777000161"
	partnerCNPJ   = "11222333000181"
)

// scripted serves queued batches and can hold Sync open until released.
type scripted struct {
	mu      gosync.Mutex
	batches []connectordomain.SyncResult
	starts  []int64
	entered chan struct{}
	release chan struct{}
	err     error
}

func (s *scripted) Name() string                 { return "scripted" }
func (s *scripted) Category() docdomain.Category { return docdomain.CategoryNFe }

func (s *scripted) Healthcheck(context.Context) connectordomain.Health {
	return connectordomain.Health{Connector: "scripted", Status: connectordomain.HealthUp}
}

func (s *scripted) Connect(_ context.Context, cert certdomain.Certificate, _ *certdomain.Credential) error {
	return connectordomain.CheckCertificate(cert, time.Now())
}

func (s *scripted) Sync(ctx context.Context, _ connectordomain.Company, cursorStart int64) (connectordomain.SyncResult, error) {
	s.mu.Lock()
	s.starts = append(s.starts, cursorStart)
	entered, release, err := s.entered, s.release, s.err
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return connectordomain.SyncResult{}, ctx.Err()
		}
	}
	if err != nil {
		return connectordomain.SyncResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return connectordomain.SyncResult{CursorEnd: cursorStart}, nil
	}
	next := s.batches[0]
	s.batches = s.batches[1:]
	return next, nil
}

func (s *scripted) FetchDocument(context.Context, connectordomain.Company, string) (*connectordomain.DocumentFields, error) {
	return nil, connectordomain.ErrDocumentNotFound
}

func (s *scripted) FetchEvents(context.Context, connectordomain.Company, string) ([]connectordomain.EventFields, error) {
	return nil, nil
}

func (s *scripted) RenderDocument(context.Context, []byte, docdomain.Category) ([]byte, error) {
	return nil, connectordomain.ErrUnsupportedOperation
}

func (s *scripted) queue(batches ...connectordomain.SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batches...)
}

// flakyStore fails the nth Put.
type flakyStore struct {
	storage.ContentStore
	mu     gosync.Mutex
	puts   int
	failOn int
}

func (f *flakyStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	f.mu.Lock()
	f.puts++
	fail := f.failOn > 0 && f.puts == f.failOn
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.ContentStore.Put(ctx, key, body, size)
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	certs    certdomain.Service
	store    *flakyStore
	scripted *scripted
}

func newFixture(t *testing.T, timeout time.Duration) fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedCompany(t, db, testCompany, testAccount, testCNPJ)

	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Now())
	kr, err := keyring.Ephemeral()
	require.NoError(t, err)

	certs := certservice.New(certservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Cfg:     config.Config{},
		Keyring: kr,
		Repo:    certrepository.Provide(),
	})

	fs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{ContentStore: fs}

	script := &scripted{}
	registry := connector.NewRegistry(connector.Params{
		Log:   zap.NewNop(),
		Clock: clk,
		Config: config.NewStaticConnectorConfigHolder(config.ConnectorsConfig{Categories: map[string]config.ConnectorConfig{
			"nfe":  {Driver: "scripted", Enabled: true},
			"cte":  {Driver: config.ConnectorDriverSandbox, Enabled: true},
			"nfse": {Driver: config.ConnectorDriverSandbox, Enabled: true},
			"mdfe": {Driver: config.ConnectorDriverSandbox, Enabled: false},
		}}),
		Renderer: &pdf.NoOpProvider{},
	})
	registry.Register("scripted", func(docdomain.Category, config.ConnectorConfig, connectordomain.Deps) (connectordomain.Connector, error) {
		return script, nil
	})

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})

	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Cfg:          config.Config{Sync: config.SyncConfig{Timeout: timeout}},
		Repo:         repository.Provide(),
		Companies:    companyrepository.Provide(),
		Documents:    docrepository.Provide(),
		Certificates: certs,
		Store:        store,
		Connectors:   registry,
		Audit:        audit,
	})
	return fixture{svc: svc, db: db, clock: clk, certs: certs, store: store, scripted: script}
}

func (f fixture) uploadCertificate(t *testing.T, validFor time.Duration) certdomain.Certificate {
	t.Helper()
	now := f.clock.Now()
	pfx := testutil.NewPFX(t, "ACME COMERCIO LTDA:"+testCNPJ, now.Add(-time.Hour), now.Add(validFor), "senha")
	cert, err := f.certs.Upload(context.Background(), certdomain.UploadRequest{
		AccountID:  testAccount,
		CompanyID:  testCompanyID,
		Class:      certdomain.ClassA1,
		Raw:        pfx.PFX,
		Passphrase: "senha",
	})
	require.NoError(t, err)
	return cert
}

func (f fixture) trigger(scope string) (domain.SyncRun, error) {
	return f.svc.Trigger(context.Background(), domain.TriggerRequest{AccountID: testAccount, CompanyID: testCompanyID, Scope: scope})
}

func (f fixture) count(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw(query, args...).Scan(&n).Error)
	return n
}

func (f fixture) runs(t *testing.T) []domain.SyncRun {
	t.Helper()
	var runs []domain.SyncRun
	require.NoError(t, f.db.Order("id ASC").Find(&runs).Error)
	return runs
}

func nfeDocument(t *testing.T, cursor int64, number int, issuer string) connectordomain.DocumentFields {
	t.Helper()
	key, err := identifier.DeriveAccessKey(identifier.AccessKeyFields{
		RegionCode:   "35",
		YearMonth:    "2403",
		IssuerCNPJ:   issuer,
		Model:        "55",
		Series:       1,
		Number:       number,
		EmissionType: identifier.EmissionNormal,
		Code:         12345678,
	})
	require.NoError(t, err)
	return connectordomain.DocumentFields{
		Cursor:        cursor,
		Category:      docdomain.CategoryNFe,
		AccessKey:     key,
		Number:        int64(number),
		Series:        1,
		IssuedAt:      time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
		IssuerCNPJ:    issuer,
		IssuerName:    "Emitente",
		RecipientCNPJ: testCNPJ,
		Total:         decimal.RequireFromString("99.90"),
		Status:        docdomain.StatusAuthorized,
		Content:       []byte("<nfeProc/>"),
	}
}

func TestTriggerPersistsDocumentsAndEvents(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	run, err := f.trigger("cte")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)
	assert.EqualValues(t, 0, run.NSUStart)
	assert.EqualValues(t, 5, run.UltNSU)
	assert.Equal(t, 4, run.DocsFound)
	assert.Equal(t, 4, run.DocsSaved)
	assert.Equal(t, 1, run.EventsSaved)
	assert.NotEmpty(t, run.CorrelationID)
	require.NotNil(t, run.FinishedAt)
	assert.Nil(t, run.ErrorSummary)

	assert.EqualValues(t, 4, f.count(t, `SELECT COUNT(*) FROM fiscal_documents WHERE company_id = ? AND category = 'CTE'`, testCompany))
	assert.EqualValues(t, 1, f.count(t, `SELECT COUNT(*) FROM fiscal_documents WHERE direction = 'issued'`))
	assert.EqualValues(t, 3, f.count(t, `SELECT COUNT(*) FROM fiscal_documents WHERE direction = 'received'`))
	assert.EqualValues(t, 1, f.count(t, `SELECT COUNT(*) FROM fiscal_events WHERE event_type = 'cancelamento'`))
	// Cancellation is an event row; the document keeps its authority status.
	assert.EqualValues(t, 0, f.count(t, `SELECT COUNT(*) FROM fiscal_documents WHERE status <> 'authorized'`))
	assert.EqualValues(t, 1, f.count(t, `SELECT COUNT(*) FROM audit_logs WHERE action = 'sync_run.finished'`))

	var doc docdomain.FiscalDocument
	require.NoError(t, f.db.Where("nsu = ?", 5).Take(&doc).Error)
	assert.Equal(t, run.ID, *doc.SyncRunID)
	assert.Len(t, doc.HashSHA256, 64)
	rc, err := f.store.Get(context.Background(), doc.StorageXMLPath)
	require.NoError(t, err)
	rc.Close()

	next, err := f.trigger("CT-e")
	require.NoError(t, err)
	assert.EqualValues(t, 5, next.NSUStart)
	assert.EqualValues(t, 10, next.UltNSU)
}

func TestResyncAtMaxCursorCompletesEmpty(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	var last domain.SyncRun
	for i := 0; i < 10; i++ {
		run, err := f.trigger("NFSE")
		require.NoError(t, err)
		last = run
	}
	require.EqualValues(t, 50, last.UltNSU)

	again, err := f.trigger("NFSE")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.EqualValues(t, 50, again.NSUStart)
	assert.EqualValues(t, 50, again.UltNSU)
	assert.Zero(t, again.DocsFound)
	assert.Zero(t, again.DocsSaved)
	assert.EqualValues(t, 50, f.count(t, `SELECT COUNT(*) FROM fiscal_documents WHERE category = 'NFSE'`))
}

func TestSameDocumentAcrossRunsIsStoredOnce(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	doc := nfeDocument(t, 3, 77, partnerCNPJ)
	replay := doc
	replay.Cursor = 4
	f.scripted.queue(
		connectordomain.SyncResult{CursorEnd: 3, Documents: []connectordomain.DocumentFields{doc}},
		connectordomain.SyncResult{CursorEnd: 4, Documents: []connectordomain.DocumentFields{replay}},
	)

	first, err := f.trigger("nfe")
	require.NoError(t, err)
	assert.Equal(t, 1, first.DocsSaved)

	second, err := f.trigger("nfe")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, second.Status)
	assert.Equal(t, 1, second.DocsFound)
	assert.Equal(t, 0, second.DocsSaved)
	assert.EqualValues(t, 4, second.UltNSU)
	assert.EqualValues(t, 1, f.count(t, `SELECT COUNT(*) FROM fiscal_documents WHERE access_key = ?`, doc.AccessKey))
}

func TestOrchestratorComputesMaximumCursor(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	// The connector under-reports CursorEnd and delivers items out of order.
	f.scripted.queue(connectordomain.SyncResult{
		CursorEnd: 7,
		Documents: []connectordomain.DocumentFields{
			nfeDocument(t, 9, 1, testCNPJ),
			nfeDocument(t, 8, 2, partnerCNPJ),
		},
		Events: []connectordomain.EventFields{{Cursor: 11, AccessKey: "35240311222333000181550010000000991123456780", Code: "110111"}},
	})

	run, err := f.trigger("nfe")
	require.NoError(t, err)
	assert.EqualValues(t, 11, run.UltNSU)
	assert.Equal(t, 2, run.DocsSaved)
	assert.Zero(t, run.EventsSaved, "events for unknown documents are skipped")
	assert.Equal(t, 1, run.ItemsSkipped)
	assert.EqualValues(t, 1, f.count(t, `SELECT COUNT(*) FROM fiscal_documents WHERE direction = 'issued'`))
}

func TestSkippedItemsAreCountedOnRun(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	f.scripted.queue(connectordomain.SyncResult{
		CursorEnd: 6,
		Documents: []connectordomain.DocumentFields{nfeDocument(t, 4, 10, partnerCNPJ)},
		Events: []connectordomain.EventFields{
			{Cursor: 5, AccessKey: "35240311222333000181550010000000991123456780", Code: "110111", Protocol: "1"},
		},
		Errors: []string{"nsu 6 (procNFe_v4.00.xsd): unexpected EOF"},
	})

	run, err := f.trigger("nfe")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)
	assert.EqualValues(t, 6, run.UltNSU)
	assert.Equal(t, 1, run.DocsSaved)
	assert.Equal(t, 2, run.ItemsSkipped)

	stored, err := f.svc.Get(context.Background(), testAccount, run.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ItemsSkipped)
}

func TestFailedRunLeavesNoCursorGap(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	f.scripted.queue(
		connectordomain.SyncResult{CursorEnd: 5, Documents: []connectordomain.DocumentFields{nfeDocument(t, 5, 1, partnerCNPJ)}},
		connectordomain.SyncResult{CursorEnd: 8, Documents: []connectordomain.DocumentFields{
			nfeDocument(t, 6, 2, partnerCNPJ),
			nfeDocument(t, 7, 3, partnerCNPJ),
			nfeDocument(t, 8, 4, partnerCNPJ),
		}},
		connectordomain.SyncResult{CursorEnd: 8, Documents: []connectordomain.DocumentFields{
			nfeDocument(t, 6, 2, partnerCNPJ),
			nfeDocument(t, 7, 3, partnerCNPJ),
			nfeDocument(t, 8, 4, partnerCNPJ),
		}},
	)

	_, err := f.trigger("nfe")
	require.NoError(t, err)

	// Second Put of the second run fails after one document was stored.
	f.store.failOn = f.store.puts + 2
	failed, err := f.trigger("nfe")
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.EqualValues(t, 5, failed.NSUStart)
	assert.EqualValues(t, 5, failed.UltNSU)
	assert.Equal(t, 1, failed.DocsSaved)
	assert.Equal(t, "internal_error", failed.ErrorSummary["code"])

	resumed, err := f.trigger("nfe")
	require.NoError(t, err)
	assert.EqualValues(t, 5, resumed.NSUStart)
	assert.EqualValues(t, 8, resumed.UltNSU)
	assert.Equal(t, 2, resumed.DocsSaved)
	assert.Equal(t, []int64{0, 5, 5}, f.scripted.starts)

	lastCompleted := int64(0)
	for _, run := range f.runs(t) {
		assert.LessOrEqual(t, run.NSUStart, lastCompleted)
		assert.GreaterOrEqual(t, run.UltNSU, run.NSUStart)
		if run.Status == domain.StatusCompleted {
			lastCompleted = run.UltNSU
		}
	}
}

func TestSecondTriggerWhileRunningIsRejected(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	f.scripted.entered = make(chan struct{}, 1)
	f.scripted.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.trigger("nfe")
		done <- err
	}()
	<-f.scripted.entered

	_, err := f.trigger("nfe")
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
	assert.True(t, fiscalerr.IsCategory(err, fiscalerr.CategoryConflict))
	assert.EqualValues(t, 1, f.count(t, `SELECT COUNT(*) FROM sync_runs`))

	close(f.scripted.release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, f.count(t, `SELECT COUNT(*) FROM sync_runs WHERE status = 'completed'`))
}

func TestCancelledTriggerFinalizesRun(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	f.scripted.entered = make(chan struct{}, 1)
	f.scripted.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Trigger(ctx, domain.TriggerRequest{AccountID: testAccount, CompanyID: testCompanyID, Scope: "NFE"})
		done <- err
	}()
	<-f.scripted.entered
	cancel()

	err := <-done
	assert.ErrorIs(t, err, fiscalerr.ErrCanceled)
	runs := f.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.StatusFailed, runs[0].Status)
	assert.Equal(t, "canceled", runs[0].ErrorSummary["code"])
	assert.NotNil(t, runs[0].FinishedAt)

	// The mutex is released.
	f.scripted.entered = nil
	f.scripted.release = nil
	_, err = f.trigger("NFE")
	require.NoError(t, err)
}

func TestTimeoutFailsRunAsTransport(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	f.uploadCertificate(t, 365*24*time.Hour)
	f.scripted.release = make(chan struct{})

	run, err := f.trigger("nfe")
	require.Error(t, err)
	assert.True(t, fiscalerr.IsCategory(err, fiscalerr.CategoryTransport))
	assert.Equal(t, domain.StatusFailed, run.Status)
	assert.Equal(t, "timeout", run.ErrorSummary["code"])
	assert.EqualValues(t, run.NSUStart, run.UltNSU)
}

func TestAuthorityErrorFailsRun(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)
	f.scripted.err = connectordomain.ErrAuthorityRejected

	run, err := f.trigger("nfe")
	assert.ErrorIs(t, err, connectordomain.ErrAuthorityRejected)
	assert.Equal(t, domain.StatusFailed, run.Status)
	assert.Equal(t, "auth", run.ErrorSummary["category"])
	assert.Equal(t, "authority_rejected", run.ErrorSummary["code"])
}

func TestTriggerWithoutCertificateCreatesNoRun(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.trigger("nfe")
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)
	assert.True(t, fiscalerr.IsCategory(err, fiscalerr.CategoryAuth))

	// Expired by time even though the row still says active.
	f.uploadCertificate(t, time.Hour)
	f.clock.Advance(2 * time.Hour)
	_, err = f.trigger("nfe")
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)

	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM sync_runs`))
}

func TestTriggerValidation(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.TriggerRequest
		want error
	}{
		{name: "account", req: domain.TriggerRequest{CompanyID: testCompanyID, Scope: "nfe"}, want: domain.ErrInvalidAccount},
		{name: "scope", req: domain.TriggerRequest{AccountID: testAccount, CompanyID: testCompanyID, Scope: "boleto"}, want: domain.ErrInvalidScope},
		{name: "company id", req: domain.TriggerRequest{AccountID: testAccount, CompanyID: "abc", Scope: "nfe"}, want: domain.ErrInvalidCompany},
		{name: "other account", req: domain.TriggerRequest{AccountID: "acct-2", CompanyID: testCompanyID, Scope: "nfe"}, want: domain.ErrCompanyNotFound},
		{name: "disabled category", req: domain.TriggerRequest{AccountID: testAccount, CompanyID: testCompanyID, Scope: "mdfe"}, want: connectordomain.ErrCategoryDisabled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Trigger(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM sync_runs`))
}

func TestRecoverStaleReleasesMutex(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)

	stuck := domain.SyncRun{
		ID:        snowflake.ID(42),
		AccountID: testAccount,
		CompanyID: snowflake.ID(testCompany),
		Scope:     docdomain.CategoryNFe,
		Status:    domain.StatusRunning,
		StartedAt: f.clock.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, repository.Provide().Insert(context.Background(), f.db, &stuck))

	_, err := f.trigger("nfe")
	require.ErrorIs(t, err, domain.ErrSyncInProgress)

	n, err := f.svc.RecoverStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recovered, err := f.svc.Get(context.Background(), testAccount, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, recovered.Status)
	assert.Equal(t, "stale_run", recovered.ErrorSummary["code"])

	n, err = f.svc.RecoverStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.trigger("nfe")
	require.NoError(t, err)
}

func TestListAndGetAreTenantScoped(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.uploadCertificate(t, 365*24*time.Hour)
	ctx := context.Background()

	first, err := f.trigger("cte")
	require.NoError(t, err)
	_, err = f.trigger("nfse")
	require.NoError(t, err)

	page, err := f.svc.List(ctx, domain.ListSyncRunRequest{AccountID: testAccount, Pagination: pagination.Pagination{PageSize: 1}})
	require.NoError(t, err)
	require.Len(t, page.Runs, 1)
	assert.True(t, page.HasMore)
	assert.Equal(t, docdomain.CategoryNFSe, page.Runs[0].Scope)

	rest, err := f.svc.List(ctx, domain.ListSyncRunRequest{AccountID: testAccount, Pagination: pagination.Pagination{PageSize: 1, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, rest.Runs, 1)
	assert.Equal(t, first.ID, rest.Runs[0].ID)

	filtered, err := f.svc.List(ctx, domain.ListSyncRunRequest{AccountID: testAccount, Scope: "CTE", Status: "completed"})
	require.NoError(t, err)
	assert.Len(t, filtered.Runs, 1)

	_, err = f.svc.List(ctx, domain.ListSyncRunRequest{AccountID: testAccount, Status: "stuck"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.svc.Get(ctx, "acct-2", first.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Get(ctx, testAccount, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
