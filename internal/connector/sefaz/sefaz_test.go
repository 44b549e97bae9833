package sefaz

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/connector/dfe"
	connector "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
	"github.com/smallbiznis/fiscalsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var company = connector.Company{ID: 1001, AccountID: "acct-1", CNPJ: "11222333000181", UF: "SP"}

var (
	ultNSUPattern = regexp.MustCompile(`<ultNSU>(\d+)</ultNSU>`)
	chNFePattern  = regexp.MustCompile(`<chNFe>(\d+)</chNFe>`)
)

type page struct {
	cStat  int
	ultNSU int64
	maxNSU int64
	items  []string
}

type fakeAuthority struct {
	t        *testing.T
	pages    map[int64]page
	keys     map[string]page
	requests atomic.Int32
	sawCert  atomic.Bool
	lastBody atomic.Value
}

func (f *fakeAuthority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f.requests.Add(1)
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		f.sawCert.Store(true)
	}
	body, _ := io.ReadAll(r.Body)
	f.lastBody.Store(string(body))

	var p page
	if m := chNFePattern.FindSubmatch(body); m != nil {
		p = f.keys[string(m[1])]
	} else if m := ultNSUPattern.FindSubmatch(body); m != nil {
		// NSUs are zero-padded decimals
		nsu, _ := strconv.ParseInt(string(m[1]), 10, 64)
		p = f.pages[nsu]
	}
	if p.cStat == 0 {
		p.cStat = 137
	}

	var lote strings.Builder
	for _, item := range p.items {
		lote.WriteString(item)
	}
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>
<nfeDistDFeInteresseResponse xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe"><nfeDistDFeInteresseResult>
<retDistDFeInt xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">
<tpAmb>2</tpAmb><verAplic>1.0</verAplic><cStat>%d</cStat><xMotivo>motivo</xMotivo><dhResp>2025-03-01T09:00:00-03:00</dhResp>
<ultNSU>%015d</ultNSU><maxNSU>%015d</maxNSU><loteDistDFeInt>%s</loteDistDFeInt>
</retDistDFeInt></nfeDistDFeInteresseResult></nfeDistDFeInteresseResponse></soap:Body></soap:Envelope>`,
		p.cStat, p.ultNSU, p.maxNSU, lote.String())
}

func accessKey(t *testing.T, number int) string {
	t.Helper()
	key, err := identifier.DeriveAccessKey(identifier.AccessKeyFields{
		RegionCode:   "35",
		YearMonth:    "2502",
		IssuerCNPJ:   "11444777000161",
		Model:        "55",
		Series:       1,
		Number:       number,
		EmissionType: identifier.EmissionNormal,
		Code:         number * 31,
	})
	require.NoError(t, err)
	return key
}

func nfeZip(t *testing.T, nsu int64, key string) string {
	t.Helper()
	parsed, ok := identifier.ParseAccessKey(key)
	require.True(t, ok)
	content, err := dfe.EncodeDocument(connector.DocumentFields{
		Category:      docdomain.CategoryNFe,
		AccessKey:     key,
		Number:        int64(parsed.Number),
		Series:        1,
		IssuedAt:      time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC),
		IssuerCNPJ:    "11444777000161",
		IssuerName:    "Fornecedor",
		RecipientCNPJ: company.CNPJ,
		RecipientName: "Empresa",
		Total:         decimal.NewFromInt(100),
		Status:        docdomain.StatusAuthorized,
	}, "135250000000001")
	require.NoError(t, err)
	return docZipElement(t, nsu, "procNFe_v4.00.xsd", content)
}

func eventZip(t *testing.T, nsu int64, key string) string {
	t.Helper()
	content, err := dfe.EncodeEvent(docdomain.CategoryNFe, connector.EventFields{
		AccessKey:   key,
		Code:        "110111",
		OccurredAt:  time.Date(2025, 2, 11, 12, 0, 0, 0, time.UTC),
		Protocol:    "135250000000009",
		Sequence:    1,
		Description: "Cancelamento",
	})
	require.NoError(t, err)
	return docZipElement(t, nsu, "procEventoNFe_v1.00.xsd", content)
}

func docZipElement(t *testing.T, nsu int64, schema string, content []byte) string {
	t.Helper()
	encoded, err := dfe.Zip(content)
	require.NoError(t, err)
	return fmt.Sprintf(`<docZip NSU="%015d" schema="%s">%s</docZip>`, nsu, schema, encoded)
}

type harness struct {
	authority *fakeAuthority
	conn      connector.Connector
	now       time.Time
	cred      *certdomain.Credential
}

func newHarness(t *testing.T, maxPages int) *harness {
	t.Helper()
	authority := &fakeAuthority{t: t, pages: map[int64]page{}, keys: map[string]page{}}
	srv := httptest.NewUnstartedServer(authority)
	srv.TLS = &tls.Config{ClientAuth: tls.RequestClientCert}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	conn, err := New(docdomain.CategoryNFe, config.ConnectorConfig{
		Driver:      config.ConnectorDriverSefaz,
		Environment: config.ConnectorEnvHomologation,
		Endpoint:    srv.URL + "/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx",
		Timeout:     5 * time.Second,
		MaxPages:    maxPages,
		Enabled:     true,
	}, connector.Deps{Log: zap.NewNop(), Clock: clock.NewFakeClock(now), Renderer: pdf.New(), RootCAs: pool})
	require.NoError(t, err)

	fixture := testutil.NewPFX(t, "EMPRESA LTDA:11222333000181", now.Add(-time.Hour), now.Add(24*time.Hour), "x")
	cred := &certdomain.Credential{
		CertificateID: 9,
		CompanyID:     company.ID,
		Class:         certdomain.ClassA1,
		Fingerprint:   fixture.Fingerprint,
		ValidTo:       fixture.Leaf.NotAfter,
		Leaf:          fixture.Leaf,
		TLS:           tls.Certificate{Certificate: [][]byte{fixture.Leaf.Raw}, PrivateKey: fixture.Key, Leaf: fixture.Leaf},
	}
	return &harness{authority: authority, conn: conn, now: now, cred: cred}
}

func (h *harness) cert(class certdomain.Class) certdomain.Certificate {
	return certdomain.Certificate{
		ID:        9,
		Class:     class,
		Status:    certdomain.StatusActive,
		ValidFrom: h.now.Add(-time.Hour),
		ValidTo:   h.now.Add(24 * time.Hour),
	}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.conn.Connect(context.Background(), h.cert(certdomain.ClassA1), h.cred))
}

func TestConnectRequiresSoftwareKey(t *testing.T) {
	h := newHarness(t, 3)

	err := h.conn.Connect(context.Background(), h.cert(certdomain.ClassA3), &certdomain.Credential{Class: certdomain.ClassA3})
	assert.ErrorIs(t, err, connector.ErrHardwareUnsupported)
	assert.True(t, fiscalerr.IsCategory(err, fiscalerr.CategoryAuth))

	err = h.conn.Connect(context.Background(), h.cert(certdomain.ClassA1), nil)
	assert.ErrorIs(t, err, connector.ErrHardwareUnsupported)

	expired := h.cert(certdomain.ClassA1)
	expired.Status = certdomain.StatusExpired
	assert.ErrorIs(t, h.conn.Connect(context.Background(), expired, h.cred), connector.ErrCertificateInactive)

	_, err = h.conn.Sync(context.Background(), company, 0)
	assert.ErrorIs(t, err, connector.ErrNotConnected)
}

func TestSyncPagesUntilMaxNSU(t *testing.T) {
	h := newHarness(t, 5)
	k1, k2, k3 := accessKey(t, 1), accessKey(t, 2), accessKey(t, 3)
	h.authority.pages[10] = page{cStat: 138, ultNSU: 12, maxNSU: 14, items: []string{
		nfeZip(t, 12, k2),
		nfeZip(t, 11, k1),
	}}
	h.authority.pages[12] = page{cStat: 138, ultNSU: 15, maxNSU: 15, items: []string{
		eventZip(t, 14, k1),
		nfeZip(t, 13, k3),
		docZipElement(t, 15, "unknown.xsd", []byte("<retConsSitNFe/>")),
	}}
	h.connect(t)

	res, err := h.conn.Sync(context.Background(), company, 10)
	require.NoError(t, err)

	assert.Equal(t, int32(2), h.authority.requests.Load())
	assert.True(t, h.authority.sawCert.Load(), "client certificate must be presented")
	assert.Equal(t, int64(15), res.CursorEnd)
	require.Len(t, res.Documents, 3)
	require.Len(t, res.Events, 1)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.DocsFound)

	assert.Equal(t, int64(12), res.Documents[0].Cursor)
	assert.Equal(t, k2, res.Documents[0].AccessKey)
	assert.Equal(t, k1, res.Events[0].AccessKey)
	assert.Equal(t, docdomain.EventCancellation, res.Events[0].Type)

	body := h.authority.lastBody.Load().(string)
	assert.Contains(t, body, "<ultNSU>000000000000012</ultNSU>")
	assert.Contains(t, body, "<tpAmb>2</tpAmb>")
	assert.Contains(t, body, "<cUFAutor>35</cUFAutor>")
	assert.Contains(t, body, "<CNPJ>11222333000181</CNPJ>")
}

func TestSyncNothingNewKeepsCursor(t *testing.T) {
	h := newHarness(t, 5)
	h.authority.pages[42] = page{cStat: 137, ultNSU: 42, maxNSU: 42}
	h.connect(t)

	res, err := h.conn.Sync(context.Background(), company, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.CursorEnd)
	assert.Empty(t, res.Documents)
}

func TestSyncStopsAtPageLimit(t *testing.T) {
	h := newHarness(t, 1)
	h.authority.pages[0] = page{cStat: 138, ultNSU: 1, maxNSU: 9, items: []string{nfeZip(t, 1, accessKey(t, 1))}}
	h.connect(t)

	res, err := h.conn.Sync(context.Background(), company, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.authority.requests.Load())
	assert.Equal(t, int64(1), res.CursorEnd)
}

func TestSyncClassifiesRejections(t *testing.T) {
	cases := []struct {
		cStat    int
		want     error
		category fiscalerr.Category
	}{
		{cStat: 656, want: connector.ErrRateLimited, category: fiscalerr.CategoryTransport},
		{cStat: 280, want: connector.ErrAuthorityRejected, category: fiscalerr.CategoryAuth},
		{cStat: 593, want: connector.ErrAuthorityRejected, category: fiscalerr.CategoryAuth},
		{cStat: 589, want: connector.ErrAuthorityFailure, category: fiscalerr.CategoryTransport},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.cStat), func(t *testing.T) {
			h := newHarness(t, 3)
			h.authority.pages[0] = page{cStat: tc.cStat}
			h.connect(t)

			_, err := h.conn.Sync(context.Background(), company, 0)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.category, fiscalerr.CategoryOf(err))
		})
	}
}

func TestSyncFailsWholeCallOnLaterPageError(t *testing.T) {
	h := newHarness(t, 5)
	h.authority.pages[0] = page{cStat: 138, ultNSU: 1, maxNSU: 5, items: []string{nfeZip(t, 1, accessKey(t, 1))}}
	h.authority.pages[1] = page{cStat: 656}
	h.connect(t)

	res, err := h.conn.Sync(context.Background(), company, 0)
	assert.ErrorIs(t, err, connector.ErrRateLimited)
	assert.Empty(t, res.Documents)
}

func TestSyncHonoursContextDeadline(t *testing.T) {
	h := newHarness(t, 3)
	h.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.conn.Sync(ctx, company, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchDocumentAndEvents(t *testing.T) {
	h := newHarness(t, 3)
	key := accessKey(t, 7)
	h.authority.keys[key] = page{cStat: 138, items: []string{
		nfeZip(t, 70, key),
		eventZip(t, 71, key),
	}}
	h.connect(t)

	doc, err := h.conn.FetchDocument(context.Background(), company, key)
	require.NoError(t, err)
	assert.Equal(t, key, doc.AccessKey)
	assert.Contains(t, h.authority.lastBody.Load().(string), "<consChNFe><chNFe>"+key+"</chNFe></consChNFe>")

	events, err := h.conn.FetchEvents(context.Background(), company, key)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "135250000000009", events[0].Protocol)

	missing := accessKey(t, 8)
	_, err = h.conn.FetchDocument(context.Background(), company, missing)
	assert.ErrorIs(t, err, connector.ErrDocumentNotFound)

	events, err = h.conn.FetchEvents(context.Background(), company, missing)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = h.conn.FetchDocument(context.Background(), company, "42")
	assert.ErrorIs(t, err, connector.ErrInvalidAccessKey)
}

func TestRenderDocument(t *testing.T) {
	h := newHarness(t, 3)
	content, err := dfe.EncodeDocument(connector.DocumentFields{
		Category:  docdomain.CategoryNFe,
		AccessKey: accessKey(t, 5),
		Number:    5,
		Series:    1,
		IssuedAt:  h.now,
		Total:     decimal.NewFromInt(10),
		Status:    docdomain.StatusAuthorized,
	}, "1")
	require.NoError(t, err)

	out, err := h.conn.RenderDocument(context.Background(), content, docdomain.CategoryNFe)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "%PDF"))
}

func TestHealthcheck(t *testing.T) {
	h := newHarness(t, 3)
	health := h.conn.Healthcheck(context.Background())
	assert.Equal(t, connector.HealthUp, health.Status)
	assert.Equal(t, Name, health.Connector)
}

func TestNewRejectsUnsupportedCategory(t *testing.T) {
	_, err := New(docdomain.CategoryNFSe, config.ConnectorConfig{Endpoint: "https://example.invalid"}, connector.Deps{})
	assert.ErrorIs(t, err, connector.ErrUnsupportedCategory)
}
