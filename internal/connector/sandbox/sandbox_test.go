package sandbox

import (
	"bytes"
	"context"
	"testing"
	"time"

	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	connector "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var company = connector.Company{ID: 1001, AccountID: "acct-1", CNPJ: "11444777000161", UF: "SP"}

func activeCert(now time.Time) certdomain.Certificate {
	return certdomain.Certificate{
		ID:        7,
		Class:     certdomain.ClassA1,
		Status:    certdomain.StatusActive,
		ValidFrom: now.Add(-24 * time.Hour),
		ValidTo:   now.Add(365 * 24 * time.Hour),
	}
}

func newConnected(t *testing.T, category docdomain.Category) connector.Connector {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	c, err := New(category, config.ConnectorConfig{}, connector.Deps{Log: zap.NewNop(), Clock: clk, Renderer: &pdf.NoOpProvider{}})
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), activeCert(clk.Now()), nil))
	return c
}

func TestConnectRejectsInactiveCertificates(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := New(docdomain.CategoryNFe, config.ConnectorConfig{}, connector.Deps{Clock: clock.NewFakeClock(now)})
	require.NoError(t, err)

	err = c.Connect(context.Background(), certdomain.Certificate{}, nil)
	assert.ErrorIs(t, err, connector.ErrNoCertificate)

	revoked := activeCert(now)
	revoked.Status = certdomain.StatusRevoked
	err = c.Connect(context.Background(), revoked, nil)
	assert.ErrorIs(t, err, connector.ErrCertificateRevoked)
	assert.True(t, fiscalerr.IsCategory(err, fiscalerr.CategoryAuth))

	expired := activeCert(now)
	expired.ValidTo = now.Add(-time.Minute)
	assert.ErrorIs(t, c.Connect(context.Background(), expired, nil), connector.ErrCertificateInactive)

	_, err = c.Sync(context.Background(), company, 0)
	assert.ErrorIs(t, err, connector.ErrNotConnected)
}

func TestConnectAcceptsHardwareCertificates(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := New(docdomain.CategoryCTe, config.ConnectorConfig{}, connector.Deps{Clock: clock.NewFakeClock(now)})
	require.NoError(t, err)

	a3 := activeCert(now)
	a3.Class = certdomain.ClassA3
	assert.NoError(t, c.Connect(context.Background(), a3, nil))
}

func TestSyncDeliversNewestFirstWithValidKeys(t *testing.T) {
	c := newConnected(t, docdomain.CategoryNFe)

	res, err := c.Sync(context.Background(), company, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(BatchSize), res.CursorEnd)
	assert.Empty(t, res.Errors)

	// NSU 4 is a cancellation of NSU 3.
	require.Len(t, res.Documents, 4)
	require.Len(t, res.Events, 1)
	assert.Equal(t, []int64{5, 3, 2, 1}, cursors(res.Documents))
	assert.Equal(t, res.DocsFound, len(res.Documents))

	for _, doc := range res.Documents {
		assert.True(t, identifier.ValidateAccessKey(doc.AccessKey), doc.AccessKey)
		assert.Equal(t, docdomain.CategoryNFe, doc.Category)
		assert.Equal(t, docdomain.StatusAuthorized, doc.Status)
		assert.NotEmpty(t, doc.Content)
		assert.Greater(t, doc.Cursor, int64(0))
	}

	ev := res.Events[0]
	assert.Equal(t, int64(4), ev.Cursor)
	assert.Equal(t, docdomain.EventCancellation, ev.Type)
	assert.Equal(t, res.Documents[1].AccessKey, ev.AccessKey)
}

func TestSyncIsDeterministicAndIncremental(t *testing.T) {
	first := newConnected(t, docdomain.CategoryNFe)
	second := newConnected(t, docdomain.CategoryNFe)

	a, err := first.Sync(context.Background(), company, 5)
	require.NoError(t, err)
	b, err := second.Sync(context.Background(), company, 5)
	require.NoError(t, err)

	assert.Equal(t, a.CursorEnd, b.CursorEnd)
	assert.Equal(t, keys(a.Documents), keys(b.Documents))
	for _, doc := range a.Documents {
		assert.Greater(t, doc.Cursor, int64(5))
	}
}

func TestSyncAtEndOfStreamReturnsCursorUnchanged(t *testing.T) {
	c := newConnected(t, docdomain.CategoryNFe)

	res, err := c.Sync(context.Background(), company, StreamLength)
	require.NoError(t, err)
	assert.Equal(t, int64(StreamLength), res.CursorEnd)
	assert.Empty(t, res.Documents)
	assert.Empty(t, res.Events)

	res, err = c.Sync(context.Background(), company, StreamLength-2)
	require.NoError(t, err)
	assert.Equal(t, int64(StreamLength), res.CursorEnd)
}

func TestSyncNFSeUsesExternalIDs(t *testing.T) {
	c := newConnected(t, docdomain.CategoryNFSe)

	res, err := c.Sync(context.Background(), company, 0)
	require.NoError(t, err)
	require.Len(t, res.Documents, BatchSize)
	assert.Empty(t, res.Events)
	for _, doc := range res.Documents {
		assert.Empty(t, doc.AccessKey)
		assert.Contains(t, doc.ExternalID, "NFSE-")
	}
}

func TestSyncMixesIssuedAndReceived(t *testing.T) {
	c := newConnected(t, docdomain.CategoryNFe)

	res, err := c.Sync(context.Background(), company, 0)
	require.NoError(t, err)

	var issued, received int
	for _, doc := range res.Documents {
		if identifier.SameCNPJ(doc.IssuerCNPJ, company.CNPJ) {
			issued++
			assert.True(t, identifier.ValidateCNPJ(doc.RecipientCNPJ))
		} else {
			received++
			assert.True(t, identifier.ValidateCNPJ(doc.IssuerCNPJ))
		}
	}
	assert.Equal(t, 1, issued)
	assert.Equal(t, 3, received)
}

func TestFetchDocumentAndEvents(t *testing.T) {
	c := newConnected(t, docdomain.CategoryNFe)
	res, err := c.Sync(context.Background(), company, 0)
	require.NoError(t, err)

	var nsu3 connector.DocumentFields
	for _, doc := range res.Documents {
		if doc.Cursor == 3 {
			nsu3 = doc
		}
	}
	require.NotEmpty(t, nsu3.AccessKey)

	doc, err := c.FetchDocument(context.Background(), company, nsu3.AccessKey)
	require.NoError(t, err)
	assert.Equal(t, nsu3.AccessKey, doc.AccessKey)

	events, err := c.FetchEvents(context.Background(), company, nsu3.AccessKey)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, docdomain.EventCancellation, events[0].Type)

	events, err = c.FetchEvents(context.Background(), company, res.Documents[0].AccessKey)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = c.FetchDocument(context.Background(), company, "123")
	assert.ErrorIs(t, err, connector.ErrInvalidAccessKey)

	other := company
	other.CNPJ = "11222333000181"
	_, err = c.FetchDocument(context.Background(), other, nsu3.AccessKey)
	assert.ErrorIs(t, err, connector.ErrDocumentNotFound)
}

func TestFetchDocumentUnsupportedForNFSe(t *testing.T) {
	c := newConnected(t, docdomain.CategoryNFSe)
	_, err := c.FetchDocument(context.Background(), company, "35240111444777000161550010000012341123456784")
	assert.ErrorIs(t, err, connector.ErrUnsupportedOperation)
}

func TestRenderDocument(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := New(docdomain.CategoryNFe, config.ConnectorConfig{}, connector.Deps{Clock: clock.NewFakeClock(now), Renderer: pdf.New()})
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), activeCert(now), nil))

	res, err := c.Sync(context.Background(), company, 0)
	require.NoError(t, err)

	out, err := c.RenderDocument(context.Background(), res.Documents[0].Content, docdomain.CategoryNFe)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = c.RenderDocument(context.Background(), []byte("<x/>"), docdomain.CategoryNFe)
	assert.ErrorIs(t, err, connector.ErrMalformedResponse)
}

func cursors(docs []connector.DocumentFields) []int64 {
	out := make([]int64, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Cursor)
	}
	return out
}

func keys(docs []connector.DocumentFields) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.AccessKey)
	}
	return out
}
