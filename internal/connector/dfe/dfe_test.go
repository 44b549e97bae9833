package dfe

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	connector "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nfeKey = "35240111444777000161550010000012341123456784"

func keyFor(t *testing.T, model string) string {
	t.Helper()
	key, err := identifier.DeriveAccessKey(identifier.AccessKeyFields{
		RegionCode:   "35",
		YearMonth:    "2401",
		IssuerCNPJ:   "11444777000161",
		Model:        model,
		Series:       1,
		Number:       1234,
		EmissionType: identifier.EmissionNormal,
		Code:         12345678,
	})
	require.NoError(t, err)
	return key
}

func sampleDocument(category docdomain.Category, key string) connector.DocumentFields {
	return connector.DocumentFields{
		Category:      category,
		AccessKey:     key,
		Number:        1234,
		Series:        1,
		IssuedAt:      time.Date(2024, 1, 15, 13, 30, 0, 0, time.UTC),
		IssuerCNPJ:    "11444777000161",
		IssuerName:    "Fornecedor Ltda",
		RecipientCNPJ: "11222333000181",
		RecipientName: "Cliente SA",
		Total:         decimal.RequireFromString("1500.40"),
		Status:        docdomain.StatusAuthorized,
	}
}

func TestEncodeDecodeKeyedDocuments(t *testing.T) {
	for _, category := range []docdomain.Category{
		docdomain.CategoryNFe,
		docdomain.CategoryNFCe,
		docdomain.CategoryCTe,
		docdomain.CategoryMDFe,
	} {
		t.Run(string(category), func(t *testing.T) {
			in := sampleDocument(category, keyFor(t, category.Model()))
			content, err := EncodeDocument(in, "135240000000001")
			require.NoError(t, err)

			item, err := Decode(content)
			require.NoError(t, err)
			require.NotNil(t, item.Document)
			require.Nil(t, item.Event)

			got := item.Document
			assert.Equal(t, category, got.Category)
			assert.Equal(t, in.AccessKey, got.AccessKey)
			assert.Equal(t, int64(1234), got.Number)
			assert.Equal(t, 1, got.Series)
			assert.True(t, in.IssuedAt.Equal(got.IssuedAt))
			assert.Equal(t, "11444777000161", got.IssuerCNPJ)
			assert.True(t, in.Total.Equal(got.Total))
			assert.Equal(t, docdomain.StatusAuthorized, got.Status)
			assert.Equal(t, content, got.Content)
			if category != docdomain.CategoryMDFe {
				assert.Equal(t, "11222333000181", got.RecipientCNPJ)
			}
		})
	}
}

func TestDecodeNFSe(t *testing.T) {
	in := sampleDocument(docdomain.CategoryNFSe, "")
	in.Status = docdomain.StatusCancelled
	content, err := EncodeDocument(in, "ABC123")
	require.NoError(t, err)

	item, err := Decode(content)
	require.NoError(t, err)
	require.NotNil(t, item.Document)
	assert.Equal(t, docdomain.CategoryNFSe, item.Document.Category)
	assert.Empty(t, item.Document.AccessKey)
	assert.Equal(t, "NFSE-11444777000161-1234", item.Document.ExternalID)
	assert.Equal(t, docdomain.StatusCancelled, item.Document.Status)
}

func TestDecodeResNFe(t *testing.T) {
	content := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<resNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">
  <chNFe>` + nfeKey + `</chNFe>
  <CNPJ>11444777000161</CNPJ>
  <xNome>Fornecedor Ltda</xNome>
  <IE>123456789</IE>
  <dhEmi>2024-01-15T10:30:00-03:00</dhEmi>
  <tpNF>1</tpNF>
  <vNF>99.90</vNF>
  <digVal>abc=</digVal>
  <dhRecbto>2024-01-15T10:31:00-03:00</dhRecbto>
  <nProt>135240000000001</nProt>
  <cSitNFe>3</cSitNFe>
</resNFe>`)

	item, err := Decode(content)
	require.NoError(t, err)
	require.NotNil(t, item.Document)
	doc := item.Document
	assert.True(t, doc.Summary)
	assert.Equal(t, docdomain.CategoryNFe, doc.Category)
	assert.Equal(t, docdomain.StatusCancelled, doc.Status)
	assert.Equal(t, int64(1234), doc.Number)
	assert.Equal(t, time.Date(2024, 1, 15, 13, 30, 0, 0, time.UTC), doc.IssuedAt)
	assert.Equal(t, "99.9", doc.Total.String())
}

func TestEncodeDecodeEvents(t *testing.T) {
	for _, category := range []docdomain.Category{docdomain.CategoryNFe, docdomain.CategoryCTe, docdomain.CategoryMDFe} {
		t.Run(string(category), func(t *testing.T) {
			key := keyFor(t, category.Model())
			content, err := EncodeEvent(category, connector.EventFields{
				AccessKey:   key,
				Code:        "110111",
				OccurredAt:  time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC),
				Protocol:    "135240000000002",
				Sequence:    1,
				Description: "Cancelamento",
			})
			require.NoError(t, err)

			item, err := Decode(content)
			require.NoError(t, err)
			require.NotNil(t, item.Event)
			ev := item.Event
			assert.Equal(t, key, ev.AccessKey)
			assert.Equal(t, docdomain.EventCancellation, ev.Type)
			assert.Equal(t, "135240000000002", ev.Protocol)
			assert.Equal(t, 1, ev.Sequence)
		})
	}
}

func TestDecodeResEventoKeepsUnknownCodes(t *testing.T) {
	content := []byte(`<resEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">
  <cOrgao>91</cOrgao>
  <CNPJ>11444777000161</CNPJ>
  <chNFe>` + nfeKey + `</chNFe>
  <dhEvento>2024-01-16T09:00:00-03:00</dhEvento>
  <tpEvento>610600</tpEvento>
  <nSeqEvento>1</nSeqEvento>
  <xEvento>Registro de Passagem</xEvento>
  <nProt>135240000000003</nProt>
</resEvento>`)

	item, err := Decode(content)
	require.NoError(t, err)
	require.NotNil(t, item.Event)
	assert.Equal(t, docdomain.EventType("evento_610600"), item.Event.Type)
	assert.Equal(t, "Registro de Passagem", item.Event.Description)
}

func TestDecodeRejectsUnknownSchemaAndBadKeys(t *testing.T) {
	_, err := Decode([]byte(`<retDistDFeInt/>`))
	assert.ErrorIs(t, err, ErrUnknownSchema)

	_, err = Decode([]byte(`<resNFe><chNFe>35240111444777000161550010000012341123456780</chNFe></resNFe>`))
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = Decode([]byte(`not xml`))
	assert.Error(t, err)
}

func TestZipRoundTrip(t *testing.T) {
	content := []byte(strings.Repeat("<nfeProc/>", 10))
	encoded, err := Zip(content)
	require.NoError(t, err)

	decoded, err := Unzip(encoded)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)

	_, err = Unzip("%%%")
	assert.Error(t, err)
}

func TestPrintData(t *testing.T) {
	content, err := EncodeDocument(sampleDocument(docdomain.CategoryNFe, nfeKey), "135240000000001")
	require.NoError(t, err)

	data, err := PrintData(content, docdomain.CategoryNFe)
	require.NoError(t, err)
	assert.Equal(t, nfeKey, data.AccessKey)
	assert.Equal(t, "11.444.777/0001-61", data.IssuerCNPJ)
	assert.Equal(t, "R$ 1500.40", data.Total)
	assert.Equal(t, "15/01/2024 10:30", data.IssueDate)

	_, err = PrintData(content, docdomain.CategoryCTe)
	assert.Error(t, err)
}

func TestProtocolNumber(t *testing.T) {
	got := ProtocolNumber("35", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), 42)
	assert.Equal(t, "135240100000042", got)
	assert.Len(t, got, 15)
}
