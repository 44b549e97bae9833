// Package sandbox is a deterministic in-process connector. It fabricates a
// stable document stream per company so the full sync pipeline can run
// without an authority or certificate hardware.
package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/connector/dfe"
	connector "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
	"go.uber.org/zap"
)

const (
	Name = "sandbox"

	// BatchSize is how many new NSUs one Sync call delivers.
	BatchSize = 5
	// StreamLength caps the NSUs a company will ever see.
	StreamLength = 50
	// cancelEvery turns every Nth NSU into a cancellation of NSU-1.
	cancelEvery = 4
)

// epoch anchors issue dates so every run fabricates identical payloads.
var epoch = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

type Connector struct {
	category docdomain.Category
	log      *zap.Logger
	clock    clock.Clock
	renderer pdf.Provider

	cert *certdomain.Certificate
}

func New(category docdomain.Category, _ config.ConnectorConfig, deps connector.Deps) (connector.Connector, error) {
	if _, ok := docdomain.ParseCategory(string(category)); !ok {
		return nil, connector.ErrUnsupportedCategory
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = pdf.New()
	}
	return &Connector{
		category: category,
		log:      log.Named("connector.sandbox").With(zap.String("category", string(category))),
		clock:    clk,
		renderer: renderer,
	}, nil
}

func (c *Connector) Name() string { return Name }

func (c *Connector) Category() docdomain.Category { return c.category }

// Connect accepts A1 and A3 certificates alike; no key material is used.
func (c *Connector) Connect(ctx context.Context, cert certdomain.Certificate, _ *certdomain.Credential) error {
	if err := connector.CheckCertificate(cert, c.clock.Now()); err != nil {
		return err
	}
	c.cert = &cert
	return nil
}

func (c *Connector) Healthcheck(ctx context.Context) connector.Health {
	return connector.Health{
		Connector: Name,
		Category:  c.category,
		Status:    connector.HealthUp,
		Detail:    "in-process",
		CheckedAt: c.clock.Now().UTC(),
	}
}

// Sync returns up to BatchSize NSUs after cursorStart, newest first, the way
// the distribution service pages.
func (c *Connector) Sync(ctx context.Context, company connector.Company, cursorStart int64) (connector.SyncResult, error) {
	if c.cert == nil {
		return connector.SyncResult{}, connector.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return connector.SyncResult{}, err
	}

	result := connector.SyncResult{CursorEnd: cursorStart}
	last := cursorStart + BatchSize
	if last > StreamLength {
		last = StreamLength
	}

	for nsu := last; nsu > cursorStart; nsu-- {
		if c.isCancellation(nsu) {
			ev, err := c.event(company, nsu)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("nsu %d: %v", nsu, err))
				continue
			}
			result.Events = append(result.Events, ev)
		} else {
			doc, err := c.document(company, nsu)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("nsu %d: %v", nsu, err))
				continue
			}
			result.Documents = append(result.Documents, doc)
		}
		if nsu > result.CursorEnd {
			result.CursorEnd = nsu
		}
	}
	result.DocsFound = len(result.Documents)

	c.log.Debug("sandbox sync",
		zap.String("company_id", company.ID.String()),
		zap.Int64("cursor_start", cursorStart),
		zap.Int64("cursor_end", result.CursorEnd),
		zap.Int("documents", len(result.Documents)),
		zap.Int("events", len(result.Events)),
	)
	return result, nil
}

func (c *Connector) FetchDocument(ctx context.Context, company connector.Company, accessKey string) (*connector.DocumentFields, error) {
	if c.cert == nil {
		return nil, connector.ErrNotConnected
	}
	if !c.category.Keyed() {
		return nil, connector.ErrUnsupportedOperation
	}
	if !identifier.ValidateAccessKey(accessKey) {
		return nil, connector.ErrInvalidAccessKey
	}
	nsu, ok := c.lookup(company, accessKey)
	if !ok {
		return nil, connector.ErrDocumentNotFound
	}
	doc, err := c.document(company, nsu)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Connector) FetchEvents(ctx context.Context, company connector.Company, accessKey string) ([]connector.EventFields, error) {
	if c.cert == nil {
		return nil, connector.ErrNotConnected
	}
	if !c.category.Keyed() {
		return nil, connector.ErrUnsupportedOperation
	}
	if !identifier.ValidateAccessKey(accessKey) {
		return nil, connector.ErrInvalidAccessKey
	}
	nsu, ok := c.lookup(company, accessKey)
	if !ok {
		return nil, connector.ErrDocumentNotFound
	}
	if !c.isCancellation(nsu + 1) {
		return []connector.EventFields{}, nil
	}
	ev, err := c.event(company, nsu+1)
	if err != nil {
		return nil, err
	}
	return []connector.EventFields{ev}, nil
}

func (c *Connector) RenderDocument(ctx context.Context, content []byte, category docdomain.Category) ([]byte, error) {
	data, err := dfe.PrintData(content, category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrMalformedResponse, err)
	}
	return c.renderer.RenderDocument(ctx, data)
}

func (c *Connector) isCancellation(nsu int64) bool {
	return c.category != docdomain.CategoryNFSe && nsu%cancelEvery == 0 && nsu <= StreamLength
}

// lookup finds the NSU whose document carries accessKey.
func (c *Connector) lookup(company connector.Company, accessKey string) (int64, bool) {
	parsed, ok := identifier.ParseAccessKey(accessKey)
	if !ok || parsed.Model != c.category.Model() {
		return 0, false
	}
	nsu := int64(parsed.Number)
	if nsu < 1 || nsu > StreamLength || c.isCancellation(nsu) {
		return 0, false
	}
	key, err := c.accessKey(company, nsu)
	if err != nil || key != accessKey {
		return 0, false
	}
	return nsu, true
}

func issuedAt(nsu int64) time.Time {
	return epoch.Add(time.Duration(nsu) * 6 * time.Hour)
}

// counterpart derives a stable supplier CNPJ from the company and NSU.
func counterpart(company connector.Company, nsu int64) string {
	root := company.CNPJ
	if len(root) >= 8 {
		root = root[:8]
	}
	seed, _ := strconv.ParseInt(root, 10, 64)
	base := fmt.Sprintf("%08d%04d", (seed*31+nsu*7919)%100_000_000, 1)
	cnpj, _ := identifier.CompleteCNPJ(base)
	return cnpj
}

func (c *Connector) issuer(company connector.Company, nsu int64) (cnpj, name string) {
	if nsu%3 == 0 {
		return company.CNPJ, "Empresa " + identifier.FormatCNPJ(company.CNPJ)
	}
	cnpj = counterpart(company, nsu)
	return cnpj, "Fornecedor " + cnpj[:8]
}

func (c *Connector) accessKey(company connector.Company, nsu int64) (string, error) {
	region, ok := identifier.RegionCode(company.UF)
	if !ok {
		region = identifier.RegionAmbienteNacional
	}
	issuerCNPJ, _ := c.issuer(company, nsu)
	return identifier.DeriveAccessKey(identifier.AccessKeyFields{
		RegionCode:   region,
		YearMonth:    issuedAt(nsu).Format("0601"),
		IssuerCNPJ:   issuerCNPJ,
		Model:        c.category.Model(),
		Series:       1,
		Number:       int(nsu),
		EmissionType: identifier.EmissionNormal,
		Code:         int(nsu * 7919 % 100_000_000),
	})
}

func (c *Connector) document(company connector.Company, nsu int64) (connector.DocumentFields, error) {
	issuerCNPJ, issuerName := c.issuer(company, nsu)
	recipientCNPJ, recipientName := company.CNPJ, "Empresa "+identifier.FormatCNPJ(company.CNPJ)
	if issuerCNPJ == company.CNPJ {
		recipientCNPJ = counterpart(company, nsu)
		recipientName = "Cliente " + recipientCNPJ[:8]
	}

	fields := connector.DocumentFields{
		Category:      c.category,
		Number:        nsu,
		Series:        1,
		IssuedAt:      issuedAt(nsu),
		IssuerCNPJ:    issuerCNPJ,
		IssuerName:    issuerName,
		RecipientCNPJ: recipientCNPJ,
		RecipientName: recipientName,
		Total:         decimal.New(nsu*12345, -2),
		Status:        docdomain.StatusAuthorized,
	}
	if c.category.Keyed() {
		key, err := c.accessKey(company, nsu)
		if err != nil {
			return connector.DocumentFields{}, err
		}
		fields.AccessKey = key
	}

	region, _ := identifier.RegionCode(company.UF)
	content, err := dfe.EncodeDocument(fields, dfe.ProtocolNumber(region, fields.IssuedAt, nsu))
	if err != nil {
		return connector.DocumentFields{}, err
	}
	// Round trip through the wire format so sandbox output matches what a
	// real distribution payload decodes to.
	item, err := c.roundTrip(content)
	if err != nil {
		return connector.DocumentFields{}, err
	}
	if item.Document == nil {
		return connector.DocumentFields{}, dfe.ErrUnknownSchema
	}
	item.Document.Cursor = nsu
	return *item.Document, nil
}

func (c *Connector) event(company connector.Company, nsu int64) (connector.EventFields, error) {
	key, err := c.accessKey(company, nsu-1)
	if err != nil {
		return connector.EventFields{}, err
	}
	region, _ := identifier.RegionCode(company.UF)
	occurred := issuedAt(nsu).Add(-time.Hour)
	content, err := dfe.EncodeEvent(c.category, connector.EventFields{
		AccessKey:   key,
		Code:        "110111",
		OccurredAt:  occurred,
		Protocol:    dfe.ProtocolNumber(region, occurred, nsu),
		Sequence:    1,
		Description: "Cancelamento",
	})
	if err != nil {
		return connector.EventFields{}, err
	}
	item, err := c.roundTrip(content)
	if err != nil {
		return connector.EventFields{}, err
	}
	if item.Event == nil {
		return connector.EventFields{}, dfe.ErrUnknownSchema
	}
	item.Event.Cursor = nsu
	return *item.Event, nil
}

func (c *Connector) roundTrip(content []byte) (dfe.Item, error) {
	zipped, err := dfe.Zip(content)
	if err != nil {
		return dfe.Item{}, err
	}
	raw, err := dfe.Unzip(zipped)
	if err != nil {
		return dfe.Item{}, err
	}
	return dfe.Decode(raw)
}
