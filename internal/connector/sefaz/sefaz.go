// Package sefaz talks to the national DF-e distribution web services over
// SOAP 1.2 with mutual TLS from the company's A1 certificate.
package sefaz

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

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

const Name = "sefaz"

type Connector struct {
	category docdomain.Category
	cfg      config.ConnectorConfig
	endpoint endpoint
	deps     connector.Deps
	log      *zap.Logger
	clock    clock.Clock
	renderer pdf.Provider

	client *client
}

func New(category docdomain.Category, cfg config.ConnectorConfig, deps connector.Deps) (connector.Connector, error) {
	ep, ok := endpoints[category]
	if !ok {
		return nil, connector.ErrUnsupportedCategory
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("sefaz: category %s has no endpoint", category)
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
		cfg:      cfg,
		endpoint: ep,
		deps:     deps,
		log:      log.Named("connector.sefaz").With(zap.String("category", string(category))),
		clock:    clk,
		renderer: renderer,
	}, nil
}

func (c *Connector) Name() string { return Name }

func (c *Connector) Category() docdomain.Category { return c.category }

func (c *Connector) environmentCode() int {
	if c.cfg.Environment == config.ConnectorEnvProduction {
		return 1
	}
	return 2
}

func (c *Connector) tlsConfig(certs []tls.Certificate) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: certs,
		RootCAs:      c.deps.RootCAs,
	}
}

// Connect binds the A1 key pair. Hardware-held A3 keys cannot sign the TLS
// handshake from this process.
func (c *Connector) Connect(ctx context.Context, cert certdomain.Certificate, material *certdomain.Credential) error {
	if err := connector.CheckCertificate(cert, c.clock.Now()); err != nil {
		return err
	}
	if cert.Class == certdomain.ClassA3 || material == nil || !material.HasKeyMaterial() {
		return connector.ErrHardwareUnsupported
	}

	c.client = &client{
		http: &http.Client{
			Timeout:   c.cfg.Timeout,
			Transport: &http.Transport{TLSClientConfig: c.tlsConfig([]tls.Certificate{material.TLS})},
		},
		url:      c.cfg.Endpoint,
		endpoint: c.endpoint,
	}
	c.log.Debug("connected", zap.String("certificate_id", cert.ID.String()), zap.String("fingerprint", material.Fingerprint))
	return nil
}

// Healthcheck probes the endpoint without client credentials. Any HTTP
// answer below 500 means the service is reachable.
func (c *Connector) Healthcheck(ctx context.Context) connector.Health {
	health := connector.Health{Connector: Name, Category: c.category}
	probe := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{TLSClientConfig: c.tlsConfig(nil)},
	}

	started := c.clock.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err == nil {
		var resp *http.Response
		resp, err = probe.Do(req)
		if err == nil {
			resp.Body.Close()
			switch {
			case resp.StatusCode >= 500:
				health.Status = connector.HealthDegraded
				health.Detail = resp.Status
			default:
				health.Status = connector.HealthUp
			}
		}
	}
	if err != nil {
		health.Status = connector.HealthDown
		health.Detail = err.Error()
	}
	health.CheckedAt = c.clock.Now().UTC()
	health.Latency = health.CheckedAt.Sub(started)
	return health
}

func (c *Connector) request(company connector.Company) (distDFeInt, error) {
	cnpj := identifier.NormalizeCNPJ(company.CNPJ)
	if !identifier.ValidateCNPJ(cnpj) {
		return distDFeInt{}, fmt.Errorf("sefaz: company %s has an invalid CNPJ", company.ID)
	}
	region, ok := identifier.RegionCode(company.UF)
	if !ok {
		region = identifier.RegionAmbienteNacional
	}
	return distDFeInt{TpAmb: c.environmentCode(), CUFAutor: region, CNPJ: cnpj}, nil
}

// Sync pages distNSU from cursorStart until ultNSU reaches maxNSU or the
// configured page limit. A failed page fails the whole call so the caller
// never persists a cursor past unseen documents.
func (c *Connector) Sync(ctx context.Context, company connector.Company, cursorStart int64) (connector.SyncResult, error) {
	if c.client == nil {
		return connector.SyncResult{}, connector.ErrNotConnected
	}
	base, err := c.request(company)
	if err != nil {
		return connector.SyncResult{}, err
	}

	result := connector.SyncResult{CursorEnd: cursorStart}
	cursor := cursorStart
	for page := 0; page < c.cfg.MaxPages; page++ {
		msg := base
		msg.DistNSU = &nsuQuery{UltNSU: formatNSU(cursor)}

		ret, err := c.client.call(ctx, msg)
		if err != nil {
			return connector.SyncResult{}, err
		}

		switch ret.CStat {
		case statusNoDocuments:
			return c.finish(company, result), nil
		case statusDocuments:
		default:
			return connector.SyncResult{}, classify(ret)
		}

		c.collect(ret, cursor, &result)
		if next := ret.ultNSU(); next > cursor {
			cursor = next
		} else {
			break
		}
		if cursor > result.CursorEnd {
			result.CursorEnd = cursor
		}
		if cursor >= ret.maxNSU() {
			break
		}
	}
	return c.finish(company, result), nil
}

func (c *Connector) finish(company connector.Company, result connector.SyncResult) connector.SyncResult {
	result.DocsFound = len(result.Documents)
	c.log.Info("distribution synced",
		zap.String("company_id", company.ID.String()),
		zap.Int64("cursor_end", result.CursorEnd),
		zap.Int("documents", len(result.Documents)),
		zap.Int("events", len(result.Events)),
		zap.Int("item_errors", len(result.Errors)),
	)
	return result
}

// collect decodes a page. Items at or below cursor are dropped; undecodable
// items are reported without failing the page.
func (c *Connector) collect(ret *retDistDFeInt, cursor int64, result *connector.SyncResult) {
	for _, z := range ret.Lote.DocZip {
		nsu := parseNSU(z.NSU)
		if nsu <= cursor {
			continue
		}
		item, err := decodeDocZip(z)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("nsu %d (%s): %v", nsu, z.Schema, err))
			continue
		}
		if item.Document != nil {
			item.Document.Cursor = nsu
			result.Documents = append(result.Documents, *item.Document)
		}
		if item.Event != nil {
			item.Event.Cursor = nsu
			result.Events = append(result.Events, *item.Event)
		}
		if nsu > result.CursorEnd {
			result.CursorEnd = nsu
		}
	}
}

func decodeDocZip(z docZip) (dfe.Item, error) {
	raw, err := dfe.Unzip(z.Value)
	if err != nil {
		return dfe.Item{}, err
	}
	return dfe.Decode(raw)
}

// lookup queries consChNFe; only the NF-e family supports key queries.
func (c *Connector) lookup(ctx context.Context, company connector.Company, accessKey string) ([]dfe.Item, error) {
	if c.client == nil {
		return nil, connector.ErrNotConnected
	}
	if c.category != docdomain.CategoryNFe && c.category != docdomain.CategoryNFCe {
		return nil, connector.ErrUnsupportedOperation
	}
	if !identifier.ValidateAccessKey(accessKey) {
		return nil, connector.ErrInvalidAccessKey
	}
	msg, err := c.request(company)
	if err != nil {
		return nil, err
	}
	msg.ConsChNFe = &consChave{ChNFe: accessKey}

	ret, err := c.client.call(ctx, msg)
	if err != nil {
		return nil, err
	}
	switch ret.CStat {
	case statusDocuments:
	case statusNoDocuments, 632, 640, 653, 654:
		return nil, connector.ErrDocumentNotFound
	default:
		return nil, classify(ret)
	}

	items := make([]dfe.Item, 0, len(ret.Lote.DocZip))
	var errs []error
	for _, z := range ret.Lote.DocZip {
		item, err := decodeDocZip(z)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, errors.Join(connector.ErrMalformedResponse, errors.Join(errs...))
	}
	return items, nil
}

func (c *Connector) FetchDocument(ctx context.Context, company connector.Company, accessKey string) (*connector.DocumentFields, error) {
	items, err := c.lookup(ctx, company, accessKey)
	if err != nil {
		return nil, err
	}
	// Prefer the full processed XML over a digest.
	var found *connector.DocumentFields
	for _, item := range items {
		doc := item.Document
		if doc == nil || doc.AccessKey != accessKey {
			continue
		}
		if found == nil || (found.Summary && !doc.Summary) {
			found = doc
		}
	}
	if found == nil {
		return nil, connector.ErrDocumentNotFound
	}
	return found, nil
}

func (c *Connector) FetchEvents(ctx context.Context, company connector.Company, accessKey string) ([]connector.EventFields, error) {
	items, err := c.lookup(ctx, company, accessKey)
	if err != nil {
		if errors.Is(err, connector.ErrDocumentNotFound) {
			return []connector.EventFields{}, nil
		}
		return nil, err
	}
	events := make([]connector.EventFields, 0, len(items))
	for _, item := range items {
		if item.Event != nil && item.Event.AccessKey == accessKey {
			events = append(events, *item.Event)
		}
	}
	return events, nil
}

func (c *Connector) RenderDocument(ctx context.Context, content []byte, category docdomain.Category) ([]byte, error) {
	data, err := dfe.PrintData(content, category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrMalformedResponse, err)
	}
	return c.renderer.RenderDocument(ctx, data)
}
