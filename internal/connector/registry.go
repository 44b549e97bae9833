// Package connector selects and instruments the fiscal connector serving
// each document category.
package connector

import (
	"context"
	"crypto/x509"
	"sync"

	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/connector/domain"
	"github.com/smallbiznis/fiscalsync/internal/connector/sandbox"
	"github.com/smallbiznis/fiscalsync/internal/connector/sefaz"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/observability/tracing"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   *config.ConnectorConfigHolder
	Renderer pdf.Provider
	Metrics  *metrics.Metrics `optional:"true"`
	RootCAs  *x509.CertPool   `optional:"true"`
}

// Registry maps categories to connector factories through the hot-reloaded
// connectors.yml. Every Open builds a fresh instance so concurrent sync runs
// share no session state.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]domain.Factory

	config  *config.ConnectorConfigHolder
	deps    domain.Deps
	metrics *metrics.Metrics
	log     *zap.Logger
	tracer  trace.Tracer
}

func NewRegistry(p Params) *Registry {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	r := &Registry{
		factories: map[string]domain.Factory{},
		config:    p.Config,
		deps: domain.Deps{
			Log:      log,
			Clock:    clk,
			Renderer: p.Renderer,
			RootCAs:  p.RootCAs,
		},
		metrics: p.Metrics,
		log:     log.Named("connector.registry"),
		tracer:  otel.Tracer("fiscalsync/connector"),
	}
	r.Register(config.ConnectorDriverSandbox, sandbox.New)
	r.Register(config.ConnectorDriverSefaz, sefaz.New)
	return r
}

// Register installs or replaces the factory for a driver name.
func (r *Registry) Register(driver string, factory domain.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Open builds the connector configured for category.
func (r *Registry) Open(category docdomain.Category) (domain.Connector, error) {
	cfg, ok := r.config.Get().Category(string(category))
	if !ok || !cfg.Enabled {
		return nil, fiscalerr.WithMessage(domain.ErrCategoryDisabled, "document category "+string(category)+" is disabled")
	}

	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fiscalerr.WithMessage(domain.ErrUnknownDriver, "no connector registered for driver "+cfg.Driver)
	}

	conn, err := factory(category, cfg, r.deps)
	if err != nil {
		return nil, err
	}
	return &instrumented{next: conn, tracer: r.tracer, metrics: r.metrics}, nil
}

// EnabledCategories lists the categories with an enabled connector, in
// canonical order.
func (r *Registry) EnabledCategories() []docdomain.Category {
	enabled := map[string]bool{}
	for _, name := range r.config.Get().EnabledCategories() {
		enabled[name] = true
	}
	out := make([]docdomain.Category, 0, len(enabled))
	for _, c := range docdomain.Categories {
		if enabled[string(c)] {
			out = append(out, c)
		}
	}
	return out
}

// HealthAll probes every enabled connector concurrently.
func (r *Registry) HealthAll(ctx context.Context) []domain.Health {
	categories := r.EnabledCategories()
	out := make([]domain.Health, len(categories))

	var wg sync.WaitGroup
	for i, category := range categories {
		wg.Add(1)
		go func(i int, category docdomain.Category) {
			defer wg.Done()
			conn, err := r.Open(category)
			if err != nil {
				out[i] = domain.Health{
					Category:  category,
					Status:    domain.HealthDown,
					Detail:    fiscalerr.As(err).Code,
					CheckedAt: r.deps.Clock.Now().UTC(),
				}
				return
			}
			out[i] = conn.Healthcheck(ctx)
		}(i, category)
	}
	wg.Wait()

	return out
}

// instrumented wraps a connector with a span and a call counter per
// operation.
type instrumented struct {
	next    domain.Connector
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

func (c *instrumented) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "connector."+op, trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("connector.name", c.next.Name()),
		attribute.String("connector.category", string(c.next.Category())),
	)...))
}

func (c *instrumented) end(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(fiscalerr.CategoryOf(err))
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, outcome)
	}
	c.metrics.RecordConnectorCall(ctx, c.next.Name(), op, outcome)
	span.End()
}

func (c *instrumented) Name() string { return c.next.Name() }

func (c *instrumented) Category() docdomain.Category { return c.next.Category() }

func (c *instrumented) Connect(ctx context.Context, cert certdomain.Certificate, material *certdomain.Credential) (err error) {
	ctx, span := c.start(ctx, "connect")
	defer func() { c.end(ctx, span, "connect", err) }()
	return c.next.Connect(ctx, cert, material)
}

func (c *instrumented) Healthcheck(ctx context.Context) domain.Health {
	ctx, span := c.start(ctx, "healthcheck")
	defer span.End()
	health := c.next.Healthcheck(ctx)
	span.SetAttributes(attribute.String("connector.health", string(health.Status)))
	return health
}

func (c *instrumented) Sync(ctx context.Context, company domain.Company, cursorStart int64) (res domain.SyncResult, err error) {
	ctx, span := c.start(ctx, "sync")
	span.SetAttributes(attribute.Int64("connector.cursor_start", cursorStart))
	defer func() {
		span.SetAttributes(
			attribute.Int64("connector.cursor_end", res.CursorEnd),
			attribute.Int("connector.documents", len(res.Documents)),
			attribute.Int("connector.events", len(res.Events)),
		)
		c.end(ctx, span, "sync", err)
	}()
	return c.next.Sync(ctx, company, cursorStart)
}

func (c *instrumented) FetchDocument(ctx context.Context, company domain.Company, accessKey string) (doc *domain.DocumentFields, err error) {
	ctx, span := c.start(ctx, "fetch_document")
	defer func() { c.end(ctx, span, "fetch_document", err) }()
	return c.next.FetchDocument(ctx, company, accessKey)
}

func (c *instrumented) FetchEvents(ctx context.Context, company domain.Company, accessKey string) (events []domain.EventFields, err error) {
	ctx, span := c.start(ctx, "fetch_events")
	defer func() { c.end(ctx, span, "fetch_events", err) }()
	return c.next.FetchEvents(ctx, company, accessKey)
}

func (c *instrumented) RenderDocument(ctx context.Context, content []byte, category docdomain.Category) (out []byte, err error) {
	ctx, span := c.start(ctx, "render_document")
	defer func() { c.end(ctx, span, "render_document", err) }()
	return c.next.RenderDocument(ctx, content, category)
}
