package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes fiscal ingestion instruments exported over OTLP.
type Metrics struct {
	documentsIngested  metric.Int64Counter
	eventsIngested     metric.Int64Counter
	certificateUploads metric.Int64Counter
	connectorCalls     metric.Int64Counter
	exportBytes        metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fiscalsync"
	}
	meter := provider.Meter(name)

	documentsIngested, err := meter.Int64Counter("fiscalsync_documents_ingested_total",
		metric.WithDescription("Fiscal documents persisted by sync runs."))
	if err != nil {
		return nil, err
	}
	eventsIngested, err := meter.Int64Counter("fiscalsync_events_ingested_total",
		metric.WithDescription("Fiscal events attached to persisted documents."))
	if err != nil {
		return nil, err
	}
	certificateUploads, err := meter.Int64Counter("fiscalsync_certificate_uploads_total")
	if err != nil {
		return nil, err
	}
	connectorCalls, err := meter.Int64Counter("fiscalsync_connector_calls_total")
	if err != nil {
		return nil, err
	}
	exportBytes, err := meter.Int64Counter("fiscalsync_export_bytes_total", metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		documentsIngested:  documentsIngested,
		eventsIngested:     eventsIngested,
		certificateUploads: certificateUploads,
		connectorCalls:     connectorCalls,
		exportBytes:        exportBytes,
	}, nil
}

// RecordDocumentIngested counts a persisted document.
func (m *Metrics) RecordDocumentIngested(ctx context.Context, category, direction string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("category", strings.TrimSpace(category)),
		attribute.String("direction", strings.TrimSpace(direction)),
	)
	m.documentsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEventIngested(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.eventsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCertificateUpload(ctx context.Context, class, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("class", strings.TrimSpace(class)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.certificateUploads.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConnectorCall counts one connector operation and its outcome category.
func (m *Metrics) RecordConnectorCall(ctx context.Context, connector, operation, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("connector", strings.TrimSpace(connector)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.connectorCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordExportBytes(ctx context.Context, size int64) {
	if m == nil || size <= 0 {
		return
	}
	m.exportBytes.Add(ctx, size)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Company and account ids are left out on purpose; they are unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"category":    {},
	"direction":   {},
	"event_type":  {},
	"class":       {},
	"outcome":     {},
	"connector":   {},
	"operation":   {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
