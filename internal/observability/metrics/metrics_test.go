package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("category", "NFE"),
		attribute.String("company_id", "456"),
		attribute.String("direction", "received"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "company_id" {
			t.Fatalf("expected company_id to be dropped")
		}
	}
}

func TestMetricsRecordOnNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordDocumentIngested(ctx, "NFE", "received")
	m.RecordEventIngested(ctx, "cancelamento")
	m.RecordCertificateUpload(ctx, "A1", "accepted")
	m.RecordConnectorCall(ctx, "sandbox", "sync", "ok")
	m.RecordExportBytes(ctx, 1024)

	var nilMetrics *Metrics
	nilMetrics.RecordDocumentIngested(ctx, "NFE", "issued")
}
