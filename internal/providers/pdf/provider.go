package pdf

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("pdf.provider",
	fx.Provide(New),
)

// Provider renders human-readable summaries of fiscal documents.
type Provider interface {
	RenderDocument(ctx context.Context, data DocumentData) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) RenderDocument(ctx context.Context, data DocumentData) ([]byte, error) {
	return nil, nil
}
