package domain

import (
	"crypto/x509"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
	"go.uber.org/zap"
)

// Deps are the collaborators shared by every connector instance.
type Deps struct {
	Log      *zap.Logger
	Clock    clock.Clock
	Renderer pdf.Provider
	// RootCAs overrides the system pool when verifying the authority.
	RootCAs *x509.CertPool
}

// Factory builds a fresh, unconnected connector for one category.
type Factory func(category docdomain.Category, cfg config.ConnectorConfig, deps Deps) (Connector, error)
