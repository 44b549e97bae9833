// Package domain defines the capability set every fiscal connector offers and
// the records they exchange with the sync orchestrator.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
)

// Company is the slice of the company record a connector needs.
type Company struct {
	ID        snowflake.ID
	AccountID string
	CNPJ      string
	UF        string
}

// DocumentFields is one document as delivered by the authority.
type DocumentFields struct {
	Cursor        int64
	Category      docdomain.Category
	AccessKey     string
	ExternalID    string
	Number        int64
	Series        int
	IssuedAt      time.Time
	IssuerCNPJ    string
	IssuerName    string
	RecipientCNPJ string
	RecipientName string
	Total         decimal.Decimal
	Status        docdomain.Status
	// Summary marks a resNFe-style digest delivered before the full XML.
	Summary bool
	Content []byte
}

// EventFields is one event attached to a document by access key.
type EventFields struct {
	Cursor      int64
	AccessKey   string
	Code        string
	Type        docdomain.EventType
	OccurredAt  time.Time
	Protocol    string
	Sequence    int
	Description string
	Content     []byte
}

type SyncResult struct {
	CursorEnd   int64
	Documents   []DocumentFields
	Events      []EventFields
	DocsFound   int
	DocsSaved   int
	EventsSaved int
	// Errors collects per-item problems that did not fail the batch.
	Errors []string
}

type HealthStatus string

const (
	HealthUp       HealthStatus = "up"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

type Health struct {
	Connector string             `json:"connector"`
	Category  docdomain.Category `json:"category"`
	Status    HealthStatus       `json:"status"`
	Latency   time.Duration      `json:"latency"`
	Detail    string             `json:"detail,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
}

type Connector interface {
	Name() string
	Category() docdomain.Category

	// Connect binds the session to a certificate. It fails with an auth error
	// when the certificate is not currently active. material is nil or
	// keyless for A3 certificates.
	Connect(ctx context.Context, cert certdomain.Certificate, material *certdomain.Credential) error
	Healthcheck(ctx context.Context) Health
	// Sync returns documents and events with cursor > cursorStart.
	// CursorEnd equals cursorStart when nothing new exists.
	Sync(ctx context.Context, company Company, cursorStart int64) (SyncResult, error)
	FetchDocument(ctx context.Context, company Company, accessKey string) (*DocumentFields, error)
	FetchEvents(ctx context.Context, company Company, accessKey string) ([]EventFields, error)
	RenderDocument(ctx context.Context, content []byte, category docdomain.Category) ([]byte, error)
}

// CheckCertificate is the shared Connect precondition.
func CheckCertificate(cert certdomain.Certificate, now time.Time) error {
	switch {
	case cert.ID == 0:
		return ErrNoCertificate
	case cert.Status == certdomain.StatusRevoked:
		return ErrCertificateRevoked
	case !cert.IsActive(now):
		return ErrCertificateInactive
	}
	return nil
}
