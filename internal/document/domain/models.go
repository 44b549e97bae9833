package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryNFe  Category = "NFE"
	CategoryNFCe Category = "NFCE"
	CategoryCTe  Category = "CTE"
	CategoryMDFe Category = "MDFE"
	CategoryNFSe Category = "NFSE"
)

var Categories = []Category{CategoryNFe, CategoryNFCe, CategoryCTe, CategoryMDFe, CategoryNFSe}

// ParseCategory accepts the category name in any case, with or without the
// hyphen ("nf-e", "NFe").
func ParseCategory(value string) (Category, bool) {
	normalized := Category(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(value), "-", "")))
	for _, c := range Categories {
		if c == normalized {
			return c, true
		}
	}
	return "", false
}

// Model is the two-digit document model embedded in access keys. NFS-e has
// no national key.
func (c Category) Model() string {
	switch c {
	case CategoryNFe:
		return "55"
	case CategoryNFCe:
		return "65"
	case CategoryCTe:
		return "57"
	case CategoryMDFe:
		return "58"
	}
	return ""
}

func (c Category) Keyed() bool { return c.Model() != "" }

// CategoryForModel maps an access key model back to its category.
func CategoryForModel(model string) (Category, bool) {
	for _, c := range Categories {
		if c.Keyed() && c.Model() == model {
			return c, true
		}
	}
	return "", false
}

type Direction string

const (
	DirectionIssued   Direction = "issued"
	DirectionReceived Direction = "received"
)

type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusCancelled  Status = "cancelled"
	StatusDenied     Status = "denied"
	StatusPending    Status = "pending"
)

type FiscalDocument struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID      string          `gorm:"column:account_id;not null" json:"account_id"`
	CompanyID      snowflake.ID    `gorm:"column:company_id;not null" json:"company_id"`
	SyncRunID      *snowflake.ID   `gorm:"column:sync_run_id" json:"sync_run_id,omitempty"`
	Category       Category        `gorm:"column:category;not null" json:"category"`
	Direction      Direction       `gorm:"column:direction;not null" json:"direction"`
	AccessKey      *string         `gorm:"column:access_key" json:"access_key,omitempty"`
	ExternalID     *string         `gorm:"column:external_id" json:"external_id,omitempty"`
	Number         int64           `gorm:"column:number" json:"number"`
	Series         int             `gorm:"column:series" json:"series"`
	IssueDate      time.Time       `gorm:"column:issue_date;not null" json:"issue_date"`
	IssuerCNPJ     string          `gorm:"column:issuer_cnpj" json:"issuer_cnpj"`
	IssuerName     string          `gorm:"column:issuer_name" json:"issuer_name"`
	RecipientCNPJ  string          `gorm:"column:recipient_cnpj" json:"recipient_cnpj"`
	RecipientName  string          `gorm:"column:recipient_name" json:"recipient_name"`
	TotalValue     decimal.Decimal `gorm:"column:total_value;type:numeric(15,2)" json:"total_value"`
	Status         Status          `gorm:"column:status;not null" json:"status"`
	NSU            int64           `gorm:"column:nsu" json:"nsu"`
	StorageXMLPath string          `gorm:"column:storage_xml_path" json:"-"`
	HashSHA256     string          `gorm:"column:hash_sha256" json:"hash_sha256"`
	CreatedAt      time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}

func (FiscalDocument) TableName() string { return "fiscal_documents" }

// Reference is the access key, or the external id for keyless categories.
func (d FiscalDocument) Reference() string {
	if d.AccessKey != nil && *d.AccessKey != "" {
		return *d.AccessKey
	}
	if d.ExternalID != nil {
		return *d.ExternalID
	}
	return d.ID.String()
}

type EventType string

const (
	EventCancellation   EventType = "cancelamento"
	EventCorrection     EventType = "carta_correcao"
	EventConfirmation   EventType = "confirmacao"
	EventAcknowledgment EventType = "ciencia"
	EventUnknown        EventType = "desconhecimento"
	EventNotPerformed   EventType = "nao_realizada"
)

var eventCodes = map[string]EventType{
	"110111": EventCancellation,
	"110110": EventCorrection,
	"210200": EventConfirmation,
	"210210": EventAcknowledgment,
	"210220": EventUnknown,
	"210240": EventNotPerformed,
}

// EventTypeForCode maps a tpEvento code to its event type.
func EventTypeForCode(code string) (EventType, bool) {
	t, ok := eventCodes[strings.TrimSpace(code)]
	return t, ok
}

type FiscalEvent struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	FiscalDocumentID snowflake.ID `gorm:"column:fiscal_document_id;not null" json:"fiscal_document_id"`
	EventType        EventType    `gorm:"column:event_type;not null" json:"event_type"`
	EventCode        string       `gorm:"column:event_code" json:"event_code"`
	EventDate        time.Time    `gorm:"column:event_date;not null" json:"event_date"`
	Protocol         string       `gorm:"column:protocol" json:"protocol"`
	Sequence         int          `gorm:"column:sequence" json:"sequence"`
	Description      string       `gorm:"column:description" json:"description"`
	NSU              int64        `gorm:"column:nsu" json:"nsu"`
	StorageXMLPath   string       `gorm:"column:storage_xml_path" json:"-"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null" json:"created_at"`
}

func (FiscalEvent) TableName() string { return "fiscal_events" }

// Filter selects documents for listing and export.
type Filter struct {
	AccountID string
	CompanyID snowflake.ID
	Category  Category
	Direction Direction
	From      *time.Time
	To        *time.Time
}

// StatsBucket aggregates documents sharing a category, direction and status.
type StatsBucket struct {
	Category   Category        `gorm:"column:category" json:"category"`
	Direction  Direction       `gorm:"column:direction" json:"direction"`
	Status     Status          `gorm:"column:status" json:"status"`
	Documents  int64           `gorm:"column:documents" json:"documents"`
	TotalValue decimal.Decimal `gorm:"column:total_value" json:"total_value"`
}

type Stats struct {
	Documents  int64           `json:"documents"`
	TotalValue decimal.Decimal `json:"total_value"`
	Buckets    []StatsBucket   `json:"buckets"`
}
