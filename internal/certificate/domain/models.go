package domain

import (
	"crypto/tls"
	"crypto/x509"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Class string

const (
	// ClassA1 is a software credential uploaded as a PFX bundle.
	ClassA1 Class = "A1"
	// ClassA3 lives on a hardware token and is used through a paired agent.
	ClassA3 Class = "A3"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

type Certificate struct {
	ID                  snowflake.ID      `gorm:"primaryKey" json:"id"`
	CompanyID           snowflake.ID      `gorm:"column:company_id;not null" json:"company_id"`
	Class               Class             `gorm:"column:class;not null" json:"class"`
	Status              Status            `gorm:"column:status;not null" json:"status"`
	Fingerprint         string            `gorm:"column:fingerprint" json:"fingerprint"`
	Subject             string            `gorm:"column:subject" json:"subject"`
	Issuer              string            `gorm:"column:issuer" json:"issuer"`
	SerialNumber        string            `gorm:"column:serial_number" json:"serial_number"`
	ValidFrom           time.Time         `gorm:"column:valid_from;not null" json:"valid_from"`
	ValidTo             time.Time         `gorm:"column:valid_to;not null" json:"valid_to"`
	EncryptedBlob       []byte            `gorm:"column:encrypted_blob" json:"-"`
	EncryptedPassphrase []byte            `gorm:"column:encrypted_passphrase" json:"-"`
	EncryptedDEK        []byte            `gorm:"column:encrypted_dek" json:"-"`
	PairingToken        *string           `gorm:"column:pairing_token" json:"-"`
	LastHeartbeat       *time.Time        `gorm:"column:last_heartbeat" json:"last_heartbeat,omitempty"`
	Metadata            datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt           time.Time         `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Certificate) TableName() string { return "certificates" }

// IsActive reports status active and now before valid_to.
func (c Certificate) IsActive(now time.Time) bool {
	return c.Status == StatusActive && now.Before(c.ValidTo)
}

// IsExpiringSoon reports an active, unexpired certificate whose valid_to falls
// within thresholdDays of now.
func (c Certificate) IsExpiringSoon(now time.Time, thresholdDays int) bool {
	if !c.IsActive(now) {
		return false
	}
	return !c.ValidTo.After(now.Add(time.Duration(thresholdDays) * 24 * time.Hour))
}

// DaysUntilExpiry is negative once valid_to has passed.
func (c Certificate) DaysUntilExpiry(now time.Time) int {
	return int(math.Floor(c.ValidTo.Sub(now).Hours() / 24))
}

// Credential is decrypted key material ready for mutual TLS. It only exists in
// memory for the duration of one connector session.
type Credential struct {
	CertificateID snowflake.ID
	CompanyID     snowflake.ID
	Class         Class
	Fingerprint   string
	ValidTo       time.Time
	Leaf          *x509.Certificate
	TLS           tls.Certificate
}

// HasKeyMaterial is false for hardware-bound credentials.
func (c *Credential) HasKeyMaterial() bool {
	return c != nil && c.TLS.PrivateKey != nil
}
