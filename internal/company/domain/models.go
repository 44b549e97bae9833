package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Company is a client legal entity whose fiscal documents are synchronized.
// CNPJ is stored normalized (14 digits).
type Company struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID         string       `gorm:"column:account_id;not null" json:"account_id"`
	CNPJ              string       `gorm:"column:cnpj;not null" json:"cnpj"`
	LegalName         string       `gorm:"column:legal_name;not null" json:"legal_name"`
	TradeName         string       `gorm:"column:trade_name" json:"trade_name,omitempty"`
	StateRegistration string       `gorm:"column:state_registration" json:"state_registration,omitempty"`
	UF                string       `gorm:"column:uf;not null" json:"uf"`
	Municipality      string       `gorm:"column:municipality" json:"municipality,omitempty"`
	Status            Status       `gorm:"column:status;not null" json:"status"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (Company) TableName() string { return "companies" }

func (c Company) IsActive() bool { return c.Status == StatusActive }
