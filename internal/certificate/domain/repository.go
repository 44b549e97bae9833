package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, cert *Certificate) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Certificate, error)
	FindActive(ctx context.Context, db *gorm.DB, companyID snowflake.ID, class Class) (*Certificate, error)
	ListByCompany(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]*Certificate, error)
	CompanyAccount(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (string, error)

	// ExpireActive moves the active row of (company, class), if any, to expired.
	ExpireActive(ctx context.Context, db *gorm.DB, companyID snowflake.ID, class Class, now time.Time) (int64, error)
	// TransitionStatus applies to only when the row is in one of from.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, now time.Time) (bool, error)
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	TouchHeartbeat(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	ListDue(ctx context.Context, db *gorm.DB, now time.Time) ([]*Certificate, error)
	ListExpiring(ctx context.Context, db *gorm.DB, now, until time.Time) ([]*Certificate, error)
}
