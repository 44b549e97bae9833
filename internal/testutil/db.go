// Package testutil opens throwaway SQLite databases carrying the production
// schema for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/fiscalsync/internal/migration"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns an in-memory database with foreign keys enforced and every
// migration applied. A single connection keeps the memory database alive and
// serializes access.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// SeedCompany inserts a minimal active company row.
func SeedCompany(t *testing.T, db *gorm.DB, id int64, accountID, cnpj string) {
	t.Helper()
	err := db.Exec(`INSERT INTO companies (id, account_id, cnpj, legal_name, uf, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'SP', 'active', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id, accountID, cnpj, "Company "+cnpj,
	).Error
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
}
