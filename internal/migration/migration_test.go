package migration

import (
	"io/fs"
	"path"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplySchemaOnSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, ApplySchema(db))
	require.NoError(t, ApplySchema(db), "schema must be re-appliable")

	for _, table := range []string{"companies", "certificates", "sync_runs", "fiscal_documents", "fiscal_events", "export_jobs", "audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestApplySchemaEnforcesSingleRunningSync(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, ApplySchema(db))

	require.NoError(t, db.Exec(`INSERT INTO companies (id, account_id, cnpj, legal_name, uf, status, created_at, updated_at)
		VALUES (1, 'acct', '11444777000161', 'ACME', 'SP', 'active', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`).Error)

	insert := `INSERT INTO sync_runs (id, account_id, company_id, scope, status, started_at) VALUES (?, 'acct', 1, 'NFE', ?, CURRENT_TIMESTAMP)`
	require.NoError(t, db.Exec(insert, 10, "running").Error)
	assert.Error(t, db.Exec(insert, 11, "running").Error)
	assert.NoError(t, db.Exec(insert, 12, "completed").Error)
}

func TestMySQLSchemaTracksPostgresVersions(t *testing.T) {
	pg, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.sql")
	require.NoError(t, err)
	my, err := fs.Glob(embeddedMySQLMigrations, mysqlMigrationsDir+"/*.sql")
	require.NoError(t, err)

	base := func(names []string) []string {
		out := make([]string, 0, len(names))
		for _, name := range names {
			out = append(out, path.Base(name))
		}
		return out
	}
	assert.Equal(t, base(pg), base(my))
}

func TestMySQLSchemaGuardsSingleActiveRows(t *testing.T) {
	for file, key := range map[string]string{
		"000002_certificates.up.sql": "UNIQUE KEY ux_certificates_active (company_id, class, active_flag)",
		"000003_sync_runs.up.sql":    "UNIQUE KEY ux_sync_runs_running (company_id, scope, running_flag)",
	} {
		body, err := embeddedMySQLMigrations.ReadFile(mysqlMigrationsDir + "/" + file)
		require.NoError(t, err)
		assert.Contains(t, string(body), key, file)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (id INT);\n-- note\nCREATE INDEX b ON a (id);\n-- trailing\n")
	assert.Len(t, stmts, 2)
}
