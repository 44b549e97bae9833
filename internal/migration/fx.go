package migration

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/fiscalsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		dbType := strings.ToLower(strings.TrimSpace(cfg.DBType))
		log.Info("applying schema migrations", zap.String("db_type", dbType))
		switch dbType {
		case "postgres", "":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		case "mysql":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMySQLMigrations(sqlDB)
		case "sqlite":
			return ApplySchema(conn)
		default:
			return fmt.Errorf("no schema bundled for db type %q", cfg.DBType)
		}
	}),
)
