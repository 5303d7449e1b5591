package migration

import (
	"fmt"

	"github.com/smallbiznis/viotraix/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates postgres at startup. Other dialects are expected to carry
// their schema already (tests use testutil).
var Module = fx.Module("migrations", fx.Invoke(migrateOnStart))

func migrateOnStart(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		log.Warn("migrations skipped", zap.String("db_type", cfg.DBType))
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	version, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	log.Info("schema migrated", zap.Uint("version", version))
	return nil
}
