package db

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db", fx.Provide(New))

// New opens the primary database. Statements are logged through zap,
// traced with otelgorm and pool stats are exported to prometheus.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dbCfg := ConfigFrom(cfg)
	dialector, err := Dialect(dbCfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLogger(logger.DefaultGormLoggerConfig()),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbCfg.Type, err)
	}

	plugins := []gorm.Plugin{
		otelgorm.NewPlugin(otelgorm.WithDBName(dbCfg.Name), otelgorm.WithoutQueryVariables()),
		gormprometheus.New(gormprometheus.Config{DBName: dbCfg.Name, RefreshInterval: 15}),
	}
	for _, p := range plugins {
		if err := conn.Use(p); err != nil {
			return nil, fmt.Errorf("gorm plugin %s: %w", p.Name(), err)
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(dbCfg.MaxIdle)
	if dbCfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(dbCfg.MaxOpen)
	}
	sqlDB.SetConnMaxLifetime(dbCfg.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(dbCfg.MaxIdleTime)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("ping %s: %w", dbCfg.Type, err)
			}
			log.Info("database connected", zap.String("type", dbCfg.Type), zap.String("name", dbCfg.Name))
			return nil
		},
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})
	return conn, nil
}
