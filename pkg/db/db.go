package db

import (
	"time"

	"github.com/observalabs/mirador/internal/config"
	"github.com/observalabs/mirador/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("db",
	fx.Provide(Open),
)

// Open connects to the relational store named by DATABASE_URL and
// configures the pool. The gorm logger routes through zap.
func Open(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	gormLog := logger.NewGormLogger(logger.GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	})

	conn, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := RegisterTenantGuard(conn); err != nil {
		return nil, err
	}

	log.Info("database connected")
	return conn, nil
}
