// Package storage persists the pricebook. It opens GORM over SQLite or
// PostgreSQL, migrates the schema, seeds the warehouse catalog, and
// implements the pricebook store interfaces. The memory driver backs tests
// and throwaway dev runs.
package storage

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aislelabs/pricetagd/internal/config"
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

// Open connects the configured backend, migrates the schema, and seeds the
// warehouse catalog when enabled. The returned closer releases the database
// handle; for the memory driver it is a no-op.
func Open(cfg config.StorageConfig, logger *zap.Logger) (pricebook.Store, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Driver == "memory" {
		logger.Warn("using in-memory storage, data is lost on shutdown")
		return pricebook.NewMemoryStore(), func() error { return nil }, nil
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("accessing connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := migrate(db); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}

	store := NewGormStore(db, logger)

	if cfg.Seed {
		if err := SeedWarehouses(db, logger); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("seeding warehouse catalog: %w", err)
		}
	}

	logger.Info("storage ready", zap.String("driver", cfg.Driver))
	return store, sqlDB.Close, nil
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&pricebook.Warehouse{},
		&pricebook.Product{},
		&pricebook.Observation{},
		&pricebook.Snapshot{},
		&pricebook.CommunitySignal{},
		&pricebook.ScanFeedback{},
		&pricebook.ScanArtifact{},
	)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}
