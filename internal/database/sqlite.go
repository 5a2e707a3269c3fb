package database

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/tylex/internal/observability"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite establishes a SQLite connection and brings the schema to the latest version.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}

	if err := initializeStore(ctx, db, SnippetMigrations(), logger); err != nil {
		return nil, err
	}
	logger.Info("database initialized", zap.String("path", path))
	return db, nil
}

// initializeStore limits the pool to one connection and applies pending migrations.
// On failure the handle is closed before the error is returned.
func initializeStore(ctx context.Context, db *gorm.DB, migrations []Migration, logger *zap.Logger) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	// A single connection serialises every transaction, so concurrent callers
	// never interleave a read-then-write.
	sqlDB.SetMaxOpenConns(1)

	manager, err := NewSchemaManager(db, migrations, logger)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	if _, err := manager.ApplyPending(ctx); err != nil {
		_ = sqlDB.Close()
		return err
	}

	version, err := manager.CurrentVersion(ctx)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	observability.SchemaVersion.Set(float64(version))
	logger.Debug("schema ready", zap.Int("schema_version", version))
	return nil
}

// SchemaVersion reports the persisted schema version of an open store.
func SchemaVersion(ctx context.Context, db *gorm.DB) (int, error) {
	if db == nil {
		return 0, errMissingDatabase
	}
	return readUserVersion(db.WithContext(ctx))
}
