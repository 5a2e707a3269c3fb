package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase         = errors.New("database handle is required")
	errInvalidMigrationVersion = errors.New("migration version must be positive")
	errDuplicateMigration      = errors.New("migration version registered twice")
)

// Migration is a versioned batch of schema or seed statements applied atomically.
type Migration struct {
	Version    int
	Statements []string
}

// MigrationError reports the migration version that failed to apply.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("database: migration %d failed: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// SnippetMigrations returns the built-in schema history of the snippet store.
func SnippetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Statements: []string{`CREATE TABLE snippets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    abbv TEXT NOT NULL UNIQUE,
    value TEXT NOT NULL,
    usage_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`},
		},
		{
			Version: 2,
			Statements: []string{`CREATE TABLE translations (
    key TEXT NOT NULL,
    lang TEXT NOT NULL,
    text TEXT NOT NULL,
    PRIMARY KEY (key, lang)
)`},
		},
		{
			Version: 3,
			Statements: []string{`INSERT INTO translations (key, lang, text) VALUES
    ('app_title', 'en', 'Tylex Snippets'),
    ('search_placeholder', 'en', 'Search snippets...'),
    ('settings_title', 'en', 'Tylex Settings & Snippets'),
    ('manage_snippets', 'en', 'Manage Snippets'),
    ('add_new_snippet', 'en', 'Add New Snippet'),
    ('abbreviation_label', 'en', 'Abbreviation:'),
    ('expansion_label', 'en', 'Expansion Text:'),
    ('save_button', 'en', 'Save Snippet'),
    ('delete_button', 'en', 'Delete')`},
		},
	}
}

// SchemaManager applies versioned migrations tracked through PRAGMA user_version.
type SchemaManager struct {
	db         *gorm.DB
	migrations []Migration
	logger     *zap.Logger
}

// NewSchemaManager validates the migration set and orders it by version.
func NewSchemaManager(db *gorm.DB, migrations []Migration, logger *zap.Logger) (*SchemaManager, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Version < ordered[j].Version
	})
	for index, migration := range ordered {
		if migration.Version <= 0 {
			return nil, fmt.Errorf("%w: %d", errInvalidMigrationVersion, migration.Version)
		}
		if index > 0 && ordered[index-1].Version == migration.Version {
			return nil, fmt.Errorf("%w: %d", errDuplicateMigration, migration.Version)
		}
	}

	return &SchemaManager{
		db:         db,
		migrations: ordered,
		logger:     logger,
	}, nil
}

// LatestVersion returns the highest known migration version, or 0 when none are registered.
func (m *SchemaManager) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// CurrentVersion reads the persisted schema version.
func (m *SchemaManager) CurrentVersion(ctx context.Context) (int, error) {
	return readUserVersion(m.db.WithContext(ctx))
}

// ApplyPending runs every migration newer than the persisted version, each in its own
// transaction, and returns the versions that were applied.
func (m *SchemaManager) ApplyPending(ctx context.Context) ([]int, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("database: read schema version: %w", err)
	}
	latest := m.LatestVersion()
	if current >= latest {
		return nil, nil
	}

	m.logger.Info("applying database migrations",
		zap.Int("current_version", current),
		zap.Int("latest_version", latest))

	applied := make([]int, 0, len(m.migrations))
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			m.logger.Error("database migration failed",
				zap.Int("migration", migration.Version),
				zap.Error(err))
			return applied, &MigrationError{Version: migration.Version, Err: err}
		}
		applied = append(applied, migration.Version)
		m.logger.Info("database migration applied", zap.Int("migration", migration.Version))
	}
	return applied, nil
}

func (m *SchemaManager) apply(ctx context.Context, migration Migration) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, statement := range migration.Statements {
			if err := tx.Exec(statement).Error; err != nil {
				return err
			}
		}
		// PRAGMA arguments cannot be bound; the version is an int we control.
		return tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)).Error
	})
}

func readUserVersion(db *gorm.DB) (int, error) {
	var version int
	if err := db.Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return 0, err
	}
	return version, nil
}
