package translations

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrMissingDatabase indicates the service was built without a store handle.
var ErrMissingDatabase = errors.New("translations: database connection required")

// Entry is a localized UI string keyed by (key, lang).
type Entry struct {
	Key  string `gorm:"column:key;primaryKey"`
	Lang string `gorm:"column:lang;primaryKey"`
	Text string `gorm:"column:text;not null"`
}

// TableName exposes the table backing translations.
func (Entry) TableName() string {
	return "translations"
}

// ServiceConfig describes the dependencies required for translation lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service reads the seeded translation table. It never writes.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the translation lookup.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		logger: logger,
	}, nil
}

// Translations returns every string for exactly lang. Unknown languages yield an empty map.
func (s *Service) Translations(ctx context.Context, lang string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrMissingDatabase
	}

	var entries []Entry
	if err := s.db.WithContext(ctx).
		Select("key", "text").
		Where("lang = ?", lang).
		Find(&entries).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("translation lookup failed", zap.String("lang", lang), zap.Error(err))
		}
		return nil, fmt.Errorf("translations: lookup %q: %w", lang, err)
	}

	result := make(map[string]string, len(entries))
	for _, entry := range entries {
		result[entry.Key] = entry.Text
	}
	return result, nil
}
