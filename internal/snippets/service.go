package snippets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tylex/internal/observability"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
	likeEscaper        = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
)

// ServiceError tags a storage failure with an "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	// SearchLimit caps the number of results returned by Search.
	SearchLimit = 20

	opServiceNew       = "snippets.service.new"
	opSearch           = "snippets.search"
	opGet              = "snippets.get"
	opFetchForUse      = "snippets.fetch_for_use"
	opUpsert           = "snippets.upsert"
	opDelete           = "snippets.delete"
	opResetUsageCounts = "snippets.reset_usage_counts"

	queryAbbreviation   = "abbv = ?"
	querySubstringMatch = `abbv LIKE ? ESCAPE '\' OR value LIKE ? ESCAPE '\'`
	orderByUsage        = "usage_count DESC, abbv ASC"

	reasonMissingDatabase     = "missing_database"
	reasonInvalidAbbreviation = "invalid_abbreviation"
	reasonQueryFailed         = "query_failed"
	reasonIncrementFailed     = "increment_failed"
	reasonUpsertFailed        = "upsert_failed"
	reasonReloadFailed        = "reload_failed"
	reasonDeleteFailed        = "delete_failed"
	reasonResetFailed         = "reset_failed"
	reasonTransactionFailed   = "transaction_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the snippet catalogue.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service is the snippet catalogue. It is safe for concurrent use; atomicity of
// read-then-write operations comes from running each one in a single transaction.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		logger: logger,
	}, nil
}

// Search returns snippets whose abbreviation or expansion contains filter, most used first.
func (s *Service) Search(ctx context.Context, filter string) ([]SearchResult, error) {
	defer s.observe(opSearch, time.Now())
	if s.db == nil {
		return nil, s.fail(opSearch, reasonMissingDatabase, errMissingDatabase)
	}

	pattern := "%" + likeEscaper.Replace(filter) + "%"
	results := make([]SearchResult, 0)
	if err := s.db.WithContext(ctx).
		Model(&Snippet{}).
		Select("abbv", "value", "usage_count").
		Where(querySubstringMatch, pattern, pattern).
		Order(orderByUsage).
		Limit(SearchLimit).
		Scan(&results).Error; err != nil {
		return nil, s.fail(opSearch, reasonQueryFailed, err, zap.String("filter", filter))
	}
	return results, nil
}

// Get loads a snippet without touching its usage count.
func (s *Service) Get(ctx context.Context, abbreviation string) (Snippet, bool, error) {
	defer s.observe(opGet, time.Now())
	if s.db == nil {
		return Snippet{}, false, s.fail(opGet, reasonMissingDatabase, errMissingDatabase)
	}

	var stored Snippet
	err := s.db.WithContext(ctx).Where(queryAbbreviation, abbreviation).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snippet{}, false, nil
	}
	if err != nil {
		return Snippet{}, false, s.fail(opGet, reasonQueryFailed, err, zap.String("abbreviation", abbreviation))
	}
	return stored, true, nil
}

// FetchForUse returns the expansion for abbreviation and counts one use of it.
// The boolean is false when no snippet has that abbreviation; nothing is written then.
func (s *Service) FetchForUse(ctx context.Context, abbreviation string) (string, bool, error) {
	defer s.observe(opFetchForUse, time.Now())
	if s.db == nil {
		return "", false, s.fail(opFetchForUse, reasonMissingDatabase, errMissingDatabase)
	}

	var (
		expansion string
		found     bool
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Snippet
		err := tx.Select("value").Where(queryAbbreviation, abbreviation).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return s.fail(opFetchForUse, reasonQueryFailed, err, zap.String("abbreviation", abbreviation))
		}

		if err := tx.Model(&Snippet{}).
			Where(queryAbbreviation, abbreviation).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error; err != nil {
			return s.fail(opFetchForUse, reasonIncrementFailed, err, zap.String("abbreviation", abbreviation))
		}

		expansion = stored.Expansion
		found = true
		return nil
	})
	if txErr != nil {
		return "", false, s.tagTransactionError(opFetchForUse, txErr, zap.String("abbreviation", abbreviation))
	}

	if found {
		observability.SnippetExpansionsTotal.Inc()
	} else {
		observability.SnippetMissesTotal.Inc()
	}
	return expansion, found, nil
}

// Upsert creates a snippet with a zero usage count, or replaces the expansion of an
// existing one. Replacing counts as a use and increments usage_count by one.
func (s *Service) Upsert(ctx context.Context, abbreviation, expansion string) (Snippet, error) {
	defer s.observe(opUpsert, time.Now())
	if s.db == nil {
		return Snippet{}, s.fail(opUpsert, reasonMissingDatabase, errMissingDatabase)
	}
	validated, err := NewAbbreviation(abbreviation)
	if err != nil {
		return Snippet{}, newServiceError(opUpsert, reasonInvalidAbbreviation, err)
	}

	var stored Snippet
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := Snippet{
			Abbreviation: validated.String(),
			Expansion:    expansion,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "abbv"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":       expansion,
				"usage_count": gorm.Expr("usage_count + ?", 1),
			}),
		}).Create(&row).Error; err != nil {
			return s.fail(opUpsert, reasonUpsertFailed, err, zap.String("abbreviation", validated.String()))
		}

		if err := tx.Where(queryAbbreviation, validated.String()).Take(&stored).Error; err != nil {
			return s.fail(opUpsert, reasonReloadFailed, err, zap.String("abbreviation", validated.String()))
		}
		return nil
	})
	if txErr != nil {
		return Snippet{}, s.tagTransactionError(opUpsert, txErr, zap.String("abbreviation", validated.String()))
	}

	s.loggerOrDefault().Info("snippet saved",
		zap.String("abbreviation", stored.Abbreviation),
		zap.Int64("usage_count", stored.UsageCount))
	return stored, nil
}

// Delete removes the snippet if present and reports whether a row was removed.
// Deleting an unknown abbreviation is not an error.
func (s *Service) Delete(ctx context.Context, abbreviation string) (bool, error) {
	defer s.observe(opDelete, time.Now())
	if s.db == nil {
		return false, s.fail(opDelete, reasonMissingDatabase, errMissingDatabase)
	}

	result := s.db.WithContext(ctx).Where(queryAbbreviation, abbreviation).Delete(&Snippet{})
	if result.Error != nil {
		return false, s.fail(opDelete, reasonDeleteFailed, result.Error, zap.String("abbreviation", abbreviation))
	}

	s.loggerOrDefault().Info("snippet deleted",
		zap.String("abbreviation", abbreviation),
		zap.Bool("removed", result.RowsAffected > 0))
	return result.RowsAffected > 0, nil
}

// ResetUsageCounts zeroes every usage count in one statement and returns the rows touched.
func (s *Service) ResetUsageCounts(ctx context.Context) (int64, error) {
	defer s.observe(opResetUsageCounts, time.Now())
	if s.db == nil {
		return 0, s.fail(opResetUsageCounts, reasonMissingDatabase, errMissingDatabase)
	}

	result := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&Snippet{}).
		UpdateColumn("usage_count", 0)
	if result.Error != nil {
		return 0, s.fail(opResetUsageCounts, reasonResetFailed, result.Error)
	}

	s.loggerOrDefault().Info("snippet usage counts reset", zap.Int64("rows", result.RowsAffected))
	return result.RowsAffected, nil
}

func (s *Service) observe(operation string, startedAt time.Time) {
	observability.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(startedAt).Seconds())
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	observability.StoreErrorsTotal.WithLabelValues(operation, reason).Inc()
	return newServiceError(operation, reason, err)
}

// tagTransactionError passes through errors already raised inside the transaction and
// tags begin or commit failures, which gorm returns bare.
func (s *Service) tagTransactionError(operation string, err error, fields ...zap.Field) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	return s.fail(operation, reasonTransactionFailed, err, fields...)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("snippets service error", attrs...)
}
