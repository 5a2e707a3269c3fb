package translations

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tylex/internal/database"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:translations_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(context.Background(), dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	service, err := NewService(ServiceConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestTranslationsReturnsSeededEnglishStrings(t *testing.T) {
	service := newTestService(t)

	texts, err := service.Translations(context.Background(), "en")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if len(texts) != 9 {
		t.Fatalf("expected 9 english texts, got %d", len(texts))
	}
	expected := map[string]string{
		"app_title":          "Tylex Snippets",
		"search_placeholder": "Search snippets...",
		"save_button":        "Save Snippet",
		"delete_button":      "Delete",
	}
	for key, text := range expected {
		if texts[key] != text {
			t.Fatalf("expected %s=%q, got %q", key, text, texts[key])
		}
	}
}

func TestTranslationsUnknownLanguageIsEmpty(t *testing.T) {
	service := newTestService(t)

	for _, lang := range []string{"fr", "EN", "en-US", ""} {
		texts, err := service.Translations(context.Background(), lang)
		if err != nil {
			t.Fatalf("lookup %q failed: %v", lang, err)
		}
		if texts == nil || len(texts) != 0 {
			t.Fatalf("expected empty non-nil map for %q, got %#v", lang, texts)
		}
	}
}

func TestTranslationsRequiresDatabase(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); !errors.Is(err, ErrMissingDatabase) {
		t.Fatalf("expected missing database error, got %v", err)
	}
	var service Service
	if _, err := service.Translations(context.Background(), "en"); !errors.Is(err, ErrMissingDatabase) {
		t.Fatalf("expected missing database error from zero-value service, got %v", err)
	}
}
