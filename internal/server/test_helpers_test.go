package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tylex/internal/auth"
	"github.com/MarcoPoloResearchLab/tylex/internal/database"
	"github.com/MarcoPoloResearchLab/tylex/internal/snippets"
	"github.com/MarcoPoloResearchLab/tylex/internal/translations"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSigningSecret = "bridge-test-secret"

type testBridge struct {
	handler    http.Handler
	token      string
	db         *gorm.DB
	paster     *recordingPaster
	dispatcher *RealtimeDispatcher
}

type recordingPaster struct {
	pasted []string
	err    error
}

func (p *recordingPaster) Paste(_ context.Context, text string) error {
	if p.err != nil {
		return p.err
	}
	p.pasted = append(p.pasted, text)
	return nil
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:tylex_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(context.Background(), dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	snippetService, err := snippets.NewService(snippets.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct snippet service: %v", err)
	}
	translationService, err := translations.NewService(translations.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct translation service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	token, _, err := issuer.IssueBridgeToken(context.Background(), auth.FrontendSubject)
	if err != nil {
		t.Fatalf("failed to issue bridge token: %v", err)
	}

	paster := &recordingPaster{}
	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Snippets:     snippetService,
		Translations: translationService,
		Tokens:       issuer,
		Paster:       paster,
		Realtime:     dispatcher,
		SchemaVersion: func(ctx context.Context) (int, error) {
			return database.SchemaVersion(ctx, db)
		},
		DefaultLanguage: "en",
		Logger:          zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testBridge{
		handler:    handler,
		token:      token,
		db:         db,
		paster:     paster,
		dispatcher: dispatcher,
	}
}

func (b *testBridge) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, http.NoBody)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+b.token)
	recorder := httptest.NewRecorder()
	b.handler.ServeHTTP(recorder, request)
	return recorder
}
