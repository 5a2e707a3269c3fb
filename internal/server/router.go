package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tylex/internal/auth"
	"github.com/MarcoPoloResearchLab/tylex/internal/snippets"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	subjectContextKey   = "tylex_subject"
	accessTokenQueryKey = "access_token"
	statusSuccess       = "success"
)

var (
	errMissingSnippetCatalogue = errors.New("snippet catalogue dependency required")
	errMissingTranslations     = errors.New("translation source dependency required")
	errMissingTokenValidator   = errors.New("token validator dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SnippetCatalogue is the store surface the bridge routes requests to.
type SnippetCatalogue interface {
	Search(ctx context.Context, filter string) ([]snippets.SearchResult, error)
	FetchForUse(ctx context.Context, abbreviation string) (string, bool, error)
	Upsert(ctx context.Context, abbreviation, expansion string) (snippets.Snippet, error)
	Delete(ctx context.Context, abbreviation string) (bool, error)
	ResetUsageCounts(ctx context.Context) (int64, error)
}

type TranslationSource interface {
	Translations(ctx context.Context, lang string) (map[string]string, error)
}

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Paster receives the expansion of a snippet the user picked.
type Paster interface {
	Paste(ctx context.Context, text string) error
}

type Dependencies struct {
	Snippets          SnippetCatalogue
	Translations      TranslationSource
	Tokens            TokenValidator
	Paster            Paster
	Realtime          *RealtimeDispatcher
	SchemaVersion     func(context.Context) (int, error)
	DefaultLanguage   string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Snippets == nil {
		return nil, errMissingSnippetCatalogue
	}
	if deps.Translations == nil {
		return nil, errMissingTranslations
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	// Abbreviations travel as path segments and may contain escaped slashes.
	router.UseRawPath = true
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		snippets:          deps.Snippets,
		translations:      deps.Translations,
		tokens:            deps.Tokens,
		paster:            deps.Paster,
		realtime:          deps.Realtime,
		schemaVersion:     deps.SchemaVersion,
		defaultLanguage:   deps.DefaultLanguage,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/snippets", handler.handleSearchSnippets)
	protected.POST("/snippets", handler.handleUpsertSnippet)
	protected.DELETE("/snippets/:abbv", handler.handleDeleteSnippet)
	protected.POST("/snippets/:abbv/paste", handler.handlePasteSnippet)
	protected.POST("/usage/reset", handler.handleResetUsage)
	protected.GET("/translations", handler.handleTranslations)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	snippets          SnippetCatalogue
	translations      TranslationSource
	tokens            TokenValidator
	paster            Paster
	realtime          *RealtimeDispatcher
	schemaVersion     func(context.Context) (int, error)
	defaultLanguage   string
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

type snippetPayload struct {
	Abbreviation string `json:"abbv"`
	Expansion    string `json:"value"`
	UsageCount   int64  `json:"usage_count"`
}

type searchResponsePayload struct {
	Snippets []snippetPayload `json:"snippets"`
}

type upsertRequestPayload struct {
	Abbreviation string `json:"abbv"`
	Expansion    string `json:"value"`
}

type upsertResponsePayload struct {
	Status       string `json:"status"`
	Abbreviation string `json:"abbv"`
	UsageCount   int64  `json:"usage_count"`
}

type pasteResponsePayload struct {
	Status       string `json:"status"`
	Abbreviation string `json:"abbv"`
	Expansion    string `json:"value"`
	Pasted       bool   `json:"pasted"`
}

type realtimeEventPayload struct {
	Abbreviations []string `json:"abbreviations,omitempty"`
	Timestamp     string   `json:"timestamp"`
	Source        string   `json:"source"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	response := gin.H{"status": "ok"}
	if h.schemaVersion != nil {
		version, err := h.schemaVersion(c.Request.Context())
		if err != nil {
			h.logger.Error("failed to read schema version", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		response["schema_version"] = version
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSearchSnippets(c *gin.Context) {
	results, err := h.snippets.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.respondServiceError(c, "search_failed", err)
		return
	}

	response := searchResponsePayload{Snippets: make([]snippetPayload, 0, len(results))}
	for _, result := range results {
		response.Snippets = append(response.Snippets, snippetPayload{
			Abbreviation: result.Abbreviation,
			Expansion:    result.Expansion,
			UsageCount:   result.UsageCount,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleUpsertSnippet(c *gin.Context) {
	var request upsertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Abbreviation) == "" ||
		request.Expansion == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	stored, err := h.snippets.Upsert(c.Request.Context(), request.Abbreviation, request.Expansion)
	if err != nil {
		if errors.Is(err, snippets.ErrInvalidAbbreviation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_abbreviation"})
			return
		}
		h.respondServiceError(c, "save_failed", err)
		return
	}

	h.publishChange(stored.Abbreviation)
	c.JSON(http.StatusOK, upsertResponsePayload{
		Status:       statusSuccess,
		Abbreviation: stored.Abbreviation,
		UsageCount:   stored.UsageCount,
	})
}

func (h *httpHandler) handleDeleteSnippet(c *gin.Context) {
	abbreviation := c.Param("abbv")
	removed, err := h.snippets.Delete(c.Request.Context(), abbreviation)
	if err != nil {
		h.respondServiceError(c, "delete_failed", err)
		return
	}
	if removed {
		h.publishChange(abbreviation)
	}
	c.JSON(http.StatusOK, gin.H{"status": statusSuccess})
}

func (h *httpHandler) handlePasteSnippet(c *gin.Context) {
	abbreviation := c.Param("abbv")
	expansion, found, err := h.snippets.FetchForUse(c.Request.Context(), abbreviation)
	if err != nil {
		h.respondServiceError(c, "fetch_failed", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "snippet_not_found"})
		return
	}
	h.publishChange(abbreviation)

	pasted := false
	if h.paster != nil {
		if err := h.paster.Paste(c.Request.Context(), expansion); err != nil {
			// The use is already counted; the frontend still receives the text.
			h.logger.Warn("paste failed", zap.String("abbreviation", abbreviation), zap.Error(err))
		} else {
			pasted = true
		}
	}

	c.JSON(http.StatusOK, pasteResponsePayload{
		Status:       statusSuccess,
		Abbreviation: abbreviation,
		Expansion:    expansion,
		Pasted:       pasted,
	})
}

func (h *httpHandler) handleResetUsage(c *gin.Context) {
	rows, err := h.snippets.ResetUsageCounts(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "reset_failed", err)
		return
	}
	h.publishChange()
	c.JSON(http.StatusOK, gin.H{"status": statusSuccess, "reset": rows})
}

func (h *httpHandler) handleTranslations(c *gin.Context) {
	lang := strings.TrimSpace(c.Query("lang"))
	if lang == "" {
		lang = h.defaultLanguage
	}
	entries, err := h.translations.Translations(c.Request.Context(), lang)
	if err != nil {
		h.logger.Error("failed to load translations", zap.String("lang", lang), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "translations_failed"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime_unavailable"})
		return
	}

	requestContext := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(requestContext)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-requestContext.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Abbreviations: message.Abbreviations,
				Timestamp:     message.Timestamp.UTC().Format(time.RFC3339),
				Source:        realtimeSourceBackend,
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
				Timestamp: tick.UTC().Format(time.RFC3339),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := extractToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredBridgeToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

func extractToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	// EventSource cannot set headers, so the event stream passes the token in the query.
	token := strings.TrimSpace(c.Query(accessTokenQueryKey))
	return token, token != ""
}

func (h *httpHandler) publishChange(abbreviations ...string) {
	if h.realtime == nil {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		EventType:     RealtimeEventSnippetChanged,
		Abbreviations: abbreviations,
		Timestamp:     time.Now().UTC(),
	})
}

func (h *httpHandler) respondServiceError(c *gin.Context, reason string, err error) {
	h.logger.Error("snippet request failed", zap.String("reason", reason), zap.Error(err))
	response := gin.H{"error": reason}
	var serviceErr *snippets.ServiceError
	if errors.As(err, &serviceErr) {
		response["code"] = serviceErr.Code()
	}
	c.JSON(http.StatusInternalServerError, response)
}
