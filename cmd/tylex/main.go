package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/tylex/internal/auth"
	"github.com/MarcoPoloResearchLab/tylex/internal/clipboard"
	"github.com/MarcoPoloResearchLab/tylex/internal/config"
	"github.com/MarcoPoloResearchLab/tylex/internal/database"
	"github.com/MarcoPoloResearchLab/tylex/internal/logging"
	"github.com/MarcoPoloResearchLab/tylex/internal/server"
	"github.com/MarcoPoloResearchLab/tylex/internal/snippets"
	"github.com/MarcoPoloResearchLab/tylex/internal/translations"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "tylex",
		Short:        "Tylex snippet store and local bridge",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cmd.OutOrStdout())
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "reset-usage",
		Short: "Reset every snippet usage count to zero",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResetUsage(cmd.Context(), cmd.OutOrStdout())
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Bridge listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("language", defaults.GetString("i18n.language"), "Default UI language")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bridge token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Bridge token signing secret (random when empty)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "i18n.language", "language")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

type appRuntime struct {
	config config.AppConfig
	logger *zap.Logger
	level  zap.AtomicLevel
	db     *gorm.DB
}

// openRuntime loads configuration, builds the logger and opens the migrated store.
func openRuntime(ctx context.Context) (*appRuntime, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, level, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenSQLite(ctx, appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	closeFn := func() {
		if closeErr := sqlDB.Close(); closeErr != nil {
			logger.Warn("failed to close database", zap.Error(closeErr))
		}
		_ = logger.Sync()
	}
	return &appRuntime{config: appConfig, logger: logger, level: level, db: db}, closeFn, nil
}

// watchLogLevel follows the config file and applies log.level changes to level.
// It reports false when no config file is in use.
func watchLogLevel(configViper *viper.Viper, logger *zap.Logger, level zap.AtomicLevel) bool {
	if configViper.ConfigFileUsed() == "" {
		return false
	}
	configViper.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		next := logging.ParseLevel(configViper.GetString("log.level"))
		if next == level.Level() {
			return
		}
		level.SetLevel(next)
		logger.Info("log level changed", zap.String("file", event.Name), zap.Stringer("level", next))
	})
	configViper.WatchConfig()
	return true
}

func runMigrate(ctx context.Context, out io.Writer) error {
	rt, closeFn, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	version, err := database.SchemaVersion(ctx, rt.db)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "schema version %d (%s)\n", version, rt.config.DatabasePath)
	return err
}

func runResetUsage(ctx context.Context, out io.Writer) error {
	rt, closeFn, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	snippetService, err := snippets.NewService(snippets.ServiceConfig{Database: rt.db, Logger: rt.logger})
	if err != nil {
		return err
	}
	affected, err := snippetService.ResetUsageCounts(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "reset usage counts on %d snippets\n", affected)
	return err
}

func runServer(ctx context.Context, out io.Writer) error {
	rt, closeFn, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	logger := rt.logger
	appConfig := rt.config
	watchLogLevel(viper.GetViper(), logger, rt.level)

	snippetService, err := snippets.NewService(snippets.ServiceConfig{Database: rt.db, Logger: logger})
	if err != nil {
		return err
	}
	translationService, err := translations.NewService(translations.ServiceConfig{Database: rt.db, Logger: logger})
	if err != nil {
		return err
	}

	signingSecret := []byte(appConfig.SigningSecret)
	if len(signingSecret) == 0 {
		signingSecret, err = auth.GenerateSigningSecret()
		if err != nil {
			return err
		}
		logger.Info("generated ephemeral signing secret")
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: signingSecret,
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	bridgeToken, expiresIn, err := tokenIssuer.IssueBridgeToken(ctx, auth.FrontendSubject)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Snippets:     snippetService,
		Translations: translationService,
		Tokens:       tokenIssuer,
		Paster:       clipboard.NewPaster(logger),
		Realtime:     server.NewRealtimeDispatcher(),
		SchemaVersion: func(ctx context.Context) (int, error) {
			return database.SchemaVersion(ctx, rt.db)
		},
		DefaultLanguage: appConfig.Language,
		AllowedOrigins:  appConfig.AllowedOrigins,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := fmt.Fprintf(out, "bridge listening on http://%s\nbridge token (expires in %ds): %s\n", appConfig.HTTPAddress, expiresIn, bridgeToken); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("bridge shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
