package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/api"
	"github.com/doc-extract/backend/internal/config"
	"github.com/doc-extract/backend/internal/logging"
	"github.com/doc-extract/backend/internal/schema"
	"github.com/doc-extract/backend/internal/session"
	"github.com/doc-extract/backend/internal/storage"
	"github.com/doc-extract/backend/internal/stream"
	"github.com/doc-extract/backend/internal/web"
)

const (
	defaultConfigName = "docreview.config.xml"
	shutdownTimeout   = 15 * time.Second

	defaultCleanupInterval = 5 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP review server",
	Long: `Start the HTTP server. The XML configuration is created with defaults
on first start.

Endpoints:
  GET  /api/health                 Health check
  GET  /metrics                    Prometheus metrics
  POST /api/files/upload           Upload a document
  POST /api/runs                   Start an extraction run
  GET  /api/runs/:runId/view       Sorted result rows
  GET  /api/ws/runs/:runId         WebSocket run updates
  GET  /api/reviews                Review sessions`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to the XML configuration (default: next to the executable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
		configPath = filepath.Join(filepath.Dir(exePath), defaultConfigName)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, _, err := logging.New(cfg.Advanced.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, configPath, logger)
}

func serve(ctx context.Context, cfg *config.AppConfig, configPath string, logger *zap.Logger) error {
	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	deps := session.Deps{
		Extractor: stream.NewClient(cfg.Extraction.URL, cfg.ExtractionTimeout(), logger.Named("stream")),
		Documents: fileStore,
		Logger:    logger,
	}

	if cfg.Storage.EnablePersistence {
		sessions, err := storage.OpenSessionStore(cfg.Storage.SessionsDatabase, logger.Named("sessions"))
		if err != nil {
			return fmt.Errorf("failed to open review database: %w", err)
		}
		defer sessions.Close()
		deps.Persister = sessions
	}

	if cfg.Review.HintsFile != "" {
		hints, err := schema.LoadHints(cfg.Review.HintsFile)
		if err != nil {
			return fmt.Errorf("failed to load schema hints: %w", err)
		}
		deps.Hints = hints
	}

	runs := session.NewManager(session.Config{
		MaxRuns:          cfg.Review.MaxActiveRuns,
		MaxAge:           cfg.SessionTimeout(),
		KeepAlive:        time.Duration(cfg.Review.KeepAliveMinutes) * time.Minute,
		Locale:           cfg.Review.CollationLocale,
		ModelKey:         cfg.Extraction.DefaultModelKey,
		AIModel:          cfg.Extraction.DefaultAIModel,
		CacheSize:        cfg.Review.SchemaCacheSize,
		CacheTTL:         time.Duration(cfg.Review.SchemaCacheTTLMinutes) * time.Minute,
		SubscriberBuffer: cfg.Advanced.WebSocketBufferSize,
	}, deps)
	defer runs.Close()

	// Background run cleanup
	interval := cfg.CleanupInterval()
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := runs.CleanupOldRuns(cfg.SessionTimeout()); n > 0 {
					logger.Info("cleaned up idle runs", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, middlewareConfig(cfg), logger.Named("http"))
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:   fileStore,
		Runs:    runs,
		Version: Version,
		Logger:  logger,
	}))

	embeddedMode := web.HasEmbeddedFiles()
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("failed to register static routes", zap.Error(err))
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath, embeddedMode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func middlewareConfig(cfg *config.AppConfig) api.MiddlewareConfig {
	mc := api.MiddlewareConfig{
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		RequestTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		BodyLimit:      cfg.Server.BodyLimit,
	}
	if cfg.Server.EnableCORS {
		mc.AllowOrigins = splitOrigins(cfg.Server.AllowOrigins)
	}
	return mc
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func printBanner(cfg *config.AppConfig, configPath string, embedded bool) {
	mode := "API only"
	if embedded {
		mode = "Embedded UI"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Document Review Server                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Extractor: %-46s║\n", cfg.Extraction.URL)
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
