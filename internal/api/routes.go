// routes.go - Route registration helpers
package api

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store   storage.Store
	Runs    RunManager
	Version string
	Logger  *zap.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Files     FileHandler
	Runs      RunHandler
	Reviews   ReviewHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	return &Handlers{
		Health:    NewHealthHandler(deps.Version),
		Files:     NewFileHandler(deps.Store),
		Runs:      NewRunHandler(deps.Runs),
		Reviews:   NewReviewHandler(deps.Runs, logger),
		WebSocket: NewWebSocketHandler(deps.Runs, logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Uploaded documents
	fileGroup := apiGroup.Group("/files")
	fileGroup.POST("/upload", handlers.Files.HandleUploadFile)
	fileGroup.GET("/recent", handlers.Files.HandleGetRecentFiles)
	fileGroup.GET("/:id", handlers.Files.HandleGetFile)
	fileGroup.DELETE("/:id", handlers.Files.HandleDeleteFile)

	// Extraction runs
	runGroup := apiGroup.Group("/runs")
	runGroup.POST("", handlers.Runs.HandleStartRun)
	runGroup.GET("/:runId/status", handlers.Runs.HandleRunStatus)
	runGroup.GET("/:runId/view", handlers.Runs.HandleRunView)
	runGroup.POST("/:runId/sort", handlers.Runs.HandleRunSort)
	runGroup.GET("/:runId/schema", handlers.Runs.HandleRunSchema)
	runGroup.GET("/:runId/progress", handlers.Runs.HandleRunProgressStream)
	runGroup.POST("/:runId/keepalive", handlers.Runs.HandleRunKeepAlive)
	runGroup.DELETE("/:runId", handlers.Runs.HandleCancelRun)

	apiGroup.GET("/ws/runs/:runId", handlers.WebSocket.HandleWebSocket)

	// Review sessions
	reviewGroup := apiGroup.Group("/reviews")
	reviewGroup.GET("", handlers.Reviews.HandleListReviews)
	reviewGroup.POST("/import", handlers.Reviews.HandleImportReview)
	reviewGroup.GET("/:sessionId", handlers.Reviews.HandleGetReview)
	reviewGroup.GET("/:sessionId/export", handlers.Reviews.HandleExportReview)
	reviewGroup.PUT("/:sessionId/files/:fileId/fields", handlers.Reviews.HandleUpdateFields)
	reviewGroup.POST("/:sessionId/files/:fileId/approve", handlers.Reviews.HandleApproveFile)
	reviewGroup.POST("/:sessionId/files/:fileId/reject", handlers.Reviews.HandleRejectFile)
	reviewGroup.POST("/:sessionId/files/:fileId/reopen", handlers.Reviews.HandleReopenFile)
}

// MiddlewareConfig selects the optional middleware of SetupMiddleware.
type MiddlewareConfig struct {
	RequestLogging bool
	RequestTimeout time.Duration
	BodyLimit      string
	AllowOrigins   []string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig, logger *zap.Logger) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.RequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") ||
				strings.HasSuffix(path, "/progress") ||
				path == "/api/health" ||
				path == "/metrics"
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
	}))

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/progress") ||
					strings.HasPrefix(path, "/api/ws/") ||
					strings.HasSuffix(path, "/upload") ||
					c.Request().Header.Get("Accept") == "text/event-stream"
			},
			ErrorMessage: "Request timeout",
		}))
	}

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Accept") == "text/event-stream" ||
				strings.HasPrefix(c.Request().URL.Path, "/api/ws/")
		},
	}))

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if len(cfg.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
