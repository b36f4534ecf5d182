package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-phishtriage/internal/api/handlers"
	"github.com/welldanyogia/webrana-phishtriage/internal/api/middleware"
	"github.com/welldanyogia/webrana-phishtriage/internal/repository"
	"github.com/welldanyogia/webrana-phishtriage/internal/websocket"
	"gorm.io/gorm"
)

// MaxAnalyzeBody caps POST /api/analyze; it matches the artifact size limit.
const MaxAnalyzeBody = "25M"

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB       *gorm.DB
	Repo     repository.ReportRepository
	Analyzer handlers.Analyzer
	// Poller is nil when no reporting mailbox is configured; POST /api/poll
	// is then not registered.
	Poller handlers.Poller
	// Hub is nil when the live feed is disabled.
	Hub    *websocket.Hub
	Logger *slog.Logger
	// Intake is reported by /health.
	Intake map[string]bool

	// Security configuration
	APIKey         string // empty disables authentication
	AllowedOrigins string // comma-separated
	AppEnv         string
	RateLimit      float64 // requests per second, 0 = default
	RateBurst      int
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := websocket.ParseOrigins(cfg.AllowedOrigins)

	// Order matters: recover outermost, logging innermost so it sees the
	// final status of every request that got past the limiter.
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.SecureHeaders())
	e.Use(middleware.SecureCORS(origins, cfg.AppEnv))
	e.Use(middleware.RateLimiter(cfg.RateLimit, cfg.RateBurst, logger))
	e.Use(middleware.RequestLogger(logger))

	auth := middleware.APIKeyAuth(cfg.APIKey, logger)

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Intake)
	reportHandler := handlers.NewReportHandler(cfg.Repo)
	analyzeHandler := handlers.NewAnalyzeHandler(cfg.Analyzer, logger)

	// Health routes (no auth required)
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	api := e.Group("/api", auth)

	reports := api.Group("/reports")
	reports.GET("", reportHandler.List)
	reports.GET("/stats", reportHandler.Stats)
	reports.GET("/:id", reportHandler.Get)

	api.POST("/analyze", analyzeHandler.Analyze, middleware.BodyLimit(MaxAnalyzeBody))

	if cfg.Poller != nil {
		api.POST("/poll", handlers.NewPollHandler(cfg.Poller, logger).Poll)
	}

	if cfg.Hub != nil {
		ws := websocket.NewHandler(cfg.Hub, cfg.AllowedOrigins, logger)
		e.GET("/ws", echo.WrapHandler(ws), auth)
	}

	return e
}
