package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/api/http"
	"github.com/capsulehq/runtime/internal/api/middleware"
	"github.com/capsulehq/runtime/internal/artifacts"
	"github.com/capsulehq/runtime/internal/domain/admission"
	"github.com/capsulehq/runtime/internal/domain/budget"
	"github.com/capsulehq/runtime/internal/domain/manifest"
	"github.com/capsulehq/runtime/internal/domain/session"
	"github.com/capsulehq/runtime/internal/infrastructure/config"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/infrastructure/monitoring"
	"github.com/capsulehq/runtime/internal/sandbox/local"
	"github.com/capsulehq/runtime/internal/ws"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	sessions *session.Manager
	catalog  *artifacts.Catalog
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing capsule runtime service",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	// Metrics first; other components record into them.
	metrics := monitoring.NewMetrics()

	// Budget registry: compiled defaults, then profile file, then env.
	budgets := budget.NewRegistry()
	if err := cfg.ApplyBudgets(budgets); err != nil {
		return nil, err
	}
	adm := admission.NewRegistry(budgets).WithMetrics(metrics)

	// Dev artifact catalog. The service stays up with an empty catalog;
	// manifests then come from the configured remote base URL only.
	catalog := artifacts.NewCatalog()
	seeder := artifacts.NewSeeder(catalog, cfg.Artifacts.SeedsDir, logger)
	if err := seeder.Seed(); err != nil {
		logger.Warn("Failed to seed artifact catalog", zap.Error(err))
	}

	baseURL := cfg.Artifacts.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%s", cfg.Server.Port)
	}
	loader := manifest.NewLoader(baseURL, logger)

	deps := session.Deps{
		Loader:    loader,
		Budgets:   budgets,
		Admission: adm,
		Logger:    logger,
		Metrics:   metrics,
	}
	if cfg.Sandbox.Demo {
		logger.Info("Demo sandbox enabled; scripted bundles run in-process")
		deps.OnCreate = local.NewLauncher(catalog, logger).Bind
	}
	sessions := session.NewManager(deps)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Bridge.AllowedHostOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Bridge.AllowedHostOrigins
	}
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := http.NewHandlers(sessions, adm, catalog, cfg.Bridge.VisibilityThreshold, logger)
	wsHandler := ws.NewHandler(sessions, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Session lifecycle
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.POST("/sessions/:id/start", handlers.StartSession)
	router.POST("/sessions/:id/stop", handlers.StopSession)
	router.POST("/sessions/:id/pause", handlers.PauseSession)
	router.POST("/sessions/:id/resume", handlers.ResumeSession)
	router.POST("/sessions/:id/visibility", handlers.UpdateVisibility)
	router.POST("/sessions/:id/params", handlers.SetParams)
	router.DELETE("/sessions/:id", handlers.DeleteSession)

	// Sandbox attachment
	router.GET("/sessions/:id/bridge", wsHandler.HandleBridge)

	// Admission introspection
	router.GET("/admission/:surface", handlers.AdmissionStats)

	// Dev artifact catalog
	router.GET("/artifacts/:id/manifest", handlers.ArtifactManifest)
	router.GET("/artifacts/:id/assets/*path", handlers.ArtifactAsset)

	// Metrics
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry(), promhttp.HandlerOpts{})))

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		catalog:  catalog,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Router exposes the gin engine, used by integration tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close gracefully shuts down the server, disposing every live session
// so each admission slot is released exactly once.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.sessions.DisposeAll()
	return s.logger.Sync()
}
