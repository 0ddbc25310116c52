package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/viable-systems/warden/internal/api/http"
	"github.com/viable-systems/warden/internal/api/middleware"
	"github.com/viable-systems/warden/internal/api/ws"
	"github.com/viable-systems/warden/internal/infrastructure/config"
	"github.com/viable-systems/warden/internal/infrastructure/logging"
	"github.com/viable-systems/warden/internal/infrastructure/monitoring"
	"github.com/viable-systems/warden/internal/sandbox"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	httpSrv  *http.Server
	executor sandbox.Executor
	engine   *sandbox.Engine // nil when the backend is "none"
	profiles *sandbox.Profiles
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// New creates a new server instance
func New(cfg *config.Config) (*Server, error) {
	// Initialize logger
	logger := logging.ForLevel(cfg.Logging.Level, cfg.Logging.Development)

	// Per-boot identity, reported by /health for fleet debugging
	instance := uuid.NewString()

	logger.Info("Initializing warden daemon",
		zap.String("instance", instance),
		zap.String("port", cfg.Server.Port),
		zap.String("engine", cfg.Sandbox.Engine),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	// Load capability profiles
	profiles := sandbox.BuiltinProfiles()
	if cfg.Sandbox.ProfilesPath != "" {
		loaded, err := sandbox.LoadProfiles(cfg.Sandbox.ProfilesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load capability profiles: %w", err)
		}
		profiles = loaded
		logger.Info("Loaded capability profiles",
			zap.String("path", cfg.Sandbox.ProfilesPath),
			zap.Strings("names", profiles.Names()),
		)
	}
	if _, ok := profiles.Get(cfg.Sandbox.DefaultProfile); !ok {
		return nil, fmt.Errorf("default profile %q is not defined", cfg.Sandbox.DefaultProfile)
	}

	// Initialize the executor backend
	var (
		executor sandbox.Executor
		engine   *sandbox.Engine
	)
	switch cfg.Sandbox.Engine {
	case "wasm":
		defaults, _ := profiles.Get(cfg.Sandbox.DefaultProfile)
		e, err := sandbox.NewEngine(context.Background(), sandbox.Config{
			Timeout:        cfg.Sandbox.Timeout,
			MaxMemoryPages: cfg.Sandbox.MaxMemoryPages,
			MaxConcurrent:  cfg.Sandbox.MaxConcurrent,
			MaxModuleBytes: cfg.Sandbox.MaxModuleBytes,
			CacheEnabled:   cfg.Sandbox.CacheEnabled,
			CacheEntries:   cfg.Sandbox.CacheEntries,
			Defaults:       defaults,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize wasm engine: %w", err)
		}
		engine = e
		executor = e
		logger.Info("WASM engine initialized",
			zap.Duration("timeout", cfg.Sandbox.Timeout),
			zap.Uint32("max_memory_pages", cfg.Sandbox.MaxMemoryPages),
			zap.Int("max_concurrent", cfg.Sandbox.MaxConcurrent),
		)
	case "none":
		executor = sandbox.NewUnimplemented()
		logger.Warn("No engine configured, every invocation will fail with not_implemented")
	default:
		return nil, fmt.Errorf("unknown sandbox engine %q", cfg.Sandbox.Engine)
	}

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
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

	// Create handlers
	var runner apihttp.Runner
	if engine != nil {
		runner = engine
	}
	handlers := apihttp.NewHandlers(executor, runner, cfg.Sandbox.Engine, instance, profiles, cfg.Sandbox.DefaultProfile, metrics, logger)

	// Register routes
	router.GET("/health", handlers.Health)
	router.GET("/profiles", handlers.Profiles)
	router.POST("/execute", handlers.Execute)
	router.POST("/validate", handlers.Validate)

	// WebSocket streaming needs a real engine behind it
	if engine != nil {
		wsHandler := ws.NewHandler(engine, profiles, cfg.Sandbox.DefaultProfile, metrics, logger)
		router.GET("/stream", wsHandler.HandleConnection)
	}

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		executor: executor,
		engine:   engine,
		profiles: profiles,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Router exposes the gin engine, used by integration tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until shutdown
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close gracefully shuts down the server and the engine
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(err))
		}
	}

	if err := s.executor.Close(ctx); err != nil {
		s.logger.Error("Failed to close executor", zap.Error(err))
		return fmt.Errorf("failed to close executor: %w", err)
	}

	s.logger.Info("Shutdown complete")
	_ = s.logger.Sync()
	return nil
}
