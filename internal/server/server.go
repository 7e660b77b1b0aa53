package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/pwa-marketplace/backend/internal/api/http"
	"github.com/pwa-marketplace/backend/internal/api/middleware"
	"github.com/pwa-marketplace/backend/internal/api/ws"
	"github.com/pwa-marketplace/backend/internal/bridge"
	"github.com/pwa-marketplace/backend/internal/events"
	"github.com/pwa-marketplace/backend/internal/infrastructure/config"
	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/infrastructure/monitoring"
	"github.com/pwa-marketplace/backend/internal/policy"
	"github.com/pwa-marketplace/backend/internal/providers"
	"github.com/pwa-marketplace/backend/internal/sandbox"
	"github.com/pwa-marketplace/backend/internal/secrets"
)

// Server wires the runtime together: policy registry, sandbox manager,
// protocol bridge, event stream, and the HTTP API over all of them.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	registry  *policy.Registry
	sandboxes *sandbox.Manager
	bridge    *bridge.Bridge
	caller    *lazyClient
	bus       *events.Bus

	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics

	stopUptime chan struct{}
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing marketplace runtime",
		zap.String("port", cfg.Server.Port),
		zap.String("bridge_addr", cfg.Bridge.Address),
		zap.Bool("bridge_enabled", cfg.Bridge.Enabled),
	)

	metrics := monitoring.NewMetrics()
	bus := events.NewBus()

	registry := policy.NewRegistry(logger).
		WithMetrics(metrics).
		WithCacheTTL(cfg.Policy.CacheTTL)

	if cfg.Policy.File != "" {
		policies, err := config.LoadPolicies(cfg.Policy.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy file: %w", err)
		}
		for _, p := range policies {
			registry.RegisterPolicy(p)
		}
		logger.Info("Loaded policy bundle",
			zap.String("file", cfg.Policy.File),
			zap.Int("policies", len(policies)),
		)
	}

	sandboxes := sandbox.NewManager(registry, logger).
		WithMetrics(metrics).
		WithEvents(bus)

	var mcpBridge *bridge.Bridge
	var caller *lazyClient
	if cfg.Bridge.Enabled {
		mcpBridge = bridge.New(logger).
			WithMetrics(metrics).
			WithGracePeriod(cfg.Bridge.GracePeriod).
			WithEventHook(func(event string, connID uint64) {
				bus.Publish(events.Event{
					Type:    events.TypeConnection,
					Message: event,
					Data:    map[string]interface{}{"conn_id": connID},
				})
			})
		providers.RegisterAll(mcpBridge, providers.NewStorage(), providers.NewSystem())

		caller = newLazyClient(cfg.Bridge.Address, cfg.Bridge.CallTimeout, logger)
		sandboxes.WithCaller(caller)
	}

	tokenSource := secrets.NewEnvSource(cfg.GitHub.TokenEnv)
	validator := secrets.NewGitHubValidator(cfg.GitHub.APIBase, tokenSource)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
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

	handlers := apihttp.NewHandlers(registry, sandboxes, logger).
		WithValidator(validator)
	if mcpBridge != nil {
		handlers.WithBridge(mcpBridge)
	}
	wsHandler := ws.NewHandler(bus, logger).WithMetrics(metrics)

	router.GET("/health", handlers.Health)

	router.POST("/policies", handlers.RegisterPolicy)
	router.GET("/policies", handlers.ListPolicies)
	router.GET("/policies/:name", handlers.GetPolicy)
	router.POST("/policies/apply", handlers.ApplyPolicy)

	router.POST("/permissions/grant", handlers.GrantPermissions)
	router.DELETE("/permissions/:app_id", handlers.RevokePermissions)
	router.GET("/permissions/:app_id", handlers.AppPermissions)
	router.GET("/permissions/:app_id/check", handlers.CheckPermission)

	router.POST("/sandboxes", handlers.SpawnSandbox)
	router.GET("/sandboxes", handlers.ListSandboxes)
	router.GET("/sandboxes/:app_id", handlers.GetSandbox)
	router.DELETE("/sandboxes/:app_id", handlers.CloseSandbox)
	router.POST("/sandboxes/:app_id/url", handlers.LoadURL)
	router.POST("/sandboxes/:app_id/permissions", handlers.RequestPermission)
	router.POST("/sandboxes/:app_id/storage", handlers.StoreData)
	router.GET("/sandboxes/:app_id/storage/:key", handlers.GetData)
	router.POST("/sandboxes/:app_id/notifications", handlers.SendNotification)
	router.GET("/sandboxes/:app_id/notifications", handlers.ListNotifications)
	router.POST("/sandboxes/:app_id/mcp", handlers.MCPRequest)

	router.GET("/bridge/stats", handlers.BridgeStats)
	router.GET("/auth/github/validate", handlers.ValidateToken)

	router.GET("/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized")

	return &Server{
		router:     router,
		registry:   registry,
		sandboxes:  sandboxes,
		bridge:     mcpBridge,
		caller:     caller,
		bus:        bus,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
		stopUptime: make(chan struct{}),
	}, nil
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the bridge listener and the HTTP server. It blocks until the
// HTTP server stops.
func (s *Server) Run() error {
	if s.bridge != nil {
		go func() {
			if err := s.bridge.ListenAndServe(s.config.Bridge.Address); err != nil {
				s.logger.Error("Bridge stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.metrics.UpdateUptime()
			case <-s.stopUptime:
				return
			}
		}
	}()

	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops everything in dependency order: HTTP first so no new work
// arrives, then sandboxes, then the bridge and its client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down")
	close(s.stopUptime)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
	}

	s.sandboxes.CloseAll()

	if s.caller != nil {
		if err := s.caller.Close(); err != nil {
			s.logger.Warn("Bridge client close failed", zap.Error(err))
		}
	}
	if s.bridge != nil {
		if err := s.bridge.Shutdown(ctx); err != nil {
			s.logger.Warn("Bridge shutdown incomplete", zap.Error(err))
			return err
		}
	}

	s.logger.Sync()
	return nil
}
