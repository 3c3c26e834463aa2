package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"catalogsync/internal/api/handlers"
	"catalogsync/internal/api/middleware"
	"catalogsync/internal/config"
	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/store"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Store     *store.Store
	Scheduler handlers.Syncer
	Progress  scheduler.ProgressStore
	// Requests queues asynchronous syncs; nil disables them.
	Requests handlers.RequestPublisher
}

type Server struct {
	config *config.Config
	logger *logger.Logger
	store  *store.Store
	router *gin.Engine
	server *http.Server
}

func New(cfg *config.Config, logger *logger.Logger, deps Dependencies) *Server {
	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.Metrics())

	// Initialize handlers
	feedSourceHandler := handlers.NewFeedSourceHandler(deps.Store, logger)
	productHandler := handlers.NewProductHandler(deps.Store, logger)
	syncHandler := handlers.NewSyncHandler(deps.Scheduler, deps.Progress, deps.Requests, deps.Store, logger)

	s := &Server{
		config: cfg,
		logger: logger,
		store:  deps.Store,
		router: router,
	}

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Routes
	v1 := router.Group("/api/v1")
	{
		// Feed sources
		feedSources := v1.Group("/feed-sources")
		{
			feedSources.GET("", feedSourceHandler.List)
			feedSources.GET("/:id", feedSourceHandler.Get)
			feedSources.POST("", feedSourceHandler.Create)
			feedSources.PUT("/:id", feedSourceHandler.Update)
			feedSources.POST("/:id/sync", syncHandler.SyncSource)
		}

		// Sweeps
		sync := v1.Group("/sync")
		{
			sync.POST("", syncHandler.StartSweep)
			sync.GET("/:sweep_id", syncHandler.Progress)
		}

		// Products
		products := v1.Group("/products")
		{
			products.GET("", productHandler.List)
			products.GET("/:id", productHandler.Get)
			products.PUT("/:id/active", productHandler.SetActive)
		}
	}

	return s
}

func (s *Server) health(c *gin.Context) {
	sqlDB, err := s.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server on " + addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}
