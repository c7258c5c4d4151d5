package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/httprunner/devicehub"
)

// Config controls the API server.
type Config struct {
	Addr         string
	PollInterval time.Duration
}

// Server exposes the REST and websocket surface over the orchestration core
// and owns the periodic discovery loop.
type Server struct {
	cfg          Config
	bridge       *devicehub.BridgeClient
	registry     *devicehub.Registry
	locks        *devicehub.LockManager
	orchestrator *devicehub.Orchestrator
	broadcaster  *devicehub.Broadcaster
	engine       *gin.Engine
}

// NewServer wires routes over the given core components.
func NewServer(cfg Config, bridge *devicehub.BridgeClient, registry *devicehub.Registry,
	locks *devicehub.LockManager, orchestrator *devicehub.Orchestrator, broadcaster *devicehub.Broadcaster) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	s := &Server{
		cfg:          cfg,
		bridge:       bridge,
		registry:     registry,
		locks:        locks,
		orchestrator: orchestrator,
		broadcaster:  broadcaster,
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware())
	s.setupRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		devices := api.Group("/devices")
		{
			devices.GET("", s.handleListDevices)
			devices.POST("/discover", s.handleDiscoverDevices)
			devices.POST("/connect", s.handleConnectDevice)
			devices.POST("/:id/lock", s.handleLockDevice)
			devices.POST("/:id/unlock", s.handleUnlockDevice)
			devices.POST("/:id/release", s.handleForceRelease)
			devices.POST("/:id/disconnect", s.handleDisconnectDevice)
			devices.GET("/:id/screenshot", s.handleScreenshot)
		}
		executions := api.Group("/executions")
		{
			executions.POST("", s.handleSubmitExecution)
			executions.GET("", s.handleListExecutions)
			executions.GET("/:id", s.handleGetExecution)
			executions.POST("/:id/stop", s.handleStopExecution)
			executions.GET("/:id/report", s.handleReportFile)
			executions.GET("/:id/report/*filepath", s.handleReportFile)
		}
	}

	router.GET("/ws/executions/:id", s.handleExecutionStream)
}

// Run serves HTTP until ctx is cancelled, with the discovery poll loop
// running alongside.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	group, groupCtx := errgroup.WithContext(ctx)
	devicehub.GroupGoSafe(groupCtx, group, "discovery-poller", s.pollDevices)
	group.Go(func() error {
		log.Info().Str("addr", s.cfg.Addr).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// pollDevices reconciles the registry against bridge discovery on a fixed
// interval. Individual cycle failures are logged and retried next tick.
func (s *Server) pollDevices(ctx context.Context) error {
	if err := s.discoverOnce(ctx); err != nil {
		log.Error().Err(err).Msg("initial device discovery failed")
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.discoverOnce(ctx); err != nil {
				log.Error().Err(err).Msg("device discovery cycle failed")
			}
		}
	}
}

func (s *Server) discoverOnce(ctx context.Context) error {
	discovered, err := s.bridge.ListDevices(ctx)
	if err != nil {
		return err
	}
	_, err = s.registry.Reconcile(ctx, discovered)
	return err
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
