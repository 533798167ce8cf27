package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulse-dm/config"
	"pulse-dm/internal/handler"
	"pulse-dm/internal/middleware"
	"pulse-dm/internal/transport/httpdto"
	"pulse-dm/internal/websocket"
	"pulse-dm/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Conversations *handler.ConversationHandler
	Messages      *handler.MessageHandler
	WebSocket     *websocket.Handler
}

// HealthCheck probes one backing service for /health.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Auth        middleware.Authenticator
	RateLimiter middleware.HTTPLimiter
	Health      map[string]HealthCheck
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// Engine exposes the router, mostly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Dependencies) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.AllowedOrigins))
	s.engine.Use(middleware.MetricsMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for name, check := range deps.Health {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(name+": "+err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if handlers.WebSocket != nil {
		s.engine.GET("/ws", handlers.WebSocket.Handle)
	}

	v1 := s.engine.Group("/v1")
	if deps.RateLimiter != nil {
		v1.Use(middleware.RateLimitMiddleware(deps.RateLimiter, s.logger))
	}
	v1.Use(middleware.AuthMiddleware(deps.Auth))

	conversations := v1.Group("/conversations")
	{
		conversations.GET("", handlers.Conversations.List)
		conversations.POST("", handlers.Conversations.Resolve)
		conversations.GET("/:id", handlers.Conversations.GetByID)
		conversations.GET("/:id/messages", handlers.Messages.List)
		conversations.GET("/:id/messages/search", handlers.Messages.Search)
		conversations.GET("/:id/messages/since", handlers.Messages.Since)
		conversations.POST("/:id/read", handlers.Messages.MarkRead)
		conversations.POST("/:id/delivered", handlers.Messages.MarkDelivered)
	}

	messages := v1.Group("/messages")
	{
		messages.POST("", handlers.Messages.Send)
		messages.GET("/unread-count", handlers.Messages.UnreadCount)
		messages.GET("/:id", handlers.Messages.GetByID)
		messages.PATCH("/:id", handlers.Messages.Edit)
		messages.DELETE("/:id", handlers.Messages.Delete)
		messages.PUT("/:id/reaction", handlers.Messages.React)
	}
}

// Start serves until SIGINT/SIGTERM or ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	select {
	case <-quit:
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	case <-ctx.Done():
		s.logger.Infof("Context cancelled.. Shutting down")
	case err := <-errCh:
		s.logger.Errorf("Error in starting the server: %s", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error in the graceful shutdown of the server: %s", err)
		return err
	}

	s.logger.Infof("Server stopped gracefully")
	return nil
}
