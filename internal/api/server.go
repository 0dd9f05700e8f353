// Package api exposes the HTTP surface: discussion lifecycle, sector CRUD
// and balance movements, agent listing, the invariant validator, and the
// websocket event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sectorlabs/sectorsim/internal/discussion"
	"github.com/sectorlabs/sectorsim/internal/manager"
	"github.com/sectorlabs/sectorsim/internal/scheduler"
	"github.com/sectorlabs/sectorsim/internal/sector"
	"github.com/sectorlabs/sectorsim/internal/status"
	"github.com/sectorlabs/sectorsim/internal/store"
)

// Server represents the REST API server
type Server struct {
	router      *gin.Engine
	db          *store.Collections
	discussions *discussion.Engine
	manager     *manager.Engine
	statuses    *status.Service
	sectors     *sector.Service
	scheduler   *scheduler.Scheduler
	hub         *Hub
	addr        string
	server      *http.Server

	// baseCtx parents the background round loops scheduled by handlers so
	// they stop on shutdown, not when the request context ends.
	baseCtx context.Context
}

// Config contains server configuration
type Config struct {
	Host        string
	Port        int
	DB          *store.Collections
	Discussions *discussion.Engine
	Manager     *manager.Engine
	Statuses    *status.Service
	Sectors     *sector.Service
	Scheduler   *scheduler.Scheduler
	BaseContext context.Context
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	baseCtx := config.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	server := &Server{
		router:      router,
		db:          config.DB,
		discussions: config.Discussions,
		manager:     config.Manager,
		statuses:    config.Statuses,
		sectors:     config.Sectors,
		scheduler:   config.Scheduler,
		hub:         NewHub(),
		addr:        fmt.Sprintf("%s:%d", config.Host, config.Port),
		baseCtx:     baseCtx,
	}

	go server.hub.Run(baseCtx)
	server.setupRoutes()

	return server
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
