// Package api exposes the analysis and lifecycle operations over HTTP and streams
// chart commands to renderers over a websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pattern-tracker/internal/analysis/pipeline"
	"pattern-tracker/internal/lifecycle"
	"pattern-tracker/internal/library"
	"pattern-tracker/internal/stream"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Address          string        `mapstructure:"address"`
	ProductionMode   bool          `mapstructure:"production_mode"`
	AllowOrigins     []string      `mapstructure:"allow_origins"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	SweepMaxAgeHours float64       `mapstructure:"-"`
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:          "127.0.0.1:8090",
		AllowOrigins:     []string{"http://localhost:5173"},
		ShutdownTimeout:  10 * time.Second,
		SweepMaxAgeHours: 72,
	}
}

// Deps are the components served by the API.
type Deps struct {
	Tracker *pipeline.Tracker
	Library *library.Library
	Rules   lifecycle.RuleSet
	Hub     *stream.Hub
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	deps       Deps
	logger     zerolog.Logger
}

// NewServer creates a server and registers its routes.
func NewServer(config ServerConfig, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Tracker == nil {
		return nil, errors.New("api server requires a tracker")
	}
	if deps.Hub == nil {
		return nil, errors.New("api server requires a stream hub")
	}

	defaults := DefaultServerConfig()
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.SweepMaxAgeHours <= 0 {
		config.SweepMaxAgeHours = defaults.SweepMaxAgeHours
	}

	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		config: config,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.POST("/analyze", s.handleAnalyze)
	api.POST("/evaluate", s.handleEvaluate)
	api.POST("/update", s.handleUpdate)
	api.GET("/states/:symbol/:timeframe", s.handleStates)
	api.POST("/sweep", s.handleSweep)
	api.GET("/library", s.handleLibrary)
	api.GET("/library/:type", s.handleLibraryEntry)
	api.GET("/rules", s.handleRules)
	api.GET("/stream/metrics", s.handleStreamMetrics)

	s.router.GET("/ws/commands", s.handleCommandFeed)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.config.Address).Msg("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
