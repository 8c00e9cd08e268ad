// Package api implements the token broker: a small HTTP service that hands
// other local tools valid access tokens so every tool does not run its own
// refresh loop against the same stored credentials.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/internal/journal"
	"github.com/looplight/llmauth/internal/logging"
	"github.com/looplight/llmauth/sdk/access"
)

// Source is the slice of an authenticator the broker serves.
type Source interface {
	Status() auth.Status
	GetAccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (*auth.TokenRecord, error)
	DefaultHeaders(ctx context.Context) (map[string]string, error)
	GetAPIBase() string
	GetProjectID() string
}

// Server is the broker HTTP server.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	cfg     *config.Config
	sources map[string]Source
	events  *journal.Journal
	access  *access.Manager
}

// NewServer creates and initializes a broker instance serving the given
// token sources, keyed by provider id.
func NewServer(cfg *config.Config, sources map[string]Source, events *journal.Journal) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(corsMiddleware())

	manager := access.NewManager()
	manager.SetProviders(accessProviders(cfg))

	s := &Server{
		engine:  engine,
		cfg:     cfg,
		sources: sources,
		events:  events,
		access:  manager,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	return s
}

// UpdateAccess swaps the broker's API keys for the ones in the reloaded
// config. The localhost bypass is fixed at boot.
func (s *Server) UpdateAccess(cfg *config.Config) {
	s.access.SetProviders(accessProviders(cfg))
}

func accessProviders(cfg *config.Config) []access.Provider {
	if len(cfg.APIKeys) == 0 {
		return nil
	}
	return []access.Provider{access.NewAPIKeyProvider("config-api-key", cfg.APIKeys)}
}

// setupRoutes configures the broker endpoints.
func (s *Server) setupRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "llmauth token broker",
			"endpoints": []string{
				"GET /v1/providers",
				"GET /v1/providers/:provider",
				"GET /v1/providers/:provider/token",
				"POST /v1/providers/:provider/refresh",
				"GET /v1/events",
			},
		})
	})
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/v1")
	v1.Use(AuthMiddleware(s.cfg, s.access))
	{
		v1.GET("/providers", s.listProviders)
		v1.GET("/providers/:provider", s.providerStatus)
		v1.GET("/providers/:provider/token", s.providerToken)
		v1.POST("/providers/:provider/refresh", s.brokerKeyGuard(), s.providerRefresh)
		v1.GET("/events", s.listEvents)
	}
}

// Start begins listening for and serving HTTP requests. It blocks until the
// server stops.
func (s *Server) Start() error {
	log.Infof("token broker listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the broker without interrupting active
// requests.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping token broker...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// corsMiddleware adds CORS headers to every response and short-circuits
// preflight requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Api-Key, X-Broker-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
