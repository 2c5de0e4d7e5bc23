// Package api provides the HTTP surface of the capture service: the ingest
// endpoint the interception host posts captured network events to, and the
// browsing endpoints that list, count and delete stored conversations.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/llmlog/llmlog/internal/adapter"
	"github.com/llmlog/llmlog/internal/config"
	"github.com/llmlog/llmlog/internal/dedupe"
	"github.com/llmlog/llmlog/internal/logging"
	"github.com/llmlog/llmlog/internal/store"
)

// Server is the capture API server.
type Server struct {
	engine *gin.Engine
	server *http.Server
	cfg    *config.Config

	handler *Handler
}

// NewServer creates and initializes a new API server routing captured events
// through the given adapter registry into the store.
func NewServer(cfg *config.Config, st *store.Store, registry *adapter.Registry) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine:  engine,
		cfg:     cfg,
		handler: NewHandler(cfg, st, registry),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/capture", s.handler.Capture)
		v1.GET("/conversations", s.handler.ListConversations)
		v1.GET("/conversations/all", s.handler.AllConversations)
		v1.GET("/conversations/count", s.handler.CountConversations)
		v1.DELETE("/conversations/:id", s.handler.DeleteConversation)
	}

	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":   "llmlog capture service",
			"platforms": s.handler.registry.Platforms(),
		})
	})
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	log.Infof("capture API listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// UpdateConfig applies a reloaded configuration: log level and dedup tuning
// take effect immediately, address changes require a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	s.handler.Reconfigure(cfg)
	s.cfg = cfg
	log.Info("configuration reloaded")
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// NewDedupeCaches builds one adapter-local fingerprint cache per platform
// from the configured tuning.
func NewDedupeCaches(cfg *config.Config, platforms []string) map[string]*dedupe.Cache {
	caches := make(map[string]*dedupe.Cache, len(platforms))
	for _, platform := range platforms {
		caches[platform] = dedupe.New(cfg.DedupWindow(), cfg.DedupMaxEntries)
	}
	return caches
}
