package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/filesync-core/internal/auth"
	"github.com/tonimelisma/filesync-core/internal/decision"
	"github.com/tonimelisma/filesync-core/internal/eventbus"
	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/storage"
	"github.com/tonimelisma/filesync-core/internal/uploadsession"
)

// Server is the explicit composition root for the HTTP surface: no
// container-managed singletons (spec.md §9) — every dependency is a field
// wired once at construction.
type Server struct {
	cfg       *Config
	store     repository.Store
	allocator *storage.Allocator
	sessions  *uploadsession.Manager
	engine    *decision.Engine
	authSvc   *auth.Service
	hub       *eventbus.Hub

	limiters *rateLimiterSet

	router *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// New wires the composition root and builds the gin router.
func New(cfg *Config, store repository.Store, allocator *storage.Allocator, sessions *uploadsession.Manager,
	engine *decision.Engine, authSvc *auth.Service, hub *eventbus.Hub, logger *slog.Logger,
) *Server {
	s := &Server{
		cfg: cfg, store: store, allocator: allocator, sessions: sessions,
		engine: engine, authSvc: authSvc, hub: hub, logger: logger,
		limiters: newRateLimiterSet(rate.Limit(cfg.UploadRateLimit), int(cfg.UploadRateLimit)+1),
	}

	s.setupRouter()

	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/refresh", s.handleRefresh)
	authGroup.POST("/logout", s.requireAuth(), s.handleLogout)

	files := api.Group("/files")
	files.Use(s.requireAuth())
	files.GET("/", s.handleListFiles)
	files.POST("/upload", s.uploadRateLimit(), s.handleUpload)
	files.GET("/:fileId/download", s.handleDownload)
	files.GET("/:fileId/download-chunked", s.handleDownload)
	files.GET("/:fileId/metadata", s.handleMetadata)
	files.PUT("/:fileId", s.uploadRateLimit(), s.handleUpdate)
	files.DELETE("/:fileId", s.handleDelete)
	files.GET("/:fileId/versions", s.handleVersions)

	files.POST("/upload/initiate-chunked", s.uploadRateLimit(), s.handleInitiateChunked)
	files.POST("/upload/chunk", s.uploadRateLimit(), s.handleUploadChunk)
	files.GET("/upload/status/:sessionId", s.handleUploadStatus)
	files.DELETE("/upload/cancel/:sessionId", s.handleCancelUpload)
	files.GET("/upload/sessions", s.handleListSessions)

	api.GET("/ws", s.handleSessionSocket)

	s.router = r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

// Run starts listening and blocks until the context is cancelled, then
// shuts the HTTP server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{Addr: s.cfg.ListenAddr, Handler: s.router}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)

		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http serve: %w", err)
			return
		}

		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return <-errCh

	case err := <-errCh:
		return err
	}
}

// Router exposes the gin engine directly, for tests using httptest.
func (s *Server) Router() *gin.Engine { return s.router }
