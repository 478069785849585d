package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/app"
)

const requestIDHeader = "X-Request-ID"

const shutdownTimeout = 10 * time.Second

// Server exposes the download gate and the inspection, reconciliation and
// maintenance triggers over HTTP.
type Server struct {
	service app.Service
	addr    string
	r       *gin.Engine
}

func NewServer(service app.Service) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{service: service, addr: service.Config.Server.Addr, r: r}
	r.Use(s.requestLogger())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": s.service.Config.Store.Backend})
	})

	v1 := s.r.Group("/api/v1")
	{
		v1.POST("/decide", s.handleDecide)
		v1.POST("/artifacts/inspect", s.handleInspectArtifact)
		v1.POST("/repositories/:repo/inspect", s.handleInspectRepository)
		v1.POST("/repositories/:repo/reconcile", s.handleReconcileRepository)
		v1.DELETE("/repositories/:repo/properties", s.handleClearProperties)
		v1.POST("/events", s.handleStorageEvent)
	}
}

// requestLogger attaches a request-scoped logger carrying the request id to
// the request context.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		logger := log.With().Str("request_id", id).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		started := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("request served")
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Ctx(ctx).Info().Str("addr", s.addr).Msg("compliance gate listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
