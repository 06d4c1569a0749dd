package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	coreerrors "github.com/aevon-lab/event-aggregator/internal/core/errors"
	"github.com/gin-gonic/gin"
)

const (
	statusConnected     = "connected"
	statusDisconnected  = "disconnected"
	statusNotConfigured = "not_configured"
)

type Server struct {
	Engine *gin.Engine
	Addr   string
	db     HealthChecker
	buffer HealthChecker
}

// HealthChecker is an interface for components that can report their health status.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// New builds the gin engine and registers /health. buffer may be nil when
// the aggregator runs without a transfer buffer.
func New(addr string, db, buffer HealthChecker, mode string) *Server {
	// Set Gin mode based on configuration
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine: r,
		Addr:   addr,
		db:     db,
		buffer: buffer,
	}

	r.GET("/health", s.healthHandler)

	return s
}

// healthHandler reports 503 when the store is unreachable. A broken buffer
// only degrades the report since ingestion falls back to direct processing.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := probe(ctx, "database", s.db)
	bufferStatus := probe(ctx, "buffer", s.buffer)

	body := gin.H{
		"status":   "healthy",
		"database": dbStatus,
		"buffer":   bufferStatus,
	}

	switch {
	case dbStatus != statusConnected:
		body["status"] = "unhealthy"
		body["error_type"] = coreerrors.HttpServiceUnavailableErr
		body["error"] = "database unreachable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	case bufferStatus == statusDisconnected:
		body["status"] = "degraded"
	}

	c.JSON(http.StatusOK, body)
}

func probe(ctx context.Context, name string, hc HealthChecker) string {
	if hc == nil {
		return statusNotConfigured
	}
	if err := hc.Ping(ctx); err != nil {
		slog.Error("Health check failed", "component", name, "error", err)
		return statusDisconnected
	}
	return statusConnected
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
