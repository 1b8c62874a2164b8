// Package statusserver exposes encoder state and metrics over HTTP.
package statusserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/hwencode/pkg/component"
	"github.com/user/hwencode/pkg/metrics"
	"github.com/user/hwencode/pkg/ports"
)

// Encoder is the part of a component the server reports on.
type Encoder interface {
	ID() string
	State() component.State
	EncoderState() component.EncoderState
	SlotCounts() component.SlotCounts
}

// Status is the body of GET /api/status.
type Status struct {
	ID           string               `json:"id"`
	State        string               `json:"state"`
	EncoderState string               `json:"encoderState"`
	Slots        component.SlotCounts `json:"slots"`
	Metrics      metrics.Snapshot     `json:"metrics"`
	Uptime       string               `json:"uptime"`
}

// Server wraps the HTTP server with dependencies
type Server struct {
	router  *gin.Engine
	encoder Encoder
	metrics *metrics.Metrics
	logger  ports.Logger
	started time.Time

	srv *http.Server
}

// New creates a new status server. metrics must not be nil.
func New(encoder Encoder, m *metrics.Metrics, logger ports.Logger) *Server {
	s := &Server{
		encoder: encoder,
		metrics: m,
		logger:  logger.WithComponent("status"),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
	}
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router = router
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr in the background until Shutdown.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	go func() {
		s.logger.Info("Status server listening on %s", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed: %v", err)
		}
	}()
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Status{
		ID:           s.encoder.ID(),
		State:        s.encoder.State().String(),
		EncoderState: s.encoder.EncoderState().String(),
		Slots:        s.encoder.SlotCounts(),
		Metrics:      s.metrics.Snapshot(),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
	})
}
