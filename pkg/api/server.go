package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/finbase/stockpulse/pkg/config"
	"github.com/finbase/stockpulse/pkg/fabric"
	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/manager"
	"github.com/finbase/stockpulse/pkg/metrics"
)

// Server is the HTTP control-plane surface: submission, task control,
// task queries, websocket progress, and the operational endpoints.
type Server struct {
	cfg *config.Config
	mgr *manager.Manager
	hub *fabric.SocketHub // nil unless the socket fabric is active

	engine *gin.Engine
	srv    *http.Server
}

// New builds the server and its route table. hub may be nil.
func New(cfg *config.Config, mgr *manager.Manager, hub *fabric.SocketHub) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), requestMetrics())

	if cfg.API.EnableCORS {
		engine.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
			MaxAge:          12 * time.Hour,
		}))
	}

	s := &Server{cfg: cfg, mgr: mgr, hub: hub, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	analysis := s.engine.Group("/analysis")
	{
		analysis.POST("/start", s.handleStart)
		analysis.POST("/start/batch", s.handleStartBatch)
		analysis.GET("", s.handleList)
		analysis.POST("/:id/pause", s.handlePause)
		analysis.POST("/:id/resume", s.handleResume)
		analysis.POST("/:id/stop", s.handleStop)
		analysis.GET("/:id/status", s.handleStatus)
		analysis.GET("/:id/result", s.handleResult)
		analysis.GET("/:id/planned_steps", s.handlePlannedSteps)
		analysis.GET("/:id/current_step", s.handleCurrentStep)
		analysis.GET("/:id/history", s.handleHistory)
	}

	s.engine.GET("/health", gin.WrapF(metrics.HealthHandler()))
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	if s.hub != nil {
		s.engine.GET("/ws", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request)
		})
	}
}

// Handler exposes the route table for tests
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the context is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.API.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("api").Info().Str("addr", s.cfg.API.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
