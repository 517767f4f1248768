package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/api/websocket"
	"github.com/KevinKickass/VibeChessCore/internal/auth"
	"github.com/KevinKickass/VibeChessCore/internal/config"
	"github.com/KevinKickass/VibeChessCore/internal/machine"
	"github.com/KevinKickass/VibeChessCore/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusProvider returns the last published controller snapshot.
type StatusProvider interface {
	Status() machine.MachineStatus
}

// MoveHistory lists journaled moves.
type MoveHistory interface {
	RecentMoves(ctx context.Context, limit int) ([]storage.MoveRecord, error)
}

// Deps are the collaborators of the REST server. Auth and History are
// optional.
type Deps struct {
	Status  StatusProvider
	Intake  websocket.Submitter
	Live    *websocket.Hub
	Events  *websocket.Hub
	Auth    *auth.Service
	History MoveHistory
}

type Server struct {
	router    *gin.Engine
	deps      Deps
	validator *commandValidator
	logger    *zap.Logger
	server    *http.Server
	started   time.Time
}

func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	validator, err := newCommandValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    gin.New(),
		deps:      deps,
		validator: validator,
		logger:    logger,
		started:   time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// protected returns the auth middleware, or a pass-through when auth is off.
func (s *Server) protected() gin.HandlerFunc {
	if s.deps.Auth == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return s.deps.Auth.Middleware()
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ENDPOINTS (PUBLIC) ====================
		v1.POST("/auth/login", s.login)

		// ==================== MACHINE CONTROL ====================
		machine := v1.Group("/machine")
		machine.Use(s.protected())
		{
			machine.GET("/status", s.getMachineStatus)
			machine.POST("/command", s.executeMachineCommand)
			machine.GET("/journal", s.getJournal)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.protected())
		{
			system.GET("/status", s.getSystemStatus)
		}

		// ==================== WEBSOCKET (Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatusConnection)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.deps.Live, c.Writer, c.Request)
}

func (s *Server) wsStatusConnection(c *gin.Context) {
	websocket.ServeWs(s.deps.Events, c.Writer, c.Request)
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
