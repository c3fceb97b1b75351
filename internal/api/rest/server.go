package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.Service
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.Service) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
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
		// ==================== AUTH (PUBLIC) ====================
		v1.POST("/auth/token", s.issueToken)

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.Middleware())
		{
			authProtected.GET("/me", s.getCurrentKey)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.Middleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermRead), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== BOARD PROFILES (READ) ====================
		profiles := v1.Group("/profiles")
		profiles.Use(s.authService.Middleware())
		profiles.Use(auth.RequirePermission(auth.PermRead))
		{
			profiles.GET("", s.listProfiles)
			profiles.GET("/:profile", s.getProfile)
		}

		// ==================== BOARDS ====================
		boards := v1.Group("/boards")
		boards.Use(s.authService.Middleware())
		{
			// Read operations
			boards.GET("", auth.RequirePermission(auth.PermRead), s.listBoards)
			boards.GET("/:name", auth.RequirePermission(auth.PermRead), s.getBoard)
			boards.GET("/:name/signals", auth.RequirePermission(auth.PermRead), s.listSignals)
			boards.GET("/:name/signals/:header", auth.RequirePermission(auth.PermRead), s.getSignal)
			boards.GET("/:name/samples", auth.RequirePermission(auth.PermRead), s.listSamples)

			// Commands
			control := boards.Group("/:name")
			control.Use(auth.RequirePermission(auth.PermControl))
			{
				control.POST("/packets", s.injectPacket)
				control.POST("/battery/read", s.readBattery)
				control.POST("/color/read", s.readColor)

				control.POST("/magnetometer/preset", s.setMagnetometerPreset)
				control.POST("/magnetometer/configure", s.configureMagnetometer)
				control.POST("/magnetometer/start", s.startMagnetometer)
				control.POST("/magnetometer/stop", s.stopMagnetometer)

				control.GET("/fusion/config", s.getFusionConfig)
				control.PUT("/fusion/config", s.writeFusionConfig)
				control.POST("/fusion/start", s.startFusion)
				control.POST("/fusion/stop", s.stopFusion)

				control.PUT("/ibeacon", s.configureIBeacon)
			}
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.Middleware(), auth.RequirePermission(auth.PermRead), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
