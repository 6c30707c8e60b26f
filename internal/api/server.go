// Package api exposes the trading system over HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/koofree/trading-bot/config"
	"github.com/koofree/trading-bot/internal/logging"
	"github.com/koofree/trading-bot/internal/signal"
	"github.com/koofree/trading-bot/internal/trading"
)

// SystemAPI defines what the trading system must expose to the HTTP layer
type SystemAPI interface {
	Start() error
	Stop() error
	Running() bool
	Status() map[string]interface{}
	LatestSignals() []*signal.TradingSignal
	OpenPositions() []trading.Position
	RiskSnapshot() trading.RiskMetrics
	TradeHistory(limit int) []trading.TradeRecord
}

// Server is the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	system     SystemAPI
	hub        *Hub
	logger     *logging.Logger
}

// NewServer builds the router and WebSocket hub. Call Start to listen.
func NewServer(cfg config.ServerConfig, system SystemAPI, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		system: system,
		hub:    NewHub(logger),
		logger: logger.WithComponent("api-server"),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/signals", s.handleSignals)
		apiGroup.GET("/positions", s.handlePositions)
		apiGroup.GET("/risk", s.handleRisk)
		apiGroup.GET("/trades", s.handleTrades)
		apiGroup.POST("/system/start", s.handleSystemStart)
		apiGroup.POST("/system/stop", s.handleSystemStop)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Hub returns the WebSocket broadcast hub for the trading system to push into
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and listens for HTTP connections. Blocks until
// the server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
