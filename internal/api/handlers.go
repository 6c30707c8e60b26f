package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.system.Status()
	status["ws_clients"] = s.hub.ClientCount()
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSignals(c *gin.Context) {
	signals := s.system.LatestSignals()
	c.JSON(http.StatusOK, gin.H{
		"signals": signals,
		"count":   len(signals),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	positions := s.system.OpenPositions()
	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.system.RiskSnapshot())
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	trades := s.system.TradeHistory(limit)
	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) handleSystemStart(c *gin.Context) {
	if s.system.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "trading system already running"})
		return
	}
	if err := s.system.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("Trading system started via API")
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleSystemStop(c *gin.Context) {
	if !s.system.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "trading system not running"})
		return
	}
	if err := s.system.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("Trading system stopped via API")
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}
