package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/matchmaker/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "matchmaker",
		"version": s.deps.Version,
	})
}

// handleGetInfo describes the running matchmaker and its host.
func (s *Server) handleGetInfo(c *gin.Context) {
	info := gin.H{
		"service": "matchmaker",
		"version": s.deps.Version,
		"game": gin.H{
			"version":      s.deps.Game.Version,
			"revision":     s.deps.Game.Revision,
			"default_port": s.deps.Game.DefaultPort,
		},
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"system":     util.GetSystemInfo(),
	}

	if s.deps.Router != nil {
		info["router_state"] = s.deps.Router.State().String()
	}
	if s.deps.Store != nil {
		if n, err := s.deps.Store.CountServers(); err == nil {
			info["servers_tracked"] = n
		}
	}

	c.JSON(http.StatusOK, info)
}

// handleGetHealth returns the latest health checks; 503 if any failed.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"healthy": true, "checks": []interface{}{}})
		return
	}

	status := http.StatusOK
	healthy := s.deps.Health.Healthy()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy": healthy,
		"checks":  s.deps.Health.Results(),
	})
}
