package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/db"
	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/netaddr"
)

// serverKey normalises the :ip parameter to the store's IP-only key.
func serverKey(c *gin.Context) (string, bool) {
	addr, err := netaddr.Parse(c.Param("ip"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server address"})
		return "", false
	}
	return addr.IPString(), true
}

// handleListServers returns every tracked server with its addresses.
func (s *Server) handleListServers(c *gin.Context) {
	servers, err := s.deps.Store.ListServers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if servers == nil {
		servers = []db.ServerRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"servers": servers,
		"total":   len(servers),
	})
}

// handleGetServer returns one server record.
func (s *Server) handleGetServer(c *gin.Context) {
	key, ok := serverKey(c)
	if !ok {
		return
	}

	rec, err := s.deps.Store.GetServer(key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found", "server": key})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// handleDeleteServer forgets a server and its addresses.
func (s *Server) handleDeleteServer(c *gin.Context) {
	key, ok := serverKey(c)
	if !ok {
		return
	}

	removed, err := s.deps.Store.DeleteServer(key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found", "server": key})
		return
	}

	log.Info().Str("server", key).Str("client_ip", c.ClientIP()).Msg("server removed via API")
	s.deps.Bus.Emit(c.Request.Context(), events.New(events.EventServerRemoved, "api",
		events.ServerRemovedPayload{Server: key, Via: "api"}))

	c.JSON(http.StatusOK, gin.H{"removed": key})
}

// handleExpireServers runs an expiry sweep now.
func (s *Server) handleExpireServers(c *gin.Context) {
	if s.deps.Sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "expiry is not configured"})
		return
	}

	removed, err := s.deps.Sweeper.RunCleanup(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
