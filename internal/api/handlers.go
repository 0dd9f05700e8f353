package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// Root handler
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "SectorSim API",
		"version": "1.0.0",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleHealth reports liveness plus the sectors whose loops died.
func (s *Server) handleHealth(c *gin.Context) {
	failed := s.scheduler.FailedSectors()
	status := "healthy"
	if len(failed) > 0 {
		status = "degraded"
	}
	failedIDs := make([]string, 0, len(failed))
	for id := range failed {
		failedIDs = append(failedIDs, id)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"timestamp":      time.Now().UTC(),
		"uptime":         time.Since(startTime).Seconds(),
		"paused":         s.scheduler.Paused(),
		"failed_sectors": failedIDs,
		"goroutines":     runtime.NumGoroutine(),
	})
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.db.Agents.Read()
	if err != nil {
		respondError(c, err)
		return
	}
	if sectorID := c.Query("sectorId"); sectorID != "" {
		filtered := agents[:0]
		for _, a := range agents {
			if a.SectorID == sectorID {
				filtered = append(filtered, a)
			}
		}
		agents = filtered
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

func (s *Server) handlePauseSimulation(c *gin.Context) {
	s.scheduler.SetPaused(true)
	c.JSON(http.StatusOK, gin.H{"success": true, "paused": true})
}

func (s *Server) handleResumeSimulation(c *gin.Context) {
	s.scheduler.SetPaused(false)
	c.JSON(http.StatusOK, gin.H{"success": true, "paused": false})
}
