package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/sector"
)

func (s *Server) handleListSectors(c *gin.Context) {
	sectors, err := s.db.Sectors.Read()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sectors": sectors, "count": len(sectors)})
}

func (s *Server) handleGetSector(c *gin.Context) {
	sec, err := s.db.SectorByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sector": sec})
}

func (s *Server) handleCreateSector(c *gin.Context) {
	var req sector.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.ValidationErrorf("body", "invalid JSON: %v", err))
		return
	}

	sec, agents, err := s.sectors.Create(req)
	if err != nil {
		respondError(c, err)
		return
	}
	// New sectors join the simulation immediately.
	s.scheduler.AddSector(s.baseCtx, sec.ID)
	s.hub.BroadcastEvent(EventSectorCreated, gin.H{"sectorId": sec.ID, "ticker": sec.Ticker})
	c.JSON(http.StatusCreated, gin.H{"sector": sec, "agents": agents})
}

func (s *Server) handleDeleteSector(c *gin.Context) {
	var req struct {
		Confirm string `json:"confirm"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Confirm == "" {
		req.Confirm = c.Query("confirm")
	}

	id := c.Param("id")
	balance, err := s.sectors.Delete(id, req.Confirm)
	if err != nil {
		respondError(c, err)
		return
	}
	s.scheduler.CancelSector(id)
	s.hub.BroadcastEvent(EventSectorDeleted, gin.H{"sectorId": id})
	c.JSON(http.StatusOK, gin.H{"success": true, "releasedBalance": balance})
}

func (s *Server) handleDeposit(c *gin.Context) {
	s.handleBalanceMove(c, s.sectors.Deposit)
}

func (s *Server) handleWithdraw(c *gin.Context) {
	s.handleBalanceMove(c, s.sectors.Withdraw)
}

func (s *Server) handleBalanceMove(c *gin.Context, move func(string, string) (models.Sector, error)) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.ValidationErrorf("body", "invalid JSON: %v", err))
		return
	}
	sec, err := move(c.Param("id"), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sector": sec})
}

func (s *Server) handleExecutionLogs(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.db.SectorByID(id); err != nil {
		respondError(c, err)
		return
	}
	trades, err := s.db.ExecutionLog(id).Read()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}
