package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	discussions := s.router.Group("/discussions")
	{
		discussions.GET("", s.handleListDiscussions)
		discussions.POST("", s.handleStartDiscussion)
		discussions.GET("/:id", s.handleGetDiscussion)
		discussions.POST("/:id/message", s.handleAppendMessage)
		discussions.POST("/:id/start-rounds", s.handleStartRounds)
		discussions.POST("/:id/close", s.handleCloseDiscussion)
		discussions.POST("/:id/archive", s.handleArchiveDiscussion)
		discussions.GET("/:id/state", s.handleDiscussionState)
		discussions.GET("/:id/validate-invariants", s.handleValidateInvariants)
	}

	sectors := s.router.Group("/sectors")
	{
		sectors.GET("", s.handleListSectors)
		sectors.POST("", s.handleCreateSector)
		sectors.GET("/:id", s.handleGetSector)
		sectors.DELETE("/:id", s.handleDeleteSector)
		sectors.POST("/:id/deposit", s.handleDeposit)
		sectors.POST("/:id/withdraw", s.handleWithdraw)
		sectors.GET("/:id/executionLogs", s.handleExecutionLogs)
	}

	s.router.GET("/agents", s.handleListAgents)

	simulation := s.router.Group("/simulation")
	{
		simulation.POST("/pause", s.handlePauseSimulation)
		simulation.POST("/resume", s.handleResumeSimulation)
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/", s.handleRoot)
}
