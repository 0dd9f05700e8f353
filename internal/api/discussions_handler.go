package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// DiscussionSummary is the list-view projection of a discussion.
type DiscussionSummary struct {
	ID           string                  `json:"id"`
	SectorID     string                  `json:"sectorId"`
	Title        string                  `json:"title"`
	Status       models.DiscussionStatus `json:"status"`
	Round        int                     `json:"round"`
	Messages     int                     `json:"messageCount"`
	Checklist    int                     `json:"checklistCount"`
	CreatedAt    string                  `json:"createdAt"`
	UpdatedAt    string                  `json:"updatedAt"`
	StatusReason string                  `json:"statusReason,omitempty"`
}

// EnrichedMessage carries the agent's display fields next to the message.
type EnrichedMessage struct {
	models.Message
	AgentName string `json:"agentName,omitempty"`
	AgentRole string `json:"agentRole,omitempty"`
}

func (s *Server) handleListDiscussions(c *gin.Context) {
	discussions, err := s.db.Discussions.Read()
	if err != nil {
		respondError(c, err)
		return
	}

	sectorID := c.Query("sectorId")
	statusFilter := c.Query("status")

	statusCounts := make(map[string]int)
	var filtered []models.Discussion
	for _, d := range discussions {
		if sectorID != "" && d.SectorID != sectorID {
			continue
		}
		statusCounts[string(d.Status)]++
		if statusFilter != "" && string(d.Status) != statusFilter {
			continue
		}
		filtered = append(filtered, d)
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	total := len(filtered)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	summaries := make([]DiscussionSummary, 0, end-start)
	for _, d := range filtered[start:end] {
		summaries = append(summaries, summarize(d))
	}

	c.JSON(http.StatusOK, gin.H{
		"discussions": summaries,
		"pagination": gin.H{
			"page":       page,
			"pageSize":   pageSize,
			"total":      total,
			"totalPages": totalPages,
		},
		"statusCounts": statusCounts,
	})
}

func (s *Server) handleGetDiscussion(c *gin.Context) {
	d, err := s.db.DiscussionByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	names := s.agentNames(d.SectorID)
	enriched := make([]EnrichedMessage, 0, len(d.Messages))
	for _, m := range d.Messages {
		em := EnrichedMessage{Message: m}
		if a, ok := names[m.AgentID]; ok {
			em.AgentName = a.Name
			em.AgentRole = a.Role
		}
		enriched = append(enriched, em)
	}

	c.JSON(http.StatusOK, gin.H{
		"discussion": d,
		"messages":   enriched,
	})
}

func (s *Server) handleStartDiscussion(c *gin.Context) {
	var req struct {
		SectorID string   `json:"sectorId"`
		Title    string   `json:"title"`
		AgentIDs []string `json:"agentIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.ValidationErrorf("body", "invalid JSON: %v", err))
		return
	}
	if req.SectorID == "" {
		respondError(c, models.ValidationErrorf("sectorId", "must not be empty"))
		return
	}

	d, err := s.discussions.Start(c.Request.Context(), req.SectorID, req.Title, req.AgentIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	s.hub.BroadcastEvent(EventDiscussionStarted, d)
	c.JSON(http.StatusCreated, gin.H{"discussion": d})
}

func (s *Server) handleAppendMessage(c *gin.Context) {
	var req struct {
		AgentID  string           `json:"agentId"`
		Content  string           `json:"content"`
		Role     string           `json:"role"`
		Proposal *models.Proposal `json:"proposal"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.ValidationErrorf("body", "invalid JSON: %v", err))
		return
	}
	if req.AgentID == "" {
		respondError(c, models.ValidationErrorf("agentId", "must not be empty"))
		return
	}

	d, err := s.discussions.AppendMessage(c.Request.Context(), c.Param("id"), req.AgentID, req.Content, req.Role, req.Proposal)
	if err != nil {
		respondError(c, err)
		return
	}
	s.hub.BroadcastEvent(EventMessageAppended, gin.H{"discussionId": d.ID, "agentId": req.AgentID})
	c.JSON(http.StatusOK, gin.H{"discussion": d})
}

func (s *Server) handleStartRounds(c *gin.Context) {
	var req struct {
		NumRounds int `json:"numRounds"`
	}
	// Empty body means default rounds.
	_ = c.ShouldBindJSON(&req)

	id := c.Param("id")
	if _, err := s.db.DiscussionByID(id); err != nil {
		respondError(c, err)
		return
	}

	go func() {
		if err := s.discussions.StartRounds(s.baseCtx, id, req.NumRounds); err != nil {
			log.Error().Err(err).Str("discussion_id", id).Msg("Background round loop failed")
		}
	}()
	s.hub.BroadcastEvent(EventRoundsStarted, gin.H{"discussionId": id, "numRounds": req.NumRounds})
	c.JSON(http.StatusOK, gin.H{"success": true, "scheduled": true})
}

func (s *Server) handleCloseDiscussion(c *gin.Context) {
	id := c.Param("id")
	if err := s.discussions.Close(id, "closed via API"); err != nil {
		respondError(c, err)
		return
	}
	d, err := s.db.DiscussionByID(id)
	if err != nil {
		respondError(c, err)
		return
	}
	s.hub.BroadcastEvent(EventDiscussionClosed, gin.H{"discussionId": id, "status": d.Status})
	c.JSON(http.StatusOK, gin.H{"discussion": d})
}

// handleArchiveDiscussion drives a discussion to DECIDED. Open items are
// pushed through a manager pass first; a state error after that triggers the
// sanctioned repair path and one retry.
func (s *Server) handleArchiveDiscussion(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := s.manager.EvaluateChecklist(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	d, err := s.db.DiscussionByID(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if d.Status != models.DiscussionDecided {
		if _, err := s.statuses.CheckAndTransitionToAwaitingExecution(id); err != nil {
			respondError(c, err)
			return
		}
		err = s.statuses.Transition(id, models.DiscussionDecided, "archived via API")
		if err != nil && errors.Is(err, models.ErrState) {
			if _, rerr := s.statuses.FixInconsistentDecidedState(id); rerr == nil {
				err = s.statuses.Transition(id, models.DiscussionDecided, "archived via API")
			}
		}
		if err != nil {
			respondError(c, err)
			return
		}
	}

	d, err = s.db.DiscussionByID(id)
	if err != nil {
		respondError(c, err)
		return
	}
	s.hub.BroadcastEvent(EventDiscussionDecided, gin.H{"discussionId": id, "status": d.Status})
	c.JSON(http.StatusOK, gin.H{"discussion": d})
}

func (s *Server) handleDiscussionState(c *gin.Context) {
	d, err := s.db.DiscussionByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"currentRound":     d.CurrentRound,
		"checklist":        d.Checklist,
		"roundHistory":     d.RoundHistory,
		"managerDecisions": d.ManagerDecisions,
		"status":           d.Status,
	})
}

func (s *Server) agentNames(sectorID string) map[string]models.Agent {
	out := make(map[string]models.Agent)
	agents, err := s.db.AgentsBySector(sectorID)
	if err != nil {
		return out
	}
	for _, a := range agents {
		out[a.ID] = a
	}
	return out
}

func summarize(d models.Discussion) DiscussionSummary {
	return DiscussionSummary{
		ID:           d.ID,
		SectorID:     d.SectorID,
		Title:        d.Title,
		Status:       d.Status,
		Round:        d.Round,
		Messages:     len(d.Messages),
		Checklist:    len(d.Checklist),
		CreatedAt:    d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    d.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		StatusReason: d.StatusReason,
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
