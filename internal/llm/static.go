package llm

import (
	"context"
	"fmt"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// StaticAdapter is the deterministic adapter selected when LLM_ENABLED is
// false. Every worker turn yields a neutral HOLD carrying the agent's
// current confidence, and finalization always defers to the per-round
// aggregation fallback.
type StaticAdapter struct{}

// NewStaticAdapter creates the deterministic HOLD adapter.
func NewStaticAdapter() *StaticAdapter {
	return &StaticAdapter{}
}

// GenerateAgentMessage returns a neutral observation for the agent.
func (s *StaticAdapter) GenerateAgentMessage(_ context.Context, agent models.Agent, sector models.Sector, _ []models.Message, discussion models.Discussion) AgentMessage {
	analysis := fmt.Sprintf("%s holds position in round %d: price %.4f, trend %+.2f%%.",
		agent.Name, discussion.Round, sector.CurrentPrice, sector.ChangePercent)
	return AgentMessage{
		Analysis: analysis,
		Proposal: models.Proposal{
			Action:            models.ActionHold,
			Symbol:            sector.Ticker,
			AllocationPercent: 0,
			Confidence:        agent.Confidence,
			Reasoning:         analysis,
		},
	}
}

// GenerateConsensus returns nil so finalization aggregates per round.
func (s *StaticAdapter) GenerateConsensus(context.Context, models.Sector, models.Discussion) []ConsensusItem {
	return nil
}
