// Package llm builds structured prompts for agents, invokes the external
// model, and normalises whatever comes back into well-formed proposals. The
// model is treated as a black box; this package is fully responsible for
// parsing and fallback and never lets a model failure propagate upward.
package llm

import (
	"context"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// CompletionOptions tune a single chat completion request.
type CompletionOptions struct {
	JSONMode  bool
	MaxTokens int
}

// ChatClient is the black-box completion function
// (systemPrompt, userPrompt, options) -> string.
type ChatClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompletionOptions) (string, error)
}

// AgentMessage is the adapter's output for one worker turn.
type AgentMessage struct {
	Analysis string
	Proposal models.Proposal
}

// ConsensusItem is one executable proposal from the finalization call,
// attributed to the worker whose contributions back it.
type ConsensusItem struct {
	AgentID  string          `json:"agentId"`
	Proposal models.Proposal `json:"proposal"`
}

// DecisionAdapter produces agent contributions and the end-of-discussion
// consensus. Implementations never return malformed proposals: errors
// degrade to a neutral HOLD inside the adapter.
type DecisionAdapter interface {
	GenerateAgentMessage(ctx context.Context, agent models.Agent, sector models.Sector, previous []models.Message, discussion models.Discussion) AgentMessage
	GenerateConsensus(ctx context.Context, sector models.Sector, discussion models.Discussion) []ConsensusItem
}
