package llm

import (
	"fmt"
	"strings"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// BuildAgentSystemPrompt carries the agent's identity and the sector's
// market state, plus the explicit policy preferring BUY/SELL over HOLD.
// The shape of this prompt is a compatibility contract with tuned models;
// change it only together with the parser.
func BuildAgentSystemPrompt(agent models.Agent, sector models.Sector) string {
	balance, _ := sector.Balance.Float64()
	return fmt.Sprintf(`You are %s, a %s trading agent in the %s sector.
Decision style: %s. Risk tolerance: %s.

Market state:
- Balance: %.2f
- Latest price: %.4f
- Trend: %+.2f%%
- Volatility: %.2f%%

Policy: prefer actionable BUY or SELL decisions over HOLD. Only answer HOLD
when no credible signal exists in either direction.`,
		agent.Name,
		agent.Role,
		sector.Name,
		agent.DecisionStyle,
		agent.RiskTolerance,
		balance,
		sector.CurrentPrice,
		sector.ChangePercent,
		sector.Volatility*100,
	)
}

// BuildAgentUserPrompt requests a strictly JSON-shaped proposal. When the
// agent has open refinement cycles, the prompt enumerates the rejected items
// and demands a new proposal; previous proposals are immutable.
func BuildAgentUserPrompt(agent models.Agent, sector models.Sector, previous []models.Message, discussion models.Discussion) string {
	var b strings.Builder

	if history := formatPreviousMessages(previous); history != "" {
		b.WriteString("Discussion so far:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}

	if rejected := rejectedItemsContext(agent.ID, discussion); rejected != "" {
		b.WriteString(rejected)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `Round %d. Analyse the market and respond with JSON only, exactly this shape:
{
  "action": "BUY" | "SELL" | "HOLD",
  "symbol": "%s",
  "allocationPercent": 0-100,
  "confidence": 0-100,
  "reasoning": "your analysis",
  "riskNotes": "optional risk considerations"
}`, discussion.Round, sector.Ticker)

	return b.String()
}

// BuildConsensusSystemPrompt frames the finalization call.
func BuildConsensusSystemPrompt(sector models.Sector) string {
	return fmt.Sprintf(`You are the discussion moderator for the %s sector.
You consolidate a multi-round agent discussion into a final, executable
checklist of trade actions. Attribute each action to the agent whose
contributions support it. Respond with JSON only.`, sector.Name)
}

// BuildConsensusUserPrompt feeds every round message into one call.
func BuildConsensusUserPrompt(sector models.Sector, discussion models.Discussion) string {
	var b strings.Builder
	b.WriteString("Full discussion transcript:\n")
	b.WriteString(formatPreviousMessages(discussion.Messages))
	fmt.Fprintf(&b, `
Produce the consensus checklist as JSON:
{
  "items": [
    {
      "agentId": "source agent id",
      "proposal": {
        "action": "BUY" | "SELL" | "HOLD",
        "symbol": "%s",
        "allocationPercent": 0-100,
        "confidence": 0-100,
        "reasoning": "consolidated reasoning"
      }
    }
  ]
}`, sector.Ticker)
	return b.String()
}

func formatPreviousMessages(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range messages {
		action := ""
		if m.Proposal != nil {
			action = fmt.Sprintf(" [proposed %s, alloc %.1f%%, conf %.0f]",
				m.Proposal.Action, m.Proposal.AllocationPercent, m.Proposal.Confidence)
		}
		fmt.Fprintf(&b, "- round %d, agent %s%s: %s\n", m.Round, m.AgentID, action, m.Content)
	}
	return b.String()
}

// rejectedItemsContext enumerates the agent's open refinement cycles so the
// model produces a new proposal instead of editing an immutable one.
func rejectedItemsContext(agentID string, discussion models.Discussion) string {
	var cycles []models.RefinementCycle
	for _, c := range discussion.ActiveRefinementCycles {
		if c.AgentID == agentID {
			cycles = append(cycles, c)
		}
	}
	if len(cycles) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your previous proposals were rejected by the manager:\n")
	for _, c := range cycles {
		fmt.Fprintf(&b, "- item %s (revision %d): %s\n", c.ItemID, c.RevisionCount, c.Reason)
	}
	b.WriteString("Previous proposals are immutable. Submit a NEW proposal that addresses the rejection reasons.\n")
	return b.String()
}
