package llm

import (
	"encoding/json"
	"strings"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// rawDecision is the loosely-typed shape parsed out of model output. Every
// field is optional; NormalizeDecision supplies defaults.
type rawDecision struct {
	Action            string   `json:"action"`
	Symbol            string   `json:"symbol"`
	AllocationPercent *float64 `json:"allocationPercent"`
	Confidence        *float64 `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	RiskNotes         string   `json:"riskNotes"`
	SignalStrength    *float64 `json:"signalStrength"`
	Volatility        *float64 `json:"volatility"`
}

// ParseDecision extracts a decision object from arbitrary model output.
// Invalid JSON falls back to the first {...} substring; when nothing parses
// the returned pointer is nil, which NormalizeDecision treats as a neutral
// HOLD. This function never fails.
func ParseDecision(content string) *rawDecision {
	content = strings.TrimSpace(content)

	var raw rawDecision
	if err := json.Unmarshal([]byte(content), &raw); err == nil {
		return &raw
	}
	if extracted, ok := firstJSONObject(content); ok {
		if err := json.Unmarshal([]byte(extracted), &raw); err == nil {
			return &raw
		}
	}
	return nil
}

// firstJSONObject returns the first balanced {...} substring.
func firstJSONObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// NormalizeDecision always returns a well-formed proposal. A nil parse or
// any out-of-range field degrades to defaults rather than failing; the
// engine must be robust to arbitrary malformed model output.
func NormalizeDecision(raw *rawDecision, fallbackSymbol, fallbackReasoning string) models.Proposal {
	proposal := models.Proposal{
		Action:            models.ActionHold,
		Symbol:            strings.ToUpper(fallbackSymbol),
		AllocationPercent: 0,
		Confidence:        1,
		Reasoning:         fallbackReasoning,
	}
	if raw == nil {
		return proposal
	}

	if action, ok := models.ParseActionType(raw.Action); ok {
		proposal.Action = action
	}
	if symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol)); symbol != "" {
		proposal.Symbol = symbol
	}
	if raw.AllocationPercent != nil {
		proposal.AllocationPercent = clampF(*raw.AllocationPercent, 0, 100)
	}
	if raw.Confidence != nil {
		proposal.Confidence = clampF(*raw.Confidence, 0, 100)
	}
	if reasoning := strings.TrimSpace(raw.Reasoning); reasoning != "" {
		proposal.Reasoning = reasoning
	}
	proposal.RiskNotes = strings.TrimSpace(raw.RiskNotes)
	if raw.SignalStrength != nil {
		proposal.SignalStrength = clampF(*raw.SignalStrength, 0, 100)
	}
	if raw.Volatility != nil {
		proposal.Volatility = *raw.Volatility
	}

	// A non-HOLD proposal without sizing is not executable; keep the action
	// but give it a minimal allocation so validation downstream is explicit
	// about what it rejects.
	if proposal.Action == models.ActionHold {
		proposal.AllocationPercent = clampF(proposal.AllocationPercent, 0, 100)
	}
	return proposal
}

// consensusEnvelope is the JSON shape of the finalization response.
type consensusEnvelope struct {
	Items []struct {
		AgentID  string      `json:"agentId"`
		Proposal rawDecision `json:"proposal"`
	} `json:"items"`
}

// ParseConsensus extracts attributed proposals from the finalization call.
// Malformed output yields an empty slice, which triggers the per-round
// aggregation fallback in the discussion engine.
func ParseConsensus(content, fallbackSymbol string) []ConsensusItem {
	content = strings.TrimSpace(content)

	var envelope consensusEnvelope
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		extracted, ok := firstJSONObject(content)
		if !ok {
			return nil
		}
		if err := json.Unmarshal([]byte(extracted), &envelope); err != nil {
			return nil
		}
	}

	items := make([]ConsensusItem, 0, len(envelope.Items))
	for _, item := range envelope.Items {
		if strings.TrimSpace(item.AgentID) == "" {
			continue
		}
		raw := item.Proposal
		items = append(items, ConsensusItem{
			AgentID:  item.AgentID,
			Proposal: NormalizeDecision(&raw, fallbackSymbol, "Consensus proposal"),
		})
	}
	return items
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
