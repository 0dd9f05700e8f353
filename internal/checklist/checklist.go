// Package checklist validates proposals into executable checklist items.
// CreateFromProposal is the only path to a checklist item; invalid proposals
// become REJECTED fallback items so per-round accounting stays exact and
// provenance is never silently dropped.
package checklist

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// Options tune item validation.
type Options struct {
	AllowedSymbols      []string
	AllowZeroAmount     bool
	AllowZeroAllocation bool
}

// RawItem is the unvalidated item shape. Rationale accepts "reasoning" as a
// deprecated alias.
type RawItem struct {
	ID                string
	SourceAgentID     string
	ActionType        string
	Symbol            string
	Amount            float64
	AllocationPercent float64
	Confidence        float64
	Rationale         string
	Reasoning         string
	Status            string
	Round             int
}

// Validate checks every field of a raw item and returns the canonical
// checklist item, failing fast with the offending field named.
func Validate(raw RawItem, opts Options) (models.ChecklistItem, error) {
	if strings.TrimSpace(raw.ID) == "" {
		return models.ChecklistItem{}, models.ValidationErrorf("id", "must be a non-empty string")
	}
	if strings.TrimSpace(raw.SourceAgentID) == "" {
		return models.ChecklistItem{}, models.ValidationErrorf("sourceAgentId", "must be a non-empty string")
	}

	action, ok := models.ParseActionType(raw.ActionType)
	if !ok {
		return models.ChecklistItem{}, models.ValidationErrorf("actionType", "%q is not one of BUY, SELL, HOLD", raw.ActionType)
	}

	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if !symbolAllowed(symbol, opts.AllowedSymbols) {
		return models.ChecklistItem{}, models.ValidationErrorf("symbol", "%q is not in the allowed set %v", raw.Symbol, opts.AllowedSymbols)
	}

	if raw.AllocationPercent < 0 || raw.AllocationPercent > 100 {
		return models.ChecklistItem{}, models.ValidationErrorf("allocationPercent", "%.2f is outside [0,100]", raw.AllocationPercent)
	}
	if raw.AllocationPercent == 0 && action != models.ActionHold && !opts.AllowZeroAllocation {
		return models.ChecklistItem{}, models.ValidationErrorf("allocationPercent", "must be > 0 for %s", action)
	}

	if raw.Amount < 0 {
		return models.ChecklistItem{}, models.ValidationErrorf("amount", "%.4f is negative", raw.Amount)
	}
	if raw.Amount == 0 && action != models.ActionHold && raw.AllocationPercent > 0 && !opts.AllowZeroAmount {
		return models.ChecklistItem{}, models.ValidationErrorf("amount", "must be > 0 for %s with allocation %.2f%%", action, raw.AllocationPercent)
	}

	if raw.Confidence < 0 || raw.Confidence > 100 {
		return models.ChecklistItem{}, models.ValidationErrorf("confidence", "%.2f is outside [0,100]", raw.Confidence)
	}

	rationale := strings.TrimSpace(raw.Rationale)
	if rationale == "" {
		rationale = strings.TrimSpace(raw.Reasoning)
	}
	if rationale == "" {
		return models.ChecklistItem{}, models.ValidationErrorf("rationale", "must be non-empty")
	}

	status, ok := models.ParseItemStatus(raw.Status)
	if !ok {
		return models.ChecklistItem{}, models.ValidationErrorf("status", "%q is not a known item status", raw.Status)
	}

	now := time.Now().UTC()
	return models.ChecklistItem{
		ID:                raw.ID,
		SourceAgentID:     raw.SourceAgentID,
		ActionType:        action,
		Symbol:            symbol,
		Amount:            raw.Amount,
		AllocationPercent: raw.AllocationPercent,
		Confidence:        raw.Confidence,
		Rationale:         rationale,
		Status:            status,
		Round:             raw.Round,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Context carries what the builder needs from the owning sector.
type Context struct {
	Sector  models.Sector
	AgentID string
	Round   int
}

// CreateFromProposal converts a proposal into a checklist item. The amount
// is derived from allocationPercent against the sector balance at current
// price. An invalid proposal yields a REJECTED fallback item instead of an
// error: the round still accounts for the attempt.
func CreateFromProposal(proposal models.Proposal, ctx Context) models.ChecklistItem {
	raw := RawItem{
		ID:                uuid.NewString(),
		SourceAgentID:     ctx.AgentID,
		ActionType:        string(proposal.Action),
		Symbol:            proposal.Symbol,
		AllocationPercent: proposal.AllocationPercent,
		Amount:            deriveAmount(proposal, ctx.Sector),
		Confidence:        proposal.Confidence,
		Rationale:         proposal.Reasoning,
		Round:             ctx.Round,
	}

	item, err := Validate(raw, Options{AllowedSymbols: ctx.Sector.AllowedSymbols})
	if err != nil {
		now := time.Now().UTC()
		return models.ChecklistItem{
			ID:            raw.ID,
			SourceAgentID: ctx.AgentID,
			ActionType:    fallbackAction(proposal.Action),
			Symbol:        fallbackSymbol(proposal.Symbol, ctx.Sector),
			Confidence:    clamp(proposal.Confidence, 0, 100),
			Rationale:     "Rejected at validation: " + err.Error(),
			Status:        models.ItemRejected,
			Round:         ctx.Round,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return item
}

// deriveAmount converts allocationPercent into a quantity of the sector's
// instrument at the current price.
func deriveAmount(proposal models.Proposal, sector models.Sector) float64 {
	if proposal.Action == models.ActionHold || proposal.AllocationPercent <= 0 {
		return 0
	}
	if sector.CurrentPrice <= 0 {
		return 0
	}
	balance, _ := sector.Balance.Float64()
	notional := balance * proposal.AllocationPercent / 100
	return notional / sector.CurrentPrice
}

func symbolAllowed(symbol string, allowed []string) bool {
	if symbol == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToUpper(a) == symbol {
			return true
		}
	}
	return false
}

func fallbackAction(a models.ActionType) models.ActionType {
	if models.ValidActionType(a) {
		return a
	}
	return models.ActionHold
}

func fallbackSymbol(symbol string, sector models.Sector) string {
	up := strings.ToUpper(strings.TrimSpace(symbol))
	if up != "" {
		return up
	}
	return strings.ToUpper(sector.Ticker)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
