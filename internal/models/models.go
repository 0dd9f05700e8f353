// Package models holds the neutral domain types shared by every engine.
// Engines depend on this package only; they never depend on each other's
// internals, which keeps the dependency graph one-directional
// (discussion -> manager -> execution).
package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sector represents one isolated simulated market.
type Sector struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Ticker         string          `json:"ticker"`
	AllowedSymbols []string        `json:"allowedSymbols"`
	CurrentPrice   float64         `json:"currentPrice"`
	BaselinePrice  float64         `json:"baselinePrice"`
	Change         float64         `json:"change"`
	ChangePercent  float64         `json:"changePercent"`
	Volatility     float64         `json:"volatility"` // 0..1
	RiskScore      float64         `json:"riskScore"`  // 0..100
	Balance        decimal.Decimal `json:"balance"`
	Volume         decimal.Decimal `json:"volume"`
	AgentIDs       []string        `json:"agentIds"`
	DiscussionIDs  []string        `json:"discussionIds"`
	Candles        []Candle        `json:"candles"`
	SchemaVersion  int             `json:"schemaVersion,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// AllowsSymbol reports whether the symbol (case-insensitive) is tradable in
// this sector.
func (s *Sector) AllowsSymbol(symbol string) bool {
	up := strings.ToUpper(strings.TrimSpace(symbol))
	for _, allowed := range s.AllowedSymbols {
		if strings.ToUpper(allowed) == up {
			return true
		}
	}
	return false
}

// Candle is one OHLCV bucket of the sector's bounded history.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxCandleHistory bounds the per-sector candle ring.
const MaxCandleHistory = 100

// MaxWorkersPerSector bounds the worker roster of a sector.
const MaxWorkersPerSector = 5

// Agent is an autonomous participant bound to a single sector.
type Agent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Role          string    `json:"role"` // "manager" or a worker role string
	SectorID      string    `json:"sectorId"`
	Confidence    float64   `json:"confidence"` // 0..100
	RiskTolerance string    `json:"riskTolerance"`
	DecisionStyle string    `json:"decisionStyle"`
	Performance   float64   `json:"performance"` // cumulative P&L %
	TradeCount    int       `json:"tradeCount"`
	SchemaVersion int       `json:"schemaVersion,omitempty"`
	LastActiveAt  time.Time `json:"lastActiveAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IsManager reports whether this agent holds the sector's manager role.
func (a *Agent) IsManager() bool {
	return strings.EqualFold(a.Role, RoleManager)
}

// Proposal is the LLM-facing decision shape. It is validated once at the
// adapter boundary; internal code never inspects raw strings.
type Proposal struct {
	Action            ActionType `json:"action"`
	Symbol            string     `json:"symbol"`
	AllocationPercent float64    `json:"allocationPercent"` // 0..100
	Confidence        float64    `json:"confidence"`        // 0..100
	Reasoning         string     `json:"reasoning"`
	RiskNotes         string     `json:"riskNotes,omitempty"`
	SignalStrength    float64    `json:"signalStrength,omitempty"` // 0..100
	Volatility        float64    `json:"volatility,omitempty"`
}

// Message is one agent contribution inside a discussion.
type Message struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Round     int       `json:"round"`
	Proposal  *Proposal `json:"proposal,omitempty"`
	Observing bool      `json:"observing,omitempty"` // true for below-threshold non-participation
	CreatedAt time.Time `json:"createdAt"`
}

// RefinementEntry is one append-only record in an item's refinement log.
type RefinementEntry struct {
	Round     int       `json:"round"`
	Reason    string    `json:"reason"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// ChecklistItem is the executable payload derived from a proposal.
type ChecklistItem struct {
	ID                string            `json:"id"`
	SourceAgentID     string            `json:"sourceAgentId"`
	ActionType        ActionType        `json:"actionType"`
	Symbol            string            `json:"symbol"`
	Amount            float64           `json:"amount"`
	AllocationPercent float64           `json:"allocationPercent"`
	Confidence        float64           `json:"confidence"`
	Rationale         string            `json:"rationale"`
	Status            ItemStatus        `json:"status"`
	Round             int               `json:"round,omitempty"`
	RevisionCount     int               `json:"revisionCount"`
	PreviousVersions  []ChecklistItem   `json:"previousVersions,omitempty"`
	RefinementLog     []RefinementEntry `json:"refinementLog,omitempty"`
	Executed          bool              `json:"executed,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// checklistItemJSON carries the deprecated lowercase "action" alias on the
// wire. Writers emit it for legacy readers; loaders only consult it when
// actionType is absent.
type checklistItemJSON struct {
	ChecklistItemAlias
	Action string `json:"action,omitempty"`
}

// ChecklistItemAlias breaks marshal recursion.
type ChecklistItemAlias ChecklistItem

// MarshalJSON emits the canonical actionType plus the read-only action alias.
func (c ChecklistItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(checklistItemJSON{
		ChecklistItemAlias: ChecklistItemAlias(c),
		Action:             strings.ToLower(string(c.ActionType)),
	})
}

// UnmarshalJSON accepts records that only carry the legacy action field.
func (c *ChecklistItem) UnmarshalJSON(data []byte) error {
	var raw checklistItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ChecklistItem(raw.ChecklistItemAlias)
	if c.ActionType == "" && raw.Action != "" {
		if a, ok := ParseActionType(raw.Action); ok {
			c.ActionType = a
		}
	}
	return nil
}

// ManagerDecision records one manager verdict on a checklist item.
type ManagerDecision struct {
	ItemID    string     `json:"itemId"`
	Verdict   ItemStatus `json:"verdict"`
	Reason    string     `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
}

// RefinementCycle tracks an open reject -> revise -> re-evaluate loop.
type RefinementCycle struct {
	ItemID        string    `json:"itemId"`
	AgentID       string    `json:"agentId"`
	Reason        string    `json:"reason"`
	RevisionCount int       `json:"revisionCount"`
	OpenedAt      time.Time `json:"openedAt"`
}

// RoundSnapshot preserves the checklist as it stood when a round completed.
type RoundSnapshot struct {
	Round     int             `json:"round"`
	Checklist []ChecklistItem `json:"checklist"`
	Timestamp time.Time       `json:"timestamp"`
}

// Discussion is one bounded-round deliberation owned by a sector.
type Discussion struct {
	ID                     string            `json:"id"`
	SectorID               string            `json:"sectorId"`
	Title                  string            `json:"title"`
	ParticipantIDs         []string          `json:"participantIds"` // workers only
	Messages               []Message         `json:"messages"`
	Checklist              []ChecklistItem   `json:"checklist"`
	Round                  int               `json:"round"`
	CurrentRound           int               `json:"currentRound"` // always equal to Round
	RoundHistory           []RoundSnapshot   `json:"roundHistory,omitempty"`
	ManagerDecisions       []ManagerDecision `json:"managerDecisions,omitempty"`
	ActiveRefinementCycles []RefinementCycle `json:"activeRefinementCycles,omitempty"`
	ChecklistAttempts      map[string]bool   `json:"checklistAttempts,omitempty"` // "agentId:round" -> attempted
	Status                 DiscussionStatus  `json:"status"`
	StatusReason           string            `json:"statusReason,omitempty"`
	SchemaVersion          int               `json:"schemaVersion,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
}

// SetRound keeps the round and currentRound fields in lockstep; they are the
// same value, the 1-based index of the round being executed.
func (d *Discussion) SetRound(r int) {
	d.Round = r
	d.CurrentRound = r
}

// AttemptKey builds the per-(agent,round) guardrail key.
func AttemptKey(agentID string, round int) string {
	return agentID + ":" + strconv.Itoa(round)
}

// HasChecklistItemForRound reports whether the agent already owns an item in
// the given round. Duplicate creation is a defect, not a warning.
func (d *Discussion) HasChecklistItemForRound(agentID string, round int) bool {
	for i := range d.Checklist {
		if d.Checklist[i].SourceAgentID == agentID && d.Checklist[i].Round == round {
			return true
		}
	}
	return false
}

// HasAttemptedChecklistCreation reports whether creation was already tried
// for the (agent, round) pair, regardless of its outcome.
func (d *Discussion) HasAttemptedChecklistCreation(agentID string, round int) bool {
	return d.ChecklistAttempts[AttemptKey(agentID, round)]
}

// MarkChecklistAttempt records that creation was attempted once.
func (d *Discussion) MarkChecklistAttempt(agentID string, round int) {
	if d.ChecklistAttempts == nil {
		d.ChecklistAttempts = make(map[string]bool)
	}
	d.ChecklistAttempts[AttemptKey(agentID, round)] = true
}

// ItemByID returns a pointer into the checklist, or nil.
func (d *Discussion) ItemByID(id string) *ChecklistItem {
	for i := range d.Checklist {
		if d.Checklist[i].ID == id {
			return &d.Checklist[i]
		}
	}
	return nil
}

// PendingItems counts items that still need manager attention.
func (d *Discussion) PendingItems() int {
	n := 0
	for i := range d.Checklist {
		if !d.Checklist[i].Status.IsTerminal() {
			n++
		}
	}
	return n
}

// PriceEntry is one append-only price history record.
type PriceEntry struct {
	ID        string    `json:"id"`
	SectorID  string    `json:"sectorId"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxPriceHistory bounds the global price history file.
const MaxPriceHistory = 100000

// Trade is an executed order emitted by the order book.
type Trade struct {
	ID        string          `json:"id"`
	SectorID  string          `json:"sectorId"`
	AgentID   string          `json:"agentId"`
	ItemID    string          `json:"itemId,omitempty"`
	Action    ActionType      `json:"action"`
	Symbol    string          `json:"symbol"`
	Price     float64         `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Notional  decimal.Decimal `json:"notional"`
	Timestamp time.Time       `json:"timestamp"`
}
