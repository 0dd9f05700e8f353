// Package manager implements the per-sector manager agent: it evaluates
// checklist items, runs capped refinement cycles, dispatches approved items
// to execution, and drives the discussion to its terminal state.
package manager

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sectorlabs/sectorsim/internal/confidence"
	"github.com/sectorlabs/sectorsim/internal/metrics"
	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/orderbook"
	"github.com/sectorlabs/sectorsim/internal/status"
	"github.com/sectorlabs/sectorsim/internal/store"
)

// MaxRefinementRounds caps reject -> revise cycles per item. Reaching the
// cap collapses the item to ACCEPT_REJECTION.
const MaxRefinementRounds = 3

// Engine is the manager decision engine.
type Engine struct {
	db       *store.Collections
	statuses *status.Service
	executor *orderbook.Executor
	log      zerolog.Logger
}

// NewEngine creates a manager engine over the shared services.
func NewEngine(db *store.Collections, statuses *status.Service, executor *orderbook.Executor, log zerolog.Logger) *Engine {
	return &Engine{
		db:       db,
		statuses: statuses,
		executor: executor,
		log:      log.With().Str("component", "manager").Logger(),
	}
}

// CheckEligibility verifies that a sector may start a discussion: positive
// balance, no active discussion, and every worker at or above the gating
// threshold. Violations surface as validation or contention errors.
func (e *Engine) CheckEligibility(sectorID string) error {
	sector, err := e.db.SectorByID(sectorID)
	if err != nil {
		return err
	}
	if sector.Balance.LessThanOrEqual(decimal.Zero) {
		return models.ValidationErrorf("balance", "sector %s has no balance to trade", sectorID)
	}

	discussions, err := e.db.Discussions.Read()
	if err != nil {
		return err
	}
	for _, d := range discussions {
		if d.SectorID == sectorID && !d.Status.IsTerminal() {
			return models.ContentionErrorf("sector %s already has active discussion %s", sectorID, d.ID)
		}
	}

	agents, err := e.db.AgentsBySector(sectorID)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.IsManager() {
			continue
		}
		if !confidence.Eligible(a.Confidence) {
			return models.ValidationErrorf("confidence", "agent %s confidence %.3f below 65", a.ID, a.Confidence)
		}
	}
	return nil
}

// hard-constraint phrases promote a rejection straight to ACCEPT_REJECTION.
var hardConstraintHints = []string{"forbidden", "policy", "violation", "not allowed", "rule"}

// risk hints trigger the halve-amount revision path.
var riskHints = []string{"too risky", "risk too high", "risky"}

func containsAny(reason string, hints []string) bool {
	lower := strings.ToLower(reason)
	for _, h := range hints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// EvaluateChecklist runs one manager pass over the discussion: every
// PENDING or RESUBMITTED item gets a verdict, open revisions are processed,
// approved items are executed, and the discussion is closed if complete.
func (e *Engine) EvaluateChecklist(ctx context.Context, discussionID string) error {
	for pass := 0; pass <= MaxRefinementRounds; pass++ {
		open, err := e.evaluatePass(ctx, discussionID)
		if err != nil {
			return err
		}
		if !open {
			break
		}
		if err := e.processRefinements(discussionID); err != nil {
			return err
		}
	}

	if err := e.executeApproved(ctx, discussionID); err != nil {
		return err
	}
	return e.CloseIfComplete(ctx, discussionID)
}

// evaluatePass gives a verdict to every open item. Returns true when any
// item entered REVISE_REQUIRED and another refinement pass is needed.
func (e *Engine) evaluatePass(ctx context.Context, discussionID string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	discussion, err := e.db.DiscussionByID(discussionID)
	if err != nil {
		return false, err
	}
	sector, err := e.db.SectorByID(discussion.SectorID)
	if err != nil {
		return false, err
	}

	needsRefinement := false
	_, err = e.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		now := time.Now().UTC()
		for i := range d.Checklist {
			item := &d.Checklist[i]
			if item.Status == models.ItemReviseRequired {
				// Left over from an interrupted pass; still needs the
				// refinement step.
				needsRefinement = true
				continue
			}
			if item.Status != models.ItemPending && item.Status != models.ItemResubmitted {
				continue
			}
			verdict, reason := e.judge(item, sector)
			item.Status = verdict
			item.UpdatedAt = now
			d.ManagerDecisions = append(d.ManagerDecisions, models.ManagerDecision{
				ItemID:    item.ID,
				Verdict:   verdict,
				Reason:    reason,
				Timestamp: now,
			})
			switch verdict {
			case models.ItemReviseRequired:
				needsRefinement = true
				d.ActiveRefinementCycles = append(d.ActiveRefinementCycles, models.RefinementCycle{
					ItemID:        item.ID,
					AgentID:       item.SourceAgentID,
					Reason:        reason,
					RevisionCount: item.RevisionCount,
					OpenedAt:      now,
				})
			case models.ItemRejected, models.ItemAcceptRejection:
				d.ActiveRefinementCycles = removeCycle(d.ActiveRefinementCycles, item.ID)
			case models.ItemApproved:
				d.ActiveRefinementCycles = removeCycle(d.ActiveRefinementCycles, item.ID)
			}
			metrics.ItemsEvaluated.WithLabelValues(string(verdict)).Inc()
			e.log.Info().
				Str("discussion_id", d.ID).
				Str("item_id", item.ID).
				Str("verdict", string(verdict)).
				Str("reason", reason).
				Msg("Checklist item evaluated")
		}
		return nil
	})
	return needsRefinement, err
}

// judge applies the manager's evaluation policy to one item.
func (e *Engine) judge(item *models.ChecklistItem, sector models.Sector) (models.ItemStatus, string) {
	if item.ActionType == models.ActionHold {
		return models.ItemApproved, "HOLD carries no execution risk"
	}
	if item.Confidence < 30 {
		return models.ItemRejected, "proposal confidence too low to act on"
	}
	if item.AllocationPercent > 50 {
		return models.ItemReviseRequired, "allocation too risky: exceeds half the sector balance"
	}
	if sector.RiskScore > 70 && item.AllocationPercent > 25 {
		return models.ItemReviseRequired, "risk too high for current sector volatility"
	}
	if item.ActionType == models.ActionBuy && sector.Balance.LessThanOrEqual(decimal.Zero) {
		return models.ItemRejected, "no balance available for BUY"
	}
	return models.ItemApproved, "within risk limits"
}

// processRefinements advances every REVISE_REQUIRED item: hard constraints
// and exhausted caps collapse to ACCEPT_REJECTION; risk-flagged items are
// resubmitted with halved amount and trimmed confidence.
func (e *Engine) processRefinements(discussionID string) error {
	_, err := e.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		now := time.Now().UTC()
		for i := range d.Checklist {
			item := &d.Checklist[i]
			if item.Status != models.ItemReviseRequired {
				continue
			}
			reason := lastReason(d, item.ID)

			if containsAny(reason, hardConstraintHints) {
				collapse(item, d, reason, now)
				continue
			}
			if item.RevisionCount >= MaxRefinementRounds {
				collapse(item, d, "refinement cap reached", now)
				continue
			}

			// Snapshot the version being replaced; proposals are immutable.
			prev := *item
			prev.PreviousVersions = nil
			item.PreviousVersions = append(item.PreviousVersions, prev)
			item.RevisionCount++
			item.RefinementLog = append(item.RefinementLog, models.RefinementEntry{
				Round:     d.Round,
				Reason:    reason,
				Outcome:   string(models.ItemResubmitted),
				Timestamp: now,
			})
			if containsAny(reason, riskHints) || containsAny(reason, []string{"allocation"}) {
				item.Amount /= 2
				item.AllocationPercent /= 2
				item.Confidence -= 10
				if item.Confidence < 1 {
					item.Confidence = 1
				}
			}
			if item.RevisionCount >= MaxRefinementRounds {
				collapse(item, d, "refinement cap reached", now)
				continue
			}
			item.Status = models.ItemResubmitted
			item.UpdatedAt = now
		}
		return nil
	})
	return err
}

func collapse(item *models.ChecklistItem, d *models.Discussion, reason string, now time.Time) {
	item.Status = models.ItemAcceptRejection
	if item.RevisionCount > MaxRefinementRounds {
		item.RevisionCount = MaxRefinementRounds
	}
	item.UpdatedAt = now
	item.RefinementLog = append(item.RefinementLog, models.RefinementEntry{
		Round:     d.Round,
		Reason:    reason,
		Outcome:   string(models.ItemAcceptRejection),
		Timestamp: now,
	})
	d.ActiveRefinementCycles = removeCycle(d.ActiveRefinementCycles, item.ID)
}

func lastReason(d *models.Discussion, itemID string) string {
	for i := len(d.ManagerDecisions) - 1; i >= 0; i-- {
		if d.ManagerDecisions[i].ItemID == itemID {
			return d.ManagerDecisions[i].Reason
		}
	}
	return ""
}

func removeCycle(cycles []models.RefinementCycle, itemID string) []models.RefinementCycle {
	out := cycles[:0]
	for _, c := range cycles {
		if c.ItemID != itemID {
			out = append(out, c)
		}
	}
	return out
}

// executeApproved dispatches every approved, not-yet-executed item.
func (e *Engine) executeApproved(ctx context.Context, discussionID string) error {
	discussion, err := e.db.DiscussionByID(discussionID)
	if err != nil {
		return err
	}
	sector, err := e.db.SectorByID(discussion.SectorID)
	if err != nil {
		return err
	}

	for _, item := range discussion.Checklist {
		if item.Status != models.ItemApproved || item.Executed {
			continue
		}
		_, err := e.executor.Execute(ctx, orderbook.ExecuteDecision{
			SectorID:  discussion.SectorID,
			ItemID:    item.ID,
			AgentID:   item.SourceAgentID,
			Action:    item.ActionType,
			Symbol:    item.Symbol,
			Quantity:  decimal.NewFromFloat(item.Amount),
			RiskScore: sector.RiskScore,
		})
		itemID := item.ID
		if err != nil {
			// Execution rejection is a manager rejection after the fact.
			e.log.Warn().
				Err(err).
				Str("discussion_id", discussionID).
				Str("item_id", itemID).
				Msg("Execution rejected approved item")
			if _, uerr := e.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
				if it := d.ItemByID(itemID); it != nil {
					it.Status = models.ItemRejected
					it.UpdatedAt = time.Now().UTC()
					d.ManagerDecisions = append(d.ManagerDecisions, models.ManagerDecision{
						ItemID:    itemID,
						Verdict:   models.ItemRejected,
						Reason:    "execution rejected: " + err.Error(),
						Timestamp: time.Now().UTC(),
					})
				}
				return nil
			}); uerr != nil {
				return uerr
			}
			continue
		}
		if _, uerr := e.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
			if it := d.ItemByID(itemID); it != nil {
				it.Executed = true
				it.UpdatedAt = time.Now().UTC()
			}
			return nil
		}); uerr != nil {
			return uerr
		}
		if _, uerr := e.db.UpdateAgent(item.SourceAgentID, func(a *models.Agent) error {
			a.TradeCount++
			a.LastActiveAt = time.Now().UTC()
			return nil
		}); uerr != nil && !isNotFound(uerr) {
			return uerr
		}
	}
	return nil
}

// CanDiscussionClose reports whether every item is terminal and every
// approved item has been executed. An empty checklist is never closeable:
// DECIDED requires at least one evaluated item, and a discussion that
// produced nothing is closed by the engine at finalization instead.
func (e *Engine) CanDiscussionClose(d models.Discussion) bool {
	if len(d.Checklist) == 0 {
		return false
	}
	for _, item := range d.Checklist {
		if !item.Status.IsTerminal() {
			return false
		}
		if item.Status == models.ItemApproved && !item.Executed {
			return false
		}
	}
	return true
}

// CloseIfComplete saves a final round snapshot, archives rejected items, and
// drives the status service to DECIDED when the discussion can close.
func (e *Engine) CloseIfComplete(ctx context.Context, discussionID string) error {
	discussion, err := e.db.DiscussionByID(discussionID)
	if err != nil {
		return err
	}
	if !e.CanDiscussionClose(discussion) {
		return nil
	}

	if _, err := e.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		d.RoundHistory = append(d.RoundHistory, models.RoundSnapshot{
			Round:     d.Round,
			Checklist: append([]models.ChecklistItem(nil), d.Checklist...),
			Timestamp: time.Now().UTC(),
		})
		return nil
	}); err != nil {
		return err
	}

	if _, err := e.statuses.CheckAndTransitionToAwaitingExecution(discussionID); err != nil {
		return err
	}
	if err := e.statuses.Transition(discussionID, models.DiscussionDecided, "all items terminal"); err != nil {
		return err
	}
	metrics.DiscussionsDecided.WithLabelValues(discussion.SectorID).Inc()

	if err := e.archiveRejected(discussion); err != nil {
		return err
	}
	return e.propagateConfidence(discussionID)
}

// archiveRejected appends permanently rejected items to the audit file.
func (e *Engine) archiveRejected(d models.Discussion) error {
	var rejected []models.ChecklistItem
	for _, item := range d.Checklist {
		if item.Status == models.ItemRejected || item.Status == models.ItemAcceptRejection {
			rejected = append(rejected, item)
		}
	}
	if len(rejected) == 0 {
		return nil
	}
	return store.Retry(func() error {
		return e.db.RejectedItems.Append(0, rejected...)
	})
}

// propagateConfidence applies the monotone update to every participant
// using their final proposal from the decided discussion.
func (e *Engine) propagateConfidence(discussionID string) error {
	discussion, err := e.db.DiscussionByID(discussionID)
	if err != nil {
		return err
	}
	sector, err := e.db.SectorByID(discussion.SectorID)
	if err != nil {
		return err
	}

	for _, agentID := range discussion.ParticipantIDs {
		proposal, ok := lastProposal(discussion, agentID)
		if !ok {
			continue
		}
		if _, err := e.db.UpdateAgent(agentID, func(a *models.Agent) error {
			a.Confidence = confidence.Update(a.Confidence, proposal, sector)
			a.LastActiveAt = time.Now().UTC()
			return nil
		}); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

func lastProposal(d models.Discussion, agentID string) (models.Proposal, bool) {
	for i := len(d.Messages) - 1; i >= 0; i-- {
		if d.Messages[i].AgentID == agentID && d.Messages[i].Proposal != nil {
			return *d.Messages[i].Proposal, true
		}
	}
	return models.Proposal{}, false
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
