// Package discussion orchestrates the discussion lifecycle: start, the
// multi-round worker contribution loop, checklist aggregation, and
// finalization. One orchestration task owns a discussion between suspension
// points; the discussion record itself is the per-sector serial lock.
package discussion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sectorlabs/sectorsim/internal/checklist"
	"github.com/sectorlabs/sectorsim/internal/confidence"
	"github.com/sectorlabs/sectorsim/internal/llm"
	"github.com/sectorlabs/sectorsim/internal/manager"
	"github.com/sectorlabs/sectorsim/internal/metrics"
	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/status"
	"github.com/sectorlabs/sectorsim/internal/store"
)

// DefaultRounds is the number of contribution rounds per discussion.
const DefaultRounds = 2

// roundDelay yields scheduling budget between rounds.
const roundDelay = 200 * time.Millisecond

// Engine runs discussions for all sectors.
type Engine struct {
	db       *store.Collections
	statuses *status.Service
	manager  *manager.Engine
	adapter  llm.DecisionAdapter
	log      zerolog.Logger

	// Delay is overridable so tests do not pay the inter-round sleep.
	Delay time.Duration
}

// NewEngine creates a discussion engine.
func NewEngine(db *store.Collections, statuses *status.Service, mgr *manager.Engine, adapter llm.DecisionAdapter, log zerolog.Logger) *Engine {
	return &Engine{
		db:       db,
		statuses: statuses,
		manager:  mgr,
		adapter:  adapter,
		log:      log.With().Str("component", "discussion").Logger(),
		Delay:    roundDelay,
	}
}

// Start validates eligibility and persists a new CREATED discussion. The
// no-active-discussion check runs inside the same critical section that
// persists the record, which makes the discussion row the serial-execution
// lock: concurrent starts on one sector see exactly one winner.
func (e *Engine) Start(ctx context.Context, sectorID, title string, agentIDs []string) (models.Discussion, error) {
	if err := e.manager.CheckEligibility(sectorID); err != nil {
		return models.Discussion{}, err
	}

	participants := agentIDs
	if len(participants) > 0 {
		// Caller-picked participants must be this sector's own workers;
		// anything else would sidestep the eligibility gate.
		for _, id := range participants {
			agent, err := e.db.AgentByID(id)
			if err != nil {
				return models.Discussion{}, models.ValidationErrorf("agentIds", "unknown agent %s", id)
			}
			if agent.SectorID != sectorID {
				return models.Discussion{}, models.ValidationErrorf("agentIds", "agent %s belongs to sector %s, not %s", id, agent.SectorID, sectorID)
			}
			if agent.IsManager() {
				return models.Discussion{}, models.ValidationErrorf("agentIds", "agent %s is the sector manager and cannot participate", id)
			}
		}
	} else {
		agents, err := e.db.AgentsBySector(sectorID)
		if err != nil {
			return models.Discussion{}, err
		}
		for _, a := range agents {
			if !a.IsManager() {
				participants = append(participants, a.ID)
			}
		}
	}
	if len(participants) == 0 {
		return models.Discussion{}, models.ValidationErrorf("agentIds", "sector %s has no worker agents", sectorID)
	}

	if title == "" {
		title = "Trading discussion " + time.Now().UTC().Format(time.RFC3339)
	}

	d := models.Discussion{
		ID:             uuid.NewString(),
		SectorID:       sectorID,
		Title:          title,
		ParticipantIDs: participants,
		Status:         models.DiscussionCreated,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	d.SetRound(1)

	_, err := e.db.Discussions.AtomicUpdate(func(discussions []models.Discussion) ([]models.Discussion, error) {
		for _, existing := range discussions {
			if existing.SectorID == sectorID && !existing.Status.IsTerminal() {
				return nil, models.ContentionErrorf("sector %s already has active discussion %s", sectorID, existing.ID)
			}
		}
		return append(discussions, d), nil
	})
	if err != nil {
		return models.Discussion{}, err
	}

	if _, err := e.db.UpdateSector(sectorID, func(s *models.Sector) error {
		s.DiscussionIDs = append(s.DiscussionIDs, d.ID)
		return nil
	}); err != nil {
		return models.Discussion{}, err
	}

	e.log.Info().
		Str("sector_id", sectorID).
		Str("discussion_id", d.ID).
		Int("participants", len(participants)).
		Msg("Discussion started")
	return d, nil
}

// StartRounds runs the contribution loop. It is idempotent: a discussion
// already past CREATED resumes from its recorded round, so calling it twice
// yields the same messages as calling it once. A discussion that produced
// no messages at all is closed with reason "no messages".
func (e *Engine) StartRounds(ctx context.Context, discussionID string, numRounds int) error {
	if numRounds <= 0 {
		numRounds = DefaultRounds
	}

	d, err := e.db.DiscussionByID(discussionID)
	if err != nil {
		return err
	}
	if d.Status.IsTerminal() {
		return nil
	}

	startRound := 1
	if d.Status != models.DiscussionCreated && len(d.Messages) > 0 && d.Round > 1 {
		startRound = d.Round // resume
	}
	if d.Status == models.DiscussionCreated {
		if err := e.statuses.Transition(discussionID, models.DiscussionInProgress, "rounds started"); err != nil {
			return err
		}
	}
	if startRound > numRounds {
		return e.FinalizeChecklist(ctx, discussionID)
	}

	for round := startRound; round <= numRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runRound(ctx, discussionID, round); err != nil {
			return err
		}
		if round < numRounds {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.Delay):
			}
		}
	}

	d, err = e.db.DiscussionByID(discussionID)
	if err != nil {
		return err
	}
	if len(d.Messages) == 0 {
		return e.statuses.Transition(discussionID, models.DiscussionClosed, "no messages")
	}
	return e.FinalizeChecklist(ctx, discussionID)
}

// runRound asks every participant for a contribution. Workers below the
// gating threshold emit a non-participating observation; everyone else goes
// through the decision adapter and gets exactly one checklist creation
// attempt per (agent, round).
func (e *Engine) runRound(ctx context.Context, discussionID string, round int) error {
	started := time.Now()
	defer func() {
		metrics.RoundDuration.Observe(time.Since(started).Seconds())
	}()

	if _, err := e.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		d.SetRound(round)
		return nil
	}); err != nil {
		return err
	}

	d, err := e.db.DiscussionByID(discussionID)
	if err != nil {
		return err
	}
	sector, err := e.db.SectorByID(d.SectorID)
	if err != nil {
		return err
	}

	for _, agentID := range d.ParticipantIDs {
		agent, err := e.db.AgentByID(agentID)
		if err != nil {
			e.log.Warn().Err(err).
				Str("discussion_id", discussionID).
				Str("agent_id", agentID).
				Msg("Participant missing, skipping")
			continue
		}

		var msg models.Message
		var createItem bool
		if !confidence.Eligible(agent.Confidence) {
			msg = observationMessage(agent, sector, round)
		} else {
			// Suspension point: the LLM call. The discussion stays in the
			// store; nothing is held locked across this call.
			out := e.adapter.GenerateAgentMessage(ctx, agent, sector, d.Messages, d)
			proposal := out.Proposal
			msg = models.Message{
				ID:        uuid.NewString(),
				AgentID:   agent.ID,
				Role:      agent.Role,
				Content:   out.Analysis,
				Round:     round,
				Proposal:  &proposal,
				CreatedAt: time.Now().UTC(),
			}
			createItem = true
		}

		if _, err := e.db.UpdateDiscussion(discussionID, func(du *models.Discussion) error {
			du.Messages = append(du.Messages, msg)
			if !createItem {
				return nil
			}
			if du.HasAttemptedChecklistCreation(agent.ID, round) {
				return models.StateErrorf("duplicate checklist creation for agent %s round %d", agent.ID, round)
			}
			if du.HasChecklistItemForRound(agent.ID, round) {
				return models.StateErrorf("duplicate checklist item for agent %s round %d", agent.ID, round)
			}
			du.MarkChecklistAttempt(agent.ID, round)
			item := checklist.CreateFromProposal(*msg.Proposal, checklist.Context{
				Sector:  sector,
				AgentID: agent.ID,
				Round:   round,
			})
			du.Checklist = append(du.Checklist, item)
			return nil
		}); err != nil {
			return err
		}

		d, err = e.db.DiscussionByID(discussionID)
		if err != nil {
			return err
		}
	}
	return nil
}

func observationMessage(agent models.Agent, sector models.Sector, round int) models.Message {
	proposal := models.Proposal{
		Action:            models.ActionHold,
		Symbol:            sector.Ticker,
		AllocationPercent: 0,
		Confidence:        agent.Confidence,
		Reasoning:         "Observing only: confidence below the participation threshold.",
	}
	return models.Message{
		ID:        uuid.NewString(),
		AgentID:   agent.ID,
		Role:      agent.Role,
		Content:   "Observing this round without a proposal.",
		Round:     round,
		Proposal:  &proposal,
		Observing: true,
		CreatedAt: time.Now().UTC(),
	}
}

// FinalizeChecklist consolidates the whole transcript through one consensus
// call. Consensus output refines the latest pending item of each attributed
// agent; an agent without items gets a fresh one, guardrails permitting.
// When consensus yields nothing, the per-round aggregation fallback
// consolidates reasoning across the latest round by action type. Manager
// evaluation follows immediately.
func (e *Engine) FinalizeChecklist(ctx context.Context, discussionID string) error {
	d, err := e.db.DiscussionByID(discussionID)
	if err != nil {
		return err
	}
	if d.Status.IsTerminal() {
		return nil
	}
	sector, err := e.db.SectorByID(d.SectorID)
	if err != nil {
		return err
	}

	items := e.adapter.GenerateConsensus(ctx, sector, d)
	if len(items) > 0 {
		if err := e.applyConsensus(discussionID, sector, items); err != nil {
			return err
		}
	} else {
		if err := e.aggregateLatestRound(discussionID); err != nil {
			return err
		}
	}

	if err := e.manager.EvaluateChecklist(ctx, discussionID); err != nil {
		return err
	}

	// A transcript of pure observations yields no checklist and can never
	// reach DECIDED; close it so the sector's serial lock is released.
	d, err = e.db.DiscussionByID(discussionID)
	if err != nil {
		return err
	}
	if !d.Status.IsTerminal() && len(d.Checklist) == 0 {
		return e.statuses.Transition(discussionID, models.DiscussionClosed, "no checklist items")
	}
	return nil
}

// applyConsensus folds attributed consensus proposals into the checklist.
func (e *Engine) applyConsensus(discussionID string, sector models.Sector, items []llm.ConsensusItem) error {
	_, err := e.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		for _, ci := range items {
			if !isParticipant(d, ci.AgentID) {
				continue
			}
			validated := checklist.CreateFromProposal(ci.Proposal, checklist.Context{
				Sector:  sector,
				AgentID: ci.AgentID,
				Round:   d.Round,
			})

			if pending := latestPendingItem(d, ci.AgentID); pending != nil {
				// Consensus refines in place; the per-(agent,round)
				// accounting from the round loop stays intact.
				pending.ActionType = validated.ActionType
				pending.Symbol = validated.Symbol
				pending.Amount = validated.Amount
				pending.AllocationPercent = validated.AllocationPercent
				pending.Confidence = validated.Confidence
				pending.Rationale = validated.Rationale
				pending.UpdatedAt = time.Now().UTC()
				continue
			}
			if d.HasAttemptedChecklistCreation(ci.AgentID, d.Round) || d.HasChecklistItemForRound(ci.AgentID, d.Round) {
				continue
			}
			d.MarkChecklistAttempt(ci.AgentID, d.Round)
			d.Checklist = append(d.Checklist, validated)
		}
		return nil
	})
	return err
}

// aggregateLatestRound is the fallback consolidation: pending items of the
// latest round are grouped by action type and their rationales merged.
func (e *Engine) aggregateLatestRound(discussionID string) error {
	_, err := e.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		byAction := make(map[models.ActionType][]*models.ChecklistItem)
		for i := range d.Checklist {
			item := &d.Checklist[i]
			if item.Round == d.Round && item.Status == models.ItemPending {
				byAction[item.ActionType] = append(byAction[item.ActionType], item)
			}
		}
		for _, group := range byAction {
			if len(group) < 2 {
				continue
			}
			merged := "Consensus across " + group[0].Rationale
			for _, item := range group[1:] {
				merged += " | " + item.Rationale
			}
			for _, item := range group {
				item.Rationale = merged
				item.UpdatedAt = time.Now().UTC()
			}
		}
		return nil
	})
	return err
}

func isParticipant(d *models.Discussion, agentID string) bool {
	for _, id := range d.ParticipantIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

func latestPendingItem(d *models.Discussion, agentID string) *models.ChecklistItem {
	for i := len(d.Checklist) - 1; i >= 0; i-- {
		if d.Checklist[i].SourceAgentID == agentID && d.Checklist[i].Status == models.ItemPending {
			return &d.Checklist[i]
		}
	}
	return nil
}

// AppendMessage adds an externally-submitted message (HTTP surface) and
// optionally attempts checklist creation for an attached proposal.
func (e *Engine) AppendMessage(ctx context.Context, discussionID, agentID, content, role string, proposal *models.Proposal) (models.Discussion, error) {
	agent, err := e.db.AgentByID(agentID)
	if err != nil {
		return models.Discussion{}, err
	}
	if role == "" {
		role = agent.Role
	}

	d, err := e.db.DiscussionByID(discussionID)
	if err != nil {
		return models.Discussion{}, err
	}
	if d.Status.IsTerminal() {
		return models.Discussion{}, models.StateErrorf("discussion %s is terminal", discussionID)
	}
	sector, err := e.db.SectorByID(d.SectorID)
	if err != nil {
		return models.Discussion{}, err
	}

	return e.db.UpdateDiscussion(discussionID, func(du *models.Discussion) error {
		msg := models.Message{
			ID:        uuid.NewString(),
			AgentID:   agentID,
			Role:      role,
			Content:   content,
			Round:     du.Round,
			Proposal:  proposal,
			CreatedAt: time.Now().UTC(),
		}
		du.Messages = append(du.Messages, msg)
		if proposal == nil {
			return nil
		}
		if du.HasAttemptedChecklistCreation(agentID, du.Round) || du.HasChecklistItemForRound(agentID, du.Round) {
			return models.StateErrorf("duplicate checklist creation for agent %s round %d", agentID, du.Round)
		}
		du.MarkChecklistAttempt(agentID, du.Round)
		du.Checklist = append(du.Checklist, checklist.CreateFromProposal(*proposal, checklist.Context{
			Sector:  sector,
			AgentID: agentID,
			Round:   du.Round,
		}))
		return nil
	})
}

// Close aborts a discussion from the HTTP surface.
func (e *Engine) Close(discussionID, reason string) error {
	return e.statuses.Transition(discussionID, models.DiscussionClosed, reason)
}
