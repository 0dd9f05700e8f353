// Package status owns the discussion state machine. No other component may
// mutate a discussion's status field; every transition passes through this
// service, which enforces the terminal-state invariants.
package status

import (
	"github.com/rs/zerolog"

	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/store"
)

// Service mediates every discussion status transition.
type Service struct {
	db  *store.Collections
	log zerolog.Logger
}

// NewService creates the status service over the shared store.
func NewService(db *store.Collections, log zerolog.Logger) *Service {
	return &Service{
		db:  db,
		log: log.With().Str("component", "status").Logger(),
	}
}

// permitted lists the legal transitions of the state machine.
//
//	CREATED -> IN_PROGRESS -> AWAITING_EXECUTION -> DECIDED
//	CREATED / IN_PROGRESS -> CLOSED
var permitted = map[models.DiscussionStatus][]models.DiscussionStatus{
	models.DiscussionCreated:           {models.DiscussionInProgress, models.DiscussionClosed},
	models.DiscussionInProgress:        {models.DiscussionAwaitingExecution, models.DiscussionClosed},
	models.DiscussionAwaitingExecution: {models.DiscussionDecided},
}

func allowed(from, to models.DiscussionStatus) bool {
	for _, t := range permitted[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves a discussion to the target status. Transitioning an
// already-terminal discussion to the same status is a no-op; any other
// transition out of a terminal state is a state error. DECIDED additionally
// requires that no item is PENDING or REVISE_REQUIRED.
func (s *Service) Transition(discussionID string, target models.DiscussionStatus, reason string) error {
	_, err := s.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		if d.Status == target && d.Status.IsTerminal() {
			return nil // idempotent on terminal states
		}
		if d.Status.IsTerminal() {
			return models.StateErrorf("discussion %s is terminal (%s); cannot transition to %s", d.ID, d.Status, target)
		}
		if !allowed(d.Status, target) {
			return models.StateErrorf("illegal transition %s -> %s for discussion %s", d.Status, target, d.ID)
		}
		if target == models.DiscussionDecided {
			if n := countOpen(d); n > 0 {
				return models.StateErrorf("discussion %s has %d items still PENDING or REVISE_REQUIRED; cannot decide", d.ID, n)
			}
		}
		s.log.Info().
			Str("discussion_id", d.ID).
			Str("sector_id", d.SectorID).
			Str("from", string(d.Status)).
			Str("to", string(target)).
			Str("reason", reason).
			Msg("Discussion status transition")
		d.Status = target
		d.StatusReason = reason
		return nil
	})
	return err
}

// CheckAndTransitionToAwaitingExecution advances an in-progress discussion
// once the manager has evaluated every item but approved work remains
// unexecuted. Returns true when the transition happened.
func (s *Service) CheckAndTransitionToAwaitingExecution(discussionID string) (bool, error) {
	transitioned := false
	_, err := s.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		if d.Status != models.DiscussionInProgress {
			return nil
		}
		if countEvaluated(d) != len(d.Checklist) || len(d.Checklist) == 0 {
			return nil
		}
		d.Status = models.DiscussionAwaitingExecution
		d.StatusReason = "all items evaluated"
		transitioned = true
		return nil
	})
	return transitioned, err
}

// FixInconsistentDecidedState is the only sanctioned repair path for a
// terminal discussion that still carries open items: the open items collapse
// to ACCEPT_REJECTION and the repair is logged.
func (s *Service) FixInconsistentDecidedState(discussionID string) (int, error) {
	repaired := 0
	_, err := s.db.UpdateDiscussion(discussionID, func(d *models.Discussion) error {
		if !d.Status.IsTerminal() {
			return models.StateErrorf("discussion %s is not terminal; nothing to repair", d.ID)
		}
		for i := range d.Checklist {
			st := d.Checklist[i].Status
			if st == models.ItemPending || st == models.ItemReviseRequired || st == models.ItemResubmitted {
				d.Checklist[i].Status = models.ItemAcceptRejection
				d.Checklist[i].RefinementLog = append(d.Checklist[i].RefinementLog, models.RefinementEntry{
					Round:   d.Round,
					Reason:  "repaired inconsistent terminal state",
					Outcome: string(models.ItemAcceptRejection),
				})
				repaired++
			}
		}
		if repaired > 0 {
			s.log.Warn().
				Str("discussion_id", d.ID).
				Str("sector_id", d.SectorID).
				Int("repaired_items", repaired).
				Msg("Repaired inconsistent terminal discussion")
		}
		return nil
	})
	return repaired, err
}

// countOpen counts items that block a DECIDED transition.
func countOpen(d *models.Discussion) int {
	n := 0
	for i := range d.Checklist {
		if d.Checklist[i].Status == models.ItemPending || d.Checklist[i].Status == models.ItemReviseRequired {
			n++
		}
	}
	return n
}

// countEvaluated counts items the manager has settled.
func countEvaluated(d *models.Discussion) int {
	n := 0
	for i := range d.Checklist {
		if d.Checklist[i].Status.IsTerminal() {
			n++
		}
	}
	return n
}
