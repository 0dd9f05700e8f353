package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sectorlabs/sectorsim/internal/manager"
	"github.com/sectorlabs/sectorsim/internal/models"
)

// InvariantResult is one named check over a discussion record.
type InvariantResult struct {
	Name       string   `json:"name"`
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations,omitempty"`
}

// handleValidateInvariants audits one discussion against the structural
// invariants the engines are supposed to maintain. It reads live state only;
// nothing is repaired here.
func (s *Server) handleValidateInvariants(c *gin.Context) {
	d, err := s.db.DiscussionByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	sec, err := s.db.SectorByID(d.SectorID)
	if err != nil {
		respondError(c, err)
		return
	}
	all, err := s.db.Discussions.Read()
	if err != nil {
		respondError(c, err)
		return
	}
	trades, err := s.db.ExecutionLog(d.SectorID).Read()
	if err != nil {
		respondError(c, err)
		return
	}

	results := []InvariantResult{
		checkTerminalHasNoOpenItems(d),
		checkSerialLock(d, all),
		checkOneItemPerAgentRound(d),
		checkApprovedExecuted(d, trades),
		checkRefinementConfidence(d),
		checkRefinementCap(d),
		checkSymbolValidity(d, sec),
	}

	valid := true
	var violations []string
	for _, r := range results {
		if !r.Passed {
			valid = false
			violations = append(violations, r.Violations...)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":       valid,
		"violations":  violations,
		"testResults": results,
	})
}

func checkTerminalHasNoOpenItems(d models.Discussion) InvariantResult {
	r := InvariantResult{Name: "terminal_discussion_has_no_open_items", Passed: true}
	if !d.Status.IsTerminal() {
		return r
	}
	for _, item := range d.Checklist {
		if item.Status == models.ItemPending || item.Status == models.ItemReviseRequired {
			r.Passed = false
			r.Violations = append(r.Violations,
				fmt.Sprintf("item %s is %s inside terminal discussion", item.ID, item.Status))
		}
	}
	return r
}

func checkSerialLock(d models.Discussion, all []models.Discussion) InvariantResult {
	r := InvariantResult{Name: "one_active_discussion_per_sector", Passed: true}
	active := 0
	for _, other := range all {
		if other.SectorID == d.SectorID && !other.Status.IsTerminal() {
			active++
		}
	}
	if active > 1 {
		r.Passed = false
		r.Violations = append(r.Violations,
			fmt.Sprintf("sector %s has %d concurrently active discussions", d.SectorID, active))
	}
	return r
}

func checkOneItemPerAgentRound(d models.Discussion) InvariantResult {
	r := InvariantResult{Name: "one_checklist_item_per_agent_round", Passed: true}
	seen := make(map[string]bool)
	for _, item := range d.Checklist {
		key := models.AttemptKey(item.SourceAgentID, item.Round)
		if seen[key] {
			r.Passed = false
			r.Violations = append(r.Violations,
				fmt.Sprintf("agent %s owns multiple items in round %d", item.SourceAgentID, item.Round))
		}
		seen[key] = true
	}
	return r
}

func checkApprovedExecuted(d models.Discussion, trades []models.Trade) InvariantResult {
	r := InvariantResult{Name: "approved_items_have_trades", Passed: true}
	traded := make(map[string]bool, len(trades))
	for _, t := range trades {
		traded[t.ItemID] = true
	}
	for _, item := range d.Checklist {
		if item.Status != models.ItemApproved {
			continue
		}
		if !item.Executed || !traded[item.ID] {
			r.Passed = false
			r.Violations = append(r.Violations,
				fmt.Sprintf("approved item %s has no execution record", item.ID))
		}
	}
	return r
}

// checkRefinementConfidence verifies that revisions never raised confidence:
// the snapshot chain from first version to the current item is non-increasing.
func checkRefinementConfidence(d models.Discussion) InvariantResult {
	r := InvariantResult{Name: "revisions_never_raise_confidence", Passed: true}
	for _, item := range d.Checklist {
		prev := -1.0
		for _, v := range item.PreviousVersions {
			if prev >= 0 && v.Confidence > prev {
				r.Passed = false
				r.Violations = append(r.Violations,
					fmt.Sprintf("item %s has a revision that raised confidence", item.ID))
			}
			prev = v.Confidence
		}
		if prev >= 0 && item.Confidence > prev {
			r.Passed = false
			r.Violations = append(r.Violations,
				fmt.Sprintf("item %s current confidence exceeds its last snapshot", item.ID))
		}
	}
	return r
}

func checkRefinementCap(d models.Discussion) InvariantResult {
	r := InvariantResult{Name: "refinement_cap_respected", Passed: true}
	for _, item := range d.Checklist {
		if item.RevisionCount > manager.MaxRefinementRounds {
			r.Passed = false
			r.Violations = append(r.Violations,
				fmt.Sprintf("item %s revisionCount %d exceeds the cap", item.ID, item.RevisionCount))
		}
		if item.RevisionCount == manager.MaxRefinementRounds && item.Status != models.ItemAcceptRejection {
			r.Passed = false
			r.Violations = append(r.Violations,
				fmt.Sprintf("item %s reached the cap without collapsing to ACCEPT_REJECTION", item.ID))
		}
	}
	return r
}

func checkSymbolValidity(d models.Discussion, sec models.Sector) InvariantResult {
	r := InvariantResult{Name: "item_symbols_allowed_in_sector", Passed: true}
	for _, item := range d.Checklist {
		if !sec.AllowsSymbol(item.Symbol) {
			r.Passed = false
			r.Violations = append(r.Violations,
				fmt.Sprintf("item %s symbol %q is outside the sector's allowed set", item.ID, item.Symbol))
		}
	}
	return r
}
