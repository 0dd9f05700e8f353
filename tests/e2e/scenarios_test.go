// End-to-end scenarios exercising the full discussion lifecycle: gating,
// contention, model failure degradation, refinement, and confidence updates.
package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorlabs/sectorsim/internal/llm"
	"github.com/sectorlabs/sectorsim/internal/manager"
	"github.com/sectorlabs/sectorsim/internal/models"
)

// TestE2E_HappyPathTwoWorkers runs a full two-round discussion with two
// healthy workers on a rising market and checks the decided outcome.
func TestE2E_HappyPathTwoWorkers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	s := newStack(t, &scriptedAdapter{})
	s.seedSector(t, 1000, 1.5, 20)
	s.seedAgents(t, 70, 70)

	final := s.runDiscussion(t, 2)

	assert.Equal(t, models.DiscussionDecided, final.Status)
	assert.GreaterOrEqual(t, len(final.Checklist), 2)
	assert.LessOrEqual(t, len(final.Checklist), 4)
	for _, item := range final.Checklist {
		assert.Equal(t, "TECH", item.Symbol)
		assert.True(t, item.Status.IsTerminal(),
			"item %s left in %s after close", item.ID, item.Status)
	}
}

// TestE2E_ConfidenceGate verifies a sector with a sub-threshold worker cannot
// open a discussion and that the refusal leaves no partial state behind.
func TestE2E_ConfidenceGate(t *testing.T) {
	s := newStack(t, &scriptedAdapter{})
	s.seedSector(t, 1000, 0, 20)
	s.seedAgents(t, 60)

	_, err := s.discussions.Start(context.Background(), "s1", "", nil)
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "below 65")

	discussions, err := s.db.Discussions.Read()
	require.NoError(t, err)
	assert.Empty(t, discussions)
}

// TestE2E_SerialLock races concurrent starts against one sector.
func TestE2E_SerialLock(t *testing.T) {
	s := newStack(t, &scriptedAdapter{})
	s.seedSector(t, 1000, 0, 20)
	s.seedAgents(t, 70, 70)

	const racers = 2
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = s.discussions.Start(context.Background(), "s1", "", nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, models.ErrContention)
		}
	}
	assert.Equal(t, 1, winners, "exactly one start may take the serial lock")
}

// TestE2E_GarbageModelOutput wires the real adapter to a client that only
// produces unparseable text. The run must degrade to neutral HOLDs and still
// close cleanly.
func TestE2E_GarbageModelOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	adapter := llm.NewAdapter(&garbageClient{reply: "not json at all"}, llm.AdapterConfig{
		RequestsPerSecond: 1000,
		Seed:              1,
	}, zerolog.Nop())

	s := newStack(t, adapter)
	s.seedSector(t, 1000, 0, 20)
	s.seedAgents(t, 70)

	final := s.runDiscussion(t, 1)

	require.True(t, final.Status.IsTerminal(), "garbage output must not wedge the discussion")
	for _, m := range final.Messages {
		if m.Proposal == nil {
			continue
		}
		assert.Equal(t, models.ActionHold, m.Proposal.Action)
		assert.Equal(t, 1.0, m.Proposal.Confidence)
	}
	for _, item := range final.Checklist {
		assert.True(t, item.Status.IsTerminal())
	}
}

// TestE2E_RefinementCap feeds the manager an item whose allocation keeps
// failing the risk check after every halving. The third strike collapses it
// to ACCEPT_REJECTION instead of looping forever.
func TestE2E_RefinementCap(t *testing.T) {
	s := newStack(t, &scriptedAdapter{})
	s.seedSector(t, 1000, 0, 20)
	s.seedAgents(t, 70)

	d := models.Discussion{
		ID:             "d1",
		SectorID:       "s1",
		ParticipantIDs: []string{"w1"},
		Status:         models.DiscussionInProgress,
		Messages:       []models.Message{{ID: "m1", AgentID: "w1", Round: 1}},
		Checklist: []models.ChecklistItem{{
			ID:                "i1",
			SourceAgentID:     "w1",
			ActionType:        models.ActionBuy,
			Symbol:            "TECH",
			Amount:            8,
			AllocationPercent: 240,
			Confidence:        80,
			Rationale:         "oversized position",
			Status:            models.ItemPending,
			Round:             1,
		}},
		CreatedAt: time.Now().UTC(),
	}
	d.SetRound(1)
	require.NoError(t, s.db.Discussions.Append(0, d))

	require.NoError(t, s.manager.EvaluateChecklist(context.Background(), "d1"))

	final, err := s.db.DiscussionByID("d1")
	require.NoError(t, err)
	item := final.Checklist[0]
	assert.Equal(t, models.ItemAcceptRejection, item.Status)
	assert.Equal(t, manager.MaxRefinementRounds, item.RevisionCount)
	assert.Equal(t, models.DiscussionDecided, final.Status)
	assert.Len(t, item.PreviousVersions, manager.MaxRefinementRounds)
}

// TestE2E_ConfidenceMonotonicity checks that a low-confidence model proposal
// never drags the agent's stored confidence down: 70 prior with a 40 proposal
// lands at 72.
func TestE2E_ConfidenceMonotonicity(t *testing.T) {
	adapter := &scriptedAdapter{proposals: map[string]models.Proposal{
		"w1": {
			Action:     models.ActionHold,
			Symbol:     "TECH",
			Confidence: 40,
			Reasoning:  "nervous hold",
		},
	}}
	s := newStack(t, adapter)
	s.seedSector(t, 1000, 0, 20)
	s.seedAgents(t, 70)

	final := s.runDiscussion(t, 1)
	require.Equal(t, models.DiscussionDecided, final.Status)

	w1, err := s.db.AgentByID("w1")
	require.NoError(t, err)
	assert.InDelta(t, 72.0, w1.Confidence, 1e-9,
		"assist bump, never adoption of the lower value")
}
