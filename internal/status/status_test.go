package status

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/store"
)

func fixture(t *testing.T, d models.Discussion) (*Service, *store.Collections) {
	t.Helper()
	db, err := store.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Discussions.Append(0, d))
	return NewService(db, zerolog.Nop()), db
}

func TestHappyPathTransitions(t *testing.T) {
	svc, db := fixture(t, models.Discussion{ID: "d1", Status: models.DiscussionCreated})

	require.NoError(t, svc.Transition("d1", models.DiscussionInProgress, "rounds started"))
	require.NoError(t, svc.Transition("d1", models.DiscussionAwaitingExecution, "evaluated"))
	require.NoError(t, svc.Transition("d1", models.DiscussionDecided, "done"))

	d, err := db.DiscussionByID("d1")
	require.NoError(t, err)
	assert.Equal(t, models.DiscussionDecided, d.Status)
	assert.Equal(t, "done", d.StatusReason)
}

func TestIllegalTransitionsRejected(t *testing.T) {
	svc, _ := fixture(t, models.Discussion{ID: "d1", Status: models.DiscussionCreated})

	err := svc.Transition("d1", models.DiscussionDecided, "skip ahead")
	require.ErrorIs(t, err, models.ErrState)

	err = svc.Transition("d1", models.DiscussionAwaitingExecution, "skip ahead")
	require.ErrorIs(t, err, models.ErrState)
}

func TestTerminalIsIdempotentButFrozen(t *testing.T) {
	svc, db := fixture(t, models.Discussion{ID: "d1", Status: models.DiscussionClosed})

	// Same terminal target is a no-op.
	require.NoError(t, svc.Transition("d1", models.DiscussionClosed, "again"))

	// Any other move out of a terminal state is an error.
	err := svc.Transition("d1", models.DiscussionInProgress, "reopen")
	require.ErrorIs(t, err, models.ErrState)

	d, err := db.DiscussionByID("d1")
	require.NoError(t, err)
	assert.Equal(t, models.DiscussionClosed, d.Status)
}

func TestCloseAllowedFromCreatedAndInProgress(t *testing.T) {
	svc, _ := fixture(t, models.Discussion{ID: "d1", Status: models.DiscussionCreated})
	require.NoError(t, svc.Transition("d1", models.DiscussionClosed, "aborted"))

	svc2, _ := fixture(t, models.Discussion{ID: "d2", Status: models.DiscussionInProgress})
	require.NoError(t, svc2.Transition("d2", models.DiscussionClosed, "aborted"))
}

func TestDecidedRefusedWithOpenItems(t *testing.T) {
	svc, _ := fixture(t, models.Discussion{
		ID:     "d1",
		Status: models.DiscussionAwaitingExecution,
		Checklist: []models.ChecklistItem{
			{ID: "i1", Status: models.ItemApproved},
			{ID: "i2", Status: models.ItemReviseRequired},
		},
	})

	err := svc.Transition("d1", models.DiscussionDecided, "premature")
	require.ErrorIs(t, err, models.ErrState)
	assert.Contains(t, err.Error(), "PENDING or REVISE_REQUIRED")
}

func TestCheckAndTransitionToAwaitingExecution(t *testing.T) {
	svc, db := fixture(t, models.Discussion{
		ID:     "d1",
		Status: models.DiscussionInProgress,
		Checklist: []models.ChecklistItem{
			{ID: "i1", Status: models.ItemApproved},
			{ID: "i2", Status: models.ItemRejected},
		},
	})

	moved, err := svc.CheckAndTransitionToAwaitingExecution("d1")
	require.NoError(t, err)
	assert.True(t, moved)

	d, err := db.DiscussionByID("d1")
	require.NoError(t, err)
	assert.Equal(t, models.DiscussionAwaitingExecution, d.Status)

	// Second call is a no-op.
	moved, err = svc.CheckAndTransitionToAwaitingExecution("d1")
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestAwaitingExecutionNeedsFullyEvaluatedChecklist(t *testing.T) {
	svc, _ := fixture(t, models.Discussion{
		ID:     "d1",
		Status: models.DiscussionInProgress,
		Checklist: []models.ChecklistItem{
			{ID: "i1", Status: models.ItemApproved},
			{ID: "i2", Status: models.ItemPending},
		},
	})

	moved, err := svc.CheckAndTransitionToAwaitingExecution("d1")
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestFixInconsistentDecidedState(t *testing.T) {
	svc, db := fixture(t, models.Discussion{
		ID:     "d1",
		Status: models.DiscussionDecided,
		Checklist: []models.ChecklistItem{
			{ID: "i1", Status: models.ItemApproved},
			{ID: "i2", Status: models.ItemPending},
			{ID: "i3", Status: models.ItemResubmitted},
		},
	})

	repaired, err := svc.FixInconsistentDecidedState("d1")
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	d, err := db.DiscussionByID("d1")
	require.NoError(t, err)
	assert.Equal(t, models.ItemApproved, d.Checklist[0].Status)
	assert.Equal(t, models.ItemAcceptRejection, d.Checklist[1].Status)
	assert.Equal(t, models.ItemAcceptRejection, d.Checklist[2].Status)
	assert.NotEmpty(t, d.Checklist[1].RefinementLog)
}

func TestFixRefusesNonTerminalDiscussion(t *testing.T) {
	svc, _ := fixture(t, models.Discussion{ID: "d1", Status: models.DiscussionInProgress})
	_, err := svc.FixInconsistentDecidedState("d1")
	require.ErrorIs(t, err, models.ErrState)
}
