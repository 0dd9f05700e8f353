package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorlabs/sectorsim/internal/discussion"
	"github.com/sectorlabs/sectorsim/internal/llm"
	"github.com/sectorlabs/sectorsim/internal/manager"
	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/orderbook"
	"github.com/sectorlabs/sectorsim/internal/pricesim"
	"github.com/sectorlabs/sectorsim/internal/scheduler"
	"github.com/sectorlabs/sectorsim/internal/sector"
	"github.com/sectorlabs/sectorsim/internal/status"
	"github.com/sectorlabs/sectorsim/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Collections) {
	t.Helper()
	db, err := store.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	statuses := status.NewService(db, zerolog.Nop())
	executor := orderbook.NewExecutor(db, zerolog.Nop())
	mgr := manager.NewEngine(db, statuses, executor, zerolog.Nop())
	engine := discussion.NewEngine(db, statuses, mgr, llm.NewStaticAdapter(), zerolog.Nop())
	engine.Delay = 0
	sched := scheduler.New(db, pricesim.New(1), engine, mgr, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewServer(Config{
		Host:        "127.0.0.1",
		Port:        0,
		DB:          db,
		Discussions: engine,
		Manager:     mgr,
		Statuses:    statuses,
		Sectors:     sector.NewService(db, zerolog.Nop()),
		Scheduler:   sched,
		BaseContext: ctx,
	})
	return srv, db
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func createSector(t *testing.T, srv *Server, name, ticker string) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/sectors", map[string]any{
		"name":           name,
		"ticker":         ticker,
		"initialBalance": "1000",
		"basePrice":      100,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	sec := body["sector"].(map[string]any)
	return sec["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["paused"])
}

func TestSectorLifecycle(t *testing.T) {
	srv, db := newTestServer(t)
	id := createSector(t, srv, "Technology", "TECH")

	w := doJSON(t, srv, http.MethodGet, "/sectors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])

	w = doJSON(t, srv, http.MethodGet, "/sectors/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Deposit then overdraw.
	w = doJSON(t, srv, http.MethodPost, "/sectors/"+id+"/deposit", map[string]any{"amount": "250"})
	require.Equal(t, http.StatusOK, w.Code)
	sec, err := db.SectorByID(id)
	require.NoError(t, err)
	assert.True(t, sec.Balance.Equal(decimal.NewFromInt(1250)))

	w = doJSON(t, srv, http.MethodPost, "/sectors/"+id+"/withdraw", map[string]any{"amount": "99999"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "validation", body["error"])

	// Delete requires the confirmation token.
	w = doJSON(t, srv, http.MethodDelete, "/sectors/"+id, map[string]any{"confirm": "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/sectors/"+id, map[string]any{"confirm": id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["success"])
}

func TestGetMissingSector(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/sectors/ghost", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["error"])
}

func TestListAgentsFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	a := createSector(t, srv, "Tech", "TECH")
	createSector(t, srv, "Energy", "ENRG")

	w := doJSON(t, srv, http.MethodGet, "/agents?sectorId="+a, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	agents := body["agents"].([]any)
	assert.Len(t, agents, 3, "manager plus two default workers")
}

func TestStartDiscussionAndSerialLock(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSector(t, srv, "Tech", "TECH")

	w := doJSON(t, srv, http.MethodPost, "/discussions", map[string]any{"sectorId": id})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// A second start against the same sector hits the serial lock.
	w = doJSON(t, srv, http.MethodPost, "/discussions", map[string]any{"sectorId": id})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "contention", decodeBody(t, w)["error"])

	w = doJSON(t, srv, http.MethodPost, "/discussions", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDiscussionsPaginationAndCounts(t *testing.T) {
	srv, db := newTestServer(t)
	var seed []models.Discussion
	for i := 0; i < 25; i++ {
		st := models.DiscussionDecided
		if i%5 == 0 {
			st = models.DiscussionClosed
		}
		seed = append(seed, models.Discussion{
			ID: "d" + string(rune('a'+i)), SectorID: "s1", Status: st,
		})
	}
	require.NoError(t, db.Discussions.Append(0, seed...))

	w := doJSON(t, srv, http.MethodGet, "/discussions?page=2&pageSize=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)

	assert.Len(t, body["discussions"].([]any), 10)
	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(2), pagination["page"])
	assert.Equal(t, float64(25), pagination["total"])
	assert.Equal(t, float64(3), pagination["totalPages"])

	counts := body["statusCounts"].(map[string]any)
	assert.Equal(t, float64(20), counts[string(models.DiscussionDecided)])
	assert.Equal(t, float64(5), counts[string(models.DiscussionClosed)])

	// The status filter narrows the list but not the counts.
	w = doJSON(t, srv, http.MethodGet, "/discussions?status="+string(models.DiscussionClosed), nil)
	body = decodeBody(t, w)
	assert.Len(t, body["discussions"].([]any), 5)
	assert.Equal(t, float64(20), body["statusCounts"].(map[string]any)[string(models.DiscussionDecided)])
}

func TestDiscussionMessageAndState(t *testing.T) {
	srv, db := newTestServer(t)
	sectorID := createSector(t, srv, "Tech", "TECH")
	agents, err := db.AgentsBySector(sectorID)
	require.NoError(t, err)
	var workerID string
	for _, a := range agents {
		if !a.IsManager() {
			workerID = a.ID
			break
		}
	}

	w := doJSON(t, srv, http.MethodPost, "/discussions", map[string]any{"sectorId": sectorID})
	require.Equal(t, http.StatusCreated, w.Code)
	d := decodeBody(t, w)["discussion"].(map[string]any)
	id := d["id"].(string)

	w = doJSON(t, srv, http.MethodPost, "/discussions/"+id+"/message", map[string]any{
		"agentId": workerID,
		"content": "watching the tape",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Messages come back enriched with the agent's display name.
	w = doJSON(t, srv, http.MethodGet, "/discussions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	messages := decodeBody(t, w)["messages"].([]any)
	require.NotEmpty(t, messages)
	last := messages[len(messages)-1].(map[string]any)
	assert.NotEmpty(t, last["agentName"])

	w = doJSON(t, srv, http.MethodGet, "/discussions/"+id+"/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decodeBody(t, w)
	assert.Contains(t, state, "currentRound")
	assert.Contains(t, state, "checklist")
}

func TestCloseDiscussion(t *testing.T) {
	srv, db := newTestServer(t)
	sectorID := createSector(t, srv, "Tech", "TECH")
	agents, err := db.AgentsBySector(sectorID)
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodPost, "/discussions", map[string]any{"sectorId": sectorID})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["discussion"].(map[string]any)["id"].(string)

	w = doJSON(t, srv, http.MethodPost, "/discussions/"+id+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := decodeBody(t, w)["discussion"].(map[string]any)
	assert.Equal(t, string(models.DiscussionClosed), d["status"])

	// Terminal discussions refuse further messages.
	w = doJSON(t, srv, http.MethodPost, "/discussions/"+id+"/message", map[string]any{
		"agentId": agents[0].ID, "content": "too late",
	})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestArchiveDiscussionEvaluatesOpenItems(t *testing.T) {
	srv, db := newTestServer(t)
	sectorID := createSector(t, srv, "Tech", "TECH")
	agents, err := db.AgentsBySector(sectorID)
	require.NoError(t, err)
	var workerID string
	for _, a := range agents {
		if !a.IsManager() {
			workerID = a.ID
			break
		}
	}

	d := models.Discussion{
		ID: "d1", SectorID: sectorID,
		ParticipantIDs: []string{workerID},
		Status:         models.DiscussionInProgress,
		Messages:       []models.Message{{ID: "m1", AgentID: workerID, Round: 1}},
		Checklist: []models.ChecklistItem{{
			ID: "i1", SourceAgentID: workerID, ActionType: models.ActionHold,
			Symbol: "TECH", Rationale: "hold", Status: models.ItemPending, Round: 1,
		}},
		CreatedAt: time.Now().UTC(),
	}
	d.SetRound(1)
	require.NoError(t, db.Discussions.Append(0, d))

	w := doJSON(t, srv, http.MethodPost, "/discussions/d1/archive", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeBody(t, w)["discussion"].(map[string]any)
	assert.Equal(t, string(models.DiscussionDecided), got["status"])
}

func TestStartRoundsRunsToDecision(t *testing.T) {
	srv, db := newTestServer(t)
	sectorID := createSector(t, srv, "Tech", "TECH")

	w := doJSON(t, srv, http.MethodPost, "/discussions", map[string]any{"sectorId": sectorID})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["discussion"].(map[string]any)["id"].(string)

	w = doJSON(t, srv, http.MethodPost, "/discussions/"+id+"/start-rounds", map[string]any{"numRounds": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["scheduled"])

	require.Eventually(t, func() bool {
		d, err := db.DiscussionByID(id)
		return err == nil && d.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	w = doJSON(t, srv, http.MethodGet, "/sectors/"+sectorID+"/executionLogs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.GreaterOrEqual(t, body["count"].(float64), float64(1))

	// Unknown discussion ids surface as 404 before scheduling anything.
	w = doJSON(t, srv, http.MethodPost, "/discussions/ghost/start-rounds", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidateInvariantsOnDecidedDiscussion(t *testing.T) {
	srv, db := newTestServer(t)
	sectorID := createSector(t, srv, "Tech", "TECH")

	w := doJSON(t, srv, http.MethodPost, "/discussions", map[string]any{"sectorId": sectorID})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["discussion"].(map[string]any)["id"].(string)

	w = doJSON(t, srv, http.MethodPost, "/discussions/"+id+"/start-rounds", map[string]any{"numRounds": 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		d, err := db.DiscussionByID(id)
		return err == nil && d.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	w = doJSON(t, srv, http.MethodGet, "/discussions/"+id+"/validate-invariants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["valid"], w.Body.String())

	results := body["testResults"].([]any)
	assert.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, true, r.(map[string]any)["passed"])
	}
}

func TestPauseResumeSimulation(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/simulation/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, true, decodeBody(t, w)["paused"])

	w = doJSON(t, srv, http.MethodPost, "/simulation/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, false, decodeBody(t, w)["paused"])
}
