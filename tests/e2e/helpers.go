// Shared helper functions for E2E tests
package e2e

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sectorlabs/sectorsim/internal/discussion"
	"github.com/sectorlabs/sectorsim/internal/llm"
	"github.com/sectorlabs/sectorsim/internal/manager"
	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/orderbook"
	"github.com/sectorlabs/sectorsim/internal/status"
	"github.com/sectorlabs/sectorsim/internal/store"
)

// stack wires the full engine chain over a throwaway store, with the
// decision adapter left pluggable per scenario.
type stack struct {
	db          *store.Collections
	statuses    *status.Service
	manager     *manager.Engine
	discussions *discussion.Engine
}

func newStack(t *testing.T, adapter llm.DecisionAdapter) *stack {
	t.Helper()
	db, err := store.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	statuses := status.NewService(db, zerolog.Nop())
	executor := orderbook.NewExecutor(db, zerolog.Nop())
	mgr := manager.NewEngine(db, statuses, executor, zerolog.Nop())
	engine := discussion.NewEngine(db, statuses, mgr, adapter, zerolog.Nop())
	engine.Delay = 0

	return &stack{db: db, statuses: statuses, manager: mgr, discussions: engine}
}

// seedSector writes a sector with the given balance, a recent upward or flat
// price trend, and optional risk score.
func (s *stack) seedSector(t *testing.T, balance int64, trendPercent, riskScore float64) {
	t.Helper()
	base := 100.0
	require.NoError(t, s.db.Sectors.Append(0, models.Sector{
		ID:             "s1",
		Name:           "Test Sector",
		Ticker:         "TECH",
		AllowedSymbols: []string{"TECH"},
		CurrentPrice:   base * (1 + trendPercent/100),
		BaselinePrice:  base,
		Volatility:     0.02,
		RiskScore:      riskScore,
		Balance:        decimal.NewFromInt(balance),
	}))
}

func (s *stack) seedAgents(t *testing.T, workerConfidences ...float64) {
	t.Helper()
	agents := []models.Agent{{
		ID: "mgr", Name: "Manager", Role: models.RoleManager, SectorID: "s1", Confidence: 100,
	}}
	for i, conf := range workerConfidences {
		agents = append(agents, models.Agent{
			ID:         "w" + string(rune('1'+i)),
			Name:       "Worker " + string(rune('A'+i)),
			Role:       "trader",
			SectorID:   "s1",
			Confidence: conf,
		})
	}
	require.NoError(t, s.db.Agents.Append(0, agents...))
}

// runDiscussion starts a discussion and drives it through the round loop.
func (s *stack) runDiscussion(t *testing.T, rounds int) models.Discussion {
	t.Helper()
	ctx := context.Background()

	d, err := s.discussions.Start(ctx, "s1", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.discussions.StartRounds(ctx, d.ID, rounds))

	final, err := s.db.DiscussionByID(d.ID)
	require.NoError(t, err)
	return final
}

// scriptedAdapter returns a fixed proposal per agent id; agents without a
// script fall back to a HOLD at their own confidence.
type scriptedAdapter struct {
	proposals map[string]models.Proposal
	consensus []llm.ConsensusItem
}

func (a *scriptedAdapter) GenerateAgentMessage(_ context.Context, agent models.Agent, sector models.Sector, _ []models.Message, _ models.Discussion) llm.AgentMessage {
	p, ok := a.proposals[agent.ID]
	if !ok {
		p = models.Proposal{
			Action:     models.ActionHold,
			Symbol:     sector.Ticker,
			Confidence: agent.Confidence,
			Reasoning:  "scripted hold",
		}
	}
	return llm.AgentMessage{Analysis: "scripted analysis", Proposal: p}
}

func (a *scriptedAdapter) GenerateConsensus(context.Context, models.Sector, models.Discussion) []llm.ConsensusItem {
	return a.consensus
}

// garbageClient stands in for a model endpoint that returns unparseable
// output on every call.
type garbageClient struct {
	reply string
}

func (g *garbageClient) Complete(context.Context, string, string, llm.CompletionOptions) (string, error) {
	return g.reply, nil
}
