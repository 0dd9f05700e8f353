package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// scriptedClient returns canned content or a canned error.
type scriptedClient struct {
	content string
	err     error
	calls   int
}

func (c *scriptedClient) Complete(_ context.Context, _, _ string, _ CompletionOptions) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.content, nil
}

func testSector(changePercent float64) models.Sector {
	return models.Sector{
		ID:             "s1",
		Ticker:         "TECH",
		AllowedSymbols: []string{"TECH"},
		CurrentPrice:   100,
		ChangePercent:  changePercent,
		Balance:        decimal.NewFromInt(1000),
	}
}

func TestGenerateAgentMessageFailureDegradesToNeutralHold(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	a := NewAdapter(client, AdapterConfig{RequestsPerSecond: 1000, Seed: 1}, zerolog.Nop())

	out := a.GenerateAgentMessage(context.Background(), models.Agent{ID: "a1"}, testSector(1.5), nil, models.Discussion{ID: "d1"})

	assert.Equal(t, models.ActionHold, out.Proposal.Action)
	assert.Equal(t, 1.0, out.Proposal.Confidence)
	assert.Equal(t, "TECH", out.Proposal.Symbol)
	assert.Contains(t, out.Proposal.Reasoning, "Unable to generate proposal:")
	assert.Contains(t, out.Proposal.Reasoning, "connection refused")
}

func TestGenerateAgentMessageGarbageDegradesToHold(t *testing.T) {
	client := &scriptedClient{content: "not json at all"}
	a := NewAdapter(client, AdapterConfig{RequestsPerSecond: 1000, Seed: 1}, zerolog.Nop())

	// Flat trend so the HOLD rewrite stays out of the way.
	out := a.GenerateAgentMessage(context.Background(), models.Agent{ID: "a1"}, testSector(0.1), nil, models.Discussion{ID: "d1"})

	assert.Equal(t, models.ActionHold, out.Proposal.Action)
	assert.Equal(t, 1.0, out.Proposal.Confidence)
	assert.Equal(t, 0.0, out.Proposal.AllocationPercent)
}

func TestTimidHoldRewrittenToBuyOnPositiveTrend(t *testing.T) {
	client := &scriptedClient{content: `{"action":"HOLD","symbol":"TECH","confidence":50,"reasoning":"waiting"}`}
	a := NewAdapter(client, AdapterConfig{RequestsPerSecond: 1000, Seed: 7}, zerolog.Nop())

	out := a.GenerateAgentMessage(context.Background(), models.Agent{ID: "a1"}, testSector(1.2), nil, models.Discussion{ID: "d1"})

	assert.Equal(t, models.ActionBuy, out.Proposal.Action)
	assert.GreaterOrEqual(t, out.Proposal.AllocationPercent, 10.0)
	assert.Less(t, out.Proposal.AllocationPercent, 25.0)
	assert.GreaterOrEqual(t, out.Proposal.Confidence, 40.0)
	assert.Less(t, out.Proposal.Confidence, 65.0)
	assert.Contains(t, out.Proposal.Reasoning, "Rewritten from HOLD")
}

func TestTimidHoldKeptWhenTrendFlatOrBroke(t *testing.T) {
	hold := `{"action":"HOLD","symbol":"TECH","confidence":50,"reasoning":"waiting"}`

	// Flat trend.
	a := NewAdapter(&scriptedClient{content: hold}, AdapterConfig{RequestsPerSecond: 1000, Seed: 7}, zerolog.Nop())
	out := a.GenerateAgentMessage(context.Background(), models.Agent{}, testSector(0.5), nil, models.Discussion{})
	assert.Equal(t, models.ActionHold, out.Proposal.Action)

	// No balance.
	broke := testSector(2.0)
	broke.Balance = decimal.Zero
	out = a.GenerateAgentMessage(context.Background(), models.Agent{}, broke, nil, models.Discussion{})
	assert.Equal(t, models.ActionHold, out.Proposal.Action)
}

func TestRewriteIsDeterministicForSeed(t *testing.T) {
	hold := `{"action":"HOLD","symbol":"TECH","confidence":50,"reasoning":"waiting"}`

	first := NewAdapter(&scriptedClient{content: hold}, AdapterConfig{RequestsPerSecond: 1000, Seed: 42}, zerolog.Nop()).
		GenerateAgentMessage(context.Background(), models.Agent{}, testSector(1.2), nil, models.Discussion{})
	second := NewAdapter(&scriptedClient{content: hold}, AdapterConfig{RequestsPerSecond: 1000, Seed: 42}, zerolog.Nop()).
		GenerateAgentMessage(context.Background(), models.Agent{}, testSector(1.2), nil, models.Discussion{})

	assert.Equal(t, first.Proposal.AllocationPercent, second.Proposal.AllocationPercent)
	assert.Equal(t, first.Proposal.Confidence, second.Proposal.Confidence)
}

func TestGenerateConsensusFailureYieldsNil(t *testing.T) {
	client := &scriptedClient{err: errors.New("timeout")}
	a := NewAdapter(client, AdapterConfig{RequestsPerSecond: 1000, Seed: 1}, zerolog.Nop())

	items := a.GenerateConsensus(context.Background(), testSector(0), models.Discussion{ID: "d1"})
	assert.Nil(t, items)
}

func TestStaticAdapterAlwaysHolds(t *testing.T) {
	s := NewStaticAdapter()
	agent := models.Agent{ID: "a1", Name: "Worker A", Confidence: 72}

	out := s.GenerateAgentMessage(context.Background(), agent, testSector(1.0), nil, models.Discussion{Round: 2, CurrentRound: 2})
	require.Equal(t, models.ActionHold, out.Proposal.Action)
	assert.Equal(t, 72.0, out.Proposal.Confidence)
	assert.Equal(t, "TECH", out.Proposal.Symbol)

	assert.Nil(t, s.GenerateConsensus(context.Background(), testSector(0), models.Discussion{}))
}
