package llm

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sectorlabs/sectorsim/internal/metrics"
	"github.com/sectorlabs/sectorsim/internal/models"
)

// Adapter drives the live model behind a circuit breaker and a request rate
// limiter. Model failures of any kind degrade to a neutral HOLD proposal;
// nothing propagates upward.
type Adapter struct {
	client  ChatClient
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     AdapterConfig
	log     zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// AdapterConfig configures the live adapter.
type AdapterConfig struct {
	MaxTokens         int
	RequestsPerSecond float64
	Seed              int64
}

// NewAdapter wraps a chat client with breaker, limiter, and normalisation.
func NewAdapter(client ChatClient, config AdapterConfig, log zerolog.Logger) *Adapter {
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
	return &Adapter{
		client:  client,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		log:     log.With().Str("component", "llm_adapter").Logger(),
		rng:     rand.New(rand.NewSource(config.Seed)),
		cfg:     config,
	}
}

// GenerateAgentMessage asks the model for one worker contribution and
// normalises the result. The returned proposal is always well-formed.
func (a *Adapter) GenerateAgentMessage(ctx context.Context, agent models.Agent, sector models.Sector, previous []models.Message, discussion models.Discussion) AgentMessage {
	systemPrompt := BuildAgentSystemPrompt(agent, sector)
	userPrompt := BuildAgentUserPrompt(agent, sector, previous, discussion)

	content, err := a.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		metrics.LLMFallbacks.Inc()
		a.log.Warn().
			Err(err).
			Str("sector_id", sector.ID).
			Str("discussion_id", discussion.ID).
			Str("agent_id", agent.ID).
			Msg("LLM call failed, degrading to neutral HOLD")
		return AgentMessage{
			Analysis: fmt.Sprintf("Unable to generate proposal: %v", err),
			Proposal: NormalizeDecision(nil, sector.Ticker, fmt.Sprintf("Unable to generate proposal: %v", err)),
		}
	}

	proposal := NormalizeDecision(ParseDecision(content), sector.Ticker, "No structured reasoning provided")
	proposal = a.rewriteTimidHold(proposal, sector)

	return AgentMessage{Analysis: content, Proposal: proposal}
}

// GenerateConsensus runs the single finalization call over the whole
// transcript. Malformed output yields nil; the caller falls back to
// per-round aggregation.
func (a *Adapter) GenerateConsensus(ctx context.Context, sector models.Sector, discussion models.Discussion) []ConsensusItem {
	content, err := a.complete(ctx, BuildConsensusSystemPrompt(sector), BuildConsensusUserPrompt(sector, discussion))
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("sector_id", sector.ID).
			Str("discussion_id", discussion.ID).
			Msg("Consensus call failed")
		return nil
	}
	return ParseConsensus(content, sector.Ticker)
}

func (a *Adapter) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.client.Complete(ctx, systemPrompt, userPrompt, CompletionOptions{
			JSONMode:  true,
			MaxTokens: a.cfg.MaxTokens,
		})
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// rewriteTimidHold converts a HOLD into a modest BUY when the sector has
// funds and a clearly positive trend. The policy exists because tuned
// models drift toward HOLD far more often than the market justifies.
func (a *Adapter) rewriteTimidHold(proposal models.Proposal, sector models.Sector) models.Proposal {
	if proposal.Action != models.ActionHold {
		return proposal
	}
	if sector.Balance.IsZero() || sector.Balance.IsNegative() || sector.ChangePercent <= 0.5 {
		return proposal
	}

	a.mu.Lock()
	alloc := 10 + a.rng.Float64()*15  // [10,25)
	conf := 40 + a.rng.Float64()*25   // [40,65)
	a.mu.Unlock()

	proposal.Action = models.ActionBuy
	proposal.AllocationPercent = alloc
	proposal.Confidence = conf
	proposal.Reasoning += " [Rewritten from HOLD: positive trend with available balance favours participation.]"
	return proposal
}
