// Package metrics registers the Prometheus collectors shared by the
// engines. Registration happens once at package init; the API server
// exposes the default registry on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts simulation ticks per sector.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sectorsim_ticks_total",
		Help: "Total simulation ticks processed per sector",
	}, []string{"sector_id"})

	// DiscussionsStarted counts bootstrapped discussions per sector.
	DiscussionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sectorsim_discussions_started_total",
		Help: "Total discussions started per sector",
	}, []string{"sector_id"})

	// DiscussionsDecided counts discussions reaching DECIDED.
	DiscussionsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sectorsim_discussions_decided_total",
		Help: "Total discussions reaching a DECIDED terminal state",
	}, []string{"sector_id"})

	// ItemsEvaluated counts manager verdicts by outcome.
	ItemsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sectorsim_checklist_items_evaluated_total",
		Help: "Total checklist item verdicts by outcome",
	}, []string{"verdict"})

	// LLMFallbacks counts adapter degradations to the neutral HOLD.
	LLMFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sectorsim_llm_fallbacks_total",
		Help: "Total LLM calls degraded to the neutral HOLD fallback",
	})

	// TradesExecuted counts executed trades per sector.
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sectorsim_trades_executed_total",
		Help: "Total trades executed per sector",
	}, []string{"sector_id"})

	// RoundDuration observes how long one discussion round takes.
	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sectorsim_round_duration_seconds",
		Help:    "Duration of one discussion round",
		Buckets: prometheus.DefBuckets,
	})
)
