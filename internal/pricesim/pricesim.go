// Package pricesim advances per-sector prices with a bounded random walk and
// derives volatility and risk from the realised return series. The simulator
// is side-effect free: callers persist the returned tick.
package pricesim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// riskWindow is the number of recent closes used for realised volatility.
const riskWindow = 20

// maxStepPercent bounds a single tick's move, as a fraction of price.
const maxStepPercent = 0.05

// Tick is the result of advancing a sector's price by one step.
type Tick struct {
	Price         float64
	Change        float64
	ChangePercent float64
	Volatility    float64 // 0..1
	RiskScore     float64 // 0..100
	Candle        models.Candle
	Timestamp     time.Time
}

// Simulator produces price ticks. Safe for concurrent use.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a simulator seeded for reproducible test runs.
func New(seed int64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

// Advance computes the next tick for a sector. The step is a random walk
// scaled by the sector's configured volatility and clamped to
// maxStepPercent of the current price.
func (s *Simulator) Advance(sector models.Sector) Tick {
	s.mu.Lock()
	step := s.rng.NormFloat64()
	s.mu.Unlock()

	price := sector.CurrentPrice
	if price <= 0 {
		price = sector.BaselinePrice
	}
	if price <= 0 {
		price = 1
	}

	vol := sector.Volatility
	if vol <= 0 {
		vol = 0.02
	}
	move := step * vol * price
	limit := price * maxStepPercent
	if move > limit {
		move = limit
	} else if move < -limit {
		move = -limit
	}

	next := price + move
	if next < 0.01 {
		next = 0.01
	}

	baseline := sector.BaselinePrice
	if baseline <= 0 {
		baseline = next
	}
	change := next - baseline
	changePercent := 0.0
	if baseline != 0 {
		changePercent = change / baseline * 100
	}

	closes := recentCloses(sector.Candles, riskWindow)
	closes = append(closes, next)
	realised := RealisedVolatility(closes)

	now := time.Now().UTC()
	return Tick{
		Price:         next,
		Change:        change,
		ChangePercent: changePercent,
		Volatility:    clamp01(realised * 10),
		RiskScore:     RiskScore(realised, changePercent),
		Candle: models.Candle{
			Open:      price,
			High:      math.Max(price, next),
			Low:       math.Min(price, next),
			Close:     next,
			Timestamp: now,
		},
		Timestamp: now,
	}
}

// RealisedVolatility is the standard deviation of simple returns over the
// close series. Fewer than three closes yield zero.
func RealisedVolatility(closes []float64) float64 {
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// RiskScore maps realised volatility and trend magnitude onto 0..100.
func RiskScore(realisedVol, changePercent float64) float64 {
	score := realisedVol*1000 + math.Abs(changePercent)*2
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

func recentCloses(candles []models.Candle, n int) []float64 {
	start := 0
	if len(candles) > n {
		start = len(candles) - n
	}
	closes := make([]float64, 0, n)
	for _, c := range candles[start:] {
		closes = append(closes, c.Close)
	}
	return closes
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
