package pricesim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sectorlabs/sectorsim/internal/models"
)

func TestAdvanceBoundsSingleStep(t *testing.T) {
	sim := New(1)
	sector := models.Sector{CurrentPrice: 100, BaselinePrice: 100, Volatility: 0.9}

	for i := 0; i < 500; i++ {
		tick := sim.Advance(sector)
		assert.LessOrEqual(t, math.Abs(tick.Price-100), 100*maxStepPercent+1e-9,
			"one tick must never move more than the step bound")
		assert.Greater(t, tick.Price, 0.0)
	}
}

func TestAdvanceDeterministicForSeed(t *testing.T) {
	sector := models.Sector{CurrentPrice: 50, BaselinePrice: 50, Volatility: 0.1}

	a := New(42).Advance(sector)
	b := New(42).Advance(sector)
	assert.Equal(t, a.Price, b.Price)
}

func TestAdvanceRecoversFromZeroPrice(t *testing.T) {
	sim := New(7)
	tick := sim.Advance(models.Sector{CurrentPrice: 0, BaselinePrice: 0})
	assert.Greater(t, tick.Price, 0.0)
}

func TestAdvanceCandleShape(t *testing.T) {
	sim := New(3)
	tick := sim.Advance(models.Sector{CurrentPrice: 100, BaselinePrice: 100, Volatility: 0.05})

	assert.GreaterOrEqual(t, tick.Candle.High, tick.Candle.Low)
	assert.GreaterOrEqual(t, tick.Candle.High, tick.Candle.Close)
	assert.LessOrEqual(t, tick.Candle.Low, tick.Candle.Open)
	assert.Equal(t, tick.Price, tick.Candle.Close)
}

func TestRealisedVolatility(t *testing.T) {
	assert.Equal(t, 0.0, RealisedVolatility(nil))
	assert.Equal(t, 0.0, RealisedVolatility([]float64{100, 101}))

	flat := RealisedVolatility([]float64{100, 100, 100, 100})
	assert.Equal(t, 0.0, flat)

	choppy := RealisedVolatility([]float64{100, 110, 95, 120, 90})
	assert.Greater(t, choppy, 0.0)
}

func TestRiskScoreBounds(t *testing.T) {
	assert.Equal(t, 0.0, RiskScore(0, 0))
	assert.Equal(t, 100.0, RiskScore(1, 500))
	mid := RiskScore(0.02, 5)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 100.0)
}
