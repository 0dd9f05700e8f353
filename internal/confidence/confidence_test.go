package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sectorlabs/sectorsim/internal/models"
)

func TestUpdateNeverDecays(t *testing.T) {
	tests := []struct {
		name     string
		prior    float64
		proposal models.Proposal
		want     float64
	}{
		{
			name:     "weak signal bumps prior by two",
			prior:    70,
			proposal: models.Proposal{Confidence: 40},
			want:     72,
		},
		{
			name:     "equal signal still bumps",
			prior:    70,
			proposal: models.Proposal{Confidence: 70},
			want:     72,
		},
		{
			name:     "strong signal adopted directly",
			prior:    70,
			proposal: models.Proposal{Confidence: 85},
			want:     85,
		},
		{
			name:     "signal strength preferred over confidence",
			prior:    50,
			proposal: models.Proposal{Confidence: 30, SignalStrength: 80},
			want:     80,
		},
		{
			name:     "capped at 100",
			prior:    99,
			proposal: models.Proposal{Confidence: 10},
			want:     100,
		},
		{
			name:     "zero signal clamps to floor and bumps",
			prior:    70,
			proposal: models.Proposal{},
			want:     72,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Update(tt.prior, tt.proposal, models.Sector{})
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, tt.prior, "update must never drop below prior")
		})
	}
}

func TestEligibleBoundary(t *testing.T) {
	assert.False(t, Eligible(64.999))
	assert.True(t, Eligible(65.0))
	assert.True(t, Eligible(100))
	assert.False(t, Eligible(0))
}

func TestAlignment(t *testing.T) {
	assert.Equal(t, 100.0, Alignment(models.ActionHold, 0.2))
	assert.Greater(t, Alignment(models.ActionBuy, 2.0), Alignment(models.ActionBuy, -2.0))
	assert.Greater(t, Alignment(models.ActionSell, -2.0), Alignment(models.ActionSell, 2.0))
	assert.Equal(t, 0.0, Alignment(models.ActionType("UNKNOWN"), 1.0))
}
