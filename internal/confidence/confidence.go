// Package confidence implements the monotone participation-score update.
// The rule deliberately never decays confidence: a decaying score oscillates
// around the gating threshold and starves workers out of discussions. A
// bidirectional data-driven update is planned to replace the rule body; the
// function signature is the stable interface.
package confidence

import (
	"math"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// GatingThreshold is the minimum confidence required for a worker to
// contribute proposals to a discussion. The comparison is inclusive.
const GatingThreshold = 65.0

// growthAssist is the fixed bump applied when the proposal signal does not
// exceed the prior.
const growthAssist = 2.0

// Update maps (prior confidence, proposal, sector state) to the next
// confidence. Guarantees: next >= prior and next <= 100.
func Update(prior float64, proposal models.Proposal, sector models.Sector) float64 {
	signal := proposal.SignalStrength
	if signal == 0 {
		signal = proposal.Confidence
	}
	llmConfidence := clamp(signal, 1, 100)

	var next float64
	if llmConfidence <= prior {
		next = math.Min(prior+growthAssist, 100)
	} else {
		next = math.Min(llmConfidence, 100)
	}
	if next < prior {
		next = prior
	}
	return next
}

// Alignment scores how well an action agrees with the sector trend, 0..100.
// BUY aligns with a positive change, SELL with a negative one, HOLD with a
// flat market (|changePercent| < 0.5).
func Alignment(action models.ActionType, changePercent float64) float64 {
	switch action {
	case models.ActionBuy:
		if changePercent > 0 {
			return clamp(50+changePercent*10, 0, 100)
		}
		return clamp(50+changePercent*10, 0, 50)
	case models.ActionSell:
		if changePercent < 0 {
			return clamp(50-changePercent*10, 0, 100)
		}
		return clamp(50-changePercent*10, 0, 50)
	case models.ActionHold:
		if math.Abs(changePercent) < 0.5 {
			return 100
		}
		return clamp(100-math.Abs(changePercent)*20, 0, 100)
	default:
		return 0
	}
}

// Eligible reports whether a worker may contribute at the gating threshold.
func Eligible(conf float64) bool {
	return conf >= GatingThreshold
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
