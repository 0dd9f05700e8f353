package orderbook

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sectorlabs/sectorsim/internal/metrics"
	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/store"
)

// ExecuteDecision is a manager-approved order handed to the executor.
type ExecuteDecision struct {
	SectorID  string
	ItemID    string
	AgentID   string
	Action    models.ActionType
	Symbol    string
	Quantity  decimal.Decimal
	RiskScore float64
}

// Executor matches approved decisions against the simulated book and
// persists the resulting trades and sector mutations.
type Executor struct {
	db  *store.Collections
	log zerolog.Logger
}

// NewExecutor creates an executor over the shared store.
func NewExecutor(db *store.Collections, log zerolog.Logger) *Executor {
	return &Executor{
		db:  db,
		log: log.With().Str("component", "execution").Logger(),
	}
}

// Execute runs one decision. HOLD decisions produce a zero-quantity trade so
// that every approved checklist item has a corresponding execution record.
// Rejections surface as validation errors with the offending field named.
func (e *Executor) Execute(ctx context.Context, decision ExecuteDecision) (models.Trade, error) {
	if ctx.Err() != nil {
		return models.Trade{}, ctx.Err()
	}

	sector, err := e.db.SectorByID(decision.SectorID)
	if err != nil {
		return models.Trade{}, err
	}
	if !sector.AllowsSymbol(decision.Symbol) {
		return models.Trade{}, models.ValidationErrorf("symbol", "%q is not in the sector's allowed set", decision.Symbol)
	}

	now := time.Now().UTC()
	trade := models.Trade{
		ID:        uuid.NewString(),
		SectorID:  decision.SectorID,
		AgentID:   decision.AgentID,
		ItemID:    decision.ItemID,
		Action:    decision.Action,
		Symbol:    strings.ToUpper(decision.Symbol),
		Price:     sector.CurrentPrice,
		Quantity:  decimal.Zero,
		Notional:  decimal.Zero,
		Timestamp: now,
	}

	if decision.Action == models.ActionHold {
		if err := e.appendTrade(trade); err != nil {
			return models.Trade{}, err
		}
		return trade, nil
	}

	if decision.Quantity.LessThanOrEqual(decimal.Zero) {
		return models.Trade{}, models.ValidationErrorf("quantity", "must be positive for %s", decision.Action)
	}

	book := Build(sector.CurrentPrice, sector.Volatility)
	var fill Fill
	switch decision.Action {
	case models.ActionBuy:
		fill = book.MatchBuy(decision.Quantity)
		if sector.Balance.LessThan(fill.Notional) {
			return models.Trade{}, models.ValidationErrorf("balance", "insufficient: have %s, need %s",
				sector.Balance.StringFixed(2), fill.Notional.StringFixed(2))
		}
	case models.ActionSell:
		fill = book.MatchSell(decision.Quantity)
	default:
		return models.Trade{}, models.ValidationErrorf("action", "unknown action %q", decision.Action)
	}

	trade.Price = fill.AvgPrice
	trade.Quantity = fill.Quantity
	trade.Notional = fill.Notional

	// Sector is mutated before the trade is logged; the store gives no
	// cross-collection transaction, so ordering is the consistency rule.
	_, err = e.db.UpdateSector(decision.SectorID, func(s *models.Sector) error {
		switch decision.Action {
		case models.ActionBuy:
			if s.Balance.LessThan(fill.Notional) {
				return models.ValidationErrorf("balance", "insufficient: have %s, need %s",
					s.Balance.StringFixed(2), fill.Notional.StringFixed(2))
			}
			s.Balance = s.Balance.Sub(fill.Notional)
		case models.ActionSell:
			s.Balance = s.Balance.Add(fill.Notional)
		}
		s.Volume = s.Volume.Add(fill.Notional)
		notionalF, _ := fill.Notional.Float64()
		s.Candles = appendCandle(s.Candles, models.Candle{
			Open:      s.CurrentPrice,
			High:      maxF(s.CurrentPrice, fill.AvgPrice),
			Low:       minF(s.CurrentPrice, fill.AvgPrice),
			Close:     fill.AvgPrice,
			Volume:    notionalF,
			Timestamp: now,
		})
		s.CurrentPrice = fill.AvgPrice
		s.Change = s.CurrentPrice - s.BaselinePrice
		if s.BaselinePrice != 0 {
			s.ChangePercent = s.Change / s.BaselinePrice * 100
		}
		return nil
	})
	if err != nil {
		return models.Trade{}, err
	}

	if err := e.appendTrade(trade); err != nil {
		// The trade never made it into the log, so the balance move must not
		// stand. Undo the money side; the simulated price impact is harmless.
		if _, rerr := e.db.UpdateSector(decision.SectorID, func(s *models.Sector) error {
			switch decision.Action {
			case models.ActionBuy:
				s.Balance = s.Balance.Add(fill.Notional)
			case models.ActionSell:
				s.Balance = s.Balance.Sub(fill.Notional)
			}
			s.Volume = s.Volume.Sub(fill.Notional)
			return nil
		}); rerr != nil {
			e.log.Error().Err(rerr).
				Str("sector_id", decision.SectorID).
				Str("item_id", decision.ItemID).
				Msg("Failed to roll back sector after trade log failure")
		}
		return models.Trade{}, err
	}

	metrics.TradesExecuted.WithLabelValues(decision.SectorID).Inc()
	e.log.Info().
		Str("sector_id", decision.SectorID).
		Str("item_id", decision.ItemID).
		Str("action", string(decision.Action)).
		Str("quantity", fill.Quantity.String()).
		Float64("avg_price", fill.AvgPrice).
		Msg("Decision executed")

	return trade, nil
}

func (e *Executor) appendTrade(trade models.Trade) error {
	return store.Retry(func() error {
		return e.db.ExecutionLog(trade.SectorID).Append(0, trade)
	})
}

func appendCandle(candles []models.Candle, c models.Candle) []models.Candle {
	candles = append(candles, c)
	if len(candles) > models.MaxCandleHistory {
		candles = candles[len(candles)-models.MaxCandleHistory:]
	}
	return candles
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
