package orderbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/store"
)

func newExecutorFixture(t *testing.T, balance int64) (*Executor, *store.Collections) {
	t.Helper()
	db, err := store.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Sectors.Append(0, models.Sector{
		ID:             "s1",
		Ticker:         "TECH",
		AllowedSymbols: []string{"TECH"},
		CurrentPrice:   100,
		BaselinePrice:  100,
		Balance:        decimal.NewFromInt(balance),
	}))
	return NewExecutor(db, zerolog.Nop()), db
}

func TestExecuteHoldLogsZeroQuantityTrade(t *testing.T) {
	exec, db := newExecutorFixture(t, 1000)

	trade, err := exec.Execute(context.Background(), ExecuteDecision{
		SectorID: "s1", ItemID: "i1", AgentID: "a1",
		Action: models.ActionHold, Symbol: "TECH",
	})
	require.NoError(t, err)
	assert.True(t, trade.Quantity.IsZero())
	assert.True(t, trade.Notional.IsZero())

	trades, err := db.ExecutionLog("s1").Read()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "i1", trades[0].ItemID)

	sec, err := db.SectorByID("s1")
	require.NoError(t, err)
	assert.True(t, sec.Balance.Equal(decimal.NewFromInt(1000)), "HOLD never moves the balance")
}

func TestExecuteBuyDebitsBalanceAndLogs(t *testing.T) {
	exec, db := newExecutorFixture(t, 1000)

	trade, err := exec.Execute(context.Background(), ExecuteDecision{
		SectorID: "s1", ItemID: "i1", AgentID: "a1",
		Action: models.ActionBuy, Symbol: "tech",
		Quantity: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "TECH", trade.Symbol)
	assert.True(t, trade.Notional.GreaterThan(decimal.Zero))

	sec, err := db.SectorByID("s1")
	require.NoError(t, err)
	assert.True(t, sec.Balance.Equal(decimal.NewFromInt(1000).Sub(trade.Notional)))
	assert.True(t, sec.Volume.Equal(trade.Notional), "volume grows by the notional")
	assert.NotEmpty(t, sec.Candles)

	trades, err := db.ExecutionLog("s1").Read()
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestExecuteSellCreditsBalance(t *testing.T) {
	exec, db := newExecutorFixture(t, 100)

	trade, err := exec.Execute(context.Background(), ExecuteDecision{
		SectorID: "s1", Action: models.ActionSell, Symbol: "TECH",
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	sec, err := db.SectorByID("s1")
	require.NoError(t, err)
	assert.True(t, sec.Balance.Equal(decimal.NewFromInt(100).Add(trade.Notional)))
}

func TestExecuteRejectsDisallowedSymbol(t *testing.T) {
	exec, db := newExecutorFixture(t, 1000)

	_, err := exec.Execute(context.Background(), ExecuteDecision{
		SectorID: "s1", Action: models.ActionBuy, Symbol: "OIL",
		Quantity: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "symbol")

	trades, err := db.ExecutionLog("s1").Read()
	require.NoError(t, err)
	assert.Empty(t, trades, "rejected decisions leave no trade")
}

func TestExecuteRejectsInsufficientBalance(t *testing.T) {
	exec, db := newExecutorFixture(t, 10)

	_, err := exec.Execute(context.Background(), ExecuteDecision{
		SectorID: "s1", Action: models.ActionBuy, Symbol: "TECH",
		Quantity: decimal.NewFromInt(5),
	})
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "balance")

	sec, err := db.SectorByID("s1")
	require.NoError(t, err)
	assert.True(t, sec.Balance.Equal(decimal.NewFromInt(10)), "failed buys leave the balance untouched")
}

func TestExecuteRollsBackBalanceWhenLogWriteFails(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Sectors.Append(0, models.Sector{
		ID:             "s1",
		Ticker:         "TECH",
		AllowedSymbols: []string{"TECH"},
		CurrentPrice:   100,
		BaselinePrice:  100,
		Balance:        decimal.NewFromInt(1000),
	}))
	exec := NewExecutor(db, zerolog.Nop())

	// A directory where the log file belongs makes every append fail.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "executionLogs", "s1.json"), 0o755))

	_, err = exec.Execute(context.Background(), ExecuteDecision{
		SectorID: "s1", ItemID: "i1", AgentID: "a1",
		Action: models.ActionBuy, Symbol: "TECH",
		Quantity: decimal.NewFromInt(2),
	})
	require.ErrorIs(t, err, models.ErrStorage)

	sec, err := db.SectorByID("s1")
	require.NoError(t, err)
	assert.True(t, sec.Balance.Equal(decimal.NewFromInt(1000)),
		"a debit without a trade record must not stand")
	assert.True(t, sec.Volume.IsZero())
}

func TestExecuteRejectsNonPositiveQuantity(t *testing.T) {
	exec, _ := newExecutorFixture(t, 1000)

	_, err := exec.Execute(context.Background(), ExecuteDecision{
		SectorID: "s1", Action: models.ActionBuy, Symbol: "TECH",
		Quantity: decimal.Zero,
	})
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "quantity")
}
