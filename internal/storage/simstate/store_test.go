package simstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir(), "binance")
	require.NoError(t, err)

	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "Binance Paper")
	require.NoError(t, err)

	state := NewState(map[string]decimal.Decimal{"usdt": decimal.NewFromInt(1000)})
	state.LastOrderID = 7
	state.Orders["7"] = &Order{
		ID:        "7",
		Symbol:    "BTCUSDT",
		Side:      "SELL",
		Type:      "LIMIT",
		Status:    "NEW",
		Price:     decimal.RequireFromString("101.5"),
		Quantity:  decimal.RequireFromString("0.25"),
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(state))

	_, err = os.Stat(filepath.Join(dir, "binance_paper.json"))
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(7), loaded.LastOrderID)
	assert.True(t, decimal.NewFromInt(1000).Equal(loaded.Wallet["USDT"]))
	require.Contains(t, loaded.Orders, "7")
	assert.True(t, decimal.RequireFromString("101.5").Equal(loaded.Orders["7"].Price))
	assert.Equal(t, "NEW", loaded.Orders["7"].Status)
}

func TestSanitizeScope(t *testing.T) {
	tests := map[string]string{
		"binance":       "binance",
		"  Bybit Spot ": "bybit_spot",
		"a--b__c":       "a_b_c",
		"":              "",
		"!!!":           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeScope(in), in)
	}
}
