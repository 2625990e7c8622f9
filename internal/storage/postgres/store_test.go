package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

// SDCA_POSTGRES_TEST_DSN points at a disposable database.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SDCA_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("SDCA_POSTGRES_TEST_DSN is not set")
	}

	ctx := context.Background()
	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	// second run must be a no-op
	require.NoError(t, client.RunMigrations(ctx))

	_, err = client.Pool().Exec(ctx, `TRUNCATE positions, market_params, watchlist_assets RESTART IDENTITY`)
	require.NoError(t, err)

	return NewStore(client.Pool())
}

func TestNullDecimal(t *testing.T) {
	d, err := nullDecimal(nil)
	require.NoError(t, err)
	assert.False(t, d.Valid)

	s := "0.000105"
	d, err = nullDecimal(&s)
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.Equal(t, "0.000105", d.Decimal.String())

	bad := "abc"
	_, err = nullDecimal(&bad)
	assert.Error(t, err)

	assert.Nil(t, nullText(decimal.NullDecimal{}))
	assert.Equal(t, "1.5", *nullText(decimal.NewNullDecimal(decimal.RequireFromString("1.5"))))
	assert.Nil(t, nullString(""))
}

func TestNew_EmptyDSN(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{DSN: "  "})
	assert.Error(t, err)
}

func TestStore_PositionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	opened := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := domain.NewPosition(domain.ExchangeBinance, domain.NewPair("ADA", "BTC"), domain.BuyFill{
		OrderID:   "1",
		Price:     decimal.RequireFromString("0.0001"),
		Quantity:  decimal.NewFromInt(100),
		Timestamp: opened,
	}, []string{"ADA", "XLM"})
	require.NoError(t, err)

	require.NoError(t, s.CreatePosition(ctx, p))
	assert.Equal(t, int64(1), p.ID)
	assert.Error(t, s.CreatePosition(ctx, p))

	require.NoError(t, p.RecordSellOrder("10", decimal.RequireFromString("0.000105"), decimal.NewFromInt(96)))
	require.NoError(t, s.SavePosition(ctx, p))

	open, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "10", open[0].SellOrderID)
	assert.Equal(t, []string{"ADA", "XLM"}, open[0].Watchlist)
	assert.True(t, opened.Equal(open[0].OpenedAt))

	require.NoError(t, p.Close(decimal.RequireFromString("0.000105"), decimal.NewFromInt(96), opened.Add(time.Hour)))
	require.NoError(t, s.SavePosition(ctx, p))

	got, err := s.PositionByBuyOrder(ctx, domain.ExchangeBinance, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, got.State())
	assert.True(t, decimal.NewFromInt(4).Equal(got.ScalpedQuantity.Decimal))

	_, err = s.Position(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	missing := *p
	missing.ID = 99
	assert.ErrorIs(t, s.SavePosition(ctx, &missing), domain.ErrNotFound)
}

func TestStore_LastPositions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		p, err := domain.NewPosition(domain.ExchangeBybit, domain.NewPair("ETH", "USDT"), domain.BuyFill{
			OrderID:   fmt.Sprint(i),
			Price:     decimal.NewFromInt(2000),
			Quantity:  decimal.RequireFromString("0.01"),
			Timestamp: time.Now().UTC(),
		}, nil)
		require.NoError(t, err)
		require.NoError(t, s.CreatePosition(ctx, p))
	}

	last, err := s.LastPositions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, int64(3), last[0].ID)
	assert.Equal(t, int64(2), last[1].ID)
}

func TestStore_MarketParamsAndWatchlist(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	market := domain.NewPair("ADA", "BTC")

	_, err := s.MarketParams(ctx, domain.ExchangeBinance, market)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	params := domain.MarketQuantizationParams{
		Exchange:      domain.ExchangeBinance,
		Market:        market,
		PriceTickSize: decimal.RequireFromString("0.00000001"),
		LotStepSize:   decimal.NewFromInt(1),
		MinNotional:   decimal.RequireFromString("0.0001"),
		MultiplierUp:  decimal.NewFromInt(5),
		AvgPriceMins:  5,
	}
	require.NoError(t, s.SaveMarketParams(ctx, params))
	params.MinNotional = decimal.RequireFromString("0.0002")
	require.NoError(t, s.SaveMarketParams(ctx, params))

	got, err := s.MarketParams(ctx, domain.ExchangeBinance, market)
	require.NoError(t, err)
	assert.True(t, params.MinNotional.Equal(got.MinNotional))
	assert.True(t, params.PriceTickSize.Equal(got.PriceTickSize))
	assert.Equal(t, 5, got.AvgPriceMins)

	list, err := s.MergeWatchlist(ctx, domain.ExchangeBinance, []string{"xlm", "ADA"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADA", "XLM"}, list)

	list, err = s.MergeWatchlist(ctx, domain.ExchangeBinance, []string{"ETH"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADA", "ETH", "XLM"}, list)

	other, err := s.AllTimeWatchlist(ctx, domain.ExchangeBybit)
	require.NoError(t, err)
	assert.Empty(t, other)
}
