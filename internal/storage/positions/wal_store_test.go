package positions

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

func newPosition(t *testing.T, asset, orderID string) *domain.Position {
	t.Helper()
	p, err := domain.NewPosition(domain.ExchangeBinance, domain.NewPair(asset, "BTC"), domain.BuyFill{
		OrderID:   orderID,
		Price:     decimal.RequireFromString("0.0001"),
		Quantity:  decimal.NewFromInt(100),
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, []string{"ADA", "XLM"})
	require.NoError(t, err)
	return p
}

func TestWALStore_PositionsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewWALStore(dir)
	require.NoError(t, err)

	first := newPosition(t, "ADA", "1")
	second := newPosition(t, "XLM", "2")
	require.NoError(t, s.CreatePosition(ctx, first))
	require.NoError(t, s.CreatePosition(ctx, second))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	require.NoError(t, first.RecordSellOrder("10", decimal.RequireFromString("0.000105"), decimal.NewFromInt(96)))
	require.NoError(t, s.SavePosition(ctx, first))
	require.NoError(t, second.Close(decimal.RequireFromString("0.000105"), decimal.NewFromInt(96), time.Now().UTC()))
	require.NoError(t, s.SavePosition(ctx, second))
	require.NoError(t, s.Close())

	s, err = NewWALStore(dir)
	require.NoError(t, err)
	defer s.Close()

	open, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "10", open[0].SellOrderID)
	assert.True(t, decimal.RequireFromString("0.000105").Equal(open[0].SellPrice.Decimal))
	assert.Equal(t, []string{"ADA", "XLM"}, open[0].Watchlist)

	all, err := s.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.PositionClosed, all[1].State())
	assert.True(t, decimal.NewFromInt(4).Equal(all[1].ScalpedQuantity.Decimal))

	third := newPosition(t, "ETH", "3")
	require.NoError(t, s.CreatePosition(ctx, third))
	assert.Equal(t, int64(3), third.ID)
}

func TestWALStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	p := newPosition(t, "ADA", "1")
	require.NoError(t, s.CreatePosition(ctx, p))

	p.SellOrderID = "local"
	got, err := s.Position(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SellOrderID)

	got.SellOrderID = "changed"
	again, err := s.Position(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, again.SellOrderID)
}

func TestWALStore_Lookups(t *testing.T) {
	ctx := context.Background()
	s, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for i, asset := range []string{"ADA", "XLM", "ETH", "DOT"} {
		require.NoError(t, s.CreatePosition(ctx, newPosition(t, asset, string(rune('a'+i)))))
	}

	last, err := s.LastPositions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, last, 3)
	assert.Equal(t, []int64{4, 3, 2}, []int64{last[0].ID, last[1].ID, last[2].ID})

	p, err := s.PositionByBuyOrder(ctx, domain.ExchangeBinance, "c")
	require.NoError(t, err)
	assert.Equal(t, "ETHBTC", p.Market.Symbol())

	_, err = s.PositionByBuyOrder(ctx, domain.ExchangeBybit, "c")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Position(ctx, 42)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.ErrorIs(t, s.SavePosition(ctx, &domain.Position{ID: 42}), domain.ErrNotFound)
	require.Error(t, s.CreatePosition(ctx, &domain.Position{ID: 7}))
}

func TestWALStore_MarketParamsAndWatchlist(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewWALStore(dir)
	require.NoError(t, err)

	market := domain.NewPair("ADA", "BTC")
	_, err = s.MarketParams(ctx, domain.ExchangeBinance, market)
	require.ErrorIs(t, err, domain.ErrNotFound)

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
	require.Error(t, s.SaveMarketParams(ctx, domain.MarketQuantizationParams{Exchange: domain.ExchangeBinance, Market: market}))

	merged, err := s.MergeWatchlist(ctx, domain.ExchangeBinance, []string{"XLM", "ADA"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADA", "XLM"}, merged)
	merged, err = s.MergeWatchlist(ctx, domain.ExchangeBinance, []string{"ETH"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADA", "ETH", "XLM"}, merged)
	require.NoError(t, s.Close())

	s, err = NewWALStore(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.MarketParams(ctx, domain.ExchangeBinance, market)
	require.NoError(t, err)
	assert.True(t, params.PriceTickSize.Equal(got.PriceTickSize))
	assert.Equal(t, 5, got.AvgPriceMins)

	all, err := s.AllTimeWatchlist(ctx, domain.ExchangeBinance)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADA", "ETH", "XLM"}, all)

	none, err := s.AllTimeWatchlist(ctx, domain.ExchangeBybit)
	require.NoError(t, err)
	assert.Empty(t, none)
}
