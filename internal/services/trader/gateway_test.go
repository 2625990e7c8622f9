package trader

import (
	"context"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

func TestAggregateFills(t *testing.T) {
	price, qty, fees, err := aggregateFills([]*binance.Fill{
		{Price: "100", Quantity: "1", Commission: "0.001"},
		{Price: "103", Quantity: "2", Commission: "0.002"},
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(102).Equal(price), "got %s", price)
	assert.True(t, decimal.NewFromInt(3).Equal(qty))
	assert.True(t, decimal.RequireFromString("0.003").Equal(fees))

	_, _, _, err = aggregateFills(nil)
	assert.Error(t, err)

	_, _, _, err = aggregateFills([]*binance.Fill{{Price: "x", Quantity: "1", Commission: "0"}})
	assert.Error(t, err)
}

func TestIsRecoverableRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "percent price", err: &common.APIError{Code: -1013, Message: "Filter failure: PERCENT_PRICE_BY_SIDE"}, want: true},
		{name: "min notional", err: &common.APIError{Code: -1013, Message: "Filter failure: MIN_NOTIONAL"}, want: true},
		{name: "balance", err: &common.APIError{Code: -2010, Message: "Account has insufficient balance for requested action."}, want: true},
		{name: "plain error", err: errors.New("Filter failure: NOTIONAL"), want: true},
		{name: "lot size", err: &common.APIError{Code: -1013, Message: "Filter failure: LOT_SIZE"}, want: false},
		{name: "network", err: errors.New("connection reset"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRecoverableRejection(tt.err))
		})
	}
}

func TestBinanceReport(t *testing.T) {
	report, err := binanceReport(&binance.Order{
		OrderID:          42,
		Price:            "1.2345",
		StopPrice:        "0.00000000",
		ExecutedQuantity: "10",
		Status:           binance.OrderStatusTypePartiallyFilled,
		UpdateTime:       1700000000000,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", report.OrderID)
	assert.Equal(t, domain.OrderStatusNew, report.Status)
	assert.True(t, decimal.RequireFromString("1.2345").Equal(report.Price))
	assert.Equal(t, int64(1700000000000), report.UpdatedAt.UnixMilli())

	assert.Equal(t, domain.OrderStatusFilled, binanceStatus(binance.OrderStatusTypeFilled))
	assert.Equal(t, domain.OrderStatusCanceled, binanceStatus(binance.OrderStatusTypeCanceled))
	assert.Equal(t, domain.OrderStatus("EXPIRED"), binanceStatus(binance.OrderStatusTypeExpired))
}

func TestBybitStatus(t *testing.T) {
	tests := map[string]domain.OrderStatus{
		"New":                     domain.OrderStatusNew,
		"PartiallyFilled":         domain.OrderStatusNew,
		"Filled":                  domain.OrderStatusFilled,
		"PartiallyFilledCanceled": domain.OrderStatusFilled,
		"Cancelled":               domain.OrderStatusCanceled,
		"Rejected":                domain.OrderStatus("REJECTED"),
	}
	for in, want := range tests {
		assert.Equal(t, want, bybitStatus(in), in)
	}
}

func TestNewBybitOrder(t *testing.T) {
	o, err := newBybitOrder("1", "link", "Filled", "10.5", "11", "2", "0.01", "1700000000000", "1700000001000")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)

	report := o.report()
	assert.True(t, decimal.RequireFromString("10.5").Equal(report.Price))
	assert.True(t, decimal.NewFromInt(2).Equal(report.ExecutedQuantity))

	fill := o.buyFill("link")
	assert.Equal(t, "link", fill.ClientOrderID)
	assert.True(t, decimal.RequireFromString("0.01").Equal(fill.Fees))

	_, err = newBybitOrder("1", "", "New", "", "bad", "0", "0", "", "")
	assert.Error(t, err)
}

func TestBittrexGateway(t *testing.T) {
	g := NewBittrexGateway()
	assert.Equal(t, domain.ExchangeBittrex, g.Name())

	_, err := g.CurrentPrice(context.Background(), domain.NewPair("BTC", "USDT"))
	assert.ErrorIs(t, err, domain.ErrExchangeUnimplemented)

	order, err := g.LimitSell(context.Background(), domain.NewPair("BTC", "USDT"), decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.Nil(t, order)
	assert.ErrorIs(t, err, domain.ErrExchangeUnimplemented)
}
