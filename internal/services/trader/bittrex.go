package trader

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

// BittrexGateway is a placeholder for the retired Bittrex exchange. Every call fails.
type BittrexGateway struct{}

func NewBittrexGateway() *BittrexGateway {
	return &BittrexGateway{}
}

func (BittrexGateway) Name() domain.Exchange {
	return domain.ExchangeBittrex
}

func unimplemented(op string) error {
	return errors.Wrapf(domain.ErrExchangeUnimplemented, "bittrex %s", op)
}

func (BittrexGateway) MarketParams(context.Context, domain.Pair) (domain.MarketQuantizationParams, error) {
	return domain.MarketQuantizationParams{}, unimplemented("market params")
}

func (BittrexGateway) CurrentAsk(context.Context, domain.Pair) (decimal.Decimal, error) {
	return decimal.Zero, unimplemented("current ask")
}

func (BittrexGateway) CurrentPrice(context.Context, domain.Pair) (decimal.Decimal, error) {
	return decimal.Zero, unimplemented("current price")
}

func (BittrexGateway) MarketBuy(context.Context, domain.Pair, decimal.Decimal, string) (domain.BuyFill, error) {
	return domain.BuyFill{}, unimplemented("market buy")
}

func (BittrexGateway) MarketSell(context.Context, domain.Pair, decimal.Decimal) (domain.SellFill, error) {
	return domain.SellFill{}, unimplemented("market sell")
}

func (BittrexGateway) LimitSell(context.Context, domain.Pair, decimal.Decimal, decimal.Decimal) (*domain.LimitOrder, error) {
	return nil, unimplemented("limit sell")
}

func (BittrexGateway) CancelOrder(context.Context, domain.Pair, string) (bool, string, error) {
	return false, "", unimplemented("cancel order")
}

func (BittrexGateway) OrderStatus(context.Context, domain.Pair, string) (domain.OrderReport, error) {
	return domain.OrderReport{}, unimplemented("order status")
}

func (BittrexGateway) OrderStatuses(context.Context, domain.Pair, string) (map[string]domain.OrderReport, error) {
	return nil, unimplemented("order statuses")
}

func (BittrexGateway) BuyByClientID(context.Context, domain.Pair, string) (*domain.BuyFill, error) {
	return nil, unimplemented("buy lookup")
}

func (BittrexGateway) Candles(context.Context, domain.Pair, string, int) ([]domain.Candle, error) {
	return nil, unimplemented("candles")
}

func (BittrexGateway) CandleAt(context.Context, domain.Pair, string, time.Time) (domain.Candle, error) {
	return domain.Candle{}, unimplemented("candle")
}
