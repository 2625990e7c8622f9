package trader

import (
	"context"
	"strconv"
	"strings"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/market/collector"
	"github.com/vadiminshakov/selectivedca/pkg/retrier"
	"go.uber.org/zap"
)

// IOC limit buys are priced this far above the ask so they cross the book.
var bybitBuySlippage = decimal.RequireFromString("1.01")

var bybitRecoverableRejections = []string{
	"insufficient balance",
	"order value",
	"price cannot be",
	"exceeds the allowable",
}

// BybitGateway trades spot markets on Bybit through the v5 API.
type BybitGateway struct {
	l         *zap.Logger
	client    *bybit.Client
	collector *collector.Collector
	retrier   *retrier.Retrier
}

// NewBybitGateway creates a gateway over an authenticated client.
func NewBybitGateway(l *zap.Logger, client *bybit.Client, r *retrier.Retrier) *BybitGateway {
	if r == nil {
		r = retrier.New(retrier.WithMaxRetries(3))
	}
	return &BybitGateway{
		l:         l.With(zap.String("exchange", string(domain.ExchangeBybit))),
		client:    client,
		collector: collector.New(collector.NewBybitKlineProvider(client), r),
		retrier:   r,
	}
}

func (g *BybitGateway) Name() domain.Exchange {
	return domain.ExchangeBybit
}

// MarketParams reads the lot size and price filters of the spot instrument.
// Bybit publishes no percent price band for spot, so MultiplierUp stays zero.
func (g *BybitGateway) MarketParams(ctx context.Context, market domain.Pair) (domain.MarketQuantizationParams, error) {
	symbol := bybit.SymbolV5(market.Symbol())
	res, err := retrier.DoWithData(g.retrier, ctx, func(context.Context) (*bybit.V5GetInstrumentsInfoResponse, error) {
		return g.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   &symbol,
		})
	})
	if err != nil {
		return domain.MarketQuantizationParams{}, errors.Wrapf(err, "failed to get instrument info for %s", market.Symbol())
	}
	if res.Result.Spot == nil || len(res.Result.Spot.List) == 0 {
		return domain.MarketQuantizationParams{}, errors.Wrapf(domain.ErrNotFound, "symbol %s on bybit", market.Symbol())
	}

	item := res.Result.Spot.List[0]
	params := domain.MarketQuantizationParams{
		Exchange: domain.ExchangeBybit,
		Market:   market,
	}
	if params.PriceTickSize, err = decimal.NewFromString(item.PriceFilter.TickSize); err != nil {
		return params, errors.Wrapf(err, "failed to parse tick size for %s", market.Symbol())
	}
	if params.LotStepSize, err = decimal.NewFromString(item.LotSizeFilter.BasePrecision); err != nil {
		return params, errors.Wrapf(err, "failed to parse base precision for %s", market.Symbol())
	}
	if params.MinNotional, err = decimal.NewFromString(item.LotSizeFilter.MinOrderAmt); err != nil {
		return params, errors.Wrapf(err, "failed to parse min order amount for %s", market.Symbol())
	}

	return params, params.Validate()
}

func (g *BybitGateway) ticker(ctx context.Context, market domain.Pair) (bybit.V5GetTickersSpotItem, error) {
	symbol := bybit.SymbolV5(market.Symbol())
	res, err := retrier.DoWithData(g.retrier, ctx, func(context.Context) (*bybit.V5GetTickersResponse, error) {
		return g.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   &symbol,
		})
	})
	if err != nil {
		return bybit.V5GetTickersSpotItem{}, errors.Wrapf(err, "failed to get ticker for %s", market.Symbol())
	}
	if res.Result.Spot == nil || len(res.Result.Spot.List) == 0 {
		return bybit.V5GetTickersSpotItem{}, errors.Errorf("bybit API returned empty prices for %s", market.String())
	}

	return res.Result.Spot.List[0], nil
}

func (g *BybitGateway) CurrentPrice(ctx context.Context, market domain.Pair) (decimal.Decimal, error) {
	t, err := g.ticker(ctx, market)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(t.LastPrice)
}

func (g *BybitGateway) CurrentAsk(ctx context.Context, market domain.Pair) (decimal.Decimal, error) {
	t, err := g.ticker(ctx, market)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(t.Ask1Price)
}

// MarketBuy buys qty of the base asset. Spot market buys on Bybit are sized in
// the quote coin, so the buy is sent as an IOC limit above the ask instead.
func (g *BybitGateway) MarketBuy(ctx context.Context, market domain.Pair, qty decimal.Decimal, clientOrderID string) (domain.BuyFill, error) {
	params, err := g.MarketParams(ctx, market)
	if err != nil {
		return domain.BuyFill{}, err
	}
	ask, err := g.CurrentAsk(ctx, market)
	if err != nil {
		return domain.BuyFill{}, err
	}

	price := params.PriceUp(ask.Mul(bybitBuySlippage)).String()
	tif := bybit.TimeInForce("IOC")
	res, err := g.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(market.Symbol()),
		Side:        bybit.SideBuy,
		OrderType:   bybit.OrderTypeLimit,
		Qty:         qty.String(),
		Price:       &price,
		TimeInForce: &tif,
		OrderLinkID: &clientOrderID,
	})
	if err != nil {
		return domain.BuyFill{}, errors.Wrapf(err, "failed to create buy order for %s", market.Symbol())
	}

	order, err := g.findOrder(ctx, market, res.Result.OrderID, "")
	if err != nil {
		return domain.BuyFill{}, err
	}
	if order == nil || order.Status != domain.OrderStatusFilled {
		g.l.Error("buy not filled", zap.String("market", market.Symbol()), zap.String("order_id", res.Result.OrderID))
		return domain.BuyFill{}, errors.Wrapf(domain.ErrOrderNotFilled, "order %s", res.Result.OrderID)
	}

	return order.buyFill(clientOrderID), nil
}

// MarketSell sells qty of the base asset at market.
func (g *BybitGateway) MarketSell(ctx context.Context, market domain.Pair, qty decimal.Decimal) (domain.SellFill, error) {
	res, err := g.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:  bybit.CategoryV5Spot,
		Symbol:    bybit.SymbolV5(market.Symbol()),
		Side:      bybit.SideSell,
		OrderType: bybit.OrderTypeMarket,
		Qty:       qty.String(),
	})
	if err != nil {
		return domain.SellFill{}, errors.Wrapf(err, "failed to create sell order for %s", market.Symbol())
	}

	order, err := g.findOrder(ctx, market, res.Result.OrderID, "")
	if err != nil {
		return domain.SellFill{}, err
	}
	if order == nil || order.Status != domain.OrderStatusFilled {
		return domain.SellFill{}, errors.Wrapf(domain.ErrOrderNotFilled, "sell order %s", res.Result.OrderID)
	}

	return domain.SellFill{
		OrderID:   order.ID,
		Price:     order.AvgPrice,
		Quantity:  order.Executed,
		Fees:      order.Fees,
		Timestamp: order.UpdatedAt,
	}, nil
}

func (g *BybitGateway) LimitSell(ctx context.Context, market domain.Pair, qty, price decimal.Decimal) (*domain.LimitOrder, error) {
	p := price.String()
	tif := bybit.TimeInForce("GTC")
	res, err := g.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(market.Symbol()),
		Side:        bybit.SideSell,
		OrderType:   bybit.OrderTypeLimit,
		Qty:         qty.String(),
		Price:       &p,
		TimeInForce: &tif,
	})
	if err != nil {
		if isBybitRecoverableRejection(err) {
			g.l.Warn("limit sell rejected",
				zap.String("market", market.Symbol()),
				zap.String("qty", qty.String()),
				zap.String("price", p),
				zap.Error(err))
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to place limit sell %s %s@%s", market.Symbol(), qty, price)
	}

	return &domain.LimitOrder{OrderID: res.Result.OrderID, Price: price, Quantity: qty}, nil
}

func isBybitRecoverableRejection(err error) bool {
	msg := err.Error()
	var apiErr *bybit.ErrorResponse
	if errors.As(err, &apiErr) {
		msg = apiErr.RetMsg
	}
	lower := strings.ToLower(msg)
	for _, r := range bybitRecoverableRejections {
		if strings.Contains(lower, r) {
			return true
		}
	}
	return false
}

func (g *BybitGateway) CancelOrder(ctx context.Context, market domain.Pair, orderID string) (bool, string, error) {
	res, err := g.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(market.Symbol()),
		OrderID:  &orderID,
	})
	if err != nil {
		return false, err.Error(), errors.Wrapf(err, "failed to cancel order %s", orderID)
	}

	return res.Result.OrderID == orderID, res.RetMsg, nil
}

func (g *BybitGateway) OrderStatus(ctx context.Context, market domain.Pair, orderID string) (domain.OrderReport, error) {
	order, err := g.findOrder(ctx, market, orderID, "")
	if err != nil {
		return domain.OrderReport{}, err
	}
	if order == nil {
		return domain.OrderReport{}, errors.Wrapf(domain.ErrNotFound, "bybit order %s", orderID)
	}
	return order.report(), nil
}

// OrderStatuses returns the resting orders of the market. Orders that already
// left the book are not listed and get looked up one by one by the caller.
func (g *BybitGateway) OrderStatuses(ctx context.Context, market domain.Pair, _ string) (map[string]domain.OrderReport, error) {
	symbol := bybit.SymbolV5(market.Symbol())
	limit := 50
	res, err := retrier.DoWithData(g.retrier, ctx, func(context.Context) (*bybit.V5GetOrdersResponse, error) {
		return g.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   &symbol,
			Limit:    &limit,
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list open orders for %s", market.Symbol())
	}

	reports := make(map[string]domain.OrderReport, len(res.Result.List))
	for _, o := range res.Result.List {
		order, err := newBybitOrder(o.OrderID, o.OrderLinkID, string(o.OrderStatus), o.AvgPrice, o.Price, o.CumExecQty, o.CumExecFee, o.CreatedTime, o.UpdatedTime)
		if err != nil {
			return nil, err
		}
		reports[order.ID] = order.report()
	}

	return reports, nil
}

func (g *BybitGateway) BuyByClientID(ctx context.Context, market domain.Pair, clientOrderID string) (*domain.BuyFill, error) {
	order, err := g.findOrder(ctx, market, "", clientOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil || !order.Executed.IsPositive() {
		return nil, nil
	}

	fill := order.buyFill(clientOrderID)
	return &fill, nil
}

func (g *BybitGateway) Candles(ctx context.Context, market domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	return g.collector.Candles(ctx, market, interval, limit)
}

func (g *BybitGateway) CandleAt(ctx context.Context, market domain.Pair, interval string, at time.Time) (domain.Candle, error) {
	return g.collector.CandleAt(ctx, market, interval, at)
}

// findOrder looks in the realtime (open) orders first and then in the order history.
func (g *BybitGateway) findOrder(ctx context.Context, market domain.Pair, orderID, linkID string) (*bybitOrder, error) {
	symbol := bybit.SymbolV5(market.Symbol())
	var id, link *string
	if orderID != "" {
		id = &orderID
	}
	if linkID != "" {
		link = &linkID
	}

	open, err := retrier.DoWithData(g.retrier, ctx, func(context.Context) (*bybit.V5GetOrdersResponse, error) {
		return g.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
			Category:    bybit.CategoryV5Spot,
			Symbol:      &symbol,
			OrderID:     id,
			OrderLinkID: link,
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query open orders for %s", market.Symbol())
	}
	if len(open.Result.List) > 0 {
		o := open.Result.List[0]
		return newBybitOrder(o.OrderID, o.OrderLinkID, string(o.OrderStatus), o.AvgPrice, o.Price, o.CumExecQty, o.CumExecFee, o.CreatedTime, o.UpdatedTime)
	}

	history, err := retrier.DoWithData(g.retrier, ctx, func(context.Context) (*bybit.V5GetOrdersResponse, error) {
		return g.client.V5().Order().GetHistoryOrders(bybit.V5GetHistoryOrdersParam{
			Category:    bybit.CategoryV5Spot,
			Symbol:      &symbol,
			OrderID:     id,
			OrderLinkID: link,
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query order history for %s", market.Symbol())
	}
	if len(history.Result.List) > 0 {
		o := history.Result.List[0]
		return newBybitOrder(o.OrderID, o.OrderLinkID, string(o.OrderStatus), o.AvgPrice, o.Price, o.CumExecQty, o.CumExecFee, o.CreatedTime, o.UpdatedTime)
	}

	return nil, nil
}

type bybitOrder struct {
	ID        string
	LinkID    string
	Status    domain.OrderStatus
	AvgPrice  decimal.Decimal
	Price     decimal.Decimal
	Executed  decimal.Decimal
	Fees      decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

func newBybitOrder(id, linkID, status, avgPrice, price, executed, fees, created, updated string) (*bybitOrder, error) {
	o := &bybitOrder{ID: id, LinkID: linkID, Status: bybitStatus(status)}

	var err error
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{avgPrice, &o.AvgPrice},
		{price, &o.Price},
		{executed, &o.Executed},
		{fees, &o.Fees},
	} {
		if f.raw == "" {
			continue
		}
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %q of bybit order %s", f.raw, id)
		}
	}
	if o.CreatedAt, err = parseMillis(created); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseMillis(updated); err != nil {
		return nil, err
	}

	return o, nil
}

func (o *bybitOrder) report() domain.OrderReport {
	price := o.Price
	if o.Status == domain.OrderStatusFilled && o.AvgPrice.IsPositive() {
		price = o.AvgPrice
	}
	return domain.OrderReport{
		OrderID:          o.ID,
		Status:           o.Status,
		Price:            price,
		ExecutedQuantity: o.Executed,
		UpdatedAt:        o.UpdatedAt,
	}
}

func (o *bybitOrder) buyFill(clientOrderID string) domain.BuyFill {
	return domain.BuyFill{
		OrderID:       o.ID,
		ClientOrderID: clientOrderID,
		Price:         o.AvgPrice,
		Quantity:      o.Executed,
		Fees:          o.Fees,
		Timestamp:     o.CreatedAt,
	}
}

func bybitStatus(s string) domain.OrderStatus {
	switch s {
	case "New", "PartiallyFilled", "Untriggered":
		return domain.OrderStatusNew
	case "Filled", "PartiallyFilledCanceled":
		return domain.OrderStatusFilled
	case "Cancelled", "Deactivated":
		return domain.OrderStatusCanceled
	default:
		return domain.OrderStatus(strings.ToUpper(s))
	}
}

func parseMillis(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp %q", ts)
	}
	return time.UnixMilli(ms), nil
}
