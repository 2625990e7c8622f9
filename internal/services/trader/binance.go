package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/market/collector"
	"github.com/vadiminshakov/selectivedca/pkg/retrier"
	"go.uber.org/zap"
)

const (
	binanceOrderDoesNotExist = -2013
	binanceOrdersPageLimit   = 1000

	binanceFilterPercentPrice binance.SymbolFilterType = "PERCENT_PRICE"
)

// limit sell rejections that leave the position without a sell order instead of failing the run
var binanceRecoverableRejections = []string{
	"PERCENT_PRICE",
	"MIN_NOTIONAL",
	"NOTIONAL",
	"insufficient balance",
}

// BinanceGateway trades spot markets on Binance.
type BinanceGateway struct {
	l         *zap.Logger
	client    *binance.Client
	collector *collector.Collector
	retrier   *retrier.Retrier
}

// NewBinanceGateway creates a gateway over an authenticated client.
func NewBinanceGateway(l *zap.Logger, client *binance.Client, r *retrier.Retrier) *BinanceGateway {
	if r == nil {
		r = retrier.New(retrier.WithMaxRetries(3))
	}
	return &BinanceGateway{
		l:         l.With(zap.String("exchange", string(domain.ExchangeBinance))),
		client:    client,
		collector: collector.New(collector.NewBinanceKlineProvider(client), r),
		retrier:   r,
	}
}

func (g *BinanceGateway) Name() domain.Exchange {
	return domain.ExchangeBinance
}

// MarketParams reads the symbol filters from exchange info.
func (g *BinanceGateway) MarketParams(ctx context.Context, market domain.Pair) (domain.MarketQuantizationParams, error) {
	info, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) (*binance.ExchangeInfo, error) {
		return g.client.NewExchangeInfoService().Symbol(market.Symbol()).Do(ctx)
	})
	if err != nil {
		return domain.MarketQuantizationParams{}, errors.Wrapf(err, "failed to get exchange info for %s", market.Symbol())
	}

	for i := range info.Symbols {
		if info.Symbols[i].Symbol == market.Symbol() {
			return binanceParams(market, &info.Symbols[i])
		}
	}

	return domain.MarketQuantizationParams{}, errors.Wrapf(domain.ErrNotFound, "symbol %s on binance", market.Symbol())
}

func binanceParams(market domain.Pair, s *binance.Symbol) (domain.MarketQuantizationParams, error) {
	params := domain.MarketQuantizationParams{
		Exchange: domain.ExchangeBinance,
		Market:   market,
	}

	var err error
	if f := s.PriceFilter(); f != nil {
		if params.PriceTickSize, err = decimal.NewFromString(f.TickSize); err != nil {
			return params, errors.Wrapf(err, "failed to parse tick size for %s", market.Symbol())
		}
	}
	if f := s.LotSizeFilter(); f != nil {
		if params.LotStepSize, err = decimal.NewFromString(f.StepSize); err != nil {
			return params, errors.Wrapf(err, "failed to parse step size for %s", market.Symbol())
		}
	}
	if f := s.NotionalFilter(); f != nil {
		if params.MinNotional, err = decimal.NewFromString(f.MinNotional); err != nil {
			return params, errors.Wrapf(err, "failed to parse notional for %s", market.Symbol())
		}
	} else if f := legacyFilter(s, binance.SymbolFilterTypeMinNotional); f != nil {
		raw, _ := f["minNotional"].(string)
		if params.MinNotional, err = decimal.NewFromString(raw); err != nil {
			return params, errors.Wrapf(err, "failed to parse min notional for %s", market.Symbol())
		}
	}
	if f := s.PercentPriceBySideFilter(); f != nil {
		// sells are checked against the ask side of the band
		if params.MultiplierUp, err = decimal.NewFromString(f.AskMultiplierUp); err != nil {
			return params, errors.Wrapf(err, "failed to parse ask multiplier for %s", market.Symbol())
		}
		params.AvgPriceMins = f.AveragePriceMins
	} else if f := legacyFilter(s, binanceFilterPercentPrice); f != nil {
		raw, _ := f["multiplierUp"].(string)
		if params.MultiplierUp, err = decimal.NewFromString(raw); err != nil {
			return params, errors.Wrapf(err, "failed to parse percent price multiplier for %s", market.Symbol())
		}
		if mins, err := common.ToInt(f["avgPriceMins"]); err == nil {
			params.AvgPriceMins = mins
		}
	}

	return params, params.Validate()
}

// legacyFilter finds a filter the client has no typed accessor for. Older
// symbols still carry MIN_NOTIONAL and PERCENT_PRICE.
func legacyFilter(s *binance.Symbol, filterType binance.SymbolFilterType) map[string]interface{} {
	for _, f := range s.Filters {
		if t, _ := f["filterType"].(string); t == string(filterType) {
			return f
		}
	}
	return nil
}

// CurrentPrice returns the last traded price.
func (g *BinanceGateway) CurrentPrice(ctx context.Context, market domain.Pair) (decimal.Decimal, error) {
	prices, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) ([]*binance.SymbolPrice, error) {
		return g.client.NewListPricesService().Symbol(market.Symbol()).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to get price for %s", market.Symbol())
	}

	for _, p := range prices {
		if p.Symbol == market.Symbol() {
			return decimal.NewFromString(p.Price)
		}
	}

	return decimal.Zero, errors.Errorf("no price for %s", market.Symbol())
}

// CurrentAsk returns the best ask of the order book.
func (g *BinanceGateway) CurrentAsk(ctx context.Context, market domain.Pair) (decimal.Decimal, error) {
	depth, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) (*binance.DepthResponse, error) {
		return g.client.NewDepthService().Symbol(market.Symbol()).Limit(5).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to get order book for %s", market.Symbol())
	}
	if len(depth.Asks) == 0 {
		return decimal.Zero, errors.Errorf("empty ask side for %s", market.Symbol())
	}

	return decimal.NewFromString(depth.Asks[0].Price)
}

// MarketBuy buys qty at market and aggregates the fills.
func (g *BinanceGateway) MarketBuy(ctx context.Context, market domain.Pair, qty decimal.Decimal, clientOrderID string) (domain.BuyFill, error) {
	resp, err := g.client.NewCreateOrderService().Symbol(market.Symbol()).
		Side(binance.SideTypeBuy).Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(clientOrderID).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return domain.BuyFill{}, errors.Wrapf(err, "failed to place market buy for %s", market.Symbol())
	}

	if resp.Status != binance.OrderStatusTypeFilled {
		g.l.Error("market buy not filled",
			zap.String("market", market.Symbol()),
			zap.Int64("order_id", resp.OrderID),
			zap.String("status", string(resp.Status)))
		return domain.BuyFill{}, errors.Wrapf(domain.ErrOrderNotFilled, "order %d status %s", resp.OrderID, resp.Status)
	}

	price, quantity, fees, err := aggregateFills(resp.Fills)
	if err != nil {
		return domain.BuyFill{}, err
	}

	return domain.BuyFill{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Price:         price,
		Quantity:      quantity,
		Fees:          fees,
		Timestamp:     time.UnixMilli(resp.TransactTime),
	}, nil
}

// MarketSell sells qty at market.
func (g *BinanceGateway) MarketSell(ctx context.Context, market domain.Pair, qty decimal.Decimal) (domain.SellFill, error) {
	resp, err := g.client.NewCreateOrderService().Symbol(market.Symbol()).
		Side(binance.SideTypeSell).Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return domain.SellFill{}, errors.Wrapf(err, "failed to place market sell for %s", market.Symbol())
	}
	if resp.Status != binance.OrderStatusTypeFilled {
		return domain.SellFill{}, errors.Wrapf(domain.ErrOrderNotFilled, "sell order %d status %s", resp.OrderID, resp.Status)
	}

	price, quantity, fees, err := aggregateFills(resp.Fills)
	if err != nil {
		return domain.SellFill{}, err
	}

	return domain.SellFill{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Price:     price,
		Quantity:  quantity,
		Fees:      fees,
		Timestamp: time.UnixMilli(resp.TransactTime),
	}, nil
}

func aggregateFills(fills []*binance.Fill) (price, quantity, fees decimal.Decimal, err error) {
	spent := decimal.Zero
	for i, f := range fills {
		p, err := decimal.NewFromString(f.Price)
		if err != nil {
			return price, quantity, fees, errors.Wrapf(err, "failed to parse fill price at index %d", i)
		}
		q, err := decimal.NewFromString(f.Quantity)
		if err != nil {
			return price, quantity, fees, errors.Wrapf(err, "failed to parse fill quantity at index %d", i)
		}
		c, err := decimal.NewFromString(f.Commission)
		if err != nil {
			return price, quantity, fees, errors.Wrapf(err, "failed to parse fill commission at index %d", i)
		}
		spent = spent.Add(p.Mul(q))
		quantity = quantity.Add(q)
		fees = fees.Add(c)
	}
	if !quantity.IsPositive() {
		return price, quantity, fees, errors.New("order filled without fills")
	}

	return spent.Div(quantity), quantity, fees, nil
}

// LimitSell places a GTC limit sell. Rejections by the price band, the notional
// filter or the balance check return a nil order.
func (g *BinanceGateway) LimitSell(ctx context.Context, market domain.Pair, qty, price decimal.Decimal) (*domain.LimitOrder, error) {
	resp, err := g.client.NewCreateOrderService().Symbol(market.Symbol()).
		Side(binance.SideTypeSell).Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(qty.String()).
		Price(price.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		if isRecoverableRejection(err) {
			g.l.Warn("limit sell rejected",
				zap.String("market", market.Symbol()),
				zap.String("qty", qty.String()),
				zap.String("price", price.String()),
				zap.Error(err))
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to place limit sell %s %s@%s", market.Symbol(), qty, price)
	}

	return &domain.LimitOrder{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Price:    price,
		Quantity: qty,
	}, nil
}

func isRecoverableRejection(err error) bool {
	msg := err.Error()
	if apiErr, ok := err.(*common.APIError); ok {
		msg = apiErr.Message
	}
	lower := strings.ToLower(msg)
	for _, r := range binanceRecoverableRejections {
		if strings.Contains(lower, strings.ToLower(r)) {
			return true
		}
	}
	return false
}

// CancelOrder cancels a resting order and returns the raw exchange reply.
func (g *BinanceGateway) CancelOrder(ctx context.Context, market domain.Pair, orderID string) (bool, string, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, "", errors.Wrapf(err, "invalid binance order id %q", orderID)
	}

	resp, err := g.client.NewCancelOrderService().Symbol(market.Symbol()).OrderID(id).Do(ctx)
	if err != nil {
		return false, err.Error(), errors.Wrapf(err, "failed to cancel order %s", orderID)
	}

	return resp.Status == binance.OrderStatusTypeCanceled, cancelReply(resp), nil
}

func cancelReply(resp *binance.CancelOrderResponse) string {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Sprintf("%+v", resp)
	}
	return string(raw)
}

// OrderStatus fetches one order.
func (g *BinanceGateway) OrderStatus(ctx context.Context, market domain.Pair, orderID string) (domain.OrderReport, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.OrderReport{}, errors.Wrapf(err, "invalid binance order id %q", orderID)
	}

	order, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) (*binance.Order, error) {
		return g.client.NewGetOrderService().Symbol(market.Symbol()).OrderID(id).Do(ctx)
	})
	if err != nil {
		return domain.OrderReport{}, errors.Wrapf(err, "failed to get order %s", orderID)
	}

	return binanceReport(order)
}

// OrderStatuses lists every order of the market starting at fromOrderID.
func (g *BinanceGateway) OrderStatuses(ctx context.Context, market domain.Pair, fromOrderID string) (map[string]domain.OrderReport, error) {
	id, err := strconv.ParseInt(fromOrderID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid binance order id %q", fromOrderID)
	}

	orders, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) ([]*binance.Order, error) {
		return g.client.NewListOrdersService().Symbol(market.Symbol()).OrderID(id).Limit(binanceOrdersPageLimit).Do(ctx)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list orders for %s", market.Symbol())
	}

	reports := make(map[string]domain.OrderReport, len(orders))
	for _, o := range orders {
		r, err := binanceReport(o)
		if err != nil {
			return nil, err
		}
		reports[r.OrderID] = r
	}

	g.l.Debug("retrieved order statuses",
		zap.String("market", market.Symbol()),
		zap.String("from", fromOrderID),
		zap.Int("orders", len(orders)))

	return reports, nil
}

func binanceReport(o *binance.Order) (domain.OrderReport, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return domain.OrderReport{}, errors.Wrapf(err, "failed to parse price of order %d", o.OrderID)
	}
	if stop, err := decimal.NewFromString(o.StopPrice); err == nil && stop.IsPositive() {
		price = stop
	}
	executed, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return domain.OrderReport{}, errors.Wrapf(err, "failed to parse executed quantity of order %d", o.OrderID)
	}

	return domain.OrderReport{
		OrderID:          strconv.FormatInt(o.OrderID, 10),
		Status:           binanceStatus(o.Status),
		Price:            price,
		ExecutedQuantity: executed,
		UpdatedAt:        time.UnixMilli(o.UpdateTime),
	}, nil
}

func binanceStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	// a partial fill is still resting on the book
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusNew
	default:
		return domain.OrderStatus(s)
	}
}

// BuyByClientID looks a market buy up by the client order id it was placed with.
func (g *BinanceGateway) BuyByClientID(ctx context.Context, market domain.Pair, clientOrderID string) (*domain.BuyFill, error) {
	order, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) (*binance.Order, error) {
		o, err := g.client.NewGetOrderService().
			Symbol(market.Symbol()).
			OrigClientOrderID(clientOrderID).
			Do(ctx)
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == binanceOrderDoesNotExist {
			return nil, retrier.Permanent(err)
		}
		return o, err
	})
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == binanceOrderDoesNotExist {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to query binance order status")
	}

	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse executed quantity")
	}
	if !executed.IsPositive() {
		return nil, nil
	}
	quote, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse quote quantity")
	}

	// commissions are only reported on the order response
	return &domain.BuyFill{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Price:         quote.Div(executed),
		Quantity:      executed,
		Fees:          decimal.Zero,
		Timestamp:     time.UnixMilli(order.Time),
	}, nil
}

func (g *BinanceGateway) Candles(ctx context.Context, market domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	return g.collector.Candles(ctx, market, interval, limit)
}

func (g *BinanceGateway) CandleAt(ctx context.Context, market domain.Pair, interval string, at time.Time) (domain.Candle, error) {
	return g.collector.CandleAt(ctx, market, interval, at)
}
